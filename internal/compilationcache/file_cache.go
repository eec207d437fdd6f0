package compilationcache

import (
	"encoding/hex"
	"io"
	"os"
	"path"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// NewFileCache returns a new Cache storing lz4 compressed entries under dir. The directory is created
// on the first Add.
func NewFileCache(dir string) Cache {
	return newFileCache(dir)
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache persists each entry into one lz4 frame file named after the hex key.
type fileCache struct {
	dirPath string
	mux     sync.RWMutex
}

type fileReadCloser struct {
	file *os.File
	zr   *lz4.Reader
	fc   *fileCache
}

func (f *fileCache) path(key Key) string {
	return path.Join(f.dirPath, hex.EncodeToString(key[:]))
}

func (f *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	f.mux.RLock()
	unlock := f.mux.RUnlock
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	file, err := os.Open(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrap(err, "open cache entry")
	}
	// Unlocked by fileReadCloser.Close.
	unlock = nil
	return &fileReadCloser{file: file, zr: lz4.NewReader(file), fc: f}, true, nil
}

// Read decompresses the entry.
func (f *fileReadCloser) Read(p []byte) (int, error) {
	return f.zr.Read(p)
}

// Close closes the file and releases the read lock taken by Get.
func (f *fileReadCloser) Close() (err error) {
	defer f.fc.mux.RUnlock()
	return f.file.Close()
}

func (f *fileCache) Add(key Key, content io.Reader) (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	if err = mkdir(f.dirPath); err != nil {
		return err
	}

	// Write to a temporary file first so that a concurrent process never sees a truncated entry.
	p := f.path(key)
	file, err := os.CreateTemp(f.dirPath, path.Base(p)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create cache entry")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(file.Name())
		}
	}()

	zw := lz4.NewWriter(file)
	if _, err = io.Copy(zw, content); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "compress cache entry")
	}
	if err = zw.Close(); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "flush cache entry")
	}
	if err = file.Close(); err != nil {
		return errors.Wrap(err, "close cache entry")
	}
	return errors.Wrap(os.Rename(file.Name(), p), "commit cache entry")
}

func (f *fileCache) Delete(key Key) (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	err = os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return errors.Wrap(err, "delete cache entry")
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		if err = os.MkdirAll(dirname, 0o700); err != nil {
			return errors.Wrapf(err, "fileCache: create dir %s", dirname)
		}
	} else if err != nil {
		return errors.Wrap(err, "fileCache")
	} else if !st.IsDir() {
		return errors.Errorf("fileCache: expected dir at %s", dirname)
	}
	return nil
}
