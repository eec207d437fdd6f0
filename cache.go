package gbe

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gbe-go/gbe/internal/compilationcache"
	"github.com/gbe-go/gbe/ir"
)

// binaryVersion is bumped whenever the program binary or the generated code changes, so that entries
// written by an older compiler are not reused.
const binaryVersion = 1

// Cache is the configuration for caching compiled programs across Compiler instances and processes.
type Cache interface {
	// WithCompilationCacheDirName configures the destination directory of the compilation cache.
	//
	// If the dirname doesn't exist, this creates the directory. Entries are stored in a sub-directory
	// specific to the binary format version, holding one lz4 compressed program binary per entry.
	//
	// Note: The embedder must safeguard this directory from external changes. A corrupted entry is
	// detected when decoding, deleted, and the program compiled again.
	WithCompilationCacheDirName(dir string) error
}

// NewCache returns a new Cache to be passed to Config.WithCache. It caches nothing until
// WithCompilationCacheDirName is called.
func NewCache() Cache {
	return &cache{}
}

// NewCacheWithDir returns a new Cache persisting its entries into dirname.
func NewCacheWithDir(dirname string) (Cache, error) {
	c := &cache{}
	if err := c.WithCompilationCacheDirName(dirname); err != nil {
		return nil, err
	}
	return c, nil
}

// cache implements Cache interface.
type cache struct {
	fileCache compilationcache.Cache
}

// WithCompilationCacheDirName implements the same method on the Cache interface.
func (c *cache) WithCompilationCacheDirName(dir string) error {
	// Resolve a potentially relative directory into an absolute one.
	dir, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "cache dir")
	}

	// Ensure the user-supplied directory.
	if err = mkdir(dir); err != nil {
		return err
	}

	// Create a version-specific directory to avoid conflicts.
	dirname := path.Join(dir, "gbe-v"+strconv.Itoa(binaryVersion))
	if err = mkdir(dirname); err != nil {
		return err
	}

	c.fileCache = compilationcache.NewFileCache(dirname)
	return nil
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		// If the directory not found, create the cache dir.
		if err = os.MkdirAll(dirname, 0o700); err != nil {
			return errors.Wrapf(err, "create directory %s", dirname)
		}
	} else if err != nil {
		return errors.WithStack(err)
	} else if !st.IsDir() {
		return errors.Errorf("%s is not dir", dirname)
	}
	return nil
}

// cacheKey identifies unit compiled with cfg.
func cacheKey(cfg *config, unit *ir.Unit) compilationcache.Key {
	parts := [][]byte{cfg.identity()}
	if c := unit.Constants; c != nil {
		parts = append(parts, c.Data)
		for _, k := range c.Constants {
			parts = append(parts, []byte(k.Name+"@"+strconv.FormatUint(uint64(k.Offset), 10)))
		}
	}
	for _, fn := range unit.Functions {
		parts = append(parts, []byte(fn.String()))
	}
	return compilationcache.NewKey(parts...)
}

// get returns the cached program of key. An entry which fails to decode is deleted.
func (c *cache) get(key compilationcache.Key, log logrus.FieldLogger) (*Program, bool) {
	if c.fileCache == nil {
		return nil, false
	}
	content, ok, err := c.fileCache.Get(key)
	if err != nil {
		log.WithError(err).Warn("cannot read the compilation cache")
		return nil, false
	} else if !ok {
		return nil, false
	}
	b, err := io.ReadAll(content)
	_ = content.Close()
	var p *Program
	if err == nil {
		p, err = DecodeProgram(b)
	}
	if err != nil {
		log.WithError(err).Warn("deleting invalid compilation cache entry")
		if err = c.fileCache.Delete(key); err != nil {
			log.WithError(err).Warn("cannot delete the compilation cache entry")
		}
		return nil, false
	}
	return p, true
}

func (c *cache) add(key compilationcache.Key, p *Program, log logrus.FieldLogger) {
	if c.fileCache == nil {
		return
	}
	b, err := p.MarshalBinary()
	if err == nil {
		err = c.fileCache.Add(key, bytes.NewReader(b))
	}
	if err != nil {
		log.WithError(err).Warn("cannot write the compilation cache")
	}
}
