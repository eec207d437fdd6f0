package compilationcache

import (
	"crypto/sha256"
	"io"
)

// Cache is the interface for compilation caches. Here the cached content is the serialized program
// binary produced by the compiler, so that a program built once can be loaded again across processes
// without selecting and allocating its kernels.
//
// Since these methods are concurrently accessed, the implementations must be Goroutine-safe.
//
// See NewFileCache for the example implementation.
type Cache interface {
	// Get returns the content passed to Add for key. Returns ok=true if the content was found on the
	// cache. In the case of not-found, this returns ok=false with err=nil. The caller closes content.
	//
	// Note: the returned content does not go through compilation, the caller is expected to validate it
	// when decoding, and to Delete the key when validation fails.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content for key, overwriting any previous entry.
	Add(key Key, content io.Reader) (err error)
	// Delete purges the entry of key, if any.
	Delete(key Key) (err error)
}

// Key represents the 256-bit unique identifier assigned to each cache content.
type Key = [sha256.Size]byte

// NewKey returns the key of the given identity parts, hashed in order.
func NewKey(parts ...[]byte) Key {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var k Key
	h.Sum(k[:0])
	return k
}
