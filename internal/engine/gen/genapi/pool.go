package genapi

const arenaPageSize = 128

// Handle is the dense index of an item allocated from an Arena. Handles are only
// meaningful for the Arena that produced them, and are invalidated by Arena.Reset.
type Handle int32

// HandleInvalid is the zero-value-safe sentinel for "no item".
const HandleInvalid Handle = -1

// Arena allocates T in fixed size pages so that items never move and can be
// referenced either by pointer or by Handle. Items are never freed individually;
// the whole arena is recycled by Reset once a function compile is done.
type Arena[T any] struct {
	pages []*[arenaPageSize]T
	// next is the index of the next free slot in the last page.
	next, allocated int
}

// NewArena returns a ready-to-use Arena.
func NewArena[T any]() Arena[T] {
	var ret Arena[T]
	ret.Reset()
	return ret
}

// Len returns the number of items currently allocated in the arena.
func (a *Arena[T]) Len() int {
	return a.allocated
}

// Allocate returns a zeroed T and its handle.
func (a *Arena[T]) Allocate() (*T, Handle) {
	if a.next == arenaPageSize {
		if n := len(a.pages); n < cap(a.pages) && a.pages[:n+1][n] != nil {
			// Reuse the page kept from before the last Reset.
			a.pages = a.pages[:n+1]
		} else {
			a.pages = append(a.pages, new([arenaPageSize]T))
		}
		a.next = 0
	}
	ret := &a.pages[len(a.pages)-1][a.next]
	h := Handle(a.allocated)
	a.next++
	a.allocated++
	return ret, h
}

// At returns the item for the given handle.
func (a *Arena[T]) At(h Handle) *T {
	return &a.pages[int(h)/arenaPageSize][int(h)%arenaPageSize]
}

// Reset zeroes every item and makes the arena reusable without freeing the pages.
func (a *Arena[T]) Reset() {
	var zero T
	for _, p := range a.pages {
		for i := range p {
			p[i] = zero
		}
	}
	a.pages = a.pages[:0]
	a.next = arenaPageSize
	a.allocated = 0
}
