package envelope

import "github.com/aio-go/aio/internal/cache/mcache"

// defaultStorage is the Storage a Context uses when no WithStorage option
// replaced it. It is a thin adapter over the size-classed byte-slice pool so that the
// common, unconfigured path still avoids a bare make([]byte, n) per
// envelope.
type defaultStorage struct{}

// DefaultStorage is the package-wide Storage used whenever a call site has
// no more specific allocator to offer.
var DefaultStorage Storage = defaultStorage{}

func (defaultStorage) Allocate(size int) []byte { return mcache.Malloc(size) }

func (defaultStorage) Free(b []byte) { mcache.Free(b) }
