package buffer

import (
	"sync"

	"github.com/SkynetNext/localipc/internal/cmsg"
)

// PayloadSize is the size of pooled payload buffers.
const PayloadSize = 64 * 1024

// Pool provides a pool of payload buffers for reuse
var Pool = sync.Pool{
	New: func() interface{} {
		return make([]byte, PayloadSize)
	},
}

// Get retrieves a payload buffer from the pool
func Get() []byte {
	return Pool.Get().([]byte)
}

// Put returns a payload buffer to the pool
func Put(buf []byte) {
	if cap(buf) >= PayloadSize {
		Pool.Put(buf[:cap(buf)])
	}
}

// Ancillary is a growable receive buffer for control messages.
type Ancillary = cmsg.VecBuffer[*cmsg.RecvContext]

var ancillaryPool sync.Pool

// GetAncillary returns an empty ancillary buffer with at least initial
// bytes of room that never grows past limit (0 means unlimited).
func GetAncillary(initial, limit int) *Ancillary {
	if b, ok := ancillaryPool.Get().(*Ancillary); ok {
		b.SetLimit(limit)
		if err := b.ReserveExact(initial); err == nil {
			return b
		}
	}
	b := cmsg.NewVecBuffer[*cmsg.RecvContext](initial, &cmsg.RecvContext{})
	b.SetLimit(limit)
	return b
}

// PutAncillary empties b and returns it to the pool. Descriptors it
// carried must have been taken or closed by the caller.
func PutAncillary(b *Ancillary) {
	if b == nil {
		return
	}
	cmsg.Reset(b.Erased())
	ancillaryPool.Put(b)
}
