package cmsg

// VecBuffer is a growable ancillary buffer that owns its storage.
type VecBuffer[C Collector] struct {
	data  []byte // len(data) is the capacity
	valid int
	limit int // 0 means unlimited
	ctx   C
}

// NewVecBuffer allocates a buffer with the given capacity and collector.
func NewVecBuffer[C Collector](capacity int, ctx C) *VecBuffer[C] {
	b := &VecBuffer[C]{ctx: ctx}
	if capacity > 0 {
		b.data = make([]byte, capacity)
	}
	return b
}

// SetLimit caps the capacity growth may reach. Zero removes the cap.
func (b *VecBuffer[C]) SetLimit(limit int) {
	b.limit = limit
}

// Limit returns the growth cap, zero if none.
func (b *VecBuffer[C]) Limit() int {
	return b.limit
}

func (b *VecBuffer[C]) Bytes() []byte    { return b.data }
func (b *VecBuffer[C]) BytesMut() []byte { return b.data }
func (b *VecBuffer[C]) ValidLen() int    { return b.valid }
func (b *VecBuffer[C]) SetLen(n int)     { b.valid = n }
func (b *VecBuffer[C]) Context() C       { return b.ctx }
func (b *VecBuffer[C]) ContextMut() C    { return b.ctx }
func (b *VecBuffer[C]) OwnsStorage()     {}

// Reserve grows the buffer so at least additional bytes follow the valid
// prefix, at least doubling the capacity when it has to move.
func (b *VecBuffer[C]) Reserve(additional int) error {
	return b.grow(additional, false)
}

// ReserveExact grows the buffer to exactly ValidLen+additional bytes when
// it has to move.
func (b *VecBuffer[C]) ReserveExact(additional int) error {
	return b.grow(additional, true)
}

func (b *VecBuffer[C]) grow(additional int, exact bool) error {
	if additional < 0 {
		return &ReserveError{Additional: additional, Exact: exact, Err: ErrAllocation}
	}
	need := b.valid + additional
	if need < b.valid {
		return &ReserveError{Additional: additional, Exact: exact, Err: ErrAllocation}
	}
	if need <= len(b.data) {
		return nil
	}
	if b.limit > 0 && need > b.limit {
		return &ReserveError{Additional: additional, Exact: exact, Err: ErrAllocation}
	}

	newCap := need
	if !exact {
		newCap = max(need, 2*len(b.data))
		if b.limit > 0 && newCap > b.limit {
			newCap = b.limit
		}
	}

	data := make([]byte, newCap)
	copy(data, b.data[:b.valid])
	b.data = data
	return nil
}

// Erased returns the buffer with its collector type erased.
func (b *VecBuffer[C]) Erased() DynOwned {
	return EraseOwned[C](b)
}
