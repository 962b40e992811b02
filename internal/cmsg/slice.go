package cmsg

// SliceBuffer is a fixed-size ancillary buffer over a caller-owned slice.
// It never grows and does not satisfy DynOwned.
type SliceBuffer[C Collector] struct {
	FixedSize
	data  []byte
	valid int
	ctx   C
}

// NewSliceBuffer wraps buf, using its full capacity.
func NewSliceBuffer[C Collector](buf []byte, ctx C) *SliceBuffer[C] {
	return &SliceBuffer[C]{data: buf[:cap(buf)], ctx: ctx}
}

func (b *SliceBuffer[C]) Bytes() []byte    { return b.data }
func (b *SliceBuffer[C]) BytesMut() []byte { return b.data }
func (b *SliceBuffer[C]) ValidLen() int    { return b.valid }
func (b *SliceBuffer[C]) SetLen(n int)     { b.valid = n }
func (b *SliceBuffer[C]) Context() C       { return b.ctx }
func (b *SliceBuffer[C]) ContextMut() C    { return b.ctx }

// Erased returns the buffer with its collector type erased.
func (b *SliceBuffer[C]) Erased() Dyn {
	return Erase[C](b)
}
