package cmsg

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedOnly implements Buffer without overriding Reserve.
type fixedOnly struct {
	FixedSize
	data  [64]byte
	valid int
	ctx   RecvContext
}

func (f *fixedOnly) Bytes() []byte            { return f.data[:] }
func (f *fixedOnly) BytesMut() []byte         { return f.data[:] }
func (f *fixedOnly) ValidLen() int            { return f.valid }
func (f *fixedOnly) SetLen(n int)             { f.valid = n }
func (f *fixedOnly) Context() *RecvContext    { return &f.ctx }
func (f *fixedOnly) ContextMut() *RecvContext { return &f.ctx }

func (f *fixedOnly) region() (*byte, int) {
	return unsafe.SliceData(f.data[:]), len(f.data)
}

func regionOf(s Storage) (*byte, int) {
	b := s.Bytes()
	return unsafe.SliceData(b), len(b)
}

func mutRegionOf(s Storage) (*byte, int) {
	b := s.BytesMut()
	return unsafe.SliceData(b), len(b)
}

func TestSetLenIsStable(t *testing.T) {
	buffers := map[string]Dyn{
		"vec":   NewVecBuffer(128, &RecvContext{}).Erased(),
		"slice": NewSliceBuffer(make([]byte, 128), NoContext{}).Erased(),
		"fixed": Erase[*RecvContext](&fixedOnly{}),
	}

	for name, b := range buffers {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, 1, 17, 64, 3, 0, 64} {
				b.SetLen(n)
				for i := 0; i < 3; i++ {
					assert.Equal(t, n, b.ValidLen())
				}
			}
		})
	}
}

func TestBytesAndBytesMutAgree(t *testing.T) {
	vec := NewVecBuffer(32, NoContext{})
	for i := 0; i < 4; i++ {
		baseRO, lenRO := regionOf(vec)
		baseRW, lenRW := mutRegionOf(vec)
		assert.Same(t, baseRO, baseRW)
		assert.Equal(t, lenRO, lenRW)
		vec.SetLen(i * 4)
		_ = vec.Context()
	}

	fixed := &fixedOnly{}
	base, size := fixed.region()
	gotBase, gotSize := mutRegionOf(fixed)
	assert.Same(t, base, gotBase)
	assert.Equal(t, size, gotSize)
}

func TestDefaultReserveIsUnsupported(t *testing.T) {
	fixed := &fixedOnly{}
	fixed.SetLen(10)
	base, size := regionOf(fixed)

	for _, reserve := range []func(int) error{fixed.Reserve, fixed.ReserveExact} {
		err := reserve(1024)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReserveUnsupported)

		var rerr *ReserveError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, 1024, rerr.Additional)

		gotBase, gotSize := regionOf(fixed)
		assert.Same(t, base, gotBase)
		assert.Equal(t, size, gotSize)
		assert.Equal(t, 10, fixed.ValidLen())
	}
}

func TestVecBufferReserveKeepsValidPrefix(t *testing.T) {
	vec := NewVecBuffer(8, &RecvContext{})
	copy(vec.BytesMut(), "abcdefgh")
	vec.SetLen(6)
	before, _ := regionOf(vec)

	// Enough room already: nothing moves.
	require.NoError(t, vec.Reserve(2))
	still, _ := regionOf(vec)
	assert.Same(t, before, still)

	require.NoError(t, vec.Reserve(100))
	after, size := regionOf(vec)
	assert.NotSame(t, before, after)
	assert.GreaterOrEqual(t, size, 106)
	assert.Equal(t, 6, vec.ValidLen())
	assert.Equal(t, "abcdef", string(Valid(vec)))

	require.NoError(t, vec.ReserveExact(500))
	assert.Equal(t, 506, Capacity(vec))
	assert.Equal(t, "abcdef", string(Valid(vec)))
}

func TestVecBufferLimit(t *testing.T) {
	vec := NewVecBuffer(40, NoContext{})
	vec.SetLimit(64)
	vec.SetLen(40)
	base, size := regionOf(vec)

	err := vec.Reserve(100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocation)
	gotBase, gotSize := regionOf(vec)
	assert.Same(t, base, gotBase)
	assert.Equal(t, size, gotSize)
	assert.Equal(t, 40, vec.ValidLen())

	// Doubling is clamped to the limit.
	require.NoError(t, vec.Reserve(10))
	assert.Equal(t, 64, Capacity(vec))
	assert.Equal(t, 40, vec.ValidLen())
}

func TestSplitAtInit(t *testing.T) {
	vec := NewVecBuffer(16, NoContext{})
	copy(vec.BytesMut(), "0123")
	vec.SetLen(4)

	valid, spare := SplitAtInit(vec)
	assert.Equal(t, "0123", string(valid))
	assert.Len(t, spare, 12)
	assert.Equal(t, 4, cap(valid))

	_ = append(valid, 'x')
	assert.Equal(t, byte(0), vec.Bytes()[4], "appending to the prefix must not reach the buffer")

	require.NoError(t, EnsureSpare(vec, 12))
	assert.Equal(t, 16, Capacity(vec))
	require.NoError(t, EnsureSpare(vec, 13))
	assert.GreaterOrEqual(t, Spare(vec), 13)
}

func TestCollectorIsDisjointFromBytes(t *testing.T) {
	vec := NewVecBuffer(256, &RecvContext{})
	assert.True(t, Disjoint(vec.Erased()))

	fixed := &fixedOnly{}
	assert.True(t, Disjoint(Erase[*RecvContext](fixed)))

	// A zero-sized collector never counts as overlapping.
	assert.True(t, Disjoint(NewSliceBuffer(make([]byte, 8), NoContext{}).Erased()))
}

func TestEraseForwardsCollector(t *testing.T) {
	ctx := &RecvContext{}
	vec := NewVecBuffer(8, ctx)
	d := vec.Erased()

	assert.Same(t, ctx, d.Context())
	assert.Same(t, ctx, d.ContextMut())

	d.ContextMut().Collect(Facts{Rights: 2, Messages: 1})
	assert.Equal(t, 2, vec.Context().Facts().Rights)

	// A buffer already typed over Collector is not wrapped again.
	plain := NewVecBuffer[Collector](8, &RecvContext{})
	assert.Same(t, plain, Erase[Collector](plain))

	Reset(d)
	assert.Zero(t, d.ValidLen())
	assert.Equal(t, Facts{}, ctx.Facts())
}

func TestSliceBufferIsNotOwned(t *testing.T) {
	var d Dyn = NewSliceBuffer(make([]byte, 8), NoContext{}).Erased()
	_, owned := d.(DynOwned)
	assert.False(t, owned)

	var v Dyn = NewVecBuffer(8, NoContext{}).Erased()
	_, owned = v.(DynOwned)
	assert.True(t, owned)
}

func TestRecvContextAccumulates(t *testing.T) {
	ctx := &RecvContext{}
	ctx.Collect(Facts{Flags: 0x1, Messages: 1, Rights: 3})
	ctx.Collect(Facts{Flags: 0x4, Truncated: true, Messages: 2, Credentials: 1})

	f := ctx.Facts()
	assert.Equal(t, 0x5, f.Flags)
	assert.True(t, f.Truncated)
	assert.Equal(t, 3, f.Messages)
	assert.Equal(t, 3, f.Rights)
	assert.Equal(t, 1, f.Credentials)
	assert.Equal(t, 2, ctx.Receives())

	ctx.Clear()
	assert.Equal(t, Facts{}, ctx.Facts())
	assert.Zero(t, ctx.Receives())
}
