package cmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// movingBuffer reallocates on SetLen, which the contract forbids.
type movingBuffer struct {
	FixedSize
	data  []byte
	valid int
}

func (m *movingBuffer) Bytes() []byte         { return m.data }
func (m *movingBuffer) BytesMut() []byte      { return m.data }
func (m *movingBuffer) ValidLen() int         { return m.valid }
func (m *movingBuffer) Context() NoContext    { return NoContext{} }
func (m *movingBuffer) ContextMut() NoContext { return NoContext{} }

func (m *movingBuffer) SetLen(n int) {
	m.valid = n
	m.data = append([]byte(nil), m.data...)
}

func TestCheckedAcceptsConformingBuffer(t *testing.T) {
	c := Check[*RecvContext](NewVecBuffer(16, &RecvContext{}))

	c.SetLen(8)
	assert.Equal(t, 8, c.ValidLen())
	_ = c.Bytes()
	_ = c.BytesMut()
	c.ContextMut().Collect(Facts{Messages: 1})
	assert.Equal(t, 1, c.Context().Facts().Messages)

	// Growth is the one sanctioned way to move.
	require.NoError(t, c.Reserve(64))
	assert.GreaterOrEqual(t, Spare(c), 64)
	assert.Equal(t, 8, c.ValidLen())
}

func TestCheckedCatchesMovingBuffer(t *testing.T) {
	c := Check[NoContext](&movingBuffer{data: make([]byte, 8)})
	assert.Panics(t, func() { c.SetLen(1) })
}

func TestCheckedCatchesOversizedLength(t *testing.T) {
	c := Check[NoContext](NewSliceBuffer(make([]byte, 4), NoContext{}))
	assert.Panics(t, func() { c.SetLen(5) })
}

func TestCheckedFailedReserveLeavesBuffer(t *testing.T) {
	c := Check[NoContext](NewSliceBuffer(make([]byte, 4), NoContext{}))
	c.SetLen(2)
	err := c.ReserveExact(100)
	assert.ErrorIs(t, err, ErrReserveUnsupported)
	assert.Equal(t, 2, c.ValidLen())
}
