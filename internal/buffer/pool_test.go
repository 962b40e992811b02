package buffer

import (
	"testing"

	"github.com/SkynetNext/localipc/internal/cmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadPool(t *testing.T) {
	buf := Get()
	assert.Len(t, buf, PayloadSize)
	Put(buf[:10])
	Put(make([]byte, 16)) // too small, dropped

	assert.Len(t, Get(), PayloadSize)
}

func TestAncillaryPool_ResetsOnPut(t *testing.T) {
	b := GetAncillary(64, 1024)
	require.GreaterOrEqual(t, cmsg.Spare(b), 64)

	b.SetLen(16)
	b.ContextMut().Collect(cmsg.Facts{Rights: 2, Truncated: true})
	PutAncillary(b)

	again := GetAncillary(32, 1024)
	assert.Zero(t, again.ValidLen())
	assert.Equal(t, cmsg.Facts{}, again.Context().Facts())
	assert.GreaterOrEqual(t, cmsg.Spare(again), 32)
	assert.Equal(t, 1024, again.Limit())
}

func TestAncillaryPool_RespectsLimit(t *testing.T) {
	b := GetAncillary(16, 32)
	assert.Error(t, b.Reserve(2048))
	PutAncillary(nil)
}
