package breaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(3)

	for i := 0; i < 2; i++ {
		tripped, err := b.RecordFailure(ctx, "job")
		require.NoError(t, err)
		assert.False(t, tripped)
	}
	tripped, _ := b.RecordFailure(ctx, "job")
	assert.True(t, tripped)
	tripped, _ = b.RecordFailure(ctx, "job")
	assert.False(t, tripped, "only the first crossing reports a trip")

	ok, _ := b.Tripped(ctx, "job")
	assert.True(t, ok)
	other, _ := b.Tripped(ctx, "other")
	assert.False(t, other, "jobs are independent")

	st, _ := b.Status(ctx, "job")
	assert.Equal(t, 4, st.Failures)
	assert.Equal(t, 0, st.Remaining())
}

func TestMemorySuccessResetsCount(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(2)
	b.RecordFailure(ctx, "job")
	require.NoError(t, b.RecordSuccess(ctx, "job"))
	tripped, _ := b.RecordFailure(ctx, "job")
	assert.False(t, tripped)

	st, _ := b.Status(ctx, "job")
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 1, st.Remaining())
}

func TestMemoryTripIsStickyUntilReset(t *testing.T) {
	ctx := context.Background()
	b := NewMemory(1)
	b.RecordFailure(ctx, "job")
	b.RecordSuccess(ctx, "job")
	ok, _ := b.Tripped(ctx, "job")
	assert.True(t, ok)

	require.NoError(t, b.Reset(ctx, "job"))
	ok, _ = b.Tripped(ctx, "job")
	assert.False(t, ok)
}

func TestDefaultThreshold(t *testing.T) {
	st, _ := NewMemory(0).Status(context.Background(), "job")
	assert.Equal(t, DefaultThreshold, st.Threshold)
	assert.Equal(t, DefaultThreshold, NewRedis(nil, -1).threshold)
}

func TestRedisKeys(t *testing.T) {
	r := NewRedis(nil, 5)
	assert.Equal(t, "seopatch:breaker:j1:failures", r.failuresKey("j1"))
	assert.Equal(t, "seopatch:breaker:j1:tripped", r.trippedKey("j1"))
}
