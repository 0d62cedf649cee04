package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5*time.Second, p.NextDelay(1))
	assert.Equal(t, 15*time.Second, p.NextDelay(2))
	assert.Equal(t, 45*time.Second, p.NextDelay(3))
}

func TestCanRetry(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.CanRetry(1))
	assert.True(t, p.CanRetry(3))
	assert.False(t, p.CanRetry(4))
}

func TestFakeClock_RecordsSleeps(t *testing.T) {
	start := time.Unix(0, 0)
	clk := NewFakeClock(start)

	p := DefaultPolicy()
	clk.Sleep(context.Background(), p.NextDelay(1))

	require.Len(t, clk.Sleeps(), 1)
	assert.Equal(t, 5*time.Second, clk.Sleeps()[0])
	assert.Equal(t, start.Add(5*time.Second), clk.Now())
}
