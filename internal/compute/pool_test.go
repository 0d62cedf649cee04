package compute

import (
	"testing"
	"time"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/operator/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureChain() operator.Chain {
	return operator.Chain{
		Segmentation: fixture.Segmentation{FPS: 30},
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
}

func TestPool_RoundRobinDispatch(t *testing.T) {
	pool := New([]operator.Chain{newFixtureChain(), newFixtureChain()})
	defer pool.Stop()

	pool.Submit(0, clip.Task{Clip: clip.Clip{ClipID: "a", StartS: 0, EndS: 1}})
	pool.Submit(1, clip.Task{Clip: clip.Clip{ClipID: "b", StartS: 0, EndS: 1}})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case outcome := <-pool.Outcomes():
			require.NoError(t, outcome.Err)
			seen[outcome.Task.Clip.ClipID] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for compute outcome")
		}
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestPool_NumWorkers(t *testing.T) {
	pool := New([]operator.Chain{newFixtureChain(), newFixtureChain(), newFixtureChain()})
	defer pool.Stop()
	assert.Equal(t, 3, pool.NumWorkers())
}
