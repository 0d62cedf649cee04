package operator_test

import (
	"context"
	"testing"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/operator/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_RunInFixedOrder(t *testing.T) {
	chain := operator.Chain{
		Segmentation: fixture.Segmentation{FPS: 30},
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}

	result, err := chain.Run(context.Background(), clip.Clip{
		ClipID:    "video-abc-000000000-000000030-deadbeef",
		VideoID:   "video-abc",
		VideoPath: "/tmp/a.mp4",
		StartS:    0,
		EndS:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, "video-abc-000000000-000000030-deadbeef", result.Clip.ClipID)
	assert.Len(t, result.Masks.FrameMasks, 30)
	assert.Equal(t, result.HandPose.FrameIndices, result.Mapping.FrameIndices)
}
