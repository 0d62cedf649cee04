// Package fixture provides deterministic, dependency-free
// implementations of the operator interfaces, for unit tests and for
// the smoke-test CLI mode. Real model wrappers (SAM2, HaMeR,
// FoundationPose, DexRetarget) are out of scope (spec.md §1); these
// stand in for them so the Driver and Compute Actor Pool can be
// exercised end-to-end without GPUs or checkpoints.
//
// Grounded on egoworld/tests/test_pipeline_smoke.py and
// test_env_smoke.py, which gate a no-model smoke path behind
// EGOWORLD_PIPELINE_SMOKE/EGOWORLD_ENV_SMOKE; and on
// operators/scenedetect_op.py/base.py for the (init, run) operator
// shape being faked here.
package fixture

import (
	"context"
	"math"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/videotime"
)

// VideoProbe reports a fixed fps/resolution regardless of path,
// useful for tests that don't want to shell out to ffprobe.
type VideoProbe struct {
	FPS       float64
	Width     int
	Height    int
	DurationS float64
}

func (p VideoProbe) Probe(ctx context.Context, path string) (operator.VideoInfo, error) {
	frameCount := videotime.FramesFromSeconds(p.DurationS, p.FPS)
	return operator.VideoInfo{
		FPS:        p.FPS,
		Width:      p.Width,
		Height:     p.Height,
		FrameCount: frameCount,
		DurationS:  p.DurationS,
	}, nil
}

// SceneDetector returns one full-clip scene (reported as the fallback
// path) when cfg.FallbackFullClip is set, and no scenes otherwise,
// matching SceneDetectConfig.method == "none" in the source
// (detect_scenes returns [(0, duration)] with fallback_full_clip=true).
type SceneDetector struct{}

func (SceneDetector) Detect(ctx context.Context, path string, durationS float64, cfg config.SceneDetect) ([]operator.Scene, bool, error) {
	if !cfg.FallbackFullClip {
		return nil, false, nil
	}
	return []operator.Scene{{StartS: 0, EndS: durationS}}, true, nil
}

// Segmentation produces an empty (all-zero) 1x1 mask for every frame
// of the clip at FPS, so each resulting mask_rle is a single zero run.
type Segmentation struct {
	FPS float64
}

func (s Segmentation) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error) {
	indices, timestamps := sampleFrames(startS, endS, s.FPS)
	masks := make([][][]uint8, len(indices))
	for i := range masks {
		masks[i] = [][]uint8{{0}}
	}
	return clip.SegmentationResult{
		MaskEncoding:    "rle",
		EmptyMaskRate:   1.0,
		StartS:          startS,
		EndS:            endS,
		VideoPath:       videoPath,
		FrameMasks:      masks,
		FrameIndices:    indices,
		FrameTimestamps: timestamps,
	}, nil
}

// HandPose produces a fixed zero-vector pose per sampled frame.
type HandPose struct {
	FPS   float64
	DimsN int
}

func (h HandPose) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.HandPoseResult, error) {
	indices, timestamps := sampleFrames(startS, endS, h.FPS)
	poses := make([][]float32, len(indices))
	for i := range poses {
		poses[i] = make([]float32, h.DimsN)
	}
	return clip.HandPoseResult{FrameIndices: indices, FrameTimestamps: timestamps, Poses: poses}, nil
}

// ObjectPose produces a fixed zero-vector pose per sampled frame.
type ObjectPose struct {
	FPS   float64
	DimsN int
}

func (o ObjectPose) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.ObjectPoseResult, error) {
	indices, timestamps := sampleFrames(startS, endS, o.FPS)
	poses := make([][]float32, len(indices))
	for i := range poses {
		poses[i] = make([]float32, o.DimsN)
	}
	return clip.ObjectPoseResult{FrameIndices: indices, FrameTimestamps: timestamps, Poses: poses}, nil
}

// Retargeting passes the hand-pose frames through unchanged, matching
// dex_retarget_op.py's thin wrapper for the fixture path.
type Retargeting struct{}

func (Retargeting) Run(ctx context.Context, hand clip.HandPoseResult) (clip.MappingResult, error) {
	return clip.MappingResult{
		FrameIndices:    hand.FrameIndices,
		FrameTimestamps: hand.FrameTimestamps,
		Poses:           hand.Poses,
	}, nil
}

func sampleFrames(startS, endS, fps float64) ([]int, []float64) {
	startFrame := videotime.FramesFromSeconds(startS, fps)
	endFrame := videotime.FramesFromSeconds(endS, fps)
	n := endFrame - startFrame
	if n <= 0 {
		return nil, nil
	}
	indices := make([]int, n)
	timestamps := make([]float64, n)
	for i := 0; i < n; i++ {
		frame := startFrame + i
		indices[i] = frame - startFrame
		timestamps[i] = math.Round(videotime.SecondsFromFrames(frame, fps)*1e6) / 1e6
	}
	return indices, timestamps
}
