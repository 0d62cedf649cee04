// Package operator declares the external collaborator interfaces this
// pipeline treats as opaque black boxes: video probing, scene
// detection, and the per-clip perception chain (segmentation ->
// hand-pose -> object-pose -> retargeting). Manifest construction and
// the Compute Actor Pool depend only on these interfaces; concrete
// implementations (real model wrappers, or the deterministic fixtures
// in ./fixture) are supplied by the caller.
//
// Grounded on spec.md §6's operator contract and on egoworld's
// operators/ package (base.Operator, sam2_op/groundingdino_op/
// dex_retarget_op/fast3r_op/foundationpose_op/scenedetect_op), each a
// thin (init params, run) wrapper in the source; replaced per spec.md
// §9 with tagged result types instead of dict returns.
package operator

import (
	"context"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/config"
)

// VideoInfo is what VideoProbe reports about a source video file.
type VideoInfo struct {
	FPS        float64
	Width      int
	Height     int
	FrameCount int
	DurationS  float64
}

// Scene is a [startS, endS] interval detected within a video.
type Scene struct {
	StartS float64
	EndS   float64
}

// VideoProbe inspects a video file and reports its technical
// parameters, replacing egoworld/utils/video.py's get_video_info.
type VideoProbe interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
}

// SceneDetector splits a video into candidate clip intervals,
// replacing egoworld/manifests/build_manifest.py's detect_scenes
// (wrapped by operators/scenedetect_op.py). fallbackUsed reports
// whether scene detection failed or was disabled and a single
// full-clip scene was substituted per cfg.FallbackFullClip.
type SceneDetector interface {
	Detect(ctx context.Context, path string, durationS float64, cfg config.SceneDetect) (scenes []Scene, fallbackUsed bool, err error)
}

// Segmentation is the first stage of the per-clip operator chain,
// replacing egoworld/operators/sam2_op.py's Operator.run.
type Segmentation interface {
	Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error)
}

// HandPose runs after Segmentation, replacing the HaMeR wrapper
// implied by egoworld/config.py's OperatorsConfig.hamer.
type HandPose interface {
	Run(ctx context.Context, videoPath string, startS, endS float64) (clip.HandPoseResult, error)
}

// ObjectPose runs after HandPose in the operator chain, replacing
// egoworld/operators/foundationpose_op.py.
type ObjectPose interface {
	Run(ctx context.Context, videoPath string, startS, endS float64) (clip.ObjectPoseResult, error)
}

// Retargeting consumes the hand-pose result, replacing
// egoworld/operators/dex_retarget_op.py.
type Retargeting interface {
	Run(ctx context.Context, hand clip.HandPoseResult) (clip.MappingResult, error)
}

// Chain bundles one worker's operator set; the Compute Actor Pool
// holds one Chain per GPU worker and runs it in fixed order per
// spec.md §4.G.
type Chain struct {
	Segmentation Segmentation
	HandPose     HandPose
	ObjectPose   ObjectPose
	Retargeting  Retargeting
}

// Run executes the fixed-order operator chain for one clip and
// assembles the composite Result the Writer consumes.
func (c Chain) Run(ctx context.Context, cl clip.Clip) (clip.Result, error) {
	masks, err := c.Segmentation.Run(ctx, cl.VideoPath, cl.StartS, cl.EndS)
	if err != nil {
		return clip.Result{}, err
	}

	hand, err := c.HandPose.Run(ctx, cl.VideoPath, cl.StartS, cl.EndS)
	if err != nil {
		return clip.Result{}, err
	}

	object, err := c.ObjectPose.Run(ctx, cl.VideoPath, cl.StartS, cl.EndS)
	if err != nil {
		return clip.Result{}, err
	}

	mapping, err := c.Retargeting.Run(ctx, hand)
	if err != nil {
		return clip.Result{}, err
	}

	return clip.Result{
		Clip:       cl,
		Masks:      masks,
		HandPose:   hand,
		ObjectPose: object,
		Mapping:    mapping,
	}, nil
}
