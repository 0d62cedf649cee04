// Package scenedetect implements operator.SceneDetector's non-model
// methods: "none" (a single full-clip scene) and "fixed" (uninterrupted
// windows of cfg.MinSceneLenS). Content-aware cut detection
// (egoworld/config.py's SceneDetectConfig.method == "scenedetect",
// backed by PySceneDetect) has no Go equivalent anywhere in the pack and
// is out of scope here; both supported methods are deterministic,
// dependency-free splits a caller selects via cfg.Method.
package scenedetect

import (
	"context"
	"fmt"

	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/operator"
)

// Detector implements operator.SceneDetector over cfg.Method.
type Detector struct{}

func (Detector) Detect(ctx context.Context, path string, durationS float64, cfg config.SceneDetect) ([]operator.Scene, bool, error) {
	switch cfg.Method {
	case "", "none":
		if !cfg.FallbackFullClip {
			return nil, false, nil
		}
		return []operator.Scene{{StartS: 0, EndS: durationS}}, true, nil

	case "fixed":
		scenes := fixedWindows(durationS, cfg.MinSceneLenS)
		if len(scenes) == 0 && cfg.FallbackFullClip {
			return []operator.Scene{{StartS: 0, EndS: durationS}}, true, nil
		}
		return scenes, false, nil

	default:
		return nil, false, fmt.Errorf("scenedetect: unknown method %q", cfg.Method)
	}
}

// fixedWindows splits [0, durationS) into consecutive windows of
// windowS, the last window absorbing any remainder shorter than
// windowS so no scene is ever dropped.
func fixedWindows(durationS, windowS float64) []operator.Scene {
	if windowS <= 0 || durationS <= 0 {
		return nil
	}

	var scenes []operator.Scene
	start := 0.0
	for start < durationS {
		end := start + windowS
		if end >= durationS || durationS-end < windowS {
			end = durationS
		}
		scenes = append(scenes, operator.Scene{StartS: start, EndS: end})
		start = end
	}
	return scenes
}
