// Package manifest loads and writes the JSON-Lines video and clip
// manifests that bound a run, and builds them from raw video files
// via the operator package's VideoProbe/SceneDetector collaborators.
//
// Grounded on egoworld/manifests/build_manifest.py (not retrieved in
// original_source, reconstructed from spec.md §6, the clip_id formula
// confirmed by egoworld/tests/test_manifest_build.py's fixture, and
// egoworld/utils/hashing.py's sha256_file), plus egoworld/io/writers.py
// for the write_json_lines atomic-write pattern.
package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/contenthash"
	"github.com/egoworld/clippipe/internal/layout"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/videotime"
)

// VideoRecord is one row of video_manifest.jsonl.
type VideoRecord struct {
	VideoID   string  `json:"video_id"`
	Path      string  `json:"path"`
	DurationS float64 `json:"duration_s"`
	FPS       float64 `json:"fps"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Audio     bool    `json:"audio"`
	Checksum  string  `json:"checksum"`
	Split     string  `json:"split"`
}

// ClipRecord is one row of clip_manifest.jsonl.
type ClipRecord struct {
	ClipID            string  `json:"clip_id"`
	VideoID           string  `json:"video_id"`
	StartS            float64 `json:"start_s"`
	EndS              float64 `json:"end_s"`
	FrameStart        int     `json:"frame_start"`
	FrameEnd          int     `json:"frame_end"`
	OverlapS          float64 `json:"overlap_s"`
	ScenedetectFailed bool    `json:"scenedetect_failed"`
	Status            string  `json:"status,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	RetryCount        int     `json:"retry_count"`
}

// ToClip converts a loaded record into the scheduler/store's Clip type.
func (r ClipRecord) ToClip(videoPath string) clip.Clip {
	return clip.Clip{
		ClipID:            r.ClipID,
		VideoID:           r.VideoID,
		VideoPath:         videoPath,
		StartS:            r.StartS,
		EndS:              r.EndS,
		FrameStart:        r.FrameStart,
		FrameEnd:          r.FrameEnd,
		OverlapS:          r.OverlapS,
		ScenedetectFailed: r.ScenedetectFailed,
		RetryCount:        r.RetryCount,
	}
}

// LoadVideoManifest reads video_manifest.jsonl.
func LoadVideoManifest(path string) ([]VideoRecord, error) {
	var out []VideoRecord
	if err := readJSONLines(path, func(line []byte) error {
		var rec VideoRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("manifest: load video manifest %s: %w", path, err)
	}
	return out, nil
}

// LoadClipManifest reads clip_manifest.jsonl.
func LoadClipManifest(path string) ([]ClipRecord, error) {
	var out []ClipRecord
	if err := readJSONLines(path, func(line []byte) error {
		var rec ClipRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("manifest: load clip manifest %s: %w", path, err)
	}
	return out, nil
}

func readJSONLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		if err := fn(cp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// WriteVideoManifest atomically writes rows to path as JSON-Lines.
func WriteVideoManifest(path string, rows []VideoRecord) error {
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = r
	}
	return layout.AtomicWriteJSONLines(path, anyRows)
}

// WriteClipManifest atomically writes rows to path as JSON-Lines.
func WriteClipManifest(path string, rows []ClipRecord) error {
	anyRows := make([]any, len(rows))
	for i, r := range rows {
		anyRows[i] = r
	}
	return layout.AtomicWriteJSONLines(path, anyRows)
}

// BuildInput names one source video and the split it belongs to.
type BuildInput struct {
	Path  string
	Split string
}

// BuildManifests probes each input video, runs scene detection, and
// derives clip records with deterministic clip_ids, replacing
// egoworld/manifests/build_manifest.py's build_manifests. clip_id is
// `{video_id}-{frame_start:09d}-{frame_end:09d}-{checksum}`, matching
// spec §8 scenario S1's literal example.
func BuildManifests(
	ctx context.Context,
	inputs []BuildInput,
	probe operator.VideoProbe,
	detector operator.SceneDetector,
	scenedetect config.SceneDetect,
) ([]VideoRecord, []ClipRecord, error) {
	videos := make([]VideoRecord, 0, len(inputs))
	clips := make([]ClipRecord, 0, len(inputs))

	for _, in := range inputs {
		info, err := probe.Probe(ctx, in.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: probe %s: %w", in.Path, err)
		}

		fullChecksum, err := contenthash.SumFile(contenthash.DomainVideoChecksum, in.Path, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: checksum %s: %w", in.Path, err)
		}
		checksum := fullChecksum[:8]

		videoID := videoIDFromPath(in.Path)
		videos = append(videos, VideoRecord{
			VideoID:   videoID,
			Path:      in.Path,
			DurationS: info.DurationS,
			FPS:       info.FPS,
			Width:     info.Width,
			Height:    info.Height,
			Audio:     false,
			Checksum:  checksum,
			Split:     in.Split,
		})

		scenes, fallbackUsed, err := detector.Detect(ctx, in.Path, info.DurationS, scenedetect)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: detect scenes %s: %w", in.Path, err)
		}

		for _, scene := range scenes {
			frameStart := videotime.FramesFromSeconds(scene.StartS, info.FPS)
			frameEnd := videotime.FramesFromSeconds(scene.EndS, info.FPS)
			clipID := fmt.Sprintf("%s-%09d-%09d-%s", videoID, frameStart, frameEnd, checksum)

			clips = append(clips, ClipRecord{
				ClipID:            clipID,
				VideoID:           videoID,
				StartS:            scene.StartS,
				EndS:              scene.EndS,
				FrameStart:        frameStart,
				FrameEnd:          frameEnd,
				OverlapS:          scenedetect.OverlapS,
				ScenedetectFailed: fallbackUsed,
				Status:            "Pending",
				RetryCount:        0,
			})
		}
	}

	return videos, clips, nil
}

func videoIDFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

// DatasetHash hashes the sorted clip_id list, supplementing
// config.py's dataset_hash field (carried but never computed in the
// source).
func DatasetHash(clipIDs []string) (string, error) {
	sorted := make([]string, len(clipIDs))
	copy(sorted, clipIDs)
	sort.Strings(sorted)
	return contenthash.Sum(contenthash.DomainDatasetHash, sorted)
}
