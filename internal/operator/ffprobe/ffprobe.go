// Package ffprobe implements operator.VideoProbe by shelling out to the
// ffprobe binary, for the real (non-fixture) make-manifest path.
//
// Grounded on ThirdCoastInteractive-Rewind's pkg/ffmpeg/probe.go: the
// same "-show_format -show_streams -print_format json", stderr capture,
// and r_frame_rate "num/den" parsing, narrowed to the fields
// operator.VideoInfo needs (egoworld/utils/video.py's get_video_info
// wraps the same ffprobe call on the source side).
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/videotime"
)

// Prober runs ffprobe to answer operator.VideoProbe.Probe.
type Prober struct {
	// BinaryPath overrides the ffprobe executable name, for tests that
	// stub it out with a fake binary on PATH. Empty means "ffprobe".
	BinaryPath string
}

func (p Prober) binary() string {
	if p.BinaryPath != "" {
		return p.BinaryPath
	}
	return "ffprobe"
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// Probe shells out to ffprobe and reports the first video stream's
// width/height/fps plus the container duration.
func (p Prober) Probe(ctx context.Context, path string) (operator.VideoInfo, error) {
	args := []string{
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return operator.VideoInfo{}, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return operator.VideoInfo{}, fmt.Errorf("ffprobe: parse output for %s: %w", path, err)
	}

	durationS, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return operator.VideoInfo{}, fmt.Errorf("ffprobe: parse duration for %s: %w", path, err)
	}

	for _, stream := range out.Streams {
		if stream.CodecType != "video" {
			continue
		}
		fps := parseFrameRate(stream.RFrameRate)
		return operator.VideoInfo{
			FPS:        fps,
			Width:      stream.Width,
			Height:     stream.Height,
			FrameCount: videotime.FramesFromSeconds(durationS, fps),
			DurationS:  durationS,
		}, nil
	}

	return operator.VideoInfo{}, fmt.Errorf("ffprobe: no video stream in %s", path)
}

// parseFrameRate parses ffprobe's "num/den" r_frame_rate field.
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, errNum := strconv.ParseFloat(parts[0], 64)
	den, errDen := strconv.ParseFloat(parts[1], 64)
	if errNum != nil || errDen != nil || den == 0 {
		return 0
	}
	return num / den
}
