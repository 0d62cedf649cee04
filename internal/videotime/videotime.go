// Package videotime converts between seconds and frame indices under a
// known fps, and checks that a clip's time bounds and frame bounds agree.
//
// Ported from egoworld/utils/video.py (frames_from_seconds,
// seconds_from_frames, validate_time_alignment); video decoding itself
// stays out of core scope per spec.md §1.
package videotime

import "math"

// FramesFromSeconds converts a second offset to a frame index at fps,
// rounding to the nearest frame. Returns 0 if fps is non-positive.
func FramesFromSeconds(seconds, fps float64) int {
	if fps <= 0 {
		return 0
	}
	return int(math.Round(seconds * fps))
}

// SecondsFromFrames converts a frame index to a second offset at fps.
// Returns 0 if fps is non-positive.
func SecondsFromFrames(frameIndex int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frameIndex) / fps
}

// ValidateTimeAlignment reports whether (startS, endS) and (frameStart,
// frameEnd) describe the same interval under fps, within floating-point
// tolerance.
func ValidateTimeAlignment(startS, endS float64, frameStart, frameEnd int, fps float64) bool {
	const epsilon = 1e-6
	return math.Abs(startS-SecondsFromFrames(frameStart, fps)) < epsilon &&
		math.Abs(endS-SecondsFromFrames(frameEnd, fps)) < epsilon
}
