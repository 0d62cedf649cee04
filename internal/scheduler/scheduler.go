// Package scheduler orders admitted clips longest-first so the
// slowest work enters the pipeline earliest and the run's tail is
// dominated by short clips that absorb straggler latency.
//
// Grounded on egoworld/pipeline/scheduler.py's sort_clips_by_duration.
package scheduler

import (
	"sort"

	"github.com/egoworld/clippipe/internal/clip"
)

// SortByDurationDesc returns clips ordered by (end_s - start_s)
// descending, ties broken by input order. Pure and idempotent: a
// second call on its own output returns an equal sequence.
func SortByDurationDesc(clips []clip.Clip) []clip.Clip {
	out := make([]clip.Clip, len(clips))
	copy(out, clips)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DurationS() > out[j].DurationS()
	})
	return out
}
