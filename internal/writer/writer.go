// Package writer implements the single serialized Writer Actor:
// given one clip's composite operator result, it commits meta.json
// and the four columnar artifacts atomically under the partitioned
// output layout.
//
// Grounded on egoworld/pipeline/driver.py's WriterActor.write and
// egoworld/io/writers.py's write_parquet_table/write_json, generalized
// per spec.md §9 to dispatch on clip.Result's tagged fields rather
// than string-keyed dict lookups. Runs as one goroutine consuming a
// channel, matching the "one goroutine/thread with its own inbound
// channel" note in spec.md §9.
package writer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/columnar"
	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/layout"
	"github.com/egoworld/clippipe/internal/maskrle"
)

// Meta is the meta.json content shape from spec.md §6.
type Meta struct {
	Clip         clip.Clip      `json:"clip"`
	FieldSpecs   map[string]any `json:"field_specs"`
	MaskEncoding string         `json:"mask_encoding"`
	TimeBase     string         `json:"time_base"`
}

// Job is one unit of write work submitted to the Writer.
type Job struct {
	RunID   string
	Result  clip.Result
	Attempt int // write-attempt counter, tracked separately from ComputeAttempt per spec.md §9
}

// Outcome is what the Writer reports back per job.
type Outcome struct {
	Job Job
	Err error
}

// Writer is the single-goroutine writer actor. Degree of parallelism
// is always 1: serialization avoids filesystem contention, matching
// spec.md §4.H.
type Writer struct {
	outputRoot  string
	coordinates config.Coordinates
	params      columnar.Params

	jobs    chan Job
	results chan Outcome
	done    chan struct{}
}

func New(outputRoot string, coordinates config.Coordinates, params columnar.Params) *Writer {
	return &Writer{
		outputRoot:  outputRoot,
		coordinates: coordinates,
		params:      params,
		jobs:        make(chan Job, 1),
		results:     make(chan Outcome, 1),
		done:        make(chan struct{}),
	}
}

// Start launches the writer goroutine. It runs until ctx is canceled
// or Stop is called.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-w.jobs:
				if !ok {
					return
				}
				err := w.write(job)
				w.results <- Outcome{Job: job, Err: err}
			}
		}
	}()
}

// Stop closes the inbound channel; callers must stop submitting
// before calling Stop.
func (w *Writer) Stop() {
	close(w.jobs)
	<-w.done
}

// Submit enqueues one job. The inbound channel holds one job, so Submit
// blocks only while a job is already queued behind the one being
// written; jobs are still written one at a time.
func (w *Writer) Submit(job Job) {
	w.jobs <- job
}

// Outcomes returns the channel the Driver selects on for write
// completions.
func (w *Writer) Outcomes() <-chan Outcome {
	return w.results
}

func (w *Writer) write(job Job) error {
	result := job.Result
	dir := layout.ClipDir(w.outputRoot, job.RunID, result.Clip.VideoID, result.Clip.ClipID)

	meta := Meta{
		Clip: result.Clip,
		FieldSpecs: map[string]any{
			"masks":       []string{"frame_index", "timestamp_s", "mask_rle"},
			"hand_pose":   []string{"frame_index", "timestamp_s", "pose"},
			"object_pose": []string{"frame_index", "timestamp_s", "pose"},
			"mapping":     []string{"frame_index", "timestamp_s", "pose"},
		},
		MaskEncoding: w.coordinates.MaskEncoding,
		TimeBase:     w.coordinates.TimeBase,
	}
	if err := layout.AtomicWriteJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
		return fmt.Errorf("writer: meta.json for %s: %w", result.Clip.ClipID, err)
	}

	maskRows := make([]columnar.MaskRow, len(result.Masks.FrameIndices))
	for i, idx := range result.Masks.FrameIndices {
		rle, err := maskrle.EncodeRLE(result.Masks.FrameMasks[i])
		if err != nil {
			return fmt.Errorf("writer: encode mask for %s frame %d: %w", result.Clip.ClipID, idx, err)
		}
		maskRows[i] = columnar.MaskRow{
			FrameIndex: int64(idx),
			TimestampS: result.Masks.FrameTimestamps[i],
			MaskRLE:    rle,
		}
	}
	if err := columnar.WriteMasksParquet(filepath.Join(dir, "masks.parquet"), maskRows, w.params); err != nil {
		return fmt.Errorf("writer: masks.parquet for %s: %w", result.Clip.ClipID, err)
	}

	if err := w.writePoseParquet(filepath.Join(dir, "hand_pose.parquet"), result.HandPose.FrameIndices, result.HandPose.FrameTimestamps, result.HandPose.Poses); err != nil {
		return fmt.Errorf("writer: hand_pose.parquet for %s: %w", result.Clip.ClipID, err)
	}
	if err := w.writePoseParquet(filepath.Join(dir, "object_pose.parquet"), result.ObjectPose.FrameIndices, result.ObjectPose.FrameTimestamps, result.ObjectPose.Poses); err != nil {
		return fmt.Errorf("writer: object_pose.parquet for %s: %w", result.Clip.ClipID, err)
	}
	if err := w.writePoseParquet(filepath.Join(dir, "mapping.parquet"), result.Mapping.FrameIndices, result.Mapping.FrameTimestamps, result.Mapping.Poses); err != nil {
		return fmt.Errorf("writer: mapping.parquet for %s: %w", result.Clip.ClipID, err)
	}

	return nil
}

func (w *Writer) writePoseParquet(path string, indices []int, timestamps []float64, poses [][]float32) error {
	rows := make([]columnar.PoseRow, len(indices))
	for i, idx := range indices {
		rows[i] = columnar.PoseRow{
			FrameIndex: int64(idx),
			TimestampS: timestamps[i],
			Pose:       poses[i],
		}
	}
	return columnar.WritePoseParquet(path, rows, w.params)
}
