// Package driver implements the central state machine that wires the
// state store, backpressure gates, compute pool, writer, scheduler,
// retry policy, and error classifier: admit, submit, drain, account.
//
// Grounded on egoworld/pipeline/driver.py's run_pipeline (submit_clip,
// the per-clip admission loop, and the final drain-to-empty loops),
// replacing Ray remote actors with the compute.Pool/writer.Writer
// goroutine-based equivalents per spec.md §9. Completion handles from
// backpressure.Gate track admission counts; actual blocking-until-one-
// completes happens on the Pool's and Writer's outcome channels,
// which is the Go analogue of `ray.wait` selecting over reply
// channels.
package driver

import (
	"context"

	"github.com/egoworld/clippipe/internal/backpressure"
	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/compute"
	"github.com/egoworld/clippipe/internal/errs"
	"github.com/egoworld/clippipe/internal/retry"
	"github.com/egoworld/clippipe/internal/scheduler"
	"github.com/egoworld/clippipe/internal/store"
	"github.com/egoworld/clippipe/internal/writer"
)

// Summary reports terminal counts after Run returns, for CLI output
// and tests. Every admitted clip ends in exactly one of these buckets,
// per spec.md §8 invariant 1.
type Summary struct {
	Done   int
	Failed int
}

// Driver wires the Backpressure Gates, Compute Actor Pool, Writer
// Actor, State Store, Retry Policy, and Clock per spec.md §9's
// dependency-injection note.
type Driver struct {
	Store       *store.Store
	Pool        *compute.Pool
	Writer      *writer.Writer
	RetryPolicy retry.Policy
	Clock       retry.Clock
	GateCompute *backpressure.Gate
	GateWrite   *backpressure.Gate
	RunID       string
}

// New wires a Driver from its collaborators. capCompute/capWrite are
// the resolved backpressure caps (2×num_gpus by default, per
// spec.md §4.E).
func New(st *store.Store, pool *compute.Pool, wr *writer.Writer, policy retry.Policy, clock retry.Clock, capCompute, capWrite int, runID string) *Driver {
	return &Driver{
		Store:       st,
		Pool:        pool,
		Writer:      wr,
		RetryPolicy: policy,
		Clock:       clock,
		GateCompute: backpressure.NewGate(capCompute),
		GateWrite:   backpressure.NewGate(capWrite),
		RunID:       runID,
	}
}

type computeEntry struct {
	task   clip.Task
	handle backpressure.Handle
}

type writeEntry struct {
	result         clip.Result
	writeAttempt   int
	computeAttempt int // preserved across write retries, recorded as the row's retry_count on Done
	handle         backpressure.Handle
}

// Run admits every clip (longest-first), drives each through the
// compute -> write -> done pipeline with retry/terminal handling, and
// returns only once every clip has reached Done or Failed.
func (d *Driver) Run(ctx context.Context, clips []clip.Clip) (Summary, error) {
	ordered := scheduler.SortByDurationDesc(clips)

	computePending := make(map[string]computeEntry) // clip_id -> in-flight compute entry
	writePending := make(map[string]writeEntry)      // clip_id -> in-flight write entry

	dispatchIndex := 0
	summary := Summary{}

	submitCompute := func(task clip.Task) error {
		if err := d.Store.UpsertClipStatus(ctx, task.Clip.ClipID, task.Clip.VideoID, store.Running, "", task.ComputeAttempt, d.Clock.Now()); err != nil {
			return err
		}
		handle := d.GateCompute.Reserve()
		computePending[task.Clip.ClipID] = computeEntry{task: task, handle: handle}
		d.Pool.Submit(dispatchIndex, task)
		dispatchIndex++
		return nil
	}

	submitWrite := func(result clip.Result, writeAttempt, computeAttempt int) {
		handle := d.GateWrite.Reserve()
		writePending[result.Clip.ClipID] = writeEntry{result: result, writeAttempt: writeAttempt, computeAttempt: computeAttempt, handle: handle}
		d.Writer.Submit(writer.Job{RunID: d.RunID, Result: result, Attempt: writeAttempt})
	}

	handleComputeOutcome := func(outcome compute.Outcome) error {
		entry, ok := computePending[outcome.Task.Clip.ClipID]
		if !ok {
			return nil // stale outcome from a superseded attempt; ignore
		}
		delete(computePending, outcome.Task.Clip.ClipID)
		d.GateCompute.MarkDone(entry.handle)

		cl := entry.task.Clip
		attempt := entry.task.ComputeAttempt

		if outcome.Err == nil {
			if err := d.Store.UpsertClipStatus(ctx, cl.ClipID, cl.VideoID, store.Writing, "", attempt, d.Clock.Now()); err != nil {
				return err
			}
			submitWrite(outcome.Result, 0, attempt)
			return nil
		}

		return d.retryOrFail(ctx, cl, attempt, outcome.Err, func(nextAttempt int) error {
			return submitCompute(clip.Task{Clip: cl, ComputeAttempt: nextAttempt})
		}, &summary)
	}

	handleWriteOutcome := func(outcome writer.Outcome) error {
		cl := outcome.Job.Result.Clip
		entry, ok := writePending[cl.ClipID]
		if !ok {
			return nil
		}
		delete(writePending, cl.ClipID)
		d.GateWrite.MarkDone(entry.handle)

		if outcome.Err == nil {
			summary.Done++
			return d.Store.UpsertClipStatus(ctx, cl.ClipID, cl.VideoID, store.Done, "", entry.computeAttempt, d.Clock.Now())
		}

		return d.retryOrFail(ctx, cl, entry.writeAttempt, outcome.Err, func(nextAttempt int) error {
			submitWrite(entry.result, nextAttempt, entry.computeAttempt)
			return nil
		}, &summary)
	}

	for _, cl := range ordered {
		if err := submitCompute(clip.Task{Clip: cl, ComputeAttempt: cl.RetryCount}); err != nil {
			return summary, err
		}

		if d.GateCompute.AtCapacity() {
			select {
			case outcome := <-d.Pool.Outcomes():
				if err := handleComputeOutcome(outcome); err != nil {
					return summary, err
				}
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}

		if d.GateWrite.AtCapacity() {
			select {
			case outcome := <-d.Writer.Outcomes():
				if err := handleWriteOutcome(outcome); err != nil {
					return summary, err
				}
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
	}

	for len(computePending) > 0 {
		select {
		case outcome := <-d.Pool.Outcomes():
			if err := handleComputeOutcome(outcome); err != nil {
				return summary, err
			}
		case <-ctx.Done():
			return summary, ctx.Err()
		}

		// A compute success just called submitWrite, which reserves a
		// GateWrite handle unconditionally. Drain a write outcome before
		// looping back for the next compute outcome so GateWrite's
		// pending count never exceeds its cap during the tail, matching
		// the admission loop's check above.
		if d.GateWrite.AtCapacity() {
			select {
			case outcome := <-d.Writer.Outcomes():
				if err := handleWriteOutcome(outcome); err != nil {
					return summary, err
				}
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
	}

	// writePending's own drain loop below never needs the same guard:
	// its only source of new entries is retryOrFail's resubmit, which
	// runs after handleWriteOutcome has already freed the handle it
	// reserves (net pending count is unchanged), unlike the compute
	// drain above where a success adds a write entry without first
	// freeing one.
	for len(writePending) > 0 {
		select {
		case outcome := <-d.Writer.Outcomes():
			if err := handleWriteOutcome(outcome); err != nil {
				return summary, err
			}
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}

	return summary, nil
}

// retryOrFail applies spec.md §4.I's retry/terminal decision: classify
// the error; if retryable and attempt < max_retries, sleep the next
// delay and resubmit via resubmit; otherwise mark Failed and append a
// dead-letter row.
func (d *Driver) retryOrFail(ctx context.Context, cl clip.Clip, attempt int, cause error, resubmit func(nextAttempt int) error, summary *Summary) error {
	classification := errs.Classify(cause)

	if classification.Retryable && d.RetryPolicy.CanRetry(attempt+1) {
		delay := d.RetryPolicy.NextDelay(attempt + 1)
		d.Clock.Sleep(ctx, delay)
		return resubmit(attempt + 1)
	}

	summary.Failed++
	now := d.Clock.Now()
	if err := d.Store.UpsertClipStatus(ctx, cl.ClipID, cl.VideoID, store.Failed, cause.Error(), attempt, now); err != nil {
		return err
	}
	return d.Store.MarkDeadLetter(ctx, cl.ClipID, cl.VideoID, cause.Error(), now)
}
