// Package compute implements the Compute Actor Pool: num_gpus
// long-lived workers, each running the fixed-order operator chain on
// one clip at a time, selected round-robin across the pool.
//
// Grounded on egoworld/pipeline/driver.py's Sam2Actor.process and
// submit_clip dispatch, replaced per spec.md §9 with a Go worker pool
// over a bounded channel instead of Ray remote actors: each worker
// owns one operator.Chain (its "GPU context") and a one-shot reply is
// delivered on the Outcomes channel, which the Driver selects on.
package compute

import (
	"context"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/operator"
)

// Outcome is one worker's reply for a submitted task.
type Outcome struct {
	Task   clip.Task
	Result clip.Result
	Err    error
}

// Pool is a fixed-size set of workers, each bound to one operator
// chain (one GPU context). Workers do not share mutable state.
type Pool struct {
	numWorkers int
	inboxes    []chan clip.Task
	outcomes   chan Outcome
}

// New creates a pool with one chain per worker; len(chains) is
// num_gpus. New starts one worker goroutine per chain before returning.
func New(chains []operator.Chain) *Pool {
	p := &Pool{
		numWorkers: len(chains),
		inboxes:    make([]chan clip.Task, len(chains)),
		outcomes:   make(chan Outcome, len(chains)),
	}
	for i := range p.inboxes {
		p.inboxes[i] = make(chan clip.Task, 1)
	}
	p.start(chains)
	return p
}

func (p *Pool) start(chains []operator.Chain) {
	for i, chain := range chains {
		go p.runWorker(chain, p.inboxes[i])
	}
}

func (p *Pool) runWorker(chain operator.Chain, inbox <-chan clip.Task) {
	for task := range inbox {
		result, err := chain.Run(context.Background(), task.Clip)
		p.outcomes <- Outcome{Task: task, Result: result, Err: err}
	}
}

// Submit dispatches task to worker index i mod num_gpus, per spec.md
// §4.G's round-robin worker selection. i is the caller-maintained
// dispatch counter (e.g. a running count of clips submitted so far).
func (p *Pool) Submit(i int, task clip.Task) {
	idx := i % p.numWorkers
	p.inboxes[idx] <- task
}

// Outcomes returns the channel the Driver selects on for compute
// completions.
func (p *Pool) Outcomes() <-chan Outcome {
	return p.outcomes
}

// NumWorkers reports num_gpus.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Stop closes every worker's inbox, letting in-flight tasks drain.
func (p *Pool) Stop() {
	for _, inbox := range p.inboxes {
		close(inbox)
	}
}
