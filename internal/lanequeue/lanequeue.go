// Package lanequeue serializes tool execution per session ("lane") while
// allowing bounded parallelism across lanes and among read-only tools
// within a lane. The teacher executed tool calls strictly serially
// in-process; this generalizes that to the concurrent-session case the
// kernel spec requires, grounded on the golang.org/x/sync/semaphore
// bounded-concurrency idiom used elsewhere in the pack.
package lanequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned by Run when fn does not complete within the given
// timeout. The underlying call is left running (its goroutine is not
// killed) but its result is discarded, matching spec.md §4.5's enqueue
// contract.
var ErrTimeout = errors.New("lanequeue: tool execution timed out")

// Class distinguishes tool calls that must serialize within a lane
// (anything that can mutate state: Edit, Shell, Create) from those that may
// run concurrently with other reads in the same lane (View, Grep).
type Class int

const (
	ClassReadOnly Class = iota
	ClassMutating
)

// Lane serializes mutating work for one session while letting read-only
// work run with bounded concurrency alongside it. A mutating call acquires
// the semaphore's full weight, which blocks until every in-flight
// read-only call releases and prevents new ones from starting until it is
// done — the weighted semaphore alone gives mutual exclusion against reads
// without a separate lock.
type lane struct {
	sem *semaphore.Weighted
}

// Queue manages one lane per session key.
type Queue struct {
	mu            sync.Mutex
	lanes         map[string]*lane
	readOnlyLimit int64
}

// New creates a Queue where up to readOnlyLimit read-only calls may run
// concurrently within a single lane. A mutating call always excludes every
// other call, read-only or not, in the same lane.
func New(readOnlyLimit int64) *Queue {
	if readOnlyLimit < 1 {
		readOnlyLimit = 1
	}
	return &Queue{lanes: make(map[string]*lane), readOnlyLimit: readOnlyLimit}
}

func (q *Queue) laneFor(key string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{sem: semaphore.NewWeighted(q.readOnlyLimit)}
		q.lanes[key] = l
	}
	return l
}

// Run executes fn under the given lane key's exclusion policy for class,
// with fn's execution capped at timeout. A mutating call blocks until all
// in-flight read-only calls in the lane complete and excludes new ones from
// starting; a read-only call only blocks behind a currently running
// mutating call.
//
// If timeout <= 0 no deadline is imposed beyond ctx's own. If fn does not
// return before the deadline, Run returns ErrTimeout immediately; fn keeps
// running in the background against the now-cancelled context and its
// eventual result is discarded, per spec.md §4.5's enqueue contract.
func (q *Queue) Run(ctx context.Context, laneKey string, class Class, timeout time.Duration, fn func(ctx context.Context) error) error {
	l := q.laneFor(laneKey)
	weight := int64(1)
	if class == ClassMutating {
		weight = q.readOnlyLimit
	}
	if err := l.sem.Acquire(ctx, weight); err != nil {
		return err
	}
	defer l.sem.Release(weight)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, laneKey)
		}
		return runCtx.Err()
	}
}
