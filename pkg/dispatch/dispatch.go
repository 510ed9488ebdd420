// Package dispatch runs a function over a stream of package records with a
// fixed upper bound on how many run at once.
package dispatch

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/repo"
	"golang.org/x/sync/semaphore"
)

// DefaultLimit is used when Options.Limit is not positive.
const DefaultLimit = 4

// Event phases reported through Hooks.
const (
	PhaseStart = "start"
	PhaseDone  = "done"
	PhaseError = "error"
)

// Event is a progress notification for one record.
type Event struct {
	Phase string
	Label string
	Err   error
}

// Hooks carries callbacks for progress events. OnEvent is called from
// worker goroutines and must be safe for concurrent use.
type Hooks struct {
	OnEvent func(Event)
}

// Options control a Dispatcher.
type Options struct {
	Limit  int
	Hooks  Hooks
	Fields logger.Fields // added to every failure log line
}

// Outcome is the result of processing one record.
type Outcome struct {
	Label    string
	Err      error
	Duration time.Duration
}

// Func processes one record.
type Func func(ctx context.Context, rec *repo.Record) error

// Dispatcher fans records out to goroutines, at most Limit at a time.
type Dispatcher struct {
	limit  int
	hooks  Hooks
	fields logger.Fields
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Dispatcher{limit: opts.Limit, hooks: opts.Hooks, fields: opts.Fields}
}

// Limit returns the concurrency bound.
func (d *Dispatcher) Limit() int { return d.limit }

// Run pulls records and calls fn for each one in its own goroutine. A slot
// is acquired before the goroutine starts, so the producer stalls while
// Limit records are in flight. A failing record is logged and recorded in
// its Outcome without affecting the others. Run returns once every started
// goroutine has finished. The error is the producer's error, or the context
// error if admission was interrupted.
func (d *Dispatcher) Run(ctx context.Context, records iter.Seq2[*repo.Record, error], fn Func) ([]Outcome, error) {
	sem := semaphore.NewWeighted(int64(d.limit))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []Outcome
		runErr   error
	)

	for rec, err := range records {
		if err != nil {
			runErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}
		wg.Add(1)
		go func(rec *repo.Record) {
			defer wg.Done()
			defer sem.Release(1)

			o := d.process(ctx, rec, fn)
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}(rec)
	}

	wg.Wait()
	return outcomes, runErr
}

func (d *Dispatcher) process(ctx context.Context, rec *repo.Record, fn Func) (o Outcome) {
	o.Label = rec.Root
	start := time.Now()
	d.emit(Event{Phase: PhaseStart, Label: rec.Root})

	defer func() {
		if r := recover(); r != nil {
			o.Err = fmt.Errorf("panic while processing %s: %v", rec.Root, r)
		}
		o.Duration = time.Since(start)
		if o.Err != nil {
			fields := logger.Fields{"package": rec.Root, "error": o.Err.Error()}
			logger.Error("failed to process package", d.fields, fields)
			d.emit(Event{Phase: PhaseError, Label: rec.Root, Err: o.Err})
			return
		}
		d.emit(Event{Phase: PhaseDone, Label: rec.Root})
	}()

	o.Err = fn(ctx, rec)
	return o
}

func (d *Dispatcher) emit(e Event) {
	if d.hooks.OnEvent != nil {
		d.hooks.OnEvent(e)
	}
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}
