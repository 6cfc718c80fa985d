// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package taskqueue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Handler claims and processes at most one task. It reports whether a task
// was found; the pool idles briefly when the queue is drained. Errors are
// infrastructure failures (the database is unreachable), not task failures —
// task failures belong on the task row.
type Handler func(ctx context.Context) (claimed bool, err error)

// Pool runs a bounded set of worker goroutines for one task kind. The pool
// size caps in-flight work for that kind independent of queue depth.
type Pool struct {
	// Name labels progress output lines.
	Name string

	// Workers is the number of concurrent worker goroutines (min 1).
	Workers int

	// PollInterval is the idle delay between queue polls (default 1s).
	PollInterval time.Duration

	// Handler processes one claimed task.
	Handler Handler
}

// Run blocks until ctx is canceled, dispatching tasks to the worker pool.
// Workers drain their current task before returning; callers needing a hard
// stop bound Run with their own timeout and sweep leftover tasks afterwards.
func (p *Pool) Run(ctx context.Context, w io.Writer) error {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	fmt.Fprintf(w, "%s: %d worker(s) started\n", p.Name, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, w, interval)
		}()
	}
	wg.Wait()

	fmt.Fprintf(w, "%s: stopped\n", p.Name)
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, w io.Writer, interval time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.Handler(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(w, "%s: handler error: %v\n", p.Name, err)
		}
		if claimed {
			// More work may be waiting; poll again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
