// Package client runs a chat client as a group of named activities sharing
// one connection. When any activity returns, the others are cancelled and
// the connection is closed.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/conn"
)

// Activity is one concurrent task of a client. It must return once ctx is
// cancelled or the connection is closed.
type Activity func(ctx context.Context) error

// TaskError reports which activity failed.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type task struct {
	name string
	fn   Activity
}

// Group runs activities against one connection until the first of them
// returns.
type Group struct {
	closer interface{ Close() error }
	tasks  []task
	log    *slog.Logger
}

// NewGroup creates a Group that closes c when it shuts down. A nil logger
// uses slog.Default().
func NewGroup(c interface{ Close() error }, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{closer: c, log: logger}
}

// Go adds a named activity. It must be called before Run.
func (g *Group) Go(name string, fn Activity) {
	g.tasks = append(g.tasks, task{name: name, fn: fn})
}

// Run starts every activity and blocks until all of them have returned.
// The first activity to return, with or without an error, cancels the rest
// and closes the connection. Run returns that activity's error as a
// *TaskError. Errors the other activities return because of the shutdown
// are dropped; any other failure from them is returned only when the first
// activity finished cleanly.
func (g *Group) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(g.tasks) == 0 {
		g.shutdown()
		return nil
	}

	var (
		first    atomic.Bool
		firstErr error
		eg       errgroup.Group
	)

	for _, t := range g.tasks {
		eg.Go(func() error {
			err := t.fn(ctx)

			if first.CompareAndSwap(false, true) {
				g.log.Debug("Activity finished; stopping the others", "task", t.name, "error", err)
				if err != nil && !errors.Is(err, context.Canceled) {
					firstErr = &TaskError{Task: t.name, Err: err}
				}
				cancel()
				g.shutdown()
				return nil
			}

			if err == nil || isShutdownNoise(err) {
				return nil
			}
			g.log.Debug("Activity failed during shutdown", "task", t.name, "error", err)
			return &TaskError{Task: t.name, Err: err}
		})
	}

	err := eg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return err
}

func (g *Group) shutdown() {
	if err := g.closer.Close(); err != nil && !conn.IsExpectedClose(err) {
		g.log.Warn("Error closing connection", "error", err)
	}
}

// isShutdownNoise reports whether err is what an activity returns when it is
// cancelled or its connection is closed under it.
func isShutdownNoise(err error) bool {
	return errors.Is(err, context.Canceled) || conn.IsExpectedClose(err)
}
