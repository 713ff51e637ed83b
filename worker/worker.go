package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of tasks run at once when
// Options.Concurrency is not set.
const DefaultConcurrency = 5

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Options configures Run.
type Options struct {
	// Name labels the batch in log records (e.g., "blastp", "consensus").
	Name string

	// Concurrency is the maximum number of tasks running at once.
	// If 0, DefaultConcurrency is used.
	Concurrency int

	// TaskTimeout bounds every task. If 0, tasks only stop when ctx is done.
	TaskTimeout time.Duration

	// Logger is the structured logger for task events.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// OnDone, if set, is called after every task with its index and error.
	OnDone func(index int, err error)
}

// Result is the outcome of one task.
type Result[T any] struct {
	Index       int
	Value       T
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the time the task spent running.
func (r Result[T]) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Run executes tasks and returns one Result per task, in task order. It
// returns after every task has finished. A failing task never cancels the
// others.
func Run[T any](ctx context.Context, opts Options, tasks []Task[T]) []Result[T] {
	opts = applyDefaults(opts)
	logger := opts.Logger.With("batch", opts.Name, "tasks", len(tasks))

	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	logger.Debug("batch starting", "concurrency", opts.Concurrency)
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = runTask(ctx, i, task, opts, logger)
			if opts.OnDone != nil {
				opts.OnDone(i, results[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Debug("batch complete",
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	return results
}

// runTask runs a single task and always returns a populated Result.
func runTask[T any](ctx context.Context, index int, task Task[T], opts Options, logger *slog.Logger) (res Result[T]) {
	res = Result[T]{Index: index, StartedAt: time.Now()}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("task %d panicked: %v", index, p)
			logger.Error("task panicked", "index", index, "panic", p)
		}
		res.CompletedAt = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		defer cancel()
	}

	res.Value, res.Err = task(ctx)
	if res.Err != nil {
		logger.Warn("task failed", "index", index, "error", res.Err)
	}
	return res
}

func applyDefaults(opts Options) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// NewRunID returns an identifier for one run of a batch, built from the
// hostname, the process id and a random suffix.
func NewRunID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
