// Package worker runs a fixed list of tasks on a bounded number of
// goroutines and joins their results by submission index.
//
// # Overview
//
// The classifier runs one search job per marker family and one consensus per
// marker sequence. Both go through Run, which:
//   - caps the number of tasks in flight (Options.Concurrency, default 5)
//   - applies an optional per-task timeout
//   - captures every task's error in its Result instead of aborting siblings
//   - marks tasks that never started with the context error once ctx is done
//
// # Usage
//
//	tasks := make([]worker.Task[[]int], len(families))
//	for i, fam := range families {
//	    tasks[i] = func(ctx context.Context) ([]int, error) {
//	        return search(ctx, fam)
//	    }
//	}
//
//	results := worker.Run(ctx, worker.Options{
//	    Concurrency: 5,
//	    TaskTimeout: 10 * time.Minute,
//	    Logger:      logger,
//	}, tasks)
//
//	for _, r := range results {
//	    if r.Err != nil {
//	        // handle the failure of task r.Index
//	    }
//	}
//
// # Progress
//
// Options.OnDone is called once per finished task, from the goroutine that
// ran it. It must be safe for concurrent use.
package worker
