// Package worker generates snapshots for many profiles in parallel.
//
// A Batch runs a fixed number of snapshot generators over a frozen
// registry. Each goroutine borrows its own generator, and all generators
// share one snapshot cache, so a base profile common to several jobs is
// built once.
//
// Example usage:
//
//	reg.Freeze()
//	batch, err := worker.NewBatch(reg, worker.WithWorkers(4))
//	if err != nil {
//	    return err
//	}
//
//	result := batch.Run(ctx, reg.Unresolved())
//	for _, r := range result.Failed() {
//	    log.Printf("%s: %v", r.URL, r.Err)
//	}
//	if err := result.Err(); err != nil {
//	    // every failure, combined
//	}
package worker
