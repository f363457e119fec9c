package worker

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/gofhir/snapshot/pkg/snapshot"
)

// JobResult is the outcome of generating one profile.
type JobResult struct {
	// URL is the canonical URL of the profile.
	URL string

	// Snapshot is nil when Err is set.
	Snapshot *snapshot.Snapshot

	// Err is the generation error, or the context error for jobs that
	// never ran.
	Err error

	// Duration is the time taken to generate.
	Duration time.Duration

	// Skipped is set for jobs cancelled before they started.
	Skipped bool
}

// BatchResult aggregates the results of one Run, in input order.
type BatchResult struct {
	Results []*JobResult

	// TotalJobs is the number of URLs submitted.
	TotalJobs int

	// CompletedJobs counts jobs that ran, whether they failed or not.
	CompletedJobs int

	// FailedJobs counts jobs that ran and failed.
	FailedJobs int

	// TotalDuration is the wall-clock time of the run.
	TotalDuration time.Duration
}

// HasErrors reports whether any job failed or was skipped.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Failed returns the results of jobs that ran and failed.
func (br *BatchResult) Failed() []*JobResult {
	var out []*JobResult
	for _, r := range br.Results {
		if r.Err != nil && !r.Skipped {
			out = append(out, r)
		}
	}
	return out
}

// Snapshots returns the generated snapshots keyed by URL.
func (br *BatchResult) Snapshots() map[string]*snapshot.Snapshot {
	out := make(map[string]*snapshot.Snapshot, len(br.Results))
	for _, r := range br.Results {
		if r.Snapshot != nil {
			out[r.URL] = r.Snapshot
		}
	}
	return out
}

// Err combines the errors of all failed jobs, each prefixed with its URL.
// Skipped jobs are not included. The result is nil when nothing failed.
func (br *BatchResult) Err() error {
	var err error
	for _, r := range br.Failed() {
		err = multierr.Append(err, fmt.Errorf("%s: %w", r.URL, r.Err))
	}
	return err
}
