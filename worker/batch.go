package worker

import (
	"context"
	"errors"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gofhir/snapshot/cache"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/snapshot"
)

// ErrRegistryNotFrozen is returned by NewBatch for a registry that can
// still change underneath the running generators.
var ErrRegistryNotFrozen = errors.New("batch generation requires a frozen registry")

// Registry is the read side of a registry that can be frozen.
// *registry.Registry satisfies it.
type Registry interface {
	snapshot.Registry
	Frozen() bool
}

// BatchRecorder receives one event per completed Run. A recorder passed
// with WithRecorder that also implements BatchRecorder gets both kinds of
// events.
type BatchRecorder interface {
	RecordBatch(profiles, failed int, d time.Duration)
}

// Batch generates snapshots concurrently.
type Batch struct {
	reg      Registry
	workers  int
	failFast bool
	cache    snapshot.Cache
	recorder snapshot.Recorder
	log      *logger.Logger
	genOpts  []snapshot.Option
}

// Option configures a Batch.
type Option func(*Batch)

// WithWorkers sets the number of concurrent generators.
// If n <= 0, runtime.NumCPU() is used.
func WithWorkers(n int) Option {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithFailFast stops starting new jobs after the first failure.
func WithFailFast(enable bool) Option {
	return func(b *Batch) {
		b.failFast = enable
	}
}

// WithCache shares a snapshot cache with the batch generators, e.g. the
// cache of a long-lived engine reading the same registry.
func WithCache(c snapshot.Cache) Option {
	return func(b *Batch) {
		b.cache = c
	}
}

// WithRecorder sets the receiver of generation and cache events.
func WithRecorder(r snapshot.Recorder) Option {
	return func(b *Batch) {
		b.recorder = r
	}
}

// WithLogger sets the logger for the batch and its generators.
func WithLogger(l *logger.Logger) Option {
	return func(b *Batch) {
		b.log = l
	}
}

// WithGeneratorOptions passes extra options to every generator.
func WithGeneratorOptions(opts ...snapshot.Option) Option {
	return func(b *Batch) {
		b.genOpts = append(b.genOpts, opts...)
	}
}

// NewBatch creates a Batch over reg, which must be frozen.
func NewBatch(reg Registry, opts ...Option) (*Batch, error) {
	if !reg.Frozen() {
		return nil, ErrRegistryNotFrozen
	}

	b := &Batch{
		reg:     reg,
		workers: runtime.NumCPU(),
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = cache.New[string, *snapshot.Snapshot](cache.DefaultCapacity)
	}
	return b, nil
}

// Workers returns the configured number of concurrent generators.
func (b *Batch) Workers() int {
	return b.workers
}

func (b *Batch) generatorOptions() []snapshot.Option {
	opts := []snapshot.Option{
		snapshot.WithCache(b.cache),
		snapshot.WithLogger(b.log),
	}
	if b.recorder != nil {
		opts = append(opts, snapshot.WithRecorder(b.recorder))
	}
	return append(opts, b.genOpts...)
}

// Run generates the snapshot of every URL. Results keep the order of urls.
// Failures do not stop the run unless fail-fast is set; cancelling ctx
// skips the jobs that have not started.
func (b *Batch) Run(ctx context.Context, urls []string) *BatchResult {
	start := time.Now()
	result := &BatchResult{
		Results:   make([]*JobResult, len(urls)),
		TotalJobs: len(urls),
	}
	if len(urls) == 0 {
		return result
	}

	workers := min(b.workers, len(urls))
	gens := make(chan *snapshot.Generator, workers)
	opts := b.generatorOptions()
	for i := 0; i < workers; i++ {
		gens <- snapshot.New(b.reg, opts...)
	}

	g := &errgroup.Group{}
	if b.failFast {
		g, ctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(workers)

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			result.Results[i] = &JobResult{URL: url, Err: err, Skipped: true}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				result.Results[i] = &JobResult{URL: url, Err: err, Skipped: true}
				return nil
			}

			gen := <-gens
			defer func() { gens <- gen }()

			jobStart := time.Now()
			s, err := gen.Generate(url)
			result.Results[i] = &JobResult{
				URL:      url,
				Snapshot: s,
				Err:      err,
				Duration: time.Since(jobStart),
			}
			if err != nil {
				b.log.Warn("snapshot generation failed for %s: %v", url, err)
				if b.failFast {
					return err
				}
			}
			return nil
		})
	}
	// Job errors are reported per result.
	_ = g.Wait()

	for _, r := range result.Results {
		if r.Skipped {
			continue
		}
		result.CompletedJobs++
		if r.Err != nil {
			result.FailedJobs++
		}
	}
	result.TotalDuration = time.Since(start)

	if br, ok := b.recorder.(BatchRecorder); ok {
		br.RecordBatch(result.CompletedJobs, result.FailedJobs, result.TotalDuration)
	}
	b.log.Info("generated %d of %d snapshots with %d workers in %v (%d failed)",
		result.CompletedJobs-result.FailedJobs, result.TotalJobs, workers, result.TotalDuration, result.FailedJobs)
	return result
}
