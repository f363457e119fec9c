package fhirsnapshot

import (
	"runtime"

	"github.com/gofhir/snapshot/pkg/logger"
)

// Option configures the Engine.
type Option func(*Options)

// Options holds all configuration for the Engine.
type Options struct {
	// Generation
	ExpandTypes      bool
	CheckExpressions bool

	// Sources
	PackagePath     string
	LoadCorePackage bool

	// Performance
	WorkerCount int
	FailFast    bool

	// Cache sizes
	SnapshotCacheSize   int
	ExpressionCacheSize int

	Logger *logger.Logger
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		ExpandTypes:      true,
		CheckExpressions: false,

		// Empty means the loader's default package cache
		PackagePath:     "",
		LoadCorePackage: false,

		WorkerCount: runtime.NumCPU(),
		FailFast:    false,

		SnapshotCacheSize:   1000,
		ExpressionCacheSize: 2000,

		Logger: logger.Default(),
	}
}

// --- Generation Options ---

// WithTypeExpansion enables materializing the children of an element's
// type when a profile constrains below an element its base does not expand.
func WithTypeExpansion(enable bool) Option {
	return func(o *Options) {
		o.ExpandTypes = enable
	}
}

// WithExpressionCheck enables compiling every invariant expression of a
// generated snapshot. Compile failures are reported as warnings.
func WithExpressionCheck(enable bool) Option {
	return func(o *Options) {
		o.CheckExpressions = enable
	}
}

// --- Source Options ---

// WithPackagePath sets the FHIR package cache used to resolve package
// references, e.g. ~/.fhir/packages.
func WithPackagePath(path string) Option {
	return func(o *Options) {
		o.PackagePath = path
	}
}

// WithCorePackage loads the core package of the engine's FHIR version from
// the package cache at startup.
func WithCorePackage(enable bool) Option {
	return func(o *Options) {
		o.LoadCorePackage = enable
	}
}

// --- Performance Options ---

// WithWorkerCount sets the number of concurrent generators for batch runs.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithFailFast stops a batch run at the first failing profile.
func WithFailFast(enable bool) Option {
	return func(o *Options) {
		o.FailFast = enable
	}
}

// --- Cache Options ---

// WithCacheSize configures cache sizes.
func WithCacheSize(snapshots, expressions int) Option {
	return func(o *Options) {
		if snapshots > 0 {
			o.SnapshotCacheSize = snapshots
		}
		if expressions > 0 {
			o.ExpressionCacheSize = expressions
		}
	}
}

// WithSnapshotCache sets the snapshot cache size.
func WithSnapshotCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.SnapshotCacheSize = size
		}
	}
}

// WithExpressionCache sets the FHIRPath expression cache size.
func WithExpressionCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ExpressionCacheSize = size
		}
	}
}

// --- Logging ---

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *logger.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// --- Presets ---

// StrictOptions returns options for publishing pipelines: expression
// checks on and the first failure aborts a batch.
func StrictOptions() []Option {
	return []Option{
		WithExpressionCheck(true),
		WithFailFast(true),
	}
}

// DebugOptions returns options useful for debugging: a single worker so
// log lines of one profile are not interleaved with another's.
func DebugOptions() []Option {
	return []Option{
		WithWorkerCount(1),
		WithExpressionCheck(true),
	}
}
