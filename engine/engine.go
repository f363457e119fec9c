// Package engine provides the main snapshot generation engine.
//
// An Engine owns a registry, a shared snapshot cache, a generator and a
// projector, and loads definitions from local files and FHIR packages.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	fs "github.com/gofhir/snapshot"
	"github.com/gofhir/snapshot/cache"
	"github.com/gofhir/snapshot/pkg/constraint"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/loader"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/projection"
	"github.com/gofhir/snapshot/pkg/registry"
	"github.com/gofhir/snapshot/pkg/snapshot"
	"github.com/gofhir/snapshot/worker"
)

// Engine generates snapshots for the definitions it has loaded.
// It is safe for concurrent use; loads wait for running generations.
type Engine struct {
	// Configuration
	version fs.FHIRVersion
	options *fs.Options

	// mu is held exclusively while loading and shared while generating.
	mu sync.RWMutex

	reg       *registry.Registry
	loader    *loader.Loader
	cache     *cache.Cache[string, *snapshot.Snapshot]
	gen       *snapshot.Generator
	projector *projection.Projector

	metrics *fs.Metrics
	log     *logger.Logger
}

// New creates an Engine for the given FHIR version.
func New(ctx context.Context, version fs.FHIRVersion, opts ...fs.Option) (*Engine, error) {
	if !version.IsValid() {
		return nil, fmt.Errorf("unsupported FHIR version %q", version)
	}

	options := fs.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{
		version: version,
		options: options,
		reg:     registry.New(),
		loader:  loader.NewLoader(options.PackagePath),
		cache:   cache.New[string, *snapshot.Snapshot](options.SnapshotCacheSize),
		metrics: fs.NewMetrics(),
		log:     options.Logger,
	}
	e.loader.SetLogger(e.log)
	e.gen = snapshot.New(e.reg, e.generatorOptions()...)

	var checker *constraint.Checker
	if options.CheckExpressions {
		checker = constraint.New(options.ExpressionCacheSize)
	}
	e.projector = projection.NewProjector(checker)

	if options.LoadCorePackage {
		ref, _ := version.CorePackage()
		if _, err := e.LoadPackageRef(ctx, ref.String()); err != nil {
			return nil, fmt.Errorf("failed to load core package: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) generatorOptions() []snapshot.Option {
	opts := []snapshot.Option{
		snapshot.WithCache(e.cache),
		snapshot.WithLogger(e.log),
		snapshot.WithRecorder(e.metrics),
	}
	if !e.options.ExpandTypes {
		opts = append(opts, snapshot.WithoutTypeExpansion())
	}
	return opts
}

// --- Loading ---

// Load registers definitions, replacing any with the same URL.
func (e *Engine) Load(sds ...*model.StructureDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(sds)
}

func (e *Engine) load(sds []*model.StructureDefinition) error {
	release := minorVersion(e.version.Release())
	for _, sd := range sds {
		if sd.Resolved() && len(sd.Differential) > 0 {
			e.log.Warn("%s ships a snapshot; its differential is ignored", sd.URL)
		}
		if sd.FHIRVersion != "" && minorVersion(sd.FHIRVersion) != release {
			e.log.Warn("%s declares FHIR %s; engine is %s", sd.URL, sd.FHIRVersion, e.version)
		}
		if err := e.reg.Load(sd); err != nil {
			return err
		}
	}
	return nil
}

// minorVersion trims the patch level: "4.0.1" becomes "4.0".
func minorVersion(v string) string {
	if i := strings.LastIndexByte(v, '.'); i > strings.IndexByte(v, '.') {
		return v[:i]
	}
	return v
}

// LoadFile loads one JSON or YAML file and returns the number of
// definitions it held.
func (e *Engine) LoadFile(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sds, err := e.loader.LoadFile(path)
	if err != nil {
		return 0, err
	}
	return len(sds), e.load(sds)
}

// LoadDir loads every definition below dir. Unreadable files are skipped
// and reported in Diagnostics.
func (e *Engine) LoadDir(ctx context.Context, dir string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sds, err := e.loader.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	return len(sds), e.load(sds)
}

// LoadPackage loads a FHIR package folder or .tgz archive.
func (e *Engine) LoadPackage(ctx context.Context, path string) (*loader.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pkg, err := e.loader.LoadPackage(path)
	if err != nil {
		return nil, err
	}
	return pkg, e.load(pkg.Definitions)
}

// LoadPackageRef loads "name#version" from the package cache.
func (e *Engine) LoadPackageRef(ctx context.Context, spec string) (*loader.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, version := loader.ParsePackageSpec(spec)
	if version == "" {
		return nil, fmt.Errorf("package reference %q has no version", spec)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pkg, err := e.loader.LoadPackageRef(loader.PackageRef{Name: name, Version: version})
	if err != nil {
		return nil, err
	}
	return pkg, e.load(pkg.Definitions)
}

// LoadSource loads a directory, a package archive (.tgz) or a single
// file, depending on what path names.
func (e *Engine) LoadSource(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("source %s: %w", path, err)
	}

	switch {
	case info.IsDir():
		return e.LoadDir(ctx, path)
	case strings.HasSuffix(path, ".tgz") || strings.HasSuffix(path, ".tar.gz"):
		pkg, err := e.LoadPackage(ctx, path)
		if err != nil {
			return 0, err
		}
		return len(pkg.Definitions), nil
	default:
		return e.LoadFile(ctx, path)
	}
}

// --- Generation ---

// Generate returns the snapshot of the profile with the given URL.
func (e *Engine) Generate(ctx context.Context, url string) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.gen.Generate(url)
}

// StructureDefinition returns the loaded definition of url carrying its
// generated snapshot.
func (e *Engine) StructureDefinition(ctx context.Context, url string) (*model.StructureDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	sd, err := e.reg.Get(url)
	if err != nil {
		return nil, err
	}
	s, err := e.gen.Generate(url)
	if err != nil {
		return nil, err
	}
	return s.StructureDefinition(sd), nil
}

// Project generates the snapshot of url and derives its validation tables.
// With expression checks enabled, compile failures are reported in the
// tables' diagnostics.
func (e *Engine) Project(ctx context.Context, url string) (*projection.Tables, error) {
	s, err := e.Generate(ctx, url)
	if err != nil {
		return nil, err
	}
	tables := e.projector.Project(s)
	e.metrics.RecordIssues(tables.Diagnostics)
	return tables, nil
}

// GenerateAll generates the snapshots of urls in parallel, or of every
// loaded definition without a snapshot when urls is empty. The batch reads
// a frozen copy of the registry and shares the engine's cache.
func (e *Engine) GenerateAll(ctx context.Context, urls []string) (*worker.BatchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(urls) == 0 {
		urls = e.reg.Unresolved()
	}

	frozen := e.reg.Clone()
	frozen.Freeze()

	opts := []worker.Option{
		worker.WithWorkers(e.options.WorkerCount),
		worker.WithFailFast(e.options.FailFast),
		worker.WithCache(e.cache),
		worker.WithRecorder(e.metrics),
		worker.WithLogger(e.log),
	}
	if !e.options.ExpandTypes {
		opts = append(opts, worker.WithGeneratorOptions(snapshot.WithoutTypeExpansion()))
	}

	batch, err := worker.NewBatch(frozen, opts...)
	if err != nil {
		return nil, err
	}
	return batch.Run(ctx, urls), nil
}

// --- Accessors ---

// Registry returns the engine's registry. Load through the engine so
// loads are serialized with generation.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Diagnostics returns the findings of all loads so far.
func (e *Engine) Diagnostics() *issue.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loader.Diagnostics()
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *fs.Metrics {
	return e.metrics
}

// Version returns the FHIR version this engine is configured for.
func (e *Engine) Version() fs.FHIRVersion {
	return e.version
}

// Options returns the engine's options.
func (e *Engine) Options() *fs.Options {
	return e.options
}

// Close releases resources held by the engine.
func (e *Engine) Close() error {
	e.cache.Clear()
	return nil
}
