package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/gofhir/snapshot/cache"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/registry"
	"github.com/gofhir/snapshot/pkg/snapshot"
)

func init() {
	logger.Disable()
}

const (
	patientURL = "http://hl7.org/fhir/StructureDefinition/Patient"
	missingURL = "http://example.org/StructureDefinition/missing"
)

func profileURL(name string) string {
	return "http://example.org/StructureDefinition/" + name
}

func element(id string, min uint32, max string) model.ElementDefinition {
	return model.ElementDefinition{ID: id, Path: model.PathFromID(id), Min: model.Uint32Ptr(min), Max: max}
}

func profile(name, base string, diff ...model.ElementDefinition) *model.StructureDefinition {
	return &model.StructureDefinition{
		URL:            profileURL(name),
		Name:           name,
		Type:           "Patient",
		Kind:           model.KindResource,
		Derivation:     model.DerivationConstraint,
		BaseDefinition: base,
		Differential:   diff,
	}
}

// frozenRegistry holds Patient, three valid profiles and one whose base is
// missing.
func frozenRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	sds := []*model.StructureDefinition{
		{
			URL: patientURL, Name: "Patient", Type: "Patient", Kind: model.KindResource,
			Derivation: model.DerivationSpecialization,
			Snapshot: []model.ElementDefinition{
				element("Patient", 0, "*"),
				element("Patient.active", 0, "1"),
				element("Patient.name", 0, "*"),
			},
		},
		profile("active", patientURL, model.ElementDefinition{ID: "Patient.active", Path: "Patient.active", Min: model.Uint32Ptr(1)}),
		profile("named", patientURL, model.ElementDefinition{ID: "Patient.name", Path: "Patient.name", Min: model.Uint32Ptr(1)}),
		profile("both", profileURL("active"), model.ElementDefinition{ID: "Patient.name", Path: "Patient.name", Max: "1"}),
		profile("orphan", missingURL),
	}
	if err := r.LoadAll(sds); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	r.Freeze()
	return r
}

type countingRecorder struct {
	mu          sync.Mutex
	generations int
	failures    int
	hits        int
	misses      int
	batches     int
	profiles    int
	failed      int
}

func (c *countingRecorder) RecordGeneration(_ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations++
	if err != nil {
		c.failures++
	}
}

func (c *countingRecorder) RecordCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
}

func (c *countingRecorder) RecordCacheMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
}

func (c *countingRecorder) RecordBatch(profiles, failed int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	c.profiles += profiles
	c.failed += failed
}

func TestNewBatchRequiresFrozenRegistry(t *testing.T) {
	_, err := NewBatch(registry.New())
	if !errors.Is(err, ErrRegistryNotFrozen) {
		t.Errorf("NewBatch(unfrozen) error = %v; want ErrRegistryNotFrozen", err)
	}
}

func TestNewBatchWorkers(t *testing.T) {
	r := frozenRegistry(t)
	tests := []struct {
		n    int
		want bool
	}{
		{3, true},
		{0, false},
		{-2, false},
	}
	for _, tt := range tests {
		b, err := NewBatch(r, WithWorkers(tt.n))
		if err != nil {
			t.Fatalf("NewBatch: %v", err)
		}
		if got := b.Workers() == tt.n; got != tt.want {
			t.Errorf("WithWorkers(%d): Workers() = %d", tt.n, b.Workers())
		}
		if b.Workers() <= 0 {
			t.Errorf("Workers() = %d; want > 0", b.Workers())
		}
	}
}

func TestRun(t *testing.T) {
	r := frozenRegistry(t)
	shared := cache.New[string, *snapshot.Snapshot](16)
	rec := &countingRecorder{}

	b, err := NewBatch(r, WithWorkers(3), WithCache(shared), WithRecorder(rec))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}

	urls := []string{profileURL("active"), profileURL("both"), profileURL("named"), profileURL("orphan")}
	result := b.Run(context.Background(), urls)

	var got []string
	for _, res := range result.Results {
		got = append(got, res.URL)
	}
	if d := cmp.Diff(urls, got); d != "" {
		t.Errorf("result order mismatch (-want +got):\n%s", d)
	}

	if result.TotalJobs != 4 || result.CompletedJobs != 4 || result.FailedJobs != 1 {
		t.Errorf("jobs = %d total, %d completed, %d failed; want 4, 4, 1",
			result.TotalJobs, result.CompletedJobs, result.FailedJobs)
	}
	if !result.HasErrors() {
		t.Error("HasErrors() = false; want true")
	}

	failed := result.Failed()
	if len(failed) != 1 || failed[0].URL != profileURL("orphan") {
		t.Fatalf("Failed() = %+v; want only the orphan profile", failed)
	}
	if !errors.Is(failed[0].Err, issue.KindUnknownProfile) {
		t.Errorf("orphan error = %v; want UnknownProfile", failed[0].Err)
	}
	if errs := multierr.Errors(result.Err()); len(errs) != 1 {
		t.Errorf("Err() holds %d errors; want 1", len(errs))
	}

	both := result.Snapshots()[profileURL("both")]
	if both == nil {
		t.Fatal("missing snapshot for both")
	}
	if e, ok := both.Lookup("Patient.active", ""); !ok || e.MinValue() != 1 {
		t.Errorf("both: Patient.active min should be inherited from active")
	}
	if e, ok := both.Lookup("Patient.name", ""); !ok || e.Max != "1" {
		t.Errorf("both: Patient.name max should be 1")
	}

	// Patient, active, both and named are cached; the orphan is not.
	for _, url := range []string{patientURL, profileURL("active"), profileURL("both"), profileURL("named")} {
		if _, ok := shared.Get(url); !ok {
			t.Errorf("shared cache is missing %s", url)
		}
	}
	if _, ok := shared.Get(profileURL("orphan")); ok {
		t.Error("failed profile should not be cached")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.generations != 4 || rec.failures != 1 {
		t.Errorf("recorder generations = %d (failures %d); want 4 (1)", rec.generations, rec.failures)
	}
	if rec.batches != 1 || rec.profiles != 4 || rec.failed != 1 {
		t.Errorf("recorder batches = %d, profiles = %d, failed = %d; want 1, 4, 1", rec.batches, rec.profiles, rec.failed)
	}
}

func TestRunEmpty(t *testing.T) {
	b, err := NewBatch(frozenRegistry(t))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	result := b.Run(context.Background(), nil)
	if result.TotalJobs != 0 || len(result.Results) != 0 || result.HasErrors() || result.Err() != nil {
		t.Errorf("Run(nil) = %+v; want an empty result", result)
	}
}

func TestRunFailFast(t *testing.T) {
	b, err := NewBatch(frozenRegistry(t), WithWorkers(1), WithFailFast(true))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}

	result := b.Run(context.Background(), []string{profileURL("orphan"), profileURL("active"), profileURL("named")})

	if result.CompletedJobs != 1 || result.FailedJobs != 1 {
		t.Errorf("completed = %d, failed = %d; want 1, 1", result.CompletedJobs, result.FailedJobs)
	}
	for _, r := range result.Results[1:] {
		if !r.Skipped || !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: skipped = %v, err = %v; want skipped with context.Canceled", r.URL, r.Skipped, r.Err)
		}
	}
	if errs := multierr.Errors(result.Err()); len(errs) != 1 {
		t.Errorf("Err() holds %d errors; want only the failure", len(errs))
	}
}

func TestRunCancelled(t *testing.T) {
	b, err := NewBatch(frozenRegistry(t), WithWorkers(2))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := b.Run(ctx, []string{profileURL("active"), profileURL("named")})
	if result.CompletedJobs != 0 {
		t.Errorf("CompletedJobs = %d; want 0", result.CompletedJobs)
	}
	for _, r := range result.Results {
		if !r.Skipped {
			t.Errorf("%s should be skipped", r.URL)
		}
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v; want nil for skipped jobs", result.Err())
	}
}

func TestRunWithGeneratorOptions(t *testing.T) {
	r := registry.New()
	sds := []*model.StructureDefinition{
		{
			URL: patientURL, Name: "Patient", Type: "Patient", Kind: model.KindResource,
			Derivation: model.DerivationSpecialization,
			Snapshot: []model.ElementDefinition{
				element("Patient", 0, "*"),
				{ID: "Patient.name", Path: "Patient.name", Min: model.Uint32Ptr(0), Max: "*", Types: []model.TypeRef{{Code: "HumanName"}}},
			},
		},
		{
			URL: "http://hl7.org/fhir/StructureDefinition/HumanName", Name: "HumanName", Type: "HumanName",
			Kind: model.KindComplexType, Derivation: model.DerivationSpecialization,
			Snapshot: []model.ElementDefinition{
				element("HumanName", 0, "*"),
				element("HumanName.family", 0, "1"),
			},
		},
		profile("family", patientURL, model.ElementDefinition{ID: "Patient.name.family", Path: "Patient.name.family", Min: model.Uint32Ptr(1)}),
	}
	if err := r.LoadAll(sds); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	r.Freeze()

	b, err := NewBatch(r, WithGeneratorOptions(snapshot.WithoutTypeExpansion()))
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	result := b.Run(context.Background(), []string{profileURL("family")})
	if !errors.Is(result.Results[0].Err, issue.KindAmbiguousPath) {
		t.Errorf("err = %v; want AmbiguousPath without type expansion", result.Results[0].Err)
	}

	b, err = NewBatch(r)
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	if result := b.Run(context.Background(), []string{profileURL("family")}); result.HasErrors() {
		t.Errorf("with type expansion: %v", result.Err())
	}
}
