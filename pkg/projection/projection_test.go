package projection

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gofhir/snapshot/pkg/constraint"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/registry"
	"github.com/gofhir/snapshot/pkg/snapshot"
)

const (
	patientURL = "http://hl7.org/fhir/StructureDefinition/Patient"
	profileURL = "http://example.org/StructureDefinition/mrn-patient"
	genderVS   = "http://hl7.org/fhir/ValueSet/administrative-gender|4.0.1"
)

func init() {
	logger.Disable()
}

func el(id string, min uint32, max string) model.ElementDefinition {
	return model.ElementDefinition{ID: id, Path: model.PathFromID(id), Min: model.Uint32Ptr(min), Max: max}
}

func generated(t *testing.T) *snapshot.Snapshot {
	t.Helper()

	root := el("Patient", 0, "*")
	root.Constraints = []model.Constraint{
		{Key: "dom-2", Severity: model.SeverityError, Human: "no nested contained", Expression: "contained.contained.empty()", XPath: "not(parent::f:contained)"},
	}
	gender := el("Patient.gender", 0, "1")
	gender.Short = model.StringPtr("male | female | other | unknown")
	gender.Binding = &model.Binding{Strength: model.BindingRequired, ValueSet: genderVS}
	language := el("Patient.language", 0, "1")
	language.Binding = &model.Binding{Strength: model.BindingPreferred, ValueSet: "http://hl7.org/fhir/ValueSet/languages"}
	identifier := el("Patient.identifier", 0, "*")
	identifier.Types = []model.TypeRef{{Code: "Identifier"}}

	patient := &model.StructureDefinition{
		URL:        patientURL,
		Name:       "Patient",
		Type:       "Patient",
		Derivation: model.DerivationSpecialization,
		Snapshot:   []model.ElementDefinition{root, identifier, gender, language},
	}

	decl := model.ElementDefinition{ID: "Patient.identifier", Path: "Patient.identifier"}
	decl.Slicing = &model.Slicing{
		Discriminator: []model.Discriminator{{Type: model.DiscriminatorValue, Path: "system"}},
		Rules:         model.RulesClosed,
	}
	mrn := model.ElementDefinition{ID: "Patient.identifier:mrn", Path: "Patient.identifier", SliceName: "mrn", Min: model.Uint32Ptr(1), Max: "1"}
	mrn.Constraints = []model.Constraint{{Key: "mrn-1", Severity: model.SeverityWarning, Expression: "value.matches('[0-9]+')"}}
	mrn.Binding = &model.Binding{Strength: model.BindingRequired, Description: "Hospital identifier types"}

	profile := &model.StructureDefinition{
		URL:            profileURL,
		Name:           "MRNPatient",
		Type:           "Patient",
		Derivation:     model.DerivationConstraint,
		BaseDefinition: patientURL,
		Differential:   []model.ElementDefinition{decl, mrn},
	}

	r := registry.New()
	if err := r.LoadAll([]*model.StructureDefinition{patient, profile}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	s, err := snapshot.New(r).Generate(profileURL)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return s
}

func TestProjectIdentity(t *testing.T) {
	tables := Project(generated(t))
	if tables.URL != profileURL || tables.Name != "MRNPatient" || tables.Type != "Patient" {
		t.Errorf("identity = %s %s %s", tables.URL, tables.Name, tables.Type)
	}
}

func TestProjectCardinalities(t *testing.T) {
	tables := Project(generated(t))

	want := []Cardinality{
		{Path: "Patient", Min: 0, Max: "*"},
		{Path: "Patient.identifier", Min: 0, Max: "*"},
		{Path: "Patient.identifier", SliceName: "mrn", Min: 1, Max: "1"},
		{Path: "Patient.gender", Min: 0, Max: "1"},
		{Path: "Patient.language", Min: 0, Max: "1"},
	}
	if d := cmp.Diff(want, tables.Cardinalities); d != "" {
		t.Errorf("cardinalities mismatch (-want +got):\n%s", d)
	}
	if c, ok := tables.Cardinality("Patient.identifier", "mrn"); !ok || c.Min != 1 {
		t.Errorf("Cardinality(identifier, mrn) = %+v, %v", c, ok)
	}
}

func TestProjectInvariants(t *testing.T) {
	tables := Project(generated(t))

	want := []Invariant{
		{
			Path:       "Patient",
			Key:        "dom-2",
			Severity:   model.SeverityError,
			Human:      "no nested contained",
			Expression: "contained.contained.empty()",
			XPath:      "not(parent::f:contained)",
		},
		{
			Path:       "Patient.identifier",
			SliceName:  "mrn",
			Key:        "mrn-1",
			Severity:   model.SeverityWarning,
			Expression: "value.matches('[0-9]+')",
			Source:     profileURL,
		},
	}
	if d := cmp.Diff(want, tables.Invariants); d != "" {
		t.Errorf("invariants mismatch (-want +got):\n%s", d)
	}
	if _, ok := tables.Invariant("Patient.identifier", "", "mrn-1"); ok {
		t.Error("mrn-1 should only be attached to the mrn slice")
	}
}

func TestProjectRequiredBindings(t *testing.T) {
	tables := Project(generated(t))

	want := []RequiredBinding{
		{Path: "Patient.identifier", SliceName: "mrn", Description: "Hospital identifier types"},
		{Path: "Patient.gender", ValueSet: genderVS, Description: "male | female | other | unknown"},
	}
	if d := cmp.Diff(want, tables.RequiredBindings); d != "" {
		t.Errorf("required bindings mismatch (-want +got):\n%s", d)
	}

	if got := len(tables.Diagnostics.Issues); got != 1 {
		t.Fatalf("diagnostics = %d; want 1", got)
	}
	iss := tables.Diagnostics.Issues[0]
	if iss.MessageID != string(issue.DiagBindingNoValueSet) || iss.Expression[0] != "Patient.identifier:mrn" {
		t.Errorf("diagnostic = %+v", iss)
	}
}

func TestProjectSlicings(t *testing.T) {
	tables := Project(generated(t))

	want := []SliceGroup{{
		Path:           "Patient.identifier",
		Discriminators: []model.Discriminator{{Type: model.DiscriminatorValue, Path: "system"}},
		Rules:          model.RulesClosed,
		Slices:         []string{"mrn"},
	}}
	if d := cmp.Diff(want, tables.Slicings); d != "" {
		t.Errorf("slicings mismatch (-want +got):\n%s", d)
	}
}

func TestProjectorChecksExpressions(t *testing.T) {
	s := generated(t)
	bad := *s
	bad.Elements = model.CloneElements(s.Elements)
	bad.Elements[0].Constraints = append(bad.Elements[0].Constraints, model.Constraint{Key: "bad-1", Expression: "name.where("})

	tables := NewProjector(constraint.New(16)).Project(&bad)

	var compileErrors int
	for _, iss := range tables.Diagnostics.Issues {
		if iss.MessageID == string(issue.DiagConstraintCompileError) {
			compileErrors++
			if iss.Expression[0] != "Patient" {
				t.Errorf("compile error reported at %v; want Patient", iss.Expression)
			}
		}
	}
	if compileErrors != 1 {
		t.Errorf("compile errors = %d; want 1", compileErrors)
	}
	if _, ok := tables.Invariant("Patient", "", "bad-1"); !ok {
		t.Error("invariant that fails to compile should still be projected")
	}
}

func TestProjectReportsOverlappingSlices(t *testing.T) {
	system := func(slice, uri string, asPattern bool) model.ElementDefinition {
		e := el("Patient.identifier:"+slice+".system", 1, "1")
		e.SliceName = slice
		v := &model.TypedValue{Type: "Uri", Value: []byte(`"` + uri + `"`)}
		if asPattern {
			e.Pattern = v
		} else {
			e.Fixed = v
		}
		return e
	}
	slice := func(name string) model.ElementDefinition {
		e := el("Patient.identifier:"+name, 0, "1")
		e.SliceName = name
		return e
	}

	decl := el("Patient.identifier", 0, "*")
	decl.Slicing = &model.Slicing{
		Discriminator: []model.Discriminator{{Type: model.DiscriminatorValue, Path: "system"}},
		Rules:         model.RulesOpen,
	}
	s := &snapshot.Snapshot{
		URL:  profileURL,
		Type: "Patient",
		Elements: []model.ElementDefinition{
			el("Patient", 0, "*"),
			decl,
			slice("mrn"), system("mrn", "http://hospital.example.org/mrn", false),
			slice("mrn2"), system("mrn2", "http://hospital.example.org/mrn", true),
			slice("ssn"), system("ssn", "http://hl7.org/fhir/sid/us-ssn", false),
			slice("other"),
		},
	}

	tables := Project(s)

	var got [][]string
	for _, iss := range tables.Diagnostics.Issues {
		if iss.MessageID == string(issue.DiagSliceOverlap) {
			got = append(got, iss.Expression)
		}
	}
	if d := cmp.Diff([][]string{{"Patient.identifier"}}, got); d != "" {
		t.Errorf("overlap diagnostics mismatch (-want +got):\n%s", d)
	}
	if iss := tables.Diagnostics.Issues[0]; iss.Severity != issue.SeverityWarning {
		t.Errorf("severity = %s; want warning", iss.Severity)
	}
}
