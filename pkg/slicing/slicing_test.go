package slicing

import (
	"errors"
	"testing"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
)

const profileURL = "http://example.org/StructureDefinition/mrn-patient"

func el(id string, min uint32, max string) model.ElementDefinition {
	return model.ElementDefinition{
		ID:   id,
		Path: model.PathFromID(id),
		Min:  model.Uint32Ptr(min),
		Max:  max,
	}
}

// patientElements returns a small Patient snapshot with identifier sliced
// by system and an unsliced extension.
func patientElements(rules model.SlicingRules) []model.ElementDefinition {
	identifier := el("Patient.identifier", 0, "*")
	identifier.Types = []model.TypeRef{{Code: "Identifier"}}
	identifier.Slicing = &model.Slicing{
		Discriminator: []model.Discriminator{{Type: model.DiscriminatorValue, Path: "system"}},
		Rules:         rules,
	}
	return []model.ElementDefinition{
		el("Patient", 0, "*"),
		el("Patient.extension", 0, "*"),
		identifier,
		el("Patient.identifier.system", 0, "1"),
		el("Patient.identifier.value", 0, "1"),
		el("Patient.name", 0, "*"),
	}
}

func ids(elems []model.ElementDefinition) []string {
	out := make([]string, len(elems))
	for i := range elems {
		out[i] = elems[i].ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddSliceCreatesSubtree(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)

	out, at, err := s.AddSlice(elems, 2, "mrn")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}
	if at != 5 {
		t.Errorf("slice root index = %d; want 5", at)
	}

	want := []string{
		"Patient",
		"Patient.extension",
		"Patient.identifier",
		"Patient.identifier.system",
		"Patient.identifier.value",
		"Patient.identifier:mrn",
		"Patient.identifier:mrn.system",
		"Patient.identifier:mrn.value",
		"Patient.name",
	}
	if got := ids(out); !equalStrings(got, want) {
		t.Fatalf("ids = %v; want %v", got, want)
	}

	root := out[5]
	if root.SliceName != "mrn" || root.Path != "Patient.identifier" {
		t.Errorf("root = %s:%s; want Patient.identifier:mrn", root.Path, root.SliceName)
	}
	if root.Slicing != nil {
		t.Error("slice root should not carry slicing")
	}
	if root.MinValue() != 0 || root.MaxValue() != "*" {
		t.Errorf("root cardinality = %d..%s; want 0..*", root.MinValue(), root.MaxValue())
	}
	if out[6].SliceName != "mrn" || out[6].Path != "Patient.identifier.system" {
		t.Errorf("child = %s:%s; want Patient.identifier.system:mrn", out[6].Path, out[6].SliceName)
	}
	if out[2].Slicing == nil {
		t.Error("declarator lost its slicing")
	}
}

func TestAddSliceKeepsAppearanceOrder(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)

	out, _, err := s.AddSlice(elems, 2, "mrn")
	if err != nil {
		t.Fatalf("AddSlice(mrn): %v", err)
	}
	out, at, err := s.AddSlice(out, 2, "ssn")
	if err != nil {
		t.Fatalf("AddSlice(ssn): %v", err)
	}
	if at != 8 {
		t.Errorf("ssn index = %d; want 8", at)
	}
	if FindSlice(out, 2, "mrn") != 5 || FindSlice(out, 2, "ssn") != 8 {
		t.Errorf("FindSlice = %d, %d; want 5, 8", FindSlice(out, 2, "mrn"), FindSlice(out, 2, "ssn"))
	}
	if out[len(out)-1].ID != "Patient.name" {
		t.Errorf("last element = %s; want Patient.name", out[len(out)-1].ID)
	}
}

func TestAddSliceRejectsDuplicate(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)

	out, _, err := s.AddSlice(elems, 2, "mrn")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}
	if _, _, err := s.AddSlice(out, 2, "mrn"); !errors.Is(err, issue.KindIncompatibleSlicing) {
		t.Errorf("AddSlice duplicate = %v; want IncompatibleSlicing", err)
	}
}

func TestAddSliceClosed(t *testing.T) {
	t.Run("inherited closed", func(t *testing.T) {
		elems := patientElements(model.RulesClosed)
		s := New(profileURL, elems)

		_, _, err := s.AddSlice(elems, 2, "mrn")
		var e *issue.Error
		if !errors.As(err, &e) || e.Kind != issue.KindClosedSlicingExtended {
			t.Fatalf("AddSlice = %v; want ClosedSlicingExtended", err)
		}
		if e.SliceName != "mrn" || e.Path != "Patient.identifier" || e.Profile != profileURL {
			t.Errorf("error = %+v", e)
		}
	})

	t.Run("closed by the same profile", func(t *testing.T) {
		base := patientElements(model.RulesOpen)
		s := New(profileURL, base)

		elems := model.CloneElements(base)
		elems[2].Slicing.Rules = model.RulesClosed
		if _, _, err := s.AddSlice(elems, 2, "mrn"); err != nil {
			t.Errorf("AddSlice: %v", err)
		}
	})
}

func TestAddSliceSynthesizesExtensionSlicing(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)

	out, at, err := s.AddSlice(elems, 1, "nickname")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}
	decl := out[1]
	if decl.Slicing == nil || len(decl.Slicing.Discriminator) != 1 {
		t.Fatalf("declarator slicing = %+v; want url discriminator", decl.Slicing)
	}
	if d := decl.Slicing.Discriminator[0]; d.Type != model.DiscriminatorValue || d.Path != "url" {
		t.Errorf("discriminator = %+v; want value:url", d)
	}
	if at != 2 || out[2].ID != "Patient.extension:nickname" {
		t.Errorf("slice at %d = %s; want Patient.extension:nickname right after the declarator", at, out[at].ID)
	}
}

func TestAddSliceWithoutDeclarator(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)

	if _, _, err := s.AddSlice(elems, 5, "official"); !errors.Is(err, issue.KindIncompatibleSlicing) {
		t.Errorf("AddSlice on Patient.name = %v; want IncompatibleSlicing", err)
	}
}

func TestAddSliceSkipsNestedSlices(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	ext := el("Patient.identifier.extension", 0, "*")
	ext.Slicing = ExtensionSlicing()
	nested := el("Patient.identifier.extension:assigner", 0, "1")
	nested.SliceName = "assigner"
	elems = append(elems[:5], append([]model.ElementDefinition{ext, nested}, elems[5:]...)...)

	s := New(profileURL, elems)
	out, at, err := s.AddSlice(elems, 2, "mrn")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}

	seen := make(map[model.ElementKey]bool)
	for i := range out {
		k := out[i].Key()
		if seen[k] {
			t.Errorf("duplicate element key %s", k)
		}
		seen[k] = true
	}
	if out[at+3].ID != "Patient.identifier:mrn.extension" {
		t.Errorf("out[%d] = %s; want Patient.identifier:mrn.extension", at+3, out[at+3].ID)
	}
}

func TestNestedSlicesWithSameName(t *testing.T) {
	slice := func(id, name string) model.ElementDefinition {
		e := el(id, 0, "1")
		e.SliceName = name
		return e
	}
	ext := el("Patient.extension", 0, "*")
	ext.Slicing = ExtensionSlicing()
	raceExt := slice("Patient.extension:race.extension", "race")
	raceExt.Slicing = ExtensionSlicing()

	elems := []model.ElementDefinition{
		el("Patient", 0, "*"),
		ext,
		slice("Patient.extension:race", "race"),
		raceExt,
		slice("Patient.extension:race.extension:text", "text"),
		slice("Patient.extension:eth", "eth"),
		slice("Patient.extension:eth.extension", "eth"),
	}

	decl := FindDeclarator(elems, "Patient.extension.extension", "Patient.extension:eth")
	if decl != 6 {
		t.Fatalf("FindDeclarator(eth) = %d; want 6", decl)
	}

	s := New(profileURL, elems)
	out, at, err := s.AddSlice(elems, decl, "text")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}
	if out[at].ID != "Patient.extension:eth.extension:text" || out[at].SliceName != "text" {
		t.Errorf("new slice = %s (%s); want Patient.extension:eth.extension:text", out[at].ID, out[at].SliceName)
	}

	seen := make(map[model.ElementKey]bool)
	for i := range out {
		k := out[i].Key()
		if seen[k] {
			t.Errorf("duplicate element key %s", k)
		}
		seen[k] = true
	}
}

func TestTreeHelpers(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)
	elems, _, _ = s.AddSlice(elems, 2, "mrn")

	tests := []struct {
		index, parent int
	}{
		{0, -1},
		{1, 0},
		{3, 2},
		{5, 0},
		{6, 5},
		{8, 0},
	}
	for _, tt := range tests {
		if got := Parent(elems, tt.index); got != tt.parent {
			t.Errorf("Parent(%s) = %d; want %d", elems[tt.index].ID, got, tt.parent)
		}
	}

	if got := SubtreeEnd(elems, 2); got != 5 {
		t.Errorf("SubtreeEnd(identifier) = %d; want 5", got)
	}
	if got := GroupEnd(elems, 2); got != 8 {
		t.Errorf("GroupEnd(identifier) = %d; want 8", got)
	}
	if got := FindDeclarator(elems, "Patient.identifier.system", "Patient.identifier:mrn"); got != 6 {
		t.Errorf("FindDeclarator(system, mrn) = %d; want 6", got)
	}
	if !IsSliceRoot(&elems[5]) || IsSliceRoot(&elems[6]) {
		t.Error("IsSliceRoot misclassified the mrn slice")
	}
}

func TestContexts(t *testing.T) {
	elems := patientElements(model.RulesOpen)
	s := New(profileURL, elems)
	elems, _, _ = s.AddSlice(elems, 2, "mrn")
	elems, _, _ = s.AddSlice(elems, 1, "nickname")

	contexts := Contexts(elems)
	if len(contexts) != 2 {
		t.Fatalf("Contexts = %d; want 2", len(contexts))
	}
	if contexts[0].Path != "Patient.extension" || contexts[1].Path != "Patient.identifier" {
		t.Errorf("context paths = %s, %s", contexts[0].Path, contexts[1].Path)
	}
	id := contexts[1]
	if len(id.Slices) != 1 || id.Slices[0].Name != "mrn" {
		t.Errorf("identifier slices = %+v; want [mrn]", id.Slices)
	}
	if id.Rules != model.RulesOpen {
		t.Errorf("Rules = %s; want open", id.Rules)
	}
	for _, c := range contexts {
		for _, sl := range c.Slices {
			if sl.Index <= c.Index {
				t.Errorf("slice %s precedes its declarator", sl.ID)
			}
		}
	}
}

func TestAddSliceSynthesizesChoiceSlicing(t *testing.T) {
	value := el("Observation.value[x]", 0, "1")
	value.Types = []model.TypeRef{{Code: "Quantity"}, {Code: "string"}}
	elems := []model.ElementDefinition{el("Observation", 0, "*"), value}
	s := New(profileURL, elems)

	out, at, err := s.AddSlice(elems, 1, "valueQuantity")
	if err != nil {
		t.Fatalf("AddSlice: %v", err)
	}
	d := out[1].Slicing
	if d == nil || len(d.Discriminator) != 1 || d.Discriminator[0].Type != model.DiscriminatorByType || d.Discriminator[0].Path != "$this" {
		t.Errorf("declarator slicing = %+v; want type:$this", d)
	}
	if out[at].ID != "Observation.value[x]:valueQuantity" || out[at].MaxValue() != "1" {
		t.Errorf("slice = %s %s; want Observation.value[x]:valueQuantity with max 1", out[at].ID, out[at].MaxValue())
	}
}
