package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewResult(t *testing.T) {
	r := NewResult()
	if r == nil {
		t.Fatal("NewResult() returned nil")
	}
	if len(r.Issues) != 0 {
		t.Errorf("NewResult() should have no issues, got %d", len(r.Issues))
	}
}

func TestResultCounts(t *testing.T) {
	r := NewResult()
	if r.HasErrors() {
		t.Error("Empty result should not have errors")
	}

	r.AddWarning(CodeInvariant, "Warning", "Patient.name")
	r.AddInfo(CodeInformational, "Info")
	if r.HasErrors() {
		t.Error("Result with only warnings should not have errors")
	}

	r.AddError(CodeProcessing, "Error", "Patient.identifier")
	if !r.HasErrors() {
		t.Error("Result with errors should have errors")
	}
	if r.ErrorCount() != 1 || r.WarningCount() != 1 || r.InfoCount() != 1 {
		t.Errorf("counts = (%d, %d, %d); want (1, 1, 1)", r.ErrorCount(), r.WarningCount(), r.InfoCount())
	}

	warnings := r.Filter(SeverityWarning)
	if len(warnings.Issues) != 1 || warnings.Issues[0].Expression[0] != "Patient.name" {
		t.Errorf("Filter(warning) = %v", warnings.Issues)
	}
}

func TestResultMerge(t *testing.T) {
	a := NewResult()
	a.AddError(CodeProcessing, "a")
	b := NewResult()
	b.AddWarning(CodeProcessing, "b")

	a.Merge(b)
	a.Merge(nil)
	if len(a.Issues) != 2 {
		t.Errorf("merged result has %d issues; want 2", len(a.Issues))
	}
}

func TestAddWithID(t *testing.T) {
	r := NewResult()
	r.AddWithID(DiagConstraintCompileError, map[string]any{"key": "pat-1", "error": "unexpected token"}, "Patient")

	if len(r.Issues) != 1 {
		t.Fatalf("Result should have 1 issue, got %d", len(r.Issues))
	}
	got := r.Issues[0]
	if got.MessageID != string(DiagConstraintCompileError) {
		t.Errorf("MessageID = %q; want %q", got.MessageID, DiagConstraintCompileError)
	}
	if got.Severity != SeverityWarning {
		t.Errorf("Severity = %q; want %q", got.Severity, SeverityWarning)
	}
	want := "Constraint 'pat-1' does not compile: unexpected token"
	if got.Diagnostics != want {
		t.Errorf("Diagnostics = %q; want %q", got.Diagnostics, want)
	}
}

func TestAddWithUnknownID(t *testing.T) {
	r := NewResult()
	r.AddWithID(DiagnosticID("NOPE"), nil)
	if len(r.Issues) != 1 || r.Issues[0].Diagnostics != "NOPE" {
		t.Errorf("unknown id should fall back to a processing error, got %v", r.Issues)
	}
}

func TestErrorRendering(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "unknown profile",
			err:  UnknownProfile("http://example.org/missing"),
			want: []string{"unknown profile", "http://example.org/missing"},
		},
		{
			name: "circular base",
			err:  CircularBase([]string{"a", "b", "a"}),
			want: []string{"a -> b -> a"},
		},
		{
			name: "cardinality widening",
			err:  CardinalityWidening("http://p", "Base.field", Cardinality{Min: 1, Max: "1"}, Cardinality{Min: 0, Max: "*"}),
			want: []string{"http://p", "Base.field", "1..1", "0..*"},
		},
		{
			name: "duplicate constraint key",
			err:  DuplicateConstraintKey("http://p", "Base.value", "con-1", "value.exists()", "value.length() > 0"),
			want: []string{"con-1", "Base.value", "value.exists()", "value.length() > 0"},
		},
		{
			name: "closed slicing",
			err:  ClosedSlicingExtended("http://p", "Patient.identifier", "extra"),
			want: []string{"closed", "extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("Error() = %q; want it to contain %q", msg, w)
				}
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("generate: %w", TypeNotPermitted("http://p", "Base.value", "Quantity"))

	if !errors.Is(err, KindTypeNotPermitted) {
		t.Error("errors.Is should match the kind")
	}
	if !errors.Is(err, &Error{Kind: KindTypeNotPermitted}) {
		t.Error("errors.Is should match an *Error of the same kind")
	}
	if errors.Is(err, KindAmbiguousPath) {
		t.Error("errors.Is should not match another kind")
	}
	if got := KindOf(err); got != KindTypeNotPermitted {
		t.Errorf("KindOf = %q; want %q", got, KindTypeNotPermitted)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q; want empty", got)
	}
}
