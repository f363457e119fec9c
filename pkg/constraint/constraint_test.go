package constraint

import (
	"strings"
	"testing"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
)

func TestCompileCaches(t *testing.T) {
	c := New(0)

	first, err := c.Compile("name.exists()")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := c.Compile("name.exists()")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first != second {
		t.Error("second Compile should return the cached expression")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d; want 1", c.Len())
	}
}

func TestCompileErrorNotCached(t *testing.T) {
	c := New(16)
	if _, err := c.Compile("name.where("); err == nil {
		t.Fatal("Compile succeeded on an unbalanced expression")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d; want 0", c.Len())
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		constraints []model.Constraint
		wantOK      bool
		wantIDs     []string
		wantSev     []issue.Severity
	}{
		{
			name: "all compile",
			constraints: []model.Constraint{
				{Key: "pat-1", Expression: "name.exists() or identifier.exists()"},
				{Key: "pat-2", Expression: "gender = 'male' implies birthDate.exists()"},
			},
			wantOK: true,
		},
		{
			name:        "no expression",
			constraints: []model.Constraint{{Key: "ele-1", XPath: "@value|f:*|h:div"}},
			wantOK:      true,
			wantIDs:     []string{string(issue.DiagConstraintNoExpression)},
			wantSev:     []issue.Severity{issue.SeverityInformation},
		},
		{
			name: "compile failure",
			constraints: []model.Constraint{
				{Key: "bad-1", Expression: "name.where("},
				{Key: "pat-1", Expression: "name.exists()"},
			},
			wantOK:  false,
			wantIDs: []string{string(issue.DiagConstraintCompileError)},
			wantSev: []issue.Severity{issue.SeverityWarning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(16)
			result := issue.NewResult()

			if got := c.Check("Patient", tt.constraints, result); got != tt.wantOK {
				t.Errorf("Check() = %v; want %v", got, tt.wantOK)
			}
			if len(result.Issues) != len(tt.wantIDs) {
				t.Fatalf("issues = %+v; want %d", result.Issues, len(tt.wantIDs))
			}
			for i, iss := range result.Issues {
				if iss.MessageID != tt.wantIDs[i] {
					t.Errorf("issue %d id = %s; want %s", i, iss.MessageID, tt.wantIDs[i])
				}
				if iss.Severity != tt.wantSev[i] {
					t.Errorf("issue %d severity = %s; want %s", i, iss.Severity, tt.wantSev[i])
				}
				if len(iss.Expression) != 1 || iss.Expression[0] != "Patient" {
					t.Errorf("issue %d expression = %v; want [Patient]", i, iss.Expression)
				}
			}
		})
	}
}

func TestCheckMessageNamesKey(t *testing.T) {
	c := New(16)
	result := issue.NewResult()
	c.Check("Observation.value[x]", []model.Constraint{{Key: "obs-bad", Expression: "value.as("}}, result)

	if len(result.Issues) != 1 {
		t.Fatalf("issues = %d; want 1", len(result.Issues))
	}
	if msg := result.Issues[0].Diagnostics; !strings.Contains(msg, "obs-bad") {
		t.Errorf("diagnostics = %q; want it to name obs-bad", msg)
	}
}
