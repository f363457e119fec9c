package issue

import (
	"fmt"
	"strings"
)

// DiagnosticID identifies a specific diagnostic message.
type DiagnosticID string

// Diagnostic IDs for projected invariants.
const (
	DiagConstraintCompileError DiagnosticID = "CONSTRAINT_COMPILE_ERROR"
	DiagConstraintNoExpression DiagnosticID = "CONSTRAINT_NO_EXPRESSION"
)

// Diagnostic IDs for projected bindings.
const (
	DiagBindingNoValueSet DiagnosticID = "BINDING_NO_VALUESET"
)

// Diagnostic IDs for projected slicings.
const (
	DiagSliceOverlap DiagnosticID = "SLICE_OVERLAP"
)

// Diagnostic IDs for loading.
const (
	DiagDifferentialIgnored DiagnosticID = "DIFFERENTIAL_IGNORED"
	DiagSourceSkipped       DiagnosticID = "SOURCE_SKIPPED"
)

// DiagnosticTemplate defines the structure for a diagnostic message.
type DiagnosticTemplate struct {
	ID       DiagnosticID
	Severity Severity
	Code     Code
	Template string
}

// diagnosticTemplates maps diagnostic IDs to their templates.
// Templates use {placeholder} syntax for variable substitution.
var diagnosticTemplates = map[DiagnosticID]DiagnosticTemplate{
	DiagConstraintCompileError: {
		Severity: SeverityWarning,
		Code:     CodeInvariant,
		Template: "Constraint '{key}' does not compile: {error}",
	},
	DiagConstraintNoExpression: {
		Severity: SeverityInformation,
		Code:     CodeInvariant,
		Template: "Constraint '{key}' has no FHIRPath expression",
	},
	DiagBindingNoValueSet: {
		Severity: SeverityWarning,
		Code:     CodeRequired,
		Template: "Required binding has no value set",
	},
	DiagSliceOverlap: {
		Severity: SeverityWarning,
		Code:     CodeStructure,
		Template: "Slices '{first}' and '{second}' cannot be told apart by their discriminators",
	},
	DiagDifferentialIgnored: {
		Severity: SeverityInformation,
		Code:     CodeInformational,
		Template: "Profile '{url}' ships a snapshot; its differential is ignored",
	},
	DiagSourceSkipped: {
		Severity: SeverityWarning,
		Code:     CodeProcessing,
		Template: "Skipped '{source}': {error}",
	},
}

// FormatDiagnostic renders the template for id with params.
func FormatDiagnostic(id DiagnosticID, params map[string]any) string {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		return string(id)
	}
	return formatTemplate(tmpl.Template, params)
}

// GetDiagnosticTemplate returns the template for a diagnostic ID.
func GetDiagnosticTemplate(id DiagnosticID) (DiagnosticTemplate, bool) {
	tmpl, ok := diagnosticTemplates[id]
	if ok {
		tmpl.ID = id
	}
	return tmpl, ok
}

// formatTemplate replaces {placeholder} with values from params.
func formatTemplate(template string, params map[string]any) string {
	result := template
	for key, value := range params {
		placeholder := "{" + key + "}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}
	return result
}

// AddWithID adds an issue using a diagnostic template and its default severity.
func (r *Result) AddWithID(id DiagnosticID, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.AddError(CodeProcessing, string(id), expression...)
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    tmpl.Severity,
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		MessageID:   string(id),
	})
}

// AddWarningWithID adds a warning using a diagnostic template.
func (r *Result) AddWarningWithID(id DiagnosticID, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.AddWarning(CodeProcessing, string(id), expression...)
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityWarning, // Override to warning
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		MessageID:   string(id),
	})
}
