// Package constraint compiles the FHIRPath expressions of invariants to
// report the ones that do not parse. Expressions are never evaluated.
package constraint

import (
	"github.com/gofhir/fhirpath"

	"github.com/gofhir/snapshot/cache"
	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/model"
)

// DefaultCapacity is the number of compiled expressions kept by New.
const DefaultCapacity = 4096

// Checker compiles invariant expressions. It is safe for concurrent use.
type Checker struct {
	// Compiled FHIRPath expressions by source text. Failed compilations
	// are not cached.
	exprCache *cache.Cache[string, *fhirpath.Expression]
}

// New creates a Checker keeping up to capacity compiled expressions.
// A capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Checker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Checker{
		exprCache: cache.New[string, *fhirpath.Expression](capacity),
	}
}

// Compile returns the compiled form of expr.
func (c *Checker) Compile(expr string) (*fhirpath.Expression, error) {
	return c.exprCache.Do(expr, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(expr)
	})
}

// Check compiles the expression of every constraint and records a
// diagnostic at path for each constraint that has no expression or does
// not compile. It reports whether all expressions compiled.
func (c *Checker) Check(path string, constraints []model.Constraint, result *issue.Result) bool {
	ok := true
	for _, con := range constraints {
		if con.Expression == "" {
			result.AddWithID(issue.DiagConstraintNoExpression, map[string]any{"key": con.Key}, path)
			continue
		}
		if _, err := c.Compile(con.Expression); err != nil {
			result.AddWarningWithID(
				issue.DiagConstraintCompileError,
				map[string]any{
					"key":   con.Key,
					"error": err.Error(),
				},
				path,
			)
			ok = false
		}
	}
	return ok
}

// Len returns the number of cached compiled expressions.
func (c *Checker) Len() int {
	return c.exprCache.Len()
}
