// Package decision evaluates consent policies against requested field sets.
// Everything here is pure: no I/O, no clocks, no shared state.
package decision

import (
	"strings"
)

// Decision is the outcome tag of a policy evaluation.
type Decision string

const (
	DecisionDeny         Decision = "DENY"
	DecisionPartialAllow Decision = "PARTIAL_ALLOW"
	DecisionAllow        Decision = "ALLOW"
)

// String implements fmt.Stringer.
func (d Decision) String() string { return string(d) }

// PolicyDecision is the result of evaluating one or more policy layers.
// PermittedFields is always a subset of the requested fields and is sorted.
// Justifications are ordered with the most decisive reason first.
type PolicyDecision struct {
	Decision        Decision `json:"decision"`
	PermittedFields []string `json:"permitted_fields"`
	Justifications  []string `json:"justifications"`
}

// IsDeny reports whether the decision refuses access.
func (d PolicyDecision) IsDeny() bool {
	return d.Decision == DecisionDeny
}

// RequestContext carries request attributes that conditions are checked against.
type RequestContext struct {
	StudyID string
}

func formatFields(fields []string) string {
	return "[" + strings.Join(fields, ", ") + "]"
}
