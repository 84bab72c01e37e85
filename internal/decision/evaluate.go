package decision

import (
	"fmt"

	"consentgate/internal/consent"
	fieldset "consentgate/pkg/platform/strings"
)

// Evaluate maps a policy and a requested field set to a decision.
//
// Rule order:
//  1. nothing permitted from a non-empty request -> DENY
//  2. some permitted, some rejected -> PARTIAL_ALLOW
//  3. everything permitted -> ALLOW
//  4. empty request -> DENY
//
// A field listed in both allowed and denied is denied, and counts as rejected.
func Evaluate(policy *consent.Policy, requested []string) PolicyDecision {
	requestedSet := fieldset.Set(requested)
	allowed := fieldset.Set(policy.AllowedFields)
	denied := fieldset.Set(policy.DeniedFields)

	permitted := make(map[string]struct{})
	rejected := make(map[string]struct{})
	conflicts := make(map[string]struct{})
	uncovered := make(map[string]struct{})
	for f := range requestedSet {
		_, isAllowed := allowed[f]
		_, isDenied := denied[f]
		switch {
		case isDenied:
			conflicts[f] = struct{}{}
			rejected[f] = struct{}{}
		case isAllowed:
			permitted[f] = struct{}{}
		default:
			rejected[f] = struct{}{}
			uncovered[f] = struct{}{}
		}
	}

	var primary string
	var outcome Decision
	switch {
	case len(permitted) == 0 && len(requestedSet) > 0:
		outcome = DecisionDeny
		primary = "No permitted fields from requested: " + formatFields(fieldset.SortedKeys(requestedSet))
	case len(rejected) > 0 && len(permitted) > 0:
		outcome = DecisionPartialAllow
		primary = fmt.Sprintf("Partial access: %d of %d fields allowed", len(permitted), len(requestedSet))
	case len(permitted) > 0:
		outcome = DecisionAllow
		primary = fmt.Sprintf("Full access granted for %d fields", len(permitted))
	default:
		outcome = DecisionDeny
		primary = "No fields requested"
	}

	justifications := []string{primary}
	if len(conflicts) > 0 {
		justifications = append(justifications, "Explicitly denied fields: "+formatFields(fieldset.SortedKeys(conflicts)))
	}
	if len(uncovered) > 0 {
		justifications = append(justifications, "Fields not covered by consent: "+formatFields(fieldset.SortedKeys(uncovered)))
	}

	return PolicyDecision{
		Decision:        outcome,
		PermittedFields: fieldset.SortedKeys(permitted),
		Justifications:  justifications,
	}
}

// EvaluateConditions checks the structural conditions of a policy. A required
// study id that does not match exactly forces DENY; every other condition is
// advisory and only adds a justification.
func EvaluateConditions(policy *consent.Policy, rc RequestContext) PolicyDecision {
	c := policy.Conditions
	var justifications []string

	if c.AnonymizationRequired {
		justifications = append(justifications, "Anonymization required - PII will be masked")
	}
	if c.StudyIDRequired != "" {
		if rc.StudyID != c.StudyIDRequired {
			got := rc.StudyID
			if got == "" {
				got = "none"
			}
			return PolicyDecision{
				Decision:        DecisionDeny,
				PermittedFields: []string{},
				Justifications: []string{
					fmt.Sprintf("Study ID mismatch: required %s, got %s", c.StudyIDRequired, got),
				},
			}
		}
		justifications = append(justifications, "Study ID verified: "+rc.StudyID)
	}
	if c.TimeWindow != "" {
		justifications = append(justifications, "Time window restriction: "+c.TimeWindow)
	}
	if c.AggregationLevel != "" {
		justifications = append(justifications, "Aggregation required at level: "+c.AggregationLevel)
	}
	if c.MaxRecords > 0 {
		justifications = append(justifications, fmt.Sprintf("Limited to %d records", c.MaxRecords))
	}

	allowed := fieldset.Set(policy.AllowedFields)
	for _, f := range policy.DeniedFields {
		delete(allowed, f)
	}
	if justifications == nil {
		justifications = []string{}
	}
	return PolicyDecision{
		Decision:        DecisionAllow,
		PermittedFields: fieldset.SortedKeys(allowed),
		Justifications:  justifications,
	}
}

// EvaluateRequest runs field and condition evaluation and combines them. A
// condition denial is the decisive reason and leads the justifications.
func EvaluateRequest(policy *consent.Policy, requested []string, rc RequestContext) PolicyDecision {
	fields := Evaluate(policy, requested)
	conditions := EvaluateConditions(policy, rc)
	if conditions.IsDeny() {
		return Combine(conditions, fields)
	}
	return Combine(fields, conditions)
}
