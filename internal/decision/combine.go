package decision

import (
	fieldset "consentgate/pkg/platform/strings"
)

// Combine merges decisions from several policy layers, most restrictive wins.
// The permitted set is the intersection of all inputs; the outcome and field set
// do not depend on input order, justifications are concatenated in input order.
func Combine(decisions ...PolicyDecision) PolicyDecision {
	switch len(decisions) {
	case 0:
		return PolicyDecision{
			Decision:        DecisionDeny,
			PermittedFields: []string{},
			Justifications:  []string{"No policies to evaluate"},
		}
	case 1:
		return decisions[0]
	}

	permitted := fieldset.Set(decisions[0].PermittedFields)
	var justifications []string
	anyPartial := false
	for i, d := range decisions {
		if i > 0 {
			next := fieldset.Set(d.PermittedFields)
			for f := range permitted {
				if _, ok := next[f]; !ok {
					delete(permitted, f)
				}
			}
		}
		if d.Decision == DecisionPartialAllow {
			anyPartial = true
		}
		justifications = append(justifications, d.Justifications...)
	}
	if justifications == nil {
		justifications = []string{}
	}

	outcome := DecisionAllow
	switch {
	case len(permitted) == 0:
		outcome = DecisionDeny
	case anyPartial:
		outcome = DecisionPartialAllow
	}

	return PolicyDecision{
		Decision:        outcome,
		PermittedFields: fieldset.SortedKeys(permitted),
		Justifications:  justifications,
	}
}
