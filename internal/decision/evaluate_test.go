package decision

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentgate/internal/consent"
)

func researchPolicy() *consent.Policy {
	return &consent.Policy{
		SubjectID:       "p1",
		Purpose:         "RESEARCH",
		AllowedFields:   []string{"age", "gender"},
		DeniedFields:    []string{"ssn"},
		ConfidenceScore: 0.95,
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("partial allow with explicit denial", func(t *testing.T) {
		d := Evaluate(researchPolicy(), []string{"age", "ssn", "notes"})

		assert.Equal(t, DecisionPartialAllow, d.Decision)
		assert.Equal(t, []string{"age"}, d.PermittedFields)
		require.Len(t, d.Justifications, 3)
		assert.Equal(t, "Partial access: 1 of 3 fields allowed", d.Justifications[0])
		assert.Equal(t, "Explicitly denied fields: [ssn]", d.Justifications[1])
		assert.Equal(t, "Fields not covered by consent: [notes]", d.Justifications[2])
	})

	t.Run("full access", func(t *testing.T) {
		d := Evaluate(researchPolicy(), []string{"gender", "age"})

		assert.Equal(t, DecisionAllow, d.Decision)
		assert.Equal(t, []string{"age", "gender"}, d.PermittedFields)
		assert.Equal(t, []string{"Full access granted for 2 fields"}, d.Justifications)
	})

	t.Run("nothing permitted", func(t *testing.T) {
		d := Evaluate(researchPolicy(), []string{"ssn", "notes"})

		assert.Equal(t, DecisionDeny, d.Decision)
		assert.Empty(t, d.PermittedFields)
		assert.Equal(t, "No permitted fields from requested: [notes, ssn]", d.Justifications[0])
	})

	t.Run("denial wins over allow", func(t *testing.T) {
		p := researchPolicy()
		p.AllowedFields = append(p.AllowedFields, "ssn")

		d := Evaluate(p, []string{"age", "ssn"})
		assert.Equal(t, DecisionPartialAllow, d.Decision)
		assert.Equal(t, []string{"age"}, d.PermittedFields)
		assert.Contains(t, d.Justifications, "Explicitly denied fields: [ssn]")
	})

	t.Run("empty request", func(t *testing.T) {
		d := Evaluate(researchPolicy(), nil)
		assert.Equal(t, DecisionDeny, d.Decision)
		assert.Empty(t, d.PermittedFields)
	})

	t.Run("duplicate requested fields count once", func(t *testing.T) {
		d := Evaluate(researchPolicy(), []string{"age", "age", "notes"})
		assert.Equal(t, "Partial access: 1 of 2 fields allowed", d.Justifications[0])
	})
}

func TestEvaluateConditions(t *testing.T) {
	t.Run("study id mismatch denies", func(t *testing.T) {
		p := researchPolicy()
		p.Conditions.StudyIDRequired = "S1"

		d := EvaluateConditions(p, RequestContext{StudyID: "S2"})
		assert.Equal(t, DecisionDeny, d.Decision)
		assert.Empty(t, d.PermittedFields)
		assert.Equal(t, []string{"Study ID mismatch: required S1, got S2"}, d.Justifications)
	})

	t.Run("missing study id denies", func(t *testing.T) {
		p := researchPolicy()
		p.Conditions.StudyIDRequired = "S1"

		d := EvaluateConditions(p, RequestContext{})
		assert.Equal(t, DecisionDeny, d.Decision)
		assert.Equal(t, "Study ID mismatch: required S1, got none", d.Justifications[0])
	})

	t.Run("advisory conditions only add justifications", func(t *testing.T) {
		p := researchPolicy()
		p.Conditions = consent.Conditions{
			AnonymizationRequired: true,
			StudyIDRequired:       "S1",
			AggregationLevel:      "cohort",
			MaxRecords:            100,
			TimeWindow:            "2025-01-01/2025-12-31",
		}

		d := EvaluateConditions(p, RequestContext{StudyID: "S1"})
		assert.Equal(t, DecisionAllow, d.Decision)
		assert.Equal(t, []string{"age", "gender"}, d.PermittedFields)
		assert.Equal(t, []string{
			"Anonymization required - PII will be masked",
			"Study ID verified: S1",
			"Time window restriction: 2025-01-01/2025-12-31",
			"Aggregation required at level: cohort",
			"Limited to 100 records",
		}, d.Justifications)
	})

	t.Run("denied fields are never permitted", func(t *testing.T) {
		p := researchPolicy()
		p.AllowedFields = []string{"age", "ssn"}
		d := EvaluateConditions(p, RequestContext{})
		assert.Equal(t, []string{"age"}, d.PermittedFields)
	})
}

func TestEvaluateRequest(t *testing.T) {
	t.Run("study id mismatch overrides field allow", func(t *testing.T) {
		p := researchPolicy()
		p.Conditions.StudyIDRequired = "S1"

		require.Equal(t, DecisionAllow, Evaluate(p, []string{"age"}).Decision)

		d := EvaluateRequest(p, []string{"age"}, RequestContext{StudyID: "S2"})
		assert.Equal(t, DecisionDeny, d.Decision)
		assert.Empty(t, d.PermittedFields)
		assert.Equal(t, "Study ID mismatch: required S1, got S2", d.Justifications[0])
	})

	t.Run("field reason leads when conditions pass", func(t *testing.T) {
		p := researchPolicy()
		p.Conditions.MaxRecords = 10

		d := EvaluateRequest(p, []string{"age", "notes"}, RequestContext{})
		assert.Equal(t, DecisionPartialAllow, d.Decision)
		assert.Equal(t, []string{"age"}, d.PermittedFields)
		assert.Equal(t, "Partial access: 1 of 2 fields allowed", d.Justifications[0])
		assert.Contains(t, d.Justifications, "Limited to 10 records")
	})
}

func TestEvaluate_PermittedIsSubsetAndDisjointFromDenied(t *testing.T) {
	universe := []string{"age", "gender", "ssn", "name", "zip", "notes", "dob"}
	pick := func(r *rand.Rand) []string {
		var out []string
		for _, f := range universe {
			if r.IntN(2) == 0 {
				out = append(out, f)
			}
		}
		return out
	}

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		p := &consent.Policy{AllowedFields: pick(r), DeniedFields: pick(r)}
		requested := pick(r)
		studyID := []string{"", "S1", "S2"}[r.IntN(3)]
		p.Conditions.StudyIDRequired = []string{"", "S1"}[r.IntN(2)]

		d := EvaluateRequest(p, requested, RequestContext{StudyID: studyID})

		req := map[string]bool{}
		for _, f := range requested {
			req[f] = true
		}
		for _, f := range d.PermittedFields {
			assert.True(t, req[f], "permitted %q was not requested", f)
			assert.NotContains(t, p.DeniedFields, f)
		}
		if d.Decision == DecisionDeny {
			assert.Empty(t, d.PermittedFields)
		} else {
			assert.NotEmpty(t, d.PermittedFields)
		}
	}
}
