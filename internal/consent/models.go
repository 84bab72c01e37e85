package consent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consentgate/pkg/domain"
)

// ErrMalformedPolicy is returned when stored policy terms cannot be decoded,
// including when they carry condition keys this gateway does not understand.
var ErrMalformedPolicy = errors.New("malformed consent policy")

// Policy is a machine-interpreted consent policy for one subject and purpose.
// It is immutable once fetched.
type Policy struct {
	ID              string
	SubjectID       string
	Purpose         domain.Purpose
	AllowedFields   []string
	DeniedFields    []string
	Conditions      Conditions
	ConfidenceScore float64
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Conditions are structural constraints attached to a policy. Only
// StudyIDRequired affects the decision; the rest are reported to the caller.
type Conditions struct {
	AnonymizationRequired bool   `json:"anonymization_required,omitempty" yaml:"anonymization_required,omitempty"`
	StudyIDRequired       string `json:"study_id_required,omitempty" yaml:"study_id_required,omitempty"`
	AggregationLevel      string `json:"aggregation_level,omitempty" yaml:"aggregation_level,omitempty"`
	MaxRecords            int    `json:"max_records,omitempty" yaml:"max_records,omitempty"`
	TimeWindow            string `json:"time_window,omitempty" yaml:"time_window,omitempty"`
}

// Terms is the JSON document produced by the upstream interpretation process
// and stored alongside each policy row.
type Terms struct {
	AllowedFields []string   `json:"allowed_fields" yaml:"allowed_fields"`
	DeniedFields  []string   `json:"denied_fields" yaml:"denied_fields"`
	Conditions    Conditions `json:"conditions" yaml:"conditions"`
}

// UnmarshalJSON decodes conditions strictly: unknown keys are an error.
func (c *Conditions) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Conditions{}
		return nil
	}
	type plain Conditions
	var out plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("%w: conditions: %v", ErrMalformedPolicy, err)
	}
	if out.MaxRecords < 0 {
		return fmt.Errorf("%w: conditions: max_records must not be negative", ErrMalformedPolicy)
	}
	*c = Conditions(out)
	return nil
}

// ParseTerms decodes a stored policy document.
func ParseTerms(raw []byte) (Terms, error) {
	var t Terms
	if err := json.Unmarshal(raw, &t); err != nil {
		if errors.Is(err, ErrMalformedPolicy) {
			return Terms{}, err
		}
		return Terms{}, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}
	return t, nil
}

// Apply copies the decoded terms onto p.
func (t Terms) Apply(p *Policy) {
	p.AllowedFields = t.AllowedFields
	p.DeniedFields = t.DeniedFields
	p.Conditions = t.Conditions
}

// IsActive reports whether the policy has not yet expired at now.
func (p *Policy) IsActive(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// Newer reports whether p should be preferred over other when both match a
// lookup: later CreatedAt wins, ties go to the greater ID.
func (p *Policy) Newer(other *Policy) bool {
	if other == nil {
		return true
	}
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.After(other.CreatedAt)
	}
	return p.ID > other.ID
}
