package domain

import (
	"sort"
	"strings"

	dErrors "consentgate/pkg/domain-errors"
)

// Purpose is a domain value that identifies why patient data is accessed.
// Purposes are also the lookup key for consent policies, compared case-sensitively.
//
// Usage: construct via ParsePurpose at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Purpose string

const (
	PurposeResearch     Purpose = "RESEARCH"
	PurposeTreatment    Purpose = "TREATMENT"
	PurposePublicHealth Purpose = "PUBLIC_HEALTH"

	// PurposeEmergencyTreatment is reserved for break-glass overrides and is
	// never accepted on the regular access path.
	PurposeEmergencyTreatment Purpose = "EMERGENCY_TREATMENT"
)

// accessPurposes is the single source of truth for purposes a researcher may request.
var accessPurposes = map[Purpose]bool{
	PurposeResearch:     true,
	PurposeTreatment:    true,
	PurposePublicHealth: true,
}

// ParsePurpose constructs a Purpose from external input.
//
// Errors: returns CodeInvalidRequest when the value is empty or not on the
// access allowlist.
func ParsePurpose(s string) (Purpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "purpose is required")
	}
	p := Purpose(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "purpose must be one of: "+joinPurposes())
	}
	return p, nil
}

// IsValid reports whether the purpose is on the access allowlist.
func (p Purpose) IsValid() bool {
	return accessPurposes[p]
}

func (p Purpose) String() string {
	return string(p)
}

func joinPurposes() string {
	names := make([]string, 0, len(accessPurposes))
	for p := range accessPurposes {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
