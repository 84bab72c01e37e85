package access

import (
	"time"

	"consentgate/internal/decision"
)

// Request is one researcher access request.
type Request struct {
	SubjectID       string   `json:"subject_id"`
	Purpose         string   `json:"purpose"`
	RequestedFields []string `json:"requested_fields"`
	Query           string   `json:"query"`
	StudyID         string   `json:"study_id,omitempty"`
}

// Result is a granted access decision with its scoped credential.
type Result struct {
	RequestID       string            `json:"request_id"`
	Decision        decision.Decision `json:"decision"`
	Token           string            `json:"token"`
	ExpiresAt       time.Time         `json:"expires_at"`
	RewrittenQuery  string            `json:"rewritten_query"`
	PermittedFields []string          `json:"permitted_fields"`
	Justifications  []string          `json:"justifications"`
}

// EmergencyRequest is a break-glass request that bypasses consent.
type EmergencyRequest struct {
	SubjectID       string   `json:"subject_id"`
	RequestedFields []string `json:"requested_fields"`
	Query           string   `json:"query"`
	Justification   string   `json:"justification"`
}

// Verification describes a credential that passed both signature and store checks.
type Verification struct {
	SubjectID     string    `json:"subject_id"`
	Purpose       string    `json:"purpose"`
	AllowedFields []string  `json:"allowed_fields"`
	RequestID     string    `json:"request_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}
