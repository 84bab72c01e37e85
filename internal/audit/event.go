// Package audit records access decisions, revocations and emergency overrides.
//
// Events are write-once. The Emitter hands them to a Sink on a background
// goroutine so that a slow or unavailable sink never delays a decision.
package audit

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"consentgate/internal/decision"
	"consentgate/pkg/domain"
)

// EventType classifies an audit event.
type EventType string

const (
	EventAccessRequested   EventType = "ACCESS_REQUESTED"
	EventRevoked           EventType = "REVOKED"
	EventEmergencyOverride EventType = "EMERGENCY_OVERRIDE"
)

// Event is one append-only audit record. Field lists are never nil so sinks can
// write them without special-casing.
type Event struct {
	EventID         uuid.UUID `json:"event_id"`
	Timestamp       time.Time `json:"timestamp"`
	Type            EventType `json:"event_type"`
	ActorID         string    `json:"actor_id"`
	Organization    string    `json:"organization"`
	SubjectID       string    `json:"subject_id"`
	Purpose         string    `json:"purpose"`
	Decision        string    `json:"decision"`
	RequestID       string    `json:"request_id"`
	PermittedFields []string  `json:"permitted_fields"`
	Justifications  []string  `json:"justifications"`
}

// NewAccessEvent records the outcome of an access request, including denials.
func NewAccessEvent(now time.Time, actor domain.Actor, subjectID string, purpose domain.Purpose, requestID string, d decision.PolicyDecision) Event {
	return newEvent(now, EventAccessRequested, actor, subjectID, string(purpose), string(d.Decision), requestID, d.PermittedFields, d.Justifications)
}

// NewRevocationEvent records a consent withdrawal. purpose is empty when every
// credential for the subject was revoked.
func NewRevocationEvent(now time.Time, actor domain.Actor, subjectID string, purpose domain.Purpose, requestID string, revoked int) Event {
	justification := "Revoked all credentials for subject"
	if purpose != "" {
		justification = "Revoked credentials for purpose " + string(purpose)
	}
	return newEvent(now, EventRevoked, actor, subjectID, string(purpose), "REVOKED", requestID, nil,
		[]string{justification, "Credentials affected: " + strconv.Itoa(revoked)})
}

// NewEmergencyEvent records a break-glass grant. The caller's justification is
// stored first, ahead of any system-generated reasons.
func NewEmergencyEvent(now time.Time, actor domain.Actor, subjectID, requestID string, fields []string, justification string, extra ...string) Event {
	reasons := append([]string{"Emergency override: " + justification}, extra...)
	return newEvent(now, EventEmergencyOverride, actor, subjectID, string(domain.PurposeEmergencyTreatment),
		string(decision.DecisionAllow), requestID, fields, reasons)
}

func newEvent(now time.Time, typ EventType, actor domain.Actor, subjectID, purpose, dec, requestID string, fields, justifications []string) Event {
	return Event{
		EventID:         uuid.New(),
		Timestamp:       now.UTC(),
		Type:            typ,
		ActorID:         actor.ID,
		Organization:    actor.Organization,
		SubjectID:       subjectID,
		Purpose:         purpose,
		Decision:        dec,
		RequestID:       requestID,
		PermittedFields: cloneOrEmpty(fields),
		Justifications:  cloneOrEmpty(justifications),
	}
}

func cloneOrEmpty(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
