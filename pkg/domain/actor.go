package domain

import (
	dErrors "consentgate/pkg/domain-errors"
)

// Actor is the authenticated caller of the gateway. Identity is established
// upstream; the gateway only carries it into decisions and audit events.
type Actor struct {
	ID           string
	Organization string
}

// Validate returns CodeUnauthorized when either half of the identity is missing.
func (a Actor) Validate() error {
	if a.ID == "" || a.Organization == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "actor identity is required")
	}
	return nil
}
