// Package sentinel holds infrastructure facts that stores report and services
// translate into domain errors. Input validation failures belong in
// pkg/domain-errors instead.
package sentinel

import "errors"

// ErrNotFound means the store holds no live record for the key. Expired
// records are reported the same way as absent ones.
var ErrNotFound = errors.New("not found")
