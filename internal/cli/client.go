package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"consentgate/internal/platform/middleware"
	"consentgate/internal/platform/telemetry"
	"consentgate/pkg/platform/httputil"
)

// client is a minimal JSON client for the gateway API.
type client struct {
	base          string
	actorID       string
	organization  string
	operatorToken string
	http          *http.Client
}

func newClient(opts *options) *client {
	return &client{
		base:          strings.TrimRight(opts.addr, "/"),
		actorID:       opts.actorID,
		organization:  opts.organization,
		operatorToken: opts.operatorToken,
		http:          telemetry.InstrumentClient(&http.Client{Timeout: opts.timeout}),
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Status   int
	Response httputil.ErrorResponse
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway returned %d %s", e.Status, e.Response.Error)
	if e.Response.ErrorDescription != "" {
		fmt.Fprintf(&b, ": %s", e.Response.ErrorDescription)
	}
	for _, j := range e.Response.Justifications {
		fmt.Fprintf(&b, "\n  - %s", j)
	}
	return b.String()
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.actorID != "" {
		req.Header.Set(middleware.HeaderActorID, c.actorID)
	}
	if c.organization != "" {
		req.Header.Set(middleware.HeaderOrganization, c.organization)
	}
	if c.operatorToken != "" {
		req.Header.Set(middleware.HeaderOperatorToken, c.operatorToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Response); err != nil {
			apiErr.Response.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
