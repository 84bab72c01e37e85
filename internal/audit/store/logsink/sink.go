// Package logsink writes audit events as structured log records. It is the
// default sink when no database or broker is configured.
package logsink

import (
	"context"
	"log/slog"

	"consentgate/internal/audit"
)

// Sink logs each event at info level under a fixed message.
type Sink struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger.With("component", "audit")}
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event",
		slog.String("event_id", event.EventID.String()),
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", string(event.Type)),
		slog.String("actor_id", event.ActorID),
		slog.String("organization", event.Organization),
		slog.String("subject_id", event.SubjectID),
		slog.String("purpose", event.Purpose),
		slog.String("decision", event.Decision),
		slog.String("request_id", event.RequestID),
		slog.Any("permitted_fields", event.PermittedFields),
		slog.Any("justifications", event.Justifications),
	)
	return nil
}
