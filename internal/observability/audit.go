package observability

import (
	"context"
	"log/slog"
)

// Audit emits a structured audit record. Outcome is one of success, failure
// or rejected; reason is a short machine-friendly cause.
func Audit(ctx context.Context, eventName, outcome, reason string, attrs ...any) {
	base := []any{
		"event_name", eventName,
		"outcome", outcome,
		"reason", reason,
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit.event", base...)
}
