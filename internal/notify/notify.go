package notify

import (
	"context"
	"log/slog"

	"github.com/example/carpool/internal/models"
)

// Sink delivers a user-facing notification. Delivery is fire-and-forget:
// callers log failures and never roll back a committed transition because
// of one.
type Sink interface {
	Notify(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) error
}

// Notice is the wire shape pushed to clients.
type Notice struct {
	Kind    models.EventKind `json:"kind"`
	RideID  int64            `json:"ride_id"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// LogSink writes notifications to the log only. Used when no push endpoint
// is configured and in tests.
type LogSink struct {
	Logger *slog.Logger
}

func (l *LogSink) Notify(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) error {
	if l.Logger != nil {
		l.Logger.Info("notify", "user_id", userID, "kind", string(kind), "ride_id", rideID)
	}
	return nil
}
