// Package recurrence re-creates a completed recurring ride one week ahead
// and re-invites the passengers who rode it.
package recurrence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/notify"
	"github.com/example/carpool/internal/sequence"
	"github.com/example/carpool/internal/storage"
)

type Regenerator struct {
	Rides    storage.RideStore
	Requests storage.RequestStore
	Seq      sequence.Allocator
	Sink     notify.Sink
	Logger   *slog.Logger
}

func (g *Regenerator) log() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// RegenerateNextOccurrence clones the completed ride seven days forward
// with a fresh id, zero seats taken and status available. Passengers who
// held an accepted, checked-in or checked-out request get a new waiting
// request preserving their pickup waypoint, and a notification. They are
// not auto-accepted; the driver confirms each one again.
func (g *Regenerator) RegenerateNextOccurrence(ctx context.Context, completed *models.Ride) (*models.Ride, error) {
	id, err := g.Seq.NextRideID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate ride id: %w", err)
	}

	next := &models.Ride{
		ID:                 id,
		DriverID:           completed.DriverID,
		OriginAddress:      completed.OriginAddress,
		DestinationAddress: completed.DestinationAddress,
		Waypoints:          append([]models.Waypoint(nil), completed.Waypoints...),
		ScheduledAt:        completed.ScheduledAt.AddDate(0, 0, 7),
		IsRecurring:        true,
		RecurringDays:      append([]time.Weekday(nil), completed.RecurringDays...),
		TotalSeats:         completed.TotalSeats,
		RequiredGender:     completed.RequiredGender,
		PricePerSeat:       completed.PricePerSeat,
		SeatsTaken:         0,
		Status:             models.RideAvailable,
	}
	if err := g.Rides.CreateRide(ctx, next); err != nil {
		return nil, fmt.Errorf("create next occurrence: %w", err)
	}

	prev, err := g.Requests.RequestsByRide(ctx, completed.ID)
	if err != nil {
		return nil, fmt.Errorf("list requests of completed ride: %w", err)
	}
	for _, r := range prev {
		switch r.Status {
		case models.RequestAccepted, models.RequestCheckedIn, models.RequestCheckedOut:
		default:
			continue
		}
		req := &models.RideRequest{
			ID:          uuid.NewString(),
			RideID:      next.ID,
			PassengerID: r.PassengerID,
			Seats:       r.Seats,
			Status:      models.RequestWaiting,
			Waitlisted:  r.Seats > next.TotalSeats,
			Waypoint:    r.Waypoint,
		}
		if err := g.Requests.CreateRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("re-invite passenger %s: %w", r.PassengerID, err)
		}
		if g.Sink != nil {
			payload := map[string]any{"request_id": req.ID, "previous_ride_id": completed.ID, "scheduled_at": next.ScheduledAt}
			if err := g.Sink.Notify(ctx, r.PassengerID, models.EventRideRegenerated, next.ID, payload); err != nil {
				g.log().Warn("regeneration notify failed", "passenger_id", r.PassengerID, "ride_id", next.ID, "error", err)
			}
		}
	}
	return next, nil
}
