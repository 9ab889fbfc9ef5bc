// Package lifecycle drives a ride offer through its own states and the
// passenger-facing side effects of each transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carpool/internal/events"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/notify"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/recurrence"
	"github.com/example/carpool/internal/schedule"
	"github.com/example/carpool/internal/sequence"
	"github.com/example/carpool/internal/storage"
)

// Clock is injected so the StartRide time gate is testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Controller executes driver-side ride operations. Events is optional.
type Controller struct {
	Rides         storage.RideStore
	Requests      storage.RequestStore
	Seq           sequence.Allocator
	Conflicts     *schedule.Checker
	Regen         *recurrence.Regenerator
	Sink          notify.Sink
	Events        events.Publisher
	Clock         Clock
	Logger        *slog.Logger
	CommitRetries int
}

func (c *Controller) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

func (c *Controller) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Controller) retries() int {
	if c.CommitRetries > 0 {
		return c.CommitRetries
	}
	return 3
}

func (c *Controller) commitRide(ctx context.Context, rideID int64, mutate storage.RideMutation) (*models.Ride, error) {
	for attempt := 0; attempt < c.retries(); attempt++ {
		ride, err := c.Rides.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		updated, err := c.Rides.CommitRideMutation(ctx, rideID, ride.Version, mutate)
		if errors.Is(err, models.ErrVersionConflict) {
			observability.CommitConflicts.Inc()
			continue
		}
		return updated, err
	}
	return nil, models.ErrBusy
}

func (c *Controller) notifyUser(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) {
	if c.Sink == nil {
		return
	}
	if err := c.Sink.Notify(ctx, userID, kind, rideID, payload); err != nil {
		c.log().Warn("notification failed", "user_id", userID, "kind", string(kind), "ride_id", rideID, "error", err)
	}
}

func (c *Controller) publish(ctx context.Context, ev models.RideEvent) {
	if c.Events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := c.Events.Publish(ctx, ev); err != nil {
		c.log().Warn("event publish failed", "kind", string(ev.Kind), "ride_id", ev.RideID, "error", err)
	}
}

// notifyActivePassengers fans a notification out to every passenger with a
// waiting, accepted or checked-in request. Terminal requests are untouched.
func (c *Controller) notifyActivePassengers(ctx context.Context, rideID int64, kind models.EventKind, payload map[string]any) {
	reqs, err := c.Requests.RequestsByRide(ctx, rideID)
	if err != nil {
		c.log().Warn("request scan failed", "ride_id", rideID, "error", err)
		return
	}
	for _, r := range reqs {
		if !r.Status.Active() {
			continue
		}
		c.notifyUser(ctx, r.PassengerID, kind, rideID, payload)
	}
}

// CreateRideSpec carries the driver's input for a new offer.
type CreateRideSpec struct {
	DriverID           string
	OriginAddress      string
	DestinationAddress string
	Waypoints          []models.Waypoint
	ScheduledAt        time.Time
	IsRecurring        bool
	RecurringDays      []time.Weekday
	TotalSeats         int
	RequiredGender     models.Gender
	PricePerSeat       int64
}

// CreateRide validates the offer, runs the driver-schedule conflict check
// and persists the ride with a freshly allocated id.
func (c *Controller) CreateRide(ctx context.Context, spec CreateRideSpec) (*models.Ride, error) {
	if spec.TotalSeats < 1 {
		return nil, fmt.Errorf("total seats must be >= 1, got %d", spec.TotalSeats)
	}
	if spec.DriverID == "" {
		return nil, fmt.Errorf("driver id required")
	}
	if spec.RequiredGender == "" {
		spec.RequiredGender = models.GenderAny
	}
	if c.Conflicts != nil {
		conflict, err := c.Conflicts.HasConflict(ctx, spec.DriverID, spec.ScheduledAt, 0)
		if err != nil {
			return nil, fmt.Errorf("conflict check: %w", err)
		}
		if conflict {
			return nil, models.ErrScheduleConflict
		}
	}
	id, err := c.Seq.NextRideID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate ride id: %w", err)
	}
	ride := &models.Ride{
		ID:                 id,
		DriverID:           spec.DriverID,
		OriginAddress:      spec.OriginAddress,
		DestinationAddress: spec.DestinationAddress,
		Waypoints:          spec.Waypoints,
		ScheduledAt:        spec.ScheduledAt,
		IsRecurring:        spec.IsRecurring,
		RecurringDays:      spec.RecurringDays,
		TotalSeats:         spec.TotalSeats,
		RequiredGender:     spec.RequiredGender,
		PricePerSeat:       spec.PricePerSeat,
		Status:             models.RideAvailable,
	}
	if err := c.Rides.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	c.publish(ctx, models.RideEvent{Kind: models.EventRideCreated, RideID: ride.ID, UserID: ride.DriverID})
	return ride, nil
}

// StartRide moves the ride to in_progress. Starting before the scheduled
// time is an invalid transition, not a soft warning.
func (c *Controller) StartRide(ctx context.Context, rideID int64, actorID string) (*models.Ride, error) {
	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != actorID {
		return nil, models.ErrNotRideDriver
	}
	if c.now().Before(ride.ScheduledAt) {
		return nil, models.ErrInvalidTransition
	}
	updated, err := c.commitRide(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.RideAvailable && r.Status != models.RideFull {
			return models.ErrInvalidTransition
		}
		r.Status = models.RideInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RidesStarted.Inc()
	c.notifyActivePassengers(ctx, rideID, models.EventRideStarted, nil)
	c.publish(ctx, models.RideEvent{Kind: models.EventRideStarted, RideID: rideID})
	return updated, nil
}

// FinishResult reports the completion outcome. RegenerationErr is set when
// the ride completed but the next occurrence could not be materialized; the
// completed status is never reverted for that.
type FinishResult struct {
	Ride            *models.Ride
	NextRide        *models.Ride
	RegenerationErr error
}

// FinishRide completes an in-progress ride. For recurring rides the driver
// confirms regeneration with the regenerate flag; once confirmed it runs
// unconditionally.
func (c *Controller) FinishRide(ctx context.Context, rideID int64, actorID string, regenerate bool) (*FinishResult, error) {
	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != actorID {
		return nil, models.ErrNotRideDriver
	}
	updated, err := c.commitRide(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.RideInProgress {
			return models.ErrInvalidTransition
		}
		r.Status = models.RideCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RidesCompleted.Inc()
	c.notifyActivePassengers(ctx, rideID, models.EventRideCompleted, nil)
	c.publish(ctx, models.RideEvent{Kind: models.EventRideCompleted, RideID: rideID})

	res := &FinishResult{Ride: updated}
	if updated.IsRecurring && regenerate && c.Regen != nil {
		next, err := c.Regen.RegenerateNextOccurrence(ctx, updated)
		if err != nil {
			c.log().Error("regeneration failed, ride still completed", "ride_id", rideID, "error", err)
			res.RegenerationErr = err
		} else {
			res.NextRide = next
			observability.Regenerations.Inc()
			c.publish(ctx, models.RideEvent{Kind: models.EventRideRegenerated, RideID: next.ID,
				Payload: map[string]any{"previous_ride_id": rideID}})
		}
	}
	return res, nil
}

// CancelRide cancels an offer before departure and tells every passenger
// with an active request. Their requests are closed out too; requests
// already terminal stay as they are.
func (c *Controller) CancelRide(ctx context.Context, rideID int64, actorID string) (*models.Ride, error) {
	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != actorID {
		return nil, models.ErrNotRideDriver
	}
	updated, err := c.commitRide(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.RideAvailable && r.Status != models.RideFull {
			return models.ErrInvalidTransition
		}
		r.Status = models.RideCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RidesCancelled.Inc()

	reqs, err := c.Requests.RequestsByRide(ctx, rideID)
	if err != nil {
		c.log().Warn("request scan failed", "ride_id", rideID, "error", err)
		reqs = nil
	}
	for _, r := range reqs {
		if !r.Status.Active() {
			continue
		}
		prev := r.Status
		r.Status = models.RequestCancelled
		if err := c.Requests.UpdateRequest(ctx, r, prev); err != nil {
			c.log().Warn("request close-out failed", "request_id", r.ID, "error", err)
			continue
		}
		c.notifyUser(ctx, r.PassengerID, models.EventRideCancelled, rideID, map[string]any{"request_id": r.ID})
	}
	c.publish(ctx, models.RideEvent{Kind: models.EventRideCancelled, RideID: rideID})
	return updated, nil
}
