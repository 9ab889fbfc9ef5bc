// Package engine implements the booking-admission state machine: it owns
// every transition of a RideRequest and the ride's seat ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/events"
	"github.com/example/carpool/internal/identity"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/notify"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/storage"
)

// DefaultCommitRetries bounds the optimistic-concurrency retry loop before
// the caller sees ErrBusy.
const DefaultCommitRetries = 3

// Engine executes booking operations as one store transaction plus a list
// of post-commit side effects. Events and Fares are optional; a nil value
// disables that collaborator.
type Engine struct {
	Rides         storage.RideStore
	Requests      storage.RequestStore
	Identity      identity.Provider
	Sink          notify.Sink
	Events        events.Publisher
	Fares         payments.FareProcessor
	Currency      string
	Logger        *slog.Logger
	CommitRetries int
}

func (e *Engine) retries() int {
	if e.CommitRetries > 0 {
		return e.CommitRetries
	}
	return DefaultCommitRetries
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// commitRide re-reads the ride and retries the compare-and-swap until it
// sticks or retries run out. mutate revalidates against the fresh snapshot
// under the same commit, so capacity is never checked against stale state.
func (e *Engine) commitRide(ctx context.Context, rideID int64, mutate storage.RideMutation) (*models.Ride, error) {
	for attempt := 0; attempt < e.retries(); attempt++ {
		ride, err := e.Rides.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		updated, err := e.Rides.CommitRideMutation(ctx, rideID, ride.Version, mutate)
		if errors.Is(err, models.ErrVersionConflict) {
			observability.CommitConflicts.Inc()
			continue
		}
		return updated, err
	}
	return nil, models.ErrBusy
}

func (e *Engine) notifyUser(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) {
	if e.Sink == nil {
		return
	}
	if err := e.Sink.Notify(ctx, userID, kind, rideID, payload); err != nil {
		e.log().Warn("notification failed", "user_id", userID, "kind", string(kind), "ride_id", rideID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev models.RideEvent) {
	if e.Events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.log().Warn("event publish failed", "kind", string(ev.Kind), "ride_id", ev.RideID, "error", err)
	}
}

// SubmitRequest records a passenger's booking attempt. A full ride still
// accepts the request, flagged waitlisted, so the passenger is notified
// when a seat frees up.
func (e *Engine) SubmitRequest(ctx context.Context, rideID int64, passengerID string, seats int, waypoint *models.Waypoint) (*models.RideRequest, error) {
	if seats < 1 {
		return nil, fmt.Errorf("seats must be >= 1, got %d", seats)
	}
	ride, err := e.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !ride.Bookable() {
		return nil, models.ErrRideNotBookable
	}
	if ride.RequiredGender != models.GenderAny {
		g, err := e.Identity.GenderOf(ctx, passengerID)
		if err != nil {
			return nil, fmt.Errorf("gender lookup: %w", err)
		}
		if g != ride.RequiredGender {
			return nil, models.ErrEligibilityDenied
		}
	}
	existing, err := e.Requests.ActiveRequestByPassenger(ctx, rideID, passengerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.ErrDuplicateRequest
	}

	req := &models.RideRequest{
		ID:          uuid.NewString(),
		RideID:      rideID,
		PassengerID: passengerID,
		Seats:       seats,
		Status:      models.RequestWaiting,
		Waitlisted:  ride.SeatsTaken+seats > ride.TotalSeats,
		Waypoint:    waypoint,
	}
	if err := e.Requests.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	observability.RequestsSubmitted.Inc()

	payload := map[string]any{"request_id": req.ID, "passenger_id": passengerID, "seats": seats, "waitlisted": req.Waitlisted}
	e.notifyUser(ctx, ride.DriverID, models.EventRequestSubmitted, rideID, payload)
	e.publish(ctx, models.RideEvent{Kind: models.EventRequestSubmitted, RideID: rideID, UserID: ride.DriverID, Payload: payload})
	return req, nil
}

// AcceptRequest is driver-only. It claims the requested seats under the
// compare-and-swap and flips the ride to full when the last seat goes.
func (e *Engine) AcceptRequest(ctx context.Context, requestID, actorID string) (*models.RideRequest, error) {
	req, err := e.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ride, err := e.Rides.GetRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != actorID {
		return nil, models.ErrNotRideDriver
	}
	if !models.CanTransition(req.Status, models.RequestAccepted) {
		return nil, models.ErrInvalidTransition
	}

	updated, err := e.commitRide(ctx, req.RideID, func(r *models.Ride) error {
		if !r.Bookable() {
			return models.ErrRideNotBookable
		}
		if r.FreeSeats() < req.Seats {
			return models.ErrInsufficientCapacity
		}
		r.SeatsTaken += req.Seats
		if r.SeatsTaken == r.TotalSeats {
			r.Status = models.RideFull
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.Fares != nil && updated.PricePerSeat > 0 {
		amount := updated.PricePerSeat * int64(req.Seats)
		ref, err := e.Fares.Hold(ctx, amount, e.currency(), req.PassengerID)
		if err != nil {
			e.log().Warn("fare hold failed", "request_id", req.ID, "amount", amount, "error", err)
		} else {
			req.PaymentRef = ref
		}
	}

	// The status write is conditional on the request still being Waiting.
	// If a concurrent cancel won the race, give the claimed seats back
	// before reporting the transition invalid.
	req.Status = models.RequestAccepted
	if err := e.Requests.UpdateRequest(ctx, req, models.RequestWaiting); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			e.releaseClaimedSeats(ctx, req)
			if req.PaymentRef != "" && e.Fares != nil {
				if rerr := e.Fares.Release(ctx, req.PaymentRef); rerr != nil {
					e.log().Warn("fare release failed", "request_id", req.ID, "payment_ref", req.PaymentRef, "error", rerr)
				}
			}
			return nil, models.ErrInvalidTransition
		}
		return nil, err
	}
	observability.RequestsAccepted.Inc()

	payload := map[string]any{"request_id": req.ID, "seats": req.Seats}
	e.notifyUser(ctx, req.PassengerID, models.EventRequestAccepted, req.RideID, payload)
	e.publish(ctx, models.RideEvent{Kind: models.EventRequestAccepted, RideID: req.RideID, UserID: req.PassengerID, Payload: payload})
	return req, nil
}

// CancelOrReject ends a request before check-out. The passenger cancels
// their own request; the driver rejects a waiting one or removes an already
// accepted passenger. Freed seats reopen a full ride and trigger the
// waitlist scan, which notifies the first fitting waiting passenger but
// never auto-accepts.
func (e *Engine) CancelOrReject(ctx context.Context, requestID, actorID string) (*models.RideRequest, error) {
	for attempt := 0; attempt < e.retries(); attempt++ {
		req, err := e.Requests.GetRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		ride, err := e.Rides.GetRide(ctx, req.RideID)
		if err != nil {
			return nil, err
		}

		var target models.RequestStatus
		var kind models.EventKind
		var recipient string
		switch actorID {
		case req.PassengerID:
			target = models.RequestCancelled
			kind = models.EventRequestCancelled
			recipient = ride.DriverID
		case ride.DriverID:
			if req.Status == models.RequestWaiting {
				target = models.RequestRejected
				kind = models.EventRequestRejected
			} else {
				target = models.RequestCancelled
				kind = models.EventRequestCancelled
			}
			recipient = req.PassengerID
		default:
			return nil, models.ErrNotRequestPassenger
		}
		if !models.CanTransition(req.Status, target) {
			return nil, models.ErrInvalidTransition
		}

		// Park the request on its terminal status before touching the seat
		// ledger. The conditional write loses to a concurrent accept or
		// check-in, in which case the loop re-reads and decides again from
		// the status that actually won.
		prev := req.Status
		freeing := prev == models.RequestAccepted || prev == models.RequestCheckedIn
		req.Status = target
		if err := e.Requests.UpdateRequest(ctx, req, prev); err != nil {
			if errors.Is(err, models.ErrVersionConflict) {
				observability.CommitConflicts.Inc()
				continue
			}
			return nil, err
		}

		var updated *models.Ride
		if freeing {
			updated, err = e.commitRide(ctx, req.RideID, func(r *models.Ride) error {
				if req.Seats > r.SeatsTaken {
					r.SeatsTaken = 0
				} else {
					r.SeatsTaken -= req.Seats
				}
				if r.Status == models.RideFull {
					r.Status = models.RideAvailable
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			observability.RequestsReleased.Inc()
		}

		if req.PaymentRef != "" && e.Fares != nil {
			if err := e.Fares.Release(ctx, req.PaymentRef); err != nil {
				e.log().Warn("fare release failed", "request_id", req.ID, "payment_ref", req.PaymentRef, "error", err)
			}
		}

		payload := map[string]any{"request_id": req.ID}
		e.notifyUser(ctx, recipient, kind, req.RideID, payload)
		e.publish(ctx, models.RideEvent{Kind: kind, RideID: req.RideID, UserID: recipient, Payload: payload})

		if freeing && updated != nil && updated.Bookable() {
			e.promoteWaitlist(ctx, updated)
		}
		return req, nil
	}
	return nil, models.ErrBusy
}

// releaseClaimedSeats undoes a seat claim whose request write lost the
// status race. Failure leaves the ledger over-counted, so it is logged at
// error level rather than silently dropped.
func (e *Engine) releaseClaimedSeats(ctx context.Context, req *models.RideRequest) {
	_, err := e.commitRide(ctx, req.RideID, func(r *models.Ride) error {
		if req.Seats > r.SeatsTaken {
			r.SeatsTaken = 0
		} else {
			r.SeatsTaken -= req.Seats
		}
		if r.Status == models.RideFull {
			r.Status = models.RideAvailable
		}
		return nil
	})
	if err != nil {
		e.log().Error("seat release after lost status race failed", "request_id", req.ID, "ride_id", req.RideID, "error", err)
	}
}

// promoteWaitlist notifies the first waiting passenger, in creation order,
// whose seat count fits the freed capacity. Notification only: the driver
// must still accept explicitly.
func (e *Engine) promoteWaitlist(ctx context.Context, ride *models.Ride) {
	reqs, err := e.Requests.RequestsByRide(ctx, ride.ID)
	if err != nil {
		e.log().Warn("waitlist scan failed", "ride_id", ride.ID, "error", err)
		return
	}
	free := ride.FreeSeats()
	for _, r := range reqs {
		if r.Status != models.RequestWaiting || r.Seats > free {
			continue
		}
		observability.WaitlistPromotions.Inc()
		payload := map[string]any{"request_id": r.ID, "free_seats": free}
		e.notifyUser(ctx, r.PassengerID, models.EventSeatAvailable, ride.ID, payload)
		e.publish(ctx, models.RideEvent{Kind: models.EventSeatAvailable, RideID: ride.ID, UserID: r.PassengerID, Payload: payload})
		return
	}
}

// CheckIn marks the passenger on board and tells the driver.
func (e *Engine) CheckIn(ctx context.Context, requestID, actorID string) (*models.RideRequest, error) {
	return e.passengerTransition(ctx, requestID, actorID, models.RequestCheckedIn, models.EventPassengerCheckedIn, nil)
}

// CheckOut marks the passenger disembarked, captures the fare hold and
// unlocks rating submission for the trip.
func (e *Engine) CheckOut(ctx context.Context, requestID, actorID string) (*models.RideRequest, error) {
	return e.passengerTransition(ctx, requestID, actorID, models.RequestCheckedOut, models.EventPassengerCheckedOut,
		map[string]any{"rating_unlocked": true})
}

func (e *Engine) passengerTransition(ctx context.Context, requestID, actorID string, target models.RequestStatus, kind models.EventKind, extra map[string]any) (*models.RideRequest, error) {
	req, err := e.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PassengerID != actorID {
		return nil, models.ErrNotRequestPassenger
	}
	if !models.CanTransition(req.Status, target) {
		return nil, models.ErrInvalidTransition
	}
	ride, err := e.Rides.GetRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}

	prev := req.Status
	req.Status = target
	if err := e.Requests.UpdateRequest(ctx, req, prev); err != nil {
		// A concurrent removal beat this transition; it is no longer valid
		// from whatever status the request landed on.
		if errors.Is(err, models.ErrVersionConflict) {
			return nil, models.ErrInvalidTransition
		}
		return nil, err
	}

	if target == models.RequestCheckedOut && req.PaymentRef != "" && e.Fares != nil {
		if err := e.Fares.Capture(ctx, req.PaymentRef); err != nil {
			e.log().Warn("fare capture failed", "request_id", req.ID, "payment_ref", req.PaymentRef, "error", err)
		}
	}

	payload := map[string]any{"request_id": req.ID, "passenger_id": req.PassengerID}
	for k, v := range extra {
		payload[k] = v
	}
	e.notifyUser(ctx, ride.DriverID, kind, req.RideID, payload)
	e.publish(ctx, models.RideEvent{Kind: kind, RideID: req.RideID, UserID: ride.DriverID, Payload: payload})
	return req, nil
}

func (e *Engine) currency() string {
	if e.Currency != "" {
		return e.Currency
	}
	return "usd"
}
