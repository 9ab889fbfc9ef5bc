package storage

import (
	"context"

	"github.com/example/carpool/internal/models"
)

// RideMutation is applied to a fresh snapshot of the ride inside
// CommitRideMutation. Returning an error aborts the commit without
// touching the store.
type RideMutation func(*models.Ride) error

// RideStore defines persistence for ride offers. CommitRideMutation is the
// single write path for status and seat-ledger changes: it compares
// expectedVersion against the stored revision and fails with
// models.ErrVersionConflict when another caller committed first. Two
// passengers racing for the last seat therefore cannot both win.
type RideStore interface {
	GetRide(ctx context.Context, id int64) (*models.Ride, error)
	CreateRide(ctx context.Context, r *models.Ride) error
	CommitRideMutation(ctx context.Context, id, expectedVersion int64, mutate RideMutation) (*models.Ride, error)
	// ActiveRidesByDriver returns the driver's rides with status
	// available, full or in_progress. Used by the conflict checker.
	ActiveRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)
}

// RequestStore defines persistence for ride requests. RequestsByRide must
// return requests in creation order; waitlist promotion depends on it.
//
// UpdateRequest is a compare-and-swap on the status column: the write only
// lands when the stored status still equals expectedStatus, otherwise it
// fails with models.ErrVersionConflict. A driver accepting while the
// passenger cancels therefore resolves to exactly one winner, and the
// loser re-reads before touching the seat ledger.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*models.RideRequest, error)
	CreateRequest(ctx context.Context, req *models.RideRequest) error
	UpdateRequest(ctx context.Context, req *models.RideRequest, expectedStatus models.RequestStatus) error
	RequestsByRide(ctx context.Context, rideID int64) ([]*models.RideRequest, error)
	// ActiveRequestByPassenger returns the passenger's waiting, accepted
	// or checked-in request on the ride, or nil if there is none.
	ActiveRequestByPassenger(ctx context.Context, rideID int64, passengerID string) (*models.RideRequest, error)
}
