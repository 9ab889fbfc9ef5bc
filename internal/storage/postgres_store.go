package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/carpool/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, driver_id, origin_address, destination_address, waypoints,
	scheduled_at, is_recurring, recurring_days, total_seats, seats_taken,
	required_gender, price_per_seat, status, version, created_at, updated_at`

func (p *PostgresStore) GetRide(ctx context.Context, id int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Version == 0 {
		r.Version = 1
	}
	wps, err := json.Marshal(r.Waypoints)
	if err != nil {
		return err
	}
	days, err := json.Marshal(r.RecurringDays)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO rides(`+rideColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.DriverID, r.OriginAddress, r.DestinationAddress, wps,
		r.ScheduledAt, r.IsRecurring, days, r.TotalSeats, r.SeatsTaken,
		string(r.RequiredGender), r.PricePerSeat, string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

// CommitRideMutation applies mutate to a fresh snapshot and writes the
// mutable fields back guarded by the version column. Zero rows affected
// means another writer got there first.
func (p *PostgresStore) CommitRideMutation(ctx context.Context, id, expectedVersion int64, mutate RideMutation) (*models.Ride, error) {
	ride, err := p.GetRide(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride.Version != expectedVersion {
		return nil, models.ErrVersionConflict
	}
	if err := mutate(ride); err != nil {
		return nil, err
	}
	ride.Version = expectedVersion + 1
	ride.UpdatedAt = time.Now()
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1, seats_taken=$2, version=$3, updated_at=$4 WHERE id=$5 AND version=$6`,
		string(ride.Status), ride.SeatsTaken, ride.Version, ride.UpdatedAt, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, models.ErrVersionConflict
	}
	return ride, nil
}

func (p *PostgresStore) ActiveRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 AND status IN ('available','full','in_progress') ORDER BY id`,
		driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var wps, days []byte
	var gender, status string
	err := row.Scan(&r.ID, &r.DriverID, &r.OriginAddress, &r.DestinationAddress, &wps,
		&r.ScheduledAt, &r.IsRecurring, &days, &r.TotalSeats, &r.SeatsTaken,
		&gender, &r.PricePerSeat, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(wps) > 0 {
		if err := json.Unmarshal(wps, &r.Waypoints); err != nil {
			return nil, err
		}
	}
	if len(days) > 0 {
		if err := json.Unmarshal(days, &r.RecurringDays); err != nil {
			return nil, err
		}
	}
	r.RequiredGender = models.Gender(gender)
	r.Status = models.RideStatus(status)
	return &r, nil
}

const requestColumns = `id, ride_id, passenger_id, seats, status, waitlisted, waypoint, payment_ref, created_at, updated_at`

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id=$1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) CreateRequest(ctx context.Context, req *models.RideRequest) error {
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	wp, err := marshalWaypoint(req.Waypoint)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO ride_requests(`+requestColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.RideID, req.PassengerID, req.Seats, string(req.Status), req.Waitlisted,
		wp, req.PaymentRef, req.CreatedAt, req.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRequest(ctx context.Context, req *models.RideRequest, expectedStatus models.RequestStatus) error {
	req.UpdatedAt = time.Now()
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET status=$1, payment_ref=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		string(req.Status), req.PaymentRef, req.UpdatedAt, req.ID, string(expectedStatus))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a concurrent status change from a missing row.
		var exists bool
		if qerr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ride_requests WHERE id=$1)`, req.ID).Scan(&exists); qerr != nil {
			return qerr
		}
		if exists {
			return models.ErrVersionConflict
		}
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) RequestsByRide(ctx context.Context, rideID int64) ([]*models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM ride_requests WHERE ride_id=$1 ORDER BY created_at, id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveRequestByPassenger(ctx context.Context, rideID int64, passengerID string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM ride_requests
		 WHERE ride_id=$1 AND passenger_id=$2 AND status IN ('waiting','accepted','checked_in')
		 ORDER BY created_at LIMIT 1`, rideID, passengerID)
	req, err := scanRequest(row)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return req, err
}

func scanRequest(row rowScanner) (*models.RideRequest, error) {
	var req models.RideRequest
	var status string
	var wp []byte
	err := row.Scan(&req.ID, &req.RideID, &req.PassengerID, &req.Seats, &status, &req.Waitlisted,
		&wp, &req.PaymentRef, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(wp) > 0 {
		if err := json.Unmarshal(wp, &req.Waypoint); err != nil {
			return nil, err
		}
	}
	req.Status = models.RequestStatus(status)
	return &req, nil
}

func marshalWaypoint(wp *models.Waypoint) ([]byte, error) {
	if wp == nil {
		return nil, nil
	}
	return json.Marshal(wp)
}
