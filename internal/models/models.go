package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Waypoint is an intermediate pickup point on a ride's route.
type Waypoint struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type RideStatus string

const (
	RideAvailable  RideStatus = "available"
	RideFull       RideStatus = "full"
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further status change is allowed.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// Ride is a driver-published offer with fixed capacity and schedule.
// SeatsTaken is a ledger mutated only through CommitRideMutation so the
// capacity invariant 0 <= SeatsTaken <= TotalSeats survives concurrent
// bookings. Version is the optimistic-concurrency revision.
type Ride struct {
	ID                 int64          `json:"id"`
	DriverID           string         `json:"driver_id"`
	OriginAddress      string         `json:"origin_address"`
	DestinationAddress string         `json:"destination_address"`
	Waypoints          []Waypoint     `json:"waypoints,omitempty"`
	ScheduledAt        time.Time      `json:"scheduled_at"`
	IsRecurring        bool           `json:"is_recurring"`
	RecurringDays      []time.Weekday `json:"recurring_days,omitempty"`
	TotalSeats         int            `json:"total_seats"`
	SeatsTaken         int            `json:"seats_taken"`
	RequiredGender     Gender         `json:"required_gender"`
	PricePerSeat       int64          `json:"price_per_seat"` // cents
	Status             RideStatus     `json:"status"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Bookable reports whether the ride still accepts booking requests.
// A full ride is bookable: new requests are waitlisted.
func (r *Ride) Bookable() bool {
	return r.Status == RideAvailable || r.Status == RideFull
}

// FreeSeats returns the remaining capacity.
func (r *Ride) FreeSeats() int {
	return r.TotalSeats - r.SeatsTaken
}

type RequestStatus string

const (
	RequestWaiting    RequestStatus = "waiting"
	RequestAccepted   RequestStatus = "accepted"
	RequestRejected   RequestStatus = "rejected"
	RequestCheckedIn  RequestStatus = "checked_in"
	RequestCheckedOut RequestStatus = "checked_out"
	RequestCancelled  RequestStatus = "cancelled"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCheckedOut || s == RequestCancelled
}

// Active reports whether the request still counts against the
// one-active-request-per-passenger rule.
func (s RequestStatus) Active() bool {
	return s == RequestWaiting || s == RequestAccepted || s == RequestCheckedIn
}

// requestTransitions is the admission state machine. Anything absent fails
// with ErrInvalidTransition.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestWaiting:   {RequestAccepted, RequestRejected, RequestCancelled},
	RequestAccepted:  {RequestCheckedIn, RequestCancelled},
	RequestCheckedIn: {RequestCheckedOut, RequestCancelled},
}

// CanTransition reports whether the admission state machine allows from -> to.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RideRequest is a passenger's claim on seats of a ride offer.
type RideRequest struct {
	ID          string        `json:"id"`
	RideID      int64         `json:"ride_id"`
	PassengerID string        `json:"passenger_id"`
	Seats       int           `json:"seats"`
	Status      RequestStatus `json:"status"`
	Waitlisted  bool          `json:"waitlisted"`
	Waypoint    *Waypoint     `json:"waypoint,omitempty"` // selected pickup point
	PaymentRef  string        `json:"payment_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type EventKind string

const (
	EventRequestSubmitted    EventKind = "request_submitted"
	EventRequestAccepted     EventKind = "request_accepted"
	EventRequestRejected     EventKind = "request_rejected"
	EventRequestCancelled    EventKind = "request_cancelled"
	EventPassengerCheckedIn  EventKind = "passenger_checked_in"
	EventPassengerCheckedOut EventKind = "passenger_checked_out"
	EventSeatAvailable       EventKind = "seat_available"
	EventRideCreated         EventKind = "ride_created"
	EventRideStarted         EventKind = "ride_started"
	EventRideCompleted       EventKind = "ride_completed"
	EventRideCancelled       EventKind = "ride_cancelled"
	EventRideRegenerated     EventKind = "ride_regenerated"
)

// RideEvent is the post-commit side-effect descriptor published to
// collaborators (notification fan-out, audit). Delivery is best-effort,
// at-least-once; consumers must tolerate duplicates.
type RideEvent struct {
	Kind    EventKind      `json:"kind"`
	RideID  int64          `json:"ride_id"`
	UserID  string         `json:"user_id,omitempty"` // recipient, empty for broadcast
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}
