package models

import "testing"

func TestRequestTransitions(t *testing.T) {
	allowed := []struct{ from, to RequestStatus }{
		{RequestWaiting, RequestAccepted},
		{RequestWaiting, RequestRejected},
		{RequestWaiting, RequestCancelled},
		{RequestAccepted, RequestCheckedIn},
		{RequestAccepted, RequestCancelled},
		{RequestCheckedIn, RequestCheckedOut},
		{RequestCheckedIn, RequestCancelled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}
	denied := []struct{ from, to RequestStatus }{
		{RequestWaiting, RequestCheckedIn},
		{RequestAccepted, RequestRejected},
		{RequestCheckedOut, RequestCancelled},
		{RequestRejected, RequestAccepted},
		{RequestCancelled, RequestWaiting},
		{RequestCheckedOut, RequestCheckedIn},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s must be denied", tr.from, tr.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []RequestStatus{RequestRejected, RequestCheckedOut, RequestCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
	}
	for _, s := range []RideStatus{RideCompleted, RideCancelled} {
		if !s.Terminal() {
			t.Errorf("ride status %s should be terminal", s)
		}
	}
	if RideInProgress.Terminal() {
		t.Error("in_progress is not terminal")
	}
}

func TestRideBookable(t *testing.T) {
	r := &Ride{TotalSeats: 3, SeatsTaken: 3, Status: RideFull}
	if !r.Bookable() {
		t.Error("full ride still takes waitlisted requests")
	}
	if r.FreeSeats() != 0 {
		t.Errorf("want 0 free seats, got %d", r.FreeSeats())
	}
	r.Status = RideInProgress
	if r.Bookable() {
		t.Error("in-progress ride is not bookable")
	}
}
