package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/recurrence"
	"github.com/example/carpool/internal/schedule"
	"github.com/example/carpool/internal/sequence"
	"github.com/example/carpool/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type sentNote struct {
	userID string
	kind   models.EventKind
}

type recordingSink struct {
	mu    sync.Mutex
	notes []sentNote
}

func (r *recordingSink) Notify(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNote{userID, kind})
	return nil
}

func (r *recordingSink) count(kind models.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.kind == kind {
			n++
		}
	}
	return n
}

var departure = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func newTestController(store *storage.MemoryStore, clock Clock) (*Controller, *recordingSink) {
	sink := &recordingSink{}
	seq := sequence.NewCounter(100)
	c := &Controller{
		Rides:     store,
		Requests:  store,
		Seq:       seq,
		Conflicts: schedule.NewChecker(store, 15*time.Minute),
		Regen:     &recurrence.Regenerator{Rides: store, Requests: store, Seq: seq, Sink: sink},
		Sink:      sink,
		Clock:     clock,
	}
	return c, sink
}

func seedRide(t *testing.T, store *storage.MemoryStore, ride models.Ride) *models.Ride {
	t.Helper()
	if ride.ID == 0 {
		ride.ID = 1
	}
	if ride.DriverID == "" {
		ride.DriverID = "driver"
	}
	if ride.Status == "" {
		ride.Status = models.RideAvailable
	}
	if ride.ScheduledAt.IsZero() {
		ride.ScheduledAt = departure
	}
	if err := store.CreateRide(context.Background(), &ride); err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return &ride
}

func seedRequest(t *testing.T, store *storage.MemoryStore, id string, rideID int64, passenger string, status models.RequestStatus) {
	t.Helper()
	req := &models.RideRequest{ID: id, RideID: rideID, PassengerID: passenger, Seats: 1, Status: status}
	if err := store.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func TestStartRideTimeGate(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := &fixedClock{t: departure.Add(-time.Minute)}
	c, _ := newTestController(store, clock)
	seedRide(t, store, models.Ride{TotalSeats: 3})
	ctx := context.Background()

	if _, err := c.StartRide(ctx, 1, "driver"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("early start: want ErrInvalidTransition, got %v", err)
	}

	clock.t = departure
	ride, err := c.StartRide(ctx, 1, "driver")
	if err != nil {
		t.Fatalf("start at scheduled time: %v", err)
	}
	if ride.Status != models.RideInProgress {
		t.Fatalf("want in_progress, got %s", ride.Status)
	}
}

func TestStartRideRoleAndTerminalChecks(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{ID: 1, TotalSeats: 3})
	seedRide(t, store, models.Ride{ID: 2, TotalSeats: 3, Status: models.RideCompleted})
	ctx := context.Background()

	if _, err := c.StartRide(ctx, 1, "someone-else"); !errors.Is(err, models.ErrNotRideDriver) {
		t.Fatalf("want ErrNotRideDriver, got %v", err)
	}
	if _, err := c.StartRide(ctx, 2, "driver"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("completed ride must stay terminal, got %v", err)
	}
}

func TestStartRideNotifiesActivePassengersOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	c, sink := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3})
	seedRequest(t, store, "r1", 1, "p1", models.RequestAccepted)
	seedRequest(t, store, "r2", 1, "p2", models.RequestWaiting)
	seedRequest(t, store, "r3", 1, "p3", models.RequestCancelled)

	if _, err := c.StartRide(context.Background(), 1, "driver"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := sink.count(models.EventRideStarted); got != 2 {
		t.Fatalf("want 2 passenger notices (terminal excluded), got %d", got)
	}
}

func TestFinishRideOnlyFromInProgress(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3})
	ctx := context.Background()

	if _, err := c.FinishRide(ctx, 1, "driver", false); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("finish from available: want ErrInvalidTransition, got %v", err)
	}
	if _, err := c.StartRide(ctx, 1, "driver"); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := c.FinishRide(ctx, 1, "driver", false)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.Ride.Status != models.RideCompleted {
		t.Fatalf("want completed, got %s", res.Ride.Status)
	}
}

func TestFinishRecurringRideRegenerates(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3, IsRecurring: true, Status: models.RideInProgress})
	seedRequest(t, store, "r1", 1, "p1", models.RequestCheckedOut)
	ctx := context.Background()

	res, err := c.FinishRide(ctx, 1, "driver", true)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.NextRide == nil {
		t.Fatal("expected regenerated ride")
	}
	if !res.NextRide.ScheduledAt.Equal(departure.AddDate(0, 0, 7)) {
		t.Fatalf("want +7 days, got %s", res.NextRide.ScheduledAt)
	}
	if res.NextRide.SeatsTaken != 0 || res.NextRide.Status != models.RideAvailable {
		t.Fatalf("fresh occurrence must be empty and available, got %s/%d", res.NextRide.Status, res.NextRide.SeatsTaken)
	}
}

func TestFinishRecurringWithoutConfirmationSkipsRegeneration(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3, IsRecurring: true, Status: models.RideInProgress})

	res, err := c.FinishRide(context.Background(), 1, "driver", false)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.NextRide != nil || res.RegenerationErr != nil {
		t.Fatalf("declined regeneration must do nothing, got %+v", res)
	}
}

type failingAllocator struct{}

func (failingAllocator) NextRideID(ctx context.Context) (int64, error) {
	return 0, errors.New("sequence down")
}

func TestRegenerationFailureKeepsRideCompleted(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	c.Regen = &recurrence.Regenerator{Rides: store, Requests: store, Seq: failingAllocator{}, Sink: c.Sink}
	seedRide(t, store, models.Ride{TotalSeats: 3, IsRecurring: true, Status: models.RideInProgress})
	ctx := context.Background()

	res, err := c.FinishRide(ctx, 1, "driver", true)
	if err != nil {
		t.Fatalf("finish must not fail when regeneration does: %v", err)
	}
	if res.RegenerationErr == nil {
		t.Fatal("expected regeneration error reported")
	}
	ride, _ := store.GetRide(ctx, 1)
	if ride.Status != models.RideCompleted {
		t.Fatalf("completed status must never be reverted, got %s", ride.Status)
	}
}

func TestCancelRideClosesActiveRequests(t *testing.T) {
	store := storage.NewMemoryStore()
	c, sink := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3})
	seedRequest(t, store, "r1", 1, "p1", models.RequestAccepted)
	seedRequest(t, store, "r2", 1, "p2", models.RequestCheckedOut)
	ctx := context.Background()

	ride, err := c.CancelRide(ctx, 1, "driver")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ride.Status != models.RideCancelled {
		t.Fatalf("want cancelled, got %s", ride.Status)
	}
	r1, _ := store.GetRequest(ctx, "r1")
	if r1.Status != models.RequestCancelled {
		t.Fatalf("active request must close out, got %s", r1.Status)
	}
	r2, _ := store.GetRequest(ctx, "r2")
	if r2.Status != models.RequestCheckedOut {
		t.Fatalf("terminal request must not change, got %s", r2.Status)
	}
	if got := sink.count(models.EventRideCancelled); got != 1 {
		t.Fatalf("want 1 passenger notice, got %d", got)
	}
}

func TestCancelRideOnlyBeforeDeparture(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure})
	seedRide(t, store, models.Ride{TotalSeats: 3, Status: models.RideInProgress})

	if _, err := c.CancelRide(context.Background(), 1, "driver"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("cancel of in-progress ride: want ErrInvalidTransition, got %v", err)
	}
}

func TestCreateRideRunsConflictCheck(t *testing.T) {
	store := storage.NewMemoryStore()
	c, _ := newTestController(store, &fixedClock{t: departure.Add(-24 * time.Hour)})
	seedRide(t, store, models.Ride{ID: 50, ScheduledAt: departure, TotalSeats: 3})
	ctx := context.Background()

	_, err := c.CreateRide(ctx, CreateRideSpec{
		DriverID:    "driver",
		TotalSeats:  2,
		ScheduledAt: departure.Add(10 * time.Minute),
	})
	if !errors.Is(err, models.ErrScheduleConflict) {
		t.Fatalf("10 minute gap inside 15m buffer: want ErrScheduleConflict, got %v", err)
	}

	ride, err := c.CreateRide(ctx, CreateRideSpec{
		DriverID:    "driver",
		TotalSeats:  2,
		ScheduledAt: departure.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("20 minute gap must pass: %v", err)
	}
	if ride.ID == 0 {
		t.Fatal("expected allocated ride id")
	}
}
