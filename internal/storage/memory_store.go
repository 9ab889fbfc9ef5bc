package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/carpool/internal/models"
)

// MemoryStore keeps rides and requests in process memory. It implements the
// same compare-and-swap contract as the Postgres store, so engine tests
// exercise the real concurrency behavior.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[int64]*models.Ride
	requests map[string]*models.RideRequest
	seq      int // request insertion counter, preserves creation order
	order    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[int64]*models.Ride),
		requests: make(map[string]*models.RideRequest),
		order:    make(map[string]int),
	}
}

func (m *MemoryStore) GetRide(ctx context.Context, id int64) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Version == 0 {
		r.Version = 1
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) CommitRideMutation(ctx context.Context, id, expectedVersion int64, mutate RideMutation) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, models.ErrVersionConflict
	}
	next := *cur
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	m.rides[id] = &next
	cp := next
	return &cp, nil
}

func (m *MemoryStore) ActiveRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.DriverID != driverID || r.Status.Terminal() {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, req *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	m.seq++
	m.order[req.ID] = m.seq
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, req *models.RideRequest, expectedStatus models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[req.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status != expectedStatus {
		return models.ErrVersionConflict
	}
	req.UpdatedAt = time.Now()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) RequestsByRide(ctx context.Context, rideID int64) ([]*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.RideRequest
	for _, req := range m.requests {
		if req.RideID != rideID {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *MemoryStore) ActiveRequestByPassenger(ctx context.Context, rideID int64, passengerID string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, req := range m.requests {
		if req.RideID == rideID && req.PassengerID == passengerID && req.Status.Active() {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}
