package identity

import (
	"context"
	"sync"

	"github.com/example/carpool/internal/models"
)

// Provider resolves a user's declared gender for the eligibility check.
// Profile management itself lives outside the engine.
type Provider interface {
	GenderOf(ctx context.Context, userID string) (models.Gender, error)
}

// StaticProvider serves profiles from a fixed map. Unknown users resolve to
// GenderAny, which only passes rides without a gender restriction.
type StaticProvider struct {
	mu      sync.RWMutex
	genders map[string]models.Gender
}

func NewStaticProvider(genders map[string]models.Gender) *StaticProvider {
	if genders == nil {
		genders = make(map[string]models.Gender)
	}
	return &StaticProvider{genders: genders}
}

func (s *StaticProvider) GenderOf(ctx context.Context, userID string) (models.Gender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.genders[userID]; ok {
		return g, nil
	}
	return models.GenderAny, nil
}

func (s *StaticProvider) Set(userID string, g models.Gender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genders[userID] = g
}
