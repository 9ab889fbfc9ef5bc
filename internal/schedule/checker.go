// Package schedule decides whether a candidate ride time collides with a
// driver's existing offers.
package schedule

import (
	"context"
	"time"

	"github.com/example/carpool/internal/storage"
)

// DefaultMinGap is the minimum separation between two offers of one driver.
const DefaultMinGap = 15 * time.Minute

// Checker flags a conflict when the candidate start is closer than MinGap
// to any active offer of the driver. This is a symmetric buffer around the
// start times, not true interval overlap with ride duration; the product
// behavior depends on it, so keep it until durations are modeled.
type Checker struct {
	Rides  storage.RideStore
	MinGap time.Duration
}

func NewChecker(rides storage.RideStore, minGap time.Duration) *Checker {
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	return &Checker{Rides: rides, MinGap: minGap}
}

// HasConflict scans the driver's rides with status available, full or
// in_progress. excludeRideID skips one ride, for reschedule checks; pass 0
// to check them all.
func (c *Checker) HasConflict(ctx context.Context, driverID string, candidate time.Time, excludeRideID int64) (bool, error) {
	rides, err := c.Rides.ActiveRidesByDriver(ctx, driverID)
	if err != nil {
		return false, err
	}
	for _, r := range rides {
		if r.ID == excludeRideID {
			continue
		}
		if gap := absDuration(candidate.Sub(r.ScheduledAt)); gap < c.MinGap {
			return true, nil
		}
	}
	return false, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
