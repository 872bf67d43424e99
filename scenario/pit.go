// Package scenario builds point-in-time-safe bias scenarios and guards their
// temporal integrity.
package scenario

import (
	"fmt"
	"time"

	"github.com/alphagauge/biasbench/domain"
)

// PointInTimeViolation is returned when a scenario's embedded context is
// anchored past the validation time. A violating scenario must never reach a
// model invocation.
type PointInTimeViolation struct {
	ScenarioID string
	AsOf       time.Time
	Now        time.Time
}

func (e *PointInTimeViolation) Error() string {
	return fmt.Sprintf("point-in-time violation: scenario %s as_of %s is after %s",
		e.ScenarioID, e.AsOf.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

// Guard validates scenario temporal integrity. Pure and stateless; the clock
// is injectable for tests.
type Guard struct {
	now func() time.Time
}

// NewGuard returns a guard using the supplied clock, or UTC wall time when nil.
func NewGuard(now func() time.Time) *Guard {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Guard{now: now}
}

// Validate rejects any scenario whose as_of exceeds the current validation
// time. Called at generation time and again immediately before each dispatch,
// so a reused scenario cannot be replayed past its epoch.
func (g *Guard) Validate(s *domain.Scenario) error {
	if s == nil {
		return fmt.Errorf("scenario is nil")
	}
	if s.AsOf.IsZero() {
		return fmt.Errorf("scenario %s: as_of is required", s.ID)
	}
	if now := g.now(); s.AsOf.After(now) {
		return &PointInTimeViolation{ScenarioID: s.ID, AsOf: s.AsOf, Now: now}
	}
	return nil
}
