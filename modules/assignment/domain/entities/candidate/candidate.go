package candidate

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candidate is the read model of an eligible worker supplied by the
// candidate-pool collaborator. The pool is assumed already
// eligibility-filtered; the engine only ranks and fairness-filters it.
type Candidate struct {
	ID uuid.UUID
	// Rating on a 0..5 scale.
	Rating float64
	// TypicalProjectValue is the budget band the candidate usually works in,
	// matched against the work item's value signal.
	TypicalProjectValue decimal.Decimal
	// DaysSinceActive counts days since the candidate's last activity.
	DaysSinceActive float64
	Available       bool
}

// Pool supplies eligible candidates for a work item. External collaborator;
// callers propagate a deadline so a slow source cannot hold the work item
// row lock open.
type Pool interface {
	EligibleCandidates(ctx context.Context, targetID uuid.UUID, value decimal.Decimal) ([]Candidate, error)
}
