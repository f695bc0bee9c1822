package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/candidate"
	"github.com/workmesh/assign-sdk/pkg/composables"
)

// CandidateRepository is the database-backed candidate pool. Eligibility is
// availability only; ranking and fairness filtering happen in the engine.
type CandidateRepository struct{}

func NewCandidateRepository() candidate.Pool {
	return &CandidateRepository{}
}

func (r *CandidateRepository) EligibleCandidates(ctx context.Context, targetID uuid.UUID, value decimal.Decimal) ([]candidate.Candidate, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, rating, typical_project_value::TEXT, last_active_at, available
		FROM candidates
		WHERE available
		ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var candidates []candidate.Candidate
	for rows.Next() {
		var (
			idStr           string
			rating          float64
			typicalValueRaw string
			lastActiveAt    *time.Time
			available       bool
		)
		if err := rows.Scan(&idStr, &rating, &typicalValueRaw, &lastActiveAt, &available); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		typicalValue, err := decimal.NewFromString(typicalValueRaw)
		if err != nil {
			return nil, err
		}
		daysSinceActive := 0.0
		if lastActiveAt != nil {
			daysSinceActive = now.Sub(*lastActiveAt).Hours() / 24
		}
		candidates = append(candidates, candidate.Candidate{
			ID:                  id,
			Rating:              rating,
			TypicalProjectValue: typicalValue,
			DaysSinceActive:     daysSinceActive,
			Available:           available,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}
