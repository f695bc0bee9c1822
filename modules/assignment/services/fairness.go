package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
)

// fairnessCountStatuses are the entry states that count against a
// candidate's assignment cap. Declines and expiries do not.
var fairnessCountStatuses = []queueentry.Status{
	queueentry.StatusNotified,
	queueentry.StatusAccepted,
	queueentry.StatusCompleted,
}

// FairnessLedger derives per-candidate assignment counts from queue entry
// history. There is no standalone fairness table; the ledger is computed.
type FairnessLedger struct {
	entries queueentry.Repository
}

func NewFairnessLedger(entries queueentry.Repository) *FairnessLedger {
	return &FairnessLedger{entries: entries}
}

// AssignmentCounts returns each candidate's recent assignment count,
// bounded by the fairness window when one is configured.
func (l *FairnessLedger) AssignmentCounts(ctx context.Context, cfg workitem.Fairness, now time.Time) (map[uuid.UUID]int64, error) {
	var since *time.Time
	if cfg.WindowDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.WindowDays)
		since = &cutoff
	}
	return l.entries.CountByCandidate(ctx, fairnessCountStatuses, since)
}

// ApplyFairness filters the ranked list down to at most limit candidates.
// Candidates at or over the assignment cap are excluded (cap of zero means
// unlimited). When ensureNewcomer is set and the pool holds a zero-history
// candidate, one is guaranteed a slot at a rank no worse than the median of
// the final slice, without ever displacing the top-ranked candidate. An
// empty result is a valid outcome, not an error.
func ApplyFairness(ranked []ScoredCandidate, counts map[uuid.UUID]int64, cfg workitem.Fairness, limit int) []ScoredCandidate {
	if limit <= 0 {
		return nil
	}

	eligible := make([]ScoredCandidate, 0, len(ranked))
	for _, sc := range ranked {
		if cfg.MaxAssignments > 0 && counts[sc.Candidate.ID] >= int64(cfg.MaxAssignments) {
			continue
		}
		eligible = append(eligible, sc)
	}

	final := eligible
	if len(final) > limit {
		final = final[:limit]
	}
	if !cfg.EnsureNewcomer {
		return final
	}

	if containsNewcomer(final, counts) {
		return final
	}
	newcomer, ok := firstNewcomer(eligible, counts)
	if !ok || len(final) < 2 {
		// Nothing to guarantee, or inserting would displace the top rank.
		return final
	}

	insertAt := len(final) / 2
	if insertAt < 1 {
		insertAt = 1
	}
	out := make([]ScoredCandidate, 0, len(final))
	out = append(out, final[:insertAt]...)
	out = append(out, newcomer)
	out = append(out, final[insertAt:]...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsNewcomer(list []ScoredCandidate, counts map[uuid.UUID]int64) bool {
	for _, sc := range list {
		if counts[sc.Candidate.ID] == 0 {
			return true
		}
	}
	return false
}

func firstNewcomer(list []ScoredCandidate, counts map[uuid.UUID]int64) (ScoredCandidate, bool) {
	for _, sc := range list {
		if counts[sc.Candidate.ID] == 0 {
			return sc, true
		}
	}
	return ScoredCandidate{}, false
}
