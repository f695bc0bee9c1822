package services

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/candidate"
)

const (
	CriterionRating       = "rating"
	CriterionOpportunity  = "opportunity"
	CriterionRecency      = "recency"
	CriterionAvailability = "availability"
)

const maxRating = 5.0

// recencyHorizonDays is the window after which the recency signal bottoms out.
const recencyHorizonDays = 30.0

// DefaultWeights is the built-in weight vector applied when a work item
// carries no custom weights. Shares sum to 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		CriterionRating:       0.35,
		CriterionOpportunity:  0.3,
		CriterionRecency:      0.2,
		CriterionAvailability: 0.15,
	}
}

type ScoredCandidate struct {
	Candidate candidate.Candidate
	Score     float64
	// Breakdown holds each criterion's weighted contribution to Score.
	Breakdown map[string]float64
}

// ScoreCandidates ranks the pool by weighted affinity. It applies no fairness
// rules. Ordering is deterministic: descending score, ties broken by
// candidate ID ascending, so identical inputs always produce identical
// queues.
func ScoreCandidates(pool []candidate.Candidate, value decimal.Decimal, weights map[string]float64) []ScoredCandidate {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}

	criteria := make([]string, 0, len(weights))
	for criterion := range weights {
		criteria = append(criteria, criterion)
	}
	// Fixed summation order keeps scores bit-identical across runs.
	sort.Strings(criteria)

	scored := make([]ScoredCandidate, 0, len(pool))
	for _, c := range pool {
		breakdown := make(map[string]float64, len(criteria))
		total := 0.0
		for _, criterion := range criteria {
			contribution := roundScore(weights[criterion] * signalValue(criterion, c, value))
			breakdown[criterion] = contribution
			total += contribution
		}
		scored = append(scored, ScoredCandidate{
			Candidate: c,
			Score:     roundScore(total),
			Breakdown: breakdown,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return strings.Compare(scored[i].Candidate.ID.String(), scored[j].Candidate.ID.String()) < 0
	})
	return scored
}

// signalValue normalizes one candidate signal into [0,1]. Unknown criteria
// contribute zero rather than failing, so stale persisted weights cannot
// break regeneration.
func signalValue(criterion string, c candidate.Candidate, value decimal.Decimal) float64 {
	switch criterion {
	case CriterionRating:
		return clamp01(c.Rating / maxRating)
	case CriterionOpportunity:
		return opportunityFit(value, c.TypicalProjectValue)
	case CriterionRecency:
		return clamp01(1 - c.DaysSinceActive/recencyHorizonDays)
	case CriterionAvailability:
		if c.Available {
			return 1
		}
		return 0
	}
	return 0
}

// opportunityFit measures how close the work item's value sits to the
// candidate's typical project value. Identical values score 1; the signal
// decays with relative distance.
func opportunityFit(value, typical decimal.Decimal) float64 {
	v, _ := value.Float64()
	t, _ := typical.Float64()
	if v <= 0 && t <= 0 {
		return 1
	}
	larger := math.Max(v, t)
	if larger <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(v-t)/larger)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundScore(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
