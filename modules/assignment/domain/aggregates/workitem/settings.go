package workitem

import (
	"encoding/json"
	"math"
	"sort"
)

const (
	MinLimit     = 1
	MaxLimit     = 100
	DefaultLimit = 12

	MinExpiresInMinutes     = 30
	MaxExpiresInMinutes     = 1440
	DefaultExpiresInMinutes = 180

	DefaultMaxAssignments = 3
)

// Fairness caps over-assignment and guarantees newcomer inclusion.
// WindowDays of zero means the assignment history window is unbounded.
type Fairness struct {
	EnsureNewcomer bool
	MaxAssignments int
	WindowDays     int
}

// Settings is the canonical auto-assign configuration stored on a work item.
// A nil Weights map means the engine's built-in weighting applies.
type Settings struct {
	Limit            int
	ExpiresInMinutes int
	Fairness         Fairness
	Weights          map[string]float64
}

func DefaultSettings() Settings {
	return Settings{
		Limit:            DefaultLimit,
		ExpiresInMinutes: DefaultExpiresInMinutes,
		Fairness: Fairness{
			EnsureNewcomer: true,
			MaxAssignments: DefaultMaxAssignments,
		},
	}
}

// SettingsInput is a raw partial settings payload. Nil fields mean "not
// provided"; values are coerced and clamped, never rejected.
type SettingsInput struct {
	Limit            *float64
	ExpiresInMinutes *float64
	Fairness         *FairnessInput
	Weights          map[string]float64
}

type FairnessInput struct {
	EnsureNewcomer *bool
	MaxAssignments *float64
	WindowDays     *float64
}

// NormalizeSettings merges input over fallback and produces canonical
// settings. Pure: it never touches storage. Numeric fields fall back and
// clamp; weights merge per key, drop non-positive or non-finite entries and
// renormalize to sum 1.0 at six decimal places.
func NormalizeSettings(input *SettingsInput, fallback *Settings) Settings {
	if input == nil {
		input = &SettingsInput{}
	}

	out := DefaultSettings()

	out.Limit = clampInt(
		coalesceNumber(input.Limit, fallbackLimit(fallback), DefaultLimit),
		MinLimit, MaxLimit,
	)
	out.ExpiresInMinutes = clampInt(
		coalesceNumber(input.ExpiresInMinutes, fallbackExpires(fallback), DefaultExpiresInMinutes),
		MinExpiresInMinutes, MaxExpiresInMinutes,
	)

	out.Fairness = normalizeFairness(input.Fairness, fallback)
	out.Weights = normalizeWeights(input.Weights, fallbackWeights(fallback))

	return out
}

func fallbackLimit(fallback *Settings) *float64 {
	if fallback == nil || fallback.Limit <= 0 {
		return nil
	}
	v := float64(fallback.Limit)
	return &v
}

func fallbackExpires(fallback *Settings) *float64 {
	if fallback == nil || fallback.ExpiresInMinutes <= 0 {
		return nil
	}
	v := float64(fallback.ExpiresInMinutes)
	return &v
}

func fallbackWeights(fallback *Settings) map[string]float64 {
	if fallback == nil {
		return nil
	}
	return fallback.Weights
}

func normalizeFairness(input *FairnessInput, fallback *Settings) Fairness {
	out := Fairness{
		EnsureNewcomer: true,
		MaxAssignments: DefaultMaxAssignments,
	}
	if fallback != nil {
		out.EnsureNewcomer = fallback.Fairness.EnsureNewcomer
		out.MaxAssignments = fallback.Fairness.MaxAssignments
		if fallback.Fairness.WindowDays > 0 {
			out.WindowDays = fallback.Fairness.WindowDays
		}
	}
	if input == nil {
		if out.MaxAssignments < 0 {
			out.MaxAssignments = 0
		}
		return out
	}
	if input.EnsureNewcomer != nil {
		out.EnsureNewcomer = *input.EnsureNewcomer
	}
	if input.MaxAssignments != nil && isFinite(*input.MaxAssignments) {
		out.MaxAssignments = int(*input.MaxAssignments)
	}
	if out.MaxAssignments < 0 {
		out.MaxAssignments = 0
	}
	if input.WindowDays != nil {
		if isFinite(*input.WindowDays) && *input.WindowDays > 0 {
			out.WindowDays = int(*input.WindowDays)
		} else {
			out.WindowDays = 0
		}
	}
	return out
}

func normalizeWeights(input, fallback map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(fallback)+len(input))
	for k, v := range fallback {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}

	sum := 0.0
	for k, v := range merged {
		if !isFinite(v) || v <= 0 {
			delete(merged, k)
			continue
		}
		sum += v
	}
	if len(merged) == 0 || sum <= 0 {
		return nil
	}

	for k, v := range merged {
		merged[k] = roundWeight(v / sum)
	}
	return merged
}

func coalesceNumber(input, fallback *float64, def int) int {
	if input != nil && isFinite(*input) && *input > 0 {
		return int(*input)
	}
	if fallback != nil && isFinite(*fallback) && *fallback > 0 {
		return int(*fallback)
	}
	return def
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func roundWeight(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// WeightCriteria returns the weight keys in deterministic order.
func (s Settings) WeightCriteria() []string {
	keys := make([]string, 0, len(s.Weights))
	for k := range s.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type settingsJSON struct {
	Limit            int                `json:"limit"`
	ExpiresInMinutes int                `json:"expiresInMinutes"`
	Fairness         fairnessJSON       `json:"fairness"`
	Weights          map[string]float64 `json:"weights"`
}

type fairnessJSON struct {
	EnsureNewcomer bool `json:"ensureNewcomer"`
	MaxAssignments int  `json:"maxAssignments"`
	// MaxAssignmentsForPriority mirrors MaxAssignments for readers of the
	// legacy payload shape. One logical knob, two persisted aliases.
	MaxAssignmentsForPriority int  `json:"maxAssignmentsForPriority"`
	WindowDays                *int `json:"windowDays,omitempty"`
}

func (s Settings) MarshalJSON() ([]byte, error) {
	out := settingsJSON{
		Limit:            s.Limit,
		ExpiresInMinutes: s.ExpiresInMinutes,
		Fairness: fairnessJSON{
			EnsureNewcomer:            s.Fairness.EnsureNewcomer,
			MaxAssignments:            s.Fairness.MaxAssignments,
			MaxAssignmentsForPriority: s.Fairness.MaxAssignments,
		},
		Weights: s.Weights,
	}
	if s.Fairness.WindowDays > 0 {
		days := s.Fairness.WindowDays
		out.Fairness.WindowDays = &days
	}
	return json.Marshal(out)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Limit = raw.Limit
	s.ExpiresInMinutes = raw.ExpiresInMinutes
	s.Fairness = Fairness{
		EnsureNewcomer: raw.Fairness.EnsureNewcomer,
		MaxAssignments: raw.Fairness.MaxAssignments,
	}
	if raw.Fairness.WindowDays != nil && *raw.Fairness.WindowDays > 0 {
		s.Fairness.WindowDays = *raw.Fairness.WindowDays
	}
	s.Weights = raw.Weights
	return nil
}
