package queueentry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	ErrInvalidTransition  = errors.New("invalid queue entry transition")
	ErrInvalidOutcome     = errors.New("invalid queue entry outcome")
)

const TargetTypeWorkItem = "work_item"

type Status string

const (
	StatusPending   Status = "pending"
	StatusNotified  Status = "notified"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
)

// Open reports whether the entry still awaits a candidate response.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusNotified
}

func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusCompleted, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// ResolutionOutcome validates an externally supplied terminal outcome.
func ResolutionOutcome(raw string) (Status, error) {
	switch Status(raw) {
	case StatusAccepted, StatusCompleted, StatusDeclined:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
}

type FindParams struct {
	TargetID uuid.UUID
	Statuses []Status
	Limit    int
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (QueueEntry, error)
	CreateMany(ctx context.Context, entries []QueueEntry) ([]QueueEntry, error)
	Save(ctx context.Context, entry QueueEntry) (QueueEntry, error)
	List(ctx context.Context, params *FindParams) ([]QueueEntry, error)
	// ExpireOpenByTarget flips all open entries for the target to expired.
	ExpireOpenByTarget(ctx context.Context, targetID uuid.UUID, at time.Time) (int64, error)
	// ExpireDue flips open entries whose expiry has passed. Invoked by an
	// external sweep, never by an engine-owned timer.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	// CountByCandidate returns per-candidate counts of entries in the given
	// statuses, optionally bounded to entries notified at or after since.
	CountByCandidate(ctx context.Context, statuses []Status, since *time.Time) (map[uuid.UUID]int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	// RecentlyResolved returns up to limit resolved entries having both
	// notifiedAt and resolvedAt, most recently resolved first.
	RecentlyResolved(ctx context.Context, limit int) ([]QueueEntry, error)
}

type QueueEntry interface {
	ID() uuid.UUID
	TargetType() string
	TargetID() uuid.UUID
	CandidateID() uuid.UUID
	Status() Status
	Score() float64
	WeightBreakdown() map[string]float64
	NotifiedAt() *time.Time
	ResolvedAt() *time.Time
	ExpiresAt() time.Time
	CreatedAt() time.Time

	Resolve(outcome Status, at time.Time) (QueueEntry, error)
	Expire(at time.Time) (QueueEntry, error)
}

type queueEntry struct {
	id              uuid.UUID
	targetType      string
	targetID        uuid.UUID
	candidateID     uuid.UUID
	status          Status
	score           float64
	weightBreakdown map[string]float64
	notifiedAt      *time.Time
	resolvedAt      *time.Time
	expiresAt       time.Time
	createdAt       time.Time
}

// NewNotified creates an entry already in the notified state, stamped with
// its score breakdown for explainability.
func NewNotified(targetID, candidateID uuid.UUID, score float64, breakdown map[string]float64, notifiedAt, expiresAt time.Time, opts ...Option) QueueEntry {
	notified := notifiedAt
	entry := &queueEntry{
		id:              uuid.New(),
		targetType:      TargetTypeWorkItem,
		targetID:        targetID,
		candidateID:     candidateID,
		status:          StatusNotified,
		score:           score,
		weightBreakdown: breakdown,
		notifiedAt:      &notified,
		expiresAt:       expiresAt,
		createdAt:       notifiedAt,
	}
	for _, opt := range opts {
		opt(entry)
	}
	return entry
}

type Option func(*queueEntry)

func WithID(id uuid.UUID) Option {
	return func(e *queueEntry) {
		if id != uuid.Nil {
			e.id = id
		}
	}
}

func WithStatus(status Status) Option {
	return func(e *queueEntry) {
		e.status = status
	}
}

func WithResolvedAt(resolvedAt *time.Time) Option {
	return func(e *queueEntry) {
		e.resolvedAt = resolvedAt
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(e *queueEntry) {
		if !createdAt.IsZero() {
			e.createdAt = createdAt
		}
	}
}

func WithNotifiedAt(notifiedAt *time.Time) Option {
	return func(e *queueEntry) {
		e.notifiedAt = notifiedAt
	}
}

func (e *queueEntry) ID() uuid.UUID                       { return e.id }
func (e *queueEntry) TargetType() string                  { return e.targetType }
func (e *queueEntry) TargetID() uuid.UUID                 { return e.targetID }
func (e *queueEntry) CandidateID() uuid.UUID              { return e.candidateID }
func (e *queueEntry) Status() Status                      { return e.status }
func (e *queueEntry) Score() float64                      { return e.score }
func (e *queueEntry) WeightBreakdown() map[string]float64 { return e.weightBreakdown }
func (e *queueEntry) NotifiedAt() *time.Time              { return e.notifiedAt }
func (e *queueEntry) ResolvedAt() *time.Time              { return e.resolvedAt }
func (e *queueEntry) ExpiresAt() time.Time                { return e.expiresAt }
func (e *queueEntry) CreatedAt() time.Time                { return e.createdAt }

func (e *queueEntry) Resolve(outcome Status, at time.Time) (QueueEntry, error) {
	if !e.status.Open() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.status, outcome)
	}
	if outcome != StatusAccepted && outcome != StatusCompleted && outcome != StatusDeclined {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	e.status = outcome
	e.resolvedAt = &at
	return e, nil
}

func (e *queueEntry) Expire(at time.Time) (QueueEntry, error) {
	if !e.status.Open() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.status, StatusExpired)
	}
	e.status = StatusExpired
	e.resolvedAt = &at
	return e, nil
}
