package workitem

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrWorkItemNotFound = errors.New("work item not found")

type AutoAssignStatus string

const (
	AutoAssignInactive           AutoAssignStatus = "inactive"
	AutoAssignQueuePending       AutoAssignStatus = "queue_pending"
	AutoAssignQueueActive        AutoAssignStatus = "queue_active"
	AutoAssignAwaitingCandidates AutoAssignStatus = "awaiting_candidates"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (WorkItem, error)
	// GetByIDForUpdate takes a row lock on the work item so concurrent
	// regeneration attempts for the same target serialize.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (WorkItem, error)
	Save(ctx context.Context, item WorkItem) (WorkItem, error)
	// AutoAssignStats feeds the command-center rollup.
	AutoAssignStats(ctx context.Context) (AutoAssignStats, error)
}

// AutoAssignStats is the per-work-item slice of the command-center rollup.
type AutoAssignStats struct {
	TotalItems          int64
	EnabledItems        int64
	TotalQueueSize      int64
	NewcomerGuaranteeOn int64
	LastRunAt           *time.Time
}

type WorkItem interface {
	ID() uuid.UUID
	Title() string
	BudgetAmount() decimal.Decimal
	Location() string
	AutoAssignEnabled() bool
	AutoAssignStatus() AutoAssignStatus
	AutoAssignSettings() Settings
	LastRunAt() *time.Time
	LastQueueSize() int
	CreatedAt() time.Time
	UpdatedAt() time.Time

	UpdateDetails(title string, budget decimal.Decimal, location string) WorkItem
	EnableAutoAssign(settings Settings) WorkItem
	DisableAutoAssign() WorkItem
	RecordQueueRun(status AutoAssignStatus, queueSize int, at time.Time) WorkItem
	WithAutoAssignSettings(settings Settings) WorkItem
}

type workItem struct {
	id            uuid.UUID
	title         string
	budgetAmount  decimal.Decimal
	location      string
	enabled       bool
	status        AutoAssignStatus
	settings      Settings
	lastRunAt     *time.Time
	lastQueueSize int
	createdAt     time.Time
	updatedAt     time.Time
}

func New(title string, budget decimal.Decimal, opts ...Option) WorkItem {
	item := &workItem{
		id:           uuid.New(),
		title:        title,
		budgetAmount: budget,
		status:       AutoAssignInactive,
		settings:     DefaultSettings(),
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(item)
	}
	return item
}

type Option func(*workItem)

func WithID(id uuid.UUID) Option {
	return func(w *workItem) {
		if id != uuid.Nil {
			w.id = id
		}
	}
}

func WithLocation(location string) Option {
	return func(w *workItem) {
		w.location = location
	}
}

func WithAutoAssign(enabled bool, status AutoAssignStatus, settings Settings) Option {
	return func(w *workItem) {
		w.enabled = enabled
		w.status = status
		w.settings = settings
	}
}

func WithQueueRollup(lastRunAt *time.Time, lastQueueSize int) Option {
	return func(w *workItem) {
		w.lastRunAt = lastRunAt
		w.lastQueueSize = lastQueueSize
	}
}

func WithTimestamps(createdAt, updatedAt time.Time) Option {
	return func(w *workItem) {
		if !createdAt.IsZero() {
			w.createdAt = createdAt
		}
		if !updatedAt.IsZero() {
			w.updatedAt = updatedAt
		}
	}
}

func (w *workItem) ID() uuid.UUID                      { return w.id }
func (w *workItem) Title() string                      { return w.title }
func (w *workItem) BudgetAmount() decimal.Decimal      { return w.budgetAmount }
func (w *workItem) Location() string                   { return w.location }
func (w *workItem) AutoAssignEnabled() bool            { return w.enabled }
func (w *workItem) AutoAssignStatus() AutoAssignStatus { return w.status }
func (w *workItem) AutoAssignSettings() Settings       { return w.settings }
func (w *workItem) LastRunAt() *time.Time              { return w.lastRunAt }
func (w *workItem) LastQueueSize() int                 { return w.lastQueueSize }
func (w *workItem) CreatedAt() time.Time               { return w.createdAt }
func (w *workItem) UpdatedAt() time.Time               { return w.updatedAt }

func (w *workItem) UpdateDetails(title string, budget decimal.Decimal, location string) WorkItem {
	w.title = title
	w.budgetAmount = budget
	w.location = location
	w.updatedAt = time.Now()
	return w
}

func (w *workItem) EnableAutoAssign(settings Settings) WorkItem {
	w.enabled = true
	w.status = AutoAssignQueuePending
	w.settings = settings
	w.updatedAt = time.Now()
	return w
}

func (w *workItem) DisableAutoAssign() WorkItem {
	w.enabled = false
	w.status = AutoAssignInactive
	w.lastQueueSize = 0
	w.updatedAt = time.Now()
	return w
}

func (w *workItem) RecordQueueRun(status AutoAssignStatus, queueSize int, at time.Time) WorkItem {
	w.status = status
	w.lastRunAt = &at
	w.lastQueueSize = queueSize
	w.updatedAt = at
	return w
}

func (w *workItem) WithAutoAssignSettings(settings Settings) WorkItem {
	w.settings = settings
	w.updatedAt = time.Now()
	return w
}
