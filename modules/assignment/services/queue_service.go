package services

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/candidate"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/serrors"
)

var (
	ErrMissingTarget       = serrors.NewError("VALIDATION", "target identifier is required", "")
	ErrAutoAssignDisabled  = serrors.NewError("VALIDATION", "auto-assign is not enabled for this work item", "")
	ErrCandidatePoolFailed = serrors.NewError("COLLABORATOR_FAILED", "candidate pool lookup failed", "")
)

const defaultCandidatePoolTimeout = 10 * time.Second

// CacheInvalidator lets mutations drop the command-center rollup so the next
// read recomputes instead of serving stale post-mutation data.
type CacheInvalidator interface {
	Invalidate()
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate() {}

// AssignmentService orchestrates queue generation, the entry lifecycle and
// audit recording. Every mutation runs in one transaction with a row lock on
// the work item; audit events are written commit-then-log via EventsService.
type AssignmentService struct {
	workItems   workitem.Repository
	entries     queueentry.Repository
	events      *EventsService
	pool        candidate.Pool
	fairness    *FairnessLedger
	cache       CacheInvalidator
	poolTimeout time.Duration
	clock       func() time.Time
}

type AssignmentServiceOption func(*AssignmentService)

// WithClock replaces the wall clock, for tests.
func WithClock(clock func() time.Time) AssignmentServiceOption {
	return func(s *AssignmentService) {
		s.clock = clock
	}
}

func WithCandidatePoolTimeout(d time.Duration) AssignmentServiceOption {
	return func(s *AssignmentService) {
		if d > 0 {
			s.poolTimeout = d
		}
	}
}

func WithCacheInvalidator(cache CacheInvalidator) AssignmentServiceOption {
	return func(s *AssignmentService) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func NewAssignmentService(
	workItems workitem.Repository,
	entries queueentry.Repository,
	events *EventsService,
	pool candidate.Pool,
	opts ...AssignmentServiceOption,
) *AssignmentService {
	s := &AssignmentService{
		workItems:   workItems,
		entries:     entries,
		events:      events,
		pool:        pool,
		fairness:    NewFairnessLedger(entries),
		cache:       noopInvalidator{},
		poolTimeout: defaultCandidatePoolTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type AutoAssignInput struct {
	Enabled         bool
	RegenerateQueue bool
	Settings        *workitem.SettingsInput
}

type CreateWorkItemInput struct {
	Title        string
	BudgetAmount decimal.Decimal
	Location     string
	AutoAssign   *AutoAssignInput
}

type UpdateAutoAssignInput struct {
	Enabled         *bool
	RegenerateQueue bool
	Settings        *workitem.SettingsInput
}

type UpdateWorkItemInput struct {
	Title        *string
	BudgetAmount *decimal.Decimal
	Location     *string
	AutoAssign   *UpdateAutoAssignInput
}

func (s *AssignmentService) GetWorkItem(ctx context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	if id == uuid.Nil {
		return nil, ErrMissingTarget
	}
	return s.workItems.GetByID(ctx, id)
}

// CreateWorkItem persists a new work item and, when the auto-assign block is
// present and enabled, builds its first queue in the same transaction. A
// candidate-pool failure does not fail the create; it is recorded as a
// queue-failed event and the item stays queue_pending.
func (s *AssignmentService) CreateWorkItem(ctx context.Context, input CreateWorkItemInput) (workitem.WorkItem, []queueentry.QueueEntry, error) {
	actor := actorPtr(ctx)

	var saved workitem.WorkItem
	var created []queueentry.QueueEntry
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		item := workitem.New(input.Title, input.BudgetAmount, workitem.WithLocation(input.Location))

		enable := input.AutoAssign != nil && input.AutoAssign.Enabled
		if enable {
			settings := workitem.NormalizeSettings(input.AutoAssign.Settings, nil)
			item = item.EnableAutoAssign(settings)
		}

		var err error
		saved, err = s.workItems.Save(txCtx, item)
		if err != nil {
			return err
		}

		if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeCreated, map[string]any{
			"title":        saved.Title(),
			"budgetAmount": saved.BudgetAmount().String(),
		})); err != nil {
			return err
		}

		if !enable {
			return nil
		}
		if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeAutoAssignEnabled, map[string]any{
			"settings": settingsPayload(saved.AutoAssignSettings()),
		})); err != nil {
			return err
		}

		saved, created, err = s.buildQueue(txCtx, saved, actor, false)
		if errors.Is(err, ErrCandidatePoolFailed) {
			// The surrounding create must still succeed.
			return s.recordQueueFailure(txCtx, saved.ID(), actor, err)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.cache.Invalidate()
	return saved, created, nil
}

// UpdateWorkItem applies a partial edit. When auto-assign is enabled and the
// edit changes the budget, carries the regenerateQueue flag, or replaces
// settings, the queue is rebuilt opportunistically in the same transaction —
// and a candidate-pool failure never blocks the unrelated field update.
func (s *AssignmentService) UpdateWorkItem(ctx context.Context, id uuid.UUID, input UpdateWorkItemInput) (workitem.WorkItem, []queueentry.QueueEntry, error) {
	if id == uuid.Nil {
		return nil, nil, ErrMissingTarget
	}
	actor := actorPtr(ctx)

	var saved workitem.WorkItem
	var regenerated []queueentry.QueueEntry
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		item, err := s.workItems.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		title := item.Title()
		budget := item.BudgetAmount()
		location := item.Location()
		changed := map[string]any{}
		if input.Title != nil && *input.Title != title {
			title = *input.Title
			changed["title"] = title
		}
		budgetChanged := false
		if input.BudgetAmount != nil && !budget.Equal(*input.BudgetAmount) {
			budget = *input.BudgetAmount
			budgetChanged = true
			changed["budgetAmount"] = budget.String()
		}
		if input.Location != nil && *input.Location != location {
			location = *input.Location
			changed["location"] = location
		}
		item = item.UpdateDetails(title, budget, location)

		enable, disable, settingsChanged := false, false, false
		if aa := input.AutoAssign; aa != nil {
			if aa.Settings != nil {
				current := item.AutoAssignSettings()
				item = item.WithAutoAssignSettings(workitem.NormalizeSettings(aa.Settings, &current))
				settingsChanged = true
				changed["autoAssignSettings"] = settingsPayload(item.AutoAssignSettings())
			}
			if aa.Enabled != nil {
				enable = *aa.Enabled && !item.AutoAssignEnabled()
				disable = !*aa.Enabled && item.AutoAssignEnabled()
			}
		}

		if enable {
			item = item.EnableAutoAssign(item.AutoAssignSettings())
			changed["autoAssignEnabled"] = true
		}

		saved, err = s.workItems.Save(txCtx, item)
		if err != nil {
			return err
		}
		if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeUpdated, changed)); err != nil {
			return err
		}

		switch {
		case enable:
			if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeAutoAssignEnabled, map[string]any{
				"settings": settingsPayload(saved.AutoAssignSettings()),
			})); err != nil {
				return err
			}
			saved, regenerated, err = s.buildQueue(txCtx, saved, actor, false)
		case disable:
			saved, err = s.disableLocked(txCtx, saved, actor)
			return err
		case saved.AutoAssignEnabled() && (budgetChanged || settingsChanged || (input.AutoAssign != nil && input.AutoAssign.RegenerateQueue)):
			saved, regenerated, err = s.buildQueue(txCtx, saved, actor, true)
		default:
			return nil
		}
		if errors.Is(err, ErrCandidatePoolFailed) {
			// Opportunistic regeneration: the field edit must still land.
			return s.recordQueueFailure(txCtx, saved.ID(), actor, err)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.cache.Invalidate()
	return saved, regenerated, nil
}

// EnableAutoAssign turns auto-assign on (or re-runs it when already on) and
// builds the queue. Unlike opportunistic regeneration, a candidate-pool
// failure here rolls the enable back, is recorded, and surfaces to the caller.
func (s *AssignmentService) EnableAutoAssign(ctx context.Context, id uuid.UUID, settingsOverride *workitem.SettingsInput) (workitem.WorkItem, []queueentry.QueueEntry, error) {
	if id == uuid.Nil {
		return nil, nil, ErrMissingTarget
	}
	actor := actorPtr(ctx)

	var saved workitem.WorkItem
	var created []queueentry.QueueEntry
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		item, err := s.workItems.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		firstEnable := !item.AutoAssignEnabled()
		current := item.AutoAssignSettings()
		settings := workitem.NormalizeSettings(settingsOverride, &current)
		item = item.EnableAutoAssign(settings)

		saved, err = s.workItems.Save(txCtx, item)
		if err != nil {
			return err
		}
		if firstEnable {
			if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeAutoAssignEnabled, map[string]any{
				"settings": settingsPayload(settings),
			})); err != nil {
				return err
			}
		}

		saved, created, err = s.buildQueue(txCtx, saved, actor, !firstEnable)
		return err
	})
	if err != nil {
		return nil, nil, s.surfaceBuildFailure(ctx, id, actor, err)
	}
	s.cache.Invalidate()
	return saved, created, nil
}

// RegenerateQueue rebuilds the queue for an already-enabled work item.
func (s *AssignmentService) RegenerateQueue(ctx context.Context, id uuid.UUID, settingsOverride *workitem.SettingsInput) (workitem.WorkItem, []queueentry.QueueEntry, error) {
	if id == uuid.Nil {
		return nil, nil, ErrMissingTarget
	}
	actor := actorPtr(ctx)

	var saved workitem.WorkItem
	var created []queueentry.QueueEntry
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		item, err := s.workItems.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !item.AutoAssignEnabled() {
			return ErrAutoAssignDisabled
		}

		if settingsOverride != nil {
			current := item.AutoAssignSettings()
			item = item.WithAutoAssignSettings(workitem.NormalizeSettings(settingsOverride, &current))
			if _, err := s.workItems.Save(txCtx, item); err != nil {
				return err
			}
		}

		saved, created, err = s.buildQueue(txCtx, item, actor, true)
		return err
	})
	if err != nil {
		return nil, nil, s.surfaceBuildFailure(ctx, id, actor, err)
	}
	s.cache.Invalidate()
	return saved, created, nil
}

// DisableAutoAssign bulk-expires all open entries and marks the item
// inactive. Disabling an already-disabled item is a successful no-op that
// records no event.
func (s *AssignmentService) DisableAutoAssign(ctx context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	if id == uuid.Nil {
		return nil, ErrMissingTarget
	}
	actor := actorPtr(ctx)

	var saved workitem.WorkItem
	mutated := false
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		item, err := s.workItems.GetByIDForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !item.AutoAssignEnabled() {
			saved = item
			return nil
		}
		mutated = true
		saved, err = s.disableLocked(txCtx, item, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		s.cache.Invalidate()
	}
	return saved, nil
}

// disableLocked assumes the work item row is already locked in txCtx.
func (s *AssignmentService) disableLocked(txCtx context.Context, item workitem.WorkItem, actor *uuid.UUID) (workitem.WorkItem, error) {
	now := s.clock()
	expired, err := s.entries.ExpireOpenByTarget(txCtx, item.ID(), now)
	if err != nil {
		return nil, err
	}
	getEngineMetrics().entriesExpired.Add(float64(expired))

	saved, err := s.workItems.Save(txCtx, item.DisableAutoAssign())
	if err != nil {
		return nil, err
	}
	if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, assignmentevent.TypeAutoAssignDisabled, map[string]any{
		"expiredEntries": expired,
		"settings":       settingsPayload(saved.AutoAssignSettings()),
	})); err != nil {
		return nil, err
	}
	return saved, nil
}

// GetQueue returns the target's current open and recently resolved entries.
func (s *AssignmentService) GetQueue(ctx context.Context, targetID uuid.UUID) ([]queueentry.QueueEntry, error) {
	if targetID == uuid.Nil {
		return nil, ErrMissingTarget
	}
	return s.entries.List(ctx, &queueentry.FindParams{TargetID: targetID})
}

// ResolveQueueEntry records a terminal outcome reported by the external
// acceptance workflow.
func (s *AssignmentService) ResolveQueueEntry(ctx context.Context, entryID uuid.UUID, outcome string) (queueentry.QueueEntry, error) {
	if entryID == uuid.Nil {
		return nil, ErrMissingTarget
	}
	status, err := queueentry.ResolutionOutcome(outcome)
	if err != nil {
		return nil, err
	}

	var saved queueentry.QueueEntry
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		entry, err := s.entries.GetByID(txCtx, entryID)
		if err != nil {
			return err
		}
		resolved, err := entry.Resolve(status, s.clock())
		if err != nil {
			return err
		}
		saved, err = s.entries.Save(txCtx, resolved)
		return err
	})
	if err != nil {
		return nil, err
	}
	getEngineMetrics().entriesResolved.WithLabelValues(string(status)).Inc()
	s.cache.Invalidate()
	return saved, nil
}

// ExpireDueEntries flips open entries whose expiry has passed. The sweep is
// invoked by an external scheduler; the engine owns no timer.
func (s *AssignmentService) ExpireDueEntries(ctx context.Context) (int64, error) {
	var expired int64
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		var err error
		expired, err = s.entries.ExpireDue(txCtx, s.clock())
		return err
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		getEngineMetrics().entriesExpired.Add(float64(expired))
		s.cache.Invalidate()
	}
	return expired, nil
}

// buildQueue scores and fairness-filters the candidate pool, replaces the
// target's open entries with a fresh notified queue and updates the item's
// rollup fields. Runs inside the caller's transaction; the queue-run event is
// queued for write after commit. Calling it twice with identical inputs and
// history yields an identical ordered result.
func (s *AssignmentService) buildQueue(txCtx context.Context, item workitem.WorkItem, actor *uuid.UUID, regenerated bool) (workitem.WorkItem, []queueentry.QueueEntry, error) {
	now := s.clock()
	settings := item.AutoAssignSettings()

	// A slow candidate source must not hold the work item row lock open.
	poolCtx, cancel := context.WithTimeout(txCtx, s.poolTimeout)
	defer cancel()
	pool, err := s.pool.EligibleCandidates(poolCtx, item.ID(), item.BudgetAmount())
	if err != nil {
		return item, nil, errors.Wrapf(ErrCandidatePoolFailed, "target %s: %v", item.ID(), err)
	}

	counts, err := s.fairness.AssignmentCounts(txCtx, settings.Fairness, now)
	if err != nil {
		return item, nil, err
	}

	ranked := ScoreCandidates(pool, item.BudgetAmount(), settings.Weights)
	selected := ApplyFairness(ranked, counts, settings.Fairness, settings.Limit)

	expired, err := s.entries.ExpireOpenByTarget(txCtx, item.ID(), now)
	if err != nil {
		return item, nil, err
	}
	getEngineMetrics().entriesExpired.Add(float64(expired))

	expiresAt := now.Add(time.Duration(settings.ExpiresInMinutes) * time.Minute)
	entries := make([]queueentry.QueueEntry, 0, len(selected))
	for _, sc := range selected {
		entries = append(entries, queueentry.NewNotified(item.ID(), sc.Candidate.ID, sc.Score, sc.Breakdown, now, expiresAt))
	}
	created, err := s.entries.CreateMany(txCtx, entries)
	if err != nil {
		return item, nil, err
	}

	status := workitem.AutoAssignQueueActive
	if len(created) == 0 {
		status = workitem.AutoAssignAwaitingCandidates
	}
	saved, err := s.workItems.Save(txCtx, item.RecordQueueRun(status, len(created), now))
	if err != nil {
		return item, nil, err
	}

	eventType := assignmentevent.TypeQueueGenerated
	switch {
	case len(created) == 0:
		eventType = assignmentevent.TypeQueueExhausted
	case regenerated:
		eventType = assignmentevent.TypeQueueRegenerated
	}
	if err := s.events.Record(txCtx, assignmentevent.New(saved.ID(), actor, eventType, map[string]any{
		"queueSize":      len(created),
		"candidatePool":  len(pool),
		"expiredEntries": expired,
		"settings":       settingsPayload(settings),
	})); err != nil {
		return saved, created, err
	}

	getEngineMetrics().queueRunsTotal.WithLabelValues(runOutcome(eventType)).Inc()
	getEngineMetrics().entriesNotified.Add(float64(len(created)))
	return saved, created, nil
}

// surfaceBuildFailure records a queue-failed event for collaborator errors
// on the explicit enable/regenerate paths. The transaction has already
// rolled back, so the event is written immediately.
func (s *AssignmentService) surfaceBuildFailure(ctx context.Context, targetID uuid.UUID, actor *uuid.UUID, err error) error {
	if !errors.Is(err, ErrCandidatePoolFailed) {
		return err
	}
	if recordErr := s.recordQueueFailure(ctx, targetID, actor, err); recordErr != nil {
		return errors.Wrap(err, recordErr.Error())
	}
	return err
}

func (s *AssignmentService) recordQueueFailure(ctx context.Context, targetID uuid.UUID, actor *uuid.UUID, buildErr error) error {
	getEngineMetrics().queueRunsTotal.WithLabelValues("failed").Inc()
	return s.events.Record(ctx, assignmentevent.New(targetID, actor, assignmentevent.TypeQueueFailed, map[string]any{
		"error": buildErr.Error(),
		"code":  serrors.Code(errors.Cause(buildErr)),
		"stack": truncatedStack(5),
	}))
}

func runOutcome(eventType assignmentevent.EventType) string {
	switch eventType {
	case assignmentevent.TypeQueueGenerated:
		return "generated"
	case assignmentevent.TypeQueueRegenerated:
		return "regenerated"
	case assignmentevent.TypeQueueExhausted:
		return "exhausted"
	}
	return "failed"
}

func truncatedStack(lines int) string {
	all := strings.Split(string(debug.Stack()), "\n")
	if len(all) > lines {
		all = all[:lines]
	}
	return strings.Join(all, "\n")
}

func settingsPayload(s workitem.Settings) map[string]any {
	fairness := map[string]any{
		"ensureNewcomer":            s.Fairness.EnsureNewcomer,
		"maxAssignments":            s.Fairness.MaxAssignments,
		"maxAssignmentsForPriority": s.Fairness.MaxAssignments,
	}
	if s.Fairness.WindowDays > 0 {
		fairness["windowDays"] = s.Fairness.WindowDays
	}
	payload := map[string]any{
		"limit":            s.Limit,
		"expiresInMinutes": s.ExpiresInMinutes,
		"fairness":         fairness,
	}
	if s.Weights != nil {
		payload["weights"] = s.Weights
	}
	return payload
}

func actorPtr(ctx context.Context) *uuid.UUID {
	if actor, ok := composables.UseActorID(ctx); ok {
		return &actor
	}
	return nil
}
