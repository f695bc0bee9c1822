package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/eventbus"
	"github.com/workmesh/assign-sdk/pkg/serrors"
)

var ErrEventWriteFailed = serrors.NewError(
	"EVENT_WRITE_FAILED",
	"audit event write failed after commit; mutation succeeded, audit trail degraded",
	"",
)

const (
	RegenerationSucceeded = "succeeded"
	RegenerationFailed    = "failed"
	RegenerationExhausted = "exhausted"
	RegenerationUnknown   = "unknown"
)

// RegenerationContext summarizes the most recent queue run of a work item.
type RegenerationContext struct {
	Status     string
	EventType  assignmentevent.EventType
	ActorID    *uuid.UUID
	OccurredAt *time.Time
	Payload    map[string]any
}

// EventsService owns the append-only assignment event ledger. Writes are
// commit-then-log: inside a transaction Record defers the write until after
// the commit, so no event ever exists for a rolled-back mutation.
type EventsService struct {
	repo      assignmentevent.Repository
	publisher eventbus.EventBus
}

func NewEventsService(repo assignmentevent.Repository, publisher eventbus.EventBus) *EventsService {
	return &EventsService{repo: repo, publisher: publisher}
}

// Record queues event for write after the enclosing transaction commits.
// Multiple events queued within one transaction are written in the order
// they were recorded. A write failure is logged, counted, and re-raised:
// the primary mutation is already durable and cannot be rolled back, so the
// caller must treat it as "mutation succeeded, audit trail degraded".
func (s *EventsService) Record(ctx context.Context, event assignmentevent.AssignmentEvent) error {
	return composables.AfterCommit(ctx, func(postCtx context.Context) error {
		saved, err := s.repo.Create(postCtx, event)
		if err != nil {
			getEngineMetrics().eventWriteFails.Inc()
			composables.UseLogger(postCtx).
				WithError(err).
				WithField("event_type", event.Type()).
				WithField("target_id", event.TargetID()).
				Error("audit event write failed after commit")
			return errors.Wrapf(ErrEventWriteFailed, "event %s for target %s: %v", event.Type(), event.TargetID(), err)
		}
		s.publisher.Publish(saved)
		return nil
	})
}

// ListEvents returns the target's audit trail, most recent first.
func (s *EventsService) ListEvents(ctx context.Context, targetID uuid.UUID, limit int) ([]assignmentevent.AssignmentEvent, error) {
	return s.repo.ListByTarget(ctx, targetID, limit)
}

// GetRegenerationContext resolves the most recent queue-run event into a
// human-friendly status. When the event carries no actor, fallbackActor is
// reported instead.
func (s *EventsService) GetRegenerationContext(ctx context.Context, targetID uuid.UUID, fallbackActor *uuid.UUID) (RegenerationContext, error) {
	event, err := s.repo.LatestOfTypes(ctx, targetID, assignmentevent.QueueRunTypes())
	if err != nil {
		if errors.Is(err, assignmentevent.ErrEventNotFound) {
			return RegenerationContext{Status: RegenerationUnknown, ActorID: fallbackActor}, nil
		}
		return RegenerationContext{}, err
	}

	actor := event.ActorID()
	if actor == nil {
		actor = fallbackActor
	}
	occurred := event.CreatedAt()
	return RegenerationContext{
		Status:     regenerationStatus(event.Type()),
		EventType:  event.Type(),
		ActorID:    actor,
		OccurredAt: &occurred,
		Payload:    event.Payload(),
	}, nil
}

func regenerationStatus(eventType assignmentevent.EventType) string {
	switch eventType {
	case assignmentevent.TypeQueueGenerated, assignmentevent.TypeQueueRegenerated:
		return RegenerationSucceeded
	case assignmentevent.TypeQueueExhausted:
		return RegenerationExhausted
	case assignmentevent.TypeQueueFailed:
		return RegenerationFailed
	}
	return RegenerationUnknown
}
