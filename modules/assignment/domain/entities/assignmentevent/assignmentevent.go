package assignmentevent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEventNotFound = errors.New("assignment event not found")

type EventType string

const (
	TypeCreated            EventType = "created"
	TypeUpdated            EventType = "updated"
	TypeAutoAssignEnabled  EventType = "auto_assign_enabled"
	TypeAutoAssignDisabled EventType = "auto_assign_disabled"
	TypeQueueGenerated     EventType = "auto_assign_queue_generated"
	TypeQueueRegenerated   EventType = "auto_assign_queue_regenerated"
	TypeQueueExhausted     EventType = "auto_assign_queue_exhausted"
	TypeQueueFailed        EventType = "auto_assign_queue_failed"
)

// QueueRunTypes are the event types describing the outcome of a queue build.
// The most recent of these is the "regeneration context" of a work item.
func QueueRunTypes() []EventType {
	return []EventType{
		TypeQueueGenerated,
		TypeQueueRegenerated,
		TypeQueueExhausted,
		TypeQueueFailed,
	}
}

type Repository interface {
	Create(ctx context.Context, event AssignmentEvent) (AssignmentEvent, error)
	// ListByTarget returns events for the target, most recent first.
	ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]AssignmentEvent, error)
	// LatestOfTypes returns the most recent event among the given types,
	// or ErrEventNotFound.
	LatestOfTypes(ctx context.Context, targetID uuid.UUID, types []EventType) (AssignmentEvent, error)
}

// AssignmentEvent is one append-only audit record. Events are never mutated
// or deleted after creation.
type AssignmentEvent interface {
	ID() uuid.UUID
	TargetID() uuid.UUID
	ActorID() *uuid.UUID
	Type() EventType
	Payload() map[string]any
	CreatedAt() time.Time
}

type assignmentEvent struct {
	id        uuid.UUID
	targetID  uuid.UUID
	actorID   *uuid.UUID
	eventType EventType
	payload   map[string]any
	createdAt time.Time
}

func New(targetID uuid.UUID, actorID *uuid.UUID, eventType EventType, payload map[string]any, opts ...Option) AssignmentEvent {
	event := &assignmentEvent{
		id:        uuid.New(),
		targetID:  targetID,
		actorID:   actorID,
		eventType: eventType,
		payload:   payload,
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(event)
	}
	return event
}

type Option func(*assignmentEvent)

func WithID(id uuid.UUID) Option {
	return func(e *assignmentEvent) {
		if id != uuid.Nil {
			e.id = id
		}
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(e *assignmentEvent) {
		if !createdAt.IsZero() {
			e.createdAt = createdAt
		}
	}
}

func (e *assignmentEvent) ID() uuid.UUID           { return e.id }
func (e *assignmentEvent) TargetID() uuid.UUID     { return e.targetID }
func (e *assignmentEvent) ActorID() *uuid.UUID     { return e.actorID }
func (e *assignmentEvent) Type() EventType         { return e.eventType }
func (e *assignmentEvent) Payload() map[string]any { return e.payload }
func (e *assignmentEvent) CreatedAt() time.Time    { return e.createdAt }
