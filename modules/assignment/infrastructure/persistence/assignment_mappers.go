package persistence

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
	"github.com/workmesh/assign-sdk/modules/assignment/infrastructure/persistence/models"
)

func toDBWorkItem(item workitem.WorkItem) (*models.WorkItem, error) {
	settings, err := json.Marshal(item.AutoAssignSettings())
	if err != nil {
		return nil, err
	}
	return &models.WorkItem{
		ID:                 item.ID().String(),
		Title:              item.Title(),
		BudgetAmount:       item.BudgetAmount().String(),
		Location:           item.Location(),
		AutoAssignEnabled:  item.AutoAssignEnabled(),
		AutoAssignStatus:   string(item.AutoAssignStatus()),
		AutoAssignSettings: settings,
		LastRunAt:          item.LastRunAt(),
		LastQueueSize:      item.LastQueueSize(),
		CreatedAt:          item.CreatedAt(),
		UpdatedAt:          item.UpdatedAt(),
	}, nil
}

func toDomainWorkItem(row *models.WorkItem) (workitem.WorkItem, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	budget, err := decimal.NewFromString(row.BudgetAmount)
	if err != nil {
		return nil, err
	}
	var settings workitem.Settings
	if len(row.AutoAssignSettings) > 0 {
		if err := json.Unmarshal(row.AutoAssignSettings, &settings); err != nil {
			return nil, err
		}
	} else {
		settings = workitem.DefaultSettings()
	}

	return workitem.New(
		row.Title,
		budget,
		workitem.WithID(id),
		workitem.WithLocation(row.Location),
		workitem.WithAutoAssign(row.AutoAssignEnabled, workitem.AutoAssignStatus(row.AutoAssignStatus), settings),
		workitem.WithQueueRollup(row.LastRunAt, row.LastQueueSize),
		workitem.WithTimestamps(row.CreatedAt, row.UpdatedAt),
	), nil
}

func toDBQueueEntry(entry queueentry.QueueEntry) (*models.QueueEntry, error) {
	breakdown, err := json.Marshal(entry.WeightBreakdown())
	if err != nil {
		return nil, err
	}
	return &models.QueueEntry{
		ID:              entry.ID().String(),
		TargetType:      entry.TargetType(),
		TargetID:        entry.TargetID().String(),
		CandidateID:     entry.CandidateID().String(),
		Status:          string(entry.Status()),
		Score:           entry.Score(),
		WeightBreakdown: breakdown,
		NotifiedAt:      entry.NotifiedAt(),
		ResolvedAt:      entry.ResolvedAt(),
		ExpiresAt:       entry.ExpiresAt(),
		CreatedAt:       entry.CreatedAt(),
	}, nil
}

func toDomainQueueEntry(row *models.QueueEntry) (queueentry.QueueEntry, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	targetID, err := uuid.Parse(row.TargetID)
	if err != nil {
		return nil, err
	}
	candidateID, err := uuid.Parse(row.CandidateID)
	if err != nil {
		return nil, err
	}
	var breakdown map[string]float64
	if len(row.WeightBreakdown) > 0 {
		if err := json.Unmarshal(row.WeightBreakdown, &breakdown); err != nil {
			return nil, err
		}
	}

	entry := queueentry.NewNotified(
		targetID,
		candidateID,
		row.Score,
		breakdown,
		row.CreatedAt,
		row.ExpiresAt,
		queueentry.WithID(id),
		queueentry.WithStatus(queueentry.Status(row.Status)),
		queueentry.WithNotifiedAt(row.NotifiedAt),
		queueentry.WithResolvedAt(row.ResolvedAt),
		queueentry.WithCreatedAt(row.CreatedAt),
	)
	return entry, nil
}

func toDBAssignmentEvent(event assignmentevent.AssignmentEvent) (*models.AssignmentEvent, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, err
	}
	row := &models.AssignmentEvent{
		ID:        event.ID().String(),
		TargetID:  event.TargetID().String(),
		EventType: string(event.Type()),
		Payload:   payload,
		CreatedAt: event.CreatedAt(),
	}
	if actor := event.ActorID(); actor != nil {
		s := actor.String()
		row.ActorID = &s
	}
	return row, nil
}

func toDomainAssignmentEvent(row *models.AssignmentEvent) (assignmentevent.AssignmentEvent, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	targetID, err := uuid.Parse(row.TargetID)
	if err != nil {
		return nil, err
	}
	var actorID *uuid.UUID
	if row.ActorID != nil {
		actor, err := uuid.Parse(*row.ActorID)
		if err != nil {
			return nil, err
		}
		actorID = &actor
	}
	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, err
		}
	}

	return assignmentevent.New(
		targetID,
		actorID,
		assignmentevent.EventType(row.EventType),
		payload,
		assignmentevent.WithID(id),
		assignmentevent.WithCreatedAt(row.CreatedAt),
	), nil
}
