package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/modules/assignment/infrastructure/persistence/models"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/repo"
)

const assignmentEventColumns = `id, target_id, actor_id, event_type, payload, created_at`

type AssignmentEventRepository struct{}

func NewAssignmentEventRepository() assignmentevent.Repository {
	return &AssignmentEventRepository{}
}

func (r *AssignmentEventRepository) Create(ctx context.Context, event assignmentevent.AssignmentEvent) (assignmentevent.AssignmentEvent, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row, err := toDBAssignmentEvent(event)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO assignment_events (`+assignmentEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		row.ID,
		row.TargetID,
		row.ActorID,
		row.EventType,
		row.Payload,
		row.CreatedAt,
	); err != nil {
		return nil, err
	}
	return event, nil
}

func (r *AssignmentEventRepository) ListByTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]assignmentevent.AssignmentEvent, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + assignmentEventColumns + `
		FROM assignment_events
		WHERE target_id = $1
		ORDER BY seq DESC
	`
	query += " " + repo.FormatLimitOffset(limit, 0)

	rows, err := tx.Query(ctx, query, targetID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []assignmentevent.AssignmentEvent
	for rows.Next() {
		var row models.AssignmentEvent
		if err := rows.Scan(
			&row.ID,
			&row.TargetID,
			&row.ActorID,
			&row.EventType,
			&row.Payload,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}
		event, err := toDomainAssignmentEvent(&row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *AssignmentEventRepository) LatestOfTypes(ctx context.Context, targetID uuid.UUID, types []assignmentevent.EventType) (assignmentevent.AssignmentEvent, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	typeStrs := make([]string, 0, len(types))
	for _, t := range types {
		typeStrs = append(typeStrs, string(t))
	}

	var row models.AssignmentEvent
	if err := tx.QueryRow(ctx, `
		SELECT `+assignmentEventColumns+`
		FROM assignment_events
		WHERE target_id = $1 AND event_type = ANY($2)
		ORDER BY seq DESC
		LIMIT 1`,
		targetID.String(),
		typeStrs,
	).Scan(
		&row.ID,
		&row.TargetID,
		&row.ActorID,
		&row.EventType,
		&row.Payload,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignmentevent.ErrEventNotFound
		}
		return nil, err
	}
	return toDomainAssignmentEvent(&row)
}
