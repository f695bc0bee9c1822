package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/infrastructure/persistence/models"
	"github.com/workmesh/assign-sdk/pkg/composables"
)

const workItemColumns = `id, title, budget_amount, location, auto_assign_enabled,
	auto_assign_status, auto_assign_settings, last_run_at, last_queue_size,
	created_at, updated_at`

type WorkItemRepository struct{}

func NewWorkItemRepository() workitem.Repository {
	return &WorkItemRepository{}
}

func (r *WorkItemRepository) GetByID(ctx context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	return r.getByID(ctx, id, false)
}

func (r *WorkItemRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	return r.getByID(ctx, id, true)
}

func (r *WorkItemRepository) getByID(ctx context.Context, id uuid.UUID, forUpdate bool) (workitem.WorkItem, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row models.WorkItem
	if err := tx.QueryRow(ctx, query, id.String()).Scan(
		&row.ID,
		&row.Title,
		&row.BudgetAmount,
		&row.Location,
		&row.AutoAssignEnabled,
		&row.AutoAssignStatus,
		&row.AutoAssignSettings,
		&row.LastRunAt,
		&row.LastQueueSize,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workitem.ErrWorkItemNotFound
		}
		return nil, err
	}
	return toDomainWorkItem(&row)
}

func (r *WorkItemRepository) Save(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row, err := toDBWorkItem(item)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO work_items (`+workItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			budget_amount = EXCLUDED.budget_amount,
			location = EXCLUDED.location,
			auto_assign_enabled = EXCLUDED.auto_assign_enabled,
			auto_assign_status = EXCLUDED.auto_assign_status,
			auto_assign_settings = EXCLUDED.auto_assign_settings,
			last_run_at = EXCLUDED.last_run_at,
			last_queue_size = EXCLUDED.last_queue_size,
			updated_at = EXCLUDED.updated_at`,
		row.ID,
		row.Title,
		row.BudgetAmount,
		row.Location,
		row.AutoAssignEnabled,
		row.AutoAssignStatus,
		row.AutoAssignSettings,
		row.LastRunAt,
		row.LastQueueSize,
		row.CreatedAt,
		row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *WorkItemRepository) AutoAssignStats(ctx context.Context) (workitem.AutoAssignStats, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return workitem.AutoAssignStats{}, err
	}

	var stats workitem.AutoAssignStats
	if err := tx.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE auto_assign_enabled),
			COALESCE(SUM(last_queue_size) FILTER (WHERE auto_assign_enabled), 0),
			COUNT(*) FILTER (WHERE auto_assign_enabled
				AND (auto_assign_settings -> 'fairness' ->> 'ensureNewcomer')::boolean),
			MAX(last_run_at)
		FROM work_items`,
	).Scan(
		&stats.TotalItems,
		&stats.EnabledItems,
		&stats.TotalQueueSize,
		&stats.NewcomerGuaranteeOn,
		&stats.LastRunAt,
	); err != nil {
		return workitem.AutoAssignStats{}, err
	}
	return stats, nil
}
