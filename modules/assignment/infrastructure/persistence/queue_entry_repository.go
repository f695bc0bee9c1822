package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
	"github.com/workmesh/assign-sdk/modules/assignment/infrastructure/persistence/models"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/repo"
)

const queueEntryColumns = `id, target_type, target_id, candidate_id, status, score,
	weight_breakdown, notified_at, resolved_at, expires_at, created_at`

type QueueEntryRepository struct{}

func NewQueueEntryRepository() queueentry.Repository {
	return &QueueEntryRepository{}
}

func (r *QueueEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (queueentry.QueueEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.QueueEntry
	if err := tx.QueryRow(ctx,
		`SELECT `+queueEntryColumns+` FROM queue_entries WHERE id = $1`,
		id.String(),
	).Scan(scanQueueEntryTargets(&row)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queueentry.ErrQueueEntryNotFound
		}
		return nil, err
	}
	return toDomainQueueEntry(&row)
}

func (r *QueueEntryRepository) CreateMany(ctx context.Context, entries []queueentry.QueueEntry) ([]queueentry.QueueEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		row, err := toDBQueueEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_entries (`+queueEntryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			row.ID,
			row.TargetType,
			row.TargetID,
			row.CandidateID,
			row.Status,
			row.Score,
			row.WeightBreakdown,
			row.NotifiedAt,
			row.ResolvedAt,
			row.ExpiresAt,
			row.CreatedAt,
		); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *QueueEntryRepository) Save(ctx context.Context, entry queueentry.QueueEntry) (queueentry.QueueEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row, err := toDBQueueEntry(entry)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2, resolved_at = $3, expires_at = $4
		WHERE id = $1`,
		row.ID,
		row.Status,
		row.ResolvedAt,
		row.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, queueentry.ErrQueueEntryNotFound
	}
	return entry, nil
}

func (r *QueueEntryRepository) List(ctx context.Context, params *queueentry.FindParams) ([]queueentry.QueueEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &queueentry.FindParams{}
	}

	where := []string{"1 = 1"}
	args := []any{}
	if params.TargetID != uuid.Nil {
		args = append(args, params.TargetID.String())
		where = append(where, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if len(params.Statuses) > 0 {
		statuses := make([]string, 0, len(params.Statuses))
		for _, s := range params.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY score DESC, created_at DESC, id ASC
	`
	query += " " + repo.FormatLimitOffset(params.Limit, 0)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []queueentry.QueueEntry
	for rows.Next() {
		var row models.QueueEntry
		if err := rows.Scan(scanQueueEntryTargets(&row)...); err != nil {
			return nil, err
		}
		entry, err := toDomainQueueEntry(&row)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *QueueEntryRepository) ExpireOpenByTarget(ctx context.Context, targetID uuid.UUID, at time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $3, resolved_at = $2
		WHERE target_id = $1 AND status IN ($4, $5)`,
		targetID.String(),
		at,
		string(queueentry.StatusExpired),
		string(queueentry.StatusPending),
		string(queueentry.StatusNotified),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *QueueEntryRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2, resolved_at = $1
		WHERE expires_at <= $1 AND status IN ($3, $4)`,
		now,
		string(queueentry.StatusExpired),
		string(queueentry.StatusPending),
		string(queueentry.StatusNotified),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *QueueEntryRepository) CountByCandidate(ctx context.Context, statuses []queueentry.Status, since *time.Time) (map[uuid.UUID]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	statusStrs := make([]string, 0, len(statuses))
	for _, s := range statuses {
		statusStrs = append(statusStrs, string(s))
	}

	query := `
		SELECT candidate_id, COUNT(*)
		FROM queue_entries
		WHERE status = ANY($1)
	`
	args := []any{statusStrs}
	if since != nil {
		args = append(args, *since)
		query += " AND notified_at >= $2"
	}
	query += " GROUP BY candidate_id"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var idStr string
		var count int64
		if err := rows.Scan(&idStr, &count); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *QueueEntryRepository) CountByStatus(ctx context.Context) (map[queueentry.Status]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT status, COUNT(*)
		FROM queue_entries
		GROUP BY status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[queueentry.Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[queueentry.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *QueueEntryRepository) RecentlyResolved(ctx context.Context, limit int) ([]queueentry.QueueEntry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE notified_at IS NOT NULL
		  AND resolved_at IS NOT NULL
		  AND status = ANY($1)
		ORDER BY resolved_at DESC
	`
	query += " " + repo.FormatLimitOffset(limit, 0)

	resolved := []string{
		string(queueentry.StatusAccepted),
		string(queueentry.StatusCompleted),
		string(queueentry.StatusDeclined),
	}
	rows, err := tx.Query(ctx, query, resolved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []queueentry.QueueEntry
	for rows.Next() {
		var row models.QueueEntry
		if err := rows.Scan(scanQueueEntryTargets(&row)...); err != nil {
			return nil, err
		}
		entry, err := toDomainQueueEntry(&row)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanQueueEntryTargets(row *models.QueueEntry) []any {
	return []any{
		&row.ID,
		&row.TargetType,
		&row.TargetID,
		&row.CandidateID,
		&row.Status,
		&row.Score,
		&row.WeightBreakdown,
		&row.NotifiedAt,
		&row.ResolvedAt,
		&row.ExpiresAt,
		&row.CreatedAt,
	}
}
