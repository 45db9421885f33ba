package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/data/pgxutil"
	"github.com/healthcompanion/processor/internal/domain/model"
)

// WorkItemRepo provides database operations for work items.
type WorkItemRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewWorkItemRepo creates a new WorkItemRepo with real time provider.
func NewWorkItemRepo(db *sql.DB) *WorkItemRepo {
	return &WorkItemRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewWorkItemRepoWithTimeProvider creates a new WorkItemRepo with a custom time provider (useful for tests).
func NewWorkItemRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *WorkItemRepo {
	return &WorkItemRepo{DB: db, timeProvider: tp}
}

const workItemColumns = `id, user_id, kind, payload_path, status, tag, document_type, created_at, processed_at, result, error`

// ListPending returns pending items ordered by creation time, oldest first.
func (r *WorkItemRepo) ListPending(ctx context.Context, limit int) ([]*model.WorkItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listByQuery(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, "failed to list pending work items", limit)
}

// ActiveUserIDs returns the distinct user IDs with any item created at or after since.
func (r *WorkItemRepo) ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT DISTINCT user_id
			FROM work_items
			WHERE created_at >= $1
			ORDER BY user_id`, since.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return ids, nil
}

// ListUserItemsSince returns a user's completed items created at or after since, oldest first.
func (r *WorkItemRepo) ListUserItemsSince(
	ctx context.Context,
	userID string,
	since time.Time,
) ([]*model.WorkItem, error) {
	return r.listByQuery(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE user_id = $1 AND status = 'completed' AND created_at >= $2
		ORDER BY created_at ASC`, "failed to list user work items", userID, since.UTC())
}

// CountUserItemsSince counts a user's items of the given kind created at or after since.
func (r *WorkItemRepo) CountUserItemsSince(
	ctx context.Context,
	params core.CountUserItemsParams,
) (int, error) {
	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM work_items
			WHERE user_id = $1 AND kind = $2 AND created_at >= $3`,
			params.UserID, params.Kind, params.Since.UTC(),
		).Scan(&count)
	}); err != nil {
		return 0, fmt.Errorf("failed to count user work items: %w", err)
	}
	return count, nil
}

// MarkCompleted transitions a pending item to completed with its analysis result.
// The status guard in the WHERE clause makes the transition race-safe: a
// concurrent drain pass or a replayed message cannot overwrite a terminal row.
func (r *WorkItemRepo) MarkCompleted(
	ctx context.Context,
	params core.CompleteWorkItemParams,
) (bool, error) {
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE work_items
			SET status = 'completed', result = $1, processed_at = $2
			WHERE id = $3 AND user_id = $4 AND status = 'pending'`,
			[]byte(params.Result), r.timeProvider.Now().UTC(), params.ID, params.UserID)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete work item: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed transitions a pending item to failed with the given error detail.
func (r *WorkItemRepo) MarkFailed(
	ctx context.Context,
	params core.FailWorkItemParams,
) (bool, error) {
	errMsg := params.ErrMsg
	if errMsg == "" {
		errMsg = "unknown processing error"
	}
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE work_items
			SET status = 'failed', error = $1, processed_at = $2
			WHERE id = $3 AND user_id = $4 AND status = 'pending'`,
			errMsg, r.timeProvider.Now().UTC(), params.ID, params.UserID)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to fail work item: %w", err)
	}
	return affected > 0, nil
}

// ListExpired returns items of the given kind created before cutoff,
// excluding items carrying excludeTag when it is non-empty.
func (r *WorkItemRepo) ListExpired(
	ctx context.Context,
	params core.ListExpiredParams,
) ([]*model.WorkItem, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}
	if params.ExcludeTag != "" {
		return r.listByQuery(ctx, `
			SELECT `+workItemColumns+`
			FROM work_items
			WHERE kind = $1 AND created_at < $2 AND (tag IS NULL OR tag <> $3)
			ORDER BY created_at ASC
			LIMIT $4`, "failed to list expired work items",
			params.Kind, params.Cutoff.UTC(), params.ExcludeTag, limit)
	}
	return r.listByQuery(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE kind = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, "failed to list expired work items",
		params.Kind, params.Cutoff.UTC(), limit)
}

// Delete removes an item scoped to its owner. Returns false when no row matched.
func (r *WorkItemRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx,
			`DELETE FROM work_items WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete work item: %w", err)
	}
	return affected > 0, nil
}

// GetByID retrieves a work item by ID.
func (r *WorkItemRepo) GetByID(ctx context.Context, id string) (*model.WorkItem, error) {
	var item model.WorkItem
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+workItemColumns+`
			FROM work_items
			WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		item, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.WorkItem])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return &item, nil
}

// listByQuery executes a query and collects the resulting work items.
// Uses variadic args to avoid slice allocation at call sites.
func (r *WorkItemRepo) listByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) ([]*model.WorkItem, error) {
	var rowsOut []model.WorkItem
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.WorkItem])
		return err
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}

	res := make([]*model.WorkItem, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}
