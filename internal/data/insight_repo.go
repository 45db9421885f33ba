package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/healthcompanion/processor/internal/data/pgxutil"
	"github.com/healthcompanion/processor/internal/domain/model"
)

// InsightRepo provides database operations for generated insights.
type InsightRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewInsightRepo creates a new InsightRepo with real time provider.
func NewInsightRepo(db *sql.DB) *InsightRepo {
	return &InsightRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewInsightRepoWithTimeProvider creates a new InsightRepo with a custom time provider (useful for tests).
func NewInsightRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *InsightRepo {
	return &InsightRepo{DB: db, timeProvider: tp}
}

// Upsert stores an insight, replacing any previous record for the same
// (user, type, period) triple. Re-running a generation pass for a period
// therefore converges instead of accumulating duplicates.
func (r *InsightRepo) Upsert(ctx context.Context, rec *model.InsightRecord) error {
	if rec == nil {
		return errors.New("insight record is required")
	}
	if rec.UserID == "" || rec.Type == "" || rec.Period == "" {
		return errors.New("insight record requires user, type and period")
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	generatedAt := rec.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = r.timeProvider.Now()
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO insights (
				id, user_id, insight_type, period, generated_at,
				range_start, range_end, data_points, content
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, insight_type, period) DO UPDATE SET
				generated_at = EXCLUDED.generated_at,
				range_start  = EXCLUDED.range_start,
				range_end    = EXCLUDED.range_end,
				data_points  = EXCLUDED.data_points,
				content      = EXCLUDED.content`,
			id, rec.UserID, rec.Type, rec.Period, generatedAt.UTC(),
			rec.RangeStart.UTC(), rec.RangeEnd.UTC(), rec.DataPoints, []byte(rec.Content))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrInsightConflict
		}
		return fmt.Errorf("failed to upsert insight: %w", err)
	}
	return nil
}

// GetByPeriod retrieves one insight by its unique (user, type, period) triple.
func (r *InsightRepo) GetByPeriod(
	ctx context.Context,
	userID string,
	insightType model.InsightType,
	period string,
) (*model.InsightRecord, error) {
	var rec model.InsightRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, user_id, insight_type, period, generated_at,
			       range_start, range_end, data_points, content
			FROM insights
			WHERE user_id = $1 AND insight_type = $2 AND period = $3`,
			userID, insightType, period)
		if err != nil {
			return err
		}
		defer rows.Close()
		rec, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.InsightRecord])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}
	return &rec, nil
}
