package repository

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

// EMAStateRepository serves one EMA family's watermark table, keyed
// (entity_id, timeframe_id, period).
type EMAStateRepository struct {
	db     *sqlx.DB
	family constant.EMAFamily
}

func NewEMAStateRepository(db *sqlx.DB, family constant.EMAFamily) *EMAStateRepository {
	return &EMAStateRepository{db: db, family: family}
}

func (r *EMAStateRepository) Get(ctx context.Context, entityID int64, timeframeID string, period int) (*entity.EMAState, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(
			"entity_id",
			"timeframe_id",
			"period",
			"source_min_day",
			"source_max_day",
			"last_snapshot_day",
			"last_run_at",
			"updated_at",
		).
		From(r.family.StateTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID, "period": period})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var state entity.EMAState
	err = r.db.GetContext(ctx, &state, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (r *EMAStateRepository) Upsert(ctx context.Context, state *entity.EMAState) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(r.family.StateTable()).
		Columns(
			"entity_id",
			"timeframe_id",
			"period",
			"source_min_day",
			"source_max_day",
			"last_snapshot_day",
			"last_run_at",
			"updated_at",
		).
		Values(
			state.EntityID,
			state.TimeframeID,
			state.Period,
			state.SourceMinDay,
			state.SourceMaxDay,
			state.LastSnapshotDay,
			state.LastRunAt,
			state.UpdatedAt,
		).
		Suffix(`ON CONFLICT (entity_id, timeframe_id, period)
DO UPDATE SET
	source_min_day = EXCLUDED.source_min_day,
	source_max_day = EXCLUDED.source_max_day,
	last_snapshot_day = EXCLUDED.last_snapshot_day,
	last_run_at = EXCLUDED.last_run_at,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
