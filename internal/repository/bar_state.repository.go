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

// BarStateRepository serves one bar family's watermark table, keyed
// (entity_id, timeframe_id).
type BarStateRepository struct {
	db     *sqlx.DB
	family constant.BarFamily
}

func NewBarStateRepository(db *sqlx.DB, family constant.BarFamily) *BarStateRepository {
	return &BarStateRepository{db: db, family: family}
}

func (r *BarStateRepository) Get(ctx context.Context, entityID int64, timeframeID string) (*entity.BarState, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(
			"entity_id",
			"timeframe_id",
			"daily_min_seen",
			"daily_max_seen",
			"last_bar_seq",
			"last_time_close",
			"last_run_at",
			"updated_at",
		).
		From(r.family.StateTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var state entity.BarState
	err = r.db.GetContext(ctx, &state, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (r *BarStateRepository) Upsert(ctx context.Context, state *entity.BarState) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(r.family.StateTable()).
		Columns(
			"entity_id",
			"timeframe_id",
			"daily_min_seen",
			"daily_max_seen",
			"last_bar_seq",
			"last_time_close",
			"last_run_at",
			"updated_at",
		).
		Values(
			state.EntityID,
			state.TimeframeID,
			state.DailyMinSeen,
			state.DailyMaxSeen,
			state.LastBarSeq,
			state.LastTimeClose,
			state.LastRunAt,
			state.UpdatedAt,
		).
		Suffix(`ON CONFLICT (entity_id, timeframe_id)
DO UPDATE SET
	daily_min_seen = EXCLUDED.daily_min_seen,
	daily_max_seen = EXCLUDED.daily_max_seen,
	last_bar_seq = EXCLUDED.last_bar_seq,
	last_time_close = EXCLUDED.last_time_close,
	last_run_at = EXCLUDED.last_run_at,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
