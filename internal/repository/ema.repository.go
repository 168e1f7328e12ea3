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

var emaColumns = []string{
	"entity_id",
	"timeframe_id",
	"period",
	"snapshot_day",
	"value",
	"diff1",
	"diff2",
	"closed_value",
	"closed_diff1",
	"closed_diff2",
	"is_partial_end",
	"created_at",
	"updated_at",
}

// EMARepository serves one EMA family's value table.
type EMARepository struct {
	db     *sqlx.DB
	family constant.EMAFamily
}

func NewEMARepository(db *sqlx.DB, family constant.EMAFamily) *EMARepository {
	return &EMARepository{db: db, family: family}
}

func (r *EMARepository) Family() constant.EMAFamily {
	return r.family
}

func (r *EMARepository) UpsertBatch(ctx context.Context, values []entity.EMAValue) error {
	if len(values) == 0 {
		return nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(r.family.EMATable()).
		Columns(emaColumns...)

	for _, v := range values {
		queryBuilder = queryBuilder.Values(
			v.EntityID,
			v.TimeframeID,
			v.Period,
			v.SnapshotDay,
			v.Value,
			v.Diff1,
			v.Diff2,
			v.ClosedValue,
			v.ClosedDiff1,
			v.ClosedDiff2,
			v.IsPartialEnd,
			v.CreatedAt,
			v.UpdatedAt,
		)
	}

	queryBuilder = queryBuilder.Suffix(`ON CONFLICT (entity_id, timeframe_id, period, snapshot_day)
DO UPDATE SET
	value = EXCLUDED.value,
	diff1 = EXCLUDED.diff1,
	diff2 = EXCLUDED.diff2,
	closed_value = EXCLUDED.closed_value,
	closed_diff1 = EXCLUDED.closed_diff1,
	closed_diff2 = EXCLUDED.closed_diff2,
	is_partial_end = EXCLUDED.is_partial_end,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *EMARepository) DeleteByKey(ctx context.Context, entityID int64, timeframeID string, period int) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete(r.family.EMATable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID, "period": period})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// LastValue returns the most recent EMA row for the key, or nil when the
// series has not been computed yet. Incremental runs seed from it.
func (r *EMARepository) LastValue(ctx context.Context, entityID int64, timeframeID string, period int) (*entity.EMAValue, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(emaColumns...).
		From(r.family.EMATable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID, "period": period}).
		OrderBy("snapshot_day desc").
		Limit(1)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var value entity.EMAValue
	err = r.db.GetContext(ctx, &value, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &value, nil
}
