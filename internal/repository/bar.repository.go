package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

var barColumns = []string{
	"entity_id",
	"timeframe_id",
	"bar_seq",
	"snapshot_day",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"market_cap",
	"time_open",
	"time_close",
	"time_high",
	"time_low",
	"is_partial_start",
	"is_partial_end",
	"is_missing_days",
	"created_at",
	"updated_at",
}

// BarRepository serves one bar family's table. The family decides the
// table name; everything else is identical across the six families.
type BarRepository struct {
	db     *sqlx.DB
	family constant.BarFamily
}

func NewBarRepository(db *sqlx.DB, family constant.BarFamily) *BarRepository {
	return &BarRepository{db: db, family: family}
}

func (r *BarRepository) Family() constant.BarFamily {
	return r.family
}

func (r *BarRepository) UpsertBatch(ctx context.Context, bars []entity.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(r.family.BarTable()).
		Columns(barColumns...)

	for _, bar := range bars {
		queryBuilder = queryBuilder.Values(
			bar.EntityID,
			bar.TimeframeID,
			bar.BarSeq,
			bar.SnapshotDay,
			bar.Open,
			bar.High,
			bar.Low,
			bar.Close,
			bar.Volume,
			bar.MarketCap,
			bar.TimeOpen,
			bar.TimeClose,
			bar.TimeHigh,
			bar.TimeLow,
			bar.IsPartialStart,
			bar.IsPartialEnd,
			bar.IsMissingDays,
			bar.CreatedAt,
			bar.UpdatedAt,
		)
	}

	queryBuilder = queryBuilder.Suffix(`ON CONFLICT (entity_id, timeframe_id, bar_seq, snapshot_day)
DO UPDATE SET
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	volume = EXCLUDED.volume,
	market_cap = EXCLUDED.market_cap,
	time_open = EXCLUDED.time_open,
	time_close = EXCLUDED.time_close,
	time_high = EXCLUDED.time_high,
	time_low = EXCLUDED.time_low,
	is_partial_start = EXCLUDED.is_partial_start,
	is_partial_end = EXCLUDED.is_partial_end,
	is_missing_days = EXCLUDED.is_missing_days,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteByKey removes every snapshot for one (entity, timeframe). Only the
// backfill-triggered full rebuild path calls this.
func (r *BarRepository) DeleteByKey(ctx context.Context, entityID int64, timeframeID string) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete(r.family.BarTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// LastSnapshot returns the most recent snapshot row for the key, or nil
// when no bars exist yet.
func (r *BarRepository) LastSnapshot(ctx context.Context, entityID int64, timeframeID string) (*entity.Bar, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(barColumns...).
		From(r.family.BarTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID}).
		OrderBy("snapshot_day desc", "bar_seq desc").
		Limit(1)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var bar entity.Bar
	err = r.db.GetContext(ctx, &bar, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &bar, nil
}

// ListSnapshots loads snapshots for one key ordered by day, optionally
// starting from a given day.
func (r *BarRepository) ListSnapshots(ctx context.Context, entityID int64, timeframeID string, fromDay *time.Time) ([]entity.Bar, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(barColumns...).
		From(r.family.BarTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID}).
		OrderBy("snapshot_day asc", "bar_seq asc")

	if fromDay != nil {
		queryBuilder = queryBuilder.Where(sq.GtOrEq{"snapshot_day": *fromDay})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var bars []entity.Bar
	err = r.db.SelectContext(ctx, &bars, query, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return bars, nil
}

// FirstSnapshotFrom returns the earliest snapshot row on or after fromDay,
// or nil when there is none. Incremental runs use it to anchor sequence
// numbering when re-deriving a lookback window.
func (r *BarRepository) FirstSnapshotFrom(ctx context.Context, entityID int64, timeframeID string, fromDay time.Time) (*entity.Bar, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(barColumns...).
		From(r.family.BarTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID}).
		Where(sq.GtOrEq{"snapshot_day": fromDay}).
		OrderBy("snapshot_day asc", "bar_seq asc").
		Limit(1)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var bar entity.Bar
	err = r.db.GetContext(ctx, &bar, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &bar, nil
}

// SnapshotDayBounds returns the earliest and latest snapshot day for one
// key. The boolean is false when the key has no snapshots.
func (r *BarRepository) SnapshotDayBounds(ctx context.Context, entityID int64, timeframeID string) (time.Time, time.Time, bool, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("MIN(snapshot_day) AS min_day", "MAX(snapshot_day) AS max_day").
		From(r.family.BarTable()).
		Where(sq.Eq{"entity_id": entityID, "timeframe_id": timeframeID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	var bounds struct {
		MinDay sql.NullTime `db:"min_day"`
		MaxDay sql.NullTime `db:"max_day"`
	}
	err = r.db.GetContext(ctx, &bounds, query, args...)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !bounds.MinDay.Valid || !bounds.MaxDay.Valid {
		return time.Time{}, time.Time{}, false, nil
	}

	return bounds.MinDay.Time.UTC(), bounds.MaxDay.Time.UTC(), true, nil
}
