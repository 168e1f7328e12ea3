package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantdesk/bar-service/internal/entity"
)

type DailyPriceRepository struct {
	db *sqlx.DB
}

func NewDailyPriceRepository(db *sqlx.DB) *DailyPriceRepository {
	return &DailyPriceRepository{db: db}
}

func (r *DailyPriceRepository) ListEntityIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, "SELECT DISTINCT entity_id FROM daily_prices ORDER BY entity_id")
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetDayBounds returns the earliest and latest raw day for one entity. The
// second return is false when the entity has no raw rows at all.
func (r *DailyPriceRepository) GetDayBounds(ctx context.Context, entityID int64) (time.Time, time.Time, bool, error) {
	var bounds struct {
		MinDay sql.NullTime `db:"min_day"`
		MaxDay sql.NullTime `db:"max_day"`
	}

	err := r.db.GetContext(ctx, &bounds,
		"SELECT MIN(day) AS min_day, MAX(day) AS max_day FROM daily_prices WHERE entity_id = $1", entityID)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !bounds.MinDay.Valid || !bounds.MaxDay.Valid {
		return time.Time{}, time.Time{}, false, nil
	}

	return bounds.MinDay.Time.UTC(), bounds.MaxDay.Time.UTC(), true, nil
}

// ListRange loads one entity's raw rows ordered by day. Nil bounds mean
// unbounded on that side.
func (r *DailyPriceRepository) ListRange(ctx context.Context, entityID int64, from, to *time.Time) ([]entity.DailyPrice, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(
			"entity_id",
			"day",
			"open",
			"high",
			"low",
			"close",
			"volume",
			"market_cap",
			"time_high",
			"time_low",
		).
		From(entity.DailyPrice{}.TableName()).
		Where(sq.Eq{"entity_id": entityID}).
		OrderBy("day asc")

	if from != nil {
		queryBuilder = queryBuilder.Where(sq.GtOrEq{"day": *from})
	}
	if to != nil {
		queryBuilder = queryBuilder.Where(sq.LtOrEq{"day": *to})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []entity.DailyPrice
	err = r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return rows, nil
}
