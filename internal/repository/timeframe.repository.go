package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantdesk/bar-service/internal/entity"
)

type TimeframeRepository struct {
	db *sqlx.DB
}

func NewTimeframeRepository(db *sqlx.DB) *TimeframeRepository {
	return &TimeframeRepository{db: db}
}

func (r *TimeframeRepository) List(ctx context.Context, filter entity.TimeframeFilter) ([]entity.Timeframe, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(
			"id",
			"alignment",
			"COALESCE(week_convention, '') AS week_convention",
			"period_unit",
			"period_count",
			"nominal_days",
			"allow_partial_start",
			"allow_partial_end",
			"is_canonical",
		).
		From(entity.Timeframe{}.TableName()).
		OrderBy("nominal_days asc", "id asc")

	if len(filter.IDs) > 0 {
		queryBuilder = queryBuilder.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.Alignment != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"alignment": filter.Alignment})
	}
	if filter.WeekConvention != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"week_convention": filter.WeekConvention})
	}
	if filter.CanonicalOnly {
		queryBuilder = queryBuilder.Where(sq.Eq{"is_canonical": true})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var timeframes []entity.Timeframe
	err = r.db.SelectContext(ctx, &timeframes, query, args...)
	if err != nil {
		return nil, err
	}

	return timeframes, nil
}
