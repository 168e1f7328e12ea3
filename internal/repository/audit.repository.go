package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/quantdesk/bar-service/internal/entity"
)

// AuditRepository writes the shared append-only repair/reject trail.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) InsertBatch(ctx context.Context, records []entity.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(entity.AuditRecord{}.TableName()).
		Columns(
			"run_id",
			"source",
			"kind",
			"entity_id",
			"timeframe_id",
			"period",
			"day",
			"reason",
			"detail",
			"created_at",
		)

	for _, record := range records {
		queryBuilder = queryBuilder.Values(
			record.RunID,
			record.Source,
			record.Kind,
			record.EntityID,
			record.TimeframeID,
			record.Period,
			record.Day,
			record.Reason,
			record.Detail,
			record.CreatedAt,
		)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
