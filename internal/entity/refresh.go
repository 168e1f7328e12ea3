package entity

import "time"

// RefreshSummary aggregates the outcome of one refresh run across all
// entities. It is logged at the end of the run and optionally published to
// JetStream for downstream consumers.
type RefreshSummary struct {
	RunID          string        `json:"run_id"`
	Source         string        `json:"source"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	EntitiesOK     int           `json:"entities_ok"`
	EntitiesFailed int           `json:"entities_failed"`
	RowsWritten    int           `json:"rows_written"`
	Repairs        int           `json:"repairs"`
	Rejects        int           `json:"rejects"`
	FailedEntities []EntityError `json:"failed_entities,omitempty"`
}

// EntityError attributes one failure to the entity it happened on. Failures
// are isolated per entity; the pool keeps processing the rest.
type EntityError struct {
	EntityID int64  `json:"entity_id"`
	Message  string `json:"message"`
}
