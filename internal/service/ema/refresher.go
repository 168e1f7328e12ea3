package ema

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
	"github.com/quantdesk/bar-service/internal/service/bars"
	"github.com/quantdesk/bar-service/internal/util"
)

const defaultNumWorkers = 4

// boundMultiple caps a computed EMA at this multiple of the largest
// absolute close observed for the key. An EMA is a convex combination of
// closes, so a value outside this range is a computation fault, not data.
const boundMultiple = 10.0

// errValueRejected marks a validation reject: the affected series stops
// without advancing state, but the entity's other series keep processing.
var errValueRejected = errors.New("ema value rejected")

// BarSource is the upstream snapshot read surface the refresher consumes.
// repository.BarRepository implements it.
type BarSource interface {
	SnapshotDayBounds(ctx context.Context, entityID int64, timeframeID string) (time.Time, time.Time, bool, error)
	ListSnapshots(ctx context.Context, entityID int64, timeframeID string, fromDay *time.Time) ([]entity.Bar, error)
}

// EntitySource lists the entities eligible for a run.
type EntitySource interface {
	ListEntityIDs(ctx context.Context) ([]int64, error)
}

// EMAStore persists one family's EMA rows.
type EMAStore interface {
	UpsertBatch(ctx context.Context, values []entity.EMAValue) error
	DeleteByKey(ctx context.Context, entityID int64, timeframeID string, period int) error
	LastValue(ctx context.Context, entityID int64, timeframeID string, period int) (*entity.EMAValue, error)
}

// EMAStateStore persists the per-(entity, timeframe, period) watermarks.
type EMAStateStore interface {
	Get(ctx context.Context, entityID int64, timeframeID string, period int) (*entity.EMAState, error)
	Upsert(ctx context.Context, state *entity.EMAState) error
}

// AuditStore records reject observations.
type AuditStore interface {
	InsertBatch(ctx context.Context, records []entity.AuditRecord) error
}

// TimeframeSource lists timeframes matching a filter. catalog.Store
// implements it.
type TimeframeSource interface {
	List(ctx context.Context, filter entity.TimeframeFilter) ([]entity.Timeframe, error)
}

// Refresher computes one EMA family from its upstream bar family, with the
// same four-scenario incremental discipline as the bar builders, keyed one
// level deeper by period.
type Refresher struct {
	family    constant.EMAFamily
	policy    bars.BarPolicy
	barRepo   BarSource
	dailyRepo BarSource
	priceRepo EntitySource
	emaRepo   EMAStore
	stateRepo EMAStateStore
	auditRepo AuditStore
	catalog   TimeframeSource
	js        nats.JetStreamContext
}

// Options is the argument shape of every refresh-ema invocation.
type Options struct {
	EntityIDs    []int64  // nil means all entities with raw data
	TimeframeIDs []string // nil means all canonical timeframes for the family
	Periods      []int    // nil means constant.DefaultEMAPeriods
	FullRefresh  bool
	NumWorkers   int
}

func NewRefresher(
	family constant.EMAFamily,
	barRepo BarSource,
	dailyBarRepo BarSource,
	priceRepo EntitySource,
	emaRepo EMAStore,
	stateRepo EMAStateStore,
	auditRepo AuditStore,
	catalogStore TimeframeSource,
	js nats.JetStreamContext,
) *Refresher {
	return &Refresher{
		family:    family,
		policy:    bars.PolicyFor(family.SourceBarFamily()),
		barRepo:   barRepo,
		dailyRepo: dailyBarRepo,
		priceRepo: priceRepo,
		emaRepo:   emaRepo,
		stateRepo: stateRepo,
		auditRepo: auditRepo,
		catalog:   catalogStore,
		js:        js,
	}
}

func (r *Refresher) name() string {
	return "ema." + string(r.family)
}

// sourceRepo picks the upstream bar table for one timeframe. A 1-day
// timeframe reads the canonical daily table, which has been screened row by
// row, instead of the generic snapshot table.
func (r *Refresher) sourceRepo(tf entity.Timeframe) BarSource {
	if tf.NominalDays == 1 {
		return r.dailyRepo
	}
	return r.barRepo
}

type entityResult struct {
	written int
	rejects int
	err     error
}

// Refresh runs the state machine for every requested (entity, timeframe,
// period), parallelized across entities. Per-entity failures are isolated
// and reported in the summary.
func (r *Refresher) Refresh(ctx context.Context, opts Options) (*entity.RefreshSummary, error) {
	runID := uuid.NewString()
	summary := &entity.RefreshSummary{
		RunID:     runID,
		Source:    r.name(),
		StartedAt: time.Now().UTC(),
	}

	timeframes, err := r.resolveTimeframes(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve timeframes: %w", err)
	}
	if len(timeframes) == 0 {
		logrus.WithField("source", r.name()).Warn("no matching timeframes, nothing to do")
		summary.FinishedAt = time.Now().UTC()
		return summary, nil
	}

	periods := opts.Periods
	if len(periods) == 0 {
		periods = constant.DefaultEMAPeriods
	}

	entityIDs := opts.EntityIDs
	if len(entityIDs) == 0 {
		entityIDs, err = r.priceRepo.ListEntityIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
	}

	numWorkers := opts.NumWorkers
	if numWorkers <= 0 {
		numWorkers = defaultNumWorkers
	}
	if numWorkers > len(entityIDs) && len(entityIDs) > 0 {
		numWorkers = len(entityIDs)
	}

	logrus.WithFields(logrus.Fields{
		"run_id":       runID,
		"source":       r.name(),
		"entities":     len(entityIDs),
		"timeframes":   len(timeframes),
		"periods":      periods,
		"num_workers":  numWorkers,
		"full_refresh": opts.FullRefresh,
	}).Info("ema refresh started")

	jobs := make(chan int64)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entityID := range jobs {
				res := r.refreshEntity(ctx, runID, entityID, timeframes, periods, opts)

				mu.Lock()
				summary.RowsWritten += res.written
				summary.Rejects += res.rejects
				if res.err != nil {
					summary.EntitiesFailed++
					summary.FailedEntities = append(summary.FailedEntities, entity.EntityError{
						EntityID: entityID,
						Message:  res.err.Error(),
					})
				} else {
					summary.EntitiesOK++
				}
				mu.Unlock()
			}
		}()
	}

	for _, entityID := range entityIDs {
		select {
		case jobs <- entityID:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	summary.FinishedAt = time.Now().UTC()

	logrus.WithFields(logrus.Fields{
		"run_id":          runID,
		"source":          r.name(),
		"entities_ok":     summary.EntitiesOK,
		"entities_failed": summary.EntitiesFailed,
		"rows_written":    summary.RowsWritten,
		"rejects":         summary.Rejects,
		"elapsed":         summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("ema refresh finished")

	if err := util.PublishEvent(r.js, constant.RefreshStreamSubjectEMA, summary); err != nil {
		logrus.WithError(err).Warn("failed to publish ema refresh summary")
	}

	return summary, nil
}

func (r *Refresher) resolveTimeframes(ctx context.Context, opts Options) ([]entity.Timeframe, error) {
	filter := r.policy.CatalogFilter()
	if len(opts.TimeframeIDs) > 0 {
		filter.IDs = opts.TimeframeIDs
	} else {
		filter.CanonicalOnly = true
	}

	all, err := r.catalog.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, tf := range all {
		if r.policy.Accepts(tf) || (r.family != constant.EMAFamilyDaily && tf.NominalDays == 1 && tf.Alignment == entity.AlignmentFixedLength) {
			matched = append(matched, tf)
		}
	}

	return matched, nil
}

func (r *Refresher) refreshEntity(ctx context.Context, runID string, entityID int64, timeframes []entity.Timeframe, periods []int, opts Options) (res entityResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res.err = fmt.Errorf("panic: %v", rec)
			logrus.WithFields(logrus.Fields{
				"run_id":    runID,
				"entity_id": entityID,
			}).Errorf("ema refresh panicked: %v", rec)
		}
	}()

	for _, tf := range timeframes {
		srcMin, srcMax, hasBars, err := r.sourceRepo(tf).SnapshotDayBounds(ctx, entityID, tf.ID)
		if err != nil {
			res.err = fmt.Errorf("query source bounds: %w", err)
			return res
		}
		if !hasBars {
			continue
		}

		for _, period := range periods {
			written, rejects, err := r.refreshKey(ctx, runID, entityID, tf, period, srcMin, srcMax, opts)
			res.written += written
			res.rejects += rejects
			if errors.Is(err, errValueRejected) {
				logrus.WithFields(logrus.Fields{
					"run_id":       runID,
					"entity_id":    entityID,
					"timeframe_id": tf.ID,
					"period":       period,
				}).WithError(err).Warn("ema series stopped at rejected value")
				continue
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"run_id":       runID,
					"entity_id":    entityID,
					"timeframe_id": tf.ID,
					"period":       period,
				}).WithError(err).Error("ema refresh failed for entity")
				res.err = err
				return res
			}
		}
	}

	return res
}

// refreshKey decides which scenario applies to one (entity, timeframe,
// period). EMA is path-dependent on its seed, so any upstream backfill
// forces a full recompute; incremental runs resume from the last persisted
// row, which reproduces the one-pass values exactly.
func (r *Refresher) refreshKey(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, period int, srcMin, srcMax time.Time, opts Options) (int, int, error) {
	state, err := r.stateRepo.Get(ctx, entityID, tf.ID, period)
	if err != nil {
		return 0, 0, fmt.Errorf("load state: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"run_id":       runID,
		"source":       r.name(),
		"entity_id":    entityID,
		"timeframe_id": tf.ID,
		"period":       period,
	})

	switch {
	case opts.FullRefresh || state == nil:
		if state != nil {
			if err := r.emaRepo.DeleteByKey(ctx, entityID, tf.ID, period); err != nil {
				return 0, 0, fmt.Errorf("delete ema rows for full refresh: %w", err)
			}
		}
		log.Info("full ema compute")
		return r.fullCompute(ctx, runID, entityID, tf, period, srcMin, srcMax)

	case srcMin.Before(state.SourceMinDay):
		log.WithFields(logrus.Fields{
			"source_min":      srcMin.Format("2006-01-02"),
			"source_min_seen": state.SourceMinDay.Format("2006-01-02"),
		}).Warn("upstream backfill detected, recomputing ema series")
		if err := r.emaRepo.DeleteByKey(ctx, entityID, tf.ID, period); err != nil {
			return 0, 0, fmt.Errorf("delete ema rows for backfill recompute: %w", err)
		}
		return r.fullCompute(ctx, runID, entityID, tf, period, srcMin, srcMax)

	case srcMax.After(state.SourceMaxDay):
		return r.incremental(ctx, runID, entityID, tf, period, srcMin, srcMax)

	default:
		state.SourceMaxDay = srcMax
		state.LastRunAt = time.Now().UTC()
		state.UpdatedAt = state.LastRunAt
		if err := r.stateRepo.Upsert(ctx, state); err != nil {
			return 0, 0, fmt.Errorf("touch state: %w", err)
		}
		return 0, 0, nil
	}
}

func (r *Refresher) fullCompute(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, period int, srcMin, srcMax time.Time) (int, int, error) {
	barRows, err := r.sourceRepo(tf).ListSnapshots(ctx, entityID, tf.ID, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("load source bars: %w", err)
	}

	return r.computeAndPersist(ctx, runID, entityID, tf, period, seriesCarry{}, barRows, srcMin, srcMax)
}

func (r *Refresher) incremental(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, period int, srcMin, srcMax time.Time) (int, int, error) {
	last, err := r.emaRepo.LastValue(ctx, entityID, tf.ID, period)
	if err != nil {
		return 0, 0, fmt.Errorf("load last ema row: %w", err)
	}
	if last == nil {
		// State exists but no rows yet (the source produced no bars when
		// state was first written): compute from scratch.
		return r.fullCompute(ctx, runID, entityID, tf, period, srcMin, srcMax)
	}

	loadFrom := DayOf(last.SnapshotDay).AddDate(0, 0, 1)
	barRows, err := r.sourceRepo(tf).ListSnapshots(ctx, entityID, tf.ID, &loadFrom)
	if err != nil {
		return 0, 0, fmt.Errorf("load source bars: %w", err)
	}

	return r.computeAndPersist(ctx, runID, entityID, tf, period, carryFromRow(last), barRows, srcMin, srcMax)
}

// computeAndPersist folds the bars into EMA rows, validates each value,
// and persists rows, rejects and the advanced watermark, in that order. A
// reject truncates the series at the offending bar and fails the key, so
// state never advances past a bad value.
func (r *Refresher) computeAndPersist(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, period int, carry seriesCarry, barRows []entity.Bar, srcMin, srcMax time.Time) (int, int, error) {
	now := time.Now().UTC()

	bound := priceBound(carry, barRows)
	_, rows := computeSeries(carry, barRows, entityID, tf.ID, period, now)

	var rejectErr error
	var rejects []entity.AuditRecord
	for i, row := range rows {
		reason := validate(row.Value, bound)
		if reason == "" {
			continue
		}
		rejects = append(rejects, entity.AuditRecord{
			RunID:       runID,
			Source:      r.name(),
			Kind:        constant.AuditKindReject,
			EntityID:    entityID,
			TimeframeID: null.StringFrom(tf.ID),
			Period:      null.IntFrom(int64(period)),
			Day:         row.SnapshotDay,
			Reason:      reason,
			CreatedAt:   now,
		})
		rejectErr = fmt.Errorf("%w (%s) at %s", errValueRejected, reason, row.SnapshotDay.Format("2006-01-02"))
		rows = rows[:i]
		break
	}

	if err := r.emaRepo.UpsertBatch(ctx, rows); err != nil {
		return 0, 0, fmt.Errorf("upsert ema rows: %w", err)
	}
	if err := r.auditRepo.InsertBatch(ctx, rejects); err != nil {
		return 0, 0, fmt.Errorf("write audit records: %w", err)
	}
	if rejectErr != nil {
		return len(rows), len(rejects), rejectErr
	}

	state := &entity.EMAState{
		EntityID:     entityID,
		TimeframeID:  tf.ID,
		Period:       period,
		SourceMinDay: srcMin,
		SourceMaxDay: srcMax,
		LastRunAt:    now,
		UpdatedAt:    now,
	}
	if len(rows) > 0 {
		state.LastSnapshotDay = null.TimeFrom(rows[len(rows)-1].SnapshotDay)
	} else {
		prior, err := r.stateRepo.Get(ctx, entityID, tf.ID, period)
		if err != nil {
			return 0, 0, fmt.Errorf("reload state: %w", err)
		}
		if prior != nil {
			state.LastSnapshotDay = prior.LastSnapshotDay
		}
	}
	if err := r.stateRepo.Upsert(ctx, state); err != nil {
		return 0, 0, fmt.Errorf("advance state: %w", err)
	}

	return len(rows), 0, nil
}

// priceBound derives the validation bound from the observed closes plus
// the resume carry, so a short incremental batch is judged against the
// level the series actually runs at.
func priceBound(carry seriesCarry, barRows []entity.Bar) float64 {
	maxAbs := 0.0
	if carry.Seeded {
		maxAbs = math.Abs(carry.Value)
	}
	for _, bar := range barRows {
		c, _ := bar.Close.Float64()
		if a := math.Abs(c); a > maxAbs {
			maxAbs = a
		}
	}
	return maxAbs * boundMultiple
}
