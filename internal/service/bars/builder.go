package bars

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
	"github.com/quantdesk/bar-service/internal/util"
)

const defaultNumWorkers = 4

// DailyPriceStore is the raw price read surface the builder consumes.
// repository.DailyPriceRepository implements it.
type DailyPriceStore interface {
	ListEntityIDs(ctx context.Context) ([]int64, error)
	GetDayBounds(ctx context.Context, entityID int64) (time.Time, time.Time, bool, error)
	ListRange(ctx context.Context, entityID int64, from, to *time.Time) ([]entity.DailyPrice, error)
}

// BarStore persists one family's snapshot history.
type BarStore interface {
	UpsertBatch(ctx context.Context, bars []entity.Bar) error
	DeleteByKey(ctx context.Context, entityID int64, timeframeID string) error
	LastSnapshot(ctx context.Context, entityID int64, timeframeID string) (*entity.Bar, error)
	FirstSnapshotFrom(ctx context.Context, entityID int64, timeframeID string, fromDay time.Time) (*entity.Bar, error)
}

// BarStateStore persists the per-(entity, timeframe) watermark rows.
type BarStateStore interface {
	Get(ctx context.Context, entityID int64, timeframeID string) (*entity.BarState, error)
	Upsert(ctx context.Context, state *entity.BarState) error
}

// AuditStore records repair and reject observations.
type AuditStore interface {
	InsertBatch(ctx context.Context, records []entity.AuditRecord) error
}

// TimeframeSource lists timeframes matching a filter. catalog.Store
// implements it.
type TimeframeSource interface {
	List(ctx context.Context, filter entity.TimeframeFilter) ([]entity.Timeframe, error)
}

// Builder is the template shared by all six bar families. The policy owns
// the timeframe semantics; the builder owns scenario selection, state, the
// worker pool and persistence.
type Builder struct {
	policy    BarPolicy
	dailyRepo DailyPriceStore
	barRepo   BarStore
	stateRepo BarStateStore
	auditRepo AuditStore
	catalog   TimeframeSource
	js        nats.JetStreamContext
}

// Options is the shared argument shape of every refresh command.
type Options struct {
	EntityIDs     []int64  // nil means all entities with raw data
	TimeframeIDs  []string // nil means all canonical timeframes for the family
	Rebuild       bool
	NumWorkers    int
	LookbackDays  int
	FailOnRejects bool // daily family only
}

func NewBuilder(
	policy BarPolicy,
	dailyRepo DailyPriceStore,
	barRepo BarStore,
	stateRepo BarStateStore,
	auditRepo AuditStore,
	catalogStore TimeframeSource,
	js nats.JetStreamContext,
) *Builder {
	return &Builder{
		policy:    policy,
		dailyRepo: dailyRepo,
		barRepo:   barRepo,
		stateRepo: stateRepo,
		auditRepo: auditRepo,
		catalog:   catalogStore,
		js:        js,
	}
}

type entityResult struct {
	written int
	repairs int
	rejects int
	err     error
}

// Refresh runs the four-scenario state machine for every requested
// (entity, timeframe) pair, parallelized across entities. It returns an
// error only for unrecoverable setup failures; per-entity failures are
// isolated, logged and reported in the summary.
func (b *Builder) Refresh(ctx context.Context, opts Options) (*entity.RefreshSummary, error) {
	runID := uuid.NewString()
	summary := &entity.RefreshSummary{
		RunID:     runID,
		Source:    b.policy.Name(),
		StartedAt: time.Now().UTC(),
	}

	timeframes, err := b.resolveTimeframes(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("resolve timeframes: %w", err)
	}
	if len(timeframes) == 0 {
		logrus.WithField("source", b.policy.Name()).Warn("no matching timeframes, nothing to do")
		summary.FinishedAt = time.Now().UTC()
		return summary, nil
	}

	entityIDs := opts.EntityIDs
	if len(entityIDs) == 0 {
		entityIDs, err = b.dailyRepo.ListEntityIDs(ctx)
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
		"run_id":      runID,
		"source":      b.policy.Name(),
		"entities":    len(entityIDs),
		"timeframes":  len(timeframes),
		"num_workers": numWorkers,
		"rebuild":     opts.Rebuild,
	}).Info("bar refresh started")

	jobs := make(chan int64)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entityID := range jobs {
				res := b.refreshEntity(ctx, runID, entityID, timeframes, opts)

				mu.Lock()
				summary.RowsWritten += res.written
				summary.Repairs += res.repairs
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
		"source":          b.policy.Name(),
		"entities_ok":     summary.EntitiesOK,
		"entities_failed": summary.EntitiesFailed,
		"rows_written":    summary.RowsWritten,
		"repairs":         summary.Repairs,
		"rejects":         summary.Rejects,
		"elapsed":         summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("bar refresh finished")

	if err := util.PublishEvent(b.js, constant.RefreshStreamSubjectBars, summary); err != nil {
		logrus.WithError(err).Warn("failed to publish bar refresh summary")
	}

	if opts.FailOnRejects && summary.Rejects > 0 {
		return summary, fmt.Errorf("%d rows rejected", summary.Rejects)
	}

	return summary, nil
}

func (b *Builder) resolveTimeframes(ctx context.Context, opts Options) ([]entity.Timeframe, error) {
	filter := b.policy.CatalogFilter()
	if len(opts.TimeframeIDs) > 0 {
		filter.IDs = opts.TimeframeIDs
	} else {
		filter.CanonicalOnly = true
	}

	all, err := b.catalog.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, tf := range all {
		if b.policy.Accepts(tf) {
			matched = append(matched, tf)
		}
	}

	return matched, nil
}

// refreshEntity processes every requested timeframe for one entity,
// sequentially. Any failure is fatal for this entity only; the panic guard
// keeps a misbehaving entity from taking the pool down silently.
func (b *Builder) refreshEntity(ctx context.Context, runID string, entityID int64, timeframes []entity.Timeframe, opts Options) (res entityResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
			logrus.WithFields(logrus.Fields{
				"run_id":    runID,
				"entity_id": entityID,
			}).Errorf("bar refresh panicked: %v", r)
		}
	}()

	rawMin, rawMax, hasData, err := b.dailyRepo.GetDayBounds(ctx, entityID)
	if err != nil {
		res.err = fmt.Errorf("query raw bounds: %w", err)
		return res
	}
	if !hasData {
		return res
	}

	for _, tf := range timeframes {
		written, repairs, rejects, err := b.refreshKey(ctx, runID, entityID, tf, rawMin, rawMax, opts)
		res.written += written
		res.repairs += repairs
		res.rejects += rejects
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"run_id":       runID,
				"entity_id":    entityID,
				"timeframe_id": tf.ID,
			}).WithError(err).Error("bar refresh failed for entity")
			res.err = err
			return res
		}
	}

	return res
}

// refreshKey decides which of the four scenarios applies to one
// (entity, timeframe) and runs it. State is written only after bar writes
// succeed, so an aborted run is always safe to repeat.
func (b *Builder) refreshKey(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, rawMin, rawMax time.Time, opts Options) (int, int, int, error) {
	state, err := b.stateRepo.Get(ctx, entityID, tf.ID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load state: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"run_id":       runID,
		"source":       b.policy.Name(),
		"entity_id":    entityID,
		"timeframe_id": tf.ID,
	})

	switch {
	case opts.Rebuild || state == nil:
		if state != nil {
			if err := b.barRepo.DeleteByKey(ctx, entityID, tf.ID); err != nil {
				return 0, 0, 0, fmt.Errorf("delete bars for rebuild: %w", err)
			}
		}
		log.Info("full build")
		return b.fullBuild(ctx, runID, entityID, tf, rawMin, rawMax, opts)

	case rawMin.Before(state.DailyMinSeen):
		// Earlier data appeared: sequence numbering depends on the first
		// available day, so incremental patching is unsafe.
		log.WithFields(logrus.Fields{
			"raw_min":        rawMin.Format("2006-01-02"),
			"daily_min_seen": state.DailyMinSeen.Format("2006-01-02"),
		}).Warn("backfill detected, rebuilding")
		if err := b.barRepo.DeleteByKey(ctx, entityID, tf.ID); err != nil {
			return 0, 0, 0, fmt.Errorf("delete bars for backfill rebuild: %w", err)
		}
		return b.fullBuild(ctx, runID, entityID, tf, rawMin, rawMax, opts)

	case rawMax.After(state.DailyMaxSeen):
		return b.incremental(ctx, runID, entityID, tf, state, rawMin, rawMax, opts)

	default:
		// Up to date. The watermark still advances so the next run's
		// backfill check uses current information.
		state.DailyMaxSeen = rawMax
		state.LastRunAt = time.Now().UTC()
		state.UpdatedAt = state.LastRunAt
		if err := b.stateRepo.Upsert(ctx, state); err != nil {
			return 0, 0, 0, fmt.Errorf("touch state: %w", err)
		}
		return 0, 0, 0, nil
	}
}

func (b *Builder) fullBuild(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, rawMin, rawMax time.Time, opts Options) (int, int, int, error) {
	rows, err := b.dailyRepo.ListRange(ctx, entityID, nil, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load raw rows: %w", err)
	}

	return b.buildAndPersist(ctx, runID, entityID, tf, rows, seriesInput{
		EntityID:   entityID,
		Timeframe:  tf,
		FirstDay:   rawMin,
		LastRawDay: rawMax,
		SeqStart:   1,
	}, nil, rawMin, rawMax, opts)
}

func (b *Builder) incremental(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, state *entity.BarState, rawMin, rawMax time.Time, opts Options) (int, int, int, error) {
	last, err := b.barRepo.LastSnapshot(ctx, entityID, tf.ID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load last snapshot: %w", err)
	}
	if last == nil {
		// State exists but no bars yet (e.g. full-period policy before the
		// first complete period): build from scratch, sequence from one.
		return b.fullBuild(ctx, runID, entityID, tf, rawMin, rawMax, opts)
	}

	lastDay := DayUTC(last.SnapshotDay)
	windowStart, windowEnd := b.policy.Window(lastDay, state.DailyMinSeen, tf)

	in := seriesInput{
		EntityID:   entityID,
		Timeframe:  tf,
		FirstDay:   state.DailyMinSeen,
		LastRawDay: rawMax,
	}

	var loadFrom time.Time
	forming := b.policy.EmitsForming() && last.IsPartialEnd

	switch {
	case forming:
		loadFrom = windowStart
		in.SeqStart = last.BarSeq
		emitAfter := lastDay
		in.EmitAfter = &emitAfter
	case b.policy.EmitsForming():
		loadFrom = addDays(lastDay, 1)
		in.SeqStart = last.BarSeq + 1
	default:
		// Closed-only policies: the next bar starts after the last emitted
		// window's end.
		loadFrom = addDays(windowEnd, 1)
		in.SeqStart = last.BarSeq + 1
	}

	// The lookback override re-derives recent snapshots of forming-mode
	// policies, anchored at the bar containing the lookback day. Upserts
	// make the re-emission idempotent.
	if opts.LookbackDays > 0 && b.policy.EmitsForming() {
		anchorDay := addDays(rawMax, -opts.LookbackDays)
		if anchorDay.Before(state.DailyMinSeen) {
			anchorDay = state.DailyMinSeen
		}
		anchorStart, _ := b.policy.Window(anchorDay, state.DailyMinSeen, tf)
		if anchorStart.Before(loadFrom) {
			anchorBar, err := b.barRepo.FirstSnapshotFrom(ctx, entityID, tf.ID, anchorStart)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("anchor lookback window: %w", err)
			}
			if anchorBar != nil {
				loadFrom = anchorStart
				in.SeqStart = anchorBar.BarSeq
				in.EmitAfter = nil
			}
		}
	}

	rows, err := b.dailyRepo.ListRange(ctx, entityID, &loadFrom, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load raw rows: %w", err)
	}

	// Carry-forward shortcut: when the first new day directly continues
	// the persisted forming bar, seed the aggregate from it and process
	// only the new days instead of recomputing from the window start.
	if forming && in.EmitAfter != nil {
		newRows := rowsAfter(rows, lastDay)
		if len(newRows) > 0 {
			firstNew := DayUTC(newRows[0].Day)
			ws, _ := b.policy.Window(firstNew, state.DailyMinSeen, tf)
			if firstNew.Equal(addDays(lastDay, 1)) && ws.Equal(windowStart) {
				in.Seed = aggFromBar(last, windowStart, windowEnd, state.DailyMinSeen, b.policy.AllowsPartialStart())
				rows = newRows
			}
		}
	}

	return b.buildAndPersist(ctx, runID, entityID, tf, rows, in, state, rawMin, rawMax, opts)
}

// buildAndPersist screens rows, runs the series aggregation, and persists
// bars, audit records and the advanced watermark, in that order.
func (b *Builder) buildAndPersist(ctx context.Context, runID string, entityID int64, tf entity.Timeframe, rows []entity.DailyPrice, in seriesInput, prior *entity.BarState, rawMin, rawMax time.Time, opts Options) (int, int, int, error) {
	now := time.Now().UTC()

	if err := AssertOneRowPerDay(rows); err != nil {
		record := noteToRecord(runID, b.policy.Name(), entityID, tf.ID, auditNote{
			Kind:   constant.AuditKindReject,
			Reason: constant.ReasonDuplicateDay,
			Day:    err.(*DataIntegrityError).Day,
		}, now)
		if auditErr := b.auditRepo.InsertBatch(ctx, []entity.AuditRecord{record}); auditErr != nil {
			logrus.WithError(auditErr).Warn("failed to write duplicate-day audit record")
		}
		return 0, 0, 1, err
	}

	var rejects []auditNote
	if b.policy.Family() == constant.BarFamilyDaily {
		rows, rejects = screenRows(rows)
	}
	in.Rows = rows

	result := buildSeries(b.policy, in, now)

	if err := b.barRepo.UpsertBatch(ctx, result.Bars); err != nil {
		return 0, 0, 0, fmt.Errorf("upsert bars: %w", err)
	}

	notes := append(rejects, result.Audits...)
	records := make([]entity.AuditRecord, 0, len(notes))
	for _, note := range notes {
		records = append(records, noteToRecord(runID, b.policy.Name(), entityID, tf.ID, note, now))
	}
	if err := b.auditRepo.InsertBatch(ctx, records); err != nil {
		return 0, 0, 0, fmt.Errorf("write audit records: %w", err)
	}

	state := &entity.BarState{
		EntityID:     entityID,
		TimeframeID:  tf.ID,
		DailyMinSeen: rawMin,
		DailyMaxSeen: rawMax,
		LastRunAt:    now,
		UpdatedAt:    now,
	}
	if result.LastSeq.Valid {
		state.LastBarSeq = result.LastSeq
		state.LastTimeClose = result.LastTimeClose
	} else if prior != nil {
		state.LastBarSeq = prior.LastBarSeq
		state.LastTimeClose = prior.LastTimeClose
	}
	if err := b.stateRepo.Upsert(ctx, state); err != nil {
		return 0, 0, 0, fmt.Errorf("advance state: %w", err)
	}

	repairs := 0
	for _, note := range result.Audits {
		if note.Kind == constant.AuditKindRepair {
			repairs++
		}
	}

	return len(result.Bars), repairs, len(rejects), nil
}

// screenRows drops unrepairable raw rows, returning reject notes for the
// audit trail. Only the daily family screens; the aggregating families
// repair at the bar level instead.
func screenRows(rows []entity.DailyPrice) ([]entity.DailyPrice, []auditNote) {
	clean := make([]entity.DailyPrice, 0, len(rows))
	var rejects []auditNote

	for _, row := range rows {
		if reason := validateRow(row); reason != "" {
			rejects = append(rejects, auditNote{
				Kind:   constant.AuditKindReject,
				Reason: reason,
				Day:    DayUTC(row.Day),
			})
			continue
		}
		clean = append(clean, row)
	}

	return clean, rejects
}

func rowsAfter(rows []entity.DailyPrice, day time.Time) []entity.DailyPrice {
	for i, row := range rows {
		if DayUTC(row.Day).After(day) {
			return rows[i:]
		}
	}
	return nil
}

func noteToRecord(runID, source string, entityID int64, timeframeID string, note auditNote, now time.Time) entity.AuditRecord {
	record := entity.AuditRecord{
		RunID:       runID,
		Source:      source,
		Kind:        note.Kind,
		EntityID:    entityID,
		TimeframeID: null.StringFrom(timeframeID),
		Day:         note.Day,
		Reason:      note.Reason,
		CreatedAt:   now,
	}
	if note.Detail != "" {
		record.Detail = null.StringFrom(note.Detail)
	}
	return record
}
