package bars

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

type fakeDailyStore struct {
	rows []entity.DailyPrice // ascending by day
}

func (f *fakeDailyStore) ListEntityIDs(_ context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, r := range f.rows {
		if !seen[r.EntityID] {
			seen[r.EntityID] = true
			ids = append(ids, r.EntityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeDailyStore) GetDayBounds(_ context.Context, entityID int64) (time.Time, time.Time, bool, error) {
	var min, max time.Time
	found := false
	for _, r := range f.rows {
		if r.EntityID != entityID {
			continue
		}
		d := DayUTC(r.Day)
		if !found {
			min, max = d, d
			found = true
			continue
		}
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	return min, max, found, nil
}

func (f *fakeDailyStore) ListRange(_ context.Context, entityID int64, from, to *time.Time) ([]entity.DailyPrice, error) {
	var out []entity.DailyPrice
	for _, r := range f.rows {
		if r.EntityID != entityID {
			continue
		}
		d := DayUTC(r.Day)
		if from != nil && d.Before(*from) {
			continue
		}
		if to != nil && d.After(*to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeBarStore struct {
	bars    map[string]entity.Bar
	deletes int
}

func newFakeBarStore() *fakeBarStore {
	return &fakeBarStore{bars: map[string]entity.Bar{}}
}

func snapshotKey(b entity.Bar) string {
	return fmt.Sprintf("%d|%s|%d|%s", b.EntityID, b.TimeframeID, b.BarSeq, b.SnapshotDay.Format("2006-01-02"))
}

func (f *fakeBarStore) UpsertBatch(_ context.Context, bars []entity.Bar) error {
	for _, b := range bars {
		f.bars[snapshotKey(b)] = b
	}
	return nil
}

func (f *fakeBarStore) DeleteByKey(_ context.Context, entityID int64, timeframeID string) error {
	f.deletes++
	for k, b := range f.bars {
		if b.EntityID == entityID && b.TimeframeID == timeframeID {
			delete(f.bars, k)
		}
	}
	return nil
}

func (f *fakeBarStore) sorted(entityID int64, timeframeID string) []entity.Bar {
	var out []entity.Bar
	for _, b := range f.bars {
		if b.EntityID == entityID && b.TimeframeID == timeframeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDay.Equal(out[j].SnapshotDay) {
			return out[i].SnapshotDay.Before(out[j].SnapshotDay)
		}
		return out[i].BarSeq < out[j].BarSeq
	})
	return out
}

func (f *fakeBarStore) LastSnapshot(_ context.Context, entityID int64, timeframeID string) (*entity.Bar, error) {
	all := f.sorted(entityID, timeframeID)
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1]
	return &last, nil
}

func (f *fakeBarStore) FirstSnapshotFrom(_ context.Context, entityID int64, timeframeID string, fromDay time.Time) (*entity.Bar, error) {
	for _, b := range f.sorted(entityID, timeframeID) {
		if !b.SnapshotDay.Before(fromDay) {
			bb := b
			return &bb, nil
		}
	}
	return nil, nil
}

type fakeBarStateStore struct {
	states map[string]entity.BarState
}

func newFakeBarStateStore() *fakeBarStateStore {
	return &fakeBarStateStore{states: map[string]entity.BarState{}}
}

func (f *fakeBarStateStore) Get(_ context.Context, entityID int64, timeframeID string) (*entity.BarState, error) {
	s, ok := f.states[fmt.Sprintf("%d|%s", entityID, timeframeID)]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

func (f *fakeBarStateStore) Upsert(_ context.Context, state *entity.BarState) error {
	f.states[fmt.Sprintf("%d|%s", state.EntityID, state.TimeframeID)] = *state
	return nil
}

type fakeAuditStore struct {
	records []entity.AuditRecord
}

func (f *fakeAuditStore) InsertBatch(_ context.Context, records []entity.AuditRecord) error {
	f.records = append(f.records, records...)
	return nil
}

type fakeCatalog struct {
	tfs []entity.Timeframe
}

func (f *fakeCatalog) List(_ context.Context, filter entity.TimeframeFilter) ([]entity.Timeframe, error) {
	ids := map[string]bool{}
	for _, id := range filter.IDs {
		ids[id] = true
	}

	var out []entity.Timeframe
	for _, tf := range f.tfs {
		if filter.Alignment != "" && tf.Alignment != filter.Alignment {
			continue
		}
		if filter.WeekConvention != "" && tf.WeekConvention != filter.WeekConvention {
			continue
		}
		if filter.CanonicalOnly && !tf.IsCanonical {
			continue
		}
		if len(ids) > 0 && !ids[tf.ID] {
			continue
		}
		out = append(out, tf)
	}
	return out, nil
}

type builderFixture struct {
	daily  *fakeDailyStore
	bars   *fakeBarStore
	states *fakeBarStateStore
	audits *fakeAuditStore
	b      *Builder
}

func newBuilderFixture(family constant.BarFamily, rows []entity.DailyPrice, tfs ...entity.Timeframe) *builderFixture {
	f := &builderFixture{
		daily:  &fakeDailyStore{rows: rows},
		bars:   newFakeBarStore(),
		states: newFakeBarStateStore(),
		audits: &fakeAuditStore{},
	}
	f.b = NewBuilder(PolicyFor(family), f.daily, f.bars, f.states, f.audits, &fakeCatalog{tfs: tfs}, nil)
	return f
}

func TestBuilder_FullBuildThenIdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(constant.BarFamilyDaily, priceRange(1, day(2024, 1, 1), day(2024, 1, 5)), tfDaily)

	summary, err := f.b.Refresh(ctx, Options{})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if summary.RowsWritten != 5 || summary.EntitiesOK != 1 {
		t.Fatalf("first run wrote %d rows for %d entities, want 5 for 1", summary.RowsWritten, summary.EntitiesOK)
	}

	state, _ := f.states.Get(ctx, 1, tfDaily.ID)
	if state == nil {
		t.Fatal("no state after full build")
	}
	if !state.DailyMaxSeen.Equal(day(2024, 1, 5)) || !state.LastBarSeq.Valid || state.LastBarSeq.Int64 != 5 {
		t.Errorf("state = max %s seq %v, want 2024-01-05 and 5",
			state.DailyMaxSeen.Format("2006-01-02"), state.LastBarSeq)
	}

	before := f.bars.sorted(1, tfDaily.ID)

	summary, err = f.b.Refresh(ctx, Options{})
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if summary.RowsWritten != 0 {
		t.Errorf("no-op run wrote %d rows", summary.RowsWritten)
	}
	if f.bars.deletes != 0 {
		t.Errorf("no-op run deleted bars %d times", f.bars.deletes)
	}
	if after := f.bars.sorted(1, tfDaily.ID); !reflect.DeepEqual(before, after) {
		t.Error("no-op run changed persisted snapshots")
	}
}

func TestBuilder_IncrementalAppendsWithoutTouchingClosedBars(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(constant.BarFamilyDaily, priceRange(1, day(2024, 1, 1), day(2024, 1, 5)), tfDaily)

	if _, err := f.b.Refresh(ctx, Options{}); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	before := f.bars.sorted(1, tfDaily.ID)

	f.daily.rows = priceRange(1, day(2024, 1, 1), day(2024, 1, 7))

	summary, err := f.b.Refresh(ctx, Options{})
	if err != nil {
		t.Fatalf("incremental refresh: %v", err)
	}
	if summary.RowsWritten != 2 {
		t.Errorf("incremental run wrote %d rows, want 2", summary.RowsWritten)
	}
	if f.bars.deletes != 0 {
		t.Errorf("incremental run deleted bars %d times", f.bars.deletes)
	}

	after := f.bars.sorted(1, tfDaily.ID)
	if len(after) != 7 {
		t.Fatalf("snapshots = %d, want 7", len(after))
	}
	if !reflect.DeepEqual(before, after[:5]) {
		t.Error("incremental run modified already-closed snapshots")
	}
	if after[5].BarSeq != 6 || after[6].BarSeq != 7 {
		t.Errorf("appended seqs = %d, %d, want 6, 7", after[5].BarSeq, after[6].BarSeq)
	}

	state, _ := f.states.Get(ctx, 1, tfDaily.ID)
	if !state.DailyMaxSeen.Equal(day(2024, 1, 7)) {
		t.Errorf("watermark = %s, want 2024-01-07", state.DailyMaxSeen.Format("2006-01-02"))
	}
}

func TestBuilder_BackfillRebuildsAndResequences(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(constant.BarFamilyDaily, priceRange(1, day(2024, 1, 5), day(2024, 1, 20)), tfDaily)

	if _, err := f.b.Refresh(ctx, Options{}); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	initial := f.bars.sorted(1, tfDaily.ID)
	if len(initial) != 16 || initial[0].BarSeq != 1 || !initial[0].SnapshotDay.Equal(day(2024, 1, 5)) {
		t.Fatalf("initial build: %d bars starting seq %d at %s",
			len(initial), initial[0].BarSeq, initial[0].SnapshotDay.Format("2006-01-02"))
	}

	// Days 1-4 arrive later: sequence numbering is anchored at the first
	// day, so the whole history must be rebuilt.
	f.daily.rows = append(priceRange(1, day(2024, 1, 1), day(2024, 1, 4)), f.daily.rows...)

	summary, err := f.b.Refresh(ctx, Options{})
	if err != nil {
		t.Fatalf("backfill refresh: %v", err)
	}
	if f.bars.deletes != 1 {
		t.Errorf("deletes = %d, want 1", f.bars.deletes)
	}
	if summary.RowsWritten != 20 {
		t.Errorf("rebuild wrote %d rows, want 20", summary.RowsWritten)
	}

	rebuilt := f.bars.sorted(1, tfDaily.ID)
	if len(rebuilt) != 20 {
		t.Fatalf("snapshots = %d, want 20", len(rebuilt))
	}
	if rebuilt[0].BarSeq != 1 || !rebuilt[0].SnapshotDay.Equal(day(2024, 1, 1)) {
		t.Errorf("first bar = seq %d at %s, want seq 1 at 2024-01-01",
			rebuilt[0].BarSeq, rebuilt[0].SnapshotDay.Format("2006-01-02"))
	}
	if rebuilt[19].BarSeq != 20 {
		t.Errorf("last seq = %d, want 20", rebuilt[19].BarSeq)
	}

	state, _ := f.states.Get(ctx, 1, tfDaily.ID)
	if !state.DailyMinSeen.Equal(day(2024, 1, 1)) {
		t.Errorf("min watermark = %s, want 2024-01-01", state.DailyMinSeen.Format("2006-01-02"))
	}
}

func TestBuilder_CarryForwardAfterRepairMatchesRebuild(t *testing.T) {
	ctx := context.Background()
	tf3d := entity.Timeframe{
		ID:          "3d",
		Alignment:   entity.AlignmentFixedLength,
		PeriodUnit:  entity.PeriodUnitDay,
		PeriodCount: 3,
		NominalDays: 3,
		IsCanonical: true,
	}
	day1 := price(1, day(2024, 3, 1), 10, 20, 9, 50, 100) // close above high, repaired upward
	day2 := price(1, day(2024, 3, 2), 26, 30, 24, 25, 100)

	split := newBuilderFixture(constant.BarFamilyFixed, []entity.DailyPrice{day1}, tf3d)
	if _, err := split.b.Refresh(ctx, Options{}); err != nil {
		t.Fatalf("first split refresh: %v", err)
	}
	split.daily.rows = []entity.DailyPrice{day1, day2}
	if _, err := split.b.Refresh(ctx, Options{}); err != nil {
		t.Fatalf("second split refresh: %v", err)
	}

	full := newBuilderFixture(constant.BarFamilyFixed, []entity.DailyPrice{day1, day2}, tf3d)
	if _, err := full.b.Refresh(ctx, Options{}); err != nil {
		t.Fatalf("full refresh: %v", err)
	}

	got := split.bars.sorted(1, tf3d.ID)
	want := full.bars.sorted(1, tf3d.ID)
	if len(got) != len(want) {
		t.Fatalf("split snapshots = %d, full rebuild has %d", len(got), len(want))
	}
	for i := range got {
		if got[i].BarSeq != want[i].BarSeq || !got[i].SnapshotDay.Equal(want[i].SnapshotDay) {
			t.Errorf("snapshot %d key = (%d,%s), rebuild has (%d,%s)",
				i, got[i].BarSeq, got[i].SnapshotDay.Format("2006-01-02"),
				want[i].BarSeq, want[i].SnapshotDay.Format("2006-01-02"))
		}
		if !got[i].Open.Equal(want[i].Open) || !got[i].High.Equal(want[i].High) ||
			!got[i].Low.Equal(want[i].Low) || !got[i].Close.Equal(want[i].Close) {
			t.Errorf("snapshot %d OHLC = %s/%s/%s/%s, rebuild has %s/%s/%s/%s",
				i, got[i].Open, got[i].High, got[i].Low, got[i].Close,
				want[i].Open, want[i].High, want[i].Low, want[i].Close)
		}
	}

	last := got[len(got)-1]
	if !last.High.Equal(decimal.NewFromInt(50)) {
		t.Errorf("continued snapshot high = %s, want 50", last.High)
	}

	clamps := 0
	for _, rec := range split.audits.records {
		if rec.Reason == constant.ReasonOHLCClamped {
			clamps++
		}
	}
	if clamps != 1 {
		t.Errorf("split run clamp audits = %d, want 1", clamps)
	}
}
