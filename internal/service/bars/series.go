package bars

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

// seriesInput is everything buildSeries needs to aggregate a run of raw
// rows into snapshot rows. Rows must be ascending, one per day, already
// screened.
type seriesInput struct {
	EntityID  int64
	Timeframe entity.Timeframe
	// FirstDay is the entity's earliest raw day ever seen; it anchors
	// fixed-length windows and full-period grouping.
	FirstDay time.Time
	// LastRawDay is the entity's latest raw day; closed-only policies use
	// it to decide whether a calendar period has fully elapsed.
	LastRawDay time.Time
	Rows       []entity.DailyPrice
	// SeqStart numbers the first bar produced (ignored when Seed is set).
	SeqStart int64
	// Seed continues a persisted forming bar in O(1) per day instead of
	// recomputing it from its window start. The first row must be the
	// seed's snapshot day + 1 and fall in the seed's window.
	Seed *barAgg
	// EmitAfter suppresses snapshots on days at or before it (already
	// persisted by an earlier run).
	EmitAfter *time.Time
}

type seriesResult struct {
	Bars    []entity.Bar
	Audits  []auditNote
	LastSeq null.Int
	// LastTimeClose is the close boundary of the newest snapshot produced
	// (or continued), for the watermark row.
	LastTimeClose null.Time
}

// buildSeries is the shared aggregation loop behind every builder variant.
// The policy decides windowing and emission mode; everything else here is
// policy-free mechanics. A full rebuild over the same rows reproduces the
// exact snapshot history an incremental day-by-day run would have written.
func buildSeries(p BarPolicy, in seriesInput, now time.Time) seriesResult {
	var res seriesResult

	tf := in.Timeframe
	closedOnly := !p.EmitsForming()

	cur := in.Seed
	nextSeq := in.SeqStart
	if cur != nil {
		nextSeq = cur.seq + 1
		res.LastSeq = null.IntFrom(cur.seq)
		res.LastTimeClose = null.TimeFrom(dayEndTime(cur.lastDay))
	}

	emit := func(bar entity.Bar, day time.Time) {
		if in.EmitAfter != nil && !day.After(*in.EmitAfter) {
			return
		}
		res.Bars = append(res.Bars, bar)
		res.LastSeq = null.IntFrom(bar.BarSeq)
		res.LastTimeClose = null.TimeFrom(bar.TimeClose)
	}

	// finishClosed emits the single closing snapshot of a completed bar
	// under closed-only policies. Incomplete leading or trailing windows
	// are excluded and consume no sequence number.
	finishClosed := func() {
		if cur == nil {
			return
		}
		if cur.windowStart.Before(in.FirstDay) || in.LastRawDay.Before(cur.windowEnd) {
			cur = nil
			return
		}
		cur.seq = nextSeq
		nextSeq++
		emit(cur.closedSnapshot(in.EntityID, tf.ID, now), cur.lastDay)
		cur = nil
	}

	for _, row := range in.Rows {
		day := DayUTC(row.Day)

		// Rows are repaired before they reach the aggregate, so the emitted
		// snapshots satisfy the OHLC invariants without a bar-level clamp.
		if fields := repairRowOHLC(&row); len(fields) > 0 {
			if in.EmitAfter == nil || day.After(*in.EmitAfter) {
				res.Audits = append(res.Audits, auditNote{
					Kind:   constant.AuditKindRepair,
					Reason: constant.ReasonOHLCClamped,
					Day:    day,
					Detail: clampDetail(fields),
				})
			}
		}

		if !row.TimeHigh.Valid || !row.TimeLow.Valid {
			if in.EmitAfter == nil || day.After(*in.EmitAfter) {
				res.Audits = append(res.Audits, auditNote{
					Kind:   constant.AuditKindRepair,
					Reason: constant.ReasonMissingExtremaTime,
					Day:    day,
					Detail: `{"fallback":"day_open"}`,
				})
			}
		}

		ws, we := p.Window(day, in.FirstDay, tf)

		if cur == nil || !ws.Equal(cur.windowStart) {
			if closedOnly {
				finishClosed()
				cur = newBarAgg(0, ws, we, in.FirstDay, p.AllowsPartialStart())
			} else {
				cur = newBarAgg(nextSeq, ws, we, in.FirstDay, p.AllowsPartialStart())
				nextSeq++
			}
		}

		cur.apply(row)

		if !closedOnly {
			emit(cur.snapshot(in.EntityID, tf.ID, now), day)
		}
	}

	if closedOnly {
		finishClosed()
	}

	return res
}
