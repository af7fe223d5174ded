package daterange

import (
	"iter"
	"time"

	"github.com/pharmalink/provider-sync/internal/model"
)

// Windows lazily yields consecutive, non-overlapping ranges covering
// [start, today-1]. Each range spans at most maxDays+1 days.
type Windows struct {
	start time.Time
	last  time.Time
	span  int
	cur   time.Time
}

// Sequence builds the window iterator for start relative to now. It is
// empty when start is after yesterday.
func Sequence(now, start time.Time, maxDays int) *Windows {
	if maxDays < 0 {
		maxDays = 0
	}
	s := Day(start)
	return &Windows{
		start: s,
		last:  AddDays(Day(now), -1),
		span:  maxDays,
		cur:   s,
	}
}

// Next returns the next window, or false when the sequence is exhausted.
func (w *Windows) Next() (Range, bool) {
	if w.cur.After(w.last) {
		return Range{}, false
	}
	end := AddDays(w.cur, w.span)
	if end.After(w.last) {
		end = w.last
	}
	r := Range{From: w.cur, To: end}
	w.cur = AddDays(end, 1)
	return r, true
}

// Reset rewinds the iterator to its start.
func (w *Windows) Reset() {
	w.cur = w.start
}

// Empty reports whether the sequence yields nothing.
func (w *Windows) Empty() bool {
	return w.start.After(w.last)
}

// All iterates every window from the start without disturbing Next.
func (w *Windows) All() iter.Seq[Range] {
	return func(yield func(Range) bool) {
		it := &Windows{start: w.start, last: w.last, span: w.span, cur: w.start}
		for r, ok := it.Next(); ok; r, ok = it.Next() {
			if !yield(r) {
				return
			}
		}
	}
}

// Collect materializes the sequence.
func (w *Windows) Collect() []Range {
	var out []Range
	for r := range w.All() {
		out = append(out, r)
	}
	return out
}

// NextStart returns the day after the latest stored record, or fallback
// when nothing is stored yet.
func NextStart(records []model.Record, fallback time.Time) time.Time {
	latest, ok := model.Latest(records)
	if !ok {
		return Day(fallback)
	}
	return AddDays(Day(latest), 1)
}
