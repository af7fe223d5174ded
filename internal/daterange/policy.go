package daterange

import (
	"fmt"
	"time"
)

// InvalidRangeError reports a caller range the provider would reject.
type InvalidRangeError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range [%s, %s]: %s", e.From, e.To, e.Reason)
}

// Range is an inclusive span of UTC calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days the range includes.
func (r Range) Days() int {
	return DaysBetween(r.From, r.To) + 1
}

// Format renders both ends with layout.
func (r Range) Format(layout string) (string, string) {
	return r.From.Format(layout), r.To.Format(layout)
}

func (r Range) String() string {
	return r.From.Format(ISOLayout) + ".." + r.To.Format(ISOLayout)
}

// Anchor selects how a default range is placed.
type Anchor string

const (
	// AnchorYesterday yields [today-1, today-1].
	AnchorYesterday Anchor = "yesterday"
	// AnchorSpan yields [today-maxDays, today-1].
	AnchorSpan Anchor = "span"
)

// EnsureOptions tunes Ensure.
type EnsureOptions struct {
	EnforceRecency bool
	Now            func() time.Time
}

// Ensure parses and validates a caller range. The difference to-from may
// be at most maxDays, so maxDays+1 calendar days are allowed. With
// EnforceRecency the start may not precede today-maxDays.
func Ensure(from, to string, maxDays int, opts EnsureOptions) (Range, error) {
	start, err := ParseDay(from)
	if err != nil {
		return Range{}, &InvalidRangeError{From: from, To: to, Reason: "unparseable start date"}
	}
	end, err := ParseDay(to)
	if err != nil {
		return Range{}, &InvalidRangeError{From: from, To: to, Reason: "unparseable end date"}
	}
	if end.Before(start) {
		return Range{}, &InvalidRangeError{From: from, To: to, Reason: "end date precedes start date"}
	}
	if DaysBetween(start, end) > maxDays {
		return Range{}, &InvalidRangeError{
			From: from, To: to,
			Reason: fmt.Sprintf("range cannot exceed %d days", maxDays+1),
		}
	}
	if opts.EnforceRecency {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		floor := AddDays(Day(now()), -maxDays)
		if start.Before(floor) {
			return Range{}, &InvalidRangeError{
				From: from, To: to,
				Reason: fmt.Sprintf("start date cannot precede %s", floor.Format(ISOLayout)),
			}
		}
	}
	return Range{From: start, To: end}, nil
}

// Default computes the range used when a caller supplies none. It never
// starts before today-maxDays and never ends before it starts.
func Default(now time.Time, maxDays int, anchor Anchor) Range {
	today := Day(now)
	yesterday := AddDays(today, -1)
	floor := AddDays(today, -maxDays)

	r := Range{From: yesterday, To: yesterday}
	if anchor == AnchorSpan {
		r.From = floor
	}
	if r.From.Before(floor) {
		r.From = floor
	}
	if r.To.Before(r.From) {
		r.To = r.From
	}
	return r
}

// Policy bundles one provider's range rules.
type Policy struct {
	MaxDays        int
	EnforceRecency bool
	Anchor         Anchor
	// Layout is the provider's wire date layout.
	Layout string
	Now    func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Today returns the policy clock's UTC calendar day.
func (p Policy) Today() time.Time {
	return Day(p.now())
}

// Default returns the provider's default range.
func (p Policy) Default() Range {
	return Default(p.now(), p.MaxDays, p.Anchor)
}

// Ensure validates a caller range under this policy.
func (p Policy) Ensure(from, to string) (Range, error) {
	return Ensure(from, to, p.MaxDays, EnsureOptions{EnforceRecency: p.EnforceRecency, Now: p.Now})
}

// Resolve fills a missing endpoint from the default range and validates
// the result.
func (p Policy) Resolve(from, to string) (Range, error) {
	def := p.Default()
	if from == "" {
		from = def.From.Format(ISOLayout)
	}
	if to == "" {
		to = def.To.Format(ISOLayout)
	}
	return p.Ensure(from, to)
}

// Floor returns the earliest start the provider accepts, or the zero time
// when recency is not enforced.
func (p Policy) Floor() time.Time {
	if !p.EnforceRecency {
		return time.Time{}
	}
	return AddDays(p.Today(), -p.MaxDays)
}

// ClampStart moves start up to the recency floor. clamped reports whether
// days before the floor were dropped.
func (p Policy) ClampStart(start time.Time) (_ time.Time, clamped bool) {
	floor := p.Floor()
	if !floor.IsZero() && Day(start).Before(floor) {
		return floor, true
	}
	return start, false
}

// Windows sequences [start, today-1] into windows of at most MaxDays+1 days.
func (p Policy) Windows(start time.Time) *Windows {
	return Sequence(p.now(), start, p.MaxDays)
}
