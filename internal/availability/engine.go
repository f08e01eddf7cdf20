// Package availability computes bookable start times for a resource's day.
// Everything here is a pure function of the clinic rules, the caller-supplied
// booked intervals, and the request; no state is held between calls.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/dentalops/clinic-scheduler/internal/schedule"
)

// Policy controls how candidate start times are aligned inside a free
// sub-interval. The zero value aligns starts to the appointment duration
// measured from the sub-interval's beginning; a non-zero GridStep uses a
// fixed grid instead (the clinic traditionally offered 15-minute steps).
type Policy struct {
	GridStep time.Duration
}

// Slots returns every start time on the given day at which an appointment of
// the given type fits entirely inside an open sub-interval without touching
// any of the booked intervals. Results are in chronological order.
func Slots(rules schedule.Rules, booked []schedule.Interval, day time.Time, t schedule.AppointmentType, pol Policy) ([]time.Time, error) {
	duration, err := rules.Duration(t)
	if err != nil {
		return nil, err
	}

	step := pol.GridStep
	if step <= 0 {
		step = duration
	}

	var out []time.Time
	for _, open := range rules.OpenIntervals(day) {
		for start := open.Start; !start.Add(duration).After(open.End); start = start.Add(step) {
			candidate := schedule.Interval{Start: start, End: start.Add(duration)}
			if conflicts(candidate, booked) {
				continue
			}
			out = append(out, start)
		}
	}
	return out, nil
}

func conflicts(candidate schedule.Interval, booked []schedule.Interval) bool {
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// Fits reports whether the interval lies entirely inside one of the day's
// open sub-intervals.
func Fits(rules schedule.Rules, iv schedule.Interval) bool {
	for _, open := range rules.OpenIntervals(iv.Start) {
		if open.Contains(iv) {
			return true
		}
	}
	return false
}

// Offer truncates a slot list for presentation to a patient. With a preferred
// time the closest slots win (earlier wins a distance tie); otherwise the
// earliest max slots are kept. The caller's slice is not modified.
func Offer(slots []time.Time, preferred *time.Time, max int) []time.Time {
	if max <= 0 || len(slots) == 0 {
		return nil
	}

	ranked := make([]time.Time, len(slots))
	copy(ranked, slots)

	if preferred != nil {
		sort.SliceStable(ranked, func(i, j int) bool {
			di, dj := distance(ranked[i], *preferred), distance(ranked[j], *preferred)
			if di != dj {
				return di < dj
			}
			return ranked[i].Before(ranked[j])
		})
	}

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}

func distance(t, ref time.Time) time.Duration {
	d := t.Sub(ref)
	if d < 0 {
		return -d
	}
	return d
}

// FormatSlot renders a slot the way the clinic presents it to patients.
func FormatSlot(t time.Time) string {
	return fmt.Sprintf("%s at %s", t.Format("January 2"), t.Format("3:04 PM"))
}
