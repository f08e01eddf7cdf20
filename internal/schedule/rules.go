package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type AppointmentType string

const (
	TypeRegularCheckup      AppointmentType = "regular_checkup"
	TypeInitialConsultation AppointmentType = "initial_consultation"
	TypeFollowUp            AppointmentType = "follow_up"
	TypeEmergency           AppointmentType = "emergency"
	TypeDeepCleaning        AppointmentType = "deep_cleaning"
	TypeFilling             AppointmentType = "filling"
	TypeCrown               AppointmentType = "crown"
	TypeExtraction          AppointmentType = "extraction"
)

var ErrUnknownType = errors.New("unknown appointment type")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// DayHours holds a weekday's opening window as minutes from midnight.
// A closed day has Open == Close == 0.
type DayHours struct {
	Open  int
	Close int
}

func (h DayHours) closed() bool { return h.Open == h.Close }

// Rules is the clinic calendar: weekday hours, the lunch exclusion window,
// holidays, and the appointment type to duration table. Values are immutable
// after load; every method is a pure function of the receiver.
type Rules struct {
	Hours      map[time.Weekday]DayHours
	LunchStart int
	LunchEnd   int
	Holidays   map[string]bool // keyed YYYY-MM-DD
	Durations  map[AppointmentType]time.Duration
}

// Default returns the clinic rules shipped with the service: open 08:00-17:00
// Monday through Friday, 09:00-14:00 Saturday, closed Sunday, lunch
// 12:00-13:00.
func Default() Rules {
	weekday := DayHours{Open: 8 * 60, Close: 17 * 60}
	return Rules{
		Hours: map[time.Weekday]DayHours{
			time.Monday:    weekday,
			time.Tuesday:   weekday,
			time.Wednesday: weekday,
			time.Thursday:  weekday,
			time.Friday:    weekday,
			time.Saturday:  {Open: 9 * 60, Close: 14 * 60},
		},
		LunchStart: 12 * 60,
		LunchEnd:   13 * 60,
		Holidays:   map[string]bool{},
		Durations: map[AppointmentType]time.Duration{
			TypeRegularCheckup:      60 * time.Minute,
			TypeInitialConsultation: 90 * time.Minute,
			TypeFollowUp:            30 * time.Minute,
			TypeEmergency:           45 * time.Minute,
			TypeDeepCleaning:        90 * time.Minute,
			TypeFilling:             60 * time.Minute,
			TypeCrown:               120 * time.Minute,
			TypeExtraction:          60 * time.Minute,
		},
	}
}

// Duration returns the frozen duration for an appointment type.
func (r Rules) Duration(t AppointmentType) (time.Duration, error) {
	d, ok := r.Durations[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return d, nil
}

func (r Rules) IsHoliday(day time.Time) bool {
	return r.Holidays[day.Format("2006-01-02")]
}

// OpenIntervals returns the bookable window(s) of the given day: the weekday
// open/close interval minus the lunch break. Zero intervals on closed days
// and holidays, two when lunch splits the day.
func (r Rules) OpenIntervals(day time.Time) []Interval {
	if r.IsHoliday(day) {
		return nil
	}
	hours, ok := r.Hours[day.Weekday()]
	if !ok || hours.closed() {
		return nil
	}

	open := atMinute(day, hours.Open)
	close := atMinute(day, hours.Close)
	full := Interval{Start: open, End: close}

	lunch := Interval{Start: atMinute(day, r.LunchStart), End: atMinute(day, r.LunchEnd)}
	if r.LunchStart >= r.LunchEnd || !full.Overlaps(lunch) {
		return []Interval{full}
	}

	var out []Interval
	if lunch.Start.After(full.Start) {
		out = append(out, Interval{Start: full.Start, End: lunch.Start})
	}
	if lunch.End.Before(full.End) {
		out = append(out, Interval{Start: lunch.End, End: full.End})
	}
	return out
}

func atMinute(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, day.Location())
}

// rulesFile mirrors the clinic availability config layout.
type rulesFile struct {
	ClinicHours map[string]struct {
		Open  string `json:"open"`
		Close string `json:"close"`
	} `json:"clinic_hours"`
	AppointmentTypes map[string]struct {
		Duration    int    `json:"duration"`
		Description string `json:"description"`
	} `json:"appointment_types"`
	TimeSlotRules struct {
		LunchBreak struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"lunch_break"`
	} `json:"time_slot_rules"`
	Holidays []string `json:"holidays"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadFile reads clinic rules from a JSON config file. Fields absent from the
// file fall back to the defaults.
func LoadFile(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read clinic rules: %w", err)
	}

	var f rulesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Rules{}, fmt.Errorf("parse clinic rules: %w", err)
	}

	rules := Default()

	if len(f.ClinicHours) > 0 {
		hours := make(map[time.Weekday]DayHours, len(f.ClinicHours))
		for name, h := range f.ClinicHours {
			wd, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return Rules{}, fmt.Errorf("clinic rules: unknown weekday %q", name)
			}
			if strings.EqualFold(h.Open, "closed") || h.Open == "" {
				continue
			}
			open, err := parseClock(h.Open)
			if err != nil {
				return Rules{}, fmt.Errorf("clinic rules: %s open: %w", name, err)
			}
			close, err := parseClock(h.Close)
			if err != nil {
				return Rules{}, fmt.Errorf("clinic rules: %s close: %w", name, err)
			}
			hours[wd] = DayHours{Open: open, Close: close}
		}
		rules.Hours = hours
	}

	if len(f.AppointmentTypes) > 0 {
		durations := make(map[AppointmentType]time.Duration, len(f.AppointmentTypes))
		for name, t := range f.AppointmentTypes {
			if t.Duration <= 0 {
				return Rules{}, fmt.Errorf("clinic rules: type %q has non-positive duration", name)
			}
			durations[AppointmentType(name)] = time.Duration(t.Duration) * time.Minute
		}
		rules.Durations = durations
	}

	if f.TimeSlotRules.LunchBreak.Start != "" {
		start, err := parseClock(f.TimeSlotRules.LunchBreak.Start)
		if err != nil {
			return Rules{}, fmt.Errorf("clinic rules: lunch start: %w", err)
		}
		end, err := parseClock(f.TimeSlotRules.LunchBreak.End)
		if err != nil {
			return Rules{}, fmt.Errorf("clinic rules: lunch end: %w", err)
		}
		rules.LunchStart = start
		rules.LunchEnd = end
	}

	rules.Holidays = make(map[string]bool, len(f.Holidays))
	for _, h := range f.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return Rules{}, fmt.Errorf("clinic rules: holiday %q: %w", h, err)
		}
		rules.Holidays[h] = true
	}

	return rules, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
