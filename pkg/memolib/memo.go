package memolib

import (
	"encoding/json"
	"fmt"
)

// Frequency is the recurrence frequency of a memo.
type Frequency string

const (
	FreqHourly  Frequency = "HOURLY"
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
)

// valid reports whether the frequency is one the scheduler understands.
func (f Frequency) valid() bool {
	switch f {
	case FreqHourly, FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// Recurrence is the declarative recurrence rule of a memo.
type Recurrence struct {
	Frequency Frequency `json:"frequency"`
	// Interval between occurrences in frequency units. Defaults to 1.
	Interval int `json:"interval,omitempty"`
	// Count caps the lifetime number of firings. Zero means uncapped.
	Count int `json:"count,omitempty"`
	// Until is the inclusive end date (YYYY-MM-DD). Empty means open-ended.
	Until string `json:"until,omitempty"`
	// ByWeekday filters WEEKLY firings, 1=Monday .. 7=Sunday.
	ByWeekday []int `json:"byWeekday,omitempty"`
	// ByMonthDay filters MONTHLY firings, 1..31.
	ByMonthDay []int `json:"byMonthDay,omitempty"`
}

// Memo is one scheduled audio-playback instruction. Identity is MemoID,
// unique across the schedule record.
type Memo struct {
	MemoID    string `json:"memoId"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message,omitempty"`
	StartDate string `json:"startDate"` // YYYY-MM-DD
	Time      string `json:"time"`      // HH:MM, local
	// Recurrence is nil for a one-shot memo.
	Recurrence *Recurrence `json:"recurrence"`
	AudioFile  string      `json:"audioFile"`
	// TriggerCount is the number of successful firings so far. Mutated by
	// the schedule engine, written back through the record path.
	TriggerCount int `json:"triggerCount,omitempty"`
}

// MemoFile is the schedule record synced from the companion app.
type MemoFile struct {
	Version        int    `json:"version"`
	GeneratedAt    string `json:"generatedAt,omitempty"`
	DeviceTimeZone string `json:"deviceTimeZone,omitempty"`
	Items          []Memo `json:"items"`
}

// MemoFileVersion is the schema version this firmware writes and the
// minimum it accepts.
const MemoFileVersion = 1

// ParseMemoFile decodes and normalizes a schedule record. Unknown JSON
// fields are ignored; items missing an identity or carrying an
// unrecognized recurrence frequency are dropped rather than guessed at.
func ParseMemoFile(raw []byte) (*MemoFile, error) {
	var mf MemoFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("memo record: %w", err)
	}
	if mf.Version < MemoFileVersion {
		return nil, fmt.Errorf("memo record: unsupported version %d", mf.Version)
	}
	mf.Normalize()
	return &mf, nil
}

// Normalize applies deterministic defaults and drops malformed entries:
// duplicate or empty memo IDs, unparsable dates, unknown frequencies and
// out-of-range filter values.
func (mf *MemoFile) Normalize() {
	seen := make(map[string]struct{}, len(mf.Items))
	items := mf.Items[:0]
	for i := range mf.Items {
		m := mf.Items[i]
		if m.MemoID == "" || m.AudioFile == "" {
			continue
		}
		if _, dup := seen[m.MemoID]; dup {
			continue
		}
		if _, _, _, ok := ParseDate(m.StartDate); !ok {
			continue
		}
		if _, _, ok := ParseClock(m.Time); !ok {
			continue
		}
		if m.Recurrence != nil {
			r := *m.Recurrence
			if !r.Frequency.valid() {
				continue
			}
			if r.Interval < 1 {
				r.Interval = 1
			}
			if r.Count < 0 {
				r.Count = 0
			}
			if r.Until != "" {
				if _, _, _, ok := ParseDate(r.Until); !ok {
					r.Until = ""
				}
			}
			r.ByWeekday = filterRange(r.ByWeekday, 1, 7)
			r.ByMonthDay = filterRange(r.ByMonthDay, 1, 31)
			m.Recurrence = &r
		}
		if m.TriggerCount < 0 {
			m.TriggerCount = 0
		}
		seen[m.MemoID] = struct{}{}
		items = append(items, m)
	}
	mf.Items = items
}

// filterRange keeps values within [lo, hi], preserving order.
func filterRange(vals []int, lo, hi int) []int {
	if len(vals) == 0 {
		return nil
	}
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseDate parses a YYYY-MM-DD calendar date. It rejects dates that do
// not exist, like February 30th.
func ParseDate(s string) (year, month, day int, ok bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return 0, 0, 0, false
	}
	year, ok1 := atoi(s[:4])
	month, ok2 := atoi(s[5:7])
	day, ok3 := atoi(s[8:])
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	if month < 1 || month > 12 || day < 1 || day > DaysInMonth(year, month) {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

// ParseClock parses a HH:MM local time of day.
func ParseClock(s string) (hour, minute int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	hour, ok1 := atoi(s[:2])
	minute, ok2 := atoi(s[3:])
	if !ok1 || !ok2 || hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// atoi parses a small non-negative decimal without the stdlib's
// sign/whitespace tolerance: every byte must be a digit.
func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var monthDays = [13]int{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year, month int) int {
	if month == 2 && IsLeapYear(year) {
		return 29
	}
	if month < 1 || month > 12 {
		return 0
	}
	return monthDays[month]
}
