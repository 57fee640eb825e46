package scheduler

import "time"

// DateTime is one reading of the device clock, in local time. Weekday
// carries the clock's native numbering (Go's time.Weekday, 0=Sunday);
// the engine converts it to the 1=Monday..7=Sunday convention the memo
// schema uses.
type DateTime struct {
	Year    int
	Month   int
	Day     int
	Weekday time.Weekday
	Hour    int
	Minute  int
	Second  int
}

// ISOWeekday converts the clock-native weekday to 1=Monday..7=Sunday.
func (dt DateTime) ISOWeekday() int {
	if dt.Weekday == time.Sunday {
		return 7
	}
	return int(dt.Weekday)
}

// FromTime converts a wall-clock reading to a DateTime.
func FromTime(t time.Time) DateTime {
	return DateTime{
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Weekday: t.Weekday(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Second:  t.Second(),
	}
}

// Clock is the capability the engine needs from the real-time clock:
// read the current local date and time, nothing else.
type Clock interface {
	Now() DateTime
}

// SystemClock reads the host clock. The device build points this at the
// battery-backed RTC; local time is assumed throughout.
type SystemClock struct{}

// Now returns the current local date and time.
func (SystemClock) Now() DateTime {
	return FromTime(time.Now())
}

// AudioTrigger is the capability the engine needs from the audio
// subsystem: start playback of a stored asset, and report whether the
// audio path is busy.
type AudioTrigger interface {
	// Play starts playback of the asset at the given storage path.
	Play(path string) error
	// Busy reports whether playback is unavailable or already running.
	Busy() bool
}
