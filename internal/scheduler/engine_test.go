package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// fakeClock returns a controlled date-time.
type fakeClock struct {
	dt DateTime
}

func (c *fakeClock) Now() DateTime { return c.dt }

// fakeAudio collects triggered paths.
type fakeAudio struct {
	busy    bool
	failing bool
	played  []string
}

func (a *fakeAudio) Play(path string) error {
	a.played = append(a.played, path)
	if a.failing {
		return errors.New("i2s underrun")
	}
	return nil
}

func (a *fakeAudio) Busy() bool { return a.busy }

// at builds a DateTime for the given instant, deriving the clock-native
// weekday the way a real clock would report it.
func at(year, month, day, hour, minute int) DateTime {
	iso := ISOWeekdayOf(year, month, day)
	wd := time.Weekday(iso)
	if iso == 7 {
		wd = time.Sunday
	}
	return DateTime{
		Year: year, Month: month, Day: day,
		Weekday: wd, Hour: hour, Minute: minute,
	}
}

func newTestEngine(t *testing.T, memos ...memolib.Memo) (*Engine, *memolib.StorageRoot, *fakeAudio) {
	t.Helper()
	storage := memolib.NewMemStorage()
	mf := memolib.MemoFile{Version: 1, Items: memos}
	if err := storage.WriteRecord(memolib.MemoRecordName, mf); err != nil {
		t.Fatalf("write memo record: %v", err)
	}
	audio := &fakeAudio{}
	e := New(storage, &fakeClock{}, audio, logger.NewNopLogger())
	return e, storage, audio
}

func oneShot(id, date, clock string) memolib.Memo {
	return memolib.Memo{MemoID: id, StartDate: date, Time: clock, AudioFile: id + ".mp3"}
}

func recurring(id, date, clock string, r memolib.Recurrence) memolib.Memo {
	m := oneShot(id, date, clock)
	m.Recurrence = &r
	return m
}

func TestEngine_OneShotFiresExactlyOnce(t *testing.T) {
	e, _, audio := newTestEngine(t, oneShot("m1", "2026-02-20", "10:00"))

	e.TickAt(at(2026, 2, 20, 9, 59))
	if len(audio.played) != 0 {
		t.Fatal("must not fire before the instant")
	}
	e.TickAt(at(2026, 2, 20, 10, 0))
	if len(audio.played) != 1 || audio.played[0] != "audio/m1.mp3" {
		t.Fatalf("expected one firing, got %v", audio.played)
	}
	// Later ticks, including a clock adjustment revisiting the minute.
	e.TickAt(at(2026, 2, 20, 10, 1))
	e.TickAt(at(2026, 2, 20, 10, 0))
	e.TickAt(at(2026, 2, 21, 10, 0))
	if len(audio.played) != 1 {
		t.Errorf("one-shot fired %d times", len(audio.played))
	}
}

func TestEngine_TickDedupPerMinute(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("h", "2026-02-01", "00:00", memolib.Recurrence{Frequency: memolib.FreqHourly}))

	now := at(2026, 2, 10, 14, 0)
	for i := 0; i < 5; i++ {
		now.Second = i * 10
		e.TickAt(now)
	}
	if len(audio.played) != 1 {
		t.Errorf("expected one firing within the minute, got %d", len(audio.played))
	}
}

func TestEngine_DailyIntervalExactDates(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("d", "2026-02-01", "10:00", memolib.Recurrence{
			Frequency: memolib.FreqDaily, Interval: 2,
		}))

	fires := func(y, m, d int) bool {
		before := len(audio.played)
		e.TickAt(at(y, m, d, 10, 0))
		return len(audio.played) > before
	}

	tests := []struct {
		y, m, d int
		want    bool
	}{
		{2026, 2, 1, true},
		{2026, 2, 2, false},
		{2026, 2, 3, true},
		{2026, 3, 2, false}, // day 29 from start, odd offset
		{2026, 3, 3, true},  // day 30 from start
	}
	for _, tc := range tests {
		if got := fires(tc.y, tc.m, tc.d); got != tc.want {
			t.Errorf("%d-%02d-%02d: fired=%v, want %v", tc.y, tc.m, tc.d, got, tc.want)
		}
	}
}

func TestEngine_DailyRequiresTimeMatch(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("d", "2026-02-01", "10:00", memolib.Recurrence{Frequency: memolib.FreqDaily}))
	e.TickAt(at(2026, 2, 1, 10, 1))
	e.TickAt(at(2026, 2, 1, 11, 0))
	if len(audio.played) != 0 {
		t.Errorf("fired without a time match: %v", audio.played)
	}
}

func TestEngine_WeeklyByWeekday(t *testing.T) {
	// Start on Sunday 2026-02-01, fire on Mondays at 10:02.
	e, _, audio := newTestEngine(t,
		recurring("w", "2026-02-01", "10:02", memolib.Recurrence{
			Frequency: memolib.FreqWeekly, ByWeekday: []int{1},
		}))

	e.TickAt(at(2026, 2, 23, 10, 2)) // Monday
	if len(audio.played) != 1 {
		t.Errorf("expected a firing on Monday 2026-02-23, got %v", audio.played)
	}
	e.TickAt(at(2026, 2, 24, 10, 2)) // Tuesday
	if len(audio.played) != 1 {
		t.Errorf("must not fire on Tuesday, got %v", audio.played)
	}
}

func TestEngine_WeeklyInterval(t *testing.T) {
	// Start on Monday 2026-02-02, every second week.
	e, _, audio := newTestEngine(t,
		recurring("w", "2026-02-02", "08:00", memolib.Recurrence{
			Frequency: memolib.FreqWeekly, Interval: 2,
		}))

	tests := []struct {
		d    int
		want int
	}{
		{2, 1},  // week 0
		{9, 1},  // week 1: odd, skipped
		{16, 2}, // week 2
	}
	for _, tc := range tests {
		e.TickAt(at(2026, 2, tc.d, 8, 0))
		if len(audio.played) != tc.want {
			t.Errorf("2026-02-%02d: total firings %d, want %d", tc.d, len(audio.played), tc.want)
		}
	}
}

func TestEngine_MonthlyByMonthDay(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("m", "2026-01-20", "09:00", memolib.Recurrence{
			Frequency: memolib.FreqMonthly, ByMonthDay: []int{20},
		}))

	e.TickAt(at(2026, 2, 20, 9, 0))
	e.TickAt(at(2026, 2, 21, 9, 0))
	e.TickAt(at(2026, 3, 20, 9, 0))
	if len(audio.played) != 2 {
		t.Errorf("expected firings on the 20th only, got %v", audio.played)
	}
}

func TestEngine_MonthlyGuardsNonexistentDay(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("m", "2026-01-31", "09:00", memolib.Recurrence{
			Frequency: memolib.FreqMonthly, ByMonthDay: []int{31},
		}))

	// A misbehaving clock reporting April 31st must not fire or crash.
	now := at(2026, 4, 30, 9, 0)
	now.Day = 31
	e.TickAt(now)
	if len(audio.played) != 0 {
		t.Errorf("fired on a nonexistent date: %v", audio.played)
	}
}

func TestEngine_HourlyIntervalAnchoredAtStart(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("h", "2026-02-01", "09:30", memolib.Recurrence{
			Frequency: memolib.FreqHourly, Interval: 2,
		}))

	tests := []struct {
		h, min int
		want   int
	}{
		{9, 30, 1},  // hour 0
		{10, 30, 1}, // odd hour offset
		{11, 30, 2}, // hour 2
		{12, 0, 2},  // minute mismatch
	}
	for _, tc := range tests {
		e.TickAt(at(2026, 2, 1, tc.h, tc.min))
		if len(audio.played) != tc.want {
			t.Errorf("%02d:%02d: total firings %d, want %d", tc.h, tc.min, len(audio.played), tc.want)
		}
	}
}

func TestEngine_CountCapsFirings(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("c", "2026-02-01", "10:00", memolib.Recurrence{
			Frequency: memolib.FreqDaily, Count: 2,
		}))

	for d := 1; d <= 5; d++ {
		e.TickAt(at(2026, 2, d, 10, 0))
	}
	if len(audio.played) != 2 {
		t.Errorf("count=2 memo fired %d times", len(audio.played))
	}
}

func TestEngine_UntilIsInclusive(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("u", "2026-02-01", "10:00", memolib.Recurrence{
			Frequency: memolib.FreqDaily, Until: "2026-02-03",
		}))

	for d := 1; d <= 5; d++ {
		e.TickAt(at(2026, 2, d, 10, 0))
	}
	if len(audio.played) != 3 {
		t.Errorf("expected firings through the until date, got %d", len(audio.played))
	}
}

func TestEngine_BusyAudioSkipsWithoutCounting(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("c", "2026-02-01", "10:00", memolib.Recurrence{
			Frequency: memolib.FreqDaily, Count: 1,
		}))

	audio.busy = true
	e.TickAt(at(2026, 2, 1, 10, 0))
	if len(audio.played) != 0 {
		t.Fatal("busy audio must not be triggered")
	}

	// The skipped firing did not consume the count.
	audio.busy = false
	e.TickAt(at(2026, 2, 2, 10, 0))
	if len(audio.played) != 1 {
		t.Errorf("expected the next matching minute to fire, got %v", audio.played)
	}
}

func TestEngine_PlaybackErrorStillCounts(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("c", "2026-02-01", "10:00", memolib.Recurrence{
			Frequency: memolib.FreqDaily, Count: 1,
		}))

	audio.failing = true
	e.TickAt(at(2026, 2, 1, 10, 0))
	e.TickAt(at(2026, 2, 2, 10, 0))
	if len(audio.played) != 1 {
		t.Errorf("a failed attempt still consumes the count, got %d attempts", len(audio.played))
	}
}

func TestEngine_NothingFiresBeforeStartDate(t *testing.T) {
	e, _, audio := newTestEngine(t,
		recurring("d", "2026-02-10", "10:00", memolib.Recurrence{Frequency: memolib.FreqDaily}))
	e.TickAt(at(2026, 2, 9, 10, 0))
	if len(audio.played) != 0 {
		t.Errorf("fired before start date: %v", audio.played)
	}
}

func TestEngine_MissingRecordMeansNoMemos(t *testing.T) {
	storage := memolib.NewMemStorage()
	e := New(storage, &fakeClock{}, &fakeAudio{}, logger.NewNopLogger())
	if len(e.Memos()) != 0 {
		t.Error("expected no memos from a missing record")
	}
	e.TickAt(at(2026, 2, 1, 10, 0)) // must not panic
}

func TestEngine_StateSurvivesRestart(t *testing.T) {
	e, storage, audio := newTestEngine(t, oneShot("m1", "2026-02-20", "10:00"))
	e.TickAt(at(2026, 2, 20, 10, 0))
	if len(audio.played) != 1 {
		t.Fatal("expected the one-shot to fire")
	}

	// A new engine over the same storage must honor the latch.
	audio2 := &fakeAudio{}
	e2 := New(storage, &fakeClock{}, audio2, logger.NewNopLogger())
	e2.TickAt(at(2026, 2, 20, 10, 0))
	if len(audio2.played) != 0 {
		t.Error("one-shot refired after restart")
	}
}

func TestEngine_ReloadPrunesStateOfRemovedMemos(t *testing.T) {
	e, storage, audio := newTestEngine(t, oneShot("m1", "2026-02-20", "10:00"))
	e.TickAt(at(2026, 2, 20, 10, 0))
	if len(audio.played) != 1 {
		t.Fatal("expected the one-shot to fire")
	}

	// Sync a record that keeps m1: the latch must survive the reload.
	mf := memolib.MemoFile{Version: 1, Items: []memolib.Memo{oneShot("m1", "2026-02-20", "10:00")}}
	if err := storage.WriteRecord(memolib.MemoRecordName, mf); err != nil {
		t.Fatal(err)
	}
	e.Reload()
	e.TickAt(at(2026, 2, 20, 10, 1))
	e.TickAt(at(2026, 2, 20, 10, 0))
	if len(audio.played) != 1 {
		t.Error("reload must preserve the one-shot latch for surviving memos")
	}

	// A record omitting m1 destroys it, state included.
	if err := storage.WriteRecord(memolib.MemoRecordName, memolib.MemoFile{Version: 1}); err != nil {
		t.Fatal(err)
	}
	e.Reload()
	if len(e.Memos()) != 0 {
		t.Error("expected the memo to be removed by reload")
	}
}

func TestEngine_MemosReportTriggerCounts(t *testing.T) {
	e, _, _ := newTestEngine(t,
		recurring("d", "2026-02-01", "10:00", memolib.Recurrence{Frequency: memolib.FreqDaily}))
	e.TickAt(at(2026, 2, 1, 10, 0))
	e.TickAt(at(2026, 2, 2, 10, 0))

	memos := e.Memos()
	if len(memos) != 1 || memos[0].TriggerCount != 2 {
		t.Errorf("expected trigger count 2, got %+v", memos)
	}
}
