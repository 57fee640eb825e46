// Package scheduler evaluates memo recurrence rules against the device
// clock and triggers audio playback, exactly once per matching minute.
package scheduler

import (
	"sync"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// StateRecordName is the structured record holding trigger state, kept
// separate from the memo record so the finalize path stays its only
// writer.
const StateRecordName = "schedule_state.json"

// engineState is the persisted trigger state: one-shot latches and
// per-memo trigger counts. It survives restarts so the at-most-once
// and count-cap invariants hold across power cycles.
type engineState struct {
	Version int            `json:"version"`
	Fired   []string       `json:"fired,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// tickKey identifies one wall-clock minute.
type tickKey struct {
	year, month, day, hour, minute int
}

// Engine holds the in-memory memo set and evaluates it on every clock
// tick. It only reads the memo record; the transfer finalize path is the
// record's only writer, so a Reload after a successful sync is all that
// is needed to pick up changes.
type Engine struct {
	mu      sync.Mutex
	storage *memolib.StorageRoot
	clock   Clock
	audio   AudioTrigger
	log     logger.Logger

	memos   []memolib.Memo
	lastKey tickKey
	hasLast bool
	fired   map[string]bool
	counts  map[string]int
}

// New creates an engine, restoring persisted trigger state and loading
// the memo record. A missing or corrupt record simply yields no memos.
func New(storage *memolib.StorageRoot, clock Clock, audio AudioTrigger, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	e := &Engine{
		storage: storage,
		clock:   clock,
		audio:   audio,
		log:     log,
		fired:   make(map[string]bool),
		counts:  make(map[string]int),
	}
	e.restoreState()
	e.Load()
	return e
}

// restoreState reads the persisted trigger state, tolerating absence.
func (e *Engine) restoreState() {
	st := memolib.ReadRecordOrDefault(e.storage, StateRecordName, engineState{Version: 1})
	for _, id := range st.Fired {
		e.fired[id] = true
	}
	for id, n := range st.Counts {
		if n > 0 {
			e.counts[id] = n
		}
	}
}

// saveState persists the trigger state through the atomic record path.
func (e *Engine) saveState() {
	st := engineState{Version: 1, Counts: make(map[string]int, len(e.counts))}
	for id := range e.fired {
		st.Fired = append(st.Fired, id)
	}
	for id, n := range e.counts {
		st.Counts[id] = n
	}
	if err := e.storage.WriteRecord(StateRecordName, st); err != nil {
		e.log.Error("scheduler: cannot persist trigger state: %v", err)
	}
}

// Load reads the memo record into memory. Absent or malformed records
// degrade to an empty memo set; nothing is surfaced.
func (e *Engine) Load() {
	mf := memolib.ReadRecordOrDefault(e.storage, memolib.MemoRecordName, memolib.MemoFile{Version: memolib.MemoFileVersion})
	mf.Normalize()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.memos = mf.Items

	// Trigger state follows memo identity: drop state for memos the
	// fresh record no longer carries, adopt counts the record declares
	// for memos we have no state on.
	current := make(map[string]struct{}, len(e.memos))
	for i := range e.memos {
		m := &e.memos[i]
		current[m.MemoID] = struct{}{}
		if _, ok := e.counts[m.MemoID]; !ok && m.TriggerCount > 0 {
			e.counts[m.MemoID] = m.TriggerCount
		}
	}
	for id := range e.fired {
		if _, ok := current[id]; !ok {
			delete(e.fired, id)
		}
	}
	for id := range e.counts {
		if _, ok := current[id]; !ok {
			delete(e.counts, id)
		}
	}
	e.log.Info("scheduler: %d memo(s) loaded", len(e.memos))
}

// Reload re-reads the memo record. Called after a successful schedule
// sync so updates take effect without a restart.
func (e *Engine) Reload() {
	e.Load()
}

// Memos returns a snapshot of the loaded memos with their live trigger
// counts applied.
func (e *Engine) Memos() []memolib.Memo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]memolib.Memo, len(e.memos))
	copy(out, e.memos)
	for i := range out {
		out[i].TriggerCount = e.counts[out[i].MemoID]
	}
	return out
}

// Tick evaluates all memos against the current clock reading.
func (e *Engine) Tick() {
	e.TickAt(e.clock.Now())
}

// TickAt evaluates all memos against the given clock reading. Repeated
// calls within the same minute are ignored, so a memo fires at most once
// per matching minute however fast the polling loop runs.
func (e *Engine) TickAt(now DateTime) {
	key := tickKey{now.Year, now.Month, now.Day, now.Hour, now.Minute}

	e.mu.Lock()
	if e.hasLast && key == e.lastKey {
		e.mu.Unlock()
		return
	}
	e.lastKey = key
	e.hasLast = true
	memos := make([]memolib.Memo, len(e.memos))
	copy(memos, e.memos)
	e.mu.Unlock()

	var firedAny bool
	for i := range memos {
		if e.evaluate(&memos[i], now) {
			firedAny = e.trigger(&memos[i]) || firedAny
		}
	}

	if firedAny {
		e.mu.Lock()
		e.saveState()
		e.mu.Unlock()
	}
}

// evaluate decides whether a memo matches the given minute. It does not
// consult audio availability; that guard lives in trigger.
func (e *Engine) evaluate(m *memolib.Memo, now DateTime) bool {
	sy, sm, sd, ok := memolib.ParseDate(m.StartDate)
	if !ok {
		return false
	}
	mh, mmin, ok := memolib.ParseClock(m.Time)
	if !ok {
		return false
	}

	nowOrd := OrdinalDay(now.Year, now.Month, now.Day)
	startOrd := OrdinalDay(sy, sm, sd)

	// 1. Nothing fires before its start date.
	if nowOrd < startOrd {
		return false
	}

	// 2. One-shot: the exact start instant, at most once ever.
	if m.Recurrence == nil {
		e.mu.Lock()
		already := e.fired[m.MemoID]
		e.mu.Unlock()
		if already {
			return false
		}
		return nowOrd == startOrd && now.Hour == mh && now.Minute == mmin
	}

	r := m.Recurrence

	// 3. Inclusive end date.
	if r.Until != "" {
		if uy, um, ud, ok := memolib.ParseDate(r.Until); ok {
			if nowOrd > OrdinalDay(uy, um, ud) {
				return false
			}
		}
	}

	// 4. Lifetime cap.
	if r.Count > 0 {
		e.mu.Lock()
		count := e.counts[m.MemoID]
		e.mu.Unlock()
		if count >= r.Count {
			return false
		}
	}

	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	// 5. Frequency dispatch.
	switch r.Frequency {
	case memolib.FreqHourly:
		// Fires whenever the minute matches; the hour component of the
		// memo's time only anchors the interval arithmetic.
		if now.Minute != mmin {
			return false
		}
		hours := (nowOrd-startOrd)*24 + (now.Hour - mh)
		return hours >= 0 && hours%interval == 0

	case memolib.FreqDaily:
		if now.Hour != mh || now.Minute != mmin {
			return false
		}
		return (nowOrd-startOrd)%interval == 0

	case memolib.FreqWeekly:
		if now.Hour != mh || now.Minute != mmin {
			return false
		}
		weeks := WeeksBetween(sy, sm, sd, now.Year, now.Month, now.Day)
		if weeks < 0 || weeks%interval != 0 {
			return false
		}
		return len(r.ByWeekday) == 0 || containsInt(r.ByWeekday, now.ISOWeekday())

	case memolib.FreqMonthly:
		if now.Hour != mh || now.Minute != mmin {
			return false
		}
		// Guard against clock readings naming a day the month does not
		// have, e.g. day 31 in a 30-day month.
		if now.Day > memolib.DaysInMonth(now.Year, now.Month) {
			return false
		}
		months := MonthsBetween(sy, sm, now.Year, now.Month)
		if months%interval != 0 {
			return false
		}
		return len(r.ByMonthDay) == 0 || containsInt(r.ByMonthDay, now.Day)
	}
	return false
}

// trigger starts playback for a firing memo. A busy or unavailable audio
// path silently skips the firing: not queued, not retried, and the
// trigger count moves only together with an actual attempt. Returns
// whether trigger state changed.
func (e *Engine) trigger(m *memolib.Memo) bool {
	if e.audio == nil || e.audio.Busy() {
		e.log.Info("scheduler: audio busy, skipping memo %s", m.MemoID)
		return false
	}
	path := e.storage.ResolveAssetPath(m.AudioFile)
	e.log.Info("scheduler: trigger memo %s -> %s", m.MemoID, path)
	if err := e.audio.Play(path); err != nil {
		e.log.Error("scheduler: playback of %s failed: %v", path, err)
	}

	e.mu.Lock()
	e.counts[m.MemoID]++
	if m.Recurrence == nil {
		e.fired[m.MemoID] = true
	}
	e.mu.Unlock()
	return true
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
