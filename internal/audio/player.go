// Package audio owns playback state for the talking box. The actual
// sample path (I2S, DAC) sits behind the Sink interface; this package
// provides the guarded play/pause/stop object shared between the
// polling loop and the playback goroutine.
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/memobox/memobox/pkg/logger"
	"github.com/memobox/memobox/pkg/memolib"
)

// ErrBusy is returned when playback is requested while another asset is
// already playing or paused.
var ErrBusy = errors.New("playback already in progress")

// streamChunkSize is the buffer granularity of the playback loop, small
// enough to keep pause/stop latency tight.
const streamChunkSize = 4 * int(memolib.KB)

// PlaybackState is the lifecycle state of the audio path.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// String returns a human-readable state name.
func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Source opens stored audio by its storage path.
type Source interface {
	Open(path string) (io.ReadCloser, error)
}

// StorageSource adapts a StorageRoot to the Source interface.
type StorageSource struct {
	Root *memolib.StorageRoot
}

// Open opens the asset at the given in-root path.
func (s StorageSource) Open(path string) (io.ReadCloser, error) {
	return s.Root.OpenPath(path)
}

// Sink is the write-only audio device capability. Writes are small and
// bounded; implementations may block until the device accepts the data.
type Sink interface {
	io.Writer
}

// volumeSink is implemented by sinks with hardware volume control.
type volumeSink interface {
	SetVolume(percent int) error
}

// Player streams assets from a Source into a Sink on a background
// goroutine. All state is behind one mutex: the polling loop reads it
// through Busy/State while the playback goroutine advances it.
type Player struct {
	mu     sync.Mutex
	src    Source
	sink   Sink
	log    logger.Logger
	state  PlaybackState
	volume int
	stop   chan struct{}
}

// NewPlayer creates a stopped player at full volume.
func NewPlayer(src Source, sink Sink, log logger.Logger) *Player {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Player{src: src, sink: sink, log: log, volume: 100}
}

// State returns the current playback state.
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Busy reports whether the audio path is unavailable for a new trigger.
func (p *Player) Busy() bool {
	return p.State() != StateStopped
}

// Volume returns the configured output volume in percent.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetVolume clamps and stores the output volume, forwarding it to the
// sink when the hardware supports it.
func (p *Player) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	p.volume = percent
	sink := p.sink
	p.mu.Unlock()
	if vs, ok := sink.(volumeSink); ok {
		if err := vs.SetVolume(percent); err != nil {
			p.log.Warning("audio: sink rejected volume %d: %v", percent, err)
		}
	}
}

// Play starts streaming the asset at path. It returns ErrBusy while a
// previous playback is still in progress; callers decide whether to
// skip (the scheduler does) or retry.
func (p *Player) Play(path string) error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return ErrBusy
	}
	f, err := p.src.Open(path)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("open %s: %w", path, err)
	}
	p.state = StatePlaying
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	go p.stream(path, f, stop)
	return nil
}

// stream is the playback goroutine: copy in small chunks, honoring
// pause and stop between chunks.
func (p *Player) stream(path string, f io.ReadCloser, stop chan struct{}) {
	defer func() {
		f.Close()
		p.mu.Lock()
		p.state = StateStopped
		p.stop = nil
		p.mu.Unlock()
	}()

	buf := make([]byte, streamChunkSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if p.State() == StatePaused {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := p.sink.Write(buf[:n]); werr != nil {
				p.log.Error("audio: sink write failed for %s: %v", path, werr)
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			p.log.Error("audio: read failed for %s: %v", path, err)
			return
		}
	}
}

// Pause suspends playback between chunks. No-op unless playing.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePlaying {
		p.state = StatePaused
	}
}

// Resume continues paused playback. No-op unless paused.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StatePlaying
	}
}

// Stop aborts playback. The playback goroutine observes the stop signal
// at its next chunk boundary. No-op when already stopped.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped || p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}
