// Package recorder implements the voice-note capture lifecycle:
// Idle → Recording ⇄ Paused → Stopped → Idle.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// State is the recorder lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stream is an open capture handle. Chunks are pushed to the sink given to
// Device.Open.
type Stream interface {
	MimeType() string
	Pause() error
	Resume() error
	// Stop ends capture and returns once the final chunk has been delivered
	// to the sink.
	Stop(ctx context.Context) error
	// Release frees the underlying device. Safe to call more than once.
	Release()
}

// Device opens capture streams. Open fails when the microphone is denied or
// unavailable.
type Device interface {
	Open(ctx context.Context, sink func([]byte)) (Stream, error)
}

// Clip is a finalized recording.
type Clip struct {
	Data            []byte
	MimeType        string
	DurationSeconds int
}

// Snapshot is what observers see after each transition or tick.
type Snapshot struct {
	State          State
	ElapsedSeconds int
}

// Config controls timing.
type Config struct {
	// TickInterval is the duration counter resolution. Zero disables the
	// internal ticker; callers then drive Tick themselves.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// MaxDuration auto-pauses a recording that reaches it. Zero means no limit.
	MaxDuration time.Duration `mapstructure:"max_duration"`
	MimeType    string        `mapstructure:"mime_type"`
}

// Recorder is the voice-note state machine for one conversation.
type Recorder struct {
	device Device
	cfg    Config

	mu        sync.Mutex
	state     State
	starting  bool
	closed    bool
	stream    Stream
	buf       bytes.Buffer
	elapsed   int
	gen       uint64
	tickGen   uint64
	stopTick  chan struct{}
	observers []func(Snapshot)
}

// New creates an idle recorder.
func New(device Device, cfg Config) *Recorder {
	return &Recorder{device: device, cfg: cfg}
}

// OnChange registers an observer.
func (r *Recorder) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the recorded duration in whole seconds.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Start opens the microphone and begins recording. Valid only from Idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: recorder closed", domain.ErrInvalidTransition)
	}
	if r.state != Idle || r.starting {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: start from %s", domain.ErrInvalidTransition, st)
	}
	r.starting = true
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	stream, err := r.device.Open(ctx, r.sink(gen))

	r.mu.Lock()
	r.starting = false
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrMicrophoneAccess, err)
	}
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		stream.Release()
		return fmt.Errorf("%w: recorder closed while opening", domain.ErrInvalidTransition)
	}

	r.stream = stream
	r.buf.Reset()
	r.elapsed = 0
	r.state = Recording
	r.startTickerLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snap)
	return nil
}

// Pause suspends capture and freezes the duration counter. Valid only from
// Recording; anything else is rejected without changing state.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	if r.state != Recording {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", domain.ErrInvalidTransition, st)
	}
	if err := r.stream.Pause(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("pause capture: %w", err)
	}
	r.state = Paused
	r.stopTickerLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snap)
	return nil
}

// Resume continues capture. Valid only from Paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	if r.state != Paused {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", domain.ErrInvalidTransition, st)
	}
	if r.cfg.MaxDuration > 0 && r.elapsed >= r.maxSeconds() {
		r.mu.Unlock()
		return fmt.Errorf("%w: maximum duration reached", domain.ErrInvalidTransition)
	}
	if err := r.stream.Resume(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("resume capture: %w", err)
	}
	r.state = Recording
	r.startTickerLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snap)
	return nil
}

// Cancel releases the microphone and discards the recording. Valid from
// Recording or Paused.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	if r.state != Recording && r.state != Paused {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", domain.ErrInvalidTransition, st)
	}
	stream := r.resetLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	stream.Release()
	r.emit(snap)
	return nil
}

// Tick advances the duration counter by one second if recording.
func (r *Recorder) Tick() {
	r.mu.Lock()
	r.tickLocked(r.tickGen)
}

// FinalizeAndSend stops capture, waits for the final chunk, and hands the
// assembled clip to send. Valid from Recording or Paused. The recorder is
// back in Idle when it returns, whatever the outcome. An empty recording
// fails with ErrNoAudioCaptured and send is not called.
func (r *Recorder) FinalizeAndSend(ctx context.Context, send func(context.Context, Clip) error) error {
	r.mu.Lock()
	if r.state != Recording && r.state != Paused {
		st := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: send from %s", domain.ErrInvalidTransition, st)
	}
	r.stopTickerLocked()
	r.state = Stopped
	stream := r.stream
	gen := r.gen
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.emit(snap)

	defer r.finish(gen)

	stopErr := stream.Stop(ctx)
	stream.Release()

	r.mu.Lock()
	clip := Clip{
		Data:            bytes.Clone(r.buf.Bytes()),
		MimeType:        stream.MimeType(),
		DurationSeconds: r.elapsed,
	}
	r.mu.Unlock()

	if clip.MimeType == "" {
		clip.MimeType = r.cfg.MimeType
	}

	if len(clip.Data) == 0 {
		if stopErr != nil {
			return errors.Join(domain.ErrNoAudioCaptured, stopErr)
		}
		return domain.ErrNoAudioCaptured
	}
	if stopErr != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(stopErr).Int("bytes", len(clip.Data)).Msg("capture stop reported an error, sending what was flushed")
	}

	return send(ctx, clip)
}

// Close performs an implicit cancel and rejects further starts. A send that
// is already flushing finishes on its own.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	if r.state != Recording && r.state != Paused {
		if r.starting {
			// invalidate the Open still in flight
			r.gen++
		}
		r.mu.Unlock()
		return
	}
	stream := r.resetLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()

	stream.Release()
	r.emit(snap)
}

func (r *Recorder) finish(gen uint64) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.resetLocked()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.emit(snap)
}

// resetLocked returns to Idle and hands back the stream for release.
func (r *Recorder) resetLocked() Stream {
	r.stopTickerLocked()
	stream := r.stream
	r.stream = nil
	r.gen++
	r.buf.Reset()
	r.elapsed = 0
	r.state = Idle
	if stream == nil {
		return nopStream{}
	}
	return stream
}

func (r *Recorder) sink(gen uint64) func([]byte) {
	return func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen != gen || r.state == Idle {
			return
		}
		r.buf.Write(chunk)
	}
}

// tickLocked is entered with r.mu held and releases it.
func (r *Recorder) tickLocked(tickGen uint64) {
	if r.state != Recording || tickGen != r.tickGen {
		r.mu.Unlock()
		return
	}
	r.elapsed++

	if r.cfg.MaxDuration > 0 && r.elapsed >= r.maxSeconds() {
		if err := r.stream.Pause(); err == nil {
			r.state = Paused
			r.stopTickerLocked()
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snap)
}

func (r *Recorder) maxSeconds() int {
	return int(r.cfg.MaxDuration / time.Second)
}

func (r *Recorder) startTickerLocked() {
	r.tickGen++
	if r.cfg.TickInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	r.stopTick = stop
	go r.runTicker(r.tickGen, stop)
}

func (r *Recorder) stopTickerLocked() {
	r.tickGen++
	if r.stopTick != nil {
		close(r.stopTick)
		r.stopTick = nil
	}
}

func (r *Recorder) runTicker(tickGen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.tickLocked(tickGen)
		}
	}
}

func (r *Recorder) snapshotLocked() Snapshot {
	return Snapshot{State: r.state, ElapsedSeconds: r.elapsed}
}

func (r *Recorder) emit(s Snapshot) {
	r.mu.Lock()
	observers := append([]func(Snapshot){}, r.observers...)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

type nopStream struct{}

func (nopStream) MimeType() string           { return "" }
func (nopStream) Pause() error               { return nil }
func (nopStream) Resume() error              { return nil }
func (nopStream) Stop(context.Context) error { return nil }
func (nopStream) Release()                   {}
