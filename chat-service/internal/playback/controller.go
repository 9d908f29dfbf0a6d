package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// State is what the UI renders for the shared player. MessageID is empty
// when nothing is bound.
type State struct {
	MessageID string  `json:"message_id,omitempty"`
	Playing   bool    `json:"playing"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
	Speed     float64 `json:"speed"`
}

type binding struct {
	messageID string
	source    Source
	token     uint64
	playing   bool
	position  float64
	duration  float64
	speed     float64
}

// Controller arbitrates the single audio output shared by every voice note
// in a conversation.
type Controller struct {
	player Player
	speeds SpeedStore
	cycle  []float64

	mu       sync.Mutex
	current  *binding
	token    uint64
	closed   bool
	onChange []func(State)
	onFail   []func(messageID string, err error)
}

// NewController creates a controller. A nil speeds keeps speeds in memory;
// an empty cycle uses DefaultSpeeds.
func NewController(player Player, speeds SpeedStore, cycle []float64) *Controller {
	if speeds == nil {
		speeds = NewMemorySpeedStore()
	}
	if len(cycle) == 0 {
		cycle = DefaultSpeeds
	}
	return &Controller{player: player, speeds: speeds, cycle: cycle}
}

// OnChange registers an observer for state changes.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnFailure registers an observer for source errors reported after Play
// returned.
func (c *Controller) OnFailure(fn func(messageID string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFail = append(c.onFail, fn)
}

// State returns the current player state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Play toggles messageID off when it is the track playing now. Otherwise it
// releases whatever is bound and starts url at the message's remembered
// speed.
func (c *Controller) Play(ctx context.Context, url, messageID string) (State, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, fmt.Errorf("%w: player closed", domain.ErrPlayback)
	}
	if cur := c.current; cur != nil && cur.messageID == messageID && cur.playing {
		c.stopLocked(true)
		st := c.stateLocked()
		c.mu.Unlock()
		c.emit(st)
		return st, nil
	}
	c.stopLocked(false)
	c.mu.Unlock()

	speed := c.speedFor(ctx, messageID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, fmt.Errorf("%w: player closed", domain.ErrPlayback)
	}
	// Another Play may have bound a source while the speed was read.
	c.stopLocked(false)

	c.token++
	token := c.token
	src, err := c.player.Open(url, &sourceEvents{c: c, token: token})
	if err != nil {
		st := c.stateLocked()
		c.mu.Unlock()
		c.emit(st)
		return st, fmt.Errorf("%w: %w", domain.ErrPlayback, err)
	}
	if err := src.Play(speed); err != nil {
		src.Release()
		st := c.stateLocked()
		c.mu.Unlock()
		c.emit(st)
		return st, fmt.Errorf("%w: %w", domain.ErrPlayback, err)
	}
	c.current = &binding{
		messageID: messageID,
		source:    src,
		token:     token,
		playing:   true,
		speed:     speed,
	}
	st := c.stateLocked()
	c.mu.Unlock()

	c.emit(st)
	return st, nil
}

// CycleSpeed advances the message's speed and applies it to the live source
// when that message is playing.
func (c *Controller) CycleSpeed(ctx context.Context, messageID string) (float64, error) {
	next := c.nextSpeed(c.speedFor(ctx, messageID))
	if err := c.speeds.Set(ctx, messageID, next); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, messageID).Msg("failed to remember playback speed")
	}

	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.messageID != messageID {
		c.mu.Unlock()
		return next, nil
	}
	cur.speed = next
	err := cur.source.SetRate(next)
	st := c.stateLocked()
	c.mu.Unlock()

	c.emit(st)
	if err != nil {
		return next, fmt.Errorf("%w: %w", domain.ErrPlayback, err)
	}
	return next, nil
}

// Speed returns the remembered speed for a message.
func (c *Controller) Speed(ctx context.Context, messageID string) float64 {
	return c.speedFor(ctx, messageID)
}

// Stop pauses and releases the bound source, if any.
func (c *Controller) Stop() State {
	c.mu.Lock()
	hadSource := c.current != nil
	c.stopLocked(true)
	st := c.stateLocked()
	c.mu.Unlock()

	if hadSource {
		c.emit(st)
	}
	return st
}

// Close stops playback for good. Later Play calls fail.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked(true)
	c.mu.Unlock()
}

func (c *Controller) speedFor(ctx context.Context, messageID string) float64 {
	speed, ok, err := c.speeds.Get(ctx, messageID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, messageID).Msg("failed to read playback speed")
	}
	if err != nil || !ok || !c.inCycle(speed) {
		return c.cycle[0]
	}
	return speed
}

func (c *Controller) inCycle(speed float64) bool {
	for _, s := range c.cycle {
		if s == speed {
			return true
		}
	}
	return false
}

func (c *Controller) nextSpeed(speed float64) float64 {
	for i, s := range c.cycle {
		if s == speed {
			return c.cycle[(i+1)%len(c.cycle)]
		}
	}
	return c.cycle[0]
}

// stopLocked releases the bound source. rewind pauses and seeks to zero
// first, which is what a user-visible stop looks like.
func (c *Controller) stopLocked(rewind bool) {
	cur := c.current
	if cur == nil {
		return
	}
	c.current = nil
	if rewind {
		_ = cur.source.Pause()
		_ = cur.source.Rewind()
	}
	cur.source.Release()
}

func (c *Controller) stateLocked() State {
	cur := c.current
	if cur == nil {
		return State{Speed: c.cycle[0]}
	}
	return State{
		MessageID: cur.messageID,
		Playing:   cur.playing,
		Position:  cur.position,
		Duration:  cur.duration,
		Speed:     cur.speed,
	}
}

func (c *Controller) emit(st State) {
	c.mu.Lock()
	observers := append([]func(State){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(st)
	}
}

func (c *Controller) progress(token uint64, position, duration float64) {
	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.token != token {
		c.mu.Unlock()
		return
	}
	cur.position = position
	if duration > 0 {
		cur.duration = duration
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(st)
}

// reset handles end-of-track and source errors: the binding is cleared and
// the player reports idle.
func (c *Controller) reset(token uint64, cause error) {
	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.token != token {
		c.mu.Unlock()
		return
	}
	c.stopLocked(false)
	st := c.stateLocked()
	failObservers := append([]func(string, error){}, c.onFail...)
	c.mu.Unlock()

	c.emit(st)
	if cause == nil {
		return
	}
	err := fmt.Errorf("%w: %w", domain.ErrPlayback, cause)
	for _, fn := range failObservers {
		fn(cur.messageID, err)
	}
}

type sourceEvents struct {
	c     *Controller
	token uint64
}

func (e *sourceEvents) Progress(position, duration float64) {
	e.c.progress(e.token, position, duration)
}

func (e *sourceEvents) Ended() {
	e.c.reset(e.token, nil)
}

func (e *sourceEvents) Failed(err error) {
	if err == nil {
		err = errors.New("unknown playback error")
	}
	e.c.reset(e.token, err)
}
