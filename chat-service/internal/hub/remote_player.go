package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/playback"
)

// Sender queues a frame for the client.
type Sender interface {
	SendMessage(message any) error
}

// RemotePlayer plays audio through an element on the client. Each Open
// binds a fresh source id; the client echoes that id in its audio events so
// late events of a released source are dropped.
type RemotePlayer struct {
	sender Sender
	prefix string

	mu      sync.Mutex
	seq     uint64
	sources map[string]*remoteSource
}

func NewRemotePlayer(sender Sender, prefix string) *RemotePlayer {
	return &RemotePlayer{
		sender:  sender,
		prefix:  prefix,
		sources: make(map[string]*remoteSource),
	}
}

var _ playback.Player = (*RemotePlayer)(nil)

func (p *RemotePlayer) Open(url string, events playback.Events) (playback.Source, error) {
	p.mu.Lock()
	p.seq++
	src := &remoteSource{
		id:     fmt.Sprintf("%s-%d", p.prefix, p.seq),
		player: p,
		events: events,
	}
	p.sources[src.id] = src
	p.mu.Unlock()

	if err := src.command(domain.AudioActionBind, func(c *domain.AudioCommandOut) { c.URL = url }); err != nil {
		p.drop(src.id)
		return nil, err
	}
	return src, nil
}

// HandleEvent routes an audio event from the client to the bound source.
// It reports false when the source is unknown or already released.
func (p *RemotePlayer) HandleEvent(msgType string, ev domain.AudioEventMessage) bool {
	p.mu.Lock()
	src, ok := p.sources[ev.SourceID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	switch msgType {
	case domain.MsgTypeAudioTime:
		src.events.Progress(ev.Position, ev.Duration)
	case domain.MsgTypeAudioEnded:
		src.events.Ended()
	case domain.MsgTypeAudioError:
		msg := ev.Message
		if msg == "" {
			msg = "audio element error"
		}
		src.events.Failed(errors.New(msg))
	default:
		return false
	}
	return true
}

// Bound returns the number of sources not yet released.
func (p *RemotePlayer) Bound() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

func (p *RemotePlayer) drop(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sources[id]; !ok {
		return false
	}
	delete(p.sources, id)
	return true
}

type remoteSource struct {
	id     string
	player *RemotePlayer
	events playback.Events
}

func (s *remoteSource) command(action string, opts ...func(*domain.AudioCommandOut)) error {
	cmd := &domain.AudioCommandOut{
		Type:     domain.MsgTypeAudioCommand,
		SourceID: s.id,
		Action:   action,
	}
	for _, o := range opts {
		o(cmd)
	}
	return s.player.sender.SendMessage(cmd)
}

func (s *remoteSource) Play(rate float64) error {
	return s.command(domain.AudioActionPlay, func(c *domain.AudioCommandOut) { c.Rate = rate })
}

func (s *remoteSource) Pause() error {
	return s.command(domain.AudioActionPause)
}

func (s *remoteSource) Rewind() error {
	return s.command(domain.AudioActionSeek, func(c *domain.AudioCommandOut) { c.Position = 0 })
}

func (s *remoteSource) SetRate(rate float64) error {
	return s.command(domain.AudioActionRate, func(c *domain.AudioCommandOut) { c.Rate = rate })
}

func (s *remoteSource) Release() {
	if s.player.drop(s.id) {
		// best effort, the client drops unknown sources on reconnect anyway
		_ = s.command(domain.AudioActionRelease)
	}
}
