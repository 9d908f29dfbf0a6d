package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	cmds []domain.AudioCommandOut
	err  error
}

func (s *recordingSender) SendMessage(message any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cmds = append(s.cmds, *message.(*domain.AudioCommandOut))
	return nil
}

type recordedEvents struct {
	progress [][2]float64
	ended    int
	failed   []error
}

func (e *recordedEvents) Progress(position, duration float64) {
	e.progress = append(e.progress, [2]float64{position, duration})
}
func (e *recordedEvents) Ended()           { e.ended++ }
func (e *recordedEvents) Failed(err error) { e.failed = append(e.failed, err) }

func TestRemotePlayer_Commands(t *testing.T) {
	sender := &recordingSender{}
	p := NewRemotePlayer(sender, "client-1")

	src, err := p.Open("https://files/a.ogg", &recordedEvents{})
	require.NoError(t, err)
	require.NoError(t, src.Play(1.5))
	require.NoError(t, src.SetRate(2))
	require.NoError(t, src.Pause())
	require.NoError(t, src.Rewind())
	src.Release()
	src.Release()

	require.Len(t, sender.cmds, 6)
	actions := make([]string, 0, len(sender.cmds))
	for _, c := range sender.cmds {
		assert.Equal(t, "client-1-1", c.SourceID)
		assert.Equal(t, domain.MsgTypeAudioCommand, c.Type)
		actions = append(actions, c.Action)
	}
	assert.Equal(t, []string{
		domain.AudioActionBind,
		domain.AudioActionPlay,
		domain.AudioActionRate,
		domain.AudioActionPause,
		domain.AudioActionSeek,
		domain.AudioActionRelease,
	}, actions)
	assert.Equal(t, "https://files/a.ogg", sender.cmds[0].URL)
	assert.Equal(t, 1.5, sender.cmds[1].Rate)
	assert.Equal(t, 0, p.Bound())
}

func TestRemotePlayer_RoutesEventsToBoundSource(t *testing.T) {
	p := NewRemotePlayer(&recordingSender{}, "c")

	firstEvents := &recordedEvents{}
	first, err := p.Open("a", firstEvents)
	require.NoError(t, err)
	secondEvents := &recordedEvents{}
	_, err = p.Open("b", secondEvents)
	require.NoError(t, err)

	assert.True(t, p.HandleEvent(domain.MsgTypeAudioTime, domain.AudioEventMessage{SourceID: "c-2", Position: 3, Duration: 10}))
	assert.True(t, p.HandleEvent(domain.MsgTypeAudioEnded, domain.AudioEventMessage{SourceID: "c-2"}))
	assert.True(t, p.HandleEvent(domain.MsgTypeAudioError, domain.AudioEventMessage{SourceID: "c-1", Message: "decode"}))

	assert.Equal(t, [][2]float64{{3, 10}}, secondEvents.progress)
	assert.Equal(t, 1, secondEvents.ended)
	require.Len(t, firstEvents.failed, 1)
	assert.EqualError(t, firstEvents.failed[0], "decode")

	first.Release()
	assert.False(t, p.HandleEvent(domain.MsgTypeAudioTime, domain.AudioEventMessage{SourceID: "c-1", Position: 1}))
	assert.False(t, p.HandleEvent(domain.MsgTypeAudioTime, domain.AudioEventMessage{SourceID: "unknown"}))
	assert.Len(t, firstEvents.progress, 0)
}

func TestRemotePlayer_OpenFailsWhenClientGone(t *testing.T) {
	p := NewRemotePlayer(&recordingSender{err: errors.New("closed")}, "c")

	_, err := p.Open("a", &recordedEvents{})
	assert.Error(t, err)
	assert.Equal(t, 0, p.Bound())
}
