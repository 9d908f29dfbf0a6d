package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/playback"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
)

// fakeRepo backs both the message and match repositories.
type fakeRepo struct {
	mu        sync.Mutex
	messages  map[string]domain.Message
	matches   map[string]domain.Match
	profiles  map[string]domain.Profile
	insertErr error
	fetchErr  error
	inserts   int
	onInsert  func(domain.NewMessage)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		messages: make(map[string]domain.Message),
		matches:  make(map[string]domain.Match),
		profiles: make(map[string]domain.Profile),
	}
}

func (r *fakeRepo) FetchMessages(_ context.Context, matchID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	var out []domain.Message
	for _, m := range r.messages {
		if m.MatchID == matchID && m.DeletedAt == nil {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) InsertMessage(_ context.Context, msg domain.NewMessage) (*domain.Message, error) {
	if r.onInsert != nil {
		r.onInsert(msg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	stored := domain.Message{
		ID:         msg.ID,
		MatchID:    msg.MatchID,
		SenderID:   msg.SenderID,
		Content:    msg.Content,
		Attachment: msg.Attachment,
		CreatedAt:  msg.CreatedAt,
		Status:     domain.StatusSent,
	}
	r.messages[msg.ID] = stored.Clone()
	return &stored, nil
}

func (r *fakeRepo) SoftDeleteMessage(_ context.Context, id, senderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if m.SenderID != senderID {
		return domain.ErrNotOwner
	}
	now := time.Now()
	m.DeletedAt = &now
	r.messages[id] = m
	return nil
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) FetchMatch(_ context.Context, matchID, viewerProfileID string) (*domain.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok || !m.IsParticipant(viewerProfileID) {
		return nil, domain.ErrMatchNotFound
	}
	return &m, nil
}

func (r *fakeRepo) SoftDeleteMatch(ctx context.Context, matchID, viewerProfileID string) (*domain.Match, error) {
	m, err := r.FetchMatch(ctx, matchID, viewerProfileID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.DeletedAt == nil {
		now := time.Now().UTC()
		m.DeletedAt = &now
		r.matches[matchID] = *m
	}
	return m, nil
}

func (r *fakeRepo) FetchProfileByUserID(_ context.Context, userID string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, domain.ErrProfileNotFound
}

func (r *fakeRepo) FetchProfile(_ context.Context, profileID string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (r *fakeRepo) FetchProperty(context.Context, string) (*domain.PropertySnapshot, error) {
	return nil, nil
}

func (r *fakeRepo) stored(id string) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	return m, ok
}

type fakeUploader struct {
	mu         sync.Mutex
	uploadErr  error
	signErr    error
	uploads    int
	voiceNotes int
}

func (u *fakeUploader) Upload(_ context.Context, userID string, f uploader.File) (domain.Attachment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads++
	if u.uploadErr != nil {
		return domain.Attachment{}, u.uploadErr
	}
	key := userID + "/" + f.Name
	return domain.Attachment{URL: "https://signed/" + key, Key: key, Type: f.ContentType, Name: f.Name}, nil
}

func (u *fakeUploader) UploadVoiceNote(_ context.Context, userID string, clip recorder.Clip) (domain.Attachment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.voiceNotes++
	if u.uploadErr != nil {
		return domain.Attachment{}, u.uploadErr
	}
	key := userID + "/voice-note.ogg"
	return domain.Attachment{
		URL:             "https://signed/" + key,
		Key:             key,
		Type:            clip.MimeType,
		Name:            "voice-note.ogg",
		IsVoiceNote:     true,
		DurationSeconds: clip.DurationSeconds,
	}, nil
}

func (u *fakeUploader) Sign(_ context.Context, key string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.signErr != nil {
		return "", u.signErr
	}
	return "https://resigned/" + key, nil
}

func (u *fakeUploader) failSigning(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.signErr = err
}

func (u *fakeUploader) voiceNoteCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.voiceNotes
}

// fakeDevice hands out streams that deliver data as their final chunk.
type fakeDevice struct {
	mu      sync.Mutex
	data    []byte
	openErr error
	streams []*fakeStream
}

func (d *fakeDevice) Open(_ context.Context, sink func([]byte)) (recorder.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := &fakeStream{sink: sink, final: d.data}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type fakeStream struct {
	mu       sync.Mutex
	sink     func([]byte)
	final    []byte
	released bool
}

func (s *fakeStream) MimeType() string { return "audio/ogg" }
func (s *fakeStream) Pause() error     { return nil }
func (s *fakeStream) Resume() error    { return nil }

func (s *fakeStream) Stop(context.Context) error {
	if len(s.final) > 0 {
		s.sink(s.final)
	}
	return nil
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

func (s *fakeStream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakePlayer struct {
	mu      sync.Mutex
	sources []*fakeSource
	openErr error
}

func (p *fakePlayer) Open(url string, events playback.Events) (playback.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := &fakeSource{url: url, events: events}
	p.sources = append(p.sources, s)
	return s, nil
}

func (p *fakePlayer) active() []*fakeSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*fakeSource
	for _, s := range p.sources {
		if !s.isReleased() {
			out = append(out, s)
		}
	}
	return out
}

type fakeSource struct {
	mu       sync.Mutex
	url      string
	events   playback.Events
	rate     float64
	released bool
}

func (s *fakeSource) Play(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *fakeSource) Pause() error  { return nil }
func (s *fakeSource) Rewind() error { return nil }

func (s *fakeSource) SetRate(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *fakeSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

func (s *fakeSource) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDispatcher struct {
	sent chan notify.Notification
	err  error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{sent: make(chan notify.Notification, 16)}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, n notify.Notification) error {
	if d.err != nil {
		return d.err
	}
	d.sent <- n
	return nil
}

func (d *fakeDispatcher) Close() error { return nil }

type fakeInvalidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, matchID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{matchID}, userIDs...))
}

// fakeSink records every frame as decoded JSON.
type fakeSink struct {
	mu     sync.Mutex
	frames []map[string]any
	err    error
}

func (s *fakeSink) SendMessage(message any) error {
	if s.err != nil {
		return s.err
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) ofType(t string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, f := range s.frames {
		if f["type"] == t {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f["type"].(string))
	}
	return out
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("gen-%d", g.n), nil
}

func (g *sequentialIDs) Validate(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	return nil
}
