package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/audit"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/idgen"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/playback"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/realtime"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/registry"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/repository"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/store"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Close reasons sent with conversation_closed.
const (
	ReasonDeletedBySelf        = "deleted_by_self"
	ReasonDeletedByCounterpart = "deleted_by_counterpart"
)

// Sink receives the frames of one client.
type Sink interface {
	SendMessage(message any) error
}

// AttachmentUploader stores files and issues signed URLs for them.
type AttachmentUploader interface {
	Upload(ctx context.Context, userID string, f uploader.File) (domain.Attachment, error)
	UploadVoiceNote(ctx context.Context, userID string, clip recorder.Clip) (domain.Attachment, error)
	Sign(ctx context.Context, key string) (string, error)
}

// ContextInvalidator drops cached conversation contexts.
type ContextInvalidator interface {
	Invalidate(ctx context.Context, matchID string, userIDs ...string)
}

// Deps are the collaborators shared by every conversation of the process.
type Deps struct {
	Messages      repository.MessageRepository
	Matches       repository.MatchRepository
	Feed          realtime.Feed
	Uploader      AttachmentUploader
	Notifier      notify.Dispatcher
	Presence      registry.Registry
	IDs           idgen.Generator
	Contexts      ContextInvalidator
	NotifyTimeout time.Duration
	Recorder      recorder.Config
	SpeedCycle    []float64
}

// Media are the per-client audio resources a conversation borrows.
type Media struct {
	Device recorder.Device
	Player playback.Player
	Speeds playback.SpeedStore
}

// Conversation is the controller of one open chat view. It owns the message
// list, the voice recorder and the audio player for as long as the view is
// open, and releases all three on Close.
type Conversation struct {
	deps         Deps
	viewerUserID string
	sink         Sink
	notifier     notify.Dispatcher

	merger  *store.Merger
	history *signingFetcher
	rec     *recorder.Recorder
	player  *playback.Controller
	sub     realtime.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	cc        domain.ConversationContext
	closeOnce sync.Once
}

// OpenConversation subscribes to live updates for cc.Match and wires the
// per-view components. History is not loaded; call LoadHistory next. The
// subscription is opened first so nothing inserted during the history fetch
// is missed.
func OpenConversation(ctx context.Context, deps Deps, cc domain.ConversationContext, viewerUserID string, sink Sink, media Media) (*Conversation, error) {
	if deps.Notifier == nil {
		deps.Notifier = notify.NoOpDispatcher{}
	}
	if deps.Presence == nil {
		deps.Presence = registry.NewMemoryRegistry()
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = 5 * time.Second
	}
	if media.Speeds == nil {
		media.Speeds = playback.NewMemorySpeedStore()
	}
	if media.Device == nil {
		media.Device = noMicrophone{}
	}

	matchID, profileID := cc.Match.ID, cc.Viewer.ID
	l := log.Ctx(ctx)
	bg, cancel := context.WithCancel(log.WithMatch(log.WithLogger(context.Background(), l), matchID, profileID))

	c := &Conversation{
		deps:         deps,
		viewerUserID: viewerUserID,
		sink:         sink,
		notifier:     &presenceFilter{next: deps.Notifier, presence: deps.Presence},
		ctx:          bg,
		cancel:       cancel,
		done:         make(chan struct{}),
		cc:           cc,
	}

	c.history = &signingFetcher{messages: deps.Messages, uploader: deps.Uploader}
	c.merger = store.New(matchID, profileID, c.history)
	c.merger.OnChange(c.onMessages)

	c.rec = recorder.New(media.Device, deps.Recorder)
	c.rec.OnChange(c.onRecorder)

	c.player = playback.NewController(media.Player, media.Speeds, deps.SpeedCycle)
	c.player.OnChange(c.onPlayback)
	c.player.OnFailure(c.onPlaybackFailure)

	sub, err := deps.Feed.Subscribe(bg, matchID)
	if err != nil {
		cancel()
		c.rec.Close()
		c.player.Close()
		return nil, fmt.Errorf("failed to subscribe to match: %w", err)
	}
	c.sub = sub
	go c.consume()

	if err := deps.Presence.Register(bg, matchID, profileID); err != nil {
		l.Warn().Err(err).Msg("failed to register presence")
	}

	audit.LogTarget(bg, audit.ActionOpenConversation, viewerUserID, matchID, "conversation opened")
	return c, nil
}

// Context returns the resolved conversation context.
func (c *Conversation) Context() domain.ConversationContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cc
}

func (c *Conversation) MatchID() string { return c.merger.MatchID() }

// LoadHistory fetches and merges the conversation history. It may be called
// again after a failure.
func (c *Conversation) LoadHistory(ctx context.Context) ([]domain.Message, error) {
	return c.merger.LoadHistory(ctx)
}

// Messages returns the current list.
func (c *Conversation) Messages() []domain.Message {
	return c.merger.Messages()
}

// SendText appends the message optimistically and persists it. id may be
// empty; a client that already rendered its own copy passes that copy's id.
// Sending an id that is already in the list returns the existing message.
func (c *Conversation) SendText(ctx context.Context, id, content string) (domain.Message, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	if id == "" {
		var err error
		if id, err = c.deps.IDs.Generate(); err != nil {
			return domain.Message{}, fmt.Errorf("failed to generate message id: %w", err)
		}
	} else if existing, ok := c.merger.Get(id); ok {
		return existing, nil
	}

	msg := c.merger.AppendLocal(c.newMessage(id, content, nil))
	return c.persist(ctx, msg)
}

// SendAttachment uploads f and sends it with an optional caption. When the
// upload or signing fails nothing is appended.
func (c *Conversation) SendAttachment(ctx context.Context, f uploader.File, caption string) (domain.Message, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Message{}, err
	}

	att, err := c.deps.Uploader.Upload(ctx, c.viewerUserID, f)
	if err != nil {
		return domain.Message{}, err
	}
	audit.LogTarget(ctx, audit.ActionUploadAttachment, c.viewerUserID, att.Key, "attachment uploaded")

	return c.appendAndPersist(ctx, caption, &att)
}

func (c *Conversation) StartRecording(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.rec.Start(ctx)
}

func (c *Conversation) PauseRecording() error  { return c.rec.Pause() }
func (c *Conversation) ResumeRecording() error { return c.rec.Resume() }
func (c *Conversation) CancelRecording() error { return c.rec.Cancel() }

// SendVoiceNote finalizes the recording, uploads it and sends it. The
// recorder is Idle afterwards whatever happens. A failed upload appends
// nothing.
func (c *Conversation) SendVoiceNote(ctx context.Context, caption string) (domain.Message, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Message{}, err
	}

	var sent domain.Message
	err := c.rec.FinalizeAndSend(ctx, func(ctx context.Context, clip recorder.Clip) error {
		att, err := c.deps.Uploader.UploadVoiceNote(ctx, c.viewerUserID, clip)
		if err != nil {
			return err
		}
		sent, err = c.appendAndPersist(ctx, caption, &att)
		return err
	})
	return sent, err
}

// Resend retries the insert of one of the viewer's failed messages.
func (c *Conversation) Resend(ctx context.Context, id string) (domain.Message, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Message{}, err
	}
	msg, ok := c.merger.Get(id)
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if msg.Sender != domain.SenderSelf {
		return domain.Message{}, domain.ErrNotOwner
	}
	if msg.Status != domain.StatusFailed {
		return domain.Message{}, fmt.Errorf("%w: status %s", domain.ErrNotFailed, msg.Status)
	}

	msg, _ = c.merger.MarkPending(id)
	return c.persist(ctx, msg)
}

// DeleteMessage soft-deletes one of the viewer's messages. A message that
// never reached the database is only dropped from the list.
func (c *Conversation) DeleteMessage(ctx context.Context, id string) error {
	msg, ok := c.merger.Get(id)
	if !ok {
		return domain.ErrMessageNotFound
	}
	if msg.Sender != domain.SenderSelf {
		return domain.ErrNotOwner
	}

	if msg.Status == domain.StatusFailed {
		c.merger.SoftDelete(id)
		return nil
	}

	profileID := c.merger.ViewerID()
	if err := c.deps.Messages.SoftDeleteMessage(ctx, id, profileID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	c.merger.SoftDelete(id)

	l := log.Ctx(ctx)
	if err := c.deps.Feed.PublishDeleted(ctx, c.MatchID(), id, profileID, time.Now().UTC()); err != nil {
		l.Warn().Err(err).Str(log.FieldMessageID, id).Msg("failed to publish message deletion")
	}
	audit.LogTarget(ctx, audit.ActionDeleteMessage, c.viewerUserID, id, "message deleted")
	return nil
}

// DeleteConversation soft-deletes the match for both participants. The view
// stays open read-only.
func (c *Conversation) DeleteConversation(ctx context.Context) error {
	cc := c.Context()
	match, err := c.deps.Matches.SoftDeleteMatch(ctx, cc.Match.ID, cc.Viewer.ID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	c.markClosed(match.DeletedAt)

	l := log.Ctx(ctx)
	if err := c.deps.Feed.PublishMatchDeleted(ctx, cc.Match.ID, cc.Viewer.ID, time.Now().UTC()); err != nil {
		l.Warn().Err(err).Msg("failed to publish conversation deletion")
	}
	if c.deps.Contexts != nil {
		c.deps.Contexts.Invalidate(ctx, cc.Match.ID, cc.Viewer.UserID, cc.Counterpart.UserID)
	}
	audit.LogTarget(ctx, audit.ActionDeleteConversation, c.viewerUserID, cc.Match.ID, "conversation deleted")

	c.send(&domain.ConversationClosedOut{
		Type:    domain.MsgTypeConversationClosed,
		MatchID: cc.Match.ID,
		Reason:  ReasonDeletedBySelf,
	})
	return nil
}

// Play toggles playback of a voice note. An empty url plays the attachment
// of messageID as it is in the list.
func (c *Conversation) Play(ctx context.Context, messageID, url string) (playback.State, error) {
	if url == "" {
		msg, ok := c.merger.Get(messageID)
		if !ok {
			return c.player.State(), domain.ErrMessageNotFound
		}
		if msg.Attachment == nil || msg.Attachment.URL == "" {
			return c.player.State(), fmt.Errorf("%w: message has no audio", domain.ErrPlayback)
		}
		url = msg.Attachment.URL
	}
	return c.player.Play(ctx, url, messageID)
}

func (c *Conversation) CycleSpeed(ctx context.Context, messageID string) (float64, error) {
	return c.player.CycleSpeed(ctx, messageID)
}

func (c *Conversation) StopPlayback() playback.State {
	return c.player.Stop()
}

// Close unsubscribes from live updates, cancels any recording and releases
// the audio source. It is safe to call more than once.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		l := log.Ctx(c.ctx)
		if err := c.sub.Close(); err != nil {
			l.Warn().Err(err).Msg("failed to close live subscription")
		}
		<-c.done

		c.rec.Close()
		c.player.Close()

		ctx, cancel := context.WithTimeout(log.WithLogger(context.Background(), l), 2*time.Second)
		defer cancel()
		cc := c.Context()
		if err := c.deps.Presence.Deregister(ctx, cc.Match.ID, cc.Viewer.ID); err != nil {
			l.Warn().Err(err).Msg("failed to deregister presence")
		}
		c.cancel()
	})
}

func (c *Conversation) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cc.Closed() {
		return domain.ErrConversationClosed
	}
	return nil
}

func (c *Conversation) markClosed(at *time.Time) {
	if at == nil {
		now := time.Now().UTC()
		at = &now
	}
	c.mu.Lock()
	if c.cc.Match.DeletedAt == nil {
		c.cc.Match.DeletedAt = at
	}
	c.mu.Unlock()

	if err := c.rec.Cancel(); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		l := log.Ctx(c.ctx)
		l.Warn().Err(err).Msg("failed to cancel recording")
	}
}

func (c *Conversation) newMessage(id, content string, att *domain.Attachment) domain.Message {
	return domain.Message{
		ID:         id,
		MatchID:    c.MatchID(),
		SenderID:   c.merger.ViewerID(),
		Sender:     domain.SenderSelf,
		Content:    content,
		Attachment: att,
		CreatedAt:  time.Now().UTC(),
		Status:     domain.StatusPending,
	}
}

func (c *Conversation) appendAndPersist(ctx context.Context, caption string, att *domain.Attachment) (domain.Message, error) {
	id, err := c.deps.IDs.Generate()
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to generate message id: %w", err)
	}
	content := strings.TrimSpace(caption)
	if content == "" {
		content = domain.DefaultCaption(att)
	}
	msg := c.merger.AppendLocal(c.newMessage(id, content, att))
	return c.persist(ctx, msg)
}

// persist inserts an optimistic message. On failure the entry is marked
// failed and stays in the list.
func (c *Conversation) persist(ctx context.Context, msg domain.Message) (domain.Message, error) {
	l := log.Ctx(ctx)

	created, err := c.deps.Messages.InsertMessage(ctx, msg.ToNew())
	if err != nil {
		failed, _ := c.merger.MarkFailed(msg.ID)
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("message insert failed")
		return failed, fmt.Errorf("%w: %w", domain.ErrMessageInsert, err)
	}

	sent, ok := c.merger.MarkSent(msg.ID)
	if !ok {
		// deleted locally while the insert was in flight
		sent = msg
		sent.Status = domain.StatusSent
	}

	record := *created
	if record.Attachment != nil && msg.Attachment != nil && record.Attachment.URL == "" {
		record.Attachment.URL = msg.Attachment.URL
	}
	if err := c.deps.Feed.PublishInserted(ctx, record); err != nil {
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to publish inserted message")
	}

	notify.Async(c.ctx, c.notifier, notify.NewNotification(c.Context(), sent), c.deps.NotifyTimeout)
	audit.LogTarget(ctx, audit.ActionSendMessage, c.viewerUserID, msg.ID, "message sent")
	return sent, nil
}

func (c *Conversation) consume() {
	defer close(c.done)

	for u := range c.sub.Updates() {
		switch u.Kind {
		case realtime.MessageInserted:
			if u.Message != nil && u.Message.SenderID != c.merger.ViewerID() {
				msg := u.Message.Clone()
				c.history.sign(c.ctx, &msg)
				c.merger.IngestRemote(msg)
			}
		case realtime.MessageDeleted:
			c.merger.SoftDelete(u.MessageID)
		case realtime.MatchDeleted:
			c.onMatchDeleted(u)
		}
	}
}

func (c *Conversation) onMatchDeleted(u realtime.Update) {
	at := u.At
	c.markClosed(&at)
	c.player.Stop()

	if u.ProfileID == c.merger.ViewerID() {
		return
	}
	c.send(&domain.ConversationClosedOut{
		Type:    domain.MsgTypeConversationClosed,
		MatchID: u.MatchID,
		Reason:  ReasonDeletedByCounterpart,
	})
}

func (c *Conversation) onMessages(ch store.Change) {
	switch ch.Kind {
	case store.ChangeReset:
		c.send(&domain.HistoryMessage{
			Type:     domain.MsgTypeHistory,
			MatchID:  c.MatchID(),
			Messages: ch.Messages,
		})
	case store.ChangeAdded:
		c.send(&domain.MessageEventOut{Type: domain.MsgTypeMessageAdded, Message: ch.Message})
	case store.ChangeUpdated:
		c.send(&domain.MessageEventOut{Type: domain.MsgTypeMessageUpdated, Message: ch.Message})
	case store.ChangeRemoved:
		c.send(&domain.MessageRemovedOut{Type: domain.MsgTypeMessageRemoved, MessageID: ch.Message.ID})
	}
}

func (c *Conversation) onRecorder(s recorder.Snapshot) {
	c.send(&domain.RecorderStateOut{
		Type:           domain.MsgTypeRecorderState,
		State:          s.State.String(),
		ElapsedSeconds: s.ElapsedSeconds,
	})
}

func (c *Conversation) onPlayback(st playback.State) {
	c.send(&domain.PlaybackStateOut{
		Type:      domain.MsgTypePlaybackState,
		MessageID: st.MessageID,
		Playing:   st.Playing,
		Position:  st.Position,
		Duration:  st.Duration,
		Speed:     st.Speed,
	})
}

func (c *Conversation) onPlaybackFailure(messageID string, err error) {
	frame := domain.NewErrorFrom(err)
	frame.MessageID = messageID
	c.send(frame)
}

func (c *Conversation) send(frame any) {
	if err := c.sink.SendMessage(frame); err != nil {
		l := log.Ctx(c.ctx)
		l.Debug().Err(err).Msg("dropping frame for client")
	}
}

// signingFetcher re-signs stored attachments so history never carries a
// URL whose validity window has already lapsed.
type signingFetcher struct {
	messages repository.MessageRepository
	uploader AttachmentUploader
}

func (f *signingFetcher) FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error) {
	msgs, err := f.messages.FetchMessages(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if f.uploader == nil {
		return msgs, nil
	}

	for i := range msgs {
		f.sign(ctx, &msgs[i])
	}
	return msgs, nil
}

// sign replaces the attachment URL with a fresh one from its storage key.
// The stored URL is kept when signing fails.
func (f *signingFetcher) sign(ctx context.Context, msg *domain.Message) {
	att := msg.Attachment
	if f.uploader == nil || att == nil || att.Key == "" {
		return
	}
	url, err := f.uploader.Sign(ctx, att.Key)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to re-sign attachment, keeping stored url")
		return
	}
	att.URL = url
}

// presenceFilter skips the push when the recipient has the conversation
// open somewhere.
type presenceFilter struct {
	next     notify.Dispatcher
	presence registry.Registry
}

func (p *presenceFilter) Dispatch(ctx context.Context, n notify.Notification) error {
	present, err := p.presence.IsPresent(ctx, n.MatchID, n.RecipientProfileID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("presence lookup failed, sending push anyway")
	} else if present {
		return nil
	}
	return p.next.Dispatch(ctx, n)
}

func (p *presenceFilter) Close() error { return p.next.Close() }

// noMicrophone stands in until the client has negotiated a media session.
type noMicrophone struct{}

func (noMicrophone) Open(context.Context, func([]byte)) (recorder.Stream, error) {
	return nil, errors.New("no media session negotiated")
}

var _ store.HistoryFetcher = (*signingFetcher)(nil)
