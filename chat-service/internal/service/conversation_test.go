package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/notify"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/realtime"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/registry"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	"github.com/isaacberry91/propswipes-sub000/pkg/pubsub"
)

const (
	testMatchID   = "match-1"
	buyerUserID   = "user-a"
	buyerProfile  = "profile-a"
	sellerUserID  = "user-b"
	sellerProfile = "profile-b"
)

const waitFor = time.Second

type harness struct {
	repo        *fakeRepo
	up          *fakeUploader
	ps          *pubsub.MemoryPubSub
	feed        *realtime.PubSubFeed
	dispatcher  *fakeDispatcher
	presence    *registry.MemoryRegistry
	invalidator *fakeInvalidator
	deps        Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:        newFakeRepo(),
		up:          &fakeUploader{},
		ps:          pubsub.NewMemoryPubSub(64),
		dispatcher:  newFakeDispatcher(),
		presence:    registry.NewMemoryRegistry(),
		invalidator: &fakeInvalidator{},
	}
	t.Cleanup(func() { h.ps.Close() })
	h.feed = realtime.NewPubSubFeed(h.ps)
	h.repo.matches[testMatchID] = domain.Match{ID: testMatchID, BuyerID: buyerProfile, SellerID: sellerProfile}
	h.repo.profiles[buyerProfile] = domain.Profile{ID: buyerProfile, UserID: buyerUserID, DisplayName: "Ada"}
	h.repo.profiles[sellerProfile] = domain.Profile{ID: sellerProfile, UserID: sellerUserID, DisplayName: "Ben"}
	h.deps = Deps{
		Messages:      h.repo,
		Matches:       h.repo,
		Feed:          h.feed,
		Uploader:      h.up,
		Notifier:      h.dispatcher,
		Presence:      h.presence,
		IDs:           &sequentialIDs{},
		Contexts:      h.invalidator,
		NotifyTimeout: time.Second,
		SpeedCycle:    []float64{1, 1.5, 2},
	}
	return h
}

type view struct {
	conv   *Conversation
	sink   *fakeSink
	device *fakeDevice
	player *fakePlayer
}

func (h *harness) open(t *testing.T, asBuyer bool) *view {
	t.Helper()
	buyer, seller := h.repo.profiles[buyerProfile], h.repo.profiles[sellerProfile]
	cc := domain.ConversationContext{Match: h.repo.matches[testMatchID], Viewer: buyer, Counterpart: seller}
	userID := buyerUserID
	if !asBuyer {
		cc.Viewer, cc.Counterpart = seller, buyer
		userID = sellerUserID
	}

	v := &view{sink: &fakeSink{}, device: &fakeDevice{}, player: &fakePlayer{}}
	conv, err := OpenConversation(context.Background(), h.deps, cc, userID, v.sink, Media{Device: v.device, Player: v.player})
	require.NoError(t, err)
	t.Cleanup(conv.Close)
	v.conv = conv
	return v
}

func (h *harness) openLoaded(t *testing.T, asBuyer bool) *view {
	t.Helper()
	v := h.open(t, asBuyer)
	_, err := v.conv.LoadHistory(context.Background())
	require.NoError(t, err)
	return v
}

func TestConversation_SendTextAppendsBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)

	h.repo.onInsert = func(domain.NewMessage) {
		msgs := buyer.conv.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.StatusPending, msgs[0].Status)
	}

	msg, err := buyer.conv.SendText(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, domain.SenderSelf, msg.Sender)
	assert.Equal(t, "hello", msg.Content)
	assert.Nil(t, msg.Attachment)

	added := buyer.sink.ofType(domain.MsgTypeMessageAdded)
	require.Len(t, added, 1)
	frame := added[0]["message"].(map[string]any)
	assert.Equal(t, "self", frame["sender"])
	assert.Equal(t, "hello", frame["content"])
	assert.Nil(t, frame["attachment"])
	assert.Equal(t, "pending", frame["status"])

	updated := buyer.sink.ofType(domain.MsgTypeMessageUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "sent", updated[0]["message"].(map[string]any)["status"])

	_, stored := h.repo.stored(msg.ID)
	assert.True(t, stored)

	select {
	case n := <-h.dispatcher.sent:
		assert.Equal(t, sellerProfile, n.RecipientProfileID)
		assert.Equal(t, "hello", n.Preview)
	case <-time.After(waitFor):
		t.Fatal("no push notification dispatched")
	}
}

func TestConversation_SendTextValidation(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)

	_, err := buyer.conv.SendText(context.Background(), "", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Empty(t, buyer.conv.Messages())

	first, err := buyer.conv.SendText(context.Background(), "client-1", "hi")
	require.NoError(t, err)
	again, err := buyer.conv.SendText(context.Background(), "client-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, buyer.conv.Messages(), 1)
	assert.Equal(t, 1, h.repo.inserts)
}

func TestConversation_InsertFailureKeepsEntryAndResend(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	h.repo.insertErr = errors.New("connection reset")

	msg, err := buyer.conv.SendText(context.Background(), "", "hello")
	assert.ErrorIs(t, err, domain.ErrMessageInsert)
	assert.Equal(t, domain.StatusFailed, msg.Status)

	msgs := buyer.conv.Messages()
	require.Len(t, msgs, 1, "optimistic entry is not retracted")
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)

	h.repo.insertErr = nil
	resent, err := buyer.conv.Resend(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, resent.Status)
	assert.Len(t, buyer.conv.Messages(), 1)

	_, err = buyer.conv.Resend(context.Background(), msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFailed)
	_, err = buyer.conv.Resend(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestConversation_RemotePushesAreMergedOnce(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	ctx := context.Background()

	require.NoError(t, h.feed.PublishInserted(ctx, domain.Message{
		ID: "msg1", MatchID: testMatchID, SenderID: sellerProfile, Content: "hi", CreatedAt: time.Now(),
	}))
	require.Eventually(t, func() bool { return len(buyer.conv.Messages()) == 1 }, waitFor, 5*time.Millisecond)

	msgs := buyer.conv.Messages()
	assert.Equal(t, "msg1", msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, domain.SenderOther, msgs[0].Sender)

	// the buyer's own message comes back on the feed and must not be duplicated
	_, err := buyer.conv.SendText(ctx, "", "hello")
	require.NoError(t, err)
	require.NoError(t, h.feed.PublishInserted(ctx, domain.Message{
		ID: "msg2", MatchID: testMatchID, SenderID: sellerProfile, Content: "there", CreatedAt: time.Now(),
	}))
	require.Eventually(t, func() bool { return len(buyer.conv.Messages()) == 3 }, waitFor, 5*time.Millisecond)

	ids := []string{}
	for _, m := range buyer.conv.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"msg1", "gen-1", "msg2"}, ids)
}

func TestConversation_PushBeforeHistoryIsMerged(t *testing.T) {
	h := newHarness(t)
	buyer := h.open(t, true)
	ctx := context.Background()

	require.NoError(t, h.feed.PublishInserted(ctx, domain.Message{
		ID: "early", MatchID: testMatchID, SenderID: sellerProfile, Content: "first", CreatedAt: time.Now(),
	}))
	// the same message is already committed when history is read
	_, err := h.repo.InsertMessage(ctx, domain.NewMessage{ID: "early", MatchID: testMatchID, SenderID: sellerProfile, Content: "first", CreatedAt: time.Now()})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	msgs, err := buyer.conv.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "early", msgs[0].ID)
}

func TestConversation_HistoryReSignsAttachments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.repo.InsertMessage(ctx, domain.NewMessage{
		ID: "v1", MatchID: testMatchID, SenderID: sellerProfile, CreatedAt: time.Now(),
		Attachment: &domain.Attachment{URL: "https://stale", Key: "user-b/v1.ogg", Type: "audio/ogg", IsVoiceNote: true, DurationSeconds: 4},
	})
	require.NoError(t, err)

	buyer := h.openLoaded(t, true)
	msgs := buyer.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://resigned/user-b/v1.ogg", msgs[0].Attachment.URL)

	h.up.failSigning(errors.New("kms unavailable"))
	msgs, err = buyer.conv.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://stale", msgs[0].Attachment.URL, "a signing failure keeps the stored url")
}

func TestConversation_LiveAttachmentsAreReSigned(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	ctx := context.Background()

	require.NoError(t, h.feed.PublishInserted(ctx, domain.Message{
		ID: "p1", MatchID: testMatchID, SenderID: sellerProfile, Content: domain.CaptionPhoto, CreatedAt: time.Now(),
		Attachment: &domain.Attachment{URL: "https://stale/p1", Key: "user-b/porch.jpg", Type: "image/jpeg", Name: "porch.jpg"},
	}))
	assert.Eventually(t, func() bool {
		msgs := buyer.conv.Messages()
		return len(msgs) == 1 && msgs[0].Attachment != nil &&
			msgs[0].Attachment.URL == "https://resigned/user-b/porch.jpg"
	}, waitFor, 10*time.Millisecond)

	h.up.failSigning(errors.New("kms unavailable"))
	require.NoError(t, h.feed.PublishInserted(ctx, domain.Message{
		ID: "p2", MatchID: testMatchID, SenderID: sellerProfile, Content: domain.CaptionFile, CreatedAt: time.Now(),
		Attachment: &domain.Attachment{URL: "https://stored/p2", Key: "user-b/deed.pdf", Type: "application/pdf", Name: "deed.pdf"},
	}))
	assert.Eventually(t, func() bool {
		msgs := buyer.conv.Messages()
		return len(msgs) == 2 && msgs[1].Attachment.URL == "https://stored/p2"
	}, waitFor, 10*time.Millisecond)
}

func TestConversation_HistoryLoadFailureCanRetry(t *testing.T) {
	h := newHarness(t)
	buyer := h.open(t, true)
	h.repo.fetchErr = errors.New("timeout")

	_, err := buyer.conv.LoadHistory(context.Background())
	assert.ErrorIs(t, err, domain.ErrHistoryLoad)
	assert.Empty(t, buyer.sink.ofType(domain.MsgTypeHistory))

	h.repo.fetchErr = nil
	_, err = buyer.conv.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, buyer.sink.ofType(domain.MsgTypeHistory), 1)
}

func TestConversation_VoiceNoteDurationAcrossPause(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	buyer.device.data = []byte("opus-pages")
	ctx := context.Background()

	require.NoError(t, buyer.conv.StartRecording(ctx))
	for i := 0; i < 3; i++ {
		buyer.conv.rec.Tick()
	}
	require.NoError(t, buyer.conv.PauseRecording())
	buyer.conv.rec.Tick()
	require.NoError(t, buyer.conv.ResumeRecording())
	buyer.conv.rec.Tick()
	buyer.conv.rec.Tick()

	msg, err := buyer.conv.SendVoiceNote(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, msg.Attachment)
	assert.True(t, msg.Attachment.IsVoiceNote)
	assert.Equal(t, 5, msg.Attachment.DurationSeconds)
	assert.Equal(t, recorder.Idle, buyer.conv.rec.State())

	stored, ok := h.repo.stored(msg.ID)
	require.True(t, ok)
	assert.Equal(t, 5, stored.Attachment.DurationSeconds)
	assert.Equal(t, domain.CaptionVoiceNote, msg.Content)
	assert.Equal(t, domain.CaptionVoiceNote, stored.Content)

	states := buyer.sink.ofType(domain.MsgTypeRecorderState)
	require.NotEmpty(t, states)
	assert.Equal(t, "idle", states[len(states)-1]["state"])
}

func TestConversation_VoiceNoteUploadFailure(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	buyer.device.data = []byte("opus-pages")
	h.up.uploadErr = fmt.Errorf("%w: bucket unreachable", domain.ErrUpload)
	ctx := context.Background()

	require.NoError(t, buyer.conv.StartRecording(ctx))
	buyer.conv.rec.Tick()

	_, err := buyer.conv.SendVoiceNote(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUpload)
	assert.Empty(t, buyer.conv.Messages())
	assert.Equal(t, recorder.Idle, buyer.conv.rec.State())
	assert.Equal(t, 0, h.repo.inserts)
}

func TestConversation_VoiceNoteWithoutAudio(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	ctx := context.Background()

	require.NoError(t, buyer.conv.StartRecording(ctx))
	_, err := buyer.conv.SendVoiceNote(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNoAudioCaptured)
	assert.Equal(t, 0, h.up.voiceNoteCalls())
	assert.Equal(t, recorder.Idle, buyer.conv.rec.State())
}

func TestConversation_MicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	buyer.device.openErr = errors.New("permission denied")

	err := buyer.conv.StartRecording(context.Background())
	assert.ErrorIs(t, err, domain.ErrMicrophoneAccess)
	assert.Equal(t, recorder.Idle, buyer.conv.rec.State())

	assert.ErrorIs(t, buyer.conv.PauseRecording(), domain.ErrInvalidTransition)
}

func TestConversation_SendAttachment(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	ctx := context.Background()

	msg, err := buyer.conv.SendAttachment(ctx, uploader.File{Name: "kitchen.jpg", ContentType: "image/jpeg", Reader: strings.NewReader("jpeg")}, "")
	require.NoError(t, err)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "kitchen.jpg", msg.Attachment.Name)
	assert.Equal(t, domain.CaptionPhoto, msg.Content)
	stored, ok := h.repo.stored(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.CaptionPhoto, stored.Content)

	select {
	case n := <-h.dispatcher.sent:
		assert.Equal(t, domain.CaptionPhoto, n.Preview)
	case <-time.After(waitFor):
		t.Fatal("no push notification dispatched")
	}

	h.up.uploadErr = fmt.Errorf("%w: quota", domain.ErrUpload)
	_, err = buyer.conv.SendAttachment(ctx, uploader.File{Name: "b.pdf", Reader: strings.NewReader("pdf")}, "floor plan")
	assert.ErrorIs(t, err, domain.ErrUpload)
	assert.Len(t, buyer.conv.Messages(), 1, "a failed upload creates no message")
}

func TestConversation_DeleteMessage(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	seller := h.openLoaded(t, false)
	ctx := context.Background()

	msg, err := buyer.conv.SendText(ctx, "", "oops")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(seller.conv.Messages()) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, buyer.conv.DeleteMessage(ctx, msg.ID))
	assert.Empty(t, buyer.conv.Messages())
	stored, _ := h.repo.stored(msg.ID)
	assert.NotNil(t, stored.DeletedAt)
	require.Eventually(t, func() bool { return len(seller.conv.Messages()) == 0 }, waitFor, 5*time.Millisecond)
	assert.Len(t, seller.sink.ofType(domain.MsgTypeMessageRemoved), 1)

	other, err := seller.conv.SendText(ctx, "", "mine")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(buyer.conv.Messages()) == 1 }, waitFor, 5*time.Millisecond)
	assert.ErrorIs(t, buyer.conv.DeleteMessage(ctx, other.ID), domain.ErrNotOwner)
	assert.ErrorIs(t, buyer.conv.DeleteMessage(ctx, "unknown"), domain.ErrMessageNotFound)

	h.repo.insertErr = errors.New("down")
	failed, _ := buyer.conv.SendText(ctx, "", "never stored")
	require.Equal(t, domain.StatusFailed, failed.Status)
	require.NoError(t, buyer.conv.DeleteMessage(ctx, failed.ID))
	assert.Len(t, buyer.conv.Messages(), 1)
}

func TestConversation_DeleteConversation(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	seller := h.openLoaded(t, false)
	seller.device.data = []byte("opus")
	ctx := context.Background()

	require.NoError(t, seller.conv.StartRecording(ctx))
	require.NoError(t, buyer.conv.DeleteConversation(ctx))

	_, err := buyer.conv.SendText(ctx, "", "hello?")
	assert.ErrorIs(t, err, domain.ErrConversationClosed)
	closed := buyer.sink.ofType(domain.MsgTypeConversationClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonDeletedBySelf, closed[0]["reason"])
	assert.Equal(t, [][]string{{testMatchID, buyerUserID, sellerUserID}}, h.invalidator.calls)

	require.Eventually(t, func() bool {
		return len(seller.sink.ofType(domain.MsgTypeConversationClosed)) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, ReasonDeletedByCounterpart, seller.sink.ofType(domain.MsgTypeConversationClosed)[0]["reason"])
	_, err = seller.conv.SendText(ctx, "", "wait")
	assert.ErrorIs(t, err, domain.ErrConversationClosed)
	assert.Equal(t, recorder.Idle, seller.conv.rec.State())
	assert.True(t, seller.device.last().isReleased())
}

func TestConversation_PlaybackArbitration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.repo.InsertMessage(ctx, domain.NewMessage{
		ID: "v1", MatchID: testMatchID, SenderID: sellerProfile, CreatedAt: time.Now(),
		Attachment: &domain.Attachment{Key: "user-b/v1.ogg", Type: "audio/ogg", IsVoiceNote: true},
	})
	require.NoError(t, err)
	buyer := h.openLoaded(t, true)

	st, err := buyer.conv.Play(ctx, "v1", "")
	require.NoError(t, err)
	assert.True(t, st.Playing)
	active := buyer.player.active()
	require.Len(t, active, 1)
	assert.Equal(t, "https://resigned/user-b/v1.ogg", active[0].url)

	st, err = buyer.conv.Play(ctx, "v1", "")
	require.NoError(t, err)
	assert.False(t, st.Playing, "second tap on the playing note stops it")
	assert.Empty(t, buyer.player.active())

	_, err = buyer.conv.Play(ctx, "m1", "https://a")
	require.NoError(t, err)
	_, err = buyer.conv.Play(ctx, "m2", "https://b")
	require.NoError(t, err)
	active = buyer.player.active()
	require.Len(t, active, 1)
	assert.Equal(t, "https://b", active[0].url)

	for _, want := range []float64{1.5, 2, 1} {
		got, err := buyer.conv.CycleSpeed(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = buyer.conv.Play(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	assert.False(t, buyer.conv.StopPlayback().Playing)
	assert.Empty(t, buyer.player.active())
}

func TestConversation_PlaybackFailureReported(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)

	_, err := buyer.conv.Play(context.Background(), "m1", "https://a")
	require.NoError(t, err)
	src := buyer.player.active()[0]
	src.events.Failed(errors.New("decode error"))

	errs := buyer.sink.ofType(domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodePlayback, errs[0]["code"])
	assert.Equal(t, "m1", errs[0]["message_id"])
	assert.Empty(t, buyer.player.active())
}

func TestConversation_CloseReleasesResources(t *testing.T) {
	h := newHarness(t)
	buyer := h.openLoaded(t, true)
	buyer.device.data = []byte("opus")
	ctx := context.Background()

	present, _ := h.presence.IsPresent(ctx, testMatchID, buyerProfile)
	assert.True(t, present)
	assert.Equal(t, 1, h.ps.Subscribers(pubsub.MatchChannel(testMatchID)))

	require.NoError(t, buyer.conv.StartRecording(ctx))
	_, err := buyer.conv.Play(ctx, "m1", "https://a")
	require.NoError(t, err)

	buyer.conv.Close()
	buyer.conv.Close()

	assert.Equal(t, 0, h.ps.Subscribers(pubsub.MatchChannel(testMatchID)))
	assert.True(t, buyer.device.last().isReleased())
	assert.Empty(t, buyer.player.active())
	present, _ = h.presence.IsPresent(ctx, testMatchID, buyerProfile)
	assert.False(t, present)

	assert.ErrorIs(t, buyer.conv.StartRecording(ctx), domain.ErrInvalidTransition)
	_, err = buyer.conv.Play(ctx, "m1", "https://a")
	assert.ErrorIs(t, err, domain.ErrPlayback)
}

func TestPresenceFilter(t *testing.T) {
	ctx := context.Background()
	presence := registry.NewMemoryRegistry()
	next := newFakeDispatcher()
	f := &presenceFilter{next: next, presence: presence}
	n := notify.Notification{MatchID: testMatchID, RecipientProfileID: sellerProfile}

	require.NoError(t, presence.Register(ctx, testMatchID, sellerProfile))
	require.NoError(t, f.Dispatch(ctx, n))
	assert.Empty(t, next.sent)

	require.NoError(t, presence.Deregister(ctx, testMatchID, sellerProfile))
	require.NoError(t, f.Dispatch(ctx, n))
	assert.Len(t, next.sent, 1)
}
