package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	messages []domain.Message
	err      error
	calls    int
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func msg(id, sender, text string) domain.Message {
	return domain.Message{ID: id, MatchID: "m1", SenderID: sender, Content: text, CreatedAt: time.Now()}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadHistoryTagsSenders(t *testing.T) {
	deletedAt := time.Now()
	gone := msg("x", "userB", "deleted")
	gone.DeletedAt = &deletedAt

	f := &fakeFetcher{messages: []domain.Message{
		msg("1", "userA", "hello"),
		msg("2", "userB", "hi"),
		gone,
	}}
	m := New("m1", "userA", f)

	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.SenderSelf, got[0].Sender)
	assert.Equal(t, domain.SenderOther, got[1].Sender)
	assert.Equal(t, domain.StatusSent, got[0].Status)
	assert.True(t, m.Loaded())
}

func TestLoadHistoryFailureLeavesListUntouched(t *testing.T) {
	cause := errors.New("db unavailable")
	m := New("m1", "userA", &fakeFetcher{err: cause})

	_, err := m.LoadHistory(context.Background())
	assert.ErrorIs(t, err, domain.ErrHistoryLoad)
	assert.ErrorIs(t, err, cause)
	assert.False(t, m.Loaded())
	assert.Zero(t, m.Len())
}

func TestRemotePushIntoEmptyHistory(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	assert.True(t, m.IngestRemote(msg("msg1", "userB", "hi")))

	got := m.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "msg1", got[0].ID)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, domain.SenderOther, got[0].Sender)
}

func TestAppendLocalIsImmediate(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})

	out := m.AppendLocal(msg("l1", "userA", "hello"))

	assert.Equal(t, domain.SenderSelf, out.Sender)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Nil(t, out.Attachment)
	require.Equal(t, 1, m.Len())
	assert.Equal(t, "hello", m.Messages()[0].Content)
}

func TestIngestRemoteIgnoresOwnMessages(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	m.AppendLocal(msg("l1", "userA", "hello"))
	before := m.Len()

	assert.False(t, m.IngestRemote(msg("l1", "userA", "hello")))
	assert.False(t, m.IngestRemote(msg("other-id", "userA", "echo")))
	assert.Equal(t, before, m.Len())
}

func TestNoDuplicatesAndCallOrder(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	m.AppendLocal(msg("a1", "userA", "1"))
	m.IngestRemote(msg("b1", "userB", "2"))
	m.AppendLocal(msg("a2", "userA", "3"))
	m.IngestRemote(msg("b1", "userB", "2 again"))
	m.AppendLocal(msg("a1", "userA", "dup"))
	m.IngestRemote(msg("b2", "userB", "4"))

	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, ids(m.Messages()))
	assert.Equal(t, "1", m.Messages()[0].Content)
}

func TestPushBeforeHistoryIsMerged(t *testing.T) {
	f := &fakeFetcher{messages: []domain.Message{msg("h1", "userB", "old"), msg("p1", "userB", "raced")}}
	m := New("m1", "userA", f)

	assert.True(t, m.IngestRemote(msg("p1", "userB", "raced")))
	assert.True(t, m.IngestRemote(msg("p2", "userB", "new")))
	assert.Zero(t, m.Len())

	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "p1", "p2"}, ids(got))
}

func TestLocalSendBeforeHistoryIsKept(t *testing.T) {
	f := &fakeFetcher{messages: []domain.Message{msg("h1", "userB", "old")}}
	m := New("m1", "userA", f)

	m.AppendLocal(msg("l1", "userA", "early"))

	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "l1"}, ids(got))
}

func TestReloadKeepsUnconfirmedLocalSends(t *testing.T) {
	f := &fakeFetcher{messages: []domain.Message{msg("h1", "userB", "old")}}
	m := New("m1", "userA", f)
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	m.AppendLocal(msg("l1", "userA", "failed send"))
	m.MarkFailed("l1")
	m.IngestRemote(msg("r1", "userB", "pushed"))

	f.messages = []domain.Message{msg("h1", "userB", "old"), msg("r1", "userB", "pushed")}
	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "r1", "l1"}, ids(got))
	assert.Equal(t, domain.StatusFailed, got[2].Status)
}

// snapshotFetcher returns rows captured before onFetch runs, mimicking
// writes that commit after the query snapshot but before it returns.
type snapshotFetcher struct {
	rows    []domain.Message
	onFetch func()
}

func (f *snapshotFetcher) FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error) {
	rows := append([]domain.Message(nil), f.rows...)
	if f.onFetch != nil {
		f.onFetch()
	}
	return rows, nil
}

func TestReloadKeepsMessagesMissingFromSnapshot(t *testing.T) {
	f := &snapshotFetcher{rows: []domain.Message{msg("h1", "userB", "old")}}
	m := New("m1", "userA", f)
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	f.onFetch = func() {
		m.AppendLocal(msg("l1", "userA", "confirmed late"))
		m.MarkSent("l1")
		assert.True(t, m.IngestRemote(msg("r1", "userB", "pushed late")))
	}
	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "l1", "r1"}, ids(got))
	assert.Equal(t, domain.StatusSent, got[1].Status)
	assert.Equal(t, domain.SenderOther, got[2].Sender)

	// A later reload that does include them does not duplicate anything.
	f.onFetch = nil
	f.rows = []domain.Message{msg("h1", "userB", "old"), msg("l1", "userA", "confirmed late"), msg("r1", "userB", "pushed late")}
	got, err = m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "l1", "r1"}, ids(got))
}

func TestReloadDropsRowsDeletedUpstream(t *testing.T) {
	f := &fakeFetcher{messages: []domain.Message{msg("h1", "userB", "old"), msg("h2", "userB", "gone soon")}}
	m := New("m1", "userA", f)
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	deleted := msg("h2", "userB", "gone soon")
	now := time.Now()
	deleted.DeletedAt = &now
	f.messages = []domain.Message{msg("h1", "userB", "old"), deleted}
	got, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, ids(got))
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	m.AppendLocal(msg("a", "userA", "1"))
	m.AppendLocal(msg("b", "userA", "2"))
	m.AppendLocal(msg("c", "userA", "3"))

	assert.True(t, m.SoftDelete("b"))
	assert.False(t, m.SoftDelete("b"))
	assert.False(t, m.SoftDelete("missing"))
	assert.Equal(t, []string{"a", "c"}, ids(m.Messages()))

	// index must still resolve after removal
	got, ok := m.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", got.Content)

	// a late push of a deleted id is not resurrected
	assert.False(t, m.IngestRemote(msg("b", "userB", "2")))
}

func TestFailedInsertKeepsEntry(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	m.AppendLocal(msg("a", "userA", "1"))

	updated, ok := m.MarkFailed("a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, updated.Status)
	assert.Equal(t, 1, m.Len())

	_, ok = m.MarkSent("missing")
	assert.False(t, ok)
}

func TestObserverSeesChanges(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})

	var kinds []ChangeKind
	m.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)
	m.AppendLocal(msg("a", "userA", "1"))
	m.MarkSent("a")
	m.SoftDelete("a")

	assert.Equal(t, []ChangeKind{ChangeReset, ChangeAdded, ChangeUpdated, ChangeRemoved}, kinds)
}

func TestConcurrentAppendsStayUnique(t *testing.T) {
	m := New("m1", "userA", &fakeFetcher{})
	_, err := m.LoadHistory(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("id-%d", i%10)
		go func() {
			defer wg.Done()
			m.AppendLocal(msg(id, "userA", "x"))
		}()
		go func() {
			defer wg.Done()
			m.IngestRemote(msg("r-"+id, "userB", "y"))
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, got := range m.Messages() {
		assert.False(t, seen[got.ID], "duplicate %s", got.ID)
		seen[got.ID] = true
	}
	assert.Len(t, seen, 20)
}
