// Package store keeps the ordered message list of one open conversation.
//
// Messages reach the list from three places: the history fetch, local sends
// (optimistic) and live pushes from the other participant. The Merger
// de-duplicates by message id so the arrival order of those sources does not
// matter.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
)

// HistoryFetcher returns the non-deleted messages of a match, oldest first.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error)
}

// ChangeKind identifies what happened to the list.
type ChangeKind int

const (
	ChangeReset ChangeKind = iota
	ChangeAdded
	ChangeUpdated
	ChangeRemoved
)

// Change describes one mutation. Messages is only set for ChangeReset.
type Change struct {
	Kind     ChangeKind
	Message  domain.Message
	Messages []domain.Message
}

// Merger is the single owner of the in-memory message list.
type Merger struct {
	matchID  string
	viewerID string
	fetcher  HistoryFetcher

	mu       sync.Mutex
	loaded   bool
	messages []domain.Message
	index    map[string]int
	// early holds remote pushes that arrived before history finished loading.
	early    []domain.Message
	deleted  map[string]struct{}
	onChange func(Change)
}

// New creates a Merger for viewerID's view of matchID.
func New(matchID, viewerID string, fetcher HistoryFetcher) *Merger {
	return &Merger{
		matchID:  matchID,
		viewerID: viewerID,
		fetcher:  fetcher,
		index:    make(map[string]int),
		deleted:  make(map[string]struct{}),
	}
}

// OnChange registers fn to be called after each mutation. fn runs outside
// the Merger's lock.
func (m *Merger) OnChange(fn func(Change)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// MatchID returns the conversation this Merger belongs to.
func (m *Merger) MatchID() string { return m.matchID }

// ViewerID returns the viewer's profile id.
func (m *Merger) ViewerID() string { return m.viewerID }

// LoadHistory fetches the conversation and merges it with anything appended
// or pushed while the fetch was in flight. On failure the list is left as it
// was and the Merger stays unloaded.
func (m *Merger) LoadHistory(ctx context.Context) ([]domain.Message, error) {
	history, err := m.fetcher.FetchMessages(ctx, m.matchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHistoryLoad, err)
	}

	m.mu.Lock()
	next := make([]domain.Message, 0, len(history)+len(m.messages)+len(m.early))
	index := make(map[string]int, cap(next))
	add := func(msg domain.Message) {
		if _, dup := index[msg.ID]; dup {
			return
		}
		if _, gone := m.deleted[msg.ID]; gone {
			return
		}
		index[msg.ID] = len(next)
		next = append(next, msg)
	}

	for _, msg := range history {
		if msg.DeletedAt != nil {
			m.deleted[msg.ID] = struct{}{}
			continue
		}
		msg = msg.Clone()
		msg.Sender = m.senderOf(msg.SenderID)
		msg.Status = domain.StatusSent
		add(msg)
	}

	// Entries the fetch did not return (local sends, pushes that landed after
	// the snapshot) stay after history in their current order. Rows present
	// in both keep the fetched copy.
	for _, msg := range m.messages {
		add(msg)
	}
	for _, msg := range m.early {
		add(msg)
	}

	m.messages = next
	m.index = index
	m.early = nil
	m.loaded = true

	snapshot := m.snapshotLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeReset, Messages: snapshot})
	}
	return snapshot, nil
}

// AppendLocal adds a message the viewer just sent to the tail of the list.
// It never fails; a message whose id is already present is left untouched
// and the existing copy is returned.
func (m *Merger) AppendLocal(msg domain.Message) domain.Message {
	msg = msg.Clone()
	msg.Sender = domain.SenderSelf
	if msg.Status == "" {
		msg.Status = domain.StatusPending
	}

	m.mu.Lock()
	if i, ok := m.index[msg.ID]; ok {
		existing := m.messages[i].Clone()
		m.mu.Unlock()
		return existing
	}
	m.appendLocked(msg)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeAdded, Message: msg.Clone()})
	}
	return msg.Clone()
}

// IngestRemote applies a live insert event. Events for the viewer's own
// messages, already-present ids and deleted ids are ignored. Events that
// arrive before history has loaded are held and merged by LoadHistory.
// It reports whether the event was accepted.
func (m *Merger) IngestRemote(msg domain.Message) bool {
	if msg.SenderID == m.viewerID || msg.DeletedAt != nil {
		return false
	}
	msg = msg.Clone()
	msg.Sender = domain.SenderOther
	msg.Status = domain.StatusSent

	m.mu.Lock()
	if _, gone := m.deleted[msg.ID]; gone {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.index[msg.ID]; ok {
		m.mu.Unlock()
		return false
	}
	if !m.loaded {
		for _, e := range m.early {
			if e.ID == msg.ID {
				m.mu.Unlock()
				return false
			}
		}
		m.early = append(m.early, msg)
		m.mu.Unlock()
		return true
	}
	m.appendLocked(msg)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeAdded, Message: msg.Clone()})
	}
	return true
}

// SoftDelete removes id from the list. The id is remembered so a late push
// or reload does not bring it back. Deleting an absent id is a no-op; the
// return value reports whether anything was removed.
func (m *Merger) SoftDelete(id string) bool {
	m.mu.Lock()
	m.deleted[id] = struct{}{}

	for i, e := range m.early {
		if e.ID == id {
			m.early = append(m.early[:i], m.early[i+1:]...)
			break
		}
	}

	i, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	removed := m.messages[i]
	m.messages = append(m.messages[:i], m.messages[i+1:]...)
	m.reindexLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeRemoved, Message: removed})
	}
	return true
}

// MarkSent records that id was persisted.
func (m *Merger) MarkSent(id string) (domain.Message, bool) {
	return m.setStatus(id, domain.StatusSent)
}

// MarkFailed records that persisting id failed. The entry stays in the list.
func (m *Merger) MarkFailed(id string) (domain.Message, bool) {
	return m.setStatus(id, domain.StatusFailed)
}

// MarkPending flags id as being retried.
func (m *Merger) MarkPending(id string) (domain.Message, bool) {
	return m.setStatus(id, domain.StatusPending)
}

func (m *Merger) setStatus(id string, status domain.SendStatus) (domain.Message, bool) {
	m.mu.Lock()
	i, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return domain.Message{}, false
	}
	m.messages[i].Status = status
	updated := m.messages[i].Clone()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(Change{Kind: ChangeUpdated, Message: updated.Clone()})
	}
	return updated, true
}

// Get returns the message with the given id.
func (m *Merger) Get(id string) (domain.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return m.messages[i].Clone(), true
}

// Messages returns a copy of the ordered list.
func (m *Merger) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Len returns the number of messages in the list.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Loaded reports whether history has been merged at least once.
func (m *Merger) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Merger) senderOf(senderID string) domain.Sender {
	if senderID == m.viewerID {
		return domain.SenderSelf
	}
	return domain.SenderOther
}

func (m *Merger) appendLocked(msg domain.Message) {
	m.index[msg.ID] = len(m.messages)
	m.messages = append(m.messages, msg)
}

func (m *Merger) reindexLocked() {
	m.index = make(map[string]int, len(m.messages))
	for i, msg := range m.messages {
		m.index[msg.ID] = i
	}
}

func (m *Merger) snapshotLocked() []domain.Message {
	out := make([]domain.Message, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Clone()
	}
	return out
}
