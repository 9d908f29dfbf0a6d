package hub

import (
	"sync"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// Hub tracks connected clients and the conversation each one has open.
// Message fan-out between participants goes through the realtime feed; the
// hub only owns connection lifetimes.
type Hub struct {
	clients       map[string]*Client            // clientID -> client
	conversations map[string]map[string]*Client // matchID -> clientID -> client
	register      chan *Client
	unregister    chan *Client
	done          chan struct{}
	stopOnce      sync.Once
	mu            sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		conversations: make(map[string]map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			l := log.L()
			l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.closeSend()
			}
			h.conversations = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client's send channel and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for matchID, members := range h.conversations {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.conversations, matchID)
		}
	}
	delete(h.clients, client.ID)
	client.closeSend()
}

// JoinConversation records that client is viewing matchID. A client views
// at most one conversation, so any previous membership is dropped.
func (h *Hub) JoinConversation(client *Client, matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(client)
	if _, ok := h.conversations[matchID]; !ok {
		h.conversations[matchID] = make(map[string]*Client)
	}
	h.conversations[matchID][client.ID] = client
	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldMatchID, matchID).Msg("client joined conversation")
}

func (h *Hub) LeaveConversation(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(client)
}

func (h *Hub) leaveAllLocked(client *Client) {
	for matchID, members := range h.conversations {
		if _, ok := members[client.ID]; !ok {
			continue
		}
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.conversations, matchID)
		}
		l := log.L()
		l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldMatchID, matchID).Msg("client left conversation")
	}
}

func (h *Hub) ConversationClientCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[matchID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
