// Package relay is a development message relay speaking the client protocol:
// join, start_chat and send_message in; users_updated, user_joined,
// message_received and chat_history out.
package relay

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"github.com/cloudzz-dev/relaychat/internal/server/ratelimit"
	"github.com/cloudzz-dev/relaychat/internal/server/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultHistoryLimit = 100

type Hub struct {
	Store        storage.Store
	Limiter      *ratelimit.RateLimiter
	Log          *zap.Logger
	HistoryLimit int

	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	clients map[*Client]bool // joined clients only
}

func NewHub(store storage.Store, limiter *ratelimit.RateLimiter, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		Store:        store,
		Limiter:      limiter,
		Log:          log,
		HistoryLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        uuid.NewString,
		clients:      make(map[*Client]bool),
	}
}

// Online returns the number of joined clients.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *Client, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		return
	}
	if h.Limiter != nil && !h.Limiter.CanJoin(c.IP) {
		h.Log.Warn("join rate limited", zap.String("ip", c.IP))
		return
	}

	h.mu.Lock()
	if c.ID == "" {
		c.ID = h.newID()
	}
	c.Username = username
	h.clients[c] = true
	h.mu.Unlock()

	h.Log.Info("user joined", zap.String("user_id", c.ID), zap.String("username", username))

	h.deliver(c, protocol.TypeUserJoined, protocol.UserJoinedPayload{UserID: c.ID, Username: username})
	h.broadcastPresence()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, joined := h.clients[c]
	delete(h.clients, c)
	close(c.Send)
	h.mu.Unlock()

	if joined {
		h.Log.Info("user left", zap.String("user_id", c.ID), zap.String("username", c.Username))
		h.broadcastPresence()
	}
}

func (h *Hub) startChat(ctx context.Context, c *Client, peerID string) {
	if !h.joined(c) || peerID == "" {
		return
	}

	msgs, err := h.Store.History(ctx, c.ID, peerID, h.HistoryLimit)
	if err != nil {
		h.Log.Error("load history", zap.String("user_id", c.ID), zap.String("peer_id", peerID), zap.Error(err))
		return
	}
	h.deliver(c, protocol.TypeChatHistory, msgs)
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, p protocol.SendMessagePayload) {
	if !h.joined(c) || strings.TrimSpace(p.Content) == "" {
		return
	}
	receiver := h.byID(p.ReceiverID)
	if receiver == nil {
		h.Log.Debug("receiver not online", zap.String("receiver_id", p.ReceiverID))
		return
	}

	msg := protocol.Message{
		ID:         h.newID(),
		SenderID:   c.ID,
		SenderName: c.Username,
		ReceiverID: receiver.ID,
		Content:    p.Content,
		Timestamp:  h.now().UTC(),
	}
	if err := h.Store.SaveMessage(ctx, msg); err != nil {
		h.Log.Error("save message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	h.deliver(receiver, protocol.TypeMessageReceived, msg)
	if receiver != c {
		h.deliver(c, protocol.TypeMessageReceived, msg)
	}
}

func (h *Hub) presence() []protocol.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]protocol.Participant, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, protocol.Participant{ID: c.ID, Username: c.Username, Online: true})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *Hub) broadcastPresence() {
	data, err := protocol.Encode(protocol.TypeUsersUpdated, h.presence())
	if err != nil {
		h.Log.Error("encode presence", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.push(c, data)
	}
}

// deliver sends one event to c if it is still registered.
func (h *Hub) deliver(c *Client, msgType string, payload interface{}) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		h.Log.Error("encode event", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		h.push(c, data)
	}
}

// push must be called with h.mu held; unregister closes Send under the write
// lock.
func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.Log.Warn("send buffer full, dropping event", zap.String("user_id", c.ID))
	}
}

func (h *Hub) joined(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[c]
}

func (h *Hub) byID(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.ID == id {
			return c
		}
	}
	return nil
}
