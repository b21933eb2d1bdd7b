// Package chat holds the client-side session synchronizer: it folds the relay's
// event stream and the foreground signal into one consistent session state and
// decides which inbound messages count as unread and which raise a notification.
//
// A Synchronizer is owned by a single event loop. Handle, SetForeground and the
// commands must all be called from that loop; none of them block.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudzz-dev/relaychat/internal/client/notify"
	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"go.uber.org/zap"
)

// DefaultNotifyDelay is how far in the future notifications are scheduled.
const DefaultNotifyDelay = 100 * time.Millisecond

type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Phase is the join state, independent of Status.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseJoined
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	default:
		return "idle"
	}
}

// Channel is the outbound half of the transport.
type Channel interface {
	Emit(event string, payload interface{}) error
}

// ForegroundSource reports application focus. Subscribe callbacks must arrive on
// the synchronizer's event loop.
type ForegroundSource interface {
	Foreground() bool
	Subscribe(fn func(active bool)) (cancel func())
}

// State is a read-only copy of the session handed to the view.
type State struct {
	Status     Status
	Phase      Phase
	Username   string
	LocalID    string
	Presence   []protocol.Participant
	ActiveID   string
	Foreground bool
}

type Synchronizer struct {
	ch          Channel
	sink        notify.Sink
	log         *zap.Logger
	now         func() time.Time
	notifyDelay time.Duration
	unsubscribe func()

	// expectSelfConfirm selects username+id matching; otherwise the local
	// participant is found by username alone.
	expectSelfConfirm bool
	selfConfirmed     bool
	presenceSeen      bool

	status      Status
	phase       Phase
	pendingName string
	localID     string
	presence    []protocol.Participant
	activeID    string
	foreground  bool
	messages    []protocol.Message
	unread      map[string]int
}

type Option func(*Synchronizer)

func WithLogger(log *zap.Logger) Option {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now when stamping notification delivery times.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func WithNotifyDelay(d time.Duration) Option {
	return func(s *Synchronizer) { s.notifyDelay = d }
}

// WithoutSelfConfirmation is for relays that never send user_joined: the
// local participant is then matched by username once connected.
func WithoutSelfConfirmation() Option {
	return func(s *Synchronizer) { s.expectSelfConfirm = false }
}

// New creates a synchronizer in the Idle phase. ch and sink may be nil; a nil
// fg means the application is treated as always in the foreground.
func New(ch Channel, sink notify.Sink, fg ForegroundSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		ch:                ch,
		sink:              sink,
		log:               zap.NewNop(),
		now:               time.Now,
		notifyDelay:       DefaultNotifyDelay,
		expectSelfConfirm: true,
		foreground:        true,
		unread:            make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	if fg != nil {
		s.foreground = fg.Foreground()
		s.unsubscribe = fg.Subscribe(s.SetForeground)
	}
	return s
}

// Close ends the session. Later commands are no-ops and foreground changes
// are no longer observed. Already scheduled notifications still fire.
func (s *Synchronizer) Close() {
	s.ch = nil
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// --- Inbound ---

// Handle applies one inbound event. Invalid events are logged and dropped.
func (s *Synchronizer) Handle(ev protocol.Event) {
	if ev == nil {
		return
	}
	if err := ev.Validate(); err != nil {
		s.log.Warn("dropping malformed event", zap.String("type", ev.Type()), zap.Error(err))
		return
	}

	switch ev := ev.(type) {
	case protocol.Connected:
		s.status = Connected
		s.reconcileJoin()

	case protocol.Disconnected:
		s.status = Disconnected

	case protocol.UsersUpdated:
		s.presence = append([]protocol.Participant(nil), ev.Participants...)
		s.presenceSeen = true
		s.reconcileJoin()

	case protocol.UserJoined:
		s.localID = ev.UserID
		s.selfConfirmed = true
		s.reconcileJoin()

	case protocol.MessageReceived:
		s.receive(ev.Message)

	case protocol.ChatHistory:
		s.messages = append([]protocol.Message(nil), ev.Messages...)

	default:
		s.log.Warn("ignoring unsupported event", zap.String("type", ev.Type()))
	}
}

// SetForeground records a focus transition. Unread counts are not revisited.
func (s *Synchronizer) SetForeground(active bool) {
	s.foreground = active
}

// reconcileJoin moves Joining to Joined once the local participant is
// identifiable in the presence snapshot.
func (s *Synchronizer) reconcileJoin() {
	if s.phase != PhaseJoining || !s.presenceSeen {
		return
	}

	var match func(p protocol.Participant) bool
	if s.expectSelfConfirm {
		if !s.selfConfirmed {
			return
		}
		match = func(p protocol.Participant) bool {
			return p.ID == s.localID && p.Username == s.pendingName
		}
	} else {
		if s.status != Connected {
			return
		}
		match = func(p protocol.Participant) bool {
			return p.Username == s.pendingName
		}
	}

	for _, p := range s.presence {
		if match(p) {
			s.localID = p.ID
			s.phase = PhaseJoined
			s.log.Info("joined", zap.String("user_id", p.ID), zap.String("username", p.Username))
			return
		}
	}
}

func (s *Synchronizer) receive(m protocol.Message) {
	s.messages = append(s.messages, m)

	if s.localID != "" && m.SenderID == s.localID {
		return
	}

	// Read at handling time, not at send time.
	watching := s.activeID == m.SenderID && s.foreground
	if watching {
		return
	}

	s.unread[m.SenderID]++
	s.alert(m)
}

func (s *Synchronizer) alert(m protocol.Message) {
	if s.sink == nil {
		return
	}

	name := m.SenderName
	if name == "" {
		name = s.usernameOf(m.SenderID)
	}

	n := notify.Notification{
		Title:     fmt.Sprintf("New message from %s", name),
		Body:      m.Content,
		Payload:   notify.Payload{SenderID: m.SenderID, SenderName: name},
		DeliverAt: s.now().Add(s.notifyDelay),
	}
	if err := s.sink.Schedule(n); err != nil {
		s.log.Warn("failed to schedule notification", zap.String("sender_id", m.SenderID), zap.Error(err))
	}
}

// --- Commands ---

// Join asks the relay to register username. Only valid from Idle.
func (s *Synchronizer) Join(username string) {
	username = strings.TrimSpace(username)
	if username == "" || s.phase != PhaseIdle {
		return
	}
	if !s.emit(protocol.TypeJoin, protocol.JoinPayload{Username: username}) {
		return
	}
	s.pendingName = username
	s.phase = PhaseJoining
	s.reconcileJoin()
}

// CancelJoin abandons a join the relay never confirmed and returns to Idle so
// Join can be retried. It is a no-op outside Joining.
func (s *Synchronizer) CancelJoin() {
	if s.phase != PhaseJoining {
		return
	}
	s.phase = PhaseIdle
	s.pendingName = ""
	s.selfConfirmed = false
}

// StartConversation makes id the active conversation and clears its unread
// count. id must be in the current presence snapshot.
func (s *Synchronizer) StartConversation(id string) {
	if s.phase != PhaseJoined || !s.present(id) {
		return
	}
	if !s.emit(protocol.TypeStartChat, protocol.StartChatPayload{UserID: id}) {
		return
	}
	s.activeID = id
	delete(s.unread, id)
}

// SendMessage sends content to the active conversation.
func (s *Synchronizer) SendMessage(content string) {
	content = strings.TrimSpace(content)
	if content == "" || s.phase != PhaseJoined || s.activeID == "" {
		return
	}
	s.emit(protocol.TypeSendMessage, protocol.SendMessagePayload{
		ReceiverID: s.activeID,
		Content:    content,
	})
}

// MarkRead clears the unread count for id.
func (s *Synchronizer) MarkRead(id string) {
	delete(s.unread, id)
}

// LeaveConversation drops the active conversation and its messages locally.
func (s *Synchronizer) LeaveConversation() {
	s.activeID = ""
	s.messages = nil
}

func (s *Synchronizer) emit(event string, payload interface{}) bool {
	if s.ch == nil {
		s.log.Debug("channel unavailable", zap.String("event", event))
		return false
	}
	if err := s.ch.Emit(event, payload); err != nil {
		s.log.Debug("emit failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

// --- Queries ---

func (s *Synchronizer) Snapshot() State {
	return State{
		Status:     s.status,
		Phase:      s.phase,
		Username:   s.pendingName,
		LocalID:    s.localID,
		Presence:   append([]protocol.Participant(nil), s.presence...),
		ActiveID:   s.activeID,
		Foreground: s.foreground,
	}
}

func (s *Synchronizer) Phase() Phase { return s.phase }

// Self returns the local participant from the latest presence snapshot.
func (s *Synchronizer) Self() (protocol.Participant, bool) {
	if s.localID == "" {
		return protocol.Participant{}, false
	}
	for _, p := range s.presence {
		if p.ID == s.localID {
			return p, true
		}
	}
	return protocol.Participant{}, false
}

// Messages returns a copy of the conversation messages in arrival order.
func (s *Synchronizer) Messages() []protocol.Message {
	return append([]protocol.Message(nil), s.messages...)
}

// Conversation returns the messages exchanged between the local participant
// and peer, in arrival order.
func (s *Synchronizer) Conversation(peer string) []protocol.Message {
	var out []protocol.Message
	for _, m := range s.messages {
		if m.Between(s.localID, peer) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Synchronizer) Unread(id string) int {
	return s.unread[id]
}

func (s *Synchronizer) UnreadCounts() map[string]int {
	out := make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		out[id] = n
	}
	return out
}

func (s *Synchronizer) TotalUnread() int {
	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

func (s *Synchronizer) present(id string) bool {
	for _, p := range s.presence {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *Synchronizer) usernameOf(id string) string {
	for _, p := range s.presence {
		if p.ID == id {
			return p.Username
		}
	}
	return id
}
