package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudzz-dev/relaychat/internal/client/chat"
	"github.com/cloudzz-dev/relaychat/internal/client/focus"
	"github.com/cloudzz-dev/relaychat/internal/client/notify"
	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"go.uber.org/zap"
)

const (
	bannerTTL = 4 * time.Second
	testDelay = time.Second
)

type viewState int

const (
	viewLogin viewState = iota
	viewUsers
	viewChat
)

// --- Messages ---

type eventMsg struct {
	ev protocol.Event
}

type transportClosedMsg struct{}

type alertMsg struct {
	n notify.Notification
}

type clearBannerMsg struct {
	id int64
}

// --- Model ---

type model struct {
	session  *chat.Synchronizer
	events   <-chan protocol.Event
	focus    *focus.Tracker
	sink     notify.Sink
	log      *zap.Logger
	now      func() time.Time
	onJoined func(username string)
	onForget func()

	usernameInput textinput.Model
	searchInput   textinput.Model
	messageInput  textinput.Model
	chatViewport  viewport.Model

	server    string
	view      viewState
	selected  int
	searching bool
	notice    string
	bannerID  int64
	banner    string
	closed    bool
	width     int
	height    int
}

func newModel(session *chat.Synchronizer, events <-chan protocol.Event, tracker *focus.Tracker, sink notify.Sink, log *zap.Logger) model {
	if log == nil {
		log = zap.NewNop()
	}

	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.Focus()
	usernameInput.CharLimit = 32
	usernameInput.Width = 30

	searchInput := textinput.New()
	searchInput.Placeholder = "Search users..."
	searchInput.CharLimit = 32
	searchInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	return model{
		session:       session,
		events:        events,
		focus:         tracker,
		sink:          sink,
		log:           log,
		now:           time.Now,
		usernameInput: usernameInput,
		searchInput:   searchInput,
		messageInput:  messageInput,
		chatViewport:  viewport.New(80, 20),
		view:          viewLogin,
	}
}

func (m *model) prefill(username string) {
	if username != "" {
		m.usernameInput.SetValue(username)
		m.usernameInput.CursorEnd()
	}
}

// --- Commands ---

// waitForEvent hands the next transport event to Update. Only one is in flight
// at a time so events reach the synchronizer in arrival order.
func waitForEvent(events <-chan protocol.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return transportClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func clearBannerAfter(id int64) tea.Cmd {
	return tea.Tick(bannerTTL, func(time.Time) tea.Msg {
		return clearBannerMsg{id: id}
	})
}

func bell() tea.Msg {
	os.Stdout.WriteString("\a")
	return nil
}

// --- Init ---

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForEvent(m.events),
	)
}

// --- Update ---

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		var handled bool
		switch m.view {
		case viewLogin:
			cmd, handled = m.loginKey(msg)
		case viewUsers:
			cmd, handled = m.usersKey(msg)
		case viewChat:
			cmd, handled = m.chatKey(msg)
		}
		if handled {
			return m, cmd
		}

	case tea.FocusMsg:
		m.focus.Set(true)
		m.markActiveRead()
		return m, nil

	case tea.BlurMsg:
		m.focus.Set(false)
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 8
		m.refreshChat()

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, waitForEvent(m.events)

	case transportClosedMsg:
		m.closed = true
		return m, nil

	case alertMsg:
		m.bannerID = msg.n.ID
		m.banner = fmt.Sprintf("%s: %s", msg.n.Title, msg.n.Body)
		return m, tea.Batch(bell, clearBannerAfter(msg.n.ID))

	case clearBannerMsg:
		if msg.id == m.bannerID {
			m.banner = ""
		}
		return m, nil
	}

	// Update text inputs
	var cmd tea.Cmd
	switch m.view {
	case viewLogin:
		m.usernameInput, cmd = m.usernameInput.Update(msg)
		cmds = append(cmds, cmd)
	case viewUsers:
		if m.searching {
			m.searchInput, cmd = m.searchInput.Update(msg)
			cmds = append(cmds, cmd)
			m.clampSelection()
		}
	case viewChat:
		m.messageInput, cmd = m.messageInput.Update(msg)
		cmds = append(cmds, cmd)
		m.chatViewport, cmd = m.chatViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) handleEvent(ev protocol.Event) {
	wasJoined := m.session.Phase() == chat.PhaseJoined
	m.session.Handle(ev)

	if !wasJoined && m.session.Phase() == chat.PhaseJoined {
		m.view = viewUsers
		m.notice = ""
		m.usernameInput.Blur()
		if m.onJoined != nil {
			m.onJoined(m.session.Snapshot().Username)
		}
	}

	switch ev.(type) {
	case protocol.MessageReceived, protocol.ChatHistory:
		if m.view == viewChat {
			m.refreshChat()
			m.markActiveRead()
		}
	case protocol.UsersUpdated:
		m.clampSelection()
	}
}

func (m *model) loginKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "esc":
		if m.session.Phase() == chat.PhaseJoining {
			m.session.CancelJoin()
			m.notice = "Join cancelled"
			return nil, true
		}
		return tea.Quit, true
	case "ctrl+x":
		if m.onForget != nil {
			m.onForget()
		}
		m.usernameInput.SetValue("")
		m.notice = "Saved login forgotten"
		return nil, true
	case "enter":
		if m.session.Phase() != chat.PhaseIdle {
			return nil, true
		}
		username := strings.TrimSpace(m.usernameInput.Value())
		if username == "" {
			m.notice = "Enter a username"
			return nil, true
		}
		if m.session.Snapshot().Status != chat.Connected {
			m.notice = "Not connected to server yet"
			return nil, true
		}
		m.session.Join(username)
		if m.session.Phase() == chat.PhaseJoining {
			m.notice = ""
		} else {
			m.notice = "Could not reach server, try again"
		}
		return nil, true
	}
	return nil, false
}

func (m *model) usersKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if m.searching {
		switch msg.String() {
		case "esc":
			m.searching = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.clampSelection()
			return nil, true
		case "enter", "up", "down":
			m.searching = false
			m.searchInput.Blur()
		default:
			return nil, false
		}
	}

	switch msg.String() {
	case "q":
		return tea.Quit, true
	case "t":
		m.testNotification()
		return nil, true
	case "/":
		m.searching = true
		m.searchInput.Focus()
		return textinput.Blink, true
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return nil, true
	case "down", "j":
		if m.selected < len(m.users())-1 {
			m.selected++
		}
		return nil, true
	case "enter":
		users := m.users()
		if m.selected >= len(users) {
			return nil, true
		}
		m.open(users[m.selected].ID)
		return textinput.Blink, true
	}
	return nil, true
}

func (m *model) chatKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "esc":
		m.session.LeaveConversation()
		m.messageInput.Blur()
		m.messageInput.SetValue("")
		m.view = viewUsers
		return nil, true
	case "enter":
		if content := m.messageInput.Value(); strings.TrimSpace(content) != "" {
			m.session.SendMessage(content)
			m.messageInput.SetValue("")
		}
		return nil, true
	}
	return nil, false
}

func (m *model) open(id string) {
	m.session.StartConversation(id)
	if m.session.Snapshot().ActiveID != id {
		m.notice = "Could not open conversation"
		return
	}
	m.notice = ""
	m.view = viewChat
	m.messageInput.Focus()
	m.refreshChat()
}

// testNotification schedules a fixed alert so the user can check delivery.
func (m *model) testNotification() {
	if m.sink == nil {
		return
	}
	err := m.sink.Schedule(notify.Notification{
		Title:     "Test notification",
		Body:      "Notifications are working",
		Payload:   notify.Payload{Test: true},
		DeliverAt: m.now().Add(testDelay),
	})
	if err != nil {
		m.log.Warn("schedule test notification", zap.Error(err))
		m.notice = "Could not schedule test notification"
		return
	}
	m.notice = "Test notification scheduled"
}

func (m *model) markActiveRead() {
	if m.view != viewChat || !m.focus.Foreground() {
		return
	}
	if id := m.session.Snapshot().ActiveID; id != "" {
		m.session.MarkRead(id)
	}
}

// users returns the participants shown in the list.
func (m model) users() []protocol.Participant {
	st := m.session.Snapshot()
	return visibleUsers(st.Presence, st.LocalID, m.searchInput.Value())
}

func (m *model) clampSelection() {
	if n := len(m.users()); m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// visibleUsers drops the local participant and keeps usernames containing
// query, case-insensitively, sorted by username.
func visibleUsers(presence []protocol.Participant, selfID, query string) []protocol.Participant {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]protocol.Participant, 0, len(presence))
	for _, p := range presence {
		if p.ID == selfID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Username), query) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out
}

func unreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 9:
		return "9+"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func onlineCount(users []protocol.Participant) int {
	n := 0
	for _, u := range users {
		if u.Online {
			n++
		}
	}
	return n
}
