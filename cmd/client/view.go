package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/cloudzz-dev/relaychat/internal/client/chat"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")
	bannerColor    = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(errorColor).
			Padding(0, 1)

	bannerStyle = lipgloss.NewStyle().
			Foreground(bannerColor).
			Bold(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View ---

func (m model) View() string {
	var body string
	switch m.view {
	case viewLogin:
		body = m.loginView()
	case viewUsers:
		body = m.usersView()
	case viewChat:
		body = m.chatView()
	}

	if m.banner != "" {
		body = bannerStyle.Render("🔔 "+m.banner) + "\n" + body
	}
	return body
}

func (m model) statusLine() string {
	if m.closed {
		return errorStyle.Render("Connection closed")
	}
	if m.session.Snapshot().Status != chat.Connected {
		return mutedStyle.Render("Reconnecting...")
	}
	return ""
}

func (m model) loginView() string {
	var s strings.Builder

	title := titleStyle.Render("╔═══════════════════════════════╗\n║          RELAYCHAT            ║\n╚═══════════════════════════════╝")

	s.WriteString("\n\n")
	s.WriteString(title)
	s.WriteString("\n\n")

	if m.server != "" {
		s.WriteString(mutedStyle.Render("  Server: "+m.server) + "\n\n")
	}
	s.WriteString("  Username:\n")
	s.WriteString("  " + m.usernameInput.View() + "\n\n")

	if m.notice != "" {
		s.WriteString(errorStyle.Render("  " + m.notice + "\n\n"))
	}

	st := m.session.Snapshot()
	if st.Phase == chat.PhaseJoining {
		s.WriteString(helpStyle.Render("  Esc to cancel\n"))
	} else {
		s.WriteString(helpStyle.Render("  Enter to join • Ctrl+X to forget saved login • Esc to quit\n"))
	}

	switch {
	case m.closed:
		s.WriteString(errorStyle.Render("\n  Connection closed"))
	case st.Phase == chat.PhaseJoining:
		s.WriteString(mutedStyle.Render("\n  Joining as " + st.Username + "..."))
	case st.Status != chat.Connected:
		s.WriteString(mutedStyle.Render("\n  Connecting to server..."))
	}

	return s.String()
}

func (m model) usersView() string {
	var s strings.Builder

	st := m.session.Snapshot()
	users := m.users()

	name := st.Username
	if self, ok := m.session.Self(); ok {
		name = self.Username
	}
	header := fmt.Sprintf("RELAYCHAT - %s", name)
	s.WriteString(titleStyle.Render(header))
	others := visibleUsers(st.Presence, st.LocalID, "")
	s.WriteString(mutedStyle.Render(fmt.Sprintf(" %d online", onlineCount(others))))
	unread := m.session.UnreadCounts()
	if total := m.session.TotalUnread(); total > 0 {
		s.WriteString(" " + badgeStyle.Render(unreadBadge(total)))
	}
	if status := m.statusLine(); status != "" {
		s.WriteString("  " + status)
	}
	s.WriteString("\n\n")

	if m.searching || m.searchInput.Value() != "" {
		s.WriteString("  " + m.searchInput.View() + "\n\n")
	}

	if len(users) == 0 {
		if len(others) == 0 {
			s.WriteString(mutedStyle.Render("  Nobody else is online.\n"))
		} else {
			s.WriteString(mutedStyle.Render("  No users match.\n"))
		}
	} else {
		for i, u := range users {
			prefix := "  "
			style := lipgloss.NewStyle()
			if i == m.selected {
				prefix = "→ "
				style = selectedStyle
			}

			dot := mutedStyle.Render("○")
			if u.Online {
				dot = selectedStyle.Render("●")
			}

			line := fmt.Sprintf("%s%s %s", prefix, dot, style.Render(u.Username))
			if badge := unreadBadge(unread[u.ID]); badge != "" {
				line += " " + badgeStyle.Render(badge)
			}
			s.WriteString(line + "\n")
		}
	}

	if m.notice != "" {
		s.WriteString("\n" + errorStyle.Render("  "+m.notice) + "\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to chat • / to search • t test notification • q to quit"))

	return s.String()
}

func (m model) chatView() string {
	var s strings.Builder

	st := m.session.Snapshot()
	partner := st.ActiveID
	for _, p := range st.Presence {
		if p.ID == st.ActiveID {
			partner = p.Username
			break
		}
	}

	width := m.width - 2
	if width < 1 {
		width = 1
	}

	header := titleStyle.Render(fmt.Sprintf("💬 %s", partner))
	s.WriteString(header)
	if status := m.statusLine(); status != "" {
		s.WriteString("  " + status)
	}
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", width))
	s.WriteString("\n")

	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", width))
	s.WriteString("\n")
	s.WriteString(m.messageInput.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Enter to send • Esc to go back"))

	return s.String()
}

func (m *model) refreshChat() {
	if m.view != viewChat {
		return
	}
	m.chatViewport.SetContent(m.renderConversation())
	m.chatViewport.GotoBottom()
}

func (m model) renderConversation() string {
	st := m.session.Snapshot()
	msgs := m.session.Conversation(st.ActiveID)
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet. Say hi!")
	}

	var content strings.Builder
	for _, msg := range msgs {
		timestamp := msg.Timestamp.Local().Format("15:04")
		name := msg.SenderName
		style := otherMessageStyle
		if msg.SenderID == st.LocalID {
			name = "You"
			style = ownMessageStyle
		}
		line := fmt.Sprintf("%s %s: %s",
			mutedStyle.Render(timestamp),
			style.Render(name),
			msg.Content,
		)
		content.WriteString(line + "\n")
	}
	return content.String()
}
