package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudzz-dev/relaychat/internal/client/notify"
	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = protocol.Participant{ID: "u1", Username: "alice", Online: true}
	bob   = protocol.Participant{ID: "u2", Username: "bob", Online: true}
	carol = protocol.Participant{ID: "u3", Username: "carol", Online: true}
)

var seq int

func msgFrom(sender protocol.Participant, receiver string, content string) protocol.Message {
	seq++
	return protocol.Message{
		ID:         fmt.Sprintf("m%d", seq),
		SenderID:   sender.ID,
		SenderName: sender.Username,
		ReceiverID: receiver,
		Content:    content,
		Timestamp:  time.Date(2025, 1, 1, 12, 0, seq, 0, time.UTC),
	}
}

// newJoined returns a synchronizer joined as alice with bob and carol online.
func newJoined(t *testing.T, opts ...Option) (*Synchronizer, *fakeChannel, *MockSink, *fakeForeground) {
	t.Helper()
	ch := &fakeChannel{}
	sink := new(MockSink)
	fg := &fakeForeground{active: true}

	s := New(ch, sink, fg, opts...)
	s.Handle(protocol.Connected{})
	s.Join("alice")
	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{alice, bob, carol}})
	s.Handle(protocol.UserJoined{UserID: "u1", Username: "alice"})
	require.Equal(t, PhaseJoined, s.Phase())
	return s, ch, sink, fg
}

func TestJoinSnapshotThenConfirmation(t *testing.T) {
	ch := &fakeChannel{}
	s := New(ch, nil, nil)

	s.Join("alice")
	assert.Equal(t, PhaseJoining, s.Phase())
	assert.Equal(t, emitted{protocol.TypeJoin, protocol.JoinPayload{Username: "alice"}}, ch.last())

	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{{ID: "u1", Username: "alice"}}})
	assert.Equal(t, PhaseJoining, s.Phase(), "snapshot alone must not join while confirmation is expected")

	s.Handle(protocol.UserJoined{UserID: "u1", Username: "alice"})
	assert.Equal(t, PhaseJoined, s.Phase())
	assert.Equal(t, "u1", s.Snapshot().LocalID)
}

func TestJoinConfirmationThenSnapshot(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil)

	s.Join("alice")
	s.Handle(protocol.UserJoined{UserID: "u1", Username: "alice"})
	assert.Equal(t, PhaseJoining, s.Phase())
	assert.Equal(t, "u1", s.Snapshot().LocalID, "local id is learned before joined")

	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{bob}})
	assert.Equal(t, PhaseJoining, s.Phase())

	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{bob, alice}})
	assert.Equal(t, PhaseJoined, s.Phase())
}

func TestJoinDuplicateUsernameMatchesConfirmedID(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil)

	s.Join("alice")
	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{
		{ID: "u9", Username: "alice"},
		{ID: "u1", Username: "alice"},
	}})
	s.Handle(protocol.UserJoined{UserID: "u1"})

	require.Equal(t, PhaseJoined, s.Phase())
	self, ok := s.Self()
	require.True(t, ok)
	assert.Equal(t, "u1", self.ID)
}

func TestJoinUsernameMismatchStaysJoining(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil)

	s.Join("alice")
	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{{ID: "u1", Username: "alicia"}}})
	s.Handle(protocol.UserJoined{UserID: "u1"})

	assert.Equal(t, PhaseJoining, s.Phase())
}

func TestJoinWithoutSelfConfirmationMatchesByUsername(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil, WithoutSelfConfirmation())

	s.Join("alice")
	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{bob, alice}})
	assert.Equal(t, PhaseJoining, s.Phase(), "fallback waits for the connection")

	s.Handle(protocol.Connected{})
	assert.Equal(t, PhaseJoined, s.Phase())
	assert.Equal(t, "u1", s.Snapshot().LocalID)
}

func TestJoinNoOps(t *testing.T) {
	t.Run("no channel", func(t *testing.T) {
		s := New(nil, nil, nil)
		s.Join("alice")
		assert.Equal(t, PhaseIdle, s.Phase())
	})

	t.Run("emit fails", func(t *testing.T) {
		s := New(&fakeChannel{err: errors.New("not connected")}, nil, nil)
		s.Join("alice")
		assert.Equal(t, PhaseIdle, s.Phase())
	})

	t.Run("empty username", func(t *testing.T) {
		ch := &fakeChannel{}
		s := New(ch, nil, nil)
		s.Join("   ")
		assert.Equal(t, PhaseIdle, s.Phase())
		assert.Empty(t, ch.sent)
	})

	t.Run("not idle", func(t *testing.T) {
		ch := &fakeChannel{}
		s := New(ch, nil, nil)
		s.Join("alice")
		s.Join("mallory")
		assert.Len(t, ch.sent, 1)
		assert.Equal(t, "alice", s.Snapshot().Username)
	})
}

func TestCancelJoinAllowsRetry(t *testing.T) {
	ch := &fakeChannel{}
	s := New(ch, nil, nil)
	s.Handle(protocol.Connected{})

	s.Join("alice")
	require.Equal(t, PhaseJoining, s.Phase())

	// The relay never answered the first join.
	s.CancelJoin()
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Empty(t, s.Snapshot().Username)

	s.Join("alice2")
	require.Equal(t, PhaseJoining, s.Phase())
	assert.Len(t, ch.sent, 2)

	s.Handle(protocol.UserJoined{UserID: "u9", Username: "alice2"})
	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{{ID: "u9", Username: "alice2", Online: true}}})
	assert.Equal(t, PhaseJoined, s.Phase())
}

func TestCancelJoinOutsideJoiningIsNoOp(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil)
	s.CancelJoin()
	assert.Equal(t, PhaseIdle, s.Phase())

	joined, _, _, _ := newJoined(t)
	joined.CancelJoin()
	assert.Equal(t, PhaseJoined, joined.Phase())
	assert.Equal(t, "alice", joined.Snapshot().Username)
}

func TestUnreadCountsEveryMessageFromInactiveSender(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.StartConversation("u3")
	for i := 0; i < 7; i++ {
		s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "ping")})
	}

	assert.Equal(t, 7, s.Unread("u2"))
	sink.AssertNumberOfCalls(t, "Schedule", 7)
}

func TestMarkReadClearsUnread(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "one")})
	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "two")})
	require.Equal(t, 2, s.Unread("u2"))

	s.MarkRead("u2")
	assert.Equal(t, 0, s.Unread("u2"))
	assert.NotContains(t, s.UnreadCounts(), "u2")

	s.MarkRead("u2")
	s.MarkRead("nobody")
	assert.Equal(t, 0, s.Unread("u2"))
}

func TestStartConversationClearsUnreadLikeMarkRead(t *testing.T) {
	s, ch, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "hey")})
	s.Handle(protocol.MessageReceived{Message: msgFrom(carol, "u1", "yo")})

	s.StartConversation("u2")

	assert.Equal(t, emitted{protocol.TypeStartChat, protocol.StartChatPayload{UserID: "u2"}}, ch.last())
	assert.Equal(t, "u2", s.Snapshot().ActiveID)
	assert.Equal(t, map[string]int{"u3": 1}, s.UnreadCounts())
}

func TestStartConversationNoOps(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		s, ch, _, _ := newJoined(t)
		before := len(ch.sent)
		s.StartConversation("u404")
		assert.Len(t, ch.sent, before)
		assert.Empty(t, s.Snapshot().ActiveID)
	})

	t.Run("not joined", func(t *testing.T) {
		ch := &fakeChannel{}
		s := New(ch, nil, nil)
		s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{bob}})
		s.StartConversation("u2")
		assert.Empty(t, ch.sent)
		assert.Empty(t, s.Snapshot().ActiveID)
	})

	t.Run("channel down", func(t *testing.T) {
		s, ch, sink, _ := newJoined(t)
		sink.On("Schedule", mock.Anything).Return(nil)
		s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "hey")})

		ch.err = errors.New("not connected")
		s.StartConversation("u2")
		assert.Empty(t, s.Snapshot().ActiveID)
		assert.Equal(t, 1, s.Unread("u2"))
	})
}

func TestHistoryReplayIsPrefix(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(carol, "u1", "stale")})

	history := []protocol.Message{
		msgFrom(alice, "u2", "first"),
		msgFrom(bob, "u1", "second"),
	}
	// Server order wins even if timestamps disagree.
	history[0].Timestamp, history[1].Timestamp = history[1].Timestamp, history[0].Timestamp

	s.StartConversation("u2")
	s.Handle(protocol.ChatHistory{Messages: history})
	later := []protocol.Message{msgFrom(bob, "u1", "third"), msgFrom(carol, "u1", "fourth")}
	for _, m := range later {
		s.Handle(protocol.MessageReceived{Message: m})
	}

	got := s.Messages()
	require.Len(t, got, 4)
	assert.Equal(t, history, got[:2])
	assert.Equal(t, later, got[2:])
}

func TestEchoNeverCountsOrNotifies(t *testing.T) {
	s, _, sink, fg := newJoined(t)
	fg.set(false)

	s.StartConversation("u2")
	s.Handle(protocol.MessageReceived{Message: msgFrom(alice, "u2", "mine")})
	s.LeaveConversation()
	s.Handle(protocol.MessageReceived{Message: msgFrom(alice, "u3", "also mine")})

	assert.Empty(t, s.UnreadCounts())
	sink.AssertNotCalled(t, "Schedule", mock.Anything)
	assert.Len(t, s.Messages(), 1, "echoes are still appended")
}

func TestActiveForegroundConversationIsNotUnread(t *testing.T) {
	s, _, sink, _ := newJoined(t)

	s.StartConversation("u2")
	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "are you there")})

	assert.Equal(t, 0, s.Unread("u2"))
	assert.NotContains(t, s.UnreadCounts(), "u2")
	sink.AssertNotCalled(t, "Schedule", mock.Anything)
}

func TestActiveBackgroundConversationIsUnread(t *testing.T) {
	s, _, sink, fg := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.StartConversation("u2")
	fg.set(false)
	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "are you there")})

	assert.Equal(t, 1, s.Unread("u2"))
	sink.AssertNumberOfCalls(t, "Schedule", 1)
}

func TestNotificationContent(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	s, _, sink, _ := newJoined(t, WithClock(func() time.Time { return now }))

	var got notify.Notification
	sink.On("Schedule", mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(0).(notify.Notification)
	}).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "lunch?")})

	assert.Equal(t, "New message from bob", got.Title)
	assert.Equal(t, "lunch?", got.Body)
	assert.Equal(t, notify.Payload{SenderID: "u2", SenderName: "bob"}, got.Payload)
	assert.Equal(t, now.Add(DefaultNotifyDelay), got.DeliverAt)
}

func TestNotificationFallsBackToPresenceName(t *testing.T) {
	s, _, sink, _ := newJoined(t)

	var got notify.Notification
	sink.On("Schedule", mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(0).(notify.Notification)
	}).Return(nil)

	m := msgFrom(carol, "u1", "hi")
	m.SenderName = ""
	s.Handle(protocol.MessageReceived{Message: m})

	assert.Equal(t, "New message from carol", got.Title)
}

func TestNotificationFailureKeepsState(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(errors.New("permission denied"))

	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "hi")})

	assert.Equal(t, 1, s.Unread("u2"))
	assert.Len(t, s.Messages(), 1)
}

func TestDisconnectKeepsSessionState(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(carol, "u1", "hi")})
	s.StartConversation("u2")
	before := s.Snapshot()

	s.Handle(protocol.Disconnected{Err: errors.New("read: connection reset")})

	after := s.Snapshot()
	assert.Equal(t, Disconnected, after.Status)
	assert.Equal(t, before.Presence, after.Presence)
	assert.Equal(t, "u2", after.ActiveID)
	assert.Equal(t, PhaseJoined, after.Phase)
	assert.Equal(t, 1, s.Unread("u3"))
}

func TestForegroundChangeIsNotRetroactive(t *testing.T) {
	s, _, sink, fg := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.StartConversation("u2")
	fg.set(false)
	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "hi")})
	fg.set(true)

	assert.True(t, s.Snapshot().Foreground)
	assert.Equal(t, 1, s.Unread("u2"))
}

func TestSendMessage(t *testing.T) {
	s, ch, _, _ := newJoined(t)

	n := len(ch.sent)
	s.SendMessage("hello")
	assert.Len(t, ch.sent, n, "no active conversation")

	s.StartConversation("u2")
	s.SendMessage("  hello  ")
	assert.Equal(t, emitted{protocol.TypeSendMessage, protocol.SendMessagePayload{ReceiverID: "u2", Content: "hello"}}, ch.last())

	n = len(ch.sent)
	s.SendMessage("   ")
	assert.Len(t, ch.sent, n)
	assert.Empty(t, s.Messages(), "sends are not appended locally")
}

func TestLeaveConversation(t *testing.T) {
	s, ch, _, _ := newJoined(t)

	s.StartConversation("u2")
	s.Handle(protocol.ChatHistory{Messages: []protocol.Message{msgFrom(bob, "u1", "old")}})
	n := len(ch.sent)

	s.LeaveConversation()

	assert.Empty(t, s.Snapshot().ActiveID)
	assert.Empty(t, s.Messages())
	assert.Len(t, ch.sent, n)
}

func TestMalformedEventIsDropped(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	before := s.Snapshot()

	s.Handle(protocol.UsersUpdated{Participants: []protocol.Participant{{Username: "ghost"}}})
	s.Handle(protocol.MessageReceived{Message: protocol.Message{ID: "m", ReceiverID: "u1"}})
	s.Handle(protocol.UserJoined{})
	s.Handle(nil)

	assert.Equal(t, before, s.Snapshot())
	assert.Empty(t, s.Messages())
	sink.AssertNotCalled(t, "Schedule", mock.Anything)
}

func TestSnapshotsAreCopies(t *testing.T) {
	s, _, _, _ := newJoined(t)

	snap := s.Snapshot()
	snap.Presence[0].Username = "mallory"
	counts := s.UnreadCounts()
	counts["u2"] = 99

	assert.Equal(t, "alice", s.Snapshot().Presence[0].Username)
	assert.Equal(t, 0, s.Unread("u2"))
}

func TestConversationFiltersByPeer(t *testing.T) {
	s, _, sink, _ := newJoined(t)
	sink.On("Schedule", mock.Anything).Return(nil)

	s.Handle(protocol.MessageReceived{Message: msgFrom(bob, "u1", "to alice")})
	s.Handle(protocol.MessageReceived{Message: msgFrom(carol, "u1", "from carol")})
	s.Handle(protocol.MessageReceived{Message: msgFrom(alice, "u2", "to bob")})

	conv := s.Conversation("u2")
	require.Len(t, conv, 2)
	assert.Equal(t, "to alice", conv[0].Content)
	assert.Equal(t, "to bob", conv[1].Content)
	assert.Equal(t, 2, s.TotalUnread())
}

func TestCloseDetaches(t *testing.T) {
	ch := &fakeChannel{}
	fg := &fakeForeground{active: true}
	s := New(ch, nil, fg)

	s.Close()
	s.Join("alice")
	fg.set(false)

	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Empty(t, ch.sent)
	assert.Equal(t, 1, fg.cancel)
	assert.True(t, s.Snapshot().Foreground)
}

func TestInitialForegroundIsQueried(t *testing.T) {
	s := New(nil, nil, &fakeForeground{active: false})
	assert.False(t, s.Snapshot().Foreground)

	s = New(nil, nil, nil)
	assert.True(t, s.Snapshot().Foreground)
}

func TestPumpAppliesEventsInOrder(t *testing.T) {
	s := New(&fakeChannel{}, nil, nil)
	s.Join("alice")

	events := make(chan protocol.Event, 4)
	events <- protocol.Connected{}
	events <- protocol.UserJoined{UserID: "u1"}
	events <- protocol.UsersUpdated{Participants: []protocol.Participant{alice}}
	events <- protocol.Disconnected{}
	close(events)

	require.NoError(t, Pump(context.Background(), s, events))

	snap := s.Snapshot()
	assert.Equal(t, PhaseJoined, snap.Phase)
	assert.Equal(t, Disconnected, snap.Status)
}

func TestPumpStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Pump(ctx, New(nil, nil, nil), make(chan protocol.Event))
	assert.ErrorIs(t, err, context.Canceled)
}
