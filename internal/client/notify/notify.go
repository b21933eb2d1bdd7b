// Package notify schedules local alerts for inbound messages.
package notify

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoTitle is returned by Schedule for a notification without a title.
var ErrNoTitle = errors.New("notification has no title")

// Payload travels with a notification so the view can open the conversation.
type Payload struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Test       bool   `json:"test,omitempty"`
}

type Notification struct {
	ID        int64
	Title     string
	Body      string
	Payload   Payload
	DeliverAt time.Time
}

// Sink accepts notifications for later delivery. Schedule must not block.
type Sink interface {
	Schedule(n Notification) error
}

// DeliverFunc presents a due notification to the user.
type DeliverFunc func(n Notification) error

// Scheduler is a Sink that hands each notification to a DeliverFunc once its
// DeliverAt instant has passed.
type Scheduler struct {
	deliver DeliverFunc
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending int
	lastID  int64
}

type Option func(*Scheduler)

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(deliver DeliverFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		deliver: deliver,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule queues n. A zero ID is replaced with a millisecond timestamp,
// bumped if needed so ids stay unique within this scheduler.
func (s *Scheduler) Schedule(n Notification) error {
	if n.Title == "" {
		return ErrNoTitle
	}

	s.mu.Lock()
	if n.ID == 0 {
		n.ID = s.now().UnixMilli()
		if n.ID <= s.lastID {
			n.ID = s.lastID + 1
		}
	}
	if n.ID > s.lastID {
		s.lastID = n.ID
	}
	s.pending++
	s.mu.Unlock()

	delay := n.DeliverAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() { s.fire(n) })
	return nil
}

// Pending returns the number of notifications not yet delivered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) fire(n Notification) {
	defer func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
	}()

	if s.deliver == nil {
		return
	}
	if err := s.deliver(n); err != nil {
		s.log.Warn("notification delivery failed",
			zap.Int64("id", n.ID),
			zap.String("sender_id", n.Payload.SenderID),
			zap.Error(err))
		return
	}
	s.log.Debug("notification delivered", zap.Int64("id", n.ID), zap.String("title", n.Title))
}
