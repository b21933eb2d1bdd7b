package chat

import (
	"github.com/cloudzz-dev/relaychat/internal/client/notify"
	"github.com/stretchr/testify/mock"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Schedule(n notify.Notification) error {
	args := m.Called(n)
	return args.Error(0)
}

type emitted struct {
	event   string
	payload interface{}
}

type fakeChannel struct {
	sent []emitted
	err  error
}

func (c *fakeChannel) Emit(event string, payload interface{}) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, emitted{event: event, payload: payload})
	return nil
}

func (c *fakeChannel) last() emitted {
	if len(c.sent) == 0 {
		return emitted{}
	}
	return c.sent[len(c.sent)-1]
}

type fakeForeground struct {
	active bool
	fn     func(bool)
	cancel int
}

func (f *fakeForeground) Foreground() bool { return f.active }

func (f *fakeForeground) Subscribe(fn func(bool)) func() {
	f.fn = fn
	return func() {
		f.cancel++
		f.fn = nil
	}
}

func (f *fakeForeground) set(active bool) {
	f.active = active
	if f.fn != nil {
		f.fn(active)
	}
}
