package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"relay/internal/broker"
)

var errFakeConnect = errors.New("connection refused")

// fakeClient replays scripted poll results, then idles until the poll
// timeout or ctx ends.
type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	script       []broker.Message
	subscribed   []string
	polls        int
	closed       bool
}

func newFakeClient(script ...broker.Message) *fakeClient {
	return &fakeClient{script: script}
}

func (c *fakeClient) Connect(context.Context) error {
	return c.connectErr
}

func (c *fakeClient) Subscribe(_ context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = topics
	return c.subscribeErr
}

func (c *fakeClient) Poll(ctx context.Context, timeout time.Duration) broker.Message {
	c.mu.Lock()
	c.polls++
	if len(c.script) > 0 {
		msg := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return msg
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return broker.Timeout()
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory hands out clients from next, one per connection attempt.
type fakeFactory struct {
	mu       sync.Mutex
	attempts int
	clients  []*fakeClient
	next     func(attempt int) *fakeClient
}

func (f *fakeFactory) factory() broker.Factory {
	return func() (broker.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.attempts++
		c := f.next(f.attempts)
		f.clients = append(f.clients, c)
		return c, nil
	}
}

func (f *fakeFactory) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func failing() *fakeClient {
	return &fakeClient{connectErr: errFakeConnect}
}

func message(topic, payload string) broker.Message {
	return broker.Message{Topic: topic, Payload: []byte(payload), ReceivedAt: time.Now()}
}

// waitRecorder captures backoff delays without sleeping and cancels the run
// after limit waits.
type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
	onWait func(n int)
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) bool {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	n := len(w.delays)
	w.mu.Unlock()

	if w.onWait != nil {
		w.onWait(n)
	}
	if n >= w.limit {
		w.cancel()
		return false
	}
	return ctx.Err() == nil
}

func (w *waitRecorder) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.clients) {
		return nil
	}
	return f.clients[i]
}

func (c *fakeClient) pollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}
