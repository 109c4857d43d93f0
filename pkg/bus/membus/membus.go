package membus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/meridian/pkg/bus"
	"github.com/cuemby/meridian/pkg/merr"
)

type subscription struct {
	id         string
	pattern    string
	queueGroup string
	durable    string
	handler    bus.Handler
	bus        *Bus
}

func (s *subscription) Unsubscribe() error {
	s.bus.removeSubscription(s.id)
	return nil
}

// Bus is an in-process bus.MessageBus, grounded on the teacher's
// pkg/events.Broker dispatch-goroutine-over-buffered-channel shape.
type Bus struct {
	mu          sync.RWMutex
	connected   bool
	subs        map[string]*subscription
	groupCursor map[string]int // "pattern\x00queueGroup" -> round-robin index
	listeners   []func(bus.ConnectionState)

	inbox   chan bus.Message
	stopCh  chan struct{}
	started bool
}

// New returns a ready, not-yet-connected Bus.
func New() *Bus {
	return &Bus{
		subs:        make(map[string]*subscription),
		groupCursor: make(map[string]int),
		inbox:       make(chan bus.Message, 256),
		stopCh:      make(chan struct{}),
	}
}

func (b *Bus) Connect(_ context.Context, _ []string) error {
	b.mu.Lock()
	if !b.started {
		b.started = true
		go b.dispatchLoop()
	}
	b.connected = true
	b.mu.Unlock()
	b.notify(bus.StateConnected)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.notify(bus.StateDisconnected)
	return nil
}

func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Bus) OnStateChange(fn func(bus.ConnectionState)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

func (b *Bus) notify(state bus.ConnectionState) {
	b.mu.RLock()
	listeners := append([]func(bus.ConnectionState){}, b.listeners...)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	if !b.IsConnected() {
		return merr.Wrap(fmt.Errorf("not connected"), "publish %q", subject)
	}
	msg := bus.Message{Subject: subject, Data: data}
	select {
	case b.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if !b.IsConnected() {
		return nil, merr.Wrap(fmt.Errorf("not connected"), "request %q", subject)
	}

	reply := "_INBOX." + uuid.NewString()
	waitCh := make(chan bus.Message, 1)

	sub, err := b.Subscribe(ctx, reply, bus.SubscribeOptions{}, func(_ context.Context, msg bus.Message) error {
		select {
		case waitCh <- msg:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := bus.Message{Subject: subject, Data: data, Reply: reply}
	select {
	case b.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-waitCh:
		return reply.Data, nil
	case <-timer.C:
		return nil, merr.RPC("TIMEOUT", "no reply on %q within %s", subject, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) Subscribe(_ context.Context, subject string, opts bus.SubscribeOptions, handler bus.Handler) (bus.Subscription, error) {
	sub := &subscription{
		id:         uuid.NewString(),
		pattern:    subject,
		queueGroup: opts.QueueGroup,
		durable:    opts.Durable,
		handler:    handler,
		bus:        b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) removeSubscription(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case msg := <-b.inbox:
			b.deliver(msg)
		case <-b.stopCh:
			return
		}
	}
}

// deliver fans a message out to matching subscriptions: every
// non-queue-grouped subscriber receives it (BROADCAST), while
// subscribers sharing a queue group receive it round-robin (COMPETE).
func (b *Bus) deliver(msg bus.Message) {
	b.mu.Lock()
	grouped := make(map[string][]*subscription)
	var solo []*subscription
	for _, sub := range b.subs {
		if !subjectMatches(sub.pattern, msg.Subject) {
			continue
		}
		if sub.queueGroup == "" {
			solo = append(solo, sub)
			continue
		}
		key := sub.pattern + "\x00" + sub.queueGroup
		grouped[key] = append(grouped[key], sub)
	}

	var picked []*subscription
	picked = append(picked, solo...)
	for key, subs := range grouped {
		idx := b.groupCursor[key] % len(subs)
		b.groupCursor[key] = idx + 1
		picked = append(picked, subs[idx])
	}
	b.mu.Unlock()

	for _, sub := range picked {
		go func(s *subscription) {
			_ = s.handler(context.Background(), msg)
		}(sub)
	}
}

// Close stops the dispatch loop. Safe to call once.
func (b *Bus) Close() error {
	close(b.stopCh)
	return nil
}
