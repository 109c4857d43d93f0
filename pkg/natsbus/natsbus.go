package natsbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cuemby/meridian/pkg/bus"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
)

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Bus is a bus.MessageBus backed by a core NATS connection.
type Bus struct {
	mu        sync.RWMutex
	nc        *nats.Conn
	listeners []func(bus.ConnectionState)
}

// New returns a ready, not-yet-connected Bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) Connect(_ context.Context, servers []string) error {
	nc, err := nats.Connect(
		strings.Join(servers, ","),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Errorf("nats bus disconnected", err)
			}
			b.notify(bus.StateDisconnected)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			b.notify(bus.StateConnected)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			b.notify(bus.StateDisconnected)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats servers %v: %w", servers, err)
	}
	b.mu.Lock()
	b.nc = nc
	b.mu.Unlock()
	b.notify(bus.StateConnected)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nc != nil {
		b.nc.Close()
	}
	b.notify(bus.StateDisconnected)
	return nil
}

func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nc != nil && b.nc.IsConnected()
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

func (b *Bus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	nc := b.nc
	b.mu.RUnlock()
	if nc == nil {
		return merr.Wrap(fmt.Errorf("not connected"), "publish %q", subject)
	}
	if err := nc.Publish(subject, data); err != nil {
		return merr.Wrap(err, "publish %q", subject)
	}
	return nil
}

func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	b.mu.RLock()
	nc := b.nc
	b.mu.RUnlock()
	if nc == nil {
		return nil, merr.Wrap(fmt.Errorf("not connected"), "request %q", subject)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, merr.RPC("TIMEOUT", "no reply on %q within %s", subject, timeout)
		}
		return nil, merr.Wrap(err, "request %q", subject)
	}
	return msg.Data, nil
}

func (b *Bus) Subscribe(_ context.Context, subject string, opts bus.SubscribeOptions, handler bus.Handler) (bus.Subscription, error) {
	b.mu.RLock()
	nc := b.nc
	b.mu.RUnlock()
	if nc == nil {
		return nil, merr.Wrap(fmt.Errorf("not connected"), "subscribe %q", subject)
	}

	cb := func(msg *nats.Msg) {
		m := bus.Message{Subject: msg.Subject, Data: msg.Data, Reply: msg.Reply}
		if err := handler(context.Background(), m); err != nil {
			log.Errorf(fmt.Sprintf("handler error on subject %q (durable=%q)", subject, opts.Durable), err)
		}
	}

	var natsSub *nats.Subscription
	var err error
	if opts.QueueGroup != "" {
		natsSub, err = nc.QueueSubscribe(subject, opts.QueueGroup, cb)
	} else {
		natsSub, err = nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, merr.Wrap(err, "subscribe %q", subject)
	}
	return &subscription{sub: natsSub}, nil
}
