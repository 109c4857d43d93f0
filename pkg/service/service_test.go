package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/meridian/pkg/bus/membus"
	"github.com/cuemby/meridian/pkg/codec"
	"github.com/cuemby/meridian/pkg/kvstore/memkv"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.BrokerServers = []string{"memory://local"}
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.CacheTTL = 20 * time.Millisecond
	cfg.CacheStaleThreshold = time.Minute
	cfg.RPCDefaultTimeout = 500 * time.Millisecond
	cfg.WatchEnabled = false
	return cfg
}

func newTestService(t *testing.T, name string) (*Service, *memkv.Store, *membus.Bus) {
	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	b := membus.New()
	t.Cleanup(func() { _ = b.Close() })

	svc, err := New(testConfig(name), b, store)
	require.NoError(t, err)
	return svc, store, b
}

func TestService_RPCRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t, "echo")
	require.NoError(t, svc.RegisterRPC("ping", func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"pong": params["value"]}, nil
	}))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	result, err := svc.CallRPC(ctx, "echo", "ping", map[string]interface{}{"value": "hi"}, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, "hi", result["pong"])
}

func TestService_RPCValidationError(t *testing.T) {
	svc, _, _ := newTestService(t, "validator")
	require.NoError(t, svc.RegisterRPC("check", func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return nil, merr.InvalidIdentifier("missing required field %q", "value")
	}))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	_, err := svc.CallRPC(ctx, "validator", "check", nil, time.Second, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}

func TestService_RPCHandlerPanicBecomesHandlerError(t *testing.T) {
	svc, _, _ := newTestService(t, "panicker")
	require.NoError(t, svc.RegisterRPC("boom", func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		panic("kaboom")
	}))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	_, err := svc.CallRPC(ctx, "panicker", "boom", nil, time.Second, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HANDLER_ERROR")
}

func TestService_ExclusiveRPCSucceedsWhenActive(t *testing.T) {
	svc, store, b := newTestService(t, "leader-svc")
	cfg := svc.cfg
	cfg.StickyActiveGroup = "g1"
	svc2, err := New(cfg, b, store)
	require.NoError(t, err)
	require.NoError(t, svc2.RegisterExclusiveRPC("privileged", func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))

	ctx := context.Background()
	require.NoError(t, svc2.Start(ctx))
	defer svc2.Stop(ctx)

	// sole contender in its sticky group, so it always wins the lease.
	require.Eventually(t, svc2.IsActive, time.Second, 5*time.Millisecond)

	result, err := svc2.CallRPC(ctx, "leader-svc", "privileged", nil, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}

func TestService_ExclusiveRPCRejectedWhenNotActive(t *testing.T) {
	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	b := membus.New()
	t.Cleanup(func() { _ = b.Close() })

	cfg := testConfig("leader-svc")
	cfg.StickyActiveGroup = "g1"

	mk := func(instanceID string) *Service {
		c := cfg
		c.InstanceID = instanceID
		svc, err := New(c, b, store)
		require.NoError(t, err)
		require.NoError(t, svc.RegisterExclusiveRPC("privileged", func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		}))
		return svc
	}
	// campaign backoff is derived from a hash of the instance id: with the
	// default 2s leader TTL "leader-svc-b" waits 69ms and "leader-svc-a"
	// 462ms, so the instance started first also wins the lease.
	leader := mk("leader-svc-b")
	standby := mk("leader-svc-a")

	ctx := context.Background()
	require.NoError(t, leader.Start(ctx))
	defer leader.Stop(ctx)
	require.NoError(t, standby.Start(ctx))
	defer standby.Stop(ctx)

	require.Eventually(t, func() bool {
		return leader.IsActive() != standby.IsActive()
	}, time.Second, 5*time.Millisecond)
	require.False(t, standby.IsActive())

	// bypass the queue group and the client-side NOT_ACTIVE
	// retry/rediscover path entirely: address the standby instance's
	// direct subject to exercise its handler-side gate in isolation.
	subj, err := subject.RPCInstanceSubject("leader-svc", "leader-svc-a", "privileged")
	require.NoError(t, err)
	req := codec.NewRPCRequest("test-caller", codec.NewTraceID(), "privileged", "leader-svc", nil, 1000)
	payload, err := codec.Encode(cfg.SerializationFormat, req)
	require.NoError(t, err)

	reply, err := b.Request(ctx, subj, payload, time.Second)
	require.NoError(t, err)
	var resp types.RPCResponse
	require.NoError(t, codec.DecodeWithFormat(cfg.SerializationFormat, reply, &resp))
	require.False(t, resp.Success)
	assert.Equal(t, types.ErrCodeNotActive, resp.ErrorCode)
}

func TestService_EventPubSub_Broadcast(t *testing.T) {
	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	b := membus.New()
	t.Cleanup(func() { _ = b.Close() })

	cfgA := testConfig("watcher")
	cfgA.InstanceID = "watcher-a"
	cfgB := testConfig("watcher")
	cfgB.InstanceID = "watcher-b"

	svcA, err := New(cfgA, b, store)
	require.NoError(t, err)
	svcB, err := New(cfgB, b, store)
	require.NoError(t, err)

	gotA := make(chan struct{}, 1)
	gotB := make(chan struct{}, 1)
	require.NoError(t, svcA.SubscribeEvent("events.cache.invalidate", func(_ context.Context, _ *types.Event) error {
		gotA <- struct{}{}
		return nil
	}, types.ModeBroadcast))
	require.NoError(t, svcB.SubscribeEvent("events.cache.invalidate", func(_ context.Context, _ *types.Event) error {
		gotB <- struct{}{}
		return nil
	}, types.ModeBroadcast))

	ctx := context.Background()
	require.NoError(t, svcA.Start(ctx))
	require.NoError(t, svcB.Start(ctx))
	defer svcA.Stop(ctx)
	defer svcB.Stop(ctx)

	require.NoError(t, svcA.PublishEvent(ctx, "cache", "invalidate", map[string]interface{}{"key": "x"}, "1.0.0"))

	select {
	case <-gotA:
	case <-time.After(time.Second):
		t.Fatal("instance A did not receive broadcast event")
	}
	select {
	case <-gotB:
	case <-time.After(time.Second):
		t.Fatal("instance B did not receive broadcast event")
	}
}

func TestService_EventPubSub_CompeteLoadBalances(t *testing.T) {
	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	b := membus.New()
	t.Cleanup(func() { _ = b.Close() })

	cfgA := testConfig("worker")
	cfgA.InstanceID = "worker-a"
	cfgB := testConfig("worker")
	cfgB.InstanceID = "worker-b"

	svcA, err := New(cfgA, b, store)
	require.NoError(t, err)
	svcB, err := New(cfgB, b, store)
	require.NoError(t, err)

	total := make(chan struct{}, 20)
	handler := func(_ context.Context, _ *types.Event) error {
		total <- struct{}{}
		return nil
	}
	require.NoError(t, svcA.SubscribeEvent("events.jobs.process", handler, types.ModeCompete))
	require.NoError(t, svcB.SubscribeEvent("events.jobs.process", handler, types.ModeCompete))

	ctx := context.Background()
	require.NoError(t, svcA.Start(ctx))
	require.NoError(t, svcB.Start(ctx))
	defer svcA.Stop(ctx)
	defer svcB.Stop(ctx)

	for i := 0; i < 10; i++ {
		require.NoError(t, svcA.PublishEvent(ctx, "jobs", "process", map[string]interface{}{"i": i}, "1.0.0"))
	}

	require.Eventually(t, func() bool {
		return len(total) == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_CommandRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t, "runner")
	progressSeen := make(chan int, 5)
	require.NoError(t, svc.RegisterCommand("build", func(_ context.Context, cmd *types.Command, progress ProgressFunc) (map[string]interface{}, error) {
		progress(context.Background(), 50, "halfway")
		progressSeen <- 50
		return map[string]interface{}{"target": cmd.Payload["target"]}, nil
	}))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	result, err := svc.CallCommand(ctx, "runner", "build", map[string]interface{}{"target": "linux"}, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "linux", result["target"])

	select {
	case <-progressSeen:
	case <-time.After(time.Second):
		t.Fatal("progress callback was not invoked")
	}
}
