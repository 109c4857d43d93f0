package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/kvstore/memkv"
	"github.com/cuemby/meridian/pkg/types"
)

type fakeLister struct {
	mu        sync.Mutex
	instances map[string][]types.ServiceInstance
	calls     int
}

func (f *fakeLister) ListInstances(_ context.Context, service string) ([]types.ServiceInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]types.ServiceInstance{}, f.instances[service]...), nil
}

func (f *fakeLister) set(service string, instances []types.ServiceInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[service] = instances
}

func newFakeLister() *fakeLister {
	return &fakeLister{instances: make(map[string][]types.ServiceInstance)}
}

func TestDiscoverInstances_FiltersStaleAndStatus(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	lister.set("order", []types.ServiceInstance{
		{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()},
		{ServiceName: "order", InstanceID: "o-2", Status: types.StatusShutdown, LastHeartbeat: time.Now()},
		{ServiceName: "order", InstanceID: "o-3", Status: types.StatusActive, LastHeartbeat: time.Now().Add(-time.Hour)},
	})

	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: 45 * time.Second})

	instances, err := d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "o-1", instances[0].InstanceID)
}

func TestDiscoverInstances_CacheHitAvoidsBackendCall(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	lister.set("order", []types.ServiceInstance{{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()}})

	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: time.Minute})

	_, err := d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)
	_, err = d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)

	assert.Equal(t, 1, lister.calls)
}

func TestInvalidateCache_ForcesRefresh(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	lister.set("order", []types.ServiceInstance{{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()}})

	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: time.Minute})

	_, err := d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)

	d.InvalidateCache("order")

	_, err = d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestSelectInstance_RoundRobinCyclesAll(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	lister.set("echo", []types.ServiceInstance{
		{ServiceName: "echo", InstanceID: "e-1", Status: types.StatusActive, LastHeartbeat: time.Now()},
		{ServiceName: "echo", InstanceID: "e-2", Status: types.StatusActive, LastHeartbeat: time.Now()},
	})
	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: time.Minute})

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		inst, ok, err := d.SelectInstance(ctx, "echo", types.SelectRoundRobin)
		require.NoError(t, err)
		require.True(t, ok)
		seen[inst.InstanceID]++
	}
	assert.Equal(t, 2, seen["e-1"])
	assert.Equal(t, 2, seen["e-2"])
}

func TestSelectInstance_StickyPrefersActive(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	lister.set("order", []types.ServiceInstance{
		{ServiceName: "order", InstanceID: "o-1", Status: types.StatusStandby, LastHeartbeat: time.Now()},
		{ServiceName: "order", InstanceID: "o-2", Status: types.StatusActive, LastHeartbeat: time.Now()},
	})
	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: time.Minute})

	inst, ok, err := d.SelectInstance(ctx, "order", types.SelectSticky)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "o-2", inst.InstanceID)
}

func TestSelectInstance_EmptyReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	lister := newFakeLister()
	d := New(lister, nil, Config{CacheTTL: time.Minute, StalenessThreshold: time.Minute})

	_, ok, err := d.SelectInstance(ctx, "ghost", types.SelectRoundRobin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatchInvalidatesCacheOnPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })

	lister := newFakeLister()
	lister.set("order", []types.ServiceInstance{{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()}})

	d := New(lister, store, Config{
		CacheTTL:              time.Minute,
		StalenessThreshold:    time.Minute,
		WatchEnabled:          true,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMultiplier:   2,
		ReconnectMaxDelay:     time.Second,
	})
	d.StartWatch(ctx)
	defer d.Stop()

	_, err := d.DiscoverInstances(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	lister.set("order", []types.ServiceInstance{
		{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()},
		{ServiceName: "order", InstanceID: "o-2", Status: types.StatusActive, LastHeartbeat: time.Now()},
	})
	require.NoError(t, store.Put(ctx, "service-instances/order/o-2", []byte("{}"), kvstore.PutOptions{}))

	require.Eventually(t, func() bool {
		instances, err := d.DiscoverInstances(ctx, "order")
		return err == nil && len(instances) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
