package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/meridian/pkg/kvstore/memkv"
	"github.com/cuemby/meridian/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	store := memkv.New(10 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestRegisterAndListInstances(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	instance := types.ServiceInstance{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive, LastHeartbeat: time.Now()}
	require.NoError(t, reg.Register(ctx, instance, 30*time.Second))

	instances, err := reg.ListInstances(ctx, "order")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "o-1", instances[0].InstanceID)
}

func TestDeregister_Idempotent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	instance := types.ServiceInstance{ServiceName: "order", InstanceID: "o-1"}
	require.NoError(t, reg.Register(ctx, instance, 30*time.Second))

	require.NoError(t, reg.Deregister(ctx, "order", "o-1"))
	require.NoError(t, reg.Deregister(ctx, "order", "o-1")) // second call must not error

	instances, err := reg.ListInstances(ctx, "order")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestUpdateHeartbeat_ReregistersAfterExternalDelete(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	instance := types.ServiceInstance{ServiceName: "order", InstanceID: "o-1", Status: types.StatusActive}
	require.NoError(t, reg.Register(ctx, instance, 30*time.Second))

	require.NoError(t, reg.Deregister(ctx, "order", "o-1"))
	_, ok, err := reg.GetInstance(ctx, "order", "o-1")
	require.NoError(t, err)
	require.False(t, ok)

	reg.UpdateHeartbeat(ctx, instance, 30*time.Second)

	_, ok, err = reg.GetInstance(ctx, "order", "o-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListAllServices(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Register(ctx, types.ServiceInstance{ServiceName: "order", InstanceID: "o-1"}, time.Minute))
	require.NoError(t, reg.Register(ctx, types.ServiceInstance{ServiceName: "pricing", InstanceID: "p-1"}, time.Minute))

	services, err := reg.ListAllServices(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"order", "pricing"}, services)
}

func TestDefinitionCatalog(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.RegisterDefinition(ctx, types.ServiceDefinition{ServiceName: "order", Owner: "team-checkout", Version: "1.0.0"}))

	def, ok, err := reg.GetDefinition(ctx, "order")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "team-checkout", def.Owner)
	assert.False(t, def.CreatedAt.IsZero())

	defs, err := reg.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}
