package registry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

// Registry implements the Service Registry (spec.md §4.4) over a
// kvstore.KVStore.
type Registry struct {
	store kvstore.KVStore
}

// New wraps store as a Registry.
func New(store kvstore.KVStore) *Registry {
	return &Registry{store: store}
}

// Register writes the instance record with the given TTL. A
// pre-existing entry at the same key is overwritten, matching
// re-registration after a crash (spec.md §4.4).
func (r *Registry) Register(ctx context.Context, instance types.ServiceInstance, ttl time.Duration) error {
	key, err := subject.InstanceKey(instance.ServiceName, instance.InstanceID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(instance)
	if err != nil {
		return merr.Registration(instance.ServiceName, err, "marshal instance %s/%s", instance.ServiceName, instance.InstanceID)
	}
	if err := r.store.Put(ctx, key, data, kvstore.PutOptions{TTL: ttl}); err != nil {
		return merr.Registration(instance.ServiceName, err, "register instance %s/%s", instance.ServiceName, instance.InstanceID)
	}
	log.WithServiceInstance(instance.ServiceName, instance.InstanceID).Info().Msg("instance registered")
	return nil
}

// UpdateHeartbeat refreshes the instance's TTL by re-writing its
// record with the current timestamp. Because Put is unconditional,
// this call transparently re-registers the instance if its record was
// externally deleted mid-lifetime (spec.md §4.4). Errors are swallowed
// and logged, never returned to the caller — heartbeat failures are
// recoverable on the next tick.
func (r *Registry) UpdateHeartbeat(ctx context.Context, instance types.ServiceInstance, ttl time.Duration) {
	instance.LastHeartbeat = time.Now()
	if err := r.Register(ctx, instance, ttl); err != nil {
		metrics.HeartbeatFailuresTotal.Inc()
		log.WithServiceInstance(instance.ServiceName, instance.InstanceID).Warn().Msg("heartbeat failed, will retry next tick")
		return
	}
	metrics.HeartbeatsTotal.Inc()
}

// Deregister best-effort deletes an instance record. It never raises
// on absence (spec.md §8 invariant 3, idempotence); KV errors other
// than absence surface as RegistrationError.
func (r *Registry) Deregister(ctx context.Context, service, instanceID string) error {
	key, err := subject.InstanceKey(service, instanceID)
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(ctx, key); err != nil {
		return merr.Registration(service, err, "deregister instance %s/%s", service, instanceID)
	}
	log.WithServiceInstance(service, instanceID).Info().Msg("instance deregistered")
	return nil
}

// GetInstance looks up a single instance by direct key.
func (r *Registry) GetInstance(ctx context.Context, service, instanceID string) (types.ServiceInstance, bool, error) {
	key, err := subject.InstanceKey(service, instanceID)
	if err != nil {
		return types.ServiceInstance{}, false, err
	}
	entry, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return types.ServiceInstance{}, false, err
	}
	var instance types.ServiceInstance
	if err := json.Unmarshal(entry.Value, &instance); err != nil {
		return types.ServiceInstance{}, false, merr.Serialization(err, "decode instance %s", key)
	}
	return instance, true, nil
}

// ListInstances scans every instance record for service. Malformed
// records are skipped and logged, not returned as an error, so one bad
// entry can't take down discovery for the whole service.
func (r *Registry) ListInstances(ctx context.Context, service string) ([]types.ServiceInstance, error) {
	prefix, err := subject.InstancePrefix(service)
	if err != nil {
		return nil, err
	}
	entries, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, merr.Registration(service, err, "list instances of %s", service)
	}
	instances := make([]types.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		var instance types.ServiceInstance
		if err := json.Unmarshal(e.Value, &instance); err != nil {
			log.WithService(service).Warn().Msg("skipping malformed instance record: " + e.Key)
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// ListAllServices derives the set of known service names from every
// instance key under the registry prefix.
func (r *Registry) ListAllServices(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, subject.AllInstancesPrefix)
	if err != nil {
		return nil, merr.Wrap(err, "list all services")
	}
	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, subject.AllInstancesPrefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 2 && parts[0] != "" {
			seen[parts[0]] = struct{}{}
		}
	}
	services := make([]string, 0, len(seen))
	for name := range seen {
		services = append(services, name)
	}
	return services, nil
}

// RegisterDefinition creates or updates a service's catalog entry
// (SPEC_FULL.md §4). CreatedAt is preserved across updates; UpdatedAt
// is refreshed to now.
func (r *Registry) RegisterDefinition(ctx context.Context, def types.ServiceDefinition) error {
	key, err := subject.DefinitionKey(def.ServiceName)
	if err != nil {
		return err
	}
	now := time.Now()
	if existing, ok, err := r.GetDefinition(ctx, def.ServiceName); err == nil && ok {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	data, err := json.Marshal(def)
	if err != nil {
		return merr.Registration(def.ServiceName, err, "marshal definition for %s", def.ServiceName)
	}
	if err := r.store.Put(ctx, key, data, kvstore.PutOptions{}); err != nil {
		return merr.Registration(def.ServiceName, err, "register definition for %s", def.ServiceName)
	}
	return nil
}

// GetDefinition reads a service's catalog entry, populating Revision
// from the KV store's monotonic counter for optimistic concurrency.
func (r *Registry) GetDefinition(ctx context.Context, service string) (types.ServiceDefinition, bool, error) {
	key, err := subject.DefinitionKey(service)
	if err != nil {
		return types.ServiceDefinition{}, false, err
	}
	entry, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return types.ServiceDefinition{}, false, err
	}
	var def types.ServiceDefinition
	if err := json.Unmarshal(entry.Value, &def); err != nil {
		return types.ServiceDefinition{}, false, merr.Serialization(err, "decode definition %s", key)
	}
	def.Revision = entry.Revision
	return def, true, nil
}

// ListDefinitions returns every registered service definition.
func (r *Registry) ListDefinitions(ctx context.Context) ([]types.ServiceDefinition, error) {
	entries, err := r.store.List(ctx, "service-definitions/")
	if err != nil {
		return nil, merr.Wrap(err, "list definitions")
	}
	defs := make([]types.ServiceDefinition, 0, len(entries))
	for _, e := range entries {
		var def types.ServiceDefinition
		if err := json.Unmarshal(e.Value, &def); err != nil {
			log.Warn("skipping malformed definition record: " + e.Key)
			continue
		}
		def.Revision = e.Revision
		defs = append(defs, def)
	}
	return defs, nil
}
