package discovery

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

// InstanceLister is the basic (uncached) discovery path: a raw
// registry scan. *registry.Registry satisfies this.
type InstanceLister interface {
	ListInstances(ctx context.Context, service string) ([]types.ServiceInstance, error)
}

// Config tunes cache TTL, staleness filtering, and watcher reconnect
// backoff (spec.md §4.5, §6.4).
type Config struct {
	CacheTTL              time.Duration
	StalenessThreshold    time.Duration
	WatchEnabled          bool
	ReconnectInitialDelay time.Duration
	ReconnectMultiplier   float64
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int // 0 = unbounded
}

// DefaultConfig returns the defaults implied by spec.md §6.4 given a
// registry_ttl.
func DefaultConfig(registryTTL time.Duration) Config {
	return Config{
		CacheTTL:              30 * time.Second,
		StalenessThreshold:    time.Duration(float64(registryTTL) * 1.5),
		WatchEnabled:          true,
		ReconnectInitialDelay: 200 * time.Millisecond,
		ReconnectMultiplier:   2.0,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMaxAttempts:  0,
	}
}

type cacheEntry struct {
	instances []types.ServiceInstance
	expiresAt time.Time
	valid     bool
}

// Discovery implements the watchable discovery cache over lister.
type Discovery struct {
	lister InstanceLister
	store  kvstore.KVStore
	cfg    Config

	mu      sync.Mutex
	cache   map[string]*cacheEntry
	rrIndex map[string]int

	cancel context.CancelFunc
}

// New constructs a Discovery. Call StartWatch to begin the background
// watcher; without it, the cache still works via TTL-only refresh.
func New(lister InstanceLister, store kvstore.KVStore, cfg Config) *Discovery {
	return &Discovery{
		lister:  lister,
		store:   store,
		cfg:     cfg,
		cache:   make(map[string]*cacheEntry),
		rrIndex: make(map[string]int),
	}
}

// StartWatch begins the single background watcher on the all-instances
// prefix. It is a no-op if cfg.WatchEnabled is false.
func (d *Discovery) StartWatch(ctx context.Context) {
	if !d.cfg.WatchEnabled {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.watchLoop(watchCtx)
}

// Stop cancels the background watcher, if running.
func (d *Discovery) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Discovery) watchLoop(ctx context.Context) {
	delay := d.cfg.ReconnectInitialDelay
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := d.store.Watch(ctx, subject.AllInstancesPrefix)
		if err != nil {
			if !d.backoff(ctx, &delay, &attempts) {
				return
			}
			continue
		}
		delay = d.cfg.ReconnectInitialDelay
		attempts = 0
		d.drain(ctx, events)
		if ctx.Err() != nil {
			return
		}
		metrics.WatchReconnects.Inc()
		log.Warn("discovery watch disconnected, reconnecting")
	}
}

// drain reads events until the channel closes (disconnect or ctx
// cancellation), invalidating the affected service's cache entry.
func (d *Discovery) drain(ctx context.Context, events <-chan kvstore.WatchEvent) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			metrics.WatchEventsTotal.Inc()
			if service, ok := serviceFromKey(evt.Key); ok {
				d.invalidateOne(service, true)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Discovery) backoff(ctx context.Context, delay *time.Duration, attempts *int) bool {
	*attempts++
	if d.cfg.ReconnectMaxAttempts > 0 && *attempts > d.cfg.ReconnectMaxAttempts {
		log.Error("discovery watch exceeded max reconnect attempts, giving up")
		return false
	}
	select {
	case <-time.After(*delay):
	case <-ctx.Done():
		return false
	}
	*delay = time.Duration(float64(*delay) * d.cfg.ReconnectMultiplier)
	if *delay > d.cfg.ReconnectMaxDelay {
		*delay = d.cfg.ReconnectMaxDelay
	}
	return true
}

func serviceFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, subject.AllInstancesPrefix)
	if rest == key {
		return "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 1 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

func (d *Discovery) invalidateOne(service string, fromWatch bool) {
	d.mu.Lock()
	if entry, ok := d.cache[service]; ok {
		entry.valid = false
	}
	d.mu.Unlock()
	if fromWatch {
		metrics.InvalidationsFromWatch.Inc()
	}
}

// InvalidateCache manually drops the cache entry for service, or the
// entire cache when service is "" or "all".
func (d *Discovery) InvalidateCache(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if service == "" || service == "all" {
		for _, entry := range d.cache {
			entry.valid = false
		}
		return
	}
	if entry, ok := d.cache[service]; ok {
		entry.valid = false
	}
}

// DiscoverInstances returns healthy, non-stale instances of service,
// serving from cache when valid and not expired (spec.md §4.5).
func (d *Discovery) DiscoverInstances(ctx context.Context, service string) ([]types.ServiceInstance, error) {
	now := time.Now()

	d.mu.Lock()
	entry, ok := d.cache[service]
	if ok && entry.valid && now.Before(entry.expiresAt) {
		instances := entry.instances
		d.mu.Unlock()
		metrics.CacheHits.WithLabelValues(service).Inc()
		return instances, nil
	}
	ttlExpired := ok && !now.Before(entry.expiresAt)
	d.mu.Unlock()

	metrics.CacheMisses.WithLabelValues(service).Inc()
	if ttlExpired {
		metrics.InvalidationsFromTTL.Inc()
	}

	all, err := d.lister.ListInstances(ctx, service)
	if err != nil {
		return nil, err
	}

	filtered := make([]types.ServiceInstance, 0, len(all))
	for _, inst := range all {
		if inst.IsStale(d.cfg.StalenessThreshold, now) {
			continue
		}
		if inst.Status != types.StatusActive && inst.Status != types.StatusStandby {
			continue
		}
		filtered = append(filtered, inst)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].InstanceID < filtered[j].InstanceID })

	d.mu.Lock()
	d.cache[service] = &cacheEntry{instances: filtered, expiresAt: now.Add(d.cfg.CacheTTL), valid: true}
	d.mu.Unlock()

	return filtered, nil
}

// SelectInstance applies a selection policy to the discovered
// instances of service. Returns ok=false if none are available.
func (d *Discovery) SelectInstance(ctx context.Context, service string, policy types.SelectionPolicy) (types.ServiceInstance, bool, error) {
	instances, err := d.DiscoverInstances(ctx, service)
	if err != nil {
		return types.ServiceInstance{}, false, err
	}
	if len(instances) == 0 {
		return types.ServiceInstance{}, false, nil
	}

	switch policy {
	case types.SelectRandom:
		return instances[rand.Intn(len(instances))], true, nil
	case types.SelectSticky:
		for _, inst := range instances {
			if inst.Status == types.StatusActive {
				return inst, true, nil
			}
		}
		return instances[0], true, nil
	case types.SelectRoundRobin, "":
		d.mu.Lock()
		idx := d.rrIndex[service] % len(instances)
		d.rrIndex[service] = idx + 1
		d.mu.Unlock()
		return instances[idx], true, nil
	default:
		return instances[0], true, nil
	}
}
