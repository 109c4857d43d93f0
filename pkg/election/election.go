package election

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

// State is a leader-election state (spec.md §4.6).
type State string

const (
	StateStandby     State = "STANDBY"
	StateCampaigning State = "CAMPAIGNING"
	StateActive      State = "ACTIVE"
)

// Config tunes lease TTL and the jitter/backoff windows around observe
// and campaign.
type Config struct {
	LeaderTTL      time.Duration
	ObserveJitter  time.Duration // ± applied to leader_ttl/2 re-check delay
	CampaignSpread time.Duration // max randomized pre-attempt backoff
}

// DefaultConfig derives observe jitter and campaign spread from
// leaderTTL per spec.md §4.6's failover-time guidance.
func DefaultConfig(leaderTTL time.Duration) Config {
	return Config{
		LeaderTTL:      leaderTTL,
		ObserveJitter:  leaderTTL / 10,
		CampaignSpread: leaderTTL / 4,
	}
}

// Elector runs the state machine for one (service, group) pair. Create
// one per group an instance participates in.
type Elector struct {
	store      kvstore.KVStore
	service    string
	group      string
	instanceID string
	cfg        Config
	groupLabel string

	isActive     atomic.Bool
	fencingToken atomic.Int64

	mu    sync.Mutex
	state State

	// single-writer fields, touched only from the run goroutine
	observedExists   bool
	observedRevision uint64

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New constructs an Elector. Call Start to begin running its loop.
func New(store kvstore.KVStore, service, group, instanceID string, cfg Config) *Elector {
	return &Elector{
		store:      store,
		service:    service,
		group:      group,
		instanceID: instanceID,
		cfg:        cfg,
		groupLabel: service + "/" + group,
		state:      StateStandby,
	}
}

// IsActive reports whether this instance currently holds the lease,
// safe to call from any goroutine without synchronizing with the
// election loop (spec.md §5).
func (e *Elector) IsActive() bool { return e.isActive.Load() }

// FencingToken returns the last fencing token observed by this
// instance for the group, safe to call from any goroutine.
func (e *Elector) FencingToken() int64 { return e.fencingToken.Load() }

func (e *Elector) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Elector) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	metrics.ElectionTransitionsTotal.WithLabelValues(e.groupLabel, string(s)).Inc()
	log.WithServiceGroup(e.service, e.group).Info().Msg("election state -> " + string(s))
}

// Start begins the background state machine loop.
func (e *Elector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.doneCh = make(chan struct{})
	go e.run(runCtx)
}

// Stop cancels the loop and blocks until it exits, releasing the lease
// if this instance held it.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.doneCh != nil {
		<-e.doneCh
	}
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.doneCh)
	for {
		if ctx.Err() != nil {
			if e.IsActive() {
				e.release()
			}
			return
		}
		switch e.currentState() {
		case StateCampaigning:
			e.campaign(ctx)
		case StateActive:
			e.activeLoop(ctx)
		default:
			e.observe(ctx)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func jittered(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	delta := time.Duration(rand.Int63n(int64(2*spread))) - spread
	d := base + delta
	if d < 0 {
		d = 0
	}
	return d
}

// observe reads the lease once. If it belongs to someone else and is
// still valid, it sleeps a jittered re-check interval and stays in
// STANDBY; otherwise it transitions to CAMPAIGNING with the observed
// revision recorded for a subsequent CAS.
func (e *Elector) observe(ctx context.Context) {
	key, err := subject.LeaseKey(e.service, e.group)
	if err != nil {
		log.WithServiceGroup(e.service, e.group).Error().Msg("invalid lease key: " + err.Error())
		sleepCtx(ctx, e.cfg.LeaderTTL)
		return
	}
	entry, ok, err := e.store.Get(ctx, key)
	if err != nil {
		log.WithServiceGroup(e.service, e.group).Warn().Err(err).Msg("observe lease failed, retrying")
		sleepCtx(ctx, e.cfg.LeaderTTL/2)
		return
	}
	if !ok {
		e.observedExists = false
		e.observedRevision = 0
		e.setState(StateCampaigning)
		return
	}
	var lease types.LeaderLease
	if err := json.Unmarshal(entry.Value, &lease); err != nil {
		log.WithServiceGroup(e.service, e.group).Warn().Msg("malformed lease record, treating as absent")
		e.observedExists = false
		e.observedRevision = 0
		e.setState(StateCampaigning)
		return
	}
	now := time.Now()
	if lease.LeaderInstanceID != e.instanceID && !lease.Expired(now) {
		sleepCtx(ctx, jittered(e.cfg.LeaderTTL/2, e.cfg.ObserveJitter))
		return
	}
	e.observedExists = true
	e.observedRevision = entry.Revision
	e.setState(StateCampaigning)
}

// campaign backs off proportionally to a hash of instance_id to spread
// out thundering-herd attempts, then performs a single create-or-update
// CAS attempt.
func (e *Elector) campaign(ctx context.Context) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(e.instanceID))
	spread := e.cfg.CampaignSpread
	if spread <= 0 {
		spread = 50 * time.Millisecond
	}
	backoff := time.Duration(h.Sum32()%uint32(spread.Milliseconds()+1)) * time.Millisecond
	if !sleepCtx(ctx, backoff) {
		return
	}

	key, err := subject.LeaseKey(e.service, e.group)
	if err != nil {
		e.setState(StateStandby)
		return
	}
	now := time.Now()
	lease := types.LeaderLease{
		LeaderInstanceID: e.instanceID,
		AcquiredAt:       now,
		ExpiresAt:        now.Add(e.cfg.LeaderTTL),
	}
	data, err := json.Marshal(lease)
	if err != nil {
		log.WithServiceGroup(e.service, e.group).Error().Msg("marshal lease: " + err.Error())
		e.setState(StateStandby)
		return
	}
	opts := kvstore.PutOptions{TTL: e.cfg.LeaderTTL}

	var casErr error
	if e.observedExists {
		casErr = e.store.Update(ctx, key, data, e.observedRevision, opts)
	} else {
		casErr = e.store.Create(ctx, key, data, opts)
	}
	if casErr != nil {
		if !errors.Is(casErr, merr.KeyExists) && !errors.Is(casErr, merr.RevisionMismatch) {
			log.WithServiceGroup(e.service, e.group).Warn().Err(casErr).Msg("election CAS failed with unrecoverable error")
		}
		e.setState(StateStandby)
		return
	}

	entry, ok, err := e.store.Get(ctx, key)
	token := int64(e.observedRevision) + 1
	if err == nil && ok {
		token = int64(entry.Revision)
	}
	e.fencingToken.Store(token)
	metrics.FencingToken.WithLabelValues(e.groupLabel).Set(float64(token))
	e.isActive.Store(true)
	metrics.ElectionIsActive.WithLabelValues(e.groupLabel).Set(1)
	e.setState(StateActive)
}

// activeLoop refreshes the lease every leader_ttl/3 while ACTIVE,
// standing down after two consecutive refresh failures.
func (e *Elector) activeLoop(ctx context.Context) {
	key, err := subject.LeaseKey(e.service, e.group)
	if err != nil {
		e.standDown()
		return
	}
	interval := e.cfg.LeaderTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	failures := 0
	for {
		if !sleepCtx(ctx, interval) {
			return // run() handles release on ctx cancellation
		}
		now := time.Now()
		lease := types.LeaderLease{
			LeaderInstanceID: e.instanceID,
			AcquiredAt:       now,
			ExpiresAt:        now.Add(e.cfg.LeaderTTL),
			FencingToken:     e.fencingToken.Load(),
		}
		data, err := json.Marshal(lease)
		if err != nil {
			e.standDown()
			return
		}
		entry, ok, err := e.store.Get(ctx, key)
		if err != nil || !ok {
			failures++
		} else if err := e.store.Update(ctx, key, data, entry.Revision, kvstore.PutOptions{TTL: e.cfg.LeaderTTL}); err != nil {
			failures++
		} else {
			// The fencing token is issued once, at acquisition (spec.md
			// §4.6/§4.7). A refresh just re-affirms the existing lease
			// under the same token; it never mints a new one.
			failures = 0
		}
		if failures >= 2 {
			log.WithServiceGroup(e.service, e.group).Warn().Msg("lease refresh failed twice, standing down")
			e.standDown()
			return
		}
	}
}

func (e *Elector) standDown() {
	e.isActive.Store(false)
	metrics.ElectionIsActive.WithLabelValues(e.groupLabel).Set(0)
	e.setState(StateStandby)
}

// release best-effort deletes the lease on graceful shutdown; failures
// are logged and ignored, relying on TTL to clean up (spec.md §4.6).
func (e *Elector) release() {
	key, err := subject.LeaseKey(e.service, e.group)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := e.store.Delete(ctx, key); err != nil {
		log.WithServiceGroup(e.service, e.group).Warn().Err(err).Msg("release lease failed, relying on TTL")
	}
	e.isActive.Store(false)
	metrics.ElectionIsActive.WithLabelValues(e.groupLabel).Set(0)
}
