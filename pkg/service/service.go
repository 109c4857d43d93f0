// Package service implements the Service Runtime & Dispatch (spec.md
// §4.7): handler registries, the startup/shutdown sequence, outgoing
// call_rpc with NOT_ACTIVE retry-and-rediscover, event subscription
// modes, and the heartbeat task.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/meridian/pkg/bus"
	"github.com/cuemby/meridian/pkg/codec"
	"github.com/cuemby/meridian/pkg/discovery"
	"github.com/cuemby/meridian/pkg/election"
	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/registry"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

// RPCHandler answers one RPC method invocation.
type RPCHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// EventHandler processes one delivered domain event.
type EventHandler func(ctx context.Context, evt *types.Event) error

// ProgressFunc reports incremental command progress; failures to
// publish are logged and otherwise ignored by the caller.
type ProgressFunc func(ctx context.Context, percent int, message string)

// CommandHandler answers one command invocation, optionally reporting
// progress via progress.
type CommandHandler func(ctx context.Context, cmd *types.Command, progress ProgressFunc) (map[string]interface{}, error)

type eventRegistration struct {
	pattern string
	handler EventHandler
	mode    types.SubscriptionMode
}

// Service is the runtime: handler registries, broker subscriptions,
// registration/heartbeat, and (optionally) a sticky-active elector.
type Service struct {
	cfg       Config
	bus       bus.MessageBus
	store     kvstore.KVStore
	registry  *registry.Registry
	discovery *discovery.Discovery
	elector   *election.Elector

	mu                   sync.Mutex
	started              bool
	rpcHandlers          map[string]RPCHandler
	exclusiveRPCHandlers map[string]RPCHandler
	commandHandlers      map[string]CommandHandler
	eventRegs            []eventRegistration

	subs []bus.Subscription

	breakers   map[string]*breaker
	breakersMu sync.Mutex

	connected atomic.Bool

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	heartbeatDone  chan struct{}
}

// New constructs a Service over bus and store, validating cfg.
func New(cfg Config, messageBus bus.MessageBus, store kvstore.KVStore) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := registry.New(store)
	disc := discovery.New(reg, store, discovery.Config{
		CacheTTL:              cfg.CacheTTL,
		StalenessThreshold:    cfg.CacheStaleThreshold,
		WatchEnabled:          cfg.WatchEnabled,
		ReconnectInitialDelay: 200 * time.Millisecond,
		ReconnectMultiplier:   2.0,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMaxAttempts:  cfg.WatchMaxReconnects,
	})

	var elector *election.Elector
	if cfg.StickyActiveGroup != "" {
		elector = election.New(store, cfg.ServiceName, cfg.StickyActiveGroup, cfg.InstanceID, election.DefaultConfig(cfg.LeaderTTL))
	}

	return &Service{
		cfg:                  cfg,
		bus:                  messageBus,
		store:                store,
		registry:             reg,
		discovery:            disc,
		elector:              elector,
		rpcHandlers:          make(map[string]RPCHandler),
		exclusiveRPCHandlers: make(map[string]RPCHandler),
		commandHandlers:      make(map[string]CommandHandler),
		breakers:             make(map[string]*breaker),
	}, nil
}

// RegisterRPC adds a handler for method. Must be called before Start.
func (s *Service) RegisterRPC(method string, handler RPCHandler) error {
	return s.registerRPC(s.rpcHandlers, method, handler)
}

// RegisterExclusiveRPC adds a handler for method gated on this
// instance holding the sticky-active lease (spec.md §4.7).
func (s *Service) RegisterExclusiveRPC(method string, handler RPCHandler) error {
	return s.registerRPC(s.exclusiveRPCHandlers, method, handler)
}

func (s *Service) registerRPC(into map[string]RPCHandler, method string, handler RPCHandler) error {
	if err := subject.ValidateMethodName(method); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return merr.InvalidIdentifier("cannot register rpc method %q after Start", method)
	}
	into[method] = handler
	return nil
}

// RegisterCommand adds a handler for command. Must be called before Start.
func (s *Service) RegisterCommand(command string, handler CommandHandler) error {
	if err := subject.ValidateMethodName(command); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return merr.InvalidIdentifier("cannot register command %q after Start", command)
	}
	s.commandHandlers[command] = handler
	return nil
}

// SubscribeEvent registers an event handler for pattern under mode
// (COMPETE or BROADCAST). Must be called before Start.
func (s *Service) SubscribeEvent(pattern string, handler EventHandler, mode types.SubscriptionMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return merr.InvalidIdentifier("cannot subscribe event %q after Start", pattern)
	}
	s.eventRegs = append(s.eventRegs, eventRegistration{pattern: pattern, handler: handler, mode: mode})
	return nil
}

// Discovery exposes the service's discovery cache for direct use.
func (s *Service) Discovery() *discovery.Discovery { return s.discovery }

// IsActive reports sticky-active leadership; always true when no
// sticky_active_group is configured.
func (s *Service) IsActive() bool {
	if s.elector == nil {
		return true
	}
	return s.elector.IsActive()
}

func commandSubject(service, command string) (string, error) {
	if err := subject.ValidateServiceName(service); err != nil {
		return "", err
	}
	if err := subject.ValidateMethodName(command); err != nil {
		return "", err
	}
	return fmt.Sprintf("cmd.%s.%s", service, command), nil
}

// Start runs the startup sequence (spec.md §4.7): connect, register +
// heartbeat, election, broker subscriptions, status announcement.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return merr.InvalidIdentifier("service already started")
	}
	s.started = true
	s.mu.Unlock()

	s.bus.OnStateChange(func(state bus.ConnectionState) {
		s.connected.Store(state == bus.StateConnected)
		log.WithServiceInstance(s.cfg.ServiceName, s.cfg.InstanceID).Warn().
			Str("state", string(state)).Msg("broker connection state changed")
	})
	if err := s.bus.Connect(ctx, s.cfg.BrokerServers); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	s.connected.Store(true)

	s.shutdownCtx, s.shutdownCancel = context.WithCancel(context.Background())

	status := types.StatusActive
	if s.elector != nil {
		status = types.StatusStandby
	}

	if s.cfg.EnableRegistration {
		instance := types.ServiceInstance{
			ServiceName:       s.cfg.ServiceName,
			InstanceID:        s.cfg.InstanceID,
			Version:           s.cfg.Version,
			Status:            status,
			LastHeartbeat:     time.Now(),
			StickyActiveGroup: s.cfg.StickyActiveGroup,
		}
		if err := s.registry.Register(ctx, instance, s.cfg.RegistryTTL); err != nil {
			return fmt.Errorf("register instance: %w", err)
		}
		s.heartbeatDone = make(chan struct{})
		go s.heartbeatLoop(instance)
	}

	s.discovery.StartWatch(s.shutdownCtx)

	if s.elector != nil {
		s.elector.Start(s.shutdownCtx)
	}

	if err := s.subscribeAll(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	log.WithServiceInstance(s.cfg.ServiceName, s.cfg.InstanceID).Info().Msg("service started")
	return nil
}

func (s *Service) subscribeAll(ctx context.Context) error {
	for method, handler := range s.rpcHandlers {
		if err := s.subscribeRPC(ctx, method, handler, false); err != nil {
			return err
		}
	}
	for method, handler := range s.exclusiveRPCHandlers {
		if err := s.subscribeRPC(ctx, method, handler, true); err != nil {
			return err
		}
	}
	for command, handler := range s.commandHandlers {
		if err := s.subscribeCommand(ctx, command, handler); err != nil {
			return err
		}
	}
	for _, reg := range s.eventRegs {
		if err := s.subscribeEvent(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) subscribeRPC(ctx context.Context, method string, handler RPCHandler, exclusive bool) error {
	subj, err := subject.RPCSubject(s.cfg.ServiceName, method)
	if err != nil {
		return err
	}
	sub, err := s.bus.Subscribe(ctx, subj, bus.SubscribeOptions{QueueGroup: s.cfg.ServiceName}, s.rpcBusHandler(method, handler, exclusive))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	// retryNotActive addresses retries directly at one instance
	// (subject.RPCInstanceSubject) rather than the queue group, so every
	// instance also needs a direct, non-grouped subscription to answer them.
	instSubj, err := subject.RPCInstanceSubject(s.cfg.ServiceName, s.cfg.InstanceID, method)
	if err != nil {
		return err
	}
	instSub, err := s.bus.Subscribe(ctx, instSubj, bus.SubscribeOptions{}, s.rpcBusHandler(method, handler, exclusive))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, instSub)
	return nil
}

func (s *Service) subscribeCommand(ctx context.Context, command string, handler CommandHandler) error {
	subj, err := commandSubject(s.cfg.ServiceName, command)
	if err != nil {
		return err
	}
	sub, err := s.bus.Subscribe(ctx, subj, bus.SubscribeOptions{QueueGroup: s.cfg.ServiceName}, s.commandBusHandler(handler))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Service) subscribeEvent(ctx context.Context, reg eventRegistration) error {
	opts := bus.SubscribeOptions{}
	var durable string
	var err error
	switch reg.mode {
	case types.ModeBroadcast:
		durable, err = subject.BroadcastDurableName(s.cfg.ServiceName, s.cfg.InstanceID, reg.pattern)
	default:
		durable, err = subject.CompeteDurableName(s.cfg.ServiceName, reg.pattern)
		opts.QueueGroup = s.cfg.ServiceName
	}
	if err != nil {
		return err
	}
	opts.Durable = durable

	sub, err := s.bus.Subscribe(ctx, reg.pattern, opts, s.eventBusHandler(reg))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Service) rpcBusHandler(method string, handler RPCHandler, exclusive bool) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var req types.RPCRequest
		if err := codec.DecodeWithFormat(s.cfg.SerializationFormat, msg.Data, &req); err != nil {
			log.WithService(s.cfg.ServiceName).Error().Err(err).Msg("failed to decode rpc request")
			return err
		}
		resp := s.invokeRPC(ctx, &req, handler, exclusive)
		return s.reply(ctx, msg, resp)
	}
}

func (s *Service) commandBusHandler(handler CommandHandler) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var cmd types.Command
		if err := codec.DecodeWithFormat(s.cfg.SerializationFormat, msg.Data, &cmd); err != nil {
			log.WithService(s.cfg.ServiceName).Error().Err(err).Msg("failed to decode command")
			return err
		}
		progress := func(pctx context.Context, percent int, message string) {
			payload := map[string]interface{}{"percent": percent, "message": message, "command_id": cmd.MessageID}
			if err := s.PublishEvent(pctx, "command", cmd.Command+"-progress", payload, "1.0.0"); err != nil {
				log.WithService(s.cfg.ServiceName).Warn().Err(err).Msg("failed to publish command progress")
			}
		}
		result, err := s.safeInvokeCommand(ctx, &cmd, handler, progress)
		var resp *types.RPCResponse
		if err != nil {
			resp = codec.NewRPCError(s.cfg.InstanceID, &types.RPCRequest{Envelope: cmd.Envelope, Method: cmd.Command}, types.ErrCodeHandler, "internal handler error")
		} else {
			resp = codec.NewRPCResponse(s.cfg.InstanceID, &types.RPCRequest{Envelope: cmd.Envelope, Method: cmd.Command}, result)
		}
		return s.reply(ctx, msg, resp)
	}
}

func (s *Service) reply(ctx context.Context, msg bus.Message, resp *types.RPCResponse) error {
	data, err := codec.Encode(s.cfg.SerializationFormat, resp)
	if err != nil {
		return err
	}
	if msg.Reply == "" {
		return nil
	}
	return s.bus.Publish(ctx, msg.Reply, data)
}

func (s *Service) eventBusHandler(reg eventRegistration) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var evt types.Event
		if err := codec.DecodeWithFormat(s.cfg.SerializationFormat, msg.Data, &evt); err != nil {
			metrics.EventsHandledTotal.WithLabelValues(reg.pattern, string(reg.mode), "decode_error").Inc()
			return err
		}
		if err := s.safeInvokeEvent(ctx, reg.handler, &evt); err != nil {
			metrics.EventsHandledTotal.WithLabelValues(reg.pattern, string(reg.mode), "error").Inc()
			return err
		}
		metrics.EventsHandledTotal.WithLabelValues(reg.pattern, string(reg.mode), "success").Inc()
		metrics.RecordEventHandled()
		return nil
	}
}

func (s *Service) invokeRPC(ctx context.Context, req *types.RPCRequest, handler RPCHandler, exclusive bool) *types.RPCResponse {
	if exclusive && !s.IsActive() {
		return codec.NewRPCError(s.cfg.InstanceID, req, types.ErrCodeNotActive, "instance is not ACTIVE for sticky group "+s.cfg.StickyActiveGroup)
	}
	result, err := s.safeInvokeRPC(ctx, req, handler)
	if err != nil {
		if merr.AsKind(err, merr.KindInvalidIdentifier) {
			return codec.NewRPCError(s.cfg.InstanceID, req, types.ErrCodeValidation, err.Error())
		}
		log.WithService(s.cfg.ServiceName).Error().Err(err).Str("method", req.Method).Msg("rpc handler failed")
		return codec.NewRPCError(s.cfg.InstanceID, req, types.ErrCodeHandler, "internal handler error")
	}
	return codec.NewRPCResponse(s.cfg.InstanceID, req, result)
}

func (s *Service) safeInvokeRPC(ctx context.Context, req *types.RPCRequest, handler RPCHandler) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, req.Params)
}

func (s *Service) safeInvokeEvent(ctx context.Context, handler EventHandler, evt *types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

func (s *Service) safeInvokeCommand(ctx context.Context, cmd *types.Command, handler CommandHandler, progress ProgressFunc) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, cmd, progress)
}

func (s *Service) heartbeatLoop(instance types.ServiceInstance) {
	defer close(s.heartbeatDone)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			instance.Status = types.StatusActive
			if s.elector != nil {
				if s.elector.IsActive() {
					instance.Status = types.StatusActive
				} else {
					instance.Status = types.StatusStandby
				}
			}
			s.registry.UpdateHeartbeat(s.shutdownCtx, instance, s.cfg.RegistryTTL)
			metrics.RecordHeartbeat()
			if subj, err := subject.HeartbeatSubject(s.cfg.ServiceName); err == nil {
				env := codec.NewEnvelope(s.cfg.InstanceID, "")
				if data, err := codec.Encode(s.cfg.SerializationFormat, env); err == nil {
					_ = s.bus.Publish(s.shutdownCtx, subj, data)
				}
			}
			snap := metrics.TakeSnapshot()
			log.WithServiceInstance(s.cfg.ServiceName, s.cfg.InstanceID).Debug().
				Float64("uptime_seconds", snap.UptimeSeconds).
				Int64("rpc_calls_total", snap.RPCCallsTotal).
				Int64("events_handled_total", snap.EventsHandledTotal).
				Msg("heartbeat")
		case <-s.shutdownCtx.Done():
			return
		}
	}
}

// PublishEvent publishes a domain event (spec.md §6.2).
func (s *Service) PublishEvent(ctx context.Context, domain, eventType string, payload map[string]interface{}, version string) error {
	evt := codec.NewEvent(s.cfg.InstanceID, domain, eventType, version, payload)
	data, err := codec.Encode(s.cfg.SerializationFormat, evt)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, subject.EventSubject(domain, eventType), data)
}

// CallCommand sends a command to targetService and awaits its
// RPCResponse-shaped reply, mirroring CallRPC's wire contract but
// carrying a Command envelope instead of an RPCRequest.
func (s *Service) CallCommand(ctx context.Context, targetService, command string, payload map[string]interface{}, priority int, timeout time.Duration) (map[string]interface{}, error) {
	if timeout <= 0 {
		timeout = s.cfg.RPCDefaultTimeout
	}
	subj, err := commandSubject(targetService, command)
	if err != nil {
		return nil, err
	}
	cmd := codec.NewCommand(s.cfg.InstanceID, targetService, command, payload, priority)
	data, err := codec.Encode(s.cfg.SerializationFormat, cmd)
	if err != nil {
		return nil, err
	}
	respData, err := s.bus.Request(ctx, subj, data, timeout)
	if err != nil {
		return nil, merr.RPC("TIMEOUT", "command %s.%s timed out or failed: %v", targetService, command, err)
	}
	var resp types.RPCResponse
	if err := codec.DecodeWithFormat(s.cfg.SerializationFormat, respData, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, merr.RPC(string(resp.ErrorCode), "%s", resp.Error)
	}
	return resp.Result, nil
}

// CallRPC performs an outgoing RPC (spec.md §4.7 "RPC call"), with
// optional NOT_ACTIVE retry-and-rediscover.
func (s *Service) CallRPC(ctx context.Context, targetService, method string, params map[string]interface{}, timeout time.Duration, retryOnNotActive bool) (map[string]interface{}, error) {
	if timeout <= 0 {
		timeout = s.cfg.RPCDefaultTimeout
	}
	if !s.connected.Load() {
		return nil, merr.RPC("TIMEOUT", "broker disconnected, refusing outgoing rpc to %q", targetService)
	}
	b := s.breakerFor(targetService)
	if !b.Allow() {
		metrics.RPCCallsTotal.WithLabelValues(targetService, "circuit_open").Inc()
		return nil, merr.RPC("TIMEOUT", "circuit breaker open for service %q", targetService)
	}

	subj, err := subject.RPCSubject(targetService, method)
	if err != nil {
		return nil, err
	}
	result, rpcErr := s.doRPC(ctx, subj, targetService, method, params, timeout)
	if rpcErr == nil {
		b.RecordSuccess()
		return result, nil
	}

	if isNotActive(rpcErr) {
		if !retryOnNotActive {
			return nil, rpcErr
		}
		return s.retryNotActive(ctx, targetService, method, params, timeout, b)
	}

	b.RecordFailure()
	return nil, rpcErr
}

func isNotActive(err error) bool {
	var e *merr.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == merr.KindRPC && e.Code == string(types.ErrCodeNotActive)
}

func (s *Service) retryNotActive(ctx context.Context, targetService, method string, params map[string]interface{}, timeout time.Duration, b *breaker) (map[string]interface{}, error) {
	s.discovery.InvalidateCache(targetService)
	var lastErr error = merr.RPC(string(types.ErrCodeNotActive), "no active instance of %q found", targetService)

	for attempt := 0; attempt < s.cfg.RPCMaxNotActiveRetry; attempt++ {
		metrics.RPCRetriesTotal.WithLabelValues(targetService).Inc()
		backoff := jitteredBackoff(attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		inst, ok, err := s.discovery.SelectInstance(ctx, targetService, types.SelectSticky)
		if err != nil || !ok {
			s.discovery.InvalidateCache(targetService)
			continue
		}
		subj, err := subject.RPCInstanceSubject(targetService, inst.InstanceID, method)
		if err != nil {
			return nil, err
		}
		result, rpcErr := s.doRPC(ctx, subj, targetService, method, params, timeout)
		if rpcErr == nil {
			b.RecordSuccess()
			return result, nil
		}
		lastErr = rpcErr
		if !isNotActive(rpcErr) {
			b.RecordFailure()
			return nil, rpcErr
		}
		s.discovery.InvalidateCache(targetService)
	}
	return nil, lastErr
}

func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
	if base > 2*time.Second {
		base = 2 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	return base + jitter
}

func (s *Service) doRPC(ctx context.Context, subj, targetService, method string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	timer := metrics.NewTimer()
	req := codec.NewRPCRequest(s.cfg.InstanceID, "", method, targetService, params, timeout.Milliseconds())
	data, err := codec.Encode(s.cfg.SerializationFormat, req)
	if err != nil {
		return nil, err
	}

	respData, err := s.bus.Request(ctx, subj, data, timeout)
	timer.ObserveDurationVec(metrics.RPCCallDuration, targetService, method)
	if err != nil {
		metrics.RPCCallsTotal.WithLabelValues(targetService, "timeout").Inc()
		metrics.RecordRPCCall(false)
		return nil, merr.RPC("TIMEOUT", "rpc %s.%s timed out or failed: %v", targetService, method, err)
	}

	var resp types.RPCResponse
	if err := codec.DecodeWithFormat(s.cfg.SerializationFormat, respData, &resp); err != nil {
		metrics.RPCCallsTotal.WithLabelValues(targetService, "error").Inc()
		metrics.RecordRPCCall(false)
		return nil, err
	}
	if !resp.Success {
		metrics.RPCCallsTotal.WithLabelValues(targetService, string(resp.ErrorCode)).Inc()
		metrics.RecordRPCCall(false)
		return nil, merr.RPC(string(resp.ErrorCode), "%s", resp.Error)
	}
	metrics.RPCCallsTotal.WithLabelValues(targetService, "success").Inc()
	metrics.RecordRPCCall(true)
	return resp.Result, nil
}

func (s *Service) breakerFor(targetService string) *breaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	b, ok := s.breakers[targetService]
	if !ok {
		b = newBreaker(5, 10*time.Second)
		s.breakers[targetService] = b
	}
	return b
}

// Stop runs the shutdown sequence (spec.md §4.7): refuse new work, stop
// subscriptions, release the lease, stop heartbeat, deregister,
// disconnect, log a final metrics snapshot. Steps are idempotent and
// tolerant of partial failure.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}

	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.WithService(s.cfg.ServiceName).Warn().Err(err).Msg("unsubscribe failed during shutdown")
		}
	}

	if s.elector != nil {
		s.elector.Stop()
	}

	if s.heartbeatDone != nil {
		<-s.heartbeatDone
	}
	if s.cfg.EnableRegistration {
		if err := s.registry.Deregister(ctx, s.cfg.ServiceName, s.cfg.InstanceID); err != nil {
			log.WithService(s.cfg.ServiceName).Warn().Err(err).Msg("deregister failed during shutdown")
		}
	}

	if err := s.bus.Disconnect(); err != nil {
		log.WithService(s.cfg.ServiceName).Warn().Err(err).Msg("broker disconnect failed during shutdown")
	}

	snap := metrics.TakeSnapshot()
	log.WithServiceInstance(s.cfg.ServiceName, s.cfg.InstanceID).Info().
		Float64("uptime_seconds", snap.UptimeSeconds).
		Int64("rpc_calls_total", snap.RPCCallsTotal).
		Int64("events_handled_total", snap.EventsHandledTotal).
		Msg("service stopped")
	return nil
}
