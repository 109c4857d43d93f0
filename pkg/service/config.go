package service

import (
	"time"

	"github.com/cuemby/meridian/pkg/codec"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/subject"
	"github.com/cuemby/meridian/pkg/types"
)

// Config holds every recognized runtime option (spec.md §6.4). Callers
// construct it directly or via DefaultConfig; no env/flag loading
// happens inside the SDK (spec.md §1, out of scope).
type Config struct {
	ServiceName string
	InstanceID  string
	Version     string

	BrokerServers        []string
	SerializationFormat  codec.Format
	RegistryTTL          time.Duration
	HeartbeatInterval    time.Duration
	EnableRegistration   bool
	StickyActiveGroup    string // "" disables C6
	LeaderTTL            time.Duration
	CacheTTL             time.Duration
	CacheStaleThreshold  time.Duration
	WatchEnabled         bool
	WatchMaxReconnects   int // 0 = unbounded
	RPCDefaultTimeout    time.Duration
	RPCMaxNotActiveRetry int
	SelectionPolicy      types.SelectionPolicy
}

// DefaultConfig returns the documented defaults for serviceName, with a
// random instance id suffix (spec.md §6.4).
func DefaultConfig(serviceName string) Config {
	registryTTL := 30 * time.Second
	return Config{
		ServiceName:          serviceName,
		InstanceID:           serviceName + "-" + codec.NewMessageID()[:8],
		Version:              "0.0.0",
		SerializationFormat:  codec.FormatBinary,
		RegistryTTL:          registryTTL,
		HeartbeatInterval:    registryTTL / 3,
		EnableRegistration:   true,
		LeaderTTL:            2 * time.Second,
		CacheTTL:             30 * time.Second,
		CacheStaleThreshold:  time.Duration(float64(registryTTL) * 1.5),
		WatchEnabled:         true,
		WatchMaxReconnects:   0,
		RPCDefaultTimeout:    5 * time.Second,
		RPCMaxNotActiveRetry: 3,
		SelectionPolicy:      types.SelectRoundRobin,
	}
}

// Validate checks required fields and identifier grammar.
func (c *Config) Validate() error {
	if err := subject.ValidateServiceName(c.ServiceName); err != nil {
		return err
	}
	if c.InstanceID == "" {
		return merr.InvalidIdentifier("instance_id must not be empty")
	}
	if len(c.BrokerServers) == 0 {
		return merr.InvalidIdentifier("broker_servers must contain at least one URL")
	}
	if _, err := codec.ParseFormat(string(c.SerializationFormat)); err != nil {
		return err
	}
	if c.RegistryTTL <= 0 {
		return merr.InvalidIdentifier("registry_ttl_seconds must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return merr.InvalidIdentifier("heartbeat_interval_seconds must be positive")
	}
	if c.StickyActiveGroup != "" && c.LeaderTTL <= 0 {
		return merr.InvalidIdentifier("leader_ttl_seconds must be positive when sticky_active_group is set")
	}
	if c.RPCDefaultTimeout <= 0 {
		return merr.InvalidIdentifier("rpc_default_timeout_ms must be positive")
	}
	switch c.SelectionPolicy {
	case types.SelectRoundRobin, types.SelectRandom, types.SelectSticky, "":
	default:
		return merr.InvalidIdentifier("unknown selection_policy %q", c.SelectionPolicy)
	}
	return nil
}
