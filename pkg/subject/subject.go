package subject

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/meridian/pkg/merr"
)

var (
	serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}[a-z0-9]$`)
	methodNamePattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// ValidateServiceName checks a service name against spec.md §3.1.
func ValidateServiceName(name string) error {
	if !serviceNamePattern.MatchString(name) {
		return merr.InvalidIdentifier("invalid service name %q: must match %s", name, serviceNamePattern.String())
	}
	return nil
}

// ValidateMethodName checks an RPC method, command, or event-handler
// method name against spec.md §4.1.
func ValidateMethodName(name string) error {
	if !methodNamePattern.MatchString(name) {
		return merr.InvalidIdentifier("invalid method name %q: must match %s", name, methodNamePattern.String())
	}
	return nil
}

// RPCSubject returns the load-balanced RPC subject for a method,
// queue-grouped by service name at the bus layer.
func RPCSubject(service, method string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	if err := ValidateMethodName(method); err != nil {
		return "", err
	}
	return fmt.Sprintf("rpc.%s.%s", service, method), nil
}

// RPCInstanceSubject returns the direct-to-instance RPC subject used
// for NOT_ACTIVE retries after discovery re-resolves the active leader.
func RPCInstanceSubject(service, instanceID, method string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	if instanceID == "" {
		return "", merr.InvalidIdentifier("instance id must not be empty")
	}
	if err := ValidateMethodName(method); err != nil {
		return "", err
	}
	return fmt.Sprintf("rpc.%s.%s.%s", service, instanceID, method), nil
}

// EventSubject returns the publish/subscribe subject for a domain event.
// domain and eventType may contain NATS wildcards (*, >) when used for
// subscription patterns; they are not validated as identifiers here
// because a subscriber legitimately passes "market.>" or "*.changed".
func EventSubject(domain, eventType string) string {
	return fmt.Sprintf("events.%s.%s", domain, eventType)
}

// HeartbeatSubject returns the optional lightweight heartbeat-broadcast
// subject for a service.
func HeartbeatSubject(service string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	return fmt.Sprintf("internal.heartbeat.%s", service), nil
}

// InstanceKey returns the registry KV key for a service instance.
func InstanceKey(service, instanceID string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	if instanceID == "" {
		return "", merr.InvalidIdentifier("instance id must not be empty")
	}
	return fmt.Sprintf("service-instances/%s/%s", service, instanceID), nil
}

// InstancePrefix returns the KV prefix covering all instances of a
// service, for list/watch operations.
func InstancePrefix(service string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	return fmt.Sprintf("service-instances/%s/", service), nil
}

// AllInstancesPrefix is the watch/list prefix covering every service's
// instances, used by the discovery cache's single background watcher.
const AllInstancesPrefix = "service-instances/"

// DefinitionKey returns the KV key for a service's catalog entry.
func DefinitionKey(service string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	return fmt.Sprintf("service-definitions/%s", service), nil
}

// LeaseKey returns the KV key for a sticky-active group's leader lease.
func LeaseKey(service, group string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	if group == "" {
		return "", merr.InvalidIdentifier("group id must not be empty")
	}
	return fmt.Sprintf("group-leader/%s/%s", service, group), nil
}

var wildcardReplacer = strings.NewReplacer("*", "star", ">", "gt", ".", "-")

// SanitizePattern substitutes NATS wildcards and separators in an event
// pattern so it can appear inside a durable consumer name. See spec.md
// §9 Open Question 2: collisions (e.g. "foo.star.bar" vs "foo.*.bar")
// are an accepted risk of this scheme, not a bug.
func SanitizePattern(pattern string) string {
	return wildcardReplacer.Replace(pattern)
}

// CompeteDurableName returns the shared durable consumer name for
// COMPETE-mode event subscriptions: one durable per service, so every
// instance's queue-grouped subscriber pulls from the same consumer.
func CompeteDurableName(service, pattern string) (string, error) {
	if err := ValidateServiceName(service); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", service, SanitizePattern(pattern)), nil
}

// BroadcastDurableName returns the per-instance durable consumer name
// for BROADCAST-mode event subscriptions: every instance gets its own
// durable, so every instance observes every event.
func BroadcastDurableName(service, instanceID, pattern string) (string, error) {
	base, err := CompeteDurableName(service, pattern)
	if err != nil {
		return "", err
	}
	if instanceID == "" {
		return "", merr.InvalidIdentifier("instance id must not be empty")
	}
	return fmt.Sprintf("%s-%s", base, instanceID), nil
}
