// Package subject maps (service, method, domain, event_type, group)
// identifiers to broker subjects and KV keys per the grammar in
// spec.md §3.5. All functions here are pure and stateless; the only
// failure mode is InvalidIdentifier on a malformed name.
package subject
