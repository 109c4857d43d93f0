/*
Package natskv is the production kvstore.KVStore adapter, backed by a
NATS JetStream key/value bucket via github.com/nats-io/nats.go/jetstream.
It is the adapter cmd/meridian-demo wires by default, the same role
pkg/runtime.ContainerdRuntime plays for the teacher's abstract runtime
interface.

Values are wrapped in a small envelope carrying an explicit ExpiresAt,
so TTL is enforced by this adapter rather than relying on a specific
bucket-wide TTL/per-message-TTL feature — the same tradeoff boltkv and
memkv make, so the three adapters agree on expiry semantics exactly.
Revisions are the revision JetStream reports for each entry (drawn from
the bucket's sequence, which is shared across all keys), which already
gives create/update CAS semantics for free via the bucket's
Create/Update calls.
*/
package natskv
