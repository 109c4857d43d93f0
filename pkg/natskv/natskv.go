package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
)

// envelope wraps every stored value with an adapter-enforced TTL,
// independent of whatever bucket-level TTL the JetStream KV bucket was
// created with.
type envelope struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e envelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store is a kvstore.KVStore backed by a JetStream KV bucket.
type Store struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	ctx context.Context

	mu       sync.Mutex
	watchers []jetstream.KeyWatcher
	sweepCh  chan struct{}
}

// Open connects to the given NATS servers and binds (creating if
// absent) the named JetStream KV bucket.
func Open(ctx context.Context, servers []string, bucket string) (*Store, error) {
	nc, err := nats.Connect(strings.Join(servers, ","))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind kv bucket %q: %w", bucket, err)
	}

	s := &Store{nc: nc, kv: kv, ctx: ctx, sweepCh: make(chan struct{})}
	go s.sweepLoop(time.Second)
	return s, nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	lister, err := s.kv.ListKeys(s.ctx)
	if err != nil {
		return
	}
	now := time.Now()
	for key := range lister.Keys() {
		entry, err := s.kv.Get(s.ctx, key)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(entry.Value(), &env); err != nil {
			continue
		}
		if env.expired(now) {
			if err := s.kv.Delete(s.ctx, key); err != nil {
				log.Errorf("natskv expire sweep delete failed", err)
			}
		}
	}
}

func encode(value []byte, opts kvstore.PutOptions) ([]byte, error) {
	env := envelope{Value: value}
	if opts.TTL > 0 {
		env.ExpiresAt = time.Now().Add(opts.TTL)
	}
	return json.Marshal(env)
}

func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return kvstore.Entry{}, false, nil
	}
	if err != nil {
		return kvstore.Entry{}, false, merr.KV(merr.KindNotFound, err, "get %q", key)
	}
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return kvstore.Entry{}, false, merr.Serialization(err, "decode kv envelope for %q", key)
	}
	if env.expired(time.Now()) {
		_ = s.kv.Delete(ctx, key)
		return kvstore.Entry{}, false, nil
	}
	return kvstore.Entry{Key: key, Value: env.Value, Revision: entry.Revision()}, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	data, err := encode(value, opts)
	if err != nil {
		return merr.Serialization(err, "encode kv envelope for %q", key)
	}
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return merr.KV(merr.KindNotFound, err, "put %q", key)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	data, err := encode(value, opts)
	if err != nil {
		return merr.Serialization(err, "encode kv envelope for %q", key)
	}
	if _, err := s.kv.Create(ctx, key, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return merr.KV(merr.KindKeyExists, err, "key %q already exists", key)
		}
		return merr.KV(merr.KindNotFound, err, "create %q", key)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key string, value []byte, expectedRevision uint64, opts kvstore.PutOptions) error {
	data, err := encode(value, opts)
	if err != nil {
		return merr.Serialization(err, "encode kv envelope for %q", key)
	}
	if _, err := s.kv.Update(ctx, key, data, expectedRevision); err != nil {
		return merr.KV(merr.KindRevisionMismatch, err, "key %q: expected revision %d", key, expectedRevision)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	_, existed, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if delErr := s.kv.Delete(ctx, key); delErr != nil && !errors.Is(delErr, jetstream.ErrKeyNotFound) {
		return false, merr.KV(merr.KindNotFound, delErr, "delete %q", key)
	}
	return existed, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, merr.KV(merr.KindNotFound, err, "list keys with prefix %q", prefix)
	}
	var out []kvstore.Entry
	now := time.Now()
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(entry.Value(), &env); err != nil || env.expired(now) {
			continue
		}
		out = append(out, kvstore.Entry{Key: key, Value: env.Value, Revision: entry.Revision()})
	}
	return out, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (<-chan kvstore.WatchEvent, error) {
	watcher, err := s.kv.WatchAll(ctx)
	if err != nil {
		return nil, merr.KV(merr.KindNotFound, err, "watch prefix %q", prefix)
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, watcher)
	s.mu.Unlock()

	out := make(chan kvstore.WatchEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = watcher.Stop()
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue // nil marks "caught up", not a change
				}
				if !strings.HasPrefix(entry.Key(), prefix) {
					continue
				}
				evtType := kvstore.EventPut
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					evtType = kvstore.EventDelete
				}
				select {
				case out <- kvstore.WatchEvent{Key: entry.Key(), Type: evtType, Revision: entry.Revision()}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	close(s.sweepCh)
	s.mu.Lock()
	for _, w := range s.watchers {
		_ = w.Stop()
	}
	s.mu.Unlock()
	s.nc.Close()
	return nil
}
