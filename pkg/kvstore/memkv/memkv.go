package memkv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/merr"
)

type record struct {
	value     []byte
	revision  uint64
	expiresAt time.Time // zero value means no TTL
}

func (r record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

type watcher struct {
	prefix string
	ch     chan kvstore.WatchEvent
}

// Store is an in-memory kvstore.KVStore. The zero value is not usable;
// construct with New.
type Store struct {
	mu       sync.Mutex
	data     map[string]record
	rev      uint64
	watchers map[int]*watcher
	nextID   int
	closed   bool
	stopCh   chan struct{}
}

// New returns a ready Store with a background sweeper that expires
// TTL'd keys at the given interval, delivering Delete watch events the
// way a real backend's sweep period would (spec.md §4.3).
func New(sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = 250 * time.Millisecond
	}
	s := &Store{
		data:     make(map[string]record),
		watchers: make(map[int]*watcher),
		stopCh:   make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	var expiredKeys []string
	for k, r := range s.data {
		if r.expired(now) {
			expiredKeys = append(expiredKeys, k)
		}
	}
	for _, k := range expiredKeys {
		rec := s.data[k]
		delete(s.data, k)
		s.notifyLocked(kvstore.WatchEvent{Key: k, Type: kvstore.EventDelete, Revision: rec.revision})
	}
	s.mu.Unlock()
}

func (s *Store) nextRevision() uint64 {
	s.rev++
	return s.rev
}

func (s *Store) notifyLocked(evt kvstore.WatchEvent) {
	for _, w := range s.watchers {
		if !strings.HasPrefix(evt.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- evt:
		default:
			// slow watcher: drop rather than block the writer, matching
			// the "events during a gap may be lost" contract.
		}
	}
}

func (s *Store) Get(_ context.Context, key string) (kvstore.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[key]
	if !ok {
		return kvstore.Entry{}, false, nil
	}
	if r.expired(time.Now()) {
		delete(s.data, key)
		s.notifyLocked(kvstore.WatchEvent{Key: key, Type: kvstore.EventDelete, Revision: r.revision})
		return kvstore.Entry{}, false, nil
	}
	return kvstore.Entry{Key: key, Value: r.value, Revision: r.revision}, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value, opts)
}

func (s *Store) putLocked(key string, value []byte, opts kvstore.PutOptions) error {
	rec := record{value: value, revision: s.nextRevision()}
	if opts.TTL > 0 {
		rec.expiresAt = time.Now().Add(opts.TTL)
	}
	s.data[key] = rec
	s.notifyLocked(kvstore.WatchEvent{Key: key, Type: kvstore.EventPut, Revision: rec.revision})
	return nil
}

func (s *Store) Create(_ context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.data[key]; ok && !existing.expired(time.Now()) {
		return merr.KV(merr.KindKeyExists, nil, "key %q already exists", key)
	}
	return s.putLocked(key, value, opts)
}

func (s *Store) Update(_ context.Context, key string, value []byte, expectedRevision uint64, opts kvstore.PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data[key]
	if !ok || existing.expired(time.Now()) || existing.revision != expectedRevision {
		return merr.KV(merr.KindRevisionMismatch, nil, "key %q: expected revision %d", key, expectedRevision)
	}
	return s.putLocked(key, value, opts)
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		return false, nil
	}
	delete(s.data, key)
	s.notifyLocked(kvstore.WatchEvent{Key: key, Type: kvstore.EventDelete, Revision: rec.revision})
	return !rec.expired(time.Now()), nil
}

func (s *Store) List(_ context.Context, prefix string) ([]kvstore.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []kvstore.Entry
	for k, r := range s.data {
		if !strings.HasPrefix(k, prefix) || r.expired(now) {
			continue
		}
		out = append(out, kvstore.Entry{Key: k, Value: r.value, Revision: r.revision})
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
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, merr.KV(merr.KindNotFound, nil, "store is closed")
	}
	id := s.nextID
	s.nextID++
	w := &watcher{prefix: prefix, ch: make(chan kvstore.WatchEvent, 64)}
	s.watchers[id] = w
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()

	return w.ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	return nil
}
