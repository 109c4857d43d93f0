package boltkv

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
)

var bucketKV = []byte("kv")

// record is the JSON envelope stored under each key, mirroring the
// teacher's json.Marshal-per-value convention in pkg/storage.BoltStore.
type record struct {
	Value     []byte    `json:"value"`
	Revision  uint64    `json:"revision"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store is a bbolt-backed kvstore.KVStore.
type Store struct {
	db *bolt.DB

	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int
	stopCh   chan struct{}
}

type watcher struct {
	prefix   string
	ch       chan kvstore.WatchEvent
	lastSeen map[string]uint64
}

// New opens (creating if absent) a bbolt database under dataDir,
// grounded on storage.NewBoltStore's dbPath + CreateBucketIfNotExists
// shape.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "meridian.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	s := &Store{
		db:       db,
		watchers: make(map[int]*watcher),
		stopCh:   make(chan struct{}),
	}
	go s.pollLoop(500 * time.Millisecond)
	return s, nil
}

func (s *Store) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepAndNotify()
		}
	}
}

// sweepAndNotify expires stale keys and diffs the current prefix state
// against each watcher's last-seen revisions, synthesizing put/delete
// events. Coalesces rapid churn between poll ticks by design.
func (s *Store) sweepAndNotify() {
	now := time.Now()
	var expiredKeys []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			if r.expired(now) {
				expiredKeys = append(expiredKeys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		log.Errorf("boltkv sweep scan failed", err)
		return
	}
	if len(expiredKeys) > 0 {
		_ = s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketKV)
			for _, k := range expiredKeys {
				if err := b.Delete([]byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		current := make(map[string]uint64)
		_ = s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketKV)
			c := b.Cursor()
			for k, v := c.Seek([]byte(w.prefix)); k != nil && strings.HasPrefix(string(k), w.prefix); k, v = c.Next() {
				var r record
				if err := json.Unmarshal(v, &r); err != nil {
					continue
				}
				current[string(k)] = r.Revision
			}
			return nil
		})

		for key, rev := range current {
			if last, ok := w.lastSeen[key]; !ok || last != rev {
				sendEvent(w.ch, kvstore.WatchEvent{Key: key, Type: kvstore.EventPut, Revision: rev})
			}
		}
		for key := range w.lastSeen {
			if _, ok := current[key]; !ok {
				sendEvent(w.ch, kvstore.WatchEvent{Key: key, Type: kvstore.EventDelete})
			}
		}
		w.lastSeen = current
	}
}

func sendEvent(ch chan kvstore.WatchEvent, evt kvstore.WatchEvent) {
	select {
	case ch <- evt:
	default:
	}
}

func (s *Store) Get(_ context.Context, key string) (kvstore.Entry, bool, error) {
	var r record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	if err != nil || !found {
		return kvstore.Entry{}, false, err
	}
	if r.expired(time.Now()) {
		_ = s.deleteKey(key)
		return kvstore.Entry{}, false, nil
	}
	return kvstore.Entry{Key: key, Value: r.Value, Revision: r.Revision}, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return s.writeLocked(b, key, value, opts)
	})
}

func (s *Store) writeLocked(b *bolt.Bucket, key string, value []byte, opts kvstore.PutOptions) error {
	rev, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("allocate revision: %w", err)
	}
	r := record{Value: value, Revision: rev}
	if opts.TTL > 0 {
		r.ExpiresAt = time.Now().Add(opts.TTL)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return b.Put([]byte(key), data)
}

func (s *Store) Create(_ context.Context, key string, value []byte, opts kvstore.PutOptions) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if existing := b.Get([]byte(key)); existing != nil {
			var r record
			if err := json.Unmarshal(existing, &r); err == nil && !r.expired(time.Now()) {
				return merr.KV(merr.KindKeyExists, nil, "key %q already exists", key)
			}
		}
		return s.writeLocked(b, key, value, opts)
	})
}

func (s *Store) Update(_ context.Context, key string, value []byte, expectedRevision uint64, opts kvstore.PutOptions) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		existing := b.Get([]byte(key))
		if existing == nil {
			return merr.KV(merr.KindRevisionMismatch, nil, "key %q: expected revision %d, key absent", key, expectedRevision)
		}
		var r record
		if err := json.Unmarshal(existing, &r); err != nil {
			return fmt.Errorf("unmarshal existing record: %w", err)
		}
		if r.expired(time.Now()) || r.Revision != expectedRevision {
			return merr.KV(merr.KindRevisionMismatch, nil, "key %q: expected revision %d, got %d", key, expectedRevision, r.Revision)
		}
		return s.writeLocked(b, key, value, opts)
	})
}

func (s *Store) deleteKey(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var r record
		if err := json.Unmarshal(data, &r); err == nil {
			existed = !r.expired(time.Now())
		}
		return b.Delete([]byte(key))
	})
	return existed, err
}

func (s *Store) List(_ context.Context, prefix string) ([]kvstore.Entry, error) {
	var entries []kvstore.Entry
	now := time.Now()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.expired(now) {
				continue
			}
			entries = append(entries, kvstore.Entry{Key: string(k), Value: r.Value, Revision: r.Revision})
		}
		return nil
	})
	return entries, err
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
	id := s.nextID
	s.nextID++
	w := &watcher{prefix: prefix, ch: make(chan kvstore.WatchEvent, 64), lastSeen: make(map[string]uint64)}
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
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return s.db.Close()
}
