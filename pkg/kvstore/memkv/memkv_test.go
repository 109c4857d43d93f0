package memkv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/meridian/pkg/kvstore"
	"github.com/cuemby/meridian/pkg/merr"
)

func newTestStore(t *testing.T) *Store {
	s := New(10 * time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), kvstore.PutOptions{}))

	entry, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.EqualValues(t, 1, entry.Revision)
}

func TestGet_Missing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreate_FailsIfExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, "k1", []byte("v1"), kvstore.PutOptions{}))
	err := s.Create(ctx, "k1", []byte("v2"), kvstore.PutOptions{})
	require.Error(t, err)
	assert.True(t, merr.AsKind(err, merr.KindKeyExists))
}

func TestUpdate_CASSucceedsAndFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, "k1", []byte("v1"), kvstore.PutOptions{}))
	entry, _, _ := s.Get(ctx, "k1")

	require.NoError(t, s.Update(ctx, "k1", []byte("v2"), entry.Revision, kvstore.PutOptions{}))

	err := s.Update(ctx, "k1", []byte("v3"), entry.Revision, kvstore.PutOptions{})
	require.Error(t, err)
	assert.True(t, merr.AsKind(err, merr.KindRevisionMismatch))
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), kvstore.PutOptions{}))

	existed, err := s.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestList_FiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "service-instances/order/o-1", []byte("a"), kvstore.PutOptions{}))
	require.NoError(t, s.Put(ctx, "service-instances/order/o-2", []byte("b"), kvstore.PutOptions{}))
	require.NoError(t, s.Put(ctx, "service-instances/pricing/p-1", []byte("c"), kvstore.PutOptions{}))

	entries, err := s.List(ctx, "service-instances/order/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), kvstore.PutOptions{TTL: 20 * time.Millisecond}))

	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatch_DeliversPutAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, "service-instances/")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "service-instances/order/o-1", []byte("a"), kvstore.PutOptions{}))

	select {
	case evt := <-events:
		assert.Equal(t, kvstore.EventPut, evt.Type)
		assert.Equal(t, "service-instances/order/o-1", evt.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for put event")
	}

	_, err = s.Delete(ctx, "service-instances/order/o-1")
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, kvstore.EventDelete, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

func TestWatch_TTLExpiryDeliversDelete(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Watch(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), kvstore.PutOptions{TTL: 15 * time.Millisecond}))
	<-events // drain the put

	select {
	case evt := <-events:
		assert.Equal(t, kvstore.EventDelete, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ttl-expiry delete event")
	}
}
