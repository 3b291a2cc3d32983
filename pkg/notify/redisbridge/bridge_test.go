package redisbridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

func startBridge(t *testing.T, ctx context.Context, mr *miniredis.Miniredis) (*Bridge, *notify.Hub) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	hub := notify.NewHub(16, nil)
	b := New(client, "roomboard:changes", hub, nil)
	go func() { _ = b.Run(ctx) }()
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never subscribed")
	}
	return b, hub
}

func next(t *testing.T, sub *notify.Subscription) notify.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events:
		require.True(t, ok)
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return notify.Event{}
	}
}

func TestChangesCrossInstances(t *testing.T) {
	mr := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	left, leftHub := startBridge(t, ctx, mr)
	_, rightHub := startBridge(t, ctx, mr)

	leftSub, err := leftHub.Subscribe()
	require.NoError(t, err)
	rightSub, err := rightHub.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, notify.KindConnected, next(t, leftSub).Kind)
	assert.Equal(t, notify.KindConnected, next(t, rightSub).Kind)

	left.PublishUpdate(rooms.Room{ID: "201", IsActive: true})
	left.PublishReset([]rooms.Room{{ID: "201"}, {ID: "202"}})

	local := next(t, leftSub)
	assert.Equal(t, notify.KindRoomUpdate, local.Kind)
	assert.Equal(t, notify.KindReset, next(t, leftSub).Kind)

	remote := next(t, rightSub)
	require.Equal(t, notify.KindRoomUpdate, remote.Kind)
	assert.Equal(t, "201", remote.Room.ID)
	assert.True(t, remote.Room.IsActive)

	reset := next(t, rightSub)
	require.Equal(t, notify.KindReset, reset.Kind)
	assert.Len(t, reset.Rooms, 2)

	select {
	case e := <-leftSub.Events:
		t.Fatalf("own change echoed back: %v", e.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayIgnoresGarbage(t *testing.T) {
	hub := notify.NewHub(4, nil)
	sub, err := hub.Subscribe()
	require.NoError(t, err)
	<-sub.Events

	b := New(nil, "c", hub, nil)
	b.relay("not json")
	b.relay(`{"origin":"other","kind":"mystery"}`)
	b.relay(`{"origin":"` + b.Origin() + `","kind":"roomUpdate","room":{"room_id":"1"}}`)

	select {
	case e := <-sub.Events:
		t.Fatalf("unexpected event %v", e.Kind)
	default:
	}

	b.relay(`{"origin":"other","kind":"roomUpdate","room":{"room_id":"1"}}`)
	e := <-sub.Events
	assert.Equal(t, "1", e.Room.ID)
}
