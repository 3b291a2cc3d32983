// Package redisbridge relays room changes between server instances that
// share one database, so viewers connected to any instance see every commit.
package redisbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

type envelope struct {
	Origin string       `json:"origin"`
	Kind   notify.Kind  `json:"kind"`
	Room   *rooms.Room  `json:"room,omitempty"`
	Rooms  []rooms.Room `json:"rooms,omitempty"`
}

// Bridge is a rooms.Publisher that delivers to the local publisher and to a
// redis channel, and replays other instances' messages locally.
type Bridge struct {
	client  *redis.Client
	channel string
	origin  string
	local   rooms.Publisher
	logger  *slog.Logger

	outbound chan envelope
	ready    chan struct{}
}

func New(client *redis.Client, channel string, local rooms.Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:   client,
		channel:  channel,
		origin:   uuid.NewString(),
		local:    local,
		logger:   logger.With("bridge", channel),
		outbound: make(chan envelope, 256),
		ready:    make(chan struct{}),
	}
}

func (b *Bridge) Origin() string {
	return b.origin
}

// Ready is closed once the redis subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bridge) PublishUpdate(room rooms.Room) {
	b.local.PublishUpdate(room)
	b.enqueue(envelope{Origin: b.origin, Kind: notify.KindRoomUpdate, Room: &room})
}

func (b *Bridge) PublishReset(roster []rooms.Room) {
	b.local.PublishReset(roster)
	b.enqueue(envelope{Origin: b.origin, Kind: notify.KindReset, Rooms: roster})
}

func (b *Bridge) enqueue(e envelope) {
	select {
	case b.outbound <- e:
	default:
		b.logger.Warn("dropping outbound change, redis sender is behind", "kind", e.Kind)
	}
}

// Run subscribes to the channel and pumps messages both ways until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	close(b.ready)
	b.logger.Info("redis bridge subscribed", "origin", b.origin)

	incoming := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.outbound:
			raw, err := json.Marshal(e)
			if err != nil {
				b.logger.Error("failed to encode change", "err", err)
				continue
			}
			if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
				b.logger.Error("failed to publish change", "err", err, "kind", e.Kind)
			}
		case msg, ok := <-incoming:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", b.channel)
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *Bridge) relay(payload string) {
	var e envelope
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		b.logger.Warn("ignoring undecodable change", "err", err)
		return
	}
	if e.Origin == b.origin {
		return
	}
	switch e.Kind {
	case notify.KindRoomUpdate:
		if e.Room != nil {
			b.local.PublishUpdate(*e.Room)
		}
	case notify.KindReset:
		b.local.PublishReset(e.Rooms)
	default:
		b.logger.Warn("ignoring change of unknown kind", "kind", e.Kind)
	}
}
