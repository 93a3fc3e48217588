package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/metrics"
	"github.com/studyhub/internal/ws"
)

// LocalBroadcaster: рассылка подписчикам этого процесса (ws.Hub).
type LocalBroadcaster interface {
	Broadcast(ctx context.Context, room ws.Room, msg ws.OutgoingMessage) error
}

// envelope: сообщение в канале Redis.
type envelope struct {
	Origin  string          `json:"origin"`
	Room    ws.Room         `json:"room"`
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Relay доставляет события комнат локально и публикует их в канал Redis,
// откуда их забирают остальные экземпляры API. Собственные сообщения из канала пропускаются.
type Relay struct {
	cli     *Client
	channel string
	origin  string
	local   LocalBroadcaster
}

func NewRelay(cli *Client, channel string, local LocalBroadcaster) *Relay {
	return &Relay{cli: cli, channel: channel, origin: uuid.NewString(), local: local}
}

// Broadcast сначала рассылает событие локально, затем публикует его для других экземпляров.
func (r *Relay) Broadcast(ctx context.Context, room ws.Room, msg ws.OutgoingMessage) error {
	localErr := r.local.Broadcast(ctx, room, msg)

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("relay.Broadcast marshal: %w", err)
	}
	data, err := json.Marshal(envelope{Origin: r.origin, Room: room, Type: msg.Type, Payload: payload})
	if err != nil {
		return fmt.Errorf("relay.Broadcast marshal: %w", err)
	}
	if err := r.cli.cli.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay.Broadcast publish: %w", err)
	}
	metrics.RelayMessages.WithLabelValues("out").Inc()
	return localErr
}

// Run слушает канал до отмены ctx.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.cli.cli.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}
	logger.Infof("relay: подписка на канал %s (origin=%s)", r.channel, r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, m.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logger.Errorf("relay: некорректное сообщение в канале: %v", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if _, _, ok := env.Room.Parse(); !ok {
		logger.Errorf("relay: неизвестная комната %q", env.Room)
		return
	}
	metrics.RelayMessages.WithLabelValues("in").Inc()
	if err := r.local.Broadcast(ctx, env.Room, ws.OutgoingMessage{Type: env.Type, Payload: env.Payload}); err != nil {
		logger.Errorf("relay: локальная рассылка %s в %s: %v", env.Type, env.Room, err)
	}
}
