// Package service связывает хранилище, движок членства, шлюз чата и шину событий.
// Каждая операция: прочитать снимок, принять решение, выполнить условную запись,
// после фиксации разослать ровно одно событие.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/chatgate"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/metrics"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/ws"
)

// Broadcaster рассылает событие в комнату. Реализации: ws.Hub, redis.Relay.
type Broadcaster interface {
	Broadcast(ctx context.Context, room ws.Room, msg ws.OutgoingMessage) error
}

// Options: бизнес-лимиты сервисов.
type Options struct {
	// MaxCASAttempts: сколько раз повторять чтение и условную запись при гонке.
	MaxCASAttempts   int
	MaxMessageLength int
	// Now подменяется в тестах.
	Now func() time.Time
}

const maxInviteAttempts = 5

// Services: все сервисы API.
type Services struct {
	Universities *UniversityService
	Classes      *ClassService
	StudyGroups  *StudyGroupService
	Chat         *ChatService
}

func New(store storage.Store, bus Broadcaster, opts Options) *Services {
	if opts.MaxCASAttempts <= 0 {
		opts.MaxCASAttempts = 5
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	e := &emitter{bus: bus}
	return &Services{
		Universities: &UniversityService{store: store},
		Classes:      &ClassService{store: store, events: e, now: opts.Now},
		StudyGroups:  &StudyGroupService{store: store, events: e, opts: opts},
		Chat:         &ChatService{store: store, events: e, gate: chatgate.New(opts.MaxMessageLength), now: opts.Now},
	}
}

// emitter рассылает события после фиксации. Ошибки рассылки логируются и считаются,
// но не возвращаются вызывающему: запись уже выполнена.
type emitter struct {
	bus Broadcaster
}

func (e *emitter) emit(ctx context.Context, room ws.Room, typ ws.EventType, payload any) {
	metrics.BroadcastEvents.WithLabelValues(string(typ)).Inc()
	if e.bus == nil {
		return
	}
	if err := e.bus.Broadcast(context.WithoutCancel(ctx), room, ws.OutgoingMessage{Type: typ, Payload: payload}); err != nil {
		metrics.BroadcastFailures.WithLabelValues(string(typ)).Inc()
		logger.Errorf("broadcast %s to %s: %v", typ, room, err)
	}
}

// notFound переводит storage.ErrNotFound в типизированный отказ, остальные ошибки оборачивает.
func notFound(err error, rej *apperr.Error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return rej
	}
	return fmt.Errorf("%s: %w", op, err)
}

// countOp учитывает результат операции членства: ok или код отказа.
func countOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if ae, ok := apperr.As(err); ok {
			result = string(ae.Code)
		}
	}
	metrics.MembershipOps.WithLabelValues(op, result).Inc()
}
