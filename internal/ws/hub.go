package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/metrics"
	"github.com/studyhub/internal/model"
)

// ErrHubClosed возвращается Broadcast после остановки хаба.
var ErrHubClosed = errors.New("ws hub closed")

const msgSubscribeFailed = "Subscription failed"

// SubscribeAuthorizer проверяет право подписки на комнату. Если nil: подписка открыта всем.
type SubscribeAuthorizer interface {
	AuthorizeSubscribe(ctx context.Context, p model.Principal, room Room) error
}

type Options struct {
	MaxConns       int
	SendBufSize    int
	MaxMessageSize int64
	Authorizer     SubscribeAuthorizer
}

// Hub держит соединения и индекс комнат.
// Набор комнат соединения (Client.rooms) меняют только Subscribe и Unsubscribe, под h.mu.
// Отключение соединения снимает все его подписки и больше ничего не меняет.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	rooms      map[Room]map[*Client]struct{}
	total      int
	opts       Options
	unregister chan *Client
	done       chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10000
	}
	if opts.SendBufSize <= 0 {
		opts.SendBufSize = sendBufSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = maxMessageSize
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[Room]map[*Client]struct{}),
		opts:       opts,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.clients {
		allClients = append(allClients, c)
		c.rooms = nil
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[Room]map[*Client]struct{})
	metrics.WSConnections.Sub(float64(h.total))
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.principal.UserID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.total++
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	c.rooms = nil
	delete(h.clients, c)
	h.total--
	h.mu.Unlock()
	metrics.WSConnections.Dec()

	// Network I/O outside the lock.
	c.Close()
}

func (h *Hub) leaveLocked(c *Client, room Room) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

// Subscribe добавляет соединение в комнату. Идемпотентно.
func (h *Hub) Subscribe(c *Client, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.rooms == nil {
		c.rooms = make(map[Room]struct{})
	}
	c.rooms[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Unsubscribe убирает соединение из комнаты. Идемпотентно.
func (h *Hub) Unsubscribe(c *Client, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// Rooms возвращает копию набора комнат соединения.
func (h *Hub) Rooms(c *Client) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Room, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// RoomSize: число подписчиков комнаты.
func (h *Hub) RoomSize(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount: число зарегистрированных соединений.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// HandleMessage dispatches incoming subscription commands.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	room, join, ok := msg.command()
	if !ok {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown command or missing id"})
		return
	}
	kind, _, _ := room.Parse()
	if !join {
		h.Unsubscribe(c, room)
		metrics.WSSubscriptions.WithLabelValues(string(kind), "leave").Inc()
		h.sendToClient(c, OutgoingMessage{Type: EventUnsubscribed, Room: room, Payload: nil})
		return
	}
	if h.opts.Authorizer != nil {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.opts.Authorizer.AuthorizeSubscribe(actx, c.principal, room)
		cancel()
		if err != nil {
			metrics.WSSubscriptions.WithLabelValues(string(kind), "denied").Inc()
			h.sendToClient(c, OutgoingMessage{Type: EventError, Room: room, Payload: denyReason(c, room, err)})
			return
		}
	}
	h.Subscribe(c, room)
	metrics.WSSubscriptions.WithLabelValues(string(kind), "join").Inc()
	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Room: room, Payload: nil})
}

// denyReason: клиенту уходит только сообщение отказа бизнес-правила; остальные ошибки логируются.
func denyReason(c *Client, room Room, err error) string {
	if ae, ok := apperr.As(err); ok {
		return ae.Message
	}
	logger.Errorf("ws: проверка подписки user=%s room=%s: %v", c.principal.UserID, room, err)
	return msgSubscribeFailed
}

// Broadcast рассылает событие всем подписчикам комнаты этого процесса. Не ждёт доставки.
func (h *Hub) Broadcast(_ context.Context, room Room, msg OutgoingMessage) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	msg.Room = room
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
	return nil
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.principal.UserID)
		metrics.WSSlowClients.Inc()
		c.Close()
	}
}

// Register регистрирует соединение синхронно: команды подписки, пришедшие сразу
// после Start, уже застают его в хабе.
func (h *Hub) Register(c *Client) {
	select {
	case <-h.done:
		c.Close()
	default:
		h.addClient(c)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
