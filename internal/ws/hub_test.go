package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/model"
)

// denyClasses отказывает в комнатах классов и падает с внутренней ошибкой на комнатах групп.
type denyClasses struct{}

func (denyClasses) AuthorizeSubscribe(_ context.Context, _ model.Principal, room Room) error {
	switch kind, _, _ := room.Parse(); kind {
	case RoomClass:
		return fmt.Errorf("access.class: %w", apperr.Forbidden("You cannot subscribe to this room"))
	case RoomStudyGroup:
		return errors.New("access.studyGroup: studyGroupRepo.GetByID: connection refused")
	}
	return nil
}

func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	logger.Use(zap.NewNop())
	hub := NewHub(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, model.Principal{UserID: r.URL.Query().Get("user")})
		hub.Register(c)
		c.Start(cctx, ccancel)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    EventType       `json:"type"`
	Room    Room            `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, typ, id string) {
	t.Helper()
	if err := conn.WriteJSON(IncomingMessage{Type: typ, ID: id}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var f frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame %s on %s", f.Type, f.Room)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubscribeAckAndRoomScopedDelivery(t *testing.T) {
	hub, url := startHub(t, Options{})
	a := dial(t, url, "u1")
	b := dial(t, url, "u2")

	send(t, a, CmdJoinClass, "c1")
	if f := read(t, a); f.Type != EventSubscribed || f.Room != ClassRoom("c1") {
		t.Fatalf("ack = %+v", f)
	}
	send(t, b, CmdJoinClass, "c2")
	read(t, b)

	if err := hub.Broadcast(context.Background(), ClassRoom("c1"), OutgoingMessage{Type: EventGroupCreated, Payload: map[string]string{"id": "g1"}}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	f := read(t, a)
	if f.Type != EventGroupCreated || f.Room != ClassRoom("c1") {
		t.Fatalf("event = %+v", f)
	}
	expectSilence(t, b)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	hub, url := startHub(t, Options{})
	a := dial(t, url, "u1")
	send(t, a, CmdJoinStudyGroup, "g1")
	read(t, a)
	send(t, a, CmdJoinStudyGroup, "g1")
	read(t, a)

	if n := hub.RoomSize(StudyGroupRoom("g1")); n != 1 {
		t.Fatalf("room size = %d, want 1", n)
	}
	_ = hub.Broadcast(context.Background(), StudyGroupRoom("g1"), OutgoingMessage{Type: EventGroupUpdated})
	read(t, a)
	expectSilence(t, a)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, url := startHub(t, Options{})
	a := dial(t, url, "u1")
	send(t, a, CmdJoinUniversity, "uni")
	read(t, a)
	send(t, a, CmdLeaveUniversity, "uni")
	if f := read(t, a); f.Type != EventUnsubscribed {
		t.Fatalf("ack = %+v", f)
	}
	_ = hub.Broadcast(context.Background(), UniversityRoom("uni"), OutgoingMessage{Type: EventClassCreated})
	expectSilence(t, a)
}

func TestDisconnectDropsAllRooms(t *testing.T) {
	hub, url := startHub(t, Options{})
	a := dial(t, url, "u1")
	send(t, a, CmdJoinClass, "c1")
	read(t, a)
	send(t, a, CmdJoinStudyGroup, "g1")
	read(t, a)
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d", hub.ClientCount())
	}

	a.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if hub.RoomSize(ClassRoom("c1")) != 0 || hub.RoomSize(StudyGroupRoom("g1")) != 0 {
		t.Fatal("rooms not cleaned after disconnect")
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	_, url := startHub(t, Options{})
	a := dial(t, url, "u1")
	send(t, a, "join-planet", "p1")
	if f := read(t, a); f.Type != EventError {
		t.Fatalf("got %+v, want error", f)
	}
	send(t, a, CmdJoinClass, "")
	if f := read(t, a); f.Type != EventError {
		t.Fatalf("got %+v, want error for missing id", f)
	}
}

func TestAuthorizerDeniesSubscription(t *testing.T) {
	hub, url := startHub(t, Options{Authorizer: denyClasses{}})
	a := dial(t, url, "u1")
	send(t, a, CmdJoinClass, "c1")
	f := read(t, a)
	if f.Type != EventError || f.Room != ClassRoom("c1") {
		t.Fatalf("got %+v, want error", f)
	}
	var reason string
	_ = json.Unmarshal(f.Payload, &reason)
	if reason != "You cannot subscribe to this room" {
		t.Fatalf("reason = %q, want the rejection message only", reason)
	}
	if hub.RoomSize(ClassRoom("c1")) != 0 {
		t.Fatal("denied subscription must not join the room")
	}

	send(t, a, CmdJoinStudyGroup, "g1")
	f = read(t, a)
	_ = json.Unmarshal(f.Payload, &reason)
	if f.Type != EventError || reason != msgSubscribeFailed {
		t.Fatalf("got %+v (%q), want generic failure", f, reason)
	}
	send(t, a, CmdJoinUniversity, "uni")
	if f := read(t, a); f.Type != EventSubscribed {
		t.Fatalf("got %+v, want subscribed", f)
	}
}

func TestConnectionLimit(t *testing.T) {
	hub, url := startHub(t, Options{MaxConns: 1})
	dial(t, url, "u1")
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	b := dial(t, url, "u2")
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("second connection should be closed")
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}
}

func TestBroadcastAfterShutdown(t *testing.T) {
	logger.Use(zap.NewNop())
	hub := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if err := hub.Broadcast(context.Background(), ClassRoom("c1"), OutgoingMessage{Type: EventClassDeleted}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("err = %v, want ErrHubClosed", err)
	}
}

func TestRoomParse(t *testing.T) {
	cases := []struct {
		room Room
		kind RoomKind
		id   string
		ok   bool
	}{
		{ClassRoom("abc"), RoomClass, "abc", true},
		{StudyGroupRoom("g:1"), RoomStudyGroup, "g:1", true},
		{UniversityRoom(""), "", "", false},
		{Room("planet:1"), "", "", false},
		{Room("class"), "", "", false},
	}
	for _, tc := range cases {
		kind, id, ok := tc.room.Parse()
		if kind != tc.kind || id != tc.id || ok != tc.ok {
			t.Errorf("%q.Parse() = %q,%q,%v", tc.room, kind, id, ok)
		}
	}
}
