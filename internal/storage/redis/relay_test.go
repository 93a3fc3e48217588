package redis

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/ws"
)

type recorded struct {
	room ws.Room
	msg  ws.OutgoingMessage
}

type fakeLocal struct {
	mu  sync.Mutex
	got []recorded
}

func (f *fakeLocal) Broadcast(_ context.Context, room ws.Room, msg ws.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recorded{room: room, msg: msg})
	return nil
}

func (f *fakeLocal) snapshot() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.got...)
}

func TestDeliverSkipsOwnOrigin(t *testing.T) {
	logger.Use(zap.NewNop())
	local := &fakeLocal{}
	r := NewRelay(nil, "test", local)

	own, _ := json.Marshal(envelope{Origin: r.origin, Room: ws.ClassRoom("c1"), Type: ws.EventGroupCreated, Payload: json.RawMessage(`{"id":"g1"}`)})
	r.deliver(context.Background(), string(own))
	if n := len(local.snapshot()); n != 0 {
		t.Fatalf("own message delivered %d times", n)
	}

	foreign, _ := json.Marshal(envelope{Origin: "other", Room: ws.ClassRoom("c1"), Type: ws.EventGroupCreated, Payload: json.RawMessage(`{"id":"g1"}`)})
	r.deliver(context.Background(), string(foreign))
	got := local.snapshot()
	if len(got) != 1 {
		t.Fatalf("delivered %d, want 1", len(got))
	}
	if got[0].room != ws.ClassRoom("c1") || got[0].msg.Type != ws.EventGroupCreated {
		t.Fatalf("got %+v", got[0])
	}
	if string(got[0].msg.Payload.(json.RawMessage)) != `{"id":"g1"}` {
		t.Fatalf("payload = %s", got[0].msg.Payload)
	}
}

func TestDeliverRejectsGarbage(t *testing.T) {
	logger.Use(zap.NewNop())
	local := &fakeLocal{}
	r := NewRelay(nil, "test", local)
	r.deliver(context.Background(), "not json")
	bad, _ := json.Marshal(envelope{Origin: "other", Room: ws.Room("planet:1"), Type: ws.EventGroupCreated})
	r.deliver(context.Background(), string(bad))
	if n := len(local.snapshot()); n != 0 {
		t.Fatalf("delivered %d, want 0", n)
	}
}

// TestRelayAcrossInstances требует TEST_REDIS_URL (например redis://localhost:6379/15).
func TestRelayAcrossInstances(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	logger.Use(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()

	channel := "studyhub:test:" + time.Now().Format("150405.000000")
	localA, localB := &fakeLocal{}, &fakeLocal{}
	a := NewRelay(cli, channel, localA)
	b := NewRelay(cli, channel, localB)
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if err := a.Broadcast(ctx, ws.StudyGroupRoom("g1"), ws.OutgoingMessage{Type: ws.EventGroupUpdated, Payload: map[string]string{"id": "g1"}}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(localB.snapshot()) == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if n := len(localB.snapshot()); n != 1 {
		t.Fatalf("instance B got %d events, want 1", n)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(localA.snapshot()); n != 1 {
		t.Fatalf("instance A got %d events, want exactly the local one", n)
	}
}
