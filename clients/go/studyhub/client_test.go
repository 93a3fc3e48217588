package studyhub_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/studyhub/clients/go/studyhub"
	"github.com/studyhub/internal/handler"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/middleware"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/service"
	"github.com/studyhub/internal/storage/memory"
	"github.com/studyhub/internal/storage/storagetest"
	"github.com/studyhub/internal/ws"
)

var secret = []byte("client-test-secret")

func startServer(t *testing.T) (string, *model.University, *model.Class) {
	t.Helper()
	logger.Use(zap.NewNop())
	store := memory.New()
	uni := storagetest.University(t, store, "Client University")
	class := storagetest.Class(t, store, uni.ID, "CL100", time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.Options{})
	go hub.Run(ctx)
	svc := service.New(store, hub, service.Options{MaxCASAttempts: 5})

	r := chi.NewRouter()
	auth := middleware.PrincipalAuth(secret)
	handler.MountAPI(r, svc, auth, func(next http.Handler) http.Handler { return next })
	r.With(auth).Get("/ws", handler.NewWSHandler(hub, "*").ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.URL, uni, class
}

func token(t *testing.T, user, universityID string) string {
	t.Helper()
	tok, err := middleware.SignPrincipal(secret, model.Principal{UserID: user, UniversityID: universityID}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestClientReconcilesResponseAndEvent(t *testing.T) {
	base, uni, class := startServer(t)
	ctx := context.Background()
	alice := studyhub.NewClient(base, token(t, "alice", uni.ID))
	bob := studyhub.NewClient(base, token(t, "bob", uni.ID))

	stream, err := alice.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()
	if err := stream.Join(studyhub.RoomClass, class.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, stream, "subscribed")

	cache := studyhub.NewCache()
	g, err := alice.CreateStudyGroup(ctx, studyhub.CreateGroupInput{Name: "Graphs", ClassID: class.ID, IsPrivate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cache.UpsertGroup(g)
	if err := cache.Apply(waitFor(t, stream, "group-created")); err != nil {
		t.Fatal(err)
	}
	list := cache.Groups(class.ID)
	if len(list) != 1 || list[0].InviteCode != g.InviteCode {
		t.Fatalf("cached groups = %+v", list)
	}

	// Lowercase input works: the client uppercases invite codes.
	if _, err := bob.JoinStudyGroup(ctx, g.ID, strings.ToLower(g.InviteCode)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := cache.Apply(waitFor(t, stream, "group-updated")); err != nil {
		t.Fatal(err)
	}
	cached, _ := cache.Group(g.ID)
	if len(cached.Members) != 2 || cached.Version != 2 {
		t.Fatalf("cached after join = %+v", cached)
	}

	_, err = bob.JoinStudyGroup(ctx, g.ID, g.InviteCode)
	var apiErr *studyhub.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "AlreadyMember" || apiErr.Status != 400 {
		t.Fatalf("second join err = %v", err)
	}

	msg, err := bob.Post(ctx, studyhub.ScopeClass, class.ID, "hello")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	view, err := alice.Chat(ctx, studyhub.ScopeClass, class.ID)
	if err != nil {
		t.Fatal(err)
	}
	cache.LoadChat(view)
	if err := cache.Apply(waitFor(t, stream, "chat-message")); err != nil {
		t.Fatal(err)
	}
	if msgs := cache.Messages(view.ID); len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Seq != msg.Seq {
		t.Fatalf("messages = %+v", msgs)
	}

	unis, err := studyhub.NewClient(base, "").Universities(ctx)
	if err != nil || len(unis) != 1 {
		t.Fatalf("universities = %+v, %v", unis, err)
	}
	me, err := alice.Me(ctx)
	if err != nil || me.ID != "alice" || me.University == nil || me.University.ID != uni.ID {
		t.Fatalf("me = %+v, %v", me, err)
	}
}

func waitFor(t *testing.T, s *studyhub.Stream, typ string) studyhub.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("stream closed waiting for %s: %v", typ, s.Err())
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}
