package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/membership"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/service"
	"github.com/studyhub/internal/ws"
)

func TestClassChatFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user("alice")

	view, err := f.svc.Chat.ClassChat(ctx, alice, f.class.ID)
	if err != nil {
		t.Fatalf("ClassChat: %v", err)
	}
	if view.ID == "" || len(view.Messages) != 0 || view.HasLeftChat == nil || *view.HasLeftChat {
		t.Fatalf("fresh chat view = %+v", view)
	}

	msg, err := f.svc.Chat.PostToClass(ctx, alice, f.class.ID, "  hello class  ")
	if err != nil {
		t.Fatalf("PostToClass: %v", err)
	}
	if msg.Text != "hello class" || msg.Author != "alice" || msg.ID == "" {
		t.Fatalf("message = %+v", msg)
	}
	events := f.bus.all()
	if len(events) != 1 || events[0].room != ws.ClassRoom(f.class.ID) || events[0].msg.Type != ws.EventChatMessage {
		t.Fatalf("events = %+v", events)
	}
	payload := events[0].msg.Payload.(ws.ChatMessagePayload)
	if payload.ChatID != view.ID || payload.Message.ID != msg.ID {
		t.Fatalf("payload = %+v", payload)
	}

	if err := f.svc.Chat.LeaveClassChat(ctx, alice, f.class.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Chat.LeaveClassChat(ctx, alice, f.class.ID); err != nil {
		t.Fatalf("second leave must be idempotent: %v", err)
	}
	_, err = f.svc.Chat.PostToClass(ctx, alice, f.class.ID, "still here?")
	expectCode(t, err, apperr.CodeChatLeft)

	view, err = f.svc.Chat.ClassChat(ctx, alice, f.class.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !*view.HasLeftChat || len(view.Messages) != 1 {
		t.Fatalf("opted-out view = %+v", view)
	}

	if err := f.svc.Chat.RejoinClassChat(ctx, alice, f.class.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Chat.PostToClass(ctx, alice, f.class.ID, "back"); err != nil {
		t.Fatalf("post after rejoin: %v", err)
	}
	view, _ = f.svc.Chat.ClassChat(ctx, alice, f.class.ID)
	if len(view.Messages) != 2 || view.Messages[1].Text != "back" {
		t.Fatalf("messages = %+v", view.Messages)
	}
}

func TestClassChatRequiresUniversityMembership(t *testing.T) {
	f := newFixture(t)
	outsider := model.Principal{UserID: "zed", UniversityID: "elsewhere"}
	_, err := f.svc.Chat.ClassChat(context.Background(), outsider, f.class.ID)
	expectCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.Chat.PostToClass(context.Background(), outsider, f.class.ID, "hi")
	expectCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.Chat.ClassChat(context.Background(), f.user("alice"), "missing")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Chat.PostToClass(ctx, f.user("alice"), f.class.ID, "   ")
	expectCode(t, err, apperr.CodeValidation)
	_, err = f.svc.Chat.PostToClass(ctx, f.user("alice"), f.class.ID, strings.Repeat("я", 4001))
	expectCode(t, err, apperr.CodeValidation)
	if _, err := f.svc.Chat.PostToClass(ctx, f.user("alice"), f.class.ID, strings.Repeat("я", 4000)); err != nil {
		t.Fatalf("4000 characters must be accepted: %v", err)
	}
}

func TestStudyGroupChatMembersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "alice", 3, false)

	_, err := f.svc.Chat.StudyGroupChat(ctx, f.user("bob"), g.ID)
	expectCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.Chat.PostToStudyGroup(ctx, f.user("bob"), g.ID, "hi")
	expectCode(t, err, apperr.CodeForbidden)

	if _, err := f.svc.StudyGroups.Join(ctx, f.user("bob"), g.ID, ""); err != nil {
		t.Fatal(err)
	}
	f.bus.reset()
	first, err := f.svc.Chat.PostToStudyGroup(ctx, f.user("bob"), g.ID, "one")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := f.svc.Chat.PostToStudyGroup(ctx, f.user("alice"), g.ID, "two")
	view, err := f.svc.Chat.StudyGroupChat(ctx, f.user("alice"), g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.HasLeftChat != nil {
		t.Fatal("study group chat has no hasLeftChat flag")
	}
	if len(view.Messages) != 2 || view.Messages[0].ID != first.ID || view.Messages[1].ID != second.ID {
		t.Fatalf("order = %+v", view.Messages)
	}
	for _, ev := range f.bus.all() {
		if ev.room != ws.StudyGroupRoom(g.ID) {
			t.Fatalf("group chat event sent to %s", ev.room)
		}
	}

	// Выход из чата класса не затрагивает группу.
	if err := f.svc.Chat.LeaveClassChat(ctx, f.user("bob"), f.class.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Chat.PostToStudyGroup(ctx, f.user("bob"), g.ID, "three"); err != nil {
		t.Fatalf("class opt-out must not affect group chat: %v", err)
	}
}

func TestClassLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user("alice")

	c, err := f.svc.Classes.Create(ctx, alice, service.CreateClassInput{Name: "Databases", Code: "db201"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Code != "DB201" || c.UniversityID != f.uni.ID {
		t.Fatalf("class = %+v", c)
	}
	_, err = f.svc.Classes.Create(ctx, f.user("bob"), service.CreateClassInput{Name: "Other", Code: "DB201"})
	expectCode(t, err, apperr.CodeDuplicateClass)
	_, err = f.svc.Classes.Create(ctx, alice, service.CreateClassInput{Name: "", Code: "X"})
	expectCode(t, err, apperr.CodeValidation)

	events := f.bus.all()
	if len(events) != 1 || events[0].room != ws.UniversityRoom(f.uni.ID) || events[0].msg.Type != ws.EventClassCreated {
		t.Fatalf("events = %+v", events)
	}

	max := 3
	g, err := f.svc.StudyGroups.Create(ctx, alice, membership.CreateInput{Name: "Indexes", ClassID: c.ID, MaxMembers: &max})
	if err != nil {
		t.Fatal(err)
	}
	withGroups, err := f.svc.Classes.Get(ctx, alice, c.ID)
	if err != nil || len(withGroups.StudyGroups) != 1 {
		t.Fatalf("Get = %+v, %v", withGroups, err)
	}

	err = f.svc.Classes.Delete(ctx, f.user("bob"), c.ID)
	expectCode(t, err, apperr.CodeForbidden)

	f.bus.reset()
	if err := f.svc.Classes.Delete(ctx, alice, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	events = f.bus.all()
	if len(events) != 1 || events[0].msg.Type != ws.EventClassDeleted || events[0].msg.Payload != c.ID {
		t.Fatalf("events = %+v, want only class-deleted", events)
	}
	_, err = f.svc.StudyGroups.Get(ctx, alice, g.ID)
	expectCode(t, err, apperr.CodeNotFound)

	uni, err := f.svc.Universities.Get(ctx, f.uni.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(uni.Classes) != 1 || uni.Classes[0].ID != f.class.ID {
		t.Fatalf("university classes = %+v", uni.Classes)
	}
	_, err = f.svc.Universities.Get(ctx, "missing")
	expectCode(t, err, apperr.CodeNotFound)
}

func TestRoomAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "alice", 3, false)
	access := service.NewRoomAccess(f.store)

	if err := access.AuthorizeSubscribe(ctx, f.user("bob"), ws.UniversityRoom(f.uni.ID)); err != nil {
		t.Fatalf("own university: %v", err)
	}
	if err := access.AuthorizeSubscribe(ctx, f.user("bob"), ws.ClassRoom(f.class.ID)); err != nil {
		t.Fatalf("own class: %v", err)
	}
	if err := access.AuthorizeSubscribe(ctx, f.user("bob"), ws.StudyGroupRoom(g.ID)); err == nil {
		t.Fatal("non-member subscribed to study group room")
	}
	if err := access.AuthorizeSubscribe(ctx, f.user("alice"), ws.StudyGroupRoom(g.ID)); err != nil {
		t.Fatalf("member: %v", err)
	}
	outsider := model.Principal{UserID: "zed", UniversityID: "elsewhere"}
	if err := access.AuthorizeSubscribe(ctx, outsider, ws.ClassRoom(f.class.ID)); err == nil {
		t.Fatal("outsider subscribed to class room")
	}
}
