package studyhub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/studyhub/internal/model"
)

func groupEvent(t *testing.T, typ string, g *model.StudyGroup) Event {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	return Event{Type: typ, Payload: data}
}

func TestUpsertIgnoresArrivalOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	created := &model.StudyGroup{ID: "g1", ClassID: "c1", CreatedBy: "alice", Members: []string{"alice"}, MaxMembers: 5, IsPrivate: true, InviteCode: "ABC123", CreatedAt: base, UpdatedAt: base, Version: 1}
	broadcast := created.Public()

	// HTTP response first, then the event.
	a := NewCache()
	a.UpsertGroup(created)
	if err := a.Apply(groupEvent(t, "group-created", broadcast)); err != nil {
		t.Fatal(err)
	}
	// Event first, then the HTTP response.
	b := NewCache()
	if err := b.Apply(groupEvent(t, "group-created", broadcast)); err != nil {
		t.Fatal(err)
	}
	b.UpsertGroup(created)

	for name, c := range map[string]*Cache{"response first": a, "event first": b} {
		list := c.Groups("c1")
		if len(list) != 1 {
			t.Fatalf("%s: %d groups, want 1", name, len(list))
		}
		if list[0].InviteCode != "ABC123" {
			t.Fatalf("%s: invite code lost: %+v", name, list[0])
		}
	}
}

func TestStaleUpdateDoesNotOverwrite(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache()
	newer := &model.StudyGroup{ID: "g1", ClassID: "c1", Name: "New", UpdatedAt: base.Add(time.Minute), Version: 3}
	older := &model.StudyGroup{ID: "g1", ClassID: "c1", Name: "Old", UpdatedAt: base, Version: 2}
	c.UpsertGroup(newer)
	if c.UpsertGroup(older) {
		t.Fatal("stale snapshot applied")
	}
	g, _ := c.Group("g1")
	if g.Name != "New" {
		t.Fatalf("name = %q", g.Name)
	}
}

// Join стампит время в хранилище, Edit берёт время, прочитанное до записи:
// у последнего записанного снимка updatedAt может оказаться раньше.
func TestVersionWinsOverUpdatedAt(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache()
	joined := &model.StudyGroup{ID: "g1", ClassID: "c1", Name: "G", Members: []string{"alice", "bob"}, UpdatedAt: base.Add(2 * time.Millisecond), Version: 2}
	edited := &model.StudyGroup{ID: "g1", ClassID: "c1", Name: "Renamed", Members: []string{"alice", "bob"}, UpdatedAt: base, Version: 3}
	for _, g := range []*model.StudyGroup{joined, edited} {
		if err := c.Apply(groupEvent(t, "group-updated", g)); err != nil {
			t.Fatal(err)
		}
	}
	g, _ := c.Group("g1")
	if g.Name != "Renamed" || g.Version != 3 {
		t.Fatalf("cached = %+v, want the version 3 snapshot", g)
	}
}

func TestDeletedGroupIsNotResurrected(t *testing.T) {
	c := NewCache()
	g := &model.StudyGroup{ID: "g1", ClassID: "c1"}
	c.UpsertGroup(g)
	if err := c.Apply(Event{Type: "group-deleted", Payload: json.RawMessage(`"g1"`)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(groupEvent(t, "group-updated", g)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Group("g1"); ok {
		t.Fatal("late update resurrected a deleted group")
	}
}

func TestClassDeletedDropsItsGroups(t *testing.T) {
	c := NewCache()
	c.UpsertClass(&model.Class{ID: "c1", UniversityID: "u1"})
	c.UpsertClass(&model.Class{ID: "c2", UniversityID: "u1"})
	c.UpsertGroup(&model.StudyGroup{ID: "g1", ClassID: "c1"})
	c.UpsertGroup(&model.StudyGroup{ID: "g2", ClassID: "c2"})
	if err := c.Apply(Event{Type: "class-deleted", Payload: json.RawMessage(`"c1"`)}); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Classes("u1")); n != 1 {
		t.Fatalf("classes = %d", n)
	}
	if _, ok := c.Group("g1"); ok {
		t.Fatal("group of deleted class still cached")
	}
	if _, ok := c.Group("g2"); !ok {
		t.Fatal("unrelated group dropped")
	}
}

func TestMessagesDedupAndOrder(t *testing.T) {
	c := NewCache()
	m1 := model.ChatMessage{ID: "01HZ0000000000000000000001", Seq: 1, Text: "one"}
	m2 := model.ChatMessage{ID: "01HZ0000000000000000000002", Seq: 2, Text: "two"}
	payload, _ := json.Marshal(map[string]any{"chatId": "chat1", "message": m2})

	if err := c.Apply(Event{Type: "chat-message", Payload: payload}); err != nil {
		t.Fatal(err)
	}
	c.AddMessage("chat1", m2)
	c.LoadChat(&model.ChatView{ID: "chat1", Messages: []model.ChatMessage{m1, m2}})

	got := c.Messages("chat1")
	if len(got) != 2 || got[0].ID != m1.ID || got[1].ID != m2.ID {
		t.Fatalf("messages = %+v", got)
	}
}

// Первым записан пост с более поздним временем (и id): порядок задаёт seq из хранилища.
func TestMessagesFollowStoreOrder(t *testing.T) {
	first := model.ChatMessage{ID: "01HZ0000000000000000000009", Seq: 1, Text: "first committed"}
	second := model.ChatMessage{ID: "01HZ0000000000000000000001", Seq: 2, Text: "second committed"}
	third := model.ChatMessage{ID: "01HZ0000000000000000000005", Seq: 3, Text: "pushed later"}

	c := NewCache()
	c.LoadChat(&model.ChatView{ID: "chat1", Messages: []model.ChatMessage{first, second}})
	if got := c.Messages("chat1"); len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("after load: %+v", got)
	}

	// Push arrives before the fetch that already contains it, plus one newer push.
	d := NewCache()
	d.AddMessage("chat1", third)
	d.AddMessage("chat1", second)
	d.LoadChat(&model.ChatView{ID: "chat1", Messages: []model.ChatMessage{first, second}})
	got := d.Messages("chat1")
	want := []string{first.ID, second.ID, third.ID}
	if len(got) != len(want) {
		t.Fatalf("messages = %+v", got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("messages[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestApplyIgnoresAcksAndRejectsBadPayloads(t *testing.T) {
	c := NewCache()
	if err := c.Apply(Event{Type: "subscribed", Payload: json.RawMessage(`"class:c1"`)}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := c.Apply(Event{Type: "group-created", Payload: json.RawMessage(`[1,2]`)}); err == nil {
		t.Fatal("malformed payload accepted")
	}
}
