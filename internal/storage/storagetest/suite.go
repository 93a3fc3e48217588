// Package storagetest: общий набор проверок для реализаций storage.Store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

// Factory возвращает пустое хранилище для одного подтеста.
type Factory func(t *testing.T) storage.Store

// Run прогоняет все проверки контракта storage.Store.
func Run(t *testing.T, newStore Factory) {
	t.Run("Universities", func(t *testing.T) { testUniversities(t, newStore(t)) })
	t.Run("Classes", func(t *testing.T) { testClasses(t, newStore(t)) })
	t.Run("StudyGroupLifecycle", func(t *testing.T) { testStudyGroupLifecycle(t, newStore(t)) })
	t.Run("ConditionalWrites", func(t *testing.T) { testConditionalWrites(t, newStore(t)) })
	t.Run("VersionAdvancesOnEveryWrite", func(t *testing.T) { testVersion(t, newStore(t)) })
	t.Run("InviteCodeUnique", func(t *testing.T) { testInviteCodeUnique(t, newStore(t)) })
	t.Run("ParallelJoinLastSeat", func(t *testing.T) { testParallelJoin(t, newStore(t)) })
	t.Run("Chats", func(t *testing.T) { testChats(t, newStore(t)) })
	t.Run("DeleteCascade", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("DeleteStudyGroupDropsChat", func(t *testing.T) { testDeleteStudyGroupDropsChat(t, newStore(t)) })
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

// Fixtures

func base() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

func University(t *testing.T, s storage.Store, name string) *model.University {
	t.Helper()
	u := &model.University{ID: uuid.NewString(), Name: name, Code: strings.ToUpper(uuid.NewString()[:8]), CreatedAt: base()}
	if err := s.CreateUniversity(ctx(t), u); err != nil {
		t.Fatalf("CreateUniversity: %v", err)
	}
	return u
}

func Class(t *testing.T, s storage.Store, universityID, code string, created time.Time) *model.Class {
	t.Helper()
	c := &model.Class{
		ID:                  uuid.NewString(),
		Name:                "Class " + code,
		Code:                code,
		UniversityID:        universityID,
		CreatedBy:           "owner",
		StudyGroupIDs:       []string{},
		UsersOptedOutOfChat: []string{},
		CreatedAt:           created,
	}
	if err := s.CreateClass(ctx(t), c); err != nil {
		t.Fatalf("CreateClass: %v", err)
	}
	return c
}

func Group(t *testing.T, s storage.Store, classID, creator string, max int, inviteCode string, created time.Time) *model.StudyGroup {
	t.Helper()
	g := &model.StudyGroup{
		ID:         uuid.NewString(),
		Name:       "Group",
		ClassID:    classID,
		CreatedBy:  creator,
		Members:    []string{creator},
		MaxMembers: max,
		IsPrivate:  inviteCode != "",
		InviteCode: inviteCode,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.CreateStudyGroup(ctx(t), g); err != nil {
		t.Fatalf("CreateStudyGroup: %v", err)
	}
	return g
}

func testUniversities(t *testing.T, s storage.Store) {
	b := University(t, s, "Beta University")
	University(t, s, "Alpha University")

	dup := &model.University{ID: uuid.NewString(), Name: "Beta University", Code: "OTHER", CreatedAt: base()}
	if err := s.CreateUniversity(ctx(t), dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate name: err = %v, want ErrDuplicate", err)
	}

	list, err := s.ListUniversities(ctx(t))
	if err != nil {
		t.Fatalf("ListUniversities: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Alpha University" {
		t.Fatalf("list not sorted by name: %+v", list)
	}

	got, err := s.GetUniversity(ctx(t), b.ID)
	if err != nil || got.Name != b.Name {
		t.Fatalf("GetUniversity = %+v, %v", got, err)
	}
	if _, err := s.GetUniversity(ctx(t), uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing university: err = %v", err)
	}
}

func testClasses(t *testing.T, s storage.Store) {
	u := University(t, s, "Gamma")
	other := University(t, s, "Delta")
	older := Class(t, s, u.ID, "CS101", base())
	newer := Class(t, s, u.ID, "CS102", base().Add(time.Hour))
	Class(t, s, other.ID, "CS101", base())

	dup := &model.Class{ID: uuid.NewString(), Name: "x", Code: "CS101", UniversityID: u.ID, CreatedAt: base()}
	if err := s.CreateClass(ctx(t), dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate class code: err = %v", err)
	}

	list, err := s.ListClassesByUniversity(ctx(t), u.ID)
	if err != nil {
		t.Fatalf("ListClassesByUniversity: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("classes not newest first: %+v", list)
	}

	c, err := s.SetClassChatOptOut(ctx(t), older.ID, "u1", true)
	if err != nil {
		t.Fatalf("opt out: %v", err)
	}
	c, _ = s.SetClassChatOptOut(ctx(t), older.ID, "u1", true)
	if !slices.Equal(c.UsersOptedOutOfChat, []string{"u1"}) {
		t.Fatalf("opt out not idempotent: %v", c.UsersOptedOutOfChat)
	}
	c, _ = s.SetClassChatOptOut(ctx(t), older.ID, "u1", false)
	c, _ = s.SetClassChatOptOut(ctx(t), older.ID, "u1", false)
	if len(c.UsersOptedOutOfChat) != 0 {
		t.Fatalf("opt in not idempotent: %v", c.UsersOptedOutOfChat)
	}
	if _, err := s.SetClassChatOptOut(ctx(t), uuid.NewString(), "u1", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing class opt out: err = %v", err)
	}
}

func testStudyGroupLifecycle(t *testing.T, s storage.Store) {
	u := University(t, s, "Epsilon")
	c := Class(t, s, u.ID, "MATH1", base())
	g1 := Group(t, s, c.ID, "alice", 5, "", base())
	g2 := Group(t, s, c.ID, "bob", 5, "", base().Add(time.Minute))

	class, err := s.GetClass(ctx(t), c.ID)
	if err != nil {
		t.Fatalf("GetClass: %v", err)
	}
	if !slices.Equal(class.StudyGroupIDs, []string{g1.ID, g2.ID}) {
		t.Fatalf("studyGroupIds = %v", class.StudyGroupIDs)
	}

	orphan := &model.StudyGroup{ID: uuid.NewString(), Name: "x", ClassID: uuid.NewString(), CreatedBy: "a", Members: []string{"a"}, MaxMembers: 3, CreatedAt: base(), UpdatedAt: base()}
	if err := s.CreateStudyGroup(ctx(t), orphan); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("group for missing class: err = %v", err)
	}

	if _, err := s.AddMember(ctx(t), g1.ID, "bob"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	byClass, _ := s.ListStudyGroupsByClass(ctx(t), c.ID)
	if len(byClass) != 2 || byClass[0].ID != g2.ID {
		t.Fatalf("ListStudyGroupsByClass not newest first: %+v", byClass)
	}
	byMember, _ := s.ListStudyGroupsByMember(ctx(t), "bob")
	if len(byMember) != 2 {
		t.Fatalf("ListStudyGroupsByMember = %d groups, want 2", len(byMember))
	}
	byCreator, _ := s.ListStudyGroupsByCreator(ctx(t), "alice")
	if len(byCreator) != 1 || byCreator[0].ID != g1.ID {
		t.Fatalf("ListStudyGroupsByCreator = %+v", byCreator)
	}

	next := g1.Clone()
	next.Name = "Renamed"
	next.Description = "desc"
	next.MaxMembers = 2
	next.UpdatedAt = base().Add(time.Hour)
	updated, err := s.UpdateStudyGroup(ctx(t), next)
	if err != nil {
		t.Fatalf("UpdateStudyGroup: %v", err)
	}
	if updated.Name != "Renamed" || updated.MaxMembers != 2 || !slices.Equal(updated.Members, []string{"alice", "bob"}) {
		t.Fatalf("updated = %+v", updated)
	}

	if err := s.DeleteStudyGroup(ctx(t), g1.ID); err != nil {
		t.Fatalf("DeleteStudyGroup: %v", err)
	}
	if _, err := s.GetStudyGroup(ctx(t), g1.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deleted group still readable: %v", err)
	}
	class, _ = s.GetClass(ctx(t), c.ID)
	if !slices.Equal(class.StudyGroupIDs, []string{g2.ID}) {
		t.Fatalf("studyGroupIds after delete = %v", class.StudyGroupIDs)
	}
	if err := s.DeleteStudyGroup(ctx(t), g1.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: err = %v", err)
	}
}

func testConditionalWrites(t *testing.T, s storage.Store) {
	u := University(t, s, "Zeta")
	c := Class(t, s, u.ID, "PHY1", base())
	g := Group(t, s, c.ID, "alice", 2, "", base())

	if _, err := s.AddMember(ctx(t), g.ID, "alice"); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("re-add member: err = %v", err)
	}
	if _, err := s.AddMember(ctx(t), g.ID, "bob"); err != nil {
		t.Fatalf("AddMember bob: %v", err)
	}
	if _, err := s.AddMember(ctx(t), g.ID, "carol"); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("add beyond capacity: err = %v", err)
	}
	if _, err := s.RemoveMember(ctx(t), g.ID, "alice"); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("remove creator: err = %v", err)
	}
	if _, err := s.RemoveMember(ctx(t), g.ID, "carol"); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("remove non-member: err = %v", err)
	}

	shrink := g.Clone()
	shrink.Members = nil
	shrink.MaxMembers = 1
	if _, err := s.UpdateStudyGroup(ctx(t), shrink); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("capacity below members: err = %v", err)
	}

	after, err := s.RemoveMember(ctx(t), g.ID, "bob")
	if err != nil {
		t.Fatalf("RemoveMember bob: %v", err)
	}
	if !slices.Equal(after.Members, []string{"alice"}) {
		t.Fatalf("members after remove = %v", after.Members)
	}
	if _, err := s.AddMember(ctx(t), uuid.NewString(), "bob"); err == nil {
		t.Fatal("add to missing group must fail")
	}
}

func testInviteCodeUnique(t *testing.T, s storage.Store) {
	u := University(t, s, "Eta")
	c := Class(t, s, u.ID, "BIO1", base())
	Group(t, s, c.ID, "alice", 4, "QWE123", base())

	dup := &model.StudyGroup{ID: uuid.NewString(), Name: "x", ClassID: c.ID, CreatedBy: "bob", Members: []string{"bob"}, MaxMembers: 4, IsPrivate: true, InviteCode: "QWE123", CreatedAt: base(), UpdatedAt: base()}
	if err := s.CreateStudyGroup(ctx(t), dup); !errors.Is(err, storage.ErrDuplicateInviteCode) {
		t.Fatalf("duplicate invite code: err = %v", err)
	}
	class, _ := s.GetClass(ctx(t), c.ID)
	if len(class.StudyGroupIDs) != 1 {
		t.Fatalf("failed insert must not touch class: %v", class.StudyGroupIDs)
	}
}

// Группа на два места (создатель + одно свободное), N параллельных вступлений: ровно одно успешное.
func testParallelJoin(t *testing.T, s storage.Store) {
	u := University(t, s, "Theta")
	c := Class(t, s, u.ID, "CHEM1", base())
	g := Group(t, s, c.ID, "creator", 2, "", base())

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := s.AddMember(context.Background(), g.ID, user)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, user)
			} else if !errors.Is(err, storage.ErrConditionFailed) {
				errs = append(errs, err)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	final, err := s.GetStudyGroup(ctx(t), g.ID)
	if err != nil {
		t.Fatalf("GetStudyGroup: %v", err)
	}
	if !slices.Equal(final.Members, []string{"creator", winners[0]}) {
		t.Fatalf("final members = %v", final.Members)
	}
}

func testChats(t *testing.T, s storage.Store) {
	u := University(t, s, "Iota")
	c := Class(t, s, u.ID, "HIS1", base())

	chat, err := s.GetOrCreateChat(ctx(t), model.ChatScopeClass, c.ID)
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	if len(chat.Messages) != 0 {
		t.Fatalf("new chat has messages: %v", chat.Messages)
	}
	again, _ := s.GetOrCreateChat(ctx(t), model.ChatScopeClass, c.ID)
	if again.ID != chat.ID {
		t.Fatalf("chat not unique per owner: %s vs %s", again.ID, chat.ID)
	}

	// Время сообщений идёт назад: порядок чата задаёт порядок добавления, а не Timestamp.
	var seqs []int64
	for i := 0; i < 3; i++ {
		msg := model.ChatMessage{ID: fmt.Sprintf("m%d", i), Author: "alice", Text: fmt.Sprintf("hello %d", i), Timestamp: base().Add(-time.Duration(i) * time.Second)}
		id, seq, err := s.AppendMessage(ctx(t), model.ChatScopeClass, c.ID, msg)
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if id != chat.ID {
			t.Fatalf("AppendMessage chat id = %s, want %s", id, chat.ID)
		}
		if len(seqs) > 0 && seq <= seqs[len(seqs)-1] {
			t.Fatalf("seq %d not after %d", seq, seqs[len(seqs)-1])
		}
		seqs = append(seqs, seq)
	}
	chat, _ = s.GetOrCreateChat(ctx(t), model.ChatScopeClass, c.ID)
	ids := make([]string, 0, len(chat.Messages))
	gotSeqs := make([]int64, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		ids = append(ids, m.ID)
		gotSeqs = append(gotSeqs, m.Seq)
	}
	if !slices.Equal(ids, []string{"m0", "m1", "m2"}) {
		t.Fatalf("messages not in append order: %v", ids)
	}
	if !slices.Equal(gotSeqs, seqs) {
		t.Fatalf("stored seqs = %v, appended %v", gotSeqs, seqs)
	}

	if _, err := s.GetOrCreateChat(ctx(t), model.ChatScope("planet"), c.ID); !errors.Is(err, storage.ErrInvalidScope) {
		t.Fatalf("unknown scope read: err = %v", err)
	}
	if _, _, err := s.AppendMessage(ctx(t), model.ChatScope("planet"), c.ID, model.ChatMessage{ID: "bad"}); !errors.Is(err, storage.ErrInvalidScope) {
		t.Fatalf("unknown scope append: err = %v", err)
	}

	// Сообщение в ещё не созданный чат группы создаёт его.
	lazyID, _, err := s.AppendMessage(ctx(t), model.ChatScopeStudyGroup, "group-x", model.ChatMessage{ID: "g1", Author: "bob", Text: "hi", Timestamp: base()})
	if err != nil {
		t.Fatalf("AppendMessage lazy: %v", err)
	}
	lazy, _ := s.GetOrCreateChat(ctx(t), model.ChatScopeStudyGroup, "group-x")
	if lazy.ID != lazyID || len(lazy.Messages) != 1 {
		t.Fatalf("lazy chat = %+v", lazy)
	}
}

func testDeleteCascade(t *testing.T, s storage.Store) {
	u := University(t, s, "Kappa")
	c := Class(t, s, u.ID, "ART1", base())
	g1 := Group(t, s, c.ID, "alice", 3, "", base())
	g2 := Group(t, s, c.ID, "bob", 3, "CASC01", base())
	if _, _, err := s.AppendMessage(ctx(t), model.ChatScopeStudyGroup, g1.ID, model.ChatMessage{ID: "x", Author: "alice", Text: "t", Timestamp: base()}); err != nil {
		t.Fatal(err)
	}
	oldChat, _ := s.GetOrCreateChat(ctx(t), model.ChatScopeClass, c.ID)

	removed, err := s.DeleteClass(ctx(t), c.ID)
	if err != nil {
		t.Fatalf("DeleteClass: %v", err)
	}
	slices.Sort(removed)
	want := []string{g1.ID, g2.ID}
	slices.Sort(want)
	if !slices.Equal(removed, want) {
		t.Fatalf("removed = %v, want %v", removed, want)
	}
	if _, err := s.GetClass(ctx(t), c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("class survived delete: %v", err)
	}
	for _, id := range want {
		if _, err := s.GetStudyGroup(ctx(t), id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("group %s survived class delete: %v", id, err)
		}
	}
	chat, _ := s.GetOrCreateChat(ctx(t), model.ChatScopeStudyGroup, g1.ID)
	if len(chat.Messages) != 0 {
		t.Fatal("group chat survived class delete")
	}
	fresh, _ := s.GetOrCreateChat(ctx(t), model.ChatScopeClass, c.ID)
	if fresh.ID == oldChat.ID {
		t.Fatal("class chat survived class delete")
	}

	// Код приглашения удалённой группы освобождается.
	c2 := Class(t, s, u.ID, "ART2", base())
	Group(t, s, c2.ID, "carol", 3, "CASC01", base())

	if _, err := s.DeleteClass(ctx(t), c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second DeleteClass: err = %v", err)
	}
}

// Version растёт на каждой записи, даже если запись сделана по снимку, прочитанному
// до чужого вступления, и её UpdatedAt раньше сохранённого.
func testVersion(t *testing.T, s storage.Store) {
	u := University(t, s, "Lambda")
	c := Class(t, s, u.ID, "ECO1", base())
	g := Group(t, s, c.ID, "alice", 5, "", base())
	if g.Version != 1 {
		t.Fatalf("created version = %d, want 1", g.Version)
	}
	stale, err := s.GetStudyGroup(ctx(t), g.ID)
	if err != nil || stale.Version != 1 {
		t.Fatalf("GetStudyGroup = %+v, %v", stale, err)
	}

	joined, err := s.AddMember(ctx(t), g.ID, "bob")
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if joined.Version != 2 {
		t.Fatalf("version after join = %d, want 2", joined.Version)
	}

	edit := stale.Clone()
	edit.Name = "Renamed"
	edit.UpdatedAt = base()
	edited, err := s.UpdateStudyGroup(ctx(t), edit)
	if err != nil {
		t.Fatalf("UpdateStudyGroup: %v", err)
	}
	if edited.Version != 3 || edited.Name != "Renamed" {
		t.Fatalf("edited = %+v, want version 3", edited)
	}
	if !slices.Equal(edited.Members, []string{"alice", "bob"}) {
		t.Fatalf("edit dropped concurrent join: %v", edited.Members)
	}
	if edited.UpdatedAt.Before(joined.UpdatedAt) {
		t.Fatalf("updatedAt moved backwards: %v < %v", edited.UpdatedAt, joined.UpdatedAt)
	}

	left, err := s.RemoveMember(ctx(t), g.ID, "bob")
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if left.Version != 4 {
		t.Fatalf("version after leave = %d, want 4", left.Version)
	}
	if _, err := s.AddMember(ctx(t), g.ID, "alice"); !errors.Is(err, storage.ErrConditionFailed) {
		t.Fatalf("re-add creator: err = %v", err)
	}
	final, _ := s.GetStudyGroup(ctx(t), g.ID)
	if final.Version != 4 {
		t.Fatalf("failed write changed version: %d", final.Version)
	}
}

func testDeleteStudyGroupDropsChat(t *testing.T, s storage.Store) {
	u := University(t, s, "Mu")
	c := Class(t, s, u.ID, "LAW1", base())
	g := Group(t, s, c.ID, "alice", 3, "", base())
	chatID, _, err := s.AppendMessage(ctx(t), model.ChatScopeStudyGroup, g.ID, model.ChatMessage{ID: "d1", Author: "alice", Text: "bye", Timestamp: base()})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.DeleteStudyGroup(ctx(t), g.ID); err != nil {
		t.Fatalf("DeleteStudyGroup: %v", err)
	}
	chat, err := s.GetOrCreateChat(ctx(t), model.ChatScopeStudyGroup, g.ID)
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	if chat.ID == chatID {
		t.Fatal("group chat survived group delete")
	}
	if len(chat.Messages) != 0 {
		t.Fatalf("recreated chat has messages: %+v", chat.Messages)
	}
}
