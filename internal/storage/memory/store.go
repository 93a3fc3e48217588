// Package memory: хранилище документов в памяти процесса (режим -dev без внешней БД и тесты).
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

type chatKey struct {
	scope model.ChatScope
	owner string
}

// Store хранит копии документов; наружу всегда отдаются копии.
// Одна блокировка на всё хранилище: предикат условной записи и изменение выполняются под ней.
type Store struct {
	mu           sync.RWMutex
	universities map[string]*model.University
	classes      map[string]*model.Class
	groups       map[string]*model.StudyGroup
	chats        map[chatKey]*model.Chat
	inviteCodes  map[string]string
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		universities: make(map[string]*model.University),
		classes:      make(map[string]*model.Class),
		groups:       make(map[string]*model.StudyGroup),
		chats:        make(map[chatKey]*model.Chat),
		inviteCodes:  make(map[string]string),
	}
}

func newestFirst[T any](items []T, created func(T) time.Time) {
	slices.SortStableFunc(items, func(a, b T) int {
		return created(b).Compare(created(a))
	})
}

func (s *Store) CreateUniversity(_ context.Context, u *model.University) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.universities {
		if ex.Name == u.Name || ex.Code == u.Code {
			return storage.ErrDuplicate
		}
	}
	cp := *u
	s.universities[u.ID] = &cp
	return nil
}

func (s *Store) GetUniversity(_ context.Context, id string) (*model.University, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.universities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListUniversities(_ context.Context) ([]model.University, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.University, 0, len(s.universities))
	for _, u := range s.universities {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b model.University) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) CreateClass(_ context.Context, c *model.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.classes {
		if ex.UniversityID == c.UniversityID && ex.Code == c.Code {
			return storage.ErrDuplicate
		}
	}
	s.classes[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetClass(_ context.Context, id string) (*model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListClassesByUniversity(_ context.Context, universityID string) ([]model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Class, 0)
	for _, c := range s.classes {
		if c.UniversityID == universityID {
			out = append(out, *c.Clone())
		}
	}
	newestFirst(out, func(c model.Class) time.Time { return c.CreatedAt })
	return out, nil
}

func (s *Store) DeleteClass(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[id]; !ok {
		return nil, storage.ErrNotFound
	}
	var removed []string
	for gid, g := range s.groups {
		if g.ClassID == id {
			s.deleteGroupLocked(gid)
			removed = append(removed, gid)
		}
	}
	delete(s.chats, chatKey{model.ChatScopeClass, id})
	delete(s.classes, id)
	slices.Sort(removed)
	return removed, nil
}

func (s *Store) SetClassChatOptOut(_ context.Context, classID, userID string, optedOut bool) (*model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if optedOut {
		if !slices.Contains(c.UsersOptedOutOfChat, userID) {
			c.UsersOptedOutOfChat = append(c.UsersOptedOutOfChat, userID)
		}
	} else {
		c.UsersOptedOutOfChat = lo.Without(c.UsersOptedOutOfChat, userID)
	}
	return c.Clone(), nil
}

func (s *Store) CreateStudyGroup(_ context.Context, g *model.StudyGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[g.ClassID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.groups[g.ID]; ok {
		return storage.ErrDuplicate
	}
	if g.InviteCode != "" {
		if _, taken := s.inviteCodes[g.InviteCode]; taken {
			return storage.ErrDuplicateInviteCode
		}
		s.inviteCodes[g.InviteCode] = g.ID
	}
	g.Version = 1
	s.groups[g.ID] = g.Clone()
	c.StudyGroupIDs = append(c.StudyGroupIDs, g.ID)
	return nil
}

func (s *Store) GetStudyGroup(_ context.Context, id string) (*model.StudyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) listGroups(pred func(*model.StudyGroup) bool) []model.StudyGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StudyGroup, 0)
	for _, g := range s.groups {
		if pred(g) {
			out = append(out, *g.Clone())
		}
	}
	newestFirst(out, func(g model.StudyGroup) time.Time { return g.CreatedAt })
	return out
}

func (s *Store) ListStudyGroupsByClass(_ context.Context, classID string) ([]model.StudyGroup, error) {
	return s.listGroups(func(g *model.StudyGroup) bool { return g.ClassID == classID }), nil
}

func (s *Store) ListStudyGroupsByMember(_ context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(func(g *model.StudyGroup) bool { return g.HasMember(userID) }), nil
}

func (s *Store) ListStudyGroupsByCreator(_ context.Context, userID string) ([]model.StudyGroup, error) {
	return s.listGroups(func(g *model.StudyGroup) bool { return g.CreatedBy == userID }), nil
}

func (s *Store) AddMember(_ context.Context, groupID, userID string) (*model.StudyGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.HasMember(userID) || g.IsFull() {
		return nil, storage.ErrConditionFailed
	}
	g.Members = append(g.Members, userID)
	g.UpdatedAt = time.Now().UTC()
	g.Version++
	return g.Clone(), nil
}

func (s *Store) RemoveMember(_ context.Context, groupID, userID string) (*model.StudyGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.CreatedBy == userID || !g.HasMember(userID) {
		return nil, storage.ErrConditionFailed
	}
	g.Members = lo.Without(g.Members, userID)
	g.UpdatedAt = time.Now().UTC()
	g.Version++
	return g.Clone(), nil
}

func (s *Store) UpdateStudyGroup(_ context.Context, next *model.StudyGroup) (*model.StudyGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[next.ID]
	if !ok || next.MaxMembers < len(g.Members) {
		return nil, storage.ErrConditionFailed
	}
	g.Name = next.Name
	g.Description = next.Description
	g.MaxMembers = next.MaxMembers
	if next.UpdatedAt.After(g.UpdatedAt) {
		g.UpdatedAt = next.UpdatedAt
	}
	g.Version++
	return g.Clone(), nil
}

func (s *Store) DeleteStudyGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return storage.ErrNotFound
	}
	s.deleteGroupLocked(id)
	return nil
}

func (s *Store) deleteGroupLocked(id string) {
	g := s.groups[id]
	if c, ok := s.classes[g.ClassID]; ok {
		c.StudyGroupIDs = lo.Without(c.StudyGroupIDs, id)
	}
	if g.InviteCode != "" {
		delete(s.inviteCodes, g.InviteCode)
	}
	delete(s.chats, chatKey{model.ChatScopeStudyGroup, id})
	delete(s.groups, id)
}

func cloneChat(c *model.Chat) *model.Chat {
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	if cp.Messages == nil {
		cp.Messages = []model.ChatMessage{}
	}
	return &cp
}

func (s *Store) chatLocked(scope model.ChatScope, ownerID string) *model.Chat {
	k := chatKey{scope, ownerID}
	c, ok := s.chats[k]
	if !ok {
		c = &model.Chat{
			ID:        uuid.New().String(),
			Scope:     scope,
			OwnerID:   ownerID,
			Messages:  []model.ChatMessage{},
			CreatedAt: time.Now().UTC(),
		}
		s.chats[k] = c
	}
	return c
}

func (s *Store) GetOrCreateChat(_ context.Context, scope model.ChatScope, ownerID string) (*model.Chat, error) {
	if !scope.Valid() {
		return nil, storage.ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneChat(s.chatLocked(scope, ownerID)), nil
}

// AppendMessage: seq равен позиции сообщения в чате, начиная с 1.
func (s *Store) AppendMessage(_ context.Context, scope model.ChatScope, ownerID string, msg model.ChatMessage) (string, int64, error) {
	if !scope.Valid() {
		return "", 0, storage.ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chatLocked(scope, ownerID)
	msg.Seq = int64(len(c.Messages)) + 1
	c.Messages = append(c.Messages, msg)
	return c.ID, msg.Seq, nil
}
