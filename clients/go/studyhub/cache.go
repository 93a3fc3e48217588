package studyhub

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/studyhub/internal/model"
)

// Cache merges HTTP responses and pushed events into one local view.
// Every merge is an upsert by id, so the same entity arriving twice (once in the
// HTTP response, once as an event, in either order) is applied once.
// Deleted ids are remembered so a late update cannot resurrect them.
type Cache struct {
	mu             sync.RWMutex
	groups         map[string]*model.StudyGroup
	deletedGroups  map[string]struct{}
	classes        map[string]*model.Class
	deletedClasses map[string]struct{}
	chats          map[string][]model.ChatMessage
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		groups:         make(map[string]*model.StudyGroup),
		deletedGroups:  make(map[string]struct{}),
		classes:        make(map[string]*model.Class),
		deletedClasses: make(map[string]struct{}),
		chats:          make(map[string][]model.ChatMessage),
	}
}

// UpsertGroup stores g unless it was deleted or carries a lower version than the
// cached copy. The store bumps version on every write, so it orders snapshots
// even when updatedAt does not.
// Broadcast snapshots carry no invite code; a code already known locally is kept.
func (c *Cache) UpsertGroup(g *model.StudyGroup) bool {
	if g == nil || g.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, gone := c.deletedGroups[g.ID]; gone {
		return false
	}
	next := g.Clone()
	if cur, ok := c.groups[g.ID]; ok {
		if next.Version < cur.Version {
			return false
		}
		if next.InviteCode == "" && next.IsPrivate {
			next.InviteCode = cur.InviteCode
		}
	}
	c.groups[g.ID] = next
	return true
}

// RemoveGroup drops a group and tombstones its id.
func (c *Cache) RemoveGroup(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, id)
	c.deletedGroups[id] = struct{}{}
}

// Group returns a copy of the cached group.
func (c *Cache) Group(id string) (*model.StudyGroup, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// Groups returns a class's cached groups, newest first.
func (c *Cache) Groups(classID string) []model.StudyGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := lo.FilterMap(lo.Values(c.groups), func(g *model.StudyGroup, _ int) (model.StudyGroup, bool) {
		return *g.Clone(), g.ClassID == classID
	})
	slices.SortFunc(list, func(a, b model.StudyGroup) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// UpsertClass stores a class unless it was deleted.
func (c *Cache) UpsertClass(cl *model.Class) bool {
	if cl == nil || cl.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, gone := c.deletedClasses[cl.ID]; gone {
		return false
	}
	c.classes[cl.ID] = cl.Clone()
	return true
}

// RemoveClass drops a class together with its cached groups; class-deleted is the
// only event sent for the cascade.
func (c *Cache) RemoveClass(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.classes, id)
	c.deletedClasses[id] = struct{}{}
	for gid, g := range c.groups {
		if g.ClassID == id {
			delete(c.groups, gid)
			c.deletedGroups[gid] = struct{}{}
		}
	}
}

// Classes returns a university's cached classes, newest first.
func (c *Cache) Classes(universityID string) []model.Class {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := lo.FilterMap(lo.Values(c.classes), func(cl *model.Class, _ int) (model.Class, bool) {
		return *cl.Clone(), cl.UniversityID == universityID
	})
	slices.SortFunc(list, func(a, b model.Class) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

// AddMessage inserts msg into the chat unless a message with the same id is cached.
// Messages are kept in store order (seq), whatever order they arrive in.
func (c *Cache) AddMessage(chatID string, msg model.ChatMessage) bool {
	if msg.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addMessageLocked(chatID, msg)
}

func (c *Cache) addMessageLocked(chatID string, msg model.ChatMessage) bool {
	msgs := c.chats[chatID]
	if slices.ContainsFunc(msgs, func(m model.ChatMessage) bool { return m.ID == msg.ID }) {
		return false
	}
	i := slices.IndexFunc(msgs, func(m model.ChatMessage) bool { return m.Seq > msg.Seq })
	if i < 0 {
		i = len(msgs)
	}
	c.chats[chatID] = slices.Insert(msgs, i, msg)
	return true
}

// LoadChat replaces the cached chat with the fetched one. Pushed messages the
// response does not contain yet are kept at their seq positions.
func (c *Cache) LoadChat(view *model.ChatView) {
	if view == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pushed := c.chats[view.ID]
	c.chats[view.ID] = slices.Clone(view.Messages)
	for _, m := range pushed {
		c.addMessageLocked(view.ID, m)
	}
}

// Messages returns a copy of a chat's cached messages, oldest first.
func (c *Cache) Messages(chatID string) []model.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.chats[chatID])
}

// Apply merges a pushed event. Acks and unknown event types are ignored.
func (c *Cache) Apply(ev Event) error {
	switch ev.Type {
	case "group-created", "group-updated":
		var g model.StudyGroup
		if err := json.Unmarshal(ev.Payload, &g); err != nil {
			return fmt.Errorf("studyhub: %s payload: %w", ev.Type, err)
		}
		c.UpsertGroup(&g)
	case "group-deleted":
		var id string
		if err := json.Unmarshal(ev.Payload, &id); err != nil {
			return fmt.Errorf("studyhub: %s payload: %w", ev.Type, err)
		}
		c.RemoveGroup(id)
	case "class-created":
		var cl model.Class
		if err := json.Unmarshal(ev.Payload, &cl); err != nil {
			return fmt.Errorf("studyhub: %s payload: %w", ev.Type, err)
		}
		c.UpsertClass(&cl)
	case "class-deleted":
		var id string
		if err := json.Unmarshal(ev.Payload, &id); err != nil {
			return fmt.Errorf("studyhub: %s payload: %w", ev.Type, err)
		}
		c.RemoveClass(id)
	case "chat-message":
		var p struct {
			ChatID  string            `json:"chatId"`
			Message model.ChatMessage `json:"message"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("studyhub: %s payload: %w", ev.Type, err)
		}
		c.AddMessage(p.ChatID, p.Message)
	}
	return nil
}
