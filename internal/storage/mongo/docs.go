package mongo

import (
	"time"

	"github.com/studyhub/internal/model"
)

type universityDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Code      string    `bson:"code"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d universityDoc) model() model.University {
	return model.University{ID: d.ID, Name: d.Name, Code: d.Code, CreatedAt: d.CreatedAt.UTC()}
}

type classDoc struct {
	ID                  string    `bson:"_id"`
	Name                string    `bson:"name"`
	Code                string    `bson:"code"`
	UniversityID        string    `bson:"universityId"`
	CreatedBy           string    `bson:"createdBy"`
	Description         string    `bson:"description"`
	StudyGroupIDs       []string  `bson:"studyGroupIds"`
	UsersOptedOutOfChat []string  `bson:"usersOptedOutOfChat"`
	CreatedAt           time.Time `bson:"createdAt"`
}

func classToDoc(c *model.Class) classDoc {
	d := classDoc{
		ID:                  c.ID,
		Name:                c.Name,
		Code:                c.Code,
		UniversityID:        c.UniversityID,
		CreatedBy:           c.CreatedBy,
		Description:         c.Description,
		StudyGroupIDs:       c.StudyGroupIDs,
		UsersOptedOutOfChat: c.UsersOptedOutOfChat,
		CreatedAt:           c.CreatedAt,
	}
	if d.StudyGroupIDs == nil {
		d.StudyGroupIDs = []string{}
	}
	if d.UsersOptedOutOfChat == nil {
		d.UsersOptedOutOfChat = []string{}
	}
	return d
}

func (d classDoc) model() *model.Class {
	c := &model.Class{
		ID:                  d.ID,
		Name:                d.Name,
		Code:                d.Code,
		UniversityID:        d.UniversityID,
		CreatedBy:           d.CreatedBy,
		Description:         d.Description,
		StudyGroupIDs:       d.StudyGroupIDs,
		UsersOptedOutOfChat: d.UsersOptedOutOfChat,
		CreatedAt:           d.CreatedAt.UTC(),
	}
	return c.Clone()
}

// inviteCode опускается у открытых групп: уникальный индекс по нему разреженный.
type groupDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	ClassID     string    `bson:"classId"`
	CreatedBy   string    `bson:"createdBy"`
	Members     []string  `bson:"members"`
	Description string    `bson:"description"`
	MaxMembers  int       `bson:"maxMembers"`
	IsPrivate   bool      `bson:"isPrivate"`
	InviteCode  string    `bson:"inviteCode,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
	Version     int64     `bson:"version"`
}

func groupToDoc(g *model.StudyGroup) groupDoc {
	d := groupDoc{
		ID:          g.ID,
		Name:        g.Name,
		ClassID:     g.ClassID,
		CreatedBy:   g.CreatedBy,
		Members:     g.Members,
		Description: g.Description,
		MaxMembers:  g.MaxMembers,
		IsPrivate:   g.IsPrivate,
		InviteCode:  g.InviteCode,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
		Version:     g.Version,
	}
	if d.Members == nil {
		d.Members = []string{}
	}
	return d
}

func (d groupDoc) model() *model.StudyGroup {
	g := &model.StudyGroup{
		ID:          d.ID,
		Name:        d.Name,
		ClassID:     d.ClassID,
		CreatedBy:   d.CreatedBy,
		Members:     d.Members,
		Description: d.Description,
		MaxMembers:  d.MaxMembers,
		IsPrivate:   d.IsPrivate,
		InviteCode:  d.InviteCode,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
		Version:     d.Version,
	}
	return g.Clone()
}

type messageDoc struct {
	ID        string    `bson:"id"`
	Author    string    `bson:"author"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

type chatDoc struct {
	ID        string       `bson:"_id"`
	Scope     string       `bson:"scope"`
	OwnerID   string       `bson:"ownerId"`
	Messages  []messageDoc `bson:"messages"`
	CreatedAt time.Time    `bson:"createdAt"`
}

func (d chatDoc) model() *model.Chat {
	c := &model.Chat{
		ID:        d.ID,
		Scope:     model.ChatScope(d.Scope),
		OwnerID:   d.OwnerID,
		Messages:  make([]model.ChatMessage, 0, len(d.Messages)),
		CreatedAt: d.CreatedAt.UTC(),
	}
	for i, m := range d.Messages {
		c.Messages = append(c.Messages, model.ChatMessage{ID: m.ID, Seq: int64(i) + 1, Author: m.Author, Text: m.Text, Timestamp: m.Timestamp.UTC()})
	}
	return c
}
