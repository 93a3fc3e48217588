package model

import (
	"slices"
	"time"
)

// Границы вместимости учебной группы.
const (
	MinGroupMembers     = 2
	MaxGroupMembers     = 50
	DefaultGroupMembers = 10
)

// StudyGroup: снимок группы. Version увеличивается каждой записью в хранилище;
// клиенты сравнивают снимки по Version, а не по UpdatedAt.
type StudyGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ClassID     string    `json:"classId"`
	CreatedBy   string    `json:"createdBy"`
	Members     []string  `json:"members"`
	Description string    `json:"description,omitempty"`
	MaxMembers  int       `json:"maxMembers"`
	IsPrivate   bool      `json:"isPrivate"`
	InviteCode  string    `json:"inviteCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int64     `json:"version"`
}

// Clone возвращает глубокую копию снимка группы.
func (g *StudyGroup) Clone() *StudyGroup {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Members = slices.Clone(g.Members)
	if cp.Members == nil {
		cp.Members = []string{}
	}
	return &cp
}

// HasMember: userID входит в members.
func (g *StudyGroup) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

// IsFull: свободных мест нет.
func (g *StudyGroup) IsFull() bool {
	return len(g.Members) >= g.MaxMembers
}

// Public возвращает снимок без inviteCode (для не-участников и широковещательных событий).
func (g *StudyGroup) Public() *StudyGroup {
	cp := g.Clone()
	if cp != nil {
		cp.InviteCode = ""
	}
	return cp
}

// ViewFor возвращает полный снимок участнику группы и обезличенный всем остальным.
func (g *StudyGroup) ViewFor(userID string) *StudyGroup {
	if g.HasMember(userID) {
		return g.Clone()
	}
	return g.Public()
}
