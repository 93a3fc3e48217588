package model

import (
	"slices"
	"time"
)

type Class struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Code                string    `json:"code"`
	UniversityID        string    `json:"universityId"`
	CreatedBy           string    `json:"createdBy"`
	Description         string    `json:"description,omitempty"`
	StudyGroupIDs       []string  `json:"studyGroupIds"`
	UsersOptedOutOfChat []string  `json:"usersOptedOutOfChat"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Clone возвращает глубокую копию (срезы не разделяются).
func (c *Class) Clone() *Class {
	if c == nil {
		return nil
	}
	cp := *c
	cp.StudyGroupIDs = slices.Clone(c.StudyGroupIDs)
	cp.UsersOptedOutOfChat = slices.Clone(c.UsersOptedOutOfChat)
	if cp.StudyGroupIDs == nil {
		cp.StudyGroupIDs = []string{}
	}
	if cp.UsersOptedOutOfChat == nil {
		cp.UsersOptedOutOfChat = []string{}
	}
	return &cp
}

// HasOptedOut: пользователь покинул чат класса.
func (c *Class) HasOptedOut(userID string) bool {
	return slices.Contains(c.UsersOptedOutOfChat, userID)
}

// ClassWithGroups: ответ GET /api/classes/{id}.
type ClassWithGroups struct {
	Class       Class        `json:"class"`
	StudyGroups []StudyGroup `json:"studyGroups"`
}
