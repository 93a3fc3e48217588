// Package membership принимает решения о переходах членства в учебных группах.
// Функции чистые: получают снимок группы и возвращают новый снимок либо типизированный отказ.
// Исходный снимок не изменяется. Атомарность обеспечивает условная запись хранилища.
package membership

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/invite"
	"github.com/studyhub/internal/model"
)

// Сообщения отказов (отдаются клиенту как есть).
const (
	MsgNameRequired        = "Name is required"
	MsgClassRequired       = "Class is required"
	MsgMaxMembersRange     = "Max members must be between 2 and 50"
	MsgAlreadyMember       = "Already a member of this study group"
	MsgGroupFull           = "Study group is full"
	MsgInviteCodeRequired  = "Invite code is required to join this private study group"
	MsgInviteCodeInvalid   = "Invalid invite code"
	MsgCreatorCannotLeave  = "Creator cannot leave the group. Delete it instead."
	MsgNotAMember          = "You are not a member of this study group"
	MsgOnlyCreatorEdit     = "Only the creator can edit this study group"
	MsgOnlyCreatorDelete   = "Only the creator can delete this study group"
	MsgCapacityBelowMember = "Max members cannot be less than current members"
)

type CreateInput struct {
	Name        string
	ClassID     string
	Description string
	MaxMembers  *int
	IsPrivate   bool
}

// EditInput: nil-поле не меняется. Пустое имя игнорируется; описание можно очистить.
type EditInput struct {
	Name        *string
	Description *string
	MaxMembers  *int
}

func inRange(n int) bool {
	return n >= model.MinGroupMembers && n <= model.MaxGroupMembers
}

// Create строит новую группу. Создатель сразу становится участником.
// inviteCode обязателен для закрытой группы и игнорируется для открытой.
func Create(creator string, in CreateInput, inviteCode string, now time.Time) (*model.StudyGroup, *apperr.Error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(MsgNameRequired)
	}
	if strings.TrimSpace(in.ClassID) == "" {
		return nil, apperr.Validation(MsgClassRequired)
	}
	maxMembers := model.DefaultGroupMembers
	if in.MaxMembers != nil {
		maxMembers = *in.MaxMembers
	}
	if !inRange(maxMembers) {
		return nil, apperr.Validation(MsgMaxMembersRange)
	}
	code := ""
	if in.IsPrivate {
		if inviteCode == "" {
			return nil, apperr.Validation("private study group requires an invite code")
		}
		code = inviteCode
	}
	return &model.StudyGroup{
		Name:        name,
		ClassID:     in.ClassID,
		CreatedBy:   creator,
		Members:     []string{creator},
		Description: strings.TrimSpace(in.Description),
		MaxMembers:  maxMembers,
		IsPrivate:   in.IsPrivate,
		InviteCode:  code,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Join добавляет пользователя в конец members.
// Порядок проверок: AlreadyMember, GroupFull, затем код приглашения для закрытой группы.
func Join(g *model.StudyGroup, user, code string) (*model.StudyGroup, *apperr.Error) {
	if g.HasMember(user) {
		return nil, apperr.Conflict(apperr.CodeAlreadyMember, MsgAlreadyMember)
	}
	if g.IsFull() {
		return nil, apperr.Conflict(apperr.CodeGroupFull, MsgGroupFull)
	}
	if g.IsPrivate {
		if code == "" {
			return nil, apperr.Conflict(apperr.CodeInviteCodeRequired, MsgInviteCodeRequired)
		}
		if !invite.Validate(g.InviteCode, code) {
			return nil, apperr.Conflict(apperr.CodeInviteCodeInvalid, MsgInviteCodeInvalid)
		}
	}
	next := g.Clone()
	next.Members = append(next.Members, user)
	return next, nil
}

// Leave убирает пользователя из members, сохраняя порядок остальных.
func Leave(g *model.StudyGroup, user string) (*model.StudyGroup, *apperr.Error) {
	if g.CreatedBy == user {
		return nil, apperr.Conflict(apperr.CodeCreatorCannotLeave, MsgCreatorCannotLeave)
	}
	if !g.HasMember(user) {
		return nil, apperr.Conflict(apperr.CodeNotAMember, MsgNotAMember)
	}
	next := g.Clone()
	next.Members = lo.Without(next.Members, user)
	return next, nil
}

// Edit меняет имя, описание и вместимость. Только создатель.
func Edit(g *model.StudyGroup, user string, in EditInput, now time.Time) (*model.StudyGroup, *apperr.Error) {
	if g.CreatedBy != user {
		return nil, apperr.Forbidden(MsgOnlyCreatorEdit)
	}
	next := g.Clone()
	if in.MaxMembers != nil {
		if *in.MaxMembers < len(g.Members) {
			return nil, apperr.Conflict(apperr.CodeCapacityBelowCurrentMembers, MsgCapacityBelowMember)
		}
		if !inRange(*in.MaxMembers) {
			return nil, apperr.Validation(MsgMaxMembersRange)
		}
		next.MaxMembers = *in.MaxMembers
	}
	if in.Name != nil {
		if name := strings.TrimSpace(*in.Name); name != "" {
			next.Name = name
		}
	}
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}
	next.UpdatedAt = now
	return next, nil
}

// Disband разрешает удаление группы только создателю. Каскад выполняет хранилище.
func Disband(g *model.StudyGroup, user string) *apperr.Error {
	if g.CreatedBy != user {
		return apperr.Forbidden(MsgOnlyCreatorDelete)
	}
	return nil
}
