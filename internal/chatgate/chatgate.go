// Package chatgate решает, кто может читать и писать в чаты классов и учебных групп.
package chatgate

import (
	"strings"
	"unicode/utf8"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/model"
)

// DefaultMaxMessageLength: ограничение длины сообщения в символах.
const DefaultMaxMessageLength = 4000

const (
	MsgMessageRequired     = "Message is required"
	MsgMessageTooLong      = "Message is too long"
	MsgChatLeft            = "You have left this chat. Rejoin to send messages."
	MsgNotClassMember      = "You must be a member of this class to use its chat"
	MsgMemberRequiredRead  = "You must be a member to view this chat"
	MsgMemberRequiredWrite = "You must be a member to send messages"
)

// Gate хранит ограничение длины; решения чистые.
type Gate struct {
	maxLen int
}

func New(maxLen int) *Gate {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &Gate{maxLen: maxLen}
}

// ValidateMessage обрезает пробелы и проверяет, что сообщение не пустое и не длиннее лимита.
func (g *Gate) ValidateMessage(text string) (string, *apperr.Error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation(MsgMessageRequired)
	}
	if utf8.RuneCountInString(text) > g.maxLen {
		return "", apperr.Validation(MsgMessageTooLong)
	}
	return text, nil
}

// CanReadClass: читать может участник класса, в том числе покинувший чат (он видит hasLeftChat).
func (g *Gate) CanReadClass(p model.Principal, c *model.Class) *apperr.Error {
	if !p.InClass(c) {
		return apperr.Forbidden(MsgNotClassMember)
	}
	return nil
}

// CanPostClass: участник класса, не покинувший чат.
func (g *Gate) CanPostClass(p model.Principal, c *model.Class) *apperr.Error {
	if !p.InClass(c) {
		return apperr.Forbidden(MsgNotClassMember)
	}
	if c.HasOptedOut(p.UserID) {
		return apperr.New(apperr.KindForbidden, apperr.CodeChatLeft, MsgChatLeft)
	}
	return nil
}

// CanToggleClassChat: покинуть и вернуться в чат может только участник класса.
func (g *Gate) CanToggleClassChat(p model.Principal, c *model.Class) *apperr.Error {
	return g.CanReadClass(p, c)
}

// CanReadGroup: только текущий участник группы.
func (g *Gate) CanReadGroup(p model.Principal, sg *model.StudyGroup) *apperr.Error {
	if !sg.HasMember(p.UserID) {
		return apperr.Forbidden(MsgMemberRequiredRead)
	}
	return nil
}

// CanPostGroup: только текущий участник группы.
func (g *Gate) CanPostGroup(p model.Principal, sg *model.StudyGroup) *apperr.Error {
	if !sg.HasMember(p.UserID) {
		return apperr.Forbidden(MsgMemberRequiredWrite)
	}
	return nil
}
