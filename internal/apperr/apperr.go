// Package apperr описывает типизированные отказы бизнес-правил.
// Движок членства и шлюз чата возвращают их как значения; HTTP-слой отображает Kind в статус.
package apperr

import (
	"errors"
	"net/http"
)

// Kind: категория отказа.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindForbidden
	KindConflict
)

// Code: машинно-читаемая причина отказа (поле "code" в JSON ответа).
type Code string

const (
	CodeValidation                  Code = "ValidationError"
	CodeNotFound                    Code = "NotFound"
	CodeForbidden                   Code = "Forbidden"
	CodeAlreadyMember               Code = "AlreadyMember"
	CodeGroupFull                   Code = "GroupFull"
	CodeInviteCodeRequired          Code = "InviteCodeRequired"
	CodeInviteCodeInvalid           Code = "InviteCodeInvalid"
	CodeCreatorCannotLeave          Code = "CreatorCannotLeave"
	CodeNotAMember                  Code = "NotAMember"
	CodeCapacityBelowCurrentMembers Code = "CapacityBelowCurrentMembers"
	CodeChatLeft                    Code = "ChatLeft"
	CodeDuplicateClass              Code = "DuplicateClass"
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status возвращает HTTP-статус для отказа. Конфликты состояния членства отдаются как 400.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(msg string) *Error { return New(KindValidation, CodeValidation, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, CodeNotFound, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, CodeForbidden, msg) }

func Conflict(code Code, msg string) *Error { return New(KindConflict, code, msg) }

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Часто используемые отказы.
var (
	ErrClassNotFound      = NotFound("Class not found")
	ErrStudyGroupNotFound = NotFound("Study group not found")
	ErrUniversityNotFound = NotFound("University not found")
)
