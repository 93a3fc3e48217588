package storage

import (
	"context"
	"errors"

	"github.com/studyhub/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate: нарушен уникальный ключ (название/код университета, код класса в университете).
	ErrDuplicate = errors.New("duplicate")
	// ErrDuplicateInviteCode: код приглашения уже занят; вызывающий генерирует новый.
	ErrDuplicateInviteCode = errors.New("duplicate invite code")
	// ErrConditionFailed: условная запись не применена, состояние изменилось после чтения.
	// Вызывающий перечитывает снимок и заново принимает решение.
	ErrConditionFailed = errors.New("condition failed")
	// ErrInvalidScope: scope чата не class и не studyGroup.
	ErrInvalidScope = errors.New("invalid chat scope")
)

// Store хранит документы. Реализации: postgres.Store, mongo.Store, memory.Store.
//
// Все изменения членства делаются условными записями: предикат и изменение применяются атомарно
// относительно других записей в ту же группу. Списки групп и классов отдаются от новых к старым.
type Store interface {
	CreateUniversity(ctx context.Context, u *model.University) error
	GetUniversity(ctx context.Context, id string) (*model.University, error)
	// ListUniversities сортирует по названию.
	ListUniversities(ctx context.Context) ([]model.University, error)

	CreateClass(ctx context.Context, c *model.Class) error
	GetClass(ctx context.Context, id string) (*model.Class, error)
	ListClassesByUniversity(ctx context.Context, universityID string) ([]model.Class, error)
	// DeleteClass удаляет класс, его группы, их чаты и чат класса. Возвращает id удалённых групп.
	DeleteClass(ctx context.Context, id string) ([]string, error)
	// SetClassChatOptOut идемпотентно добавляет или убирает userID из usersOptedOutOfChat.
	SetClassChatOptOut(ctx context.Context, classID, userID string, optedOut bool) (*model.Class, error)

	// CreateStudyGroup вставляет группу с version = 1 и добавляет её id в studyGroupIds класса.
	// ErrNotFound, если класса нет; ErrDuplicateInviteCode, если код занят.
	CreateStudyGroup(ctx context.Context, g *model.StudyGroup) error
	GetStudyGroup(ctx context.Context, id string) (*model.StudyGroup, error)
	ListStudyGroupsByClass(ctx context.Context, classID string) ([]model.StudyGroup, error)
	ListStudyGroupsByMember(ctx context.Context, userID string) ([]model.StudyGroup, error)
	ListStudyGroupsByCreator(ctx context.Context, userID string) ([]model.StudyGroup, error)
	// AddMember, RemoveMember и UpdateStudyGroup атомарно увеличивают version на 1.
	// AddMember добавляет userID, если он ещё не участник и len(members) < maxMembers.
	AddMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error)
	// RemoveMember убирает userID, если он участник и не создатель.
	RemoveMember(ctx context.Context, groupID, userID string) (*model.StudyGroup, error)
	// UpdateStudyGroup сохраняет name, description, maxMembers, если maxMembers >= len(members).
	UpdateStudyGroup(ctx context.Context, g *model.StudyGroup) (*model.StudyGroup, error)
	// DeleteStudyGroup удаляет группу, её чат и id из класса.
	DeleteStudyGroup(ctx context.Context, id string) error

	// GetOrCreateChat возвращает чат (scope, ownerID), создавая его при первом обращении.
	GetOrCreateChat(ctx context.Context, scope model.ChatScope, ownerID string) (*model.Chat, error)
	// AppendMessage добавляет сообщение в конец чата (создаёт чат при необходимости).
	// Возвращает id чата и seq сообщения; seq строго растёт в пределах чата.
	AppendMessage(ctx context.Context, scope model.ChatScope, ownerID string, msg model.ChatMessage) (chatID string, seq int64, err error)
}
