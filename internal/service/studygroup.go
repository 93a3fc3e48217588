package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/invite"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/membership"
	"github.com/studyhub/internal/metrics"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/ws"
)

const MsgNotClassMemberCreate = "You must be a member of this class to create a study group"

type StudyGroupService struct {
	store  storage.Store
	events *emitter
	opts   Options
}

func (s *StudyGroupService) getGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	g, err := s.store.GetStudyGroup(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrStudyGroupNotFound, "studyGroup.get")
	}
	return g, nil
}

// Create создаёт группу в классе. Для закрытой группы генерирует код приглашения;
// при коллизии кода генерирует новый.
func (s *StudyGroupService) Create(ctx context.Context, p model.Principal, in membership.CreateInput) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.Create", time.Now())()
	g, err := s.create(ctx, p, in)
	countOp("create", err)
	if err != nil {
		return nil, err
	}
	s.events.emit(ctx, ws.ClassRoom(g.ClassID), ws.EventGroupCreated, g.Public())
	return g, nil
}

func (s *StudyGroupService) create(ctx context.Context, p model.Principal, in membership.CreateInput) (*model.StudyGroup, error) {
	if in.ClassID != "" {
		class, err := s.store.GetClass(ctx, in.ClassID)
		if err != nil {
			return nil, notFound(err, apperr.ErrClassNotFound, "studyGroup.Create")
		}
		if !p.InClass(class) {
			return nil, apperr.Forbidden(MsgNotClassMemberCreate)
		}
	}
	for attempt := 1; ; attempt++ {
		code := ""
		if in.IsPrivate {
			var err error
			if code, err = invite.Generate(); err != nil {
				return nil, fmt.Errorf("studyGroup.Create: %w", err)
			}
		}
		g, rej := membership.Create(p.UserID, in, code, s.opts.Now())
		if rej != nil {
			return nil, rej
		}
		g.ID = uuid.NewString()
		err := s.store.CreateStudyGroup(ctx, g)
		switch {
		case err == nil:
			return g, nil
		case errors.Is(err, storage.ErrDuplicateInviteCode) && attempt < maxInviteAttempts:
			logger.Infof("studyGroup.Create: код приглашения занят, генерируем новый (попытка %d)", attempt)
			continue
		default:
			return nil, notFound(err, apperr.ErrClassNotFound, "studyGroup.Create")
		}
	}
}

// Get возвращает группу; не-участник не видит код приглашения.
func (s *StudyGroupService) Get(ctx context.Context, p model.Principal, id string) (*model.StudyGroup, error) {
	g, err := s.getGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.ViewFor(p.UserID), nil
}

func (s *StudyGroupService) ListByClass(ctx context.Context, p model.Principal, classID string) ([]model.StudyGroup, error) {
	list, err := s.store.ListStudyGroupsByClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("studyGroup.ListByClass: %w", err)
	}
	return viewsFor(list, p.UserID), nil
}

// ListJoined: группы, где пользователь участник.
func (s *StudyGroupService) ListJoined(ctx context.Context, p model.Principal) ([]model.StudyGroup, error) {
	list, err := s.store.ListStudyGroupsByMember(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("studyGroup.ListJoined: %w", err)
	}
	return list, nil
}

// ListCreated: группы, созданные пользователем.
func (s *StudyGroupService) ListCreated(ctx context.Context, p model.Principal) ([]model.StudyGroup, error) {
	list, err := s.store.ListStudyGroupsByCreator(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("studyGroup.ListCreated: %w", err)
	}
	return list, nil
}

func viewsFor(list []model.StudyGroup, userID string) []model.StudyGroup {
	out := make([]model.StudyGroup, 0, len(list))
	for i := range list {
		out = append(out, *list[i].ViewFor(userID))
	}
	return out
}

// casLoop повторяет чтение, решение и условную запись. write возвращает
// storage.ErrConditionFailed, если снимок устарел; тогда группа перечитывается
// и решение принимается заново, так что проигравший гонку получает актуальный отказ.
func (s *StudyGroupService) casLoop(ctx context.Context, op, groupID string,
	decide func(g *model.StudyGroup) (*model.StudyGroup, *apperr.Error),
	write func(next *model.StudyGroup) (*model.StudyGroup, error),
) (*model.StudyGroup, error) {
	for attempt := 1; ; attempt++ {
		g, err := s.getGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		next, rej := decide(g)
		if rej != nil {
			return nil, rej
		}
		saved, err := write(next)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, storage.ErrConditionFailed) {
			return nil, fmt.Errorf("studyGroup.%s: %w", op, err)
		}
		if attempt >= s.opts.MaxCASAttempts {
			logger.Errorf("studyGroup.%s: группа %s, условная запись не прошла за %d попыток", op, groupID, attempt)
			return nil, fmt.Errorf("studyGroup.%s: %w", op, err)
		}
		metrics.ConditionalWriteRetries.WithLabelValues(op).Inc()
	}
}

// Join добавляет пользователя в группу. Для закрытой группы нужен точный код приглашения.
func (s *StudyGroupService) Join(ctx context.Context, p model.Principal, groupID, inviteCode string) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.Join", time.Now())()
	saved, err := s.casLoop(ctx, "Join", groupID,
		func(g *model.StudyGroup) (*model.StudyGroup, *apperr.Error) {
			return membership.Join(g, p.UserID, inviteCode)
		},
		func(*model.StudyGroup) (*model.StudyGroup, error) {
			return s.store.AddMember(ctx, groupID, p.UserID)
		})
	countOp("join", err)
	if err != nil {
		return nil, err
	}
	s.events.emit(ctx, ws.ClassRoom(saved.ClassID), ws.EventGroupUpdated, saved.Public())
	return saved, nil
}

// Leave убирает пользователя из группы. Создатель выйти не может.
func (s *StudyGroupService) Leave(ctx context.Context, p model.Principal, groupID string) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.Leave", time.Now())()
	saved, err := s.casLoop(ctx, "Leave", groupID,
		func(g *model.StudyGroup) (*model.StudyGroup, *apperr.Error) {
			return membership.Leave(g, p.UserID)
		},
		func(*model.StudyGroup) (*model.StudyGroup, error) {
			return s.store.RemoveMember(ctx, groupID, p.UserID)
		})
	countOp("leave", err)
	if err != nil {
		return nil, err
	}
	public := saved.Public()
	s.events.emit(ctx, ws.ClassRoom(saved.ClassID), ws.EventGroupUpdated, public)
	return public, nil
}

// Update меняет имя, описание и вместимость группы.
func (s *StudyGroupService) Update(ctx context.Context, p model.Principal, groupID string, in membership.EditInput) (*model.StudyGroup, error) {
	defer logger.DeferLogDuration("studyGroup.Update", time.Now())()
	saved, err := s.casLoop(ctx, "Update", groupID,
		func(g *model.StudyGroup) (*model.StudyGroup, *apperr.Error) {
			return membership.Edit(g, p.UserID, in, s.opts.Now())
		},
		func(next *model.StudyGroup) (*model.StudyGroup, error) {
			return s.store.UpdateStudyGroup(ctx, next)
		})
	countOp("edit", err)
	if err != nil {
		return nil, err
	}
	s.events.emit(ctx, ws.ClassRoom(saved.ClassID), ws.EventGroupUpdated, saved.Public())
	return saved, nil
}

// Delete удаляет группу вместе с её чатом. Только создатель.
func (s *StudyGroupService) Delete(ctx context.Context, p model.Principal, groupID string) error {
	defer logger.DeferLogDuration("studyGroup.Delete", time.Now())()
	err := s.delete(ctx, p, groupID)
	countOp("disband", err)
	return err
}

func (s *StudyGroupService) delete(ctx context.Context, p model.Principal, groupID string) error {
	g, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if rej := membership.Disband(g, p.UserID); rej != nil {
		return rej
	}
	if err := s.store.DeleteStudyGroup(ctx, groupID); err != nil {
		return notFound(err, apperr.ErrStudyGroupNotFound, "studyGroup.Delete")
	}
	s.events.emit(ctx, ws.ClassRoom(g.ClassID), ws.EventGroupDeleted, g.ID)
	return nil
}
