package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/ws"
)

const (
	MsgClassNameCodeRequired = "Name and code are required"
	MsgUniversityRequired    = "Your account is not linked to a university"
	MsgClassExists           = "Class already exists for this university"
	MsgOnlyCreatorClass      = "You can only delete classes you created"
)

type ClassService struct {
	store  storage.Store
	events *emitter
	now    func() time.Time
}

type CreateClassInput struct {
	Name        string
	Code        string
	Description string
}

func (s *ClassService) ListByUniversity(ctx context.Context, universityID string) ([]model.Class, error) {
	list, err := s.store.ListClassesByUniversity(ctx, universityID)
	if err != nil {
		return nil, fmt.Errorf("class.ListByUniversity: %w", err)
	}
	return list, nil
}

// Get возвращает класс с его группами; коды приглашений видны только участникам групп.
func (s *ClassService) Get(ctx context.Context, p model.Principal, id string) (*model.ClassWithGroups, error) {
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrClassNotFound, "class.Get")
	}
	groups, err := s.store.ListStudyGroupsByClass(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("class.Get: %w", err)
	}
	return &model.ClassWithGroups{Class: *c, StudyGroups: viewsFor(groups, p.UserID)}, nil
}

// Create создаёт класс в университете пользователя. Код приводится к верхнему регистру.
func (s *ClassService) Create(ctx context.Context, p model.Principal, in CreateClassInput) (*model.Class, error) {
	defer logger.DeferLogDuration("class.Create", time.Now())()
	name := strings.TrimSpace(in.Name)
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if name == "" || code == "" {
		return nil, apperr.Validation(MsgClassNameCodeRequired)
	}
	if p.UniversityID == "" {
		return nil, apperr.Validation(MsgUniversityRequired)
	}
	c := &model.Class{
		ID:                  uuid.NewString(),
		Name:                name,
		Code:                code,
		UniversityID:        p.UniversityID,
		CreatedBy:           p.UserID,
		Description:         strings.TrimSpace(in.Description),
		StudyGroupIDs:       []string{},
		UsersOptedOutOfChat: []string{},
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateClass(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict(apperr.CodeDuplicateClass, MsgClassExists)
		}
		return nil, fmt.Errorf("class.Create: %w", err)
	}
	s.events.emit(ctx, ws.UniversityRoom(c.UniversityID), ws.EventClassCreated, c)
	return c, nil
}

// Delete удаляет класс со всеми группами и чатами. Только создатель.
// Рассылается одно событие class-deleted; отдельные group-deleted не отправляются.
func (s *ClassService) Delete(ctx context.Context, p model.Principal, id string) error {
	defer logger.DeferLogDuration("class.Delete", time.Now())()
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return notFound(err, apperr.ErrClassNotFound, "class.Delete")
	}
	if c.CreatedBy != p.UserID {
		return apperr.Forbidden(MsgOnlyCreatorClass)
	}
	groupIDs, err := s.store.DeleteClass(ctx, id)
	if err != nil {
		return notFound(err, apperr.ErrClassNotFound, "class.Delete")
	}
	logger.Infof("class.Delete: класс %s удалён вместе с %d групп(ами)", id, len(groupIDs))
	s.events.emit(ctx, ws.UniversityRoom(c.UniversityID), ws.EventClassDeleted, c.ID)
	return nil
}
