package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
)

// UniversityService только читает: университеты создаёт сидер.
type UniversityService struct {
	store storage.Store
}

func (s *UniversityService) List(ctx context.Context) ([]model.University, error) {
	list, err := s.store.ListUniversities(ctx)
	if err != nil {
		return nil, fmt.Errorf("university.List: %w", err)
	}
	return list, nil
}

func (s *UniversityService) Get(ctx context.Context, id string) (*model.UniversityWithClasses, error) {
	u, err := s.store.GetUniversity(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrUniversityNotFound, "university.Get")
	}
	classes, err := s.store.ListClassesByUniversity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("university.Get: %w", err)
	}
	return &model.UniversityWithClasses{University: *u, Classes: classes}, nil
}

// Profile возвращает принципала вместе с его университетом. Университет nil,
// если аккаунт не привязан или университет удалён из справочника.
func (s *UniversityService) Profile(ctx context.Context, p model.Principal) (*model.Profile, error) {
	prof := &model.Profile{ID: p.UserID, Name: p.Name}
	if p.UniversityID == "" {
		return prof, nil
	}
	u, err := s.store.GetUniversity(ctx, p.UniversityID)
	switch {
	case err == nil:
		prof.University = u
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("university.Profile: %w", err)
	}
	return prof, nil
}
