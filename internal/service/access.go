package service

import (
	"context"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/ws"
)

// RoomAccess проверяет подписку на комнаты, если включён WS_ENFORCE_ROOM_ACCESS:
// комнаты университета и класса доступны пользователям этого университета,
// комната группы доступна только её участникам.
type RoomAccess struct {
	store storage.Store
}

func NewRoomAccess(store storage.Store) *RoomAccess {
	return &RoomAccess{store: store}
}

var errRoomForbidden = apperr.Forbidden("You cannot subscribe to this room")

func (a *RoomAccess) AuthorizeSubscribe(ctx context.Context, p model.Principal, room ws.Room) error {
	kind, id, ok := room.Parse()
	if !ok {
		return apperr.Validation("Unknown room")
	}
	switch kind {
	case ws.RoomUniversity:
		if p.UniversityID != id {
			return errRoomForbidden
		}
	case ws.RoomClass:
		c, err := a.store.GetClass(ctx, id)
		if err != nil {
			return notFound(err, apperr.ErrClassNotFound, "access.class")
		}
		if !p.InClass(c) {
			return errRoomForbidden
		}
	case ws.RoomStudyGroup:
		g, err := a.store.GetStudyGroup(ctx, id)
		if err != nil {
			return notFound(err, apperr.ErrStudyGroupNotFound, "access.studyGroup")
		}
		if !g.HasMember(p.UserID) {
			return errRoomForbidden
		}
	}
	return nil
}
