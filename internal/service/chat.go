package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/studyhub/internal/apperr"
	"github.com/studyhub/internal/chatgate"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/metrics"
	"github.com/studyhub/internal/model"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/ws"
)

type ChatService struct {
	store  storage.Store
	events *emitter
	gate   *chatgate.Gate
	now    func() time.Time
}

func (s *ChatService) getClass(ctx context.Context, id string) (*model.Class, error) {
	c, err := s.store.GetClass(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrClassNotFound, "chat.getClass")
	}
	return c, nil
}

func (s *ChatService) getGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	g, err := s.store.GetStudyGroup(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.ErrStudyGroupNotFound, "chat.getGroup")
	}
	return g, nil
}

func (s *ChatService) view(ctx context.Context, scope model.ChatScope, ownerID string) (*model.ChatView, error) {
	chat, err := s.store.GetOrCreateChat(ctx, scope, ownerID)
	if err != nil {
		return nil, fmt.Errorf("chat.view %s/%s: %w", scope, ownerID, err)
	}
	msgs := chat.Messages
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return &model.ChatView{ID: chat.ID, Messages: msgs}, nil
}

// ClassChat возвращает чат класса. Покинувший чат видит историю и hasLeftChat=true.
func (s *ChatService) ClassChat(ctx context.Context, p model.Principal, classID string) (*model.ChatView, error) {
	defer logger.DeferLogDuration("chat.ClassChat", time.Now())()
	c, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if rej := s.gate.CanReadClass(p, c); rej != nil {
		return nil, rej
	}
	v, err := s.view(ctx, model.ChatScopeClass, classID)
	if err != nil {
		return nil, err
	}
	left := c.HasOptedOut(p.UserID)
	v.HasLeftChat = &left
	return v, nil
}

// StudyGroupChat возвращает чат группы; только участникам.
func (s *ChatService) StudyGroupChat(ctx context.Context, p model.Principal, groupID string) (*model.ChatView, error) {
	defer logger.DeferLogDuration("chat.StudyGroupChat", time.Now())()
	g, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if rej := s.gate.CanReadGroup(p, g); rej != nil {
		return nil, rej
	}
	return s.view(ctx, model.ChatScopeStudyGroup, groupID)
}

// PostToClass добавляет сообщение в чат класса и рассылает его в комнату класса.
func (s *ChatService) PostToClass(ctx context.Context, p model.Principal, classID, text string) (*model.ChatMessage, error) {
	defer logger.DeferLogDuration("chat.PostToClass", time.Now())()
	text, rej := s.gate.ValidateMessage(text)
	if rej != nil {
		return nil, rej
	}
	c, err := s.getClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if rej := s.gate.CanPostClass(p, c); rej != nil {
		return nil, rej
	}
	return s.post(ctx, p, model.ChatScopeClass, classID, ws.ClassRoom(classID), text)
}

// PostToStudyGroup добавляет сообщение в чат группы и рассылает его в комнату группы.
func (s *ChatService) PostToStudyGroup(ctx context.Context, p model.Principal, groupID, text string) (*model.ChatMessage, error) {
	defer logger.DeferLogDuration("chat.PostToStudyGroup", time.Now())()
	text, rej := s.gate.ValidateMessage(text)
	if rej != nil {
		return nil, rej
	}
	g, err := s.getGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if rej := s.gate.CanPostGroup(p, g); rej != nil {
		return nil, rej
	}
	return s.post(ctx, p, model.ChatScopeStudyGroup, groupID, ws.StudyGroupRoom(groupID), text)
}

func (s *ChatService) post(ctx context.Context, p model.Principal, scope model.ChatScope, ownerID string, room ws.Room, text string) (*model.ChatMessage, error) {
	now := s.now()
	msg := model.ChatMessage{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Author:    p.UserID,
		Text:      text,
		Timestamp: now,
	}
	chatID, seq, err := s.store.AppendMessage(ctx, scope, ownerID, msg)
	if err != nil {
		return nil, fmt.Errorf("chat.post %s/%s: %w", scope, ownerID, err)
	}
	msg.Seq = seq
	metrics.ChatMessagesPosted.WithLabelValues(string(scope)).Inc()
	s.events.emit(ctx, room, ws.EventChatMessage, ws.ChatMessagePayload{ChatID: chatID, Message: msg})
	return &msg, nil
}

// LeaveClassChat отключает пользователя от чата класса. Повторный вызов ничего не меняет.
// Членство в группах и их чатах не затрагивается.
func (s *ChatService) LeaveClassChat(ctx context.Context, p model.Principal, classID string) error {
	return s.toggleClassChat(ctx, p, classID, true)
}

// RejoinClassChat возвращает пользователя в чат класса. Идемпотентно.
func (s *ChatService) RejoinClassChat(ctx context.Context, p model.Principal, classID string) error {
	return s.toggleClassChat(ctx, p, classID, false)
}

func (s *ChatService) toggleClassChat(ctx context.Context, p model.Principal, classID string, optOut bool) error {
	c, err := s.getClass(ctx, classID)
	if err != nil {
		return err
	}
	if rej := s.gate.CanToggleClassChat(p, c); rej != nil {
		return rej
	}
	if _, err := s.store.SetClassChatOptOut(ctx, classID, p.UserID, optOut); err != nil {
		return notFound(err, apperr.ErrClassNotFound, "chat.toggleClassChat")
	}
	return nil
}
