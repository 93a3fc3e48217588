package ws

import (
	"strings"

	"github.com/studyhub/internal/model"
)

type EventType string

// События, которые сервер рассылает в комнаты.
const (
	EventGroupCreated EventType = "group-created"
	EventGroupUpdated EventType = "group-updated"
	EventGroupDeleted EventType = "group-deleted"
	EventClassCreated EventType = "class-created"
	EventClassDeleted EventType = "class-deleted"
	EventChatMessage  EventType = "chat-message"
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
	EventError        EventType = "error"
)

// Команды подписки от клиента.
const (
	CmdJoinUniversity  = "join-university"
	CmdJoinClass       = "join-class"
	CmdJoinStudyGroup  = "join-study-group"
	CmdLeaveUniversity = "leave-university"
	CmdLeaveClass      = "leave-class"
	CmdLeaveStudyGroup = "leave-study-group"
)

// RoomKind: тип комнаты.
type RoomKind string

const (
	RoomUniversity RoomKind = "university"
	RoomClass      RoomKind = "class"
	RoomStudyGroup RoomKind = "studyGroup"
)

// Room: адрес комнаты вида "class:{id}".
type Room string

func UniversityRoom(id string) Room { return Room(string(RoomUniversity) + ":" + id) }
func ClassRoom(id string) Room      { return Room(string(RoomClass) + ":" + id) }
func StudyGroupRoom(id string) Room { return Room(string(RoomStudyGroup) + ":" + id) }

// Parse разбирает адрес комнаты на тип и id.
func (r Room) Parse() (RoomKind, string, bool) {
	kind, id, ok := strings.Cut(string(r), ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch RoomKind(kind) {
	case RoomUniversity, RoomClass, RoomStudyGroup:
		return RoomKind(kind), id, true
	}
	return "", "", false
}

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// command возвращает комнату и признак подписки (true) или отписки (false).
func (m IncomingMessage) command() (Room, bool, bool) {
	if m.ID == "" {
		return "", false, false
	}
	switch m.Type {
	case CmdJoinUniversity:
		return UniversityRoom(m.ID), true, true
	case CmdJoinClass:
		return ClassRoom(m.ID), true, true
	case CmdJoinStudyGroup:
		return StudyGroupRoom(m.ID), true, true
	case CmdLeaveUniversity:
		return UniversityRoom(m.ID), false, true
	case CmdLeaveClass:
		return ClassRoom(m.ID), false, true
	case CmdLeaveStudyGroup:
		return StudyGroupRoom(m.ID), false, true
	}
	return "", false, false
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Room    Room      `json:"room,omitempty"`
	Payload any       `json:"payload"`
}

// ChatMessagePayload рассылается при новом сообщении в чате.
// Для group-deleted и class-deleted payload: просто id.
type ChatMessagePayload struct {
	ChatID  string            `json:"chatId"`
	Message model.ChatMessage `json:"message"`
}
