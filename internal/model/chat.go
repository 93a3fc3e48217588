package model

import "time"

// ChatScope: к чему привязан чат.
type ChatScope string

const (
	ChatScopeClass      ChatScope = "class"
	ChatScopeStudyGroup ChatScope = "studyGroup"
)

// Valid: хранилища отвергают чаты с другим scope.
func (s ChatScope) Valid() bool {
	return s == ChatScopeClass || s == ChatScopeStudyGroup
}

// Chat: один на пару (scope, ownerId); создаётся лениво. Messages упорядочены от старых к новым.
type Chat struct {
	ID        string        `json:"id"`
	Scope     ChatScope     `json:"scope"`
	OwnerID   string        `json:"ownerId"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ChatMessage неизменяемо после добавления; id нужен клиенту для дедупликации.
// Seq назначает хранилище при добавлении: порядок по Seq и есть порядок чата.
type ChatMessage struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatView: ответ GET /api/chat/...; HasLeftChat заполняется только для чата класса.
type ChatView struct {
	ID          string        `json:"id"`
	Messages    []ChatMessage `json:"messages"`
	HasLeftChat *bool         `json:"hasLeftChat,omitempty"`
}
