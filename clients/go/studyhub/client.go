// Package studyhub provides a Go client for the studyhub API and event stream.
package studyhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyhub/internal/model"
)

// Client is a studyhub REST client. Token is a principal token sent as a bearer credential.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL (for example http://localhost:8080).
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response. Code carries the server's reason code (GroupFull, ChatLeft, ...).
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("studyhub %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("studyhub %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func esc(id string) string { return url.PathEscape(id) }

// Me returns the caller's profile with their university.
func (c *Client) Me(ctx context.Context) (*model.Profile, error) {
	var out struct {
		User *model.Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Universities lists all universities. No token required.
func (c *Client) Universities(ctx context.Context) ([]model.University, error) {
	var out []model.University
	err := c.do(ctx, http.MethodGet, "/api/universities", nil, &out)
	return out, err
}

// University returns a university with its classes.
func (c *Client) University(ctx context.Context, id string) (*model.UniversityWithClasses, error) {
	var out model.UniversityWithClasses
	if err := c.do(ctx, http.MethodGet, "/api/universities/"+esc(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Class returns a class with its study groups.
func (c *Client) Class(ctx context.Context, id string) (*model.ClassWithGroups, error) {
	var out model.ClassWithGroups
	if err := c.do(ctx, http.MethodGet, "/api/classes/"+esc(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateClass creates a class in the caller's university.
func (c *Client) CreateClass(ctx context.Context, name, code, description string) (*model.Class, error) {
	var out model.Class
	in := map[string]string{"name": name, "code": code, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/classes", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteClass deletes a class the caller created.
func (c *Client) DeleteClass(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/classes/"+esc(id), nil, nil)
}

// CreateGroupInput mirrors the create request; nil MaxMembers means the server default.
type CreateGroupInput struct {
	Name        string `json:"name"`
	ClassID     string `json:"classId"`
	Description string `json:"description,omitempty"`
	MaxMembers  *int   `json:"maxMembers,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// CreateStudyGroup creates a study group; private groups come back with their invite code.
func (c *Client) CreateStudyGroup(ctx context.Context, in CreateGroupInput) (*model.StudyGroup, error) {
	var out model.StudyGroup
	if err := c.do(ctx, http.MethodPost, "/api/study-groups", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StudyGroup returns a study group as the caller may see it.
func (c *Client) StudyGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	var out model.StudyGroup
	if err := c.do(ctx, http.MethodGet, "/api/study-groups/"+esc(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StudyGroupsByClass lists a class's groups, newest first.
func (c *Client) StudyGroupsByClass(ctx context.Context, classID string) ([]model.StudyGroup, error) {
	var out []model.StudyGroup
	err := c.do(ctx, http.MethodGet, "/api/study-groups/class/"+esc(classID), nil, &out)
	return out, err
}

// JoinStudyGroup joins a group. Invite codes are uppercased here; the server compares them exactly.
func (c *Client) JoinStudyGroup(ctx context.Context, id, inviteCode string) (*model.StudyGroup, error) {
	var out model.StudyGroup
	in := map[string]string{}
	if code := strings.ToUpper(strings.TrimSpace(inviteCode)); code != "" {
		in["inviteCode"] = code
	}
	if err := c.do(ctx, http.MethodPost, "/api/study-groups/"+esc(id)+"/join", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LeaveStudyGroup leaves a group and returns its updated public snapshot.
func (c *Client) LeaveStudyGroup(ctx context.Context, id string) (*model.StudyGroup, error) {
	var out struct {
		StudyGroup *model.StudyGroup `json:"studyGroup"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/study-groups/"+esc(id)+"/leave", nil, &out); err != nil {
		return nil, err
	}
	return out.StudyGroup, nil
}

// UpdateGroupInput: nil fields are left unchanged.
type UpdateGroupInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	MaxMembers  *int    `json:"maxMembers,omitempty"`
}

// UpdateStudyGroup edits a group the caller created.
func (c *Client) UpdateStudyGroup(ctx context.Context, id string, in UpdateGroupInput) (*model.StudyGroup, error) {
	var out model.StudyGroup
	if err := c.do(ctx, http.MethodPut, "/api/study-groups/"+esc(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStudyGroup disbands a group the caller created.
func (c *Client) DeleteStudyGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/study-groups/"+esc(id), nil, nil)
}

// ChatScope selects class or study group chat endpoints.
type ChatScope string

const (
	ScopeClass      ChatScope = "class"
	ScopeStudyGroup ChatScope = "study-group"
)

// Chat fetches a chat with all its messages.
func (c *Client) Chat(ctx context.Context, scope ChatScope, id string) (*model.ChatView, error) {
	var out struct {
		Chat *model.ChatView `json:"chat"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/"+string(scope)+"/"+esc(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Chat, nil
}

// Post sends a chat message and returns it as stored.
func (c *Client) Post(ctx context.Context, scope ChatScope, id, text string) (*model.ChatMessage, error) {
	var out struct {
		Message *model.ChatMessage `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/"+string(scope)+"/"+esc(id), map[string]string{"message": text}, &out); err != nil {
		return nil, err
	}
	return out.Message, nil
}

// LeaveClassChat opts out of a class chat. Repeating it is harmless.
func (c *Client) LeaveClassChat(ctx context.Context, classID string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/class/"+esc(classID)+"/leave", nil, nil)
}

// RejoinClassChat reverses LeaveClassChat.
func (c *Client) RejoinClassChat(ctx context.Context, classID string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/class/"+esc(classID)+"/rejoin", nil, nil)
}
