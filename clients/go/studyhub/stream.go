package studyhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is a frame pushed by the server.
type Event struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Room kinds accepted by Stream.Join and Stream.Leave.
const (
	RoomUniversity = "university"
	RoomClass      = "class"
	RoomStudyGroup = "study-group"
)

// Stream is a live event connection. Events are delivered in arrival order.
type Stream struct {
	conn   *websocket.Conn
	events chan Event

	mu  sync.Mutex
	err error

	writeMu sync.Mutex
	once    sync.Once
}

// Connect opens the event stream. The token travels in the query string since
// browsers cannot set headers on websocket upgrades; the server accepts both.
func (c *Client) Connect(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	s := &Stream{conn: conn, events: make(chan Event, 64)}
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		s.events <- ev
	}
}

// Events returns the channel of pushed frames; it is closed when the connection ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) send(typ, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]string{"type": typ, "id": id})
}

// Join subscribes to a room, e.g. Join(RoomClass, classID). The server acks with "subscribed".
func (s *Stream) Join(kind, id string) error { return s.send("join-"+kind, id) }

// Leave unsubscribes from a room.
func (s *Stream) Leave(kind, id string) error { return s.send("leave-"+kind, id) }

// Close closes the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
