package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley-core/internal/protocol"
)

const defaultWriteTimeout = 10 * time.Second

// Session is one client connection. It serializes all outbound writes, since
// the orchestrator and the ping path both target the same conn.
type Session struct {
	ID string

	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func NewSession(id string, conn *websocket.Conn) *Session {
	return &Session{ID: id, conn: conn, writeTimeout: defaultWriteTimeout}
}

// Event sends one structured frame as JSON text.
func (s *Session) Event(ev protocol.ServerEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

// Audio sends one raw PCM chunk as a binary frame.
func (s *Session) Audio(chunk []byte) error {
	return s.write(websocket.BinaryMessage, chunk)
}

func (s *Session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// Close sends a best-effort close frame and closes the conn.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}
