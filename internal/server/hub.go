package server

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/store"
	"go.uber.org/zap"
)

// ConnLike is the subset of the websocket connection the hub writes to.
// Tests substitute an in-memory implementation.
type ConnLike interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one authenticated live connection. One per user; a newer
// connection for the same user supersedes the old one.
type Session struct {
	UserID string

	conn   ConnLike
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSession wraps an authenticated connection.
func NewSession(userID string, conn ConnLike) *Session {
	return &Session{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
	}
}

// WritePump drains the send queue onto the socket. Runs until Close.
func (s *Session) WritePump() {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Close shuts the session's socket and queue down. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.mu.Unlock()
	_ = s.conn.Close()
}

// enqueue is a non-blocking send; a session that cannot keep up loses
// frames rather than stalling the hub.
func (s *Session) enqueue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// Hub routes envelopes between live sessions and the durable store. Delivery
// is at-least-once: persistence failures are logged and delivery still
// proceeds, clients merge idempotently.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	db     *store.DB
	logger *zap.Logger
}

func NewHub(db *store.DB, logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		db:       db,
		logger:   logger,
	}
}

// Register installs a user's live session, superseding any previous one,
// then sends the online snapshot to the newcomer and announces them.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	if old := h.sessions[s.UserID]; old != nil {
		old.Close()
	}
	h.sessions[s.UserID] = s
	snapshot := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		if id != s.UserID {
			snapshot = append(snapshot, id)
		}
	}
	h.mu.Unlock()

	// The newcomer's own presence doubles as the auth confirmation frame;
	// the client treats the first post-auth frame as connection established.
	if frame, err := presenceFrame(s.UserID, true); err == nil {
		s.enqueue(frame)
	}
	for _, id := range snapshot {
		if frame, err := presenceFrame(id, true); err == nil {
			s.enqueue(frame)
		}
	}
	h.broadcastPresence(s.UserID, true)
	h.logger.Info("session registered", zap.String("user", s.UserID))
}

// Unregister removes a session on disconnect. A session superseded by a
// newer one for the same user does not broadcast offline.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	current := h.sessions[s.UserID] == s
	if current {
		delete(h.sessions, s.UserID)
	}
	h.mu.Unlock()

	s.Close()
	if !current {
		return
	}
	h.broadcastPresence(s.UserID, false)
	h.logger.Info("session unregistered", zap.String("user", s.UserID))
}

// HandleMessage ingests one client-sent message: assign the server id and
// timestamp, persist, deliver to the recipient, ack and echo to the sender.
func (h *Hub) HandleMessage(senderID string, m *protocol.Message) {
	m.SenderID = senderID
	m.MessageID = uuid.NewString()
	m.Timestamp = time.Now().UnixMilli()
	m.Status = protocol.StatusDelivered
	if m.Kind == "" {
		m.Kind = "text"
	}
	if m.RecipientID == "" || m.RecipientID == senderID {
		h.logger.Warn("dropping message with bad recipient",
			zap.String("sender", senderID), zap.String("recipient", m.RecipientID))
		return
	}

	if _, err := h.db.RecordMessage(&store.Message{
		MsgID:       m.MessageID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}); err != nil {
		// At-least-once: keep delivering even when the disk write failed.
		h.logger.Error("persist message failed",
			zap.String("msg_id", m.MessageID), zap.Error(err))
	}

	// The recipient never sees the sender's provisional id.
	out := *m
	out.ClientID = ""
	if frame, err := protocol.Encode(protocol.TypeMessage, &out); err == nil {
		if rcpt := h.session(m.RecipientID); rcpt != nil {
			rcpt.enqueue(frame)
		}
	}

	snd := h.session(senderID)
	if snd == nil {
		return
	}
	if frame, err := protocol.Encode(protocol.TypeAck, &protocol.Ack{
		ClientID:  m.ClientID,
		MessageID: m.MessageID,
		Timestamp: m.Timestamp,
	}); err == nil {
		snd.enqueue(frame)
	}
	// Echo keeps the sender's surfaces converged; ClientID stays so the
	// provisional entry is promoted in place.
	if frame, err := protocol.Encode(protocol.TypeMessage, m); err == nil {
		snd.enqueue(frame)
	}
}

// HandleCursor applies a client's attention signal: zero the durable unread
// counter for that conversation pair on the sender's side.
func (h *Hub) HandleCursor(userID string, cur *protocol.Cursor) {
	if cur.ChatWith == "" {
		return
	}
	if err := h.db.MarkSeen(userID, cur.ChatWith); err != nil {
		h.logger.Error("mark seen failed",
			zap.String("user", userID), zap.String("other", cur.ChatWith), zap.Error(err))
	}
}

// OnlineUsers returns the ids with a live session.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

func (h *Hub) session(userID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[userID]
}

func (h *Hub) broadcastPresence(userID string, online bool) {
	frame, err := presenceFrame(userID, online)
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id != userID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(frame)
	}
}

func presenceFrame(userID string, online bool) ([]byte, error) {
	return protocol.Encode(protocol.TypePresence, &protocol.Presence{
		UserID:    userID,
		Online:    protocol.Bool(online),
		Timestamp: time.Now().UnixMilli(),
	})
}
