package msgstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/transport"
	"go.uber.org/zap"
)

// Sender is the transport's send contract: fail fast, no queueing.
type Sender interface {
	Send(t protocol.EnvelopeType, payload any) error
}

// SeenSink receives the seen signal when a conversation's messages are read.
// The presence aggregator implements it.
type SeenSink interface {
	MarkConversationSeen(otherUserID string)
}

// Message is one entry in a conversation log. ID is the server message id
// once confirmed; while Provisional it holds the locally generated id.
// Immutable after confirmation except for IsRead.
type Message struct {
	ID          string
	Provisional bool
	SenderID    string
	RecipientID string
	Content     string
	Timestamp   int64
	IsRead      bool
	Status      protocol.MessageStatus
}

// Store maintains per-conversation ordered, deduplicated message logs,
// merging optimistic local sends with server-confirmed deliveries. All
// mutations are synchronous and in-memory; nothing here is durable.
type Store struct {
	mu     sync.RWMutex
	selfID string
	logs   map[string][]Message       // other user id -> ordered log
	index  map[string]map[string]int  // other user id -> message id -> position
	client map[string]string          // provisional client id -> other user id

	sender Sender
	seen   SeenSink
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates an empty message store for the given local user.
func New(selfID string, sender Sender, seen SeenSink, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		selfID: selfID,
		logs:   make(map[string][]Message),
		index:  make(map[string]map[string]int),
		client: make(map[string]string),
		sender: sender,
		seen:   seen,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound transport events on the bus. Frames are
// processed in the order the bus delivers them, matching socket order.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("conn.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				s.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Store) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboundMessage:
		msg, ok := evt.Payload.(*protocol.Message)
		if !ok {
			return
		}
		s.Ingest(msg)
	case bus.KindInboundAck:
		ack, ok := evt.Payload.(*protocol.Ack)
		if !ok {
			return
		}
		s.Acknowledge(ack)
	}
}

// Ingest merges one delivered message into its conversation log. The merge
// is idempotent: a duplicate id updates status at most, an echo of a
// provisional send replaces it in place, anything else appends. Ordering is
// insertion order; the store never re-sorts by timestamp.
func (s *Store) Ingest(m *protocol.Message) {
	conv := s.counterpart(m)
	if conv == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.ensureIndex(conv)

	// Echo of an optimistic send: the server's copy carries the client id
	// it was sent with. Promote the provisional entry in place.
	if m.ClientID != "" && m.MessageID != "" {
		if pos, ok := idx[m.ClientID]; ok {
			s.promoteLocked(conv, pos, m.ClientID, m.MessageID, m.Timestamp)
			s.emitUpdate(conv)
			return
		}
	}

	key := m.MessageID
	provisional := false
	if key == "" {
		key = m.ClientID
		provisional = true
	}
	if key == "" {
		s.logger.Warn("dropping message without any id", zap.String("conversation", conv))
		return
	}

	if pos, ok := idx[key]; ok {
		// Duplicate delivery (e.g. across a reconnect). Keep the most
		// server-authoritative status; everything else is already final.
		if statusRank(m.Status) > statusRank(s.logs[conv][pos].Status) {
			s.logs[conv][pos].Status = m.Status
			s.emitUpdate(conv)
		}
		return
	}

	status := m.Status
	if status == "" {
		status = protocol.StatusDelivered
	}
	entry := Message{
		ID:          key,
		Provisional: provisional,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Status:      status,
	}
	idx[key] = len(s.logs[conv])
	s.logs[conv] = append(s.logs[conv], entry)
	s.emitUpdate(conv)
}

// SendText performs an optimistic send: transport first, then the
// provisional record. A rejected send (not connected) is recorded as a
// failed entry; the store never retries on its own.
func (s *Store) SendText(otherUserID, content string) (string, error) {
	clientID := uuid.NewString()
	now := time.Now().UnixMilli()

	env := protocol.Message{
		ClientID:    clientID,
		SenderID:    s.selfID,
		RecipientID: otherUserID,
		Content:     content,
		Timestamp:   now,
		Kind:        "text",
		Status:      protocol.StatusSending,
	}

	sendErr := s.sender.Send(protocol.TypeMessage, env)

	status := protocol.StatusSending
	if sendErr != nil {
		if !errors.Is(sendErr, transport.ErrNotConnected) {
			return "", sendErr
		}
		status = protocol.StatusFailed
	}

	s.mu.Lock()
	idx := s.ensureIndex(otherUserID)
	idx[clientID] = len(s.logs[otherUserID])
	s.logs[otherUserID] = append(s.logs[otherUserID], Message{
		ID:          clientID,
		Provisional: true,
		SenderID:    s.selfID,
		RecipientID: otherUserID,
		Content:     content,
		Timestamp:   now,
		IsRead:      true, // own messages are never unread
		Status:      status,
	})
	s.client[clientID] = otherUserID
	s.mu.Unlock()

	s.emitUpdate(otherUserID)
	return clientID, sendErr
}

// Acknowledge promotes the provisional entry named by the ack to its
// server-confirmed identity, preserving list position.
func (s *Store) Acknowledge(a *protocol.Ack) {
	if a.ClientID == "" || a.MessageID == "" {
		return
	}
	s.mu.Lock()
	conv, ok := s.client[a.ClientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos, ok := s.index[conv][a.ClientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.promoteLocked(conv, pos, a.ClientID, a.MessageID, a.Timestamp)
	s.mu.Unlock()

	s.emitUpdate(conv)
}

// MarkConversationRead flips every loaded message in the conversation to
// read and issues the seen signal. Idempotent; reopening a read
// conversation is a no-op.
func (s *Store) MarkConversationRead(otherUserID string) {
	s.mu.Lock()
	log := s.logs[otherUserID]
	for i := range log {
		log[i].IsRead = true
	}
	s.mu.Unlock()

	if s.seen != nil {
		s.seen.MarkConversationSeen(otherUserID)
	}
}

// SeedHistory merges a REST-fetched history page (chronological order) in
// front of whatever the log already holds. Messages already present by id
// are skipped, so re-fetching after a reconnect cannot duplicate.
func (s *Store) SeedHistory(otherUserID string, page []protocol.Message) {
	s.mu.Lock()
	idx := s.ensureIndex(otherUserID)

	var fresh []Message
	for _, m := range page {
		if m.MessageID == "" {
			continue
		}
		if _, ok := idx[m.MessageID]; ok {
			continue
		}
		status := m.Status
		if status == "" {
			status = protocol.StatusDelivered
		}
		fresh = append(fresh, Message{
			ID:          m.MessageID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			Status:      status,
		})
	}
	if len(fresh) > 0 {
		s.logs[otherUserID] = append(fresh, s.logs[otherUserID]...)
		s.reindexLocked(otherUserID)
	}
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.emitUpdate(otherUserID)
	}
}

// Messages returns a snapshot of the conversation log in display order.
func (s *Store) Messages(otherUserID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[otherUserID]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Conversations returns the ids of every counterparty with a loaded log.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for id := range s.logs {
		out = append(out, id)
	}
	return out
}

// Reset discards all in-memory logs. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.logs = make(map[string][]Message)
	s.index = make(map[string]map[string]int)
	s.client = make(map[string]string)
	s.mu.Unlock()
}

// promoteLocked swaps a provisional entry to its confirmed identity in
// place. Caller holds s.mu.
func (s *Store) promoteLocked(conv string, pos int, clientID, serverID string, ts int64) {
	entry := &s.logs[conv][pos]
	delete(s.index[conv], clientID)
	delete(s.client, clientID)
	entry.ID = serverID
	entry.Provisional = false
	if statusRank(protocol.StatusDelivered) > statusRank(entry.Status) {
		entry.Status = protocol.StatusDelivered
	}
	if ts > 0 {
		entry.Timestamp = ts
	}
	s.index[conv][serverID] = pos
}

func (s *Store) ensureIndex(conv string) map[string]int {
	if _, ok := s.index[conv]; !ok {
		s.index[conv] = make(map[string]int)
	}
	return s.index[conv]
}

func (s *Store) reindexLocked(conv string) {
	idx := make(map[string]int, len(s.logs[conv]))
	for i, m := range s.logs[conv] {
		idx[m.ID] = i
	}
	s.index[conv] = idx
}

// counterpart resolves which conversation a message belongs to.
func (s *Store) counterpart(m *protocol.Message) string {
	if m.SenderID == s.selfID {
		return m.RecipientID
	}
	return m.SenderID
}

// emitUpdate is safe to call with or without s.mu held: bus delivery is
// channel-buffered and never re-enters the store.
func (s *Store) emitUpdate(conv string) {
	s.bus.Emit(bus.KindMessageUpdated, conv)
}

// statusRank orders statuses by server authority.
func statusRank(st protocol.MessageStatus) int {
	switch st {
	case protocol.StatusDelivered:
		return 2
	case protocol.StatusSending:
		return 1
	default:
		return 0
	}
}
