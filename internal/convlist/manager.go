package convlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/protocol"
	"go.uber.org/zap"
)

// placeholderPreview is shown for a chat started from user search before
// any message exists.
const placeholderPreview = "Start a conversation"

// UnreadSource provides displayed unread counts. The manager never computes
// its own; it reads through the presence aggregator.
type UnreadSource interface {
	UnreadCount(otherUserID string) int
}

// Conversation is one derived list entry keyed by the counterparty.
type Conversation struct {
	OtherUserID   string
	OtherUserName string
	LastMessage   string
	LastTimestamp int64
	UnreadCount   int
	IsLastFromMe  bool
}

// Manager merges the durable conversation seed with live message deltas and
// produces the most-recently-active-first list the UI renders.
type Manager struct {
	mu      sync.RWMutex
	selfID  string
	entries []Conversation

	unread UnreadSource
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates an empty manager for the given local user.
func New(selfID string, unread UnreadSource, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		selfID: selfID,
		unread: unread,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to live message deltas.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe(bus.KindInboundMessage, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				msg, ok := evt.Payload.(*protocol.Message)
				if !ok {
					continue
				}
				m.ApplyMessage(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Seed loads the one-time REST fetch. Entries already present from live
// traffic or StartChat keep their fresher preview; the seed fills in names
// and historical conversations. The result is re-sorted by recency.
func (m *Manager) Seed(convs []Conversation) {
	m.mu.Lock()
	for _, c := range convs {
		if pos, ok := m.findLocked(c.OtherUserID); ok {
			existing := &m.entries[pos]
			if existing.OtherUserName == "" {
				existing.OtherUserName = c.OtherUserName
			}
			if c.LastTimestamp > existing.LastTimestamp {
				existing.LastMessage = c.LastMessage
				existing.LastTimestamp = c.LastTimestamp
				existing.IsLastFromMe = c.IsLastFromMe
			}
			continue
		}
		m.entries = append(m.entries, c)
	}
	m.sortLocked()
	m.mu.Unlock()

	m.bus.Emit(bus.KindConversationUpdated, "")
}

// ApplyMessage folds one message event (local or remote) into the list:
// unknown counterparties get a synthesized entry, known ones get their
// preview updated, and the list is re-sorted by recency.
func (m *Manager) ApplyMessage(msg *protocol.Message) {
	other := msg.SenderID
	fromMe := false
	if msg.SenderID == m.selfID {
		other = msg.RecipientID
		fromMe = true
	}
	if other == "" || other == m.selfID {
		return
	}

	m.mu.Lock()
	pos, ok := m.findLocked(other)
	if !ok {
		m.entries = append(m.entries, Conversation{OtherUserID: other})
		pos = len(m.entries) - 1
	}
	e := &m.entries[pos]
	e.LastMessage = msg.Content
	e.IsLastFromMe = fromMe
	if msg.Timestamp > 0 {
		e.LastTimestamp = msg.Timestamp
	} else {
		e.LastTimestamp = time.Now().UnixMilli()
	}
	m.sortLocked()
	m.mu.Unlock()

	m.bus.Emit(bus.KindConversationUpdated, other)
}

// StartChat inserts a placeholder entry at the head of the list for a chat
// with no history yet. A UI affordance, not a durable record.
func (m *Manager) StartChat(otherUserID, name string) {
	m.mu.Lock()
	if pos, ok := m.findLocked(otherUserID); ok {
		if m.entries[pos].OtherUserName == "" {
			m.entries[pos].OtherUserName = name
		}
		m.mu.Unlock()
		m.bus.Emit(bus.KindConversationUpdated, otherUserID)
		return
	}
	m.entries = append(m.entries, Conversation{
		OtherUserID:   otherUserID,
		OtherUserName: name,
		LastMessage:   placeholderPreview,
		LastTimestamp: time.Now().UnixMilli(),
	})
	m.sortLocked()
	m.mu.Unlock()

	m.bus.Emit(bus.KindConversationUpdated, otherUserID)
}

// DisplayName returns the best known name for a counterparty, falling
// back to the raw id.
func (m *Manager) DisplayName(otherUserID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.findLocked(otherUserID); ok && m.entries[pos].OtherUserName != "" {
		return m.entries[pos].OtherUserName
	}
	return otherUserID
}

// Remove deletes a conversation from the list. Terminal; only an explicit
// delete-chat action calls this.
func (m *Manager) Remove(otherUserID string) {
	m.mu.Lock()
	if pos, ok := m.findLocked(otherUserID); ok {
		m.entries = append(m.entries[:pos], m.entries[pos+1:]...)
	}
	m.mu.Unlock()

	m.bus.Emit(bus.KindConversationUpdated, otherUserID)
}

// List returns the ordered snapshot with unread counts read through the
// aggregator at snapshot time.
func (m *Manager) List() []Conversation {
	m.mu.RLock()
	out := make([]Conversation, len(m.entries))
	copy(out, m.entries)
	m.mu.RUnlock()

	if m.unread != nil {
		for i := range out {
			out[i].UnreadCount = m.unread.UnreadCount(out[i].OtherUserID)
		}
	}
	return out
}

// Reset discards the list. Called on logout.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}

func (m *Manager) findLocked(otherUserID string) (int, bool) {
	for i := range m.entries {
		if m.entries[i].OtherUserID == otherUserID {
			return i, true
		}
	}
	return 0, false
}

func (m *Manager) sortLocked() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].LastTimestamp > m.entries[j].LastTimestamp
	})
}
