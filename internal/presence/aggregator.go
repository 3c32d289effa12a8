package presence

import (
	"context"
	"sync"

	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/nexobay/courier/internal/transport"
	"go.uber.org/zap"
)

// UnreadChange is the payload for unread.changed events.
type UnreadChange struct {
	OtherUserID string
	Count       int
}

// PresenceChange is the payload for presence.changed events.
type PresenceChange struct {
	UserID string
	Online bool
}

// Aggregator is the single source of truth for online state and unread
// counts. Every UI surface reads through it; no surface computes its own
// number. Presence is ephemeral and rebuilt on each connection session.
type Aggregator struct {
	mu         sync.RWMutex
	selfID     string
	online     map[string]bool
	unread     map[string]int
	activeChat string

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates an empty aggregator for the given local user.
func New(selfID string, b *bus.Bus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		selfID: selfID,
		online: make(map[string]bool),
		unread: make(map[string]int),
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to transport events: message envelopes drive unread
// counts, presence envelopes drive the online map, and a fresh Connected
// session clears stale presence before the snapshot repopulates it.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	ch, unsub := a.bus.Subscribe("conn.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Aggregator) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboundMessage:
		msg, ok := evt.Payload.(*protocol.Message)
		if !ok {
			return
		}
		a.observeMessage(msg)
	case bus.KindInboundPresence:
		p, ok := evt.Payload.(*protocol.Presence)
		if !ok || p.UserID == "" || p.Online == nil {
			return
		}
		a.SetOnline(p.UserID, *p.Online)
	case bus.KindStateChanged:
		change, ok := evt.Payload.(transport.StateChange)
		if !ok {
			return
		}
		if change.To == transport.Connected {
			a.clearPresence()
		}
	}
}

// observeMessage applies the unread increment rule: a remote message for
// the active conversation never raises its count and instead re-asserts the
// seen state; any other remote message increments its conversation.
func (a *Aggregator) observeMessage(m *protocol.Message) {
	if m.SenderID == a.selfID || m.SenderID == "" {
		return
	}
	conv := m.SenderID

	a.mu.Lock()
	if conv == a.activeChat {
		a.unread[conv] = 0
		a.mu.Unlock()
		a.bus.Emit(bus.KindUnreadChanged, UnreadChange{OtherUserID: conv, Count: 0})
		return
	}
	a.unread[conv]++
	count := a.unread[conv]
	a.mu.Unlock()

	a.bus.Emit(bus.KindUnreadChanged, UnreadChange{OtherUserID: conv, Count: count})
}

// SetActiveChat marks the conversation currently open in the UI and zeroes
// its counter. Pass "" when no conversation is open.
func (a *Aggregator) SetActiveChat(otherUserID string) {
	a.mu.Lock()
	a.activeChat = otherUserID
	a.mu.Unlock()

	if otherUserID != "" {
		a.MarkConversationSeen(otherUserID)
	}
}

// ActiveChat returns the conversation currently open in the UI, or "".
func (a *Aggregator) ActiveChat() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeChat
}

// MarkConversationSeen unconditionally resets a conversation's unread
// counter. Idempotent.
func (a *Aggregator) MarkConversationSeen(otherUserID string) {
	a.mu.Lock()
	a.unread[otherUserID] = 0
	a.mu.Unlock()

	a.bus.Emit(bus.KindUnreadChanged, UnreadChange{OtherUserID: otherUserID, Count: 0})
}

// SeedUnread primes a conversation's counter from the server's durable
// count. Live observations made before the seed arrives win, and the active
// conversation is never seeded above zero.
func (a *Aggregator) SeedUnread(otherUserID string, count int) {
	a.mu.Lock()
	if count <= 0 || otherUserID == a.activeChat {
		a.mu.Unlock()
		return
	}
	if _, seen := a.unread[otherUserID]; seen {
		a.mu.Unlock()
		return
	}
	a.unread[otherUserID] = count
	a.mu.Unlock()

	a.bus.Emit(bus.KindUnreadChanged, UnreadChange{OtherUserID: otherUserID, Count: count})
}

// UnreadCount returns the displayed unread count for a conversation. The
// active conversation always displays 0 regardless of the stored value.
func (a *Aggregator) UnreadCount(otherUserID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if otherUserID == a.activeChat {
		return 0
	}
	return a.unread[otherUserID]
}

// TotalUnread sums displayed counts across conversations (the navigation
// badge number).
func (a *Aggregator) TotalUnread() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for conv, n := range a.unread {
		if conv == a.activeChat {
			continue
		}
		total += n
	}
	return total
}

// SetOnline overwrites a user's presence, last writer wins.
func (a *Aggregator) SetOnline(userID string, online bool) {
	a.mu.Lock()
	a.online[userID] = online
	a.mu.Unlock()

	a.bus.Emit(bus.KindPresenceChanged, PresenceChange{UserID: userID, Online: online})
}

// IsOnline reports the last known presence for a user.
func (a *Aggregator) IsOnline(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.online[userID]
}

// clearPresence drops all presence entries; a fresh session's snapshot
// rebuilds them.
func (a *Aggregator) clearPresence() {
	a.mu.Lock()
	a.online = make(map[string]bool)
	a.mu.Unlock()
}

// Reset discards all state. Called on logout.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.online = make(map[string]bool)
	a.unread = make(map[string]int)
	a.activeChat = ""
	a.mu.Unlock()
}
