package bus

import "time"

// Event kinds published on the bus. The dotted prefix doubles as the
// subscription namespace: "conn." selects everything the transport
// publishes.
const (
	// KindStateChanged carries a transport.StateChange whenever the
	// connection moves between states.
	KindStateChanged = "conn.state_changed"
	// KindInboundMessage carries a *protocol.Message decoded off the
	// socket, in socket order.
	KindInboundMessage = "conn.message"
	// KindInboundPresence carries a *protocol.Presence frame.
	KindInboundPresence = "conn.presence"
	// KindInboundAck carries a *protocol.Ack confirming a sent message.
	KindInboundAck = "conn.ack"
	// KindInboundCursor carries a *protocol.Cursor frame.
	KindInboundCursor = "conn.cursor"

	// KindMessageUpdated names the conversation whose message log
	// changed (string payload, other user's id).
	KindMessageUpdated = "msg.updated"
	// KindUnreadChanged carries a presence.UnreadChange.
	KindUnreadChanged = "unread.changed"
	// KindPresenceChanged carries a presence.PresenceChange.
	KindPresenceChanged = "presence.changed"
	// KindConversationUpdated names the conversation whose list entry
	// changed (string payload, other user's id; empty after a reseed).
	KindConversationUpdated = "conv.updated"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
