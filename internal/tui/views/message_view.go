package views

import (
	"fmt"

	"github.com/nexobay/courier/internal/msgstore"
	"github.com/nexobay/courier/internal/protocol"
	"github.com/rivo/tview"
)

// MessageView renders one conversation's log with per-message delivery
// markers for own messages.
type MessageView struct {
	*tview.TextView
	selfID string
}

// NewMessageView creates the message pane.
func NewMessageView(selfID string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv, selfID: selfID}
}

// SetConversation updates the pane title.
func (mv *MessageView) SetConversation(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the log, oldest first, and scrolls to the newest.
func (mv *MessageView) Update(msgs []msgstore.Message) {
	mv.Clear()

	for _, m := range msgs {
		sender := m.SenderID
		marker := ""
		if m.SenderID == mv.selfID {
			sender = "You"
			marker = " " + statusMarker(m.Status)
		}
		ts := formatTimestamp(m.Timestamp)
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			sender, ts, marker, tview.Escape(sanitizeForTerminal(m.Content)))
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}

func statusMarker(st protocol.MessageStatus) string {
	switch st {
	case protocol.StatusDelivered:
		return "[green]✓[-]"
	case protocol.StatusFailed:
		return "[red]failed[-]"
	default:
		return "[gray]…[-]"
	}
}
