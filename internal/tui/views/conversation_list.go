package views

import (
	"fmt"
	"time"

	"github.com/nexobay/courier/internal/convlist"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table: presence dot, name,
// unread badge, last message preview.
type ConversationList struct {
	*tview.Table
	convs      []convlist.Conversation
	selectedFn func() (int, int)
}

// NewConversationList creates the conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table. online reports live presence per user.
func (cl *ConversationList) Update(convs []convlist.Conversation, online func(string) bool) {
	cl.convs = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell("  Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		name := c.OtherUserName
		if name == "" {
			name = c.OtherUserID
		}
		dot := "[gray]○[-]"
		if online != nil && online(c.OtherUserID) {
			dot = "[green]●[-]"
		}
		label := dot + " " + tview.Escape(sanitizeForTerminal(name))
		if c.UnreadCount > 0 {
			label = fmt.Sprintf("%s [red](%d)[-]", label, c.UnreadCount)
		}

		preview := c.LastMessage
		if c.IsLastFromMe {
			preview = "You: " + preview
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+label).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(preview))).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastTimestamp)).SetMaxWidth(12))
	}

	cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(convs)))
}

// SelectedUser returns the counterparty id of the selected row.
func (cl *ConversationList) SelectedUser() string {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].OtherUserID
	}
	return ""
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
