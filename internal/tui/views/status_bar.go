package views

import (
	"fmt"
	"time"

	"github.com/nexobay/courier/internal/transport"
	"github.com/rivo/tview"
)

// StatusBar displays the session name, connection state and total unread
// badge.
type StatusBar struct {
	*tview.TextView
	session string
	state   transport.State
	unread  int
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, state: transport.Disconnected}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetState updates the connection state indicator.
func (sb *StatusBar) SetState(state transport.State) {
	sb.state = state
	sb.render()
}

// SetUnreadTotal updates the navigation badge number.
func (sb *StatusBar) SetUnreadTotal(n int) {
	sb.unread = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	badge := ""
	if sb.unread > 0 {
		badge = fmt.Sprintf(" | [red]%d unread[-]", sb.unread)
	}
	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s%s | %s",
		sb.session, stateLabel(sb.state), badge, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}

func stateLabel(s transport.State) string {
	switch s {
	case transport.Connected:
		return "[green]connected[-]"
	case transport.Connecting, transport.Authenticating:
		return "[yellow]connecting[-]"
	case transport.Reconnecting:
		return "[yellow]reconnecting[-]"
	default:
		return "[red]offline[-]"
	}
}
