package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. It refuses input while
// the transport is not connected.
type Composer struct {
	*tview.InputField
	onSend  func(text string)
	enabled bool
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input, enabled: true}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.enabled && c.onSend != nil {
			text := c.GetText()
			if text != "" {
				c.onSend(text)
				c.SetText("")
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a message is sent.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetEnabled toggles whether Enter submits. The label doubles as the
// affordance.
func (c *Composer) SetEnabled(enabled bool) {
	c.enabled = enabled
	if enabled {
		c.SetLabel(" > ")
	} else {
		c.SetLabel(" [offline] ")
	}
}

// Enabled reports whether the composer accepts submissions.
func (c *Composer) Enabled() bool {
	return c.enabled
}
