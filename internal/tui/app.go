package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nexobay/courier/internal/bus"
	"github.com/nexobay/courier/internal/session"
	"github.com/nexobay/courier/internal/transport"
	"github.com/nexobay/courier/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the terminal client shell. All three surfaces it renders (the
// conversation list, the open message pane, the status bar badge) read
// through the same session state, so they can never disagree.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	sess      *session.Session
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	statusBar *views.StatusBar
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application over a started session.
func NewApp(sess *session.Session) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		sess:      sess,
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(sess.UserID),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		statusBar: views.NewStatusBar(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sess.Name)
	a.composer.SetEnabled(false)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if other := a.convList.SelectedUser(); other != "" {
			a.openConversation(other)
		}
	})

	a.composer.SetOnSend(func(text string) {
		other := a.sess.Presence.ActiveChat()
		if other == "" {
			return
		}
		if _, err := a.sess.Send(other, text); err != nil {
			a.statusBar.SetFlash("Send failed: " + err.Error())
		}
		a.msgView.Update(a.sess.Messages.Messages(other))
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
			defer cancel()
			users, err := a.sess.History.SearchUsers(ctx, query)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					a.statusBar.SetFlash("Search failed: " + err.Error())
					return
				}
				a.searchV.Update(users)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.SetOnPick(func(id, name string) {
		a.sess.Convs.StartChat(id, name)
		a.openConversation(id)
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat", "search":
				a.closeConversation()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyRune {
			switch {
			case event.Rune() == 'q' && currentPage == "conversations":
				a.Stop()
				return nil
			case event.Rune() == 's' && currentPage == "conversations":
				a.pages.SwitchToPage("search")
				a.app.SetFocus(a.searchV.Input())
				return nil
			case event.Rune() == 'x' && currentPage == "conversations":
				if other := a.convList.SelectedUser(); other != "" {
					a.sess.Convs.Remove(other)
				}
				return nil
			case event.Rune() == 'i' && currentPage == "chat":
				a.app.SetFocus(a.composer.InputField)
				return nil
			case event.Rune() == 'L' && currentPage == "conversations":
				// Discards credentials and all in-memory state.
				a.sess.Logout()
				a.Stop()
				return nil
			}
		}

		return event
	})
}

func (a *App) openConversation(other string) {
	a.sess.OpenConversation(a.ctx, other)

	a.msgView.SetConversation(a.sess.Convs.DisplayName(other))
	a.msgView.Update(a.sess.Messages.Messages(other))
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.composer.InputField)
	a.refreshList()
}

func (a *App) closeConversation() {
	a.sess.OpenConversation(a.ctx, "")
	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.convList)
	a.refreshList()
}

func (a *App) refreshList() {
	a.convList.Update(a.sess.Convs.List(), a.sess.Presence.IsOnline)
	a.statusBar.SetUnreadTotal(a.sess.Presence.TotalUnread())
}

// Run starts the event loop and blocks until the user quits.
func (a *App) Run() error {
	ch, unsub := a.sess.Bus.Subscribe("", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	// The connection may have reached Connected before the subscription
	// above existed, and the bus retains nothing. Seed the surfaces from
	// the current state so a clean first dial enables the composer.
	a.syncConnState()

	a.refreshList()
	return a.app.Run()
}

// syncConnState applies the transport's current state to the status bar
// and composer. Run calls it once before the event loop takes over.
func (a *App) syncConnState() {
	st := a.sess.Conn.State()
	a.statusBar.SetState(st)
	a.composer.SetEnabled(st == transport.Connected)
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindStateChanged:
		sc, ok := evt.Payload.(transport.StateChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetState(sc.To)
			a.composer.SetEnabled(sc.To == transport.Connected)
		})
	case bus.KindMessageUpdated:
		conv, _ := evt.Payload.(string)
		a.app.QueueUpdateDraw(func() {
			if conv != "" && conv == a.sess.Presence.ActiveChat() {
				a.msgView.Update(a.sess.Messages.Messages(conv))
			}
			a.refreshList()
		})
	case bus.KindConversationUpdated, bus.KindUnreadChanged, bus.KindPresenceChanged:
		a.app.QueueUpdateDraw(func() {
			a.refreshList()
		})
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
