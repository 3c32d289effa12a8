package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/nexobay/courier/internal/history"
	"github.com/rivo/tview"
)

// SearchView finds users by name prefix and hands the pick back to the app,
// which starts a chat with them.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	users   []history.User
	onQuery func(query string)
	onPick  func(id, name string)
}

// NewSearchView creates the user search page.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Find user: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	results.SetBorder(true).SetTitle(" Results ")

	sv := &SearchView{
		input:   input,
		results: results,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			if q := input.GetText(); q != "" {
				sv.onQuery(q)
			}
		}
	})
	results.SetSelectedFunc(func(row, col int) {
		if sv.onPick == nil || row >= len(sv.users) {
			return
		}
		u := sv.users[row]
		sv.onPick(u.ID, u.Name)
	})

	sv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)
	return sv
}

// SetOnQuery sets the callback for a submitted query.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetOnPick sets the callback for a chosen user.
func (sv *SearchView) SetOnPick(fn func(id, name string)) {
	sv.onPick = fn
}

// Update fills the result table.
func (sv *SearchView) Update(users []history.User) {
	sv.users = users
	sv.results.Clear()
	for i, u := range users {
		name := u.Name
		if name == "" {
			name = u.ID
		}
		sv.results.SetCell(i, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1))
		sv.results.SetCell(i, 1, tview.NewTableCell(" "+u.ID))
	}
}

// Input returns the query field for focus handoff.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the result table for focus handoff.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
