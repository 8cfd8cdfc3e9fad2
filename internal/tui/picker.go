package tui

import (
	"errors"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ErrPickerAborted is returned when the user leaves the picker without choosing.
var ErrPickerAborted = errors.New("selection aborted")

// PickerItem is one selectable archive row.
type PickerItem struct {
	Name        string
	Detail      string
	HasChecksum bool
}

var newApp = NewApp

// PickArchive shows items in a list and returns the chosen index. Esc, q
// or a canceled abort context return ErrPickerAborted.
func PickArchive(title string, items []PickerItem) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("no archives to choose from")
	}

	app := newApp()
	defer app.Release()
	selected := -1

	list := tview.NewList().
		ShowSecondaryText(true).
		SetHighlightFullLine(true).
		SetSelectedBackgroundColor(ProxmoxOrange)
	for _, item := range items {
		main := tview.Escape(item.Name)
		if !item.HasChecksum {
			main += missingChecksumTag
		}
		list.AddItem(main, item.Detail, 0, nil)
	}
	list.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		selected = index
		app.Stop()
	})
	list.SetDoneFunc(func() {
		app.Stop()
	})
	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	frame := tview.NewFrame(list).
		SetBorders(0, 0, 1, 0, 1, 1).
		AddText("Enter: restore   Esc/q: cancel", false, tview.AlignCenter, ProxmoxGray)

	app.SetRootWithTitle(frame, title)
	if err := app.Run(); err != nil {
		return -1, err
	}
	if selected < 0 {
		return -1, ErrPickerAborted
	}
	return selected, nil
}
