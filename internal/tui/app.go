// Package tui holds the tview screens of proxmox-b2.
package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App wraps tview.Application with the proxmox-b2 theme.
type App struct {
	*tview.Application
	stopHook func()
	unbind   func() bool
}

// NewApp creates a themed application bound to the abort context.
func NewApp() *App {
	app := &App{
		Application: tview.NewApplication(),
	}
	app.EnableMouse(true)

	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = tcell.ColorDarkSlateGray
	tview.Styles.BorderColor = ProxmoxOrange
	tview.Styles.TitleColor = ProxmoxOrange
	tview.Styles.GraphicsColor = ProxmoxOrange
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = tcell.ColorLightGray
	tview.Styles.TertiaryTextColor = tcell.ColorGray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite

	bindAbortContext(app)
	return app
}

func (a *App) Stop() {
	if a == nil {
		return
	}
	if a.stopHook != nil {
		a.stopHook()
		return
	}
	if a.Application != nil {
		a.Application.Stop()
	}
}

// Release detaches the app from the abort context. Call it once Run has
// returned.
func (a *App) Release() {
	if a != nil && a.unbind != nil {
		a.unbind()
		a.unbind = nil
	}
}

type bordered interface {
	tview.Primitive
	SetBorder(show bool) *tview.Box
}

// SetRootWithTitle draws a titled orange border around root (any primitive
// built on tview.Box) and makes it the full-screen root.
func (a *App) SetRootWithTitle(root tview.Primitive, title string) *App {
	if b, ok := root.(bordered); ok {
		b.SetBorder(true).
			SetTitle(" " + title + " ").
			SetTitleAlign(tview.AlignCenter).
			SetTitleColor(ProxmoxOrange).
			SetBorderColor(ProxmoxOrange)
	}
	a.SetRoot(root, true)
	return a
}
