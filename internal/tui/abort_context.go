package tui

import (
	"context"
	"sync/atomic"
)

type abortHolder struct{ ctx context.Context }

var abortContext atomic.Pointer[abortHolder]

// SetAbortContext registers the process context. Apps created afterwards
// stop when it is canceled (SIGINT/SIGTERM). A nil ctx clears it.
func SetAbortContext(ctx context.Context) {
	if ctx == nil {
		abortContext.Store(nil)
		return
	}
	abortContext.Store(&abortHolder{ctx: ctx})
}

func getAbortContext() context.Context {
	if h := abortContext.Load(); h != nil {
		return h.ctx
	}
	return nil
}

// bindAbortContext arranges for app.Stop on cancellation and records the
// unbind func on the app so Release can drop the watch once the screen
// has closed.
func bindAbortContext(app *App) {
	ctx := getAbortContext()
	if ctx == nil {
		return
	}
	app.unbind = context.AfterFunc(ctx, app.Stop)
}
