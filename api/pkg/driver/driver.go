// Package driver defines the external collaborator contracts Mercy's core
// depends on: the GameDriver that owns the actual browser session, and a
// Clock abstraction for injectable time in tests. Nothing in this package
// launches a browser — see pkg/driver/rodgame for the concrete
// implementation built on go-rod.
package driver

import (
	"context"
	"time"
)

// GameDriver is the abstract browser-session collaborator. The core
// (pkg/scanner, pkg/confirm) depends only on this interface: launching,
// authenticating, and navigating the underlying browser session are
// entirely its concern, not the core's.
type GameDriver interface {
	// Login authenticates the underlying session.
	Login(ctx context.Context, email, password string) error

	// SetKingdom switches the active kingdom shard.
	SetKingdom(ctx context.Context, kingdom uint32) error

	// NavigateToCoords issues the in-game search-and-fly command to a
	// tile. After this resolves and the caller sleeps the configured
	// navigate delay, the next Screenshot call is guaranteed to reflect
	// the navigated viewport.
	NavigateToCoords(ctx context.Context, kingdom uint32, x, y int) error

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Click issues a pressed-then-released mouse event pair at a screen
	// pixel.
	Click(ctx context.Context, pixelX, pixelY int) error

	// PopupText returns the active popup's text, or ok=false if no popup
	// is showing or it could not be read.
	PopupText(ctx context.Context) (text string, ok bool, err error)

	// DismissPopup sends an escape key to close the active popup.
	DismissPopup(ctx context.Context) error

	// Shutdown releases the underlying browser session.
	Shutdown()
}

// Clock is an injectable source of monotonic time and sleeping, so scanner
// and confirmation tests don't need real wall-clock delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
