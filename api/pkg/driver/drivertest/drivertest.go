// Package drivertest provides a hand-rolled fake GameDriver and Clock for
// exercising pkg/scanner and pkg/confirm without a real browser, matching
// the teacher's preference for lightweight hand-written fakes over a
// generated mock for every collaborator.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock is a manually-advanced fake driver.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the fake clock by d instead of blocking.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Advance moves the clock forward independent of Sleep, e.g. to simulate
// time passing between scan positions in a test.
func (c *Clock) Advance(d time.Duration) {
	c.Sleep(d)
}

// PopupResponse is a scripted response to one PopupText call.
type PopupResponse struct {
	Text string
	OK   bool
	Err  error
}

// Driver is a scripted, hand-rolled fake implementing driver.GameDriver.
// Screenshots and popup responses are consumed in FIFO order per call;
// when a queue is exhausted the last entry (if any) repeats, or a default
// is returned.
type Driver struct {
	mu sync.Mutex

	LoginErr       error
	SetKingdomErr  error
	NavigateErr    error
	ClickErr       error
	DismissErr     error
	ScreenshotErr  error
	ScreenshotFunc func() []byte // overrides Screenshots queue when set

	Screenshots [][]byte
	Popups      []PopupResponse

	// Calls records every method invocation in order, for assertions
	// about call sequencing (e.g. navigate-then-sleep-then-screenshot).
	Calls []string

	screenshotIdx int
	popupIdx      int
}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) record(call string) {
	d.Calls = append(d.Calls, call)
}

func (d *Driver) Login(_ context.Context, _, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("login")
	return d.LoginErr
}

func (d *Driver) SetKingdom(_ context.Context, kingdom uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("set_kingdom:%d", kingdom))
	return d.SetKingdomErr
}

func (d *Driver) NavigateToCoords(_ context.Context, kingdom uint32, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("navigate:%d:%d:%d", kingdom, x, y))
	return d.NavigateErr
}

func (d *Driver) Screenshot(_ context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("screenshot")
	if d.ScreenshotErr != nil {
		return nil, d.ScreenshotErr
	}
	if d.ScreenshotFunc != nil {
		return d.ScreenshotFunc(), nil
	}
	if len(d.Screenshots) == 0 {
		return nil, nil
	}
	idx := d.screenshotIdx
	if idx >= len(d.Screenshots) {
		idx = len(d.Screenshots) - 1
	} else {
		d.screenshotIdx++
	}
	return d.Screenshots[idx], nil
}

func (d *Driver) Click(_ context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("click:%d:%d", x, y))
	return d.ClickErr
}

func (d *Driver) PopupText(_ context.Context) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("popup_text")
	if len(d.Popups) == 0 {
		return "", false, nil
	}
	idx := d.popupIdx
	if idx >= len(d.Popups) {
		idx = len(d.Popups) - 1
	} else {
		d.popupIdx++
	}
	p := d.Popups[idx]
	return p.Text, p.OK, p.Err
}

func (d *Driver) DismissPopup(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("dismiss_popup")
	return d.DismissErr
}

func (d *Driver) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("shutdown")
}
