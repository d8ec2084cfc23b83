// Package rodgame is the concrete driver.GameDriver built on go-rod, the
// same browser-automation library the teacher uses for its RAG crawler
// browser pool (api/pkg/controller/knowledge/browser). Where the teacher
// pools browsers and pages for concurrent crawling, Mercy only ever drives
// one page at a time, so this package keeps a single long-lived page
// instead of a pool.
package rodgame

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/ijohanne/mercy/api/pkg/config"
)

// Driver is the go-rod backed driver.GameDriver implementation.
type Driver struct {
	browser *rod.Browser
	page    *rod.Page
	cfg     config.DriverConfig
}

// New launches (or attaches to) a browser per cfg and navigates to the
// configured game URL, ready for Login.
func New(ctx context.Context, cfg config.DriverConfig) (*Driver, error) {
	browser, err := connectBrowser(ctx, cfg)
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.Context(ctx).Navigate(cfg.GameBaseURL); err != nil {
		browser.Close()
		return nil, fmt.Errorf("navigate to game: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		browser.Close()
		return nil, fmt.Errorf("wait for game load: %w", err)
	}

	return &Driver{browser: browser, page: page, cfg: cfg}, nil
}

// connectBrowser picks one of three connection modes, in priority order
// matching the teacher's own Browser.getBrowser: a managed launcher service,
// a direct Chrome DevTools URL, or a locally-launched headless Chrome.
func connectBrowser(ctx context.Context, cfg config.DriverConfig) (*rod.Browser, error) {
	if cfg.LauncherURL != "" {
		l, err := launcher.NewManaged(cfg.LauncherURL)
		if err != nil {
			return nil, fmt.Errorf("launcher manager: %w", err)
		}
		client, err := l.Client()
		if err != nil {
			return nil, fmt.Errorf("launcher client: %w", err)
		}
		browser := rod.New().Context(ctx).Client(client)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("connect via managed launcher: %w", err)
		}
		return browser, nil
	}

	controlURL := cfg.ChromeURL
	if controlURL == "" {
		u, err := launcher.New().HeadlessNew(cfg.LauncherHeadless).NoSandbox(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch local chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return browser, nil
}

// The login form and popup selectors below are the only game-specific
// knowledge this package needs; everything else is coordinate-driven.
const (
	emailSelector    = `input[name="email"]`
	passwordSelector = `input[name="password"]`
	submitSelector   = `button[type="submit"]`
	popupSelector    = `.building-info-popup`
)

func (d *Driver) Login(ctx context.Context, email, password string) error {
	page := d.page.Context(ctx)

	emailEl, err := page.Timeout(10 * time.Second).Element(emailSelector)
	if err != nil {
		return fmt.Errorf("find email field: %w", err)
	}
	if err := emailEl.Input(email); err != nil {
		return fmt.Errorf("enter email: %w", err)
	}

	passEl, err := page.Element(passwordSelector)
	if err != nil {
		return fmt.Errorf("find password field: %w", err)
	}
	if err := passEl.Input(password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	submit, err := page.Element(submitSelector)
	if err != nil {
		return fmt.Errorf("find submit button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for login redirect: %w", err)
	}
	log.Info().Msg("driver logged in")
	return nil
}

func (d *Driver) SetKingdom(ctx context.Context, kingdom uint32) error {
	url := fmt.Sprintf("%s/?kid=%d", d.cfg.GameBaseURL, kingdom)
	if err := d.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate to kingdom %d: %w", kingdom, err)
	}
	return d.page.Context(ctx).WaitLoad()
}

// NavigateToCoords issues the in-game search-and-fly command by evaluating
// the game's own client-side navigation hook. §4.I guarantees the next
// Screenshot reflects this viewport once the caller sleeps the configured
// navigate delay.
func (d *Driver) NavigateToCoords(ctx context.Context, kingdom uint32, x, y int) error {
	script := fmt.Sprintf(`() => { window.game && window.game.gotoCoordinate && window.game.gotoCoordinate(%d, %d, %d); }`, kingdom, x, y)
	_, err := d.page.Context(ctx).Eval(script)
	if err != nil {
		return fmt.Errorf("navigate to %d,%d: %w", x, y, err)
	}
	return nil
}

// Screenshot captures the current viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// Click issues a pressed-then-released mouse event pair at a screen pixel,
// mirroring the teacher corpus's trusted-event click pattern (scout's
// CDP mouse dispatch) rather than a synthetic JS click, since the game
// distinguishes trusted input.
func (d *Driver) Click(ctx context.Context, pixelX, pixelY int) error {
	page := d.page.Context(ctx)
	x, y := float64(pixelX), float64(pixelY)

	if err := (proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x, Y: y,
	}).Call(page); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := (proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMousePressed,
		X:    x, Y: y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}).Call(page); err != nil {
		return fmt.Errorf("press mouse: %w", err)
	}
	if err := (proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseReleased,
		X:    x, Y: y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}).Call(page); err != nil {
		return fmt.Errorf("release mouse: %w", err)
	}
	return nil
}

// PopupText reads the building-info popup's text content, if one is open.
func (d *Driver) PopupText(ctx context.Context) (string, bool, error) {
	el, err := d.page.Context(ctx).Timeout(2 * time.Second).Element(popupSelector)
	if err != nil {
		return "", false, nil // no popup showing is not an error
	}
	text, err := el.Text()
	if err != nil {
		return "", false, fmt.Errorf("read popup text: %w", err)
	}
	return text, true, nil
}

// DismissPopup sends an escape key, matching §4.I's contract.
func (d *Driver) DismissPopup(ctx context.Context) error {
	return d.page.Context(ctx).Keyboard.Type(input.Escape)
}

// Shutdown releases the underlying browser session.
func (d *Driver) Shutdown() {
	if d.browser != nil {
		d.browser.Close()
	}
}
