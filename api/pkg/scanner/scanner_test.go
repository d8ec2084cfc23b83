package scanner

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijohanne/mercy/api/pkg/config"
	"github.com/ijohanne/mercy/api/pkg/detector"
	"github.com/ijohanne/mercy/api/pkg/driver"
	"github.com/ijohanne/mercy/api/pkg/driver/drivertest"
	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/planner"
)

func blankScreenshot(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{50, 50, 50, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testDetector(t *testing.T) *detector.Detector {
	t.Helper()
	tpl := image.NewRGBA(image.Rect(0, 0, 10, 10))
	return detector.New(tpl, 1.1) // threshold above 1 so nothing ever passes Detect
}

func testConfig(kingdoms ...uint32) config.Config {
	return config.Config{
		Kingdoms:                kingdoms,
		SearchTarget:            "Mercenary Exchange",
		ScanPattern:             "grid",
		NavigateDelayMs:         0,
		PopupWaitMs:             0,
		ConsecutiveFailureLimit: 5,
	}
}

func newTestScanner(t *testing.T, cfg config.Config, d *drivertest.Driver) (*Scanner, *exchange.Store) {
	t.Helper()
	store := exchange.NewStore()
	log, err := exchange.OpenLog(t.TempDir() + "/exchanges.jsonl")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	factory := func(_ context.Context) (driver.GameDriver, error) { return d, nil }
	clock := drivertest.NewClock(time.Now())
	return New(cfg, factory, testDetector(t), store, log, clock), store
}

func TestPrepareIdleToReady(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)

	require.NoError(t, s.Prepare(context.Background()))
	assert.Equal(t, PhaseReady, s.Status().Phase)
}

func TestPrepareFailureReturnsToIdle(t *testing.T) {
	d := drivertest.New()
	d.LoginErr = assert.AnError
	s, _ := newTestScanner(t, testConfig(111), d)

	err := s.Prepare(context.Background())
	assert.Error(t, err)
	assert.Equal(t, PhaseIdle, s.Status().Phase)
}

func TestPrepareIllegalWhenNotIdle(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)
	require.NoError(t, s.Prepare(context.Background()))

	err := s.Prepare(context.Background())
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestStartStopTransitionsAndUnwindsLoop(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111, 112), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Status().Phase == PhaseScanning }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, PhaseReady, s.Status().Phase)
}

func TestPauseThenResumeReturnsToScanning(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Pause())
	assert.Eventually(t, func() bool { return s.Status().Phase == PhasePaused }, time.Second, time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Status().Phase == PhaseScanning }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestPauseIllegalWhenNotScanning(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)

	err := s.Pause()
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestStopIllegalWhenReady(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)
	require.NoError(t, s.Prepare(context.Background()))

	err := s.Stop()
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestLogoutIdempotentWhenIdle(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)
	assert.NoError(t, s.Logout())
	assert.Equal(t, PhaseIdle, s.Status().Phase)
}

func TestLogoutReleasesDriverFromReady(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)
	require.NoError(t, s.Prepare(context.Background()))

	require.NoError(t, s.Logout())
	assert.Equal(t, PhaseIdle, s.Status().Phase)
	assert.Contains(t, d.Calls, "shutdown")
}

func TestScanKingdomQueuedDuringActiveScan(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111, 112), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	status, err := s.ScanKingdom(999)
	require.NoError(t, err)
	assert.Equal(t, "queued", status)

	require.NoError(t, s.Stop())
}

func TestScanKingdomAllowedFromReady(t *testing.T) {
	d := drivertest.New()
	d.LoginErr = nil
	s, _ := newTestScanner(t, testConfig(111), d)

	// Drive the scanner into preparing by racing Prepare; simpler: assert the
	// guard directly using the exported error type against a synthetic state
	// is not possible without a driver stall, so this test instead checks the
	// idle->ready path does not spuriously reject scan-kingdom.
	require.NoError(t, s.Prepare(context.Background()))
	_, err := s.ScanKingdom(111)
	assert.NoError(t, err)
}

func TestDetectReportsNoScreenshotYet(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)

	_, err := s.Detect()
	assert.Error(t, err)
}

func TestGotoDeniedWhileScanning(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111, 112), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Status().Phase == PhaseScanning }, time.Second, time.Millisecond)

	_, err := s.Goto(context.Background(), 111, 10, 10)
	assert.ErrorIs(t, err, ErrDriverBusy)

	require.NoError(t, s.Stop())
}

func TestExchangeScreenshotOutOfRange(t *testing.T) {
	d := drivertest.New()
	s, _ := newTestScanner(t, testConfig(111), d)

	_, err := s.ExchangeScreenshot(0)
	assert.Error(t, err)
}

func TestPlanGridPatternNonEmpty(t *testing.T) {
	positions := planner.Plan(111, planner.PatternGrid, planner.Options{})
	assert.NotEmpty(t, positions)
}

// TestScanKingdomRunsImmediatelyWhilePaused covers §4.G/§8: a manual scan
// queued while paused runs at the next suspension point rather than waiting
// for the paused kingdom's remaining positions to finish.
func TestScanKingdomRunsImmediatelyWhilePaused(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Pause())
	assert.Eventually(t, func() bool { return s.Status().Phase == PhasePaused }, time.Second, time.Millisecond)

	status, err := s.ScanKingdom(999)
	require.NoError(t, err)
	assert.Equal(t, "queued", status)

	assert.Eventually(t, func() bool {
		for _, call := range d.Calls {
			if strings.HasPrefix(call, "set_kingdom:999") {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "manual scan should run while paused, not wait for resume")

	assert.Eventually(t, func() bool { return s.Status().Phase == PhasePaused }, time.Second, time.Millisecond,
		"scanner should remain paused once the manual scan completes")

	require.NoError(t, s.Stop())
}

// TestLogoutUnwindsLoopFromPaused covers the leak where Logout from Paused
// left the loop goroutine parked on cond.Wait forever: Logout must be able
// to complete and release the driver.
func TestLogoutUnwindsLoopFromPaused(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{blankScreenshot(t)}
	s, _ := newTestScanner(t, testConfig(111, 112), d)

	require.NoError(t, s.Prepare(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Pause())
	assert.Eventually(t, func() bool { return s.Status().Phase == PhasePaused }, time.Second, time.Millisecond)

	require.NoError(t, s.Logout())
	assert.Equal(t, PhaseIdle, s.Status().Phase)
	assert.Contains(t, d.Calls, "shutdown")
}
