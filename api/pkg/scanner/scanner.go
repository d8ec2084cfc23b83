// Package scanner implements Mercy's core orchestration: the phase state
// machine described in spec §4.G, its per-kingdom scan loop, and the
// manual-scan interleave. It owns the GameDriver for the duration of every
// active phase and is the sole place driver calls, detection, and
// confirmation are stitched together.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ijohanne/mercy/api/pkg/config"
	"github.com/ijohanne/mercy/api/pkg/confirm"
	"github.com/ijohanne/mercy/api/pkg/coordinate"
	"github.com/ijohanne/mercy/api/pkg/detector"
	"github.com/ijohanne/mercy/api/pkg/driver"
	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/planner"
)

func decodePNG(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

// Phase is one of the five states of the scanner's lifecycle (§4.G).
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseReady     Phase = "ready"
	PhaseScanning  Phase = "scanning"
	PhasePaused    Phase = "paused"
)

// ErrIllegalTransition is returned when a command is issued from a phase
// that does not permit it (§4.G: "illegal commands... fail with a
// documented error and leave state unchanged").
type ErrIllegalTransition struct {
	Command string
	Phase   Phase
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("cannot %s while phase is %s", e.Command, e.Phase)
}

// ErrDriverBusy is returned by ad-hoc driver operations (goto, screenshot)
// when the scanner owns the driver for an active phase (§5's shared
// resource policy).
var ErrDriverBusy = fmt.Errorf("driver is owned by an active scan")

// DriverFactory builds a new GameDriver session; the scanner then logs it
// in. It is called once per prepare, letting the concrete browser driver
// live outside the scanner's own concerns.
type DriverFactory func(ctx context.Context) (driver.GameDriver, error)

// Status is the read-only snapshot published by Status (§4.H).
type Status struct {
	Phase             Phase   `json:"phase"`
	Running           bool    `json:"running"`
	Paused            bool    `json:"paused"`
	CurrentKingdom    uint32  `json:"current_kingdom"`
	ExchangesFound    int     `json:"exchanges_found"`
	ManualScanKingdom *uint32 `json:"manual_scan_kingdom"`
}

// Scanner is the stateful orchestrator. It is safe for concurrent use: the
// phase, flags and driver handle are guarded by the internal mutex, held
// only for each state inspection or mutation; the exchange list is guarded
// by exchange.Store's own lock.
type Scanner struct {
	cfg           config.Config
	newDriver     DriverFactory
	det           *detector.Detector
	store         *exchange.Store
	log           *exchange.Log
	clock         driver.Clock

	mu                 sync.Mutex
	cond               *sync.Cond
	phase              Phase
	drv                driver.GameDriver
	currentKingdom     uint32
	pauseRequested     bool
	stopRequested      bool
	manualScanPending  bool
	manualScanKingdom  *uint32
	manualScanRunning  bool
	consecutiveFails   int
	lastScreenshot     []byte
	loopDone           chan struct{}
	scanID             string
}

// New builds a Scanner in phase idle. det and store/log are constructed by
// the caller (cmd/mercy) and shared with pkg/confirm for every confirmation
// this scanner performs.
func New(cfg config.Config, newDriver DriverFactory, det *detector.Detector, store *exchange.Store, lg *exchange.Log, clock driver.Clock) *Scanner {
	s := &Scanner{
		cfg:       cfg,
		newDriver: newDriver,
		det:       det,
		store:     store,
		log:       lg,
		clock:     clock,
		phase:     PhaseIdle,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Status returns a snapshot of the scanner's public state (§4.H).
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Phase:             s.phase,
		Running:           s.phase == PhaseScanning,
		Paused:            s.phase == PhasePaused,
		CurrentKingdom:    s.currentKingdom,
		ExchangesFound:    s.store.Len(),
		ManualScanKingdom: s.manualScanKingdom,
	}
}

// Exchanges returns an immutable snapshot of every recorded exchange,
// ordered by insertion (§4.H).
func (s *Scanner) Exchanges() []exchange.Record {
	return s.store.Snapshot()
}

// ExchangeScreenshot returns the PNG bytes attached to the i-th exchange
// record, or an error if the index is out of range or the record carries
// no screenshot (§4.H).
func (s *Scanner) ExchangeScreenshot(i int) ([]byte, error) {
	rec, ok := s.store.At(i)
	if !ok {
		return nil, fmt.Errorf("exchange index %d out of range", i)
	}
	if len(rec.Screenshot) == 0 {
		return nil, fmt.Errorf("exchange %d has no attached screenshot", i)
	}
	return rec.Screenshot, nil
}

// Prepare transitions idle -> preparing -> ready, launching and
// authenticating a fresh driver session (§4.G).
func (s *Scanner) Prepare(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return &ErrIllegalTransition{Command: "prepare", Phase: phase}
	}
	s.phase = PhasePreparing
	s.mu.Unlock()

	drv, err := s.acquireDriver(ctx)
	if err != nil {
		s.mu.Lock()
		s.phase = PhaseIdle
		s.mu.Unlock()
		log.Error().Err(err).Msg("driver preparation failed")
		return err
	}

	s.mu.Lock()
	s.drv = drv
	s.phase = PhaseReady
	s.mu.Unlock()
	log.Info().Msg("driver ready")
	return nil
}

func (s *Scanner) acquireDriver(ctx context.Context) (driver.GameDriver, error) {
	drv, err := s.newDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch driver: %w", err)
	}
	if err := drv.Login(ctx, s.cfg.Driver.Email, s.cfg.Driver.Password); err != nil {
		drv.Shutdown()
		return nil, fmt.Errorf("driver login: %w", err)
	}
	return drv, nil
}

// Start begins scanning from ready, or resumes scanning from paused. From
// idle it autoprepares first (§4.G: "idle, start, autoprepare succeeded ->
// scanning").
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhasePaused:
		s.pauseRequested = false
		s.phase = PhaseScanning
		s.cond.Broadcast()
		s.mu.Unlock()
		log.Info().Msg("scan resumed")
		return nil
	case PhaseReady:
		s.phase = PhaseScanning
		s.mu.Unlock()
		s.launchLoop()
		return nil
	case PhaseIdle:
		s.mu.Unlock()
		if err := s.Prepare(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.phase = PhaseScanning
		s.mu.Unlock()
		s.launchLoop()
		return nil
	default:
		phase := s.phase
		s.mu.Unlock()
		return &ErrIllegalTransition{Command: "start", Phase: phase}
	}
}

func (s *Scanner) launchLoop() {
	s.mu.Lock()
	s.stopRequested = false
	s.pauseRequested = false
	s.loopDone = make(chan struct{})
	s.scanID = uuid.New().String()
	scanID := s.scanID
	s.mu.Unlock()

	log.Info().Str("scan_id", scanID).Msg("scan pass started")
	go s.run()
}

// ScanID returns the correlation id of the current (or most recent) scan
// pass, letting an operator grep one pass's driver calls out of the log.
// Empty before the first Start.
func (s *Scanner) ScanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanID
}

// Pause requests the loop park at its next suspension point (§5). The
// driver remains alive and idle while paused.
func (s *Scanner) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseScanning {
		return &ErrIllegalTransition{Command: "pause", Phase: s.phase}
	}
	s.pauseRequested = true
	return nil
}

// Stop requests the loop unwind to ready at its next suspension point.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if s.phase != PhaseScanning && s.phase != PhasePaused {
		phase := s.phase
		s.mu.Unlock()
		return &ErrIllegalTransition{Command: "stop", Phase: phase}
	}
	s.stopRequested = true
	wasPaused := s.phase == PhasePaused
	if wasPaused {
		s.cond.Broadcast() // wake the parked loop so it observes stopRequested
	}
	done := s.loopDone
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// Logout releases the driver and returns to idle. Legal from any phase but
// preparing and scanning (§4.G); idempotent when already idle. From paused,
// the parked loop goroutine is unwound the same way Stop does before the
// driver is released, so it never leaks waiting on a cond.Wait that nothing
// will ever broadcast again.
func (s *Scanner) Logout() error {
	s.mu.Lock()
	if s.phase == PhasePreparing || s.phase == PhaseScanning {
		phase := s.phase
		s.mu.Unlock()
		return &ErrIllegalTransition{Command: "logout", Phase: phase}
	}
	if s.phase == PhaseIdle {
		s.mu.Unlock()
		return nil
	}
	if s.phase == PhasePaused {
		s.stopRequested = true
		s.cond.Broadcast()
		done := s.loopDone
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		s.mu.Lock()
	}

	drv := s.drv
	s.drv = nil
	s.phase = PhaseIdle
	s.mu.Unlock()

	if drv != nil {
		drv.Shutdown()
	}
	log.Info().Msg("logged out, driver released")
	return nil
}

// run is the main scanning loop: round-robin across configured kingdoms,
// walking the planner sequence for each (§4.G "Main loop").
func (s *Scanner) run() {
	defer func() {
		s.mu.Lock()
		close(s.loopDone)
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.stopRequested {
			// A fatal driver failure (recordFailure) may already have
			// released the driver and set phase to Idle; don't clobber
			// that back to Ready just because a stop was also requested.
			if s.drv != nil {
				s.phase = PhaseReady
			} else {
				s.phase = PhaseIdle
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		for _, kingdom := range s.cfg.Kingdoms {
			if s.runOneKingdom(kingdom) {
				return // stop requested mid-kingdom
			}
			if s.serviceManualScanIfPending() {
				return
			}
		}
	}
}

// runOneKingdom walks one full planner pass for a kingdom. Returns true if
// a stop was observed and the caller should unwind entirely.
func (s *Scanner) runOneKingdom(kingdom uint32) bool {
	ctx := context.Background()

	s.mu.Lock()
	s.currentKingdom = kingdom
	drv := s.drv
	s.mu.Unlock()

	if err := drv.SetKingdom(ctx, kingdom); err != nil {
		log.Warn().Err(err).Uint32("kingdom", kingdom).Msg("set_kingdom failed, skipping kingdom")
		return false
	}
	if err := drv.NavigateToCoords(ctx, kingdom, 512, 512); err != nil {
		log.Warn().Err(err).Uint32("kingdom", kingdom).Msg("initial navigate failed, skipping kingdom")
		return false
	}

	positions := planner.Plan(kingdom, planner.Pattern(s.cfg.ScanPattern), planner.Options{
		Rings:    s.cfg.ScanRings,
		Coverage: s.cfg.KnownCoverage,
	})
	startedAt := s.clock.Now()

	for _, pos := range positions {
		if stop := s.suspensionPoint(); stop {
			return true
		}
		s.scanOnePosition(ctx, kingdom, pos, startedAt)
	}
	return false
}

// scanOnePosition runs navigate/screenshot/detect/confirm for a single
// planner position (§4.G main loop body).
func (s *Scanner) scanOnePosition(ctx context.Context, kingdom uint32, pos coordinate.Tile, startedAt time.Time) {
	s.mu.Lock()
	drv := s.drv
	s.mu.Unlock()

	if err := drv.NavigateToCoords(ctx, kingdom, pos.X, pos.Y); err != nil {
		s.recordFailure()
		return
	}
	s.clock.Sleep(time.Duration(s.cfg.NavigateDelayMs) * time.Millisecond)

	shot, err := drv.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		s.recordFailure()
		return
	}
	s.mu.Lock()
	s.lastScreenshot = shot
	s.mu.Unlock()

	img, err := decodePNG(shot)
	if err != nil {
		s.recordFailure()
		return
	}

	candidates, err := s.det.Detect(img)
	if err != nil {
		log.Error().Err(err).Msg("detector input mismatch, aborting scan")
		s.mu.Lock()
		s.stopRequested = true
		s.mu.Unlock()
		return
	}
	s.resetFailures()

	for _, cand := range candidates {
		result, err := confirm.Confirm(ctx, confirm.Params{
			Kingdom:       kingdom,
			ScanPos:       pos,
			Candidate:     cand,
			SearchTarget:  s.cfg.SearchTarget,
			NavigateDelay: time.Duration(s.cfg.NavigateDelayMs) * time.Millisecond,
			PopupWait:     time.Duration(s.cfg.PopupWaitMs) * time.Millisecond,
			ScanPattern:   planner.Pattern(s.cfg.ScanPattern),
			ScanStartedAt: startedAt,
			Detector:      s.det,
			Driver:        drv,
			Clock:         s.clock,
			Store:         s.store,
			Log:           s.log,
		})
		if err != nil {
			log.Warn().Err(err).Uint32("kingdom", kingdom).Msg("confirmation failed")
			s.recordFailure()
			continue
		}
		s.resetFailures()
		log.Info().Uint32("kingdom", kingdom).Str("outcome", result.Outcome.String()).
			Int("x", result.Target.X).Int("y", result.Target.Y).Msg("candidate confirmed")
	}
}

func (s *Scanner) recordFailure() {
	s.mu.Lock()
	s.consecutiveFails++
	fails := s.consecutiveFails
	limit := s.cfg.ConsecutiveFailureLimit
	s.mu.Unlock()

	if limit > 0 && fails >= limit {
		log.Error().Int("consecutive_failures", fails).Msg("fatal driver failure threshold reached, releasing driver")
		s.mu.Lock()
		drv := s.drv
		s.drv = nil
		s.phase = PhaseIdle
		s.stopRequested = true
		s.mu.Unlock()
		if drv != nil {
			drv.Shutdown()
		}
	}
}

func (s *Scanner) resetFailures() {
	s.mu.Lock()
	s.consecutiveFails = 0
	s.mu.Unlock()
}

// suspensionPoint is the "between positions" check-in from §5: it honors a
// pending stop immediately, and parks the loop on the condition variable
// while paused, waking on resume or stop. Per §4.G/§8, a manual scan queued
// while paused runs immediately at this suspension point rather than
// waiting for the current kingdom's remaining positions to finish.
func (s *Scanner) suspensionPoint() (stop bool) {
	for {
		s.mu.Lock()
		if s.stopRequested {
			if s.drv != nil {
				s.phase = PhaseReady
			} else {
				s.phase = PhaseIdle
			}
			s.mu.Unlock()
			return true
		}
		if s.manualScanRunning {
			// A suspension point hit from inside the nested manual scan
			// below: it must not re-park on the pause still in effect for
			// the main loop, or it would never get past its first
			// position. Leaving pauseRequested untouched (rather than
			// suppressing it) means a concurrent Start() resuming from
			// Paused is still honored once the manual scan completes.
			s.mu.Unlock()
			return false
		}
		if !s.pauseRequested {
			if s.phase == PhasePaused {
				s.phase = PhaseScanning
			}
			s.mu.Unlock()
			return false
		}

		s.phase = PhasePaused
		if !s.manualScanPending {
			s.cond.Wait()
			s.mu.Unlock()
			continue
		}

		kingdom := *s.manualScanKingdom
		resumeKingdom := s.currentKingdom
		s.manualScanPending = false
		s.manualScanRunning = true
		s.mu.Unlock()

		s.runOneKingdom(kingdom)

		s.mu.Lock()
		s.manualScanRunning = false
		s.manualScanKingdom = nil
		s.currentKingdom = resumeKingdom
		s.mu.Unlock()
	}
}

// ScanKingdom queues a manual, out-of-band scan of a single kingdom (§4.G
// "Manual scan"). It executes at the next between-kingdoms or paused
// suspension point, per spec.
func (s *Scanner) ScanKingdom(kingdom uint32) (status string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhasePreparing || s.phase == PhaseIdle {
		return "", &ErrIllegalTransition{Command: "scan-kingdom", Phase: s.phase}
	}
	if s.manualScanPending || s.manualScanRunning {
		return "", fmt.Errorf("a manual scan is already active")
	}
	s.manualScanPending = true
	s.manualScanKingdom = &kingdom

	if s.phase != PhaseScanning && s.phase != PhasePaused {
		// Nothing else is running the loop; service it inline.
		go s.runManualScanStandalone(kingdom)
		return "running", nil
	}
	if s.phase == PhasePaused {
		// Wake the parked loop so it services this at the current
		// suspension point instead of waiting for a resume.
		s.cond.Broadcast()
	}
	return "queued", nil
}

// serviceManualScanIfPending runs a pending manual scan to completion
// between kingdoms, yielding the driver as described in §4.G. Returns true
// if a stop was observed afterward and the caller should unwind.
func (s *Scanner) serviceManualScanIfPending() bool {
	s.mu.Lock()
	if !s.manualScanPending {
		s.mu.Unlock()
		return false
	}
	kingdom := *s.manualScanKingdom
	s.manualScanPending = false
	s.manualScanRunning = true
	s.mu.Unlock()

	s.runOneKingdom(kingdom)

	s.mu.Lock()
	s.manualScanRunning = false
	s.manualScanKingdom = nil
	stop := s.stopRequested
	s.mu.Unlock()
	return stop
}

// runManualScanStandalone services a manual scan request that arrived while
// the scanner was otherwise idle (no main loop to interleave with).
func (s *Scanner) runManualScanStandalone(kingdom uint32) {
	s.mu.Lock()
	s.manualScanPending = false
	s.manualScanRunning = true
	s.mu.Unlock()

	s.runOneKingdom(kingdom)

	s.mu.Lock()
	s.manualScanRunning = false
	s.manualScanKingdom = nil
	s.mu.Unlock()
}

// Goto navigates the owned driver to an arbitrary tile and returns the
// resulting screenshot, for the ad-hoc /goto endpoint. Denied while the
// scanner is actively using the driver (§5).
func (s *Scanner) Goto(ctx context.Context, kingdom uint32, x, y int) ([]byte, error) {
	s.mu.Lock()
	if s.phase == PhaseScanning || s.phase == PhasePaused || s.phase == PhasePreparing {
		s.mu.Unlock()
		return nil, ErrDriverBusy
	}
	drv := s.drv
	s.mu.Unlock()
	if drv == nil {
		return nil, fmt.Errorf("no driver: call prepare first")
	}

	if err := drv.NavigateToCoords(ctx, kingdom, x, y); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	s.clock.Sleep(time.Duration(s.cfg.NavigateDelayMs) * time.Millisecond)
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	s.mu.Lock()
	s.lastScreenshot = shot
	s.mu.Unlock()
	return shot, nil
}

// Screenshot returns the current driver viewport, for the ad-hoc /screenshot
// endpoint. Denied while the scanner is actively using the driver (§5).
func (s *Scanner) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.phase == PhaseScanning || s.phase == PhasePaused || s.phase == PhasePreparing {
		s.mu.Unlock()
		return nil, ErrDriverBusy
	}
	drv := s.drv
	s.mu.Unlock()
	if drv == nil {
		return nil, fmt.Errorf("no driver: call prepare first")
	}
	shot, err := drv.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastScreenshot = shot
	s.mu.Unlock()
	return shot, nil
}

// DetectResult is the response shape for GET /detect (§6).
type DetectResult struct {
	Found     bool    `json:"found"`
	Threshold float32 `json:"threshold"`
	PixelX    int     `json:"pixel_x"`
	PixelY    int     `json:"pixel_y"`
	Score     float32 `json:"score"`
	GameDX    float64 `json:"game_dx"`
	GameDY    float64 `json:"game_dy"`
}

// Detect runs the detector against the last screenshot taken by any path
// (scan loop, goto, or screenshot). Returns an error if there is no
// screenshot yet.
func (s *Scanner) Detect() (DetectResult, error) {
	s.mu.Lock()
	shot := s.lastScreenshot
	s.mu.Unlock()
	if len(shot) == 0 {
		return DetectResult{}, fmt.Errorf("no screenshot available yet")
	}

	img, err := decodePNG(shot)
	if err != nil {
		return DetectResult{}, fmt.Errorf("decode screenshot: %w", err)
	}
	threshold := s.det.Threshold()
	best, err := s.det.BestMatch(img)
	if err != nil {
		return DetectResult{}, err
	}
	if best == nil {
		return DetectResult{Found: false, Threshold: threshold}, nil
	}

	dx, dy := coordinate.OffsetFromCenter(coordinate.Pixel{X: best.X, Y: best.Y})
	gameDx, gameDy := coordinate.PixelToGame(float64(dx), float64(dy))
	return DetectResult{
		Found:     best.Score >= threshold,
		Threshold: threshold,
		PixelX:    best.X,
		PixelY:    best.Y,
		Score:     best.Score,
		GameDX:    gameDx,
		GameDY:    gameDy,
	}, nil
}
