// Package confirm implements the click-to-confirm protocol (§4.E): given a
// detection candidate, navigate to its resolved target tile, click it,
// read the popup, and classify the outcome as confirmed, estimate, or
// rejected.
package confirm

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/ijohanne/mercy/api/pkg/coordinate"
	"github.com/ijohanne/mercy/api/pkg/detector"
	"github.com/ijohanne/mercy/api/pkg/driver"
	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/planner"
)

func decodePNG(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

// popupPattern matches "K:111 X:872 Y:294 ..." with flexible whitespace
// and optional punctuation around each label, case-insensitively.
var popupPattern = regexp.MustCompile(`(?i)k\s*:?\s*(\d+)\s+x\s*:?\s*(\d+)\s+y\s*:?\s*(\d+)`)

// Outcome classifies a confirmation attempt's result (§4.E step 7).
type Outcome int

const (
	OutcomeConfirmed Outcome = iota
	OutcomeEstimate
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeEstimate:
		return "estimate"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// coordTolerance is the Chebyshev distance a parsed popup coordinate may
// lie from the targeted tile and still count as confirming it.
const coordTolerance = 3

// wellCenteredPx is the pixel tolerance within which a calibration match is
// considered centered, so the click point is not shifted.
const wellCenteredPx = 40

// Params bundles everything Confirm needs beyond the driver and clock
// collaborators.
type Params struct {
	Kingdom          uint32
	ScanPos          coordinate.Tile
	Candidate        detector.Candidate
	SearchTarget     string
	NavigateDelay    time.Duration
	PopupWait        time.Duration
	ScanPattern      planner.Pattern
	ScanStartedAt    time.Time
	Detector         *detector.Detector
	Driver           driver.GameDriver
	Clock            driver.Clock
	Store            *exchange.Store
	Log              *exchange.Log
}

// Result is what one confirmation attempt produced.
type Result struct {
	Outcome Outcome
	Target  coordinate.Tile
	Record  *exchange.Record // nil unless a record was created
	Stored  bool             // whether Store accepted the record (false: duplicate or rejected)
}

// Confirm runs the full protocol for a single detection candidate. It
// writes the resulting log line unconditionally and inserts into Store for
// Confirmed/Estimate outcomes, matching §4.F ("all three outcomes are
// written to the exchange log... only Confirmed and Estimate produce
// in-memory records").
func Confirm(ctx context.Context, p Params) (Result, error) {
	offsetX, offsetY := coordinate.OffsetFromCenter(coordinate.Pixel{X: p.Candidate.X, Y: p.Candidate.Y})
	target := coordinate.TargetTile(p.ScanPos, coordinate.Pixel{X: offsetX, Y: offsetY})

	if err := navigateWithRetry(ctx, p.Driver, p.Kingdom, target); err != nil {
		return Result{}, fmt.Errorf("navigate to target %+v: %w", target, err)
	}
	p.Clock.Sleep(p.NavigateDelay)

	calibrationScore := calibrate(ctx, p)

	clickX, clickY := coordinate.ScreenCenter.X, coordinate.ScreenCenter.Y
	if calibrationScore != nil && calibrationScore.dx != nil {
		dx, dy := *calibrationScore.dx, *calibrationScore.dy
		if abs(dx) > wellCenteredPx || abs(dy) > wellCenteredPx {
			clickX = coordinate.ScreenCenter.X + dx
			clickY = coordinate.ScreenCenter.Y + dy
		}
	}

	if err := p.Driver.Click(ctx, clickX, clickY); err != nil {
		return Result{}, fmt.Errorf("click target %+v: %w", target, err)
	}

	p.Clock.Sleep(p.PopupWait)
	popupText, popupOK, popupErr := p.Driver.PopupText(ctx)
	if popupErr != nil {
		log.Warn().Err(popupErr).Uint32("kingdom", p.Kingdom).Msg("popup read failed")
		popupOK = false
	}

	outcome, recordCoords := classify(popupText, popupOK, target, p.SearchTarget)

	// The confirming screenshot is taken before the popup is dismissed, so
	// the dismissal is the last driver call of the attempt.
	var confirmShot []byte
	if outcome == OutcomeConfirmed {
		if shot, err := p.Driver.Screenshot(ctx); err == nil {
			confirmShot = shot
		}
	}

	if err := p.Driver.DismissPopup(ctx); err != nil {
		log.Warn().Err(err).Uint32("kingdom", p.Kingdom).Msg("dismiss popup failed")
	}

	scanDuration := p.Clock.Now().Sub(p.ScanStartedAt).Seconds()

	var calScore *float32
	if calibrationScore != nil {
		calScore = &calibrationScore.score
	}

	line := exchange.LogLine{
		Timestamp:        p.Clock.Now().UTC(),
		Kingdom:          p.Kingdom,
		X:                recordCoords.X,
		Y:                recordCoords.Y,
		Confirmed:        outcome == OutcomeConfirmed,
		InitialScore:     p.Candidate.Score,
		CalibrationScore: calScore,
		ScanPattern:      p.ScanPattern,
		ScanDurationSecs: scanDuration,
	}

	result := Result{Outcome: outcome, Target: recordCoords}

	if outcome == OutcomeRejected {
		line.Stored = false
		p.Log.AppendBestEffort(line)
		return result, nil
	}

	record := exchange.Record{
		Kingdom:          p.Kingdom,
		X:                recordCoords.X,
		Y:                recordCoords.Y,
		FoundAt:          p.Clock.Now().UTC(),
		Confirmed:        outcome == OutcomeConfirmed,
		ScanDurationSecs: scanDuration,
		Screenshot:       confirmShot,
	}

	// §3: a record must be persisted to the durable log before it is
	// published to the in-memory list, so a crash between the two never
	// leaves a record visible in Store/GET /exchanges that never made it
	// to the log file. InsertGuarded does the duplicate check, the log
	// write, and the insert as one atomic step so this ordering can't be
	// undone by a second confirmation racing on the same key.
	stored := p.Store.InsertGuarded(record, func(willStore bool) {
		line.Stored = willStore
		p.Log.AppendBestEffort(line)
	})

	result.Record = &record
	result.Stored = stored
	return result, nil
}

// navigateWithRetry wraps the navigate driver call with a bounded retry so
// a single transient DriverOp failure doesn't abandon an otherwise-good
// candidate (§7's DriverOp class is explicitly transient).
func navigateWithRetry(ctx context.Context, d driver.GameDriver, kingdom uint32, target coordinate.Tile) error {
	return retry.Do(
		func() error { return d.NavigateToCoords(ctx, kingdom, target.X, target.Y) },
		retry.Attempts(3),
		retry.Context(ctx),
	)
}

type calibration struct {
	score  float32
	dx, dy *int
}

// calibrate takes a calibration screenshot at the navigated position and
// runs BestMatch against it (§4.E step 4). A nil return means no
// calibration screenshot or match was available, not an error: calibration
// is advisory and its absence should not abort confirmation.
func calibrate(ctx context.Context, p Params) *calibration {
	shot, err := p.Driver.Screenshot(ctx)
	if err != nil || len(shot) == 0 {
		return nil
	}
	img, err := decodePNG(shot)
	if err != nil {
		return nil
	}
	best, err := p.Detector.BestMatch(img)
	if err != nil || best == nil {
		return nil
	}

	dx, dy := coordinate.OffsetFromCenter(coordinate.Pixel{X: best.X, Y: best.Y})
	return &calibration{score: best.Score, dx: &dx, dy: &dy}
}

// classify implements §4.E step 7's three-way popup classification.
func classify(popupText string, popupOK bool, target coordinate.Tile, searchTarget string) (Outcome, coordinate.Tile) {
	if !popupOK || strings.TrimSpace(popupText) == "" {
		return OutcomeEstimate, target
	}

	matches := popupPattern.FindStringSubmatch(popupText)
	if matches == nil {
		return OutcomeEstimate, target
	}

	x, errX := strconv.Atoi(matches[2])
	y, errY := strconv.Atoi(matches[3])
	if errX != nil || errY != nil {
		return OutcomeEstimate, target
	}
	parsed := coordinate.Tile{X: x, Y: y}

	withinTolerance := chebyshev(parsed.X-target.X, parsed.Y-target.Y) <= coordTolerance
	containsTarget := strings.Contains(strings.ToLower(popupText), strings.ToLower(searchTarget))

	if withinTolerance && containsTarget {
		return OutcomeConfirmed, parsed
	}
	return OutcomeRejected, target
}

func chebyshev(dx, dy int) int {
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
