package confirm

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ijohanne/mercy/api/pkg/coordinate"
	"github.com/ijohanne/mercy/api/pkg/detector"
	"github.com/ijohanne/mercy/api/pkg/driver/drivertest"
	"github.com/ijohanne/mercy/api/pkg/exchange"
	"github.com/ijohanne/mercy/api/pkg/planner"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newParams(t *testing.T, d *drivertest.Driver, store *exchange.Store, log *exchange.Log) Params {
	tpl := solidImage(20, 20, color.RGBA{10, 10, 10, 255})
	return Params{
		Kingdom:       111,
		ScanPos:       coordinate.Tile{X: 871, Y: 293},
		Candidate:     detector.Candidate{X: 760, Y: 400, Score: 0.95},
		SearchTarget:  "Mercenary Exchange",
		NavigateDelay: 750 * time.Millisecond,
		PopupWait:     750 * time.Millisecond,
		ScanPattern:   planner.PatternGrid,
		ScanStartedAt: time.Now(),
		Detector:      detector.New(tpl, detector.DefaultThreshold),
		Driver:        d,
		Clock:         drivertest.NewClock(time.Now()),
		Store:         store,
		Log:           log,
	}
}

func openTestLog(t *testing.T) *exchange.Log {
	t.Helper()
	l, err := exchange.OpenLog(t.TempDir() + "/exchanges.jsonl")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestConfirmConfirmedOutcome(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
	d.Popups = []drivertest.PopupResponse{{Text: "K:111 X:872 Y:294 Mercenary Exchange", OK: true}}

	store := exchange.NewStore()
	log := openTestLog(t)
	params := newParams(t, d, store, log)

	result, err := Confirm(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, coordinate.Tile{X: 872, Y: 294}, result.Target)
	assert.True(t, result.Stored)
	assert.Equal(t, 1, store.Len())
}

func TestConfirmDedupesSecondVisitToSameTile(t *testing.T) {
	store := exchange.NewStore()
	log := openTestLog(t)

	for i := 0; i < 2; i++ {
		d := drivertest.New()
		d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
		d.Popups = []drivertest.PopupResponse{{Text: "K:111 X:872 Y:294 Mercenary Exchange", OK: true}}
		params := newParams(t, d, store, log)

		result, err := Confirm(context.Background(), params)
		require.NoError(t, err)
		if i == 0 {
			assert.True(t, result.Stored)
		} else {
			assert.False(t, result.Stored, "second visit to the same tile must not duplicate")
		}
	}
	assert.Equal(t, 1, store.Len())
}

func TestConfirmEstimateOnEmptyPopup(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
	d.Popups = []drivertest.PopupResponse{{Text: "", OK: false}}

	store := exchange.NewStore()
	log := openTestLog(t)
	result, err := Confirm(context.Background(), newParams(t, d, store, log))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEstimate, result.Outcome)
	assert.True(t, result.Stored)
	require.NotNil(t, result.Record)
	assert.False(t, result.Record.Confirmed)
}

func TestConfirmRejectedOnWrongBuildingName(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
	d.Popups = []drivertest.PopupResponse{{Text: "K:111 X:872 Y:294 Barracks", OK: true}}

	store := exchange.NewStore()
	log := openTestLog(t)
	result, err := Confirm(context.Background(), newParams(t, d, store, log))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.False(t, result.Stored)
	assert.Nil(t, result.Record)
	assert.Equal(t, 0, store.Len())
}

func TestConfirmRejectedOnCoordinatesTooFar(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
	d.Popups = []drivertest.PopupResponse{{Text: "K:111 X:900 Y:900 Mercenary Exchange", OK: true}}

	store := exchange.NewStore()
	log := openTestLog(t)
	result, err := Confirm(context.Background(), newParams(t, d, store, log))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
}

func TestConfirmDismissesPopupAndDrivesDriverInOrder(t *testing.T) {
	d := drivertest.New()
	d.Screenshots = [][]byte{encodePNG(t, solidImage(400, 400, color.RGBA{200, 200, 200, 255}))}
	d.Popups = []drivertest.PopupResponse{{Text: "K:111 X:872 Y:294 Mercenary Exchange", OK: true}}

	store := exchange.NewStore()
	log := openTestLog(t)
	_, err := Confirm(context.Background(), newParams(t, d, store, log))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(d.Calls), 4)
	assert.Contains(t, d.Calls[0], "navigate:")
	assert.Equal(t, "dismiss_popup", d.Calls[len(d.Calls)-1])
}
