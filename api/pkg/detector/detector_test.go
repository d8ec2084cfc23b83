package detector

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkerTemplate builds a small deterministic checkerboard pattern so NCC
// has real structure to match against, rather than a flat color block.
func checkerTemplate(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.RGBA{20, 20, 20, 255})
			} else {
				img.Set(x, y, color.RGBA{230, 230, 230, 255})
			}
		}
	}
	return img
}

func canvasWithTemplateAt(template *image.RGBA, canvasW, canvasH, offsetX, offsetY int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	r := rand.New(rand.NewSource(1))
	for y := 0; y < canvasH; y++ {
		for x := 0; x < canvasW; x++ {
			v := uint8(r.Intn(40) + 100)
			canvas.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	tb := template.Bounds()
	for y := 0; y < tb.Dy(); y++ {
		for x := 0; x < tb.Dx(); x++ {
			canvas.Set(offsetX+x, offsetY+y, template.At(tb.Min.X+x, tb.Min.Y+y))
		}
	}
	return canvas
}

func TestDetectIdenticalImageYieldsCenterCandidate(t *testing.T) {
	tpl := checkerTemplate(32, 32)
	d := New(tpl, DefaultThreshold)

	candidates, err := d.Detect(tpl)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 16, candidates[0].X)
	assert.Equal(t, 16, candidates[0].Y)
	assert.GreaterOrEqual(t, candidates[0].Score, float32(0.99))
}

func TestDetectEmptyOnNoMatch(t *testing.T) {
	tpl := checkerTemplate(32, 32)
	d := New(tpl, DefaultThreshold)

	flat := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			flat.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}

	candidates, err := d.Detect(flat)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestDetectFindsEmbeddedTemplate(t *testing.T) {
	tpl := checkerTemplate(40, 40)
	canvas := canvasWithTemplateAt(tpl, 300, 300, 120, 80)
	d := New(tpl, DefaultThreshold)

	candidates, err := d.Detect(canvas)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, 120+20, candidates[0].X)
	assert.Equal(t, 80+20, candidates[0].Y)
}

func TestDetectErrorsWhenTemplateLargerThanScreenshot(t *testing.T) {
	tpl := checkerTemplate(100, 100)
	d := New(tpl, DefaultThreshold)

	small := image.NewRGBA(image.Rect(0, 0, 50, 50))
	_, err := d.Detect(small)
	require.Error(t, err)
	var sizeErr *ErrTemplateLargerThanScreenshot
	assert.ErrorAs(t, err, &sizeErr)
}

func TestBestMatchIgnoresThreshold(t *testing.T) {
	tpl := checkerTemplate(32, 32)
	d := New(tpl, 0.99) // unreachable threshold for the noisy canvas below

	canvas := canvasWithTemplateAt(tpl, 200, 200, 50, 50)
	best, err := d.BestMatch(canvas)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 50+16, best.X)
	assert.Equal(t, 50+16, best.Y)
}

func TestSuppressNeverKeepsTwoCandidatesWithinRadius(t *testing.T) {
	candidates := []Candidate{
		{X: 100, Y: 100, Score: 0.9},
		{X: 110, Y: 100, Score: 0.85}, // within 20 of the above, must drop
		{X: 200, Y: 200, Score: 0.8},
	}
	kept := suppress(candidates)
	require.Len(t, kept, 2)
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			assert.Greater(t, chebyshev(kept[i].X-kept[j].X, kept[i].Y-kept[j].Y), nmsRadius)
		}
	}
}
