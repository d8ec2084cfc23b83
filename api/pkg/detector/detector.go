// Package detector implements grayscale template matching against
// screenshot bitmaps: normalized cross-correlation, threshold + local-maximum
// candidate extraction, and spatial non-maximum suppression. Every candidate
// that survives suppression is returned; the count is not capped.
//
// There is no ecosystem template-matching library in play here (the corpus
// this was grounded on carries no computer-vision dependency), so this
// package works directly against the standard library's image.Image and
// is the one place in Mercy that leans on the standard library by
// necessity rather than convention.
package detector

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
)

const (
	// DefaultThreshold is the minimum normalized cross-correlation score a
	// candidate must reach (score >= threshold) to be reported by Detect.
	DefaultThreshold = 0.60

	// nmsRadius is the Chebyshev-distance radius used for non-maximum
	// suppression: a candidate is dropped if a higher-scored candidate
	// already kept lies within this many pixels.
	nmsRadius = 20
)

// Candidate is a detection-time hypothesis: a template-center pixel
// position and its normalized cross-correlation score in [0, 1].
type Candidate struct {
	X     int
	Y     int
	Score float32
}

// Detector matches a fixed reference template against screenshots. It is
// safe for concurrent use: the template is converted to grayscale once and
// never mutated afterwards.
type Detector struct {
	template       grayImage
	templateW      int
	templateH      int
	threshold      float32
	templateMean   float64
	templateNormSq float64
}

// New builds a Detector from a reference template image. The template must
// be non-empty; callers are expected to check it against every screenshot
// they intend to scan since a template larger than the screenshot is a
// fatal configuration error (see Detect).
func New(template image.Image, threshold float32) *Detector {
	gray := toGrayscale(template)
	mean, normSq := templateStats(gray)
	return &Detector{
		template:       gray,
		templateW:      gray.w,
		templateH:      gray.h,
		threshold:      threshold,
		templateMean:   mean,
		templateNormSq: normSq,
	}
}

// Threshold returns the minimum normalized cross-correlation score Detect
// requires, for callers (e.g. GET /detect) that report it alongside a match.
func (d *Detector) Threshold() float32 {
	return d.threshold
}

// Bounds returns the template's pixel dimensions.
func (d *Detector) Bounds() (w, h int) {
	return d.templateW, d.templateH
}

// ErrTemplateLargerThanScreenshot is returned when the screenshot is
// smaller than the reference template along either axis — a configuration
// mismatch that should be impossible in production.
type ErrTemplateLargerThanScreenshot struct {
	TemplateW, TemplateH     int
	ScreenshotW, ScreenshotH int
}

func (e *ErrTemplateLargerThanScreenshot) Error() string {
	return fmt.Sprintf("template %dx%d is larger than screenshot %dx%d", e.TemplateW, e.TemplateH, e.ScreenshotW, e.ScreenshotH)
}

// Detect runs the full pipeline: score map, threshold filter, local maxima,
// non-maximum suppression, descending-score ordering. Returns an empty
// slice (not an error) if nothing passes threshold.
func (d *Detector) Detect(screenshot image.Image) ([]Candidate, error) {
	scores, offsetsW, offsetsH, err := d.scoreMap(screenshot)
	if err != nil {
		return nil, err
	}

	var raw []Candidate
	for y := 0; y < offsetsH; y++ {
		for x := 0; x < offsetsW; x++ {
			score := scores[y*offsetsW+x]
			if score < d.threshold {
				continue
			}
			if !isLocalMaximum(scores, offsetsW, offsetsH, x, y) {
				continue
			}
			raw = append(raw, Candidate{
				X:     x + d.templateW/2,
				Y:     y + d.templateH/2,
				Score: score,
			})
		}
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].Score > raw[j].Score })
	return suppress(raw), nil
}

// BestMatch returns the single highest-scoring offset regardless of
// threshold, for calibration use.
func (d *Detector) BestMatch(screenshot image.Image) (*Candidate, error) {
	scores, offsetsW, offsetsH, err := d.scoreMap(screenshot)
	if err != nil {
		return nil, err
	}
	if offsetsW == 0 || offsetsH == 0 {
		return nil, nil
	}

	best := Candidate{Score: -1}
	for y := 0; y < offsetsH; y++ {
		for x := 0; x < offsetsW; x++ {
			score := scores[y*offsetsW+x]
			if score > best.Score {
				best = Candidate{X: x + d.templateW/2, Y: y + d.templateH/2, Score: score}
			}
		}
	}
	if best.Score < 0 {
		return nil, nil
	}
	return &best, nil
}

// scoreMap computes normalized cross-correlation at every valid top-left
// offset of the template within the screenshot.
func (d *Detector) scoreMap(screenshot image.Image) (scores []float32, offsetsW, offsetsH int, err error) {
	gray := toGrayscale(screenshot)
	offsetsW = gray.w - d.templateW + 1
	offsetsH = gray.h - d.templateH + 1
	if offsetsW <= 0 || offsetsH <= 0 {
		return nil, 0, 0, &ErrTemplateLargerThanScreenshot{
			TemplateW: d.templateW, TemplateH: d.templateH,
			ScreenshotW: gray.w, ScreenshotH: gray.h,
		}
	}

	scores = make([]float32, offsetsW*offsetsH)
	for oy := 0; oy < offsetsH; oy++ {
		for ox := 0; ox < offsetsW; ox++ {
			scores[oy*offsetsW+ox] = d.ncc(gray, ox, oy)
		}
	}
	return scores, offsetsW, offsetsH, nil
}

// ncc computes the normalized cross-correlation between the template and
// the screenshot window whose top-left corner is (ox, oy).
func (d *Detector) ncc(screenshot grayImage, ox, oy int) float32 {
	var windowSum, windowSumSq, crossSum float64
	n := d.templateW * d.templateH

	for ty := 0; ty < d.templateH; ty++ {
		for tx := 0; tx < d.templateW; tx++ {
			sv := float64(screenshot.at(ox+tx, oy+ty))
			tv := float64(d.template.at(tx, ty))
			windowSum += sv
			windowSumSq += sv * sv
			crossSum += sv * tv
		}
	}

	windowMean := windowSum / float64(n)
	windowNormSq := windowSumSq - float64(n)*windowMean*windowMean
	if windowNormSq <= 0 || d.templateNormSq <= 0 {
		return 0
	}

	numerator := crossSum - float64(n)*windowMean*d.templateMean
	denominator := math.Sqrt(windowNormSq * d.templateNormSq)
	if denominator == 0 {
		return 0
	}

	score := numerator / denominator
	// Clamp into [0, 1]: NCC is naturally in [-1, 1] but a template match
	// is never meaningfully "anti-correlated" for this use case.
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return float32(score)
}

func isLocalMaximum(scores []float32, w, h, x, y int) bool {
	v := scores[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			if scores[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}

// suppress runs Chebyshev-distance non-maximum suppression over
// descending-score-ordered candidates: a candidate survives only if no
// already-kept candidate lies within nmsRadius pixels.
func suppress(ordered []Candidate) []Candidate {
	kept := make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		tooClose := false
		for _, k := range kept {
			if chebyshev(c.X-k.X, c.Y-k.Y) <= nmsRadius {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, c)
		}
	}
	return kept
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

func templateStats(g grayImage) (mean, normSq float64) {
	n := g.w * g.h
	var sum, sumSq float64
	for _, v := range g.pix {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	mean = sum / float64(n)
	normSq = sumSq - float64(n)*mean*mean
	return mean, normSq
}

// grayImage is a dense 8-bit grayscale buffer, decoupled from image.Image
// so the matching inner loop avoids interface-call and color-model
// overhead per pixel.
type grayImage struct {
	pix  []uint8
	w, h int
}

func (g grayImage) at(x, y int) uint8 {
	return g.pix[y*g.w+x]
}

// toGrayscale converts an arbitrary image.Image to 8-bit grayscale using
// the standard luminance weights.
func toGrayscale(img image.Image) grayImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			pix[y*w+x] = c.Y
		}
	}
	return grayImage{pix: pix, w: w, h: h}
}
