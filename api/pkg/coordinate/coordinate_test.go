package coordinate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameToPixelRoundTrip(t *testing.T) {
	cases := []struct{ dx, dy int }{
		{0, 0}, {1, 1}, {-5, 17}, {17, -17}, {100, 100}, {-100, -50},
	}
	for _, c := range cases {
		px, py := GameToPixel(float64(c.dx), float64(c.dy))
		gx, gy := PixelToGame(px, py)
		assert.Equal(t, c.dx, RoundTile(gx), "dx round trip for %+v", c)
		assert.Equal(t, c.dy, RoundTile(gy), "dy round trip for %+v", c)
	}
}

func TestOffsetFromCenter(t *testing.T) {
	dx, dy := OffsetFromCenter(Pixel{X: 760 + 10, Y: 400 - 5})
	assert.Equal(t, 10, dx)
	assert.Equal(t, -5, dy)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5))
	assert.Equal(t, 1023, Clamp(2000))
	assert.Equal(t, 512, Clamp(512))
}

func TestClampTile(t *testing.T) {
	got := ClampTile(Tile{X: -1, Y: 1024})
	assert.Equal(t, Tile{X: 0, Y: 1023}, got)
}

func TestTargetTileClampsIntoBounds(t *testing.T) {
	got := TargetTile(Tile{X: 1020, Y: 1020}, Pixel{X: 5000, Y: 5000})
	assert.Equal(t, 1023, got.X)
	assert.Equal(t, 1023, got.Y)
}
