package knownlocations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasDataForCompiledKingdom(t *testing.T) {
	assert.True(t, HasData(100))
	assert.False(t, HasData(999999))
}

func TestPlanDeterministicAndNonEmpty(t *testing.T) {
	a := Plan(100, 0.8)
	b := Plan(100, 0.8)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestPlanFullCoverageCoversEveryRawLocationWithinViewport(t *testing.T) {
	loadOnce.Do(load)
	locations := table[100]
	positions := Plan(100, 1.0)

	for _, loc := range locations {
		reachable := false
		for _, pos := range positions {
			dx := loc.x - pos.X
			if dx < 0 {
				dx = -dx
			}
			dy := loc.y - pos.Y
			if dy < 0 {
				dy = -dy
			}
			if dx <= 17 && dy <= 17 {
				reachable = true
				break
			}
		}
		if !reachable {
			t.Fatalf("raw location (%d,%d) not within viewport radius of any representative", loc.x, loc.y)
		}
	}
}

func TestPlanCoverageTruncatesShorterThanFullCoverage(t *testing.T) {
	partial := Plan(100, 0.5)
	full := Plan(100, 1.0)
	assert.Less(t, len(partial), len(full))
}

func TestPlanUnknownKingdomReturnsNil(t *testing.T) {
	assert.Nil(t, Plan(999999, 0.8))
}

func TestPlanNonPositiveCoverageUsesDefault(t *testing.T) {
	a := Plan(100, 0)
	b := Plan(100, defaultCoverage)
	assert.Equal(t, b, a)
}
