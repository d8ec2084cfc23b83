// Package planner produces ordered, deduplicated sequences of scan
// positions for a kingdom under one of several traversal strategies. All
// functions here are pure: same inputs always yield the same sequence, and
// nothing here talks to a driver or blocks.
package planner

import (
	"github.com/ijohanne/mercy/api/pkg/coordinate"
	"github.com/ijohanne/mercy/api/pkg/knownlocations"
)

// Pattern selects a scan traversal strategy.
type Pattern string

const (
	PatternSingle Pattern = "single"
	PatternWide   Pattern = "wide"
	PatternMulti  Pattern = "multi"
	PatternGrid   Pattern = "grid"
	PatternKnown  Pattern = "known"
)

const (
	defaultSingleStep  = 25
	defaultSingleRings = 4

	defaultWideStep  = 50
	defaultWideRings = 9

	multiStep  = 25
	multiRings = 4

	gridStep  = 30
	gridStart = 30
	gridEnd   = 960
)

var multiCenters = []coordinate.Tile{
	{X: 150, Y: 150}, {X: 512, Y: 150}, {X: 874, Y: 150},
	{X: 150, Y: 512}, {X: 512, Y: 512}, {X: 874, Y: 512},
	{X: 150, Y: 874}, {X: 512, Y: 874}, {X: 874, Y: 874},
}

// Options adjusts the defaults of a pattern. A zero value uses every
// pattern's documented default.
type Options struct {
	// Rings overrides the spiral ring count for single/wide. Ignored by
	// multi, grid and known.
	Rings int
	// Coverage overrides the known-pattern coverage fraction. Zero means
	// the knownlocations package default.
	Coverage float64
}

// Plan produces the ordered scan-position sequence for a kingdom under the
// given pattern. The sequence is finite and is intended to be walked once
// per scan pass; re-calling Plan with the same arguments yields an equal
// sequence.
func Plan(kingdom uint32, pattern Pattern, opts Options) []coordinate.Tile {
	switch pattern {
	case PatternSingle:
		rings := opts.Rings
		if rings <= 0 {
			rings = defaultSingleRings
		}
		return dedupAdjacent(clampAll(spiralFlat(coordinate.Tile{X: 512, Y: 512}, defaultSingleStep, rings)))
	case PatternWide:
		rings := opts.Rings
		if rings <= 0 {
			rings = defaultWideRings
		}
		return clampDedup(spiralFlat(coordinate.Tile{X: 512, Y: 512}, defaultWideStep, rings))
	case PatternMulti:
		return planMulti()
	case PatternGrid:
		return planGrid()
	case PatternKnown:
		positions := knownlocations.Plan(kingdom, opts.Coverage)
		if len(positions) == 0 {
			return planGrid()
		}
		return positions
	default:
		return planGrid()
	}
}

// planMulti interleaves the nine spiral centers ring-by-ring and
// deduplicates globally, keeping first occurrence.
func planMulti() []coordinate.Tile {
	rings := make([][][]coordinate.Tile, len(multiCenters))
	for i, c := range multiCenters {
		rings[i] = spiralRings(c, multiStep, multiRings)
	}

	seen := make(map[coordinate.Tile]struct{})
	out := make([]coordinate.Tile, 0, len(multiCenters)*81)

	maxRing := multiRings
	for ring := 0; ring <= maxRing; ring++ {
		for _, centerRings := range rings {
			if ring >= len(centerRings) {
				continue
			}
			for _, pos := range centerRings[ring] {
				clamped := coordinate.ClampTile(pos)
				if _, ok := seen[clamped]; ok {
					continue
				}
				seen[clamped] = struct{}{}
				out = append(out, clamped)
			}
		}
	}
	return out
}

// planGrid sweeps the kingdom row-major from (30,30) to (960,960) in steps
// of 30, yielding a 32x32 grid of positions.
func planGrid() []coordinate.Tile {
	out := make([]coordinate.Tile, 0, 32*32)
	for y := gridStart; y <= gridEnd; y += gridStep {
		for x := gridStart; x <= gridEnd; x += gridStep {
			out = append(out, coordinate.Tile{X: x, Y: y})
		}
	}
	return out
}

// spiralDirections lists the shared right, down, left, up walk order.
var spiralDirections = [4]coordinate.Tile{
	{X: 1, Y: 0},
	{X: 0, Y: 1},
	{X: -1, Y: 0},
	{X: 0, Y: -1},
}

// spiralFlat walks `quadruples` direction quadruples (right, down, left,
// up) out from center with leg lengths 1,1,2,2,3,... scaled by step,
// returning every position visited including the starting center.
func spiralFlat(center coordinate.Tile, step, quadruples int) []coordinate.Tile {
	out := []coordinate.Tile{center}
	pos := center
	legLength := 1
	totalLegs := quadruples * 4
	for leg := 0; leg < totalLegs; leg++ {
		dir := spiralDirections[leg%4]
		for s := 0; s < legLength; s++ {
			pos = coordinate.Tile{X: pos.X + dir.X*step, Y: pos.Y + dir.Y*step}
			out = append(out, pos)
		}
		if leg%2 == 1 {
			legLength++
		}
	}
	return out
}

// spiralRings is spiralFlat but grouped by ring: index 0 is the center,
// index r (1..quadruples) is the four legs completed in ring r.
func spiralRings(center coordinate.Tile, step, quadruples int) [][]coordinate.Tile {
	rings := make([][]coordinate.Tile, quadruples+1)
	rings[0] = []coordinate.Tile{center}
	pos := center
	legLength := 1
	for ring := 1; ring <= quadruples; ring++ {
		var ringPositions []coordinate.Tile
		for legInRing := 0; legInRing < 4; legInRing++ {
			legIdx := (ring-1)*4 + legInRing
			dir := spiralDirections[legIdx%4]
			for s := 0; s < legLength; s++ {
				pos = coordinate.Tile{X: pos.X + dir.X*step, Y: pos.Y + dir.Y*step}
				ringPositions = append(ringPositions, pos)
			}
			if legIdx%2 == 1 {
				legLength++
			}
		}
		rings[ring] = ringPositions
	}
	return rings
}

// clampAll clamps every position into kingdom bounds without deduplicating.
func clampAll(positions []coordinate.Tile) []coordinate.Tile {
	out := make([]coordinate.Tile, len(positions))
	for i, p := range positions {
		out[i] = coordinate.ClampTile(p)
	}
	return out
}

// dedupAdjacent drops a position equal to the immediately preceding one.
func dedupAdjacent(positions []coordinate.Tile) []coordinate.Tile {
	if len(positions) == 0 {
		return positions
	}
	out := make([]coordinate.Tile, 0, len(positions))
	out = append(out, positions[0])
	for i := 1; i < len(positions); i++ {
		if positions[i] == out[len(out)-1] {
			continue
		}
		out = append(out, positions[i])
	}
	return out
}

// clampDedup clamps each position as it is produced, then drops it if it
// equals the previously *emitted* (already clamped) position — the "clamp
// dedup" behavior used by the wide pattern so a run of off-map spiral
// positions collapses to a single boundary position instead of repeating.
func clampDedup(positions []coordinate.Tile) []coordinate.Tile {
	if len(positions) == 0 {
		return positions
	}
	out := make([]coordinate.Tile, 0, len(positions))
	out = append(out, coordinate.ClampTile(positions[0]))
	for i := 1; i < len(positions); i++ {
		clamped := coordinate.ClampTile(positions[i])
		if clamped == out[len(out)-1] {
			continue
		}
		out = append(out, clamped)
	}
	return out
}
