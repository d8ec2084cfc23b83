// Package knownlocations holds the compiled-in table of historically
// observed exchange locations, clustered into viewport-sized cells and
// ranked by density. It backs the planner's "known" pattern.
package knownlocations

import (
	"bufio"
	_ "embed"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ijohanne/mercy/api/pkg/coordinate"
)

//go:embed assets/known_locations.csv
var rawCSV string

const (
	// cellSize is the viewport-sized density cell used to cluster raw
	// locations before ranking.
	cellSize = 25

	// defaultCoverage is used when a caller passes a non-positive coverage.
	defaultCoverage = 0.80
)

type rawLocation struct {
	x, y      int
	frequency int
}

var (
	loadOnce sync.Once
	table    map[uint32][]rawLocation
)

func load() {
	table = make(map[uint32][]rawLocation)
	scanner := bufio.NewScanner(strings.NewReader(rawCSV))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "kingdom") {
				continue
			}
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			continue
		}
		k, err1 := strconv.ParseUint(fields[0], 10, 32)
		x, err2 := strconv.Atoi(fields[1])
		y, err3 := strconv.Atoi(fields[2])
		freq, err4 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		kingdom := uint32(k)
		table[kingdom] = append(table[kingdom], rawLocation{x: x, y: y, frequency: freq})
	}
}

// HasData reports whether the compiled-in table has rows for a kingdom.
func HasData(kingdom uint32) bool {
	loadOnce.Do(load)
	_, ok := table[kingdom]
	return ok
}

// cell is a density cell: one per 25x25 tile block.
type cell struct {
	cellX, cellY int
	weight       int
	weightedX    int64 // sum of x*frequency, for the centroid
	weightedY    int64
}

// Plan returns the density-ranked scan positions for a kingdom, truncated
// to the coverage fraction of cumulative weight. A non-positive coverage
// uses the 0.80 default. Returns nil if the kingdom has no compiled-in
// data, so callers can fall back to another pattern.
func Plan(kingdom uint32, coverage float64) []coordinate.Tile {
	loadOnce.Do(load)
	locations, ok := table[kingdom]
	if !ok || len(locations) == 0 {
		return nil
	}
	if coverage <= 0 {
		coverage = defaultCoverage
	}

	cells := cluster(locations)
	ordered := rank(cells)
	return truncate(ordered, coverage)
}

// cluster partitions a kingdom's raw locations into non-overlapping 25x25
// cells and accumulates per-cell weight and weighted centroid sums.
func cluster(locations []rawLocation) map[[2]int]*cell {
	cells := make(map[[2]int]*cell)
	for _, loc := range locations {
		key := [2]int{loc.x / cellSize, loc.y / cellSize}
		c, ok := cells[key]
		if !ok {
			c = &cell{cellX: key[0], cellY: key[1]}
			cells[key] = c
		}
		c.weight += loc.frequency
		c.weightedX += int64(loc.x) * int64(loc.frequency)
		c.weightedY += int64(loc.y) * int64(loc.frequency)
	}
	return cells
}

type rankedCell struct {
	position coordinate.Tile
	weight   int
}

// rank orders cells by descending weight, breaking ties by ascending
// (y, x) for determinism, and resolves each cell to its frequency-weighted
// centroid clamped into kingdom bounds.
func rank(cells map[[2]int]*cell) []rankedCell {
	out := make([]rankedCell, 0, len(cells))
	for _, c := range cells {
		x := coordinate.RoundTile(float64(c.weightedX) / float64(c.weight))
		y := coordinate.RoundTile(float64(c.weightedY) / float64(c.weight))
		out = append(out, rankedCell{
			position: coordinate.ClampTile(coordinate.Tile{X: x, Y: y}),
			weight:   c.weight,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		if out[i].position.Y != out[j].position.Y {
			return out[i].position.Y < out[j].position.Y
		}
		return out[i].position.X < out[j].position.X
	})
	return out
}

// truncate returns the prefix of ordered cells whose cumulative weight
// first reaches the requested coverage fraction of the total weight.
func truncate(ordered []rankedCell, coverage float64) []coordinate.Tile {
	total := 0
	for _, c := range ordered {
		total += c.weight
	}
	if total == 0 {
		return nil
	}

	target := coverage * float64(total)
	out := make([]coordinate.Tile, 0, len(ordered))
	cumulative := 0
	for _, c := range ordered {
		out = append(out, c.position)
		cumulative += c.weight
		if float64(cumulative) >= target {
			break
		}
	}
	return out
}
