package world

import (
	"errors"
	"fmt"
)

var (
	// ErrMapDataInvalid means map rows do not form an exact
	// width×height rectangle.
	ErrMapDataInvalid = errors.New("map data invalid")
	// ErrOutOfBounds means a coordinate lies outside the layer map.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
)

// Grid is one layer's character map: height rows of width single-byte
// glyphs in a flat row-major array. (0,0) is the top-left corner.
// OriginX/OriginY carry the document's world offset for display; they
// never shift lookups.
type Grid struct {
	width   int
	height  int
	cells   []byte // cells[y*width+x]
	OriginX int
	OriginY int
}

// NewGrid validates rows into a grid: exactly height rows of exactly
// width bytes each.
func NewGrid(width, height int, rows []string) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrMapDataInvalid, width, height)
	}
	if len(rows) != height {
		return nil, fmt.Errorf("%w: %d rows, want %d", ErrMapDataInvalid, len(rows), height)
	}
	g := &Grid{width: width, height: height, cells: make([]byte, width*height)}
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d chars, want %d", ErrMapDataInvalid, y, len(row), width)
		}
		copy(g.cells[y*width:], row)
	}
	return g, nil
}

func (g *Grid) Width() int { return g.width }

func (g *Grid) Height() int { return g.height }

// Contains reports whether (x,y) lies on the map.
func (g *Grid) Contains(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

// At returns the glyph at (x,y); ok is false outside the map.
func (g *Grid) At(x, y int) (byte, bool) {
	if !g.Contains(x, y) {
		return 0, false
	}
	return g.cells[y*g.width+x], true
}

// Set replaces exactly one glyph; a no-op outside the map. Row lengths
// never change.
func (g *Grid) Set(x, y int, ch byte) bool {
	if !g.Contains(x, y) {
		return false
	}
	g.cells[y*g.width+x] = ch
	return true
}

// Region returns h rows of w glyphs with (x,y) as the top-left corner,
// or nil when any part of the rectangle leaves the map.
func (g *Grid) Region(x, y, w, h int) []string {
	if w <= 0 || h <= 0 || !g.Contains(x, y) || !g.Contains(x+w-1, y+h-1) {
		return nil
	}
	rows := make([]string, 0, h)
	for ry := y; ry < y+h; ry++ {
		start := ry*g.width + x
		rows = append(rows, string(g.cells[start:start+w]))
	}
	return rows
}

// Lines returns a copy of the full map as strings.
func (g *Grid) Lines() []string {
	rows := make([]string, 0, g.height)
	for y := 0; y < g.height; y++ {
		rows = append(rows, string(g.cells[y*g.width:(y+1)*g.width]))
	}
	return rows
}
