// Package tessellate generates the deterministic global grid used to assign
// tiles to subregions and UTM zones.
//
// The grid is a pure function of (tileset index, cell size): one rectangular
// cell per longitude/latitude step, each labeled with a short base-N code and
// carrying its computed UTM zone and hemisphere. Cells are inset by a small
// buffer so that adjacent cells never share boundary area; a tile polygon
// intersecting the grid therefore matches exactly one cell, never two at a
// shared edge.
package tessellate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

const (
	// tilesetCharset encodes the tileset index (minimum two symbols).
	tilesetCharset = "BCDFGHJKLMNPQRSTVWXZ"
	// counterCharset encodes the x/y step counters (minimum three symbols).
	counterCharset = "2456789BCDFGHJKLMNPQRSTVWXZ"

	// cellInset shrinks each cell inward so neighboring cells cannot both
	// claim a tile sitting on their shared edge.
	cellInset = 0.002
)

// Cell is one rectangle of the global grid. Bound is already inset by
// cellInset on every side.
type Cell struct {
	Code       string
	Zone       int
	Hemisphere string
	Bound      orb.Bound
}

// Polygon returns the inset cell outline.
func (c Cell) Polygon() orb.Polygon {
	return c.Bound.ToPolygon()
}

// Intersects reports whether geom overlaps the cell with nonzero area.
// Boundary touches do not count; the inset guarantees a tile never touches
// two cells with area at once.
func (c Cell) Intersects(geom orb.Geometry) bool {
	clipped := clip.Geometry(c.Bound, geom)
	if clipped == nil {
		return false
	}
	return planar.Area(clipped) > 0
}

// Scheme identifies one deterministic tessellation: the tileset index and the
// cell side length in degrees. Size is kept as a string because its decimal
// places define the rounding precision of the grid arithmetic; "1.2" and
// "1.20" are different schemes.
type Scheme struct {
	Index int
	Size  string
}

// Generate produces every cell of the scheme, west to east, south to north.
// The output depends only on the scheme values: the same Scheme always yields
// the same cells in the same order.
func (s Scheme) Generate() ([]Cell, error) {
	size, places, err := parseSize(s.Size)
	if err != nil {
		return nil, err
	}
	name := convertBase(tilesetCharset, s.Index, 2)

	var cells []Cell
	y := round(-90+size, places)
	yCount := 0
	for y <= 90 {
		hemisphere := "N"
		if y <= 0 {
			hemisphere = "S"
		}
		x := -180.0
		xCount := 0
		for x < 180 {
			zone := int(math.Ceil((180 + x + 1e-8) / 6))
			bound := orb.Bound{
				Min: orb.Point{x + cellInset, round(y-size, places) + cellInset},
				Max: orb.Point{round(x+size, places) - cellInset, y - cellInset},
			}
			cells = append(cells, Cell{
				Code:       name + convertBase(counterCharset, xCount, 3) + convertBase(counterCharset, yCount, 3),
				Zone:       zone,
				Hemisphere: hemisphere,
				Bound:      bound,
			})
			x = round(x+size, places)
			xCount++
		}
		y = round(y+size, places)
		yCount++
	}
	return cells, nil
}

func parseSize(size string) (float64, int, error) {
	v, err := strconv.ParseFloat(size, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse cell size %q: %w", size, err)
	}
	if v <= 0 || v > 90 {
		return 0, 0, fmt.Errorf("cell size %q out of range (0, 90]", size)
	}
	_, frac, ok := strings.Cut(size, ".")
	if !ok {
		return 0, 0, fmt.Errorf("cell size %q must carry decimal places", size)
	}
	return v, len(frac), nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// convertBase renders n in the base defined by charset, left-padded with the
// lowest symbol to minWidth.
func convertBase(charset string, n, minWidth int) string {
	base := len(charset)
	var out []byte
	for n > 0 {
		out = append(out, charset[n%base])
		n /= base
	}
	for len(out) < minWidth {
		out = append(out, charset[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
