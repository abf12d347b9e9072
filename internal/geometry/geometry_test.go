package geometry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/tessellate"
)

func testCells(t *testing.T) []tessellate.Cell {
	t.Helper()
	cells, err := tessellate.Scheme{Index: 1, Size: "30.0"}.Generate()
	require.NoError(t, err)
	return cells
}

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon()
}

func TestResolveSingleMatch(t *testing.T) {
	cells := testCells(t)

	code, err := Resolve(rect(-170, -80, -160, -70), WGS84, cells)
	require.NoError(t, err)
	assert.Equal(t, "BC222222", code)

	// Same tile twice resolves identically.
	again, err := Resolve(rect(-170, -80, -160, -70), WGS84, cells)
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestResolveWebMercator(t *testing.T) {
	cells := testCells(t)
	tile := project.Polygon(rect(-170, -80, -160, -70), project.WGS84.ToMercator)
	code, err := Resolve(tile, WebMercator, cells)
	require.NoError(t, err)
	assert.Equal(t, "BC222222", code)
}

func TestResolveAmbiguous(t *testing.T) {
	cells := testCells(t)
	// Straddles the -150° meridian: overlaps two cells with area.
	_, err := Resolve(rect(-155, -80, -145, -70), WGS84, cells)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
}

func TestResolveNoMatch(t *testing.T) {
	cells := testCells(t)
	// Entirely inside the inset strip between two columns.
	_, err := Resolve(rect(-150.0015, -80, -149.9985, -70), WGS84, cells)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
}

func TestParseCRS(t *testing.T) {
	crs, err := ParseCRS("")
	require.NoError(t, err)
	assert.Equal(t, WGS84, crs)

	crs, err = ParseCRS("EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, WebMercator, crs)

	_, err = ParseCRS("EPSG:32617")
	assert.Error(t, err)
}

const schemeJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {
        "Tile": "BH4PH57",
        "GeoTIFF_Link": "s3://bucket/BlueTopo/BH4PH57/tile.tiff",
        "RAT_Link": "s3://bucket/BlueTopo/BH4PH57/tile.tiff.aux.xml",
        "Delivered_Date": "2024-03-01",
        "Resolution": "4m",
        "UTM": 17,
        "GeoTIFF_Sha256": "aa11",
        "RAT_Sha256": "bb22"
      },
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-81,30],[-80.9,30],[-80.9,30.1],[-81,30.1],[-81,30]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"Tile": "BH4PH58", "Delivered_Date": null},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-80,31],[-79.9,31],[-79.9,31.1],[-80,31.1],[-80,31]]]
      }
    }
  ]
}`

func writeScheme(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheme.geojson")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestOpenScheme(t *testing.T) {
	scheme, err := OpenScheme(writeScheme(t, schemeJSON))
	require.NoError(t, err)
	require.Len(t, scheme.Features, 2)

	ft := scheme.Features[0]
	assert.Equal(t, "BH4PH57", ft.Tile)
	assert.Equal(t, "2024-03-01", ft.Delivered)
	assert.Equal(t, "4m", ft.Resolution)
	assert.Equal(t, "17", ft.UTM)
	assert.Equal(t, "aa11", ft.GeoTIFFChecksum)
	assert.True(t, ft.DeliveredWithLinks())

	assert.False(t, scheme.Features[1].DeliveredWithLinks())
}

func TestOpenSchemeRejectsUnknownCRS(t *testing.T) {
	body := `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:26917"}},"features":[]}`
	_, err := OpenScheme(writeScheme(t, body))
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
}

func TestOpenSchemeUnreadable(t *testing.T) {
	_, err := OpenScheme(filepath.Join(t.TempDir(), "missing.geojson"))
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
}

func TestIntersect(t *testing.T) {
	scheme, err := OpenScheme(writeScheme(t, schemeJSON))
	require.NoError(t, err)

	aoi := &Scheme{CRS: WGS84, Features: []TileFeature{{Geometry: rect(-81.05, 29.95, -80.95, 30.05)}}}
	hits := Intersect(aoi, scheme)
	require.Len(t, hits, 1)
	assert.Equal(t, "BH4PH57", hits[0].Tile)

	far := &Scheme{CRS: WGS84, Features: []TileFeature{{Geometry: rect(10, 10, 11, 11)}}}
	assert.Empty(t, Intersect(far, scheme))
}
