package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TileFeature is one tile polygon of the published tile scheme, with its
// delivery metadata. Checksums come from the scheme listing; they are the
// authoritative values downloads are verified against.
type TileFeature struct {
	Tile            string
	GeoTIFFLink     string
	RATLink         string
	Delivered       string
	Resolution      string
	UTM             string
	GeoTIFFChecksum string
	RATChecksum     string
	Geometry        orb.Geometry
}

// Delivered tiles carry a delivery date and at least a primary raster link.
func (f TileFeature) DeliveredWithLinks() bool {
	return f.Delivered != "" && f.GeoTIFFLink != ""
}

// Scheme is a parsed geometry layer: the tile scheme itself, or an
// area-of-interest layer (whose features carry geometry only).
type Scheme struct {
	CRS      CRS
	Features []TileFeature
}

// OpenScheme reads a GeoJSON feature collection. Property keys are matched
// case-insensitively; a legacy crs member selects the frame.
func OpenScheme(path string) (*Scheme, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read geometry file %s: %v", path, err)}
	}
	var envelope struct {
		CRS *struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("parse geometry file %s: %v", path, err)}
	}
	crsName := ""
	if envelope.CRS != nil {
		crsName = envelope.CRS.Properties.Name
	}
	crs, err := ParseCRS(crsName)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("parse geometry file %s: %v", path, err)}
	}
	scheme := &Scheme{CRS: crs}
	for _, ft := range fc.Features {
		if ft.Geometry == nil {
			continue
		}
		props := lowerProps(ft.Properties)
		scheme.Features = append(scheme.Features, TileFeature{
			Tile:            props["tile"],
			GeoTIFFLink:     props["geotiff_link"],
			RATLink:         props["rat_link"],
			Delivered:       props["delivered_date"],
			Resolution:      props["resolution"],
			UTM:             props["utm"],
			GeoTIFFChecksum: props["geotiff_sha256"],
			RATChecksum:     props["rat_sha256"],
			Geometry:        ft.Geometry,
		})
	}
	return scheme, nil
}

func lowerProps(props geojson.Properties) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case string:
			out[strings.ToLower(k)] = val
		case float64:
			out[strings.ToLower(k)] = trimFloat(val)
		case nil:
			// absent
		default:
			out[strings.ToLower(k)] = fmt.Sprint(val)
		}
	}
	return out
}

// trimFloat renders whole-number properties (UTM zones) without a fraction.
func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// Intersect returns the tiles of scheme overlapping any feature of the
// area-of-interest layer. Both layers may be in either accepted frame.
func Intersect(aoi, scheme *Scheme) []TileFeature {
	var out []TileFeature
	for _, tile := range scheme.Features {
		tileGeom := toWGS84(tile.Geometry, scheme.CRS)
		bound := tileGeom.Bound()
		for _, area := range aoi.Features {
			if overlaps(bound, toWGS84(area.Geometry, aoi.CRS)) {
				out = append(out, tile)
				break
			}
		}
	}
	return out
}
