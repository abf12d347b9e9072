package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
)

const (
	geotiffBody = "geotiff-bytes"
	ratBody     = "rat-bytes"
	geotiffSum  = "96f5947de564e517567add5b520c43496e94f59a3c4e90aa9885dc4d39294b4b"
	ratSum      = "562e7150087a4832535d5675ccfd3183c180bb716a7b5b6082a4473ef3b8bc1d"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]string)}
}

func (m *memStore) put(key, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
}

func (m *memStore) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

func (m *memStore) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for key, body := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m *memStore) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	body, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such object %s", key)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(body), 0o644)
}

// schemeJSON publishes one delivered tile, BH57X, whose footprint sits
// inside a single 1.2 degree subregion cell.
func schemeJSON(geotiffSHA, ratSHA string) string {
	return fmt.Sprintf(`{
	  "type": "FeatureCollection",
	  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}},
	  "features": [{
	    "type": "Feature",
	    "properties": {
	      "tile": "BH57X",
	      "GeoTIFF_Link": "https://example.com/BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff",
	      "RAT_Link": "https://example.com/BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff.aux.xml",
	      "Delivered_Date": "2024-03-01",
	      "Resolution": "4m",
	      "UTM": 17,
	      "GeoTIFF_SHA256": %q,
	      "RAT_SHA256": %q
	    },
	    "geometry": {"type": "Polygon", "coordinates": [[
	      [-80.9, 30.5], [-80.8, 30.5], [-80.8, 30.6], [-80.9, 30.6], [-80.9, 30.5]
	    ]]}
	  }]
	}`, geotiffSHA, ratSHA)
}

const aoiJSON = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {},
    "geometry": {"type": "Polygon", "coordinates": [[
      [-81.0, 30.4], [-80.7, 30.4], [-80.7, 30.7], [-81.0, 30.7], [-81.0, 30.4]
    ]]}
  }]
}`

func seedStore(t *testing.T, geotiffSHA, ratSHA string) *memStore {
	t.Helper()
	store := newMemStore()
	store.put("BlueTopo/_BlueTopo_Tile_Scheme/BlueTopo_Tile_Scheme_20240301.geojson",
		schemeJSON(geotiffSHA, ratSHA))
	store.put("BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff", geotiffBody)
	store.put("BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff.aux.xml", ratBody)
	return store
}

func testProject(t *testing.T) (config.Project, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	project, err := config.Load(dir, "bluetopo")
	require.NoError(t, err)
	project.Workers = 2
	reg, err := registry.Open(dir, project.Source)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	aoiPath := filepath.Join(dir, "aoi.geojson")
	require.NoError(t, os.WriteFile(aoiPath, []byte(aoiJSON), 0o644))
	return project, reg, aoiPath
}

func TestFetchSchemeReplacesWholesale(t *testing.T) {
	project, reg, _ := testProject(t)
	store := seedStore(t, geotiffSum, ratSum)

	path1, err := FetchScheme(context.Background(), store, reg, project)
	require.NoError(t, err)
	assert.FileExists(t, path1)

	store.remove("BlueTopo/_BlueTopo_Tile_Scheme/BlueTopo_Tile_Scheme_20240301.geojson")
	store.put("BlueTopo/_BlueTopo_Tile_Scheme/BlueTopo_Tile_Scheme_20240401.geojson",
		schemeJSON(geotiffSum, ratSum))

	path2, err := FetchScheme(context.Background(), store, reg, project)
	require.NoError(t, err)
	assert.NotEqual(t, path1, path2)
	assert.NoFileExists(t, path1)

	ts, ok, err := reg.Tileset()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, ts.Location, "20240401")
}

func TestRunFetchesVerifiesAndCommits(t *testing.T) {
	project, reg, aoiPath := testProject(t)
	store := seedStore(t, geotiffSum, ratSum)

	report, err := Run(context.Background(), store, reg, project, aoiPath)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tracked)
	assert.Equal(t, []string{"BH57X"}, report.Success)
	assert.Empty(t, report.Failed)
	assert.Positive(t, report.Bytes)

	assert.FileExists(t, filepath.Join(project.Dir, "BlueTopo/UTM17/BlueTopo_BH57X_20240301.tiff"))
	assert.FileExists(t, filepath.Join(project.Dir, "BlueTopo/UTM17/BlueTopo_BH57X_20240301.tiff.aux.xml"))

	tiles, err := reg.AllTiles()
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.False(t, tiles[0].NeedsData())
	assert.Equal(t, "17", tiles[0].UTM.String)
	assert.True(t, tiles[0].Subregion.Valid)

	subs, err := reg.ListUnbuiltSubregions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, tiles[0].Subregion.String, subs[0].Region)

	// A second run finds nothing to do.
	report, err = Run(context.Background(), store, reg, project, aoiPath)
	require.NoError(t, err)
	assert.Empty(t, report.Success)
	assert.Equal(t, 1, report.Existing)
}

func TestRunChecksumMismatchNeverCommits(t *testing.T) {
	project, reg, aoiPath := testProject(t)
	store := seedStore(t, strings.Repeat("0", 64), ratSum)

	report, err := Run(context.Background(), store, reg, project, aoiPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"BH57X"}, report.HashMismatch)
	assert.Empty(t, report.Success)

	// Nothing committed, nothing left behind: the tile is cleanly retryable.
	tiles, err := reg.AllTiles()
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.True(t, tiles[0].NeedsData())
	assert.NoFileExists(t, filepath.Join(project.Dir, "BlueTopo/UTM17/BlueTopo_BH57X_20240301.tiff"))
}

func TestRunClassifiesMissingRemotes(t *testing.T) {
	project, reg, aoiPath := testProject(t)
	store := seedStore(t, geotiffSum, ratSum)
	store.remove("BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff.aux.xml")

	report, err := Run(context.Background(), store, reg, project, aoiPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"BH57X"}, report.MissingDownload)

	store.remove("BlueTopo/BH57X/BlueTopo_BH57X_20240301.tiff")
	report, err = Run(context.Background(), store, reg, project, aoiPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"BH57X"}, report.NotFound)
}

func TestReportString(t *testing.T) {
	r := Report{Tracked: 3, Existing: 1, Success: []string{"a"}, Failed: []string{"b"}, Bytes: 2048}
	s := r.String()
	assert.Contains(t, s, "3 tracked")
	assert.Contains(t, s, "1 fetched")
	assert.Contains(t, s, "1 failed")
}
