package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/compose"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
)

type call struct {
	inputs []string
	output string
	levels []int
}

// fakeCompositor writes the output file (and overview, unless suppressed)
// so the registry's on-disk checks see real artifacts.
type fakeCompositor struct {
	calls      []call
	noOverview bool
}

func (f *fakeCompositor) Compose(_ context.Context, inputs []string, output string, levels []int, _ compose.Options) (bool, error) {
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return false, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(output, []byte("vrt"), 0o644); err != nil {
		return false, err
	}
	f.calls = append(f.calls, call{inputs: inputs, output: output, levels: levels})
	if len(levels) == 0 || f.noOverview {
		return false, nil
	}
	if err := os.WriteFile(output+".ovr", []byte("ovr"), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// seed tracks three tiles in one subregion, two at 4 m and one at 16 m,
// with their files on disk and artifacts recorded.
func seed(t *testing.T) (config.Project, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	project, err := config.Load(dir, "bluetopo")
	require.NoError(t, err)
	reg, err := registry.Open(dir, project.Source)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	names := []string{"T1", "T2", "T3"}
	resolutions := []string{"4m", "4m", "16m"}
	_, err = reg.InsertTilenames(names)
	require.NoError(t, err)

	var deliveries []registry.Delivery
	var records []registry.ArtifactRecord
	for i, name := range names {
		deliveries = append(deliveries, registry.Delivery{
			Tilename:   name,
			Delivered:  "2024-03-01",
			Resolution: resolutions[i],
			UTM:        "17",
			Region:     "BC224224",
		})
		geotiff := filepath.Join("BlueTopo", "UTM17", name+".tiff")
		rat := geotiff + ".aux.xml"
		write(t, dir, geotiff)
		write(t, dir, rat)
		records = append(records, registry.ArtifactRecord{
			Tilename:    name,
			Region:      "BC224224",
			UTM:         "17",
			GeoTIFFDisk: geotiff,
			RATDisk:     rat,
		})
	}
	_, err = reg.UpsertTileLinks(deliveries)
	require.NoError(t, err)
	require.NoError(t, reg.RecordTileArtifacts(records))
	return project, reg
}

func write(t *testing.T, root, relative string) {
	t.Helper()
	path := filepath.Join(root, relative)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestRunBuildsSubregionAndZone(t *testing.T) {
	project, reg := seed(t)
	comp := &fakeCompositor{}

	res, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubregionsBuilt)
	assert.Equal(t, 1, res.UTMZonesBuilt)

	// One band composite, the complete, then the zone combine.
	require.Len(t, comp.calls, 3)
	band := comp.calls[0]
	assert.Equal(t, filepath.Join(project.Dir, "BlueTopo_VRT/BC224224/BC224224_4m.vrt"), band.output)
	assert.Len(t, band.inputs, 2)
	assert.Equal(t, []int{4, 8}, band.levels)

	complete := comp.calls[1]
	assert.Equal(t, filepath.Join(project.Dir, "BlueTopo_VRT/BC224224/BC224224_complete.vrt"), complete.output)
	assert.Equal(t, []int{16}, complete.levels)
	// The 16 m tile's raster feeds the complete directly, alongside the band vrt.
	assert.Contains(t, complete.inputs, filepath.Join(project.Dir, "BlueTopo/UTM17/T3.tiff"))
	assert.Contains(t, complete.inputs, band.output)

	combined := comp.calls[2]
	assert.Equal(t, filepath.Join(project.Dir, "BlueTopo_VRT/BlueTopo_Fetched_UTM17.vrt"), combined.output)
	assert.Equal(t, []int{32, 64}, combined.levels)
	assert.Equal(t, []string{complete.output}, combined.inputs)
	assert.FileExists(t, combined.output+".ovr")

	subs, err := reg.BuiltSubregions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Res4.Path.Valid)
	assert.False(t, subs[0].Res2.Path.Valid)
	zones, err := reg.BuiltUTMZones()
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	// Nothing left unbuilt: a second run is a no-op.
	res, err = Run(context.Background(), reg, project, comp)
	require.NoError(t, err)
	assert.Zero(t, res.SubregionsBuilt)
	assert.Zero(t, res.UTMZonesBuilt)
	assert.Len(t, comp.calls, 3)
}

func TestRunLeavesEmptySubregionUnbuilt(t *testing.T) {
	dir := t.TempDir()
	project, err := config.Load(dir, "bluetopo")
	require.NoError(t, err)
	reg, err := registry.Open(dir, project.Source)
	require.NoError(t, err)
	defer reg.Close()
	// Edge rows exist but no tile files do.
	require.NoError(t, reg.RecordTileArtifacts([]registry.ArtifactRecord{
		{Tilename: "T1", Region: "BC224224", UTM: "17", GeoTIFFDisk: "missing.tiff", RATDisk: "missing.aux"},
	}))

	comp := &fakeCompositor{}
	res, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)
	assert.Zero(t, res.SubregionsBuilt)
	assert.Zero(t, res.UTMZonesBuilt)
	assert.Empty(t, comp.calls)

	subs, err := reg.ListUnbuiltSubregions()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestRunRequiresZoneOverview(t *testing.T) {
	project, reg := seed(t)
	comp := &fakeCompositor{noOverview: true}

	_, err := Run(context.Background(), reg, project, comp)
	var artifactErr *ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.Contains(t, artifactErr.Path, "UTM17")

	// The subregion pass completed; only the zone stays unbuilt.
	subs, err := reg.BuiltSubregions()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	zones, err := reg.ListUnbuiltUTMZones()
	require.NoError(t, err)
	assert.Len(t, zones, 1)
}

func TestRunRebuildsSweptClosure(t *testing.T) {
	project, reg := seed(t)
	comp := &fakeCompositor{}
	_, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)

	// Losing a complete composite invalidates the subregion and its zone;
	// the next run regenerates both.
	require.NoError(t, os.Remove(filepath.Join(project.Dir,
		"BlueTopo_VRT/BC224224/BC224224_complete.vrt")))

	res, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Swept.SubregionsInvalidated)
	assert.Equal(t, 1, res.Swept.UTMZonesInvalidated)
	assert.Equal(t, 1, res.SubregionsBuilt)
	assert.Equal(t, 1, res.UTMZonesBuilt)
	assert.FileExists(t, filepath.Join(project.Dir, "BlueTopo_VRT/BC224224/BC224224_complete.vrt"))
}

func TestRedeliveryCycle(t *testing.T) {
	project, reg := seed(t)
	comp := &fakeCompositor{}
	_, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)

	// A newer delivery removes T1's files and nulls its artifact state.
	n, err := reg.UpsertTileLinks([]registry.Delivery{{
		Tilename:   "T1",
		Delivered:  "2024-05-01",
		Resolution: "4m",
		UTM:        "17",
		Region:     "BC224224",
	}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(project.Dir, "BlueTopo/UTM17/T1.tiff"))

	// Refetching the tile resets the subregion and zone to unbuilt.
	write(t, project.Dir, "BlueTopo/UTM17/T1.tiff")
	write(t, project.Dir, "BlueTopo/UTM17/T1.tiff.aux.xml")
	require.NoError(t, reg.RecordTileArtifacts([]registry.ArtifactRecord{{
		Tilename:    "T1",
		Region:      "BC224224",
		UTM:         "17",
		GeoTIFFDisk: "BlueTopo/UTM17/T1.tiff",
		RATDisk:     "BlueTopo/UTM17/T1.tiff.aux.xml",
	}}))

	res, err := Run(context.Background(), reg, project, comp)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubregionsBuilt)
	assert.Equal(t, 1, res.UTMZonesBuilt)
}

func TestResolutionBand(t *testing.T) {
	assert.Equal(t, 4, resolutionBand("4m"))
	assert.Equal(t, 8, resolutionBand(" 8m "))
	assert.Equal(t, 16, resolutionBand("16m"))
	assert.Equal(t, 16, resolutionBand("50cm"))
	assert.Equal(t, 16, resolutionBand(""))
}

func TestArtifactErrorIsTyped(t *testing.T) {
	err := error(&ArtifactError{Path: "a.vrt"})
	var artifactErr *ArtifactError
	assert.True(t, errors.As(err, &artifactErr))
	assert.Contains(t, err.Error(), "a.vrt")
}
