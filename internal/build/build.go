// Package build schedules mosaic regeneration over the dependency graph in
// two passes: per-subregion composites over downloaded tiles, then one
// combined composite per UTM zone over its built subregions. Every pass
// starts from the registry's unbuilt rows, so reruns after a sweep or a
// partial failure regenerate exactly what is stale.
package build

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/compose"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/sweep"
)

// ArtifactError reports an output the engine was required to produce but
// did not. It aborts the run: a combined mosaic without its overview is
// unusable at display scales.
type ArtifactError struct {
	Path string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("required overview for %s was not produced", e.Path)
}

// Result counts the rows a build pass completed.
type Result struct {
	SubregionsBuilt int
	UTMZonesBuilt   int
	Swept           sweep.Result
}

// bandLevels maps a resolution band to the overview levels its composite
// carries. Band 16 gets no composite of its own; its tiles feed the
// complete mosaic directly.
var bandLevels = map[int][]int{
	2: {2, 4},
	4: {4, 8},
	8: {8},
}

// Run sweeps, then rebuilds every unbuilt subregion and UTM zone. A
// subregion with no qualifying tiles is skipped and stays unbuilt; a zone
// with no built subregions likewise.
func Run(ctx context.Context, reg *registry.Registry, project config.Project, comp compose.Compositor) (Result, error) {
	var res Result
	swept, err := sweep.Sweep(reg)
	if err != nil {
		return res, err
	}
	res.Swept = swept

	opts := project.ComposeOptions()

	subs, err := reg.ListUnbuiltSubregions()
	if err != nil {
		return res, err
	}
	for _, sub := range subs {
		built, err := buildSubregion(ctx, reg, project, comp, opts, sub)
		if err != nil {
			return res, err
		}
		if built {
			res.SubregionsBuilt++
		}
	}

	zones, err := reg.ListUnbuiltUTMZones()
	if err != nil {
		return res, err
	}
	waiting, err := unbuiltMembers(reg)
	if err != nil {
		return res, err
	}
	for _, zone := range zones {
		if n := waiting[zone.UTM]; n > 0 {
			slog.Info("utm zone waiting on unbuilt subregions", "utm", zone.UTM, "count", n)
			continue
		}
		built, err := buildZone(ctx, reg, project, comp, opts, zone)
		if err != nil {
			return res, err
		}
		if built {
			res.UTMZonesBuilt++
		}
	}
	return res, nil
}

// unbuiltMembers counts unbuilt subregions per UTM zone. A zone is combined
// only once every member is built; until then it stays unbuilt, waiting on
// the fetches its members need.
func unbuiltMembers(reg *registry.Registry) (map[string]int, error) {
	subs, err := reg.ListUnbuiltSubregions()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, s := range subs {
		out[s.UTM]++
	}
	return out, nil
}

// buildSubregion composes one band mosaic per resolution band present, then
// the complete composite over the band outputs and any 16 m tiles. The
// subregion's output directory is replaced wholesale first, so no stale
// band composite from an earlier delivery can leak into the complete.
func buildSubregion(ctx context.Context, reg *registry.Registry, project config.Project, comp compose.Compositor, opts compose.Options, sub registry.Subregion) (bool, error) {
	tiles, skipped, err := reg.TilesForRegion(sub.Region)
	if err != nil {
		return false, err
	}
	if skipped > 0 {
		slog.Warn("excluding tiles with vanished files from subregion build",
			"region", sub.Region, "count", skipped)
	}
	if len(tiles) == 0 {
		slog.Info("subregion has no tiles on disk, leaving unbuilt", "region", sub.Region)
		return false, nil
	}

	bands := make(map[int][]string)
	for _, t := range tiles {
		band := resolutionBand(t.Resolution.String)
		bands[band] = append(bands[band], filepath.Join(project.Dir, t.GeoTIFFDisk.String))
	}

	relDir := filepath.Join(project.Source.Name()+"_VRT", sub.Region)
	absDir := filepath.Join(project.Dir, relDir)
	if err := os.RemoveAll(absDir); err != nil {
		return false, &registry.FileConflictError{Path: absDir, Err: err}
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", absDir, err)
	}

	out := registry.Subregion{Region: sub.Region, UTM: sub.UTM}
	completeInputs := bands[16]
	for _, band := range []int{2, 4, 8} {
		inputs := bands[band]
		if len(inputs) == 0 {
			continue
		}
		rel := filepath.Join(relDir, fmt.Sprintf("%s_%dm.vrt", sub.Region, band))
		abs := filepath.Join(project.Dir, rel)
		ovr, err := comp.Compose(ctx, inputs, abs, bandLevels[band], opts)
		if err != nil {
			return false, err
		}
		artifact := bandArtifact(&out, band)
		artifact.Path = ns(rel)
		if ovr {
			artifact.Overview = ns(rel + ".ovr")
		}
		completeInputs = append(completeInputs, abs)
	}

	rel := filepath.Join(relDir, sub.Region+"_complete.vrt")
	abs := filepath.Join(project.Dir, rel)
	ovr, err := comp.Compose(ctx, completeInputs, abs, []int{16}, opts)
	if err != nil {
		return false, err
	}
	out.Complete.Path = ns(rel)
	if ovr {
		out.Complete.Overview = ns(rel + ".ovr")
	}

	if err := reg.MarkSubregionBuilt(out); err != nil {
		return false, err
	}
	slog.Info("built subregion", "region", sub.Region, "tiles", len(tiles))
	return true, nil
}

// buildZone composes the combined mosaic for one UTM zone from its built
// subregions' complete composites. The overview is mandatory here.
func buildZone(ctx context.Context, reg *registry.Registry, project config.Project, comp compose.Compositor, opts compose.Options, zone registry.UTMZone) (bool, error) {
	subs, skipped, err := reg.SubregionsForUTM(zone.UTM)
	if err != nil {
		return false, err
	}
	if skipped > 0 {
		slog.Warn("excluding subregions with vanished composites from zone build",
			"utm", zone.UTM, "count", skipped)
	}
	if len(subs) == 0 {
		slog.Info("utm zone has no built subregions, leaving unbuilt", "utm", zone.UTM)
		return false, nil
	}

	var inputs []string
	for _, s := range subs {
		inputs = append(inputs, filepath.Join(project.Dir, s.Complete.Path.String))
	}

	rel := filepath.Join(project.Source.Name()+"_VRT",
		fmt.Sprintf("%s_Fetched_UTM%s.vrt", project.Source.Name(), zone.UTM))
	abs := filepath.Join(project.Dir, rel)
	for _, stale := range []string{abs, abs + ".ovr"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return false, &registry.FileConflictError{Path: stale, Err: err}
		}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(abs), err)
	}

	ovr, err := comp.Compose(ctx, inputs, abs, []int{32, 64}, opts)
	if err != nil {
		return false, err
	}
	if !ovr {
		return false, &ArtifactError{Path: rel}
	}

	out := registry.UTMZone{UTM: zone.UTM}
	out.Combined.Path = ns(rel)
	out.Combined.Overview = ns(rel + ".ovr")
	if err := reg.MarkUTMBuilt(out); err != nil {
		return false, err
	}
	slog.Info("built utm zone", "utm", zone.UTM, "subregions", len(subs))
	return true, nil
}

// resolutionBand buckets a delivery resolution string ("4m") into a band.
// Unknown resolutions land in band 16, the coarsest, so the tile still
// reaches the complete composite.
func resolutionBand(resolution string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(resolution), "m"))
	if err != nil {
		return 16
	}
	switch n {
	case 2, 4, 8, 16:
		return n
	default:
		return 16
	}
}

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func bandArtifact(s *registry.Subregion, band int) *registry.Artifact {
	switch band {
	case 2:
		return &s.Res2
	case 4:
		return &s.Res4
	default:
		return &s.Res8
	}
}
