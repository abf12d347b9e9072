// Package fetch drives the download side of the mirror: it refreshes the
// published tile scheme, reconciles tracked tiles against it, and pulls
// tile rasters concurrently with checksum verification. Network and remote
// failures are classified per tile and reported, never fatal; only local
// problems (registry, file conflicts, geometry) abort a run.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/geometry"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/tessellate"
)

// subregionScheme is the tessellation the NBS groups tiles into for
// mosaicking: tileset 1 at 1.2 degree cells.
var subregionScheme = tessellate.Scheme{Index: 1, Size: "1.2"}

// Report is the outcome of one fetch run. Every tile that needed data lands
// in exactly one bucket; everything short of Success stays retryable on the
// next run.
type Report struct {
	Tracked         int
	Existing        int
	Success         []string
	NotFound        []string
	MissingDownload []string
	HashMismatch    []string
	Failed          []string
	Bytes           int64
}

func (r Report) String() string {
	return fmt.Sprintf("%d tracked: %d fetched (%s), %d already current, %d not found, %d incomplete, %d hash mismatch, %d failed",
		r.Tracked, len(r.Success), humanize.Bytes(uint64(r.Bytes)), r.Existing,
		len(r.NotFound), len(r.MissingDownload), len(r.HashMismatch), len(r.Failed))
}

// FetchScheme replaces the recorded tile scheme wholesale: the previous file
// is removed, the single object under the scheme prefix is downloaded and
// recorded. Returns the absolute path of the new scheme file.
func FetchScheme(ctx context.Context, store ObjectStore, reg *registry.Registry, project config.Project) (string, error) {
	prefix := project.Source.SchemePrefix()
	objs, err := store.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", fmt.Errorf("no tile scheme published under %s", prefix)
	}
	if len(objs) > 1 {
		slog.Warn("multiple tile scheme objects published, using the first",
			"prefix", prefix, "count", len(objs))
	}

	if ts, ok, err := reg.Tileset(); err != nil {
		return "", err
	} else if ok {
		_ = os.Remove(filepath.Join(project.Dir, ts.Location))
	}

	relative := filepath.Join(project.Source.Name(), "Tessellation", path.Base(objs[0].Key))
	dest := filepath.Join(project.Dir, relative)
	if err := store.Download(ctx, objs[0].Key, dest); err != nil {
		return "", err
	}
	if err := reg.ReplaceTileset(relative, time.Now().UTC()); err != nil {
		return "", err
	}
	return dest, nil
}

// Run refreshes the scheme, tracks tiles intersecting the area-of-interest
// layer at aoiPath (skipped when empty), applies scheme deliveries, and
// downloads every tile still needing data on a bounded worker pool. All
// verified downloads are committed in a single transaction at the join.
func Run(ctx context.Context, store ObjectStore, reg *registry.Registry, project config.Project, aoiPath string) (Report, error) {
	var report Report

	schemePath, err := FetchScheme(ctx, store, reg, project)
	if err != nil {
		return report, err
	}
	scheme, err := geometry.OpenScheme(schemePath)
	if err != nil {
		return report, err
	}

	if aoiPath != "" {
		if err := trackArea(reg, scheme, aoiPath); err != nil {
			return report, err
		}
	}

	tiles, err := reg.AllTiles()
	if err != nil {
		return report, err
	}
	report.Tracked = len(tiles)
	if err := applyDeliveries(reg, scheme, tiles); err != nil {
		return report, err
	}

	needing, err := reg.TilesNeedingData()
	if err != nil {
		return report, err
	}
	var fetchable []registry.Tile
	for _, t := range needing {
		if t.GeoTIFFLink.Valid {
			fetchable = append(fetchable, t)
		}
	}
	report.Existing = report.Tracked - len(needing)

	var (
		mu      sync.Mutex
		records []registry.ArtifactRecord
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(project.Workers)
	for _, tile := range fetchable {
		tile := tile
		g.Go(func() error {
			out := fetchTile(ctx, store, project, tile)
			mu.Lock()
			defer mu.Unlock()
			report.Bytes += out.bytes
			switch out.class {
			case classSuccess:
				report.Success = append(report.Success, tile.Tilename)
				records = append(records, out.record)
			case classNotFound:
				report.NotFound = append(report.NotFound, tile.Tilename)
			case classMissingDownload:
				report.MissingDownload = append(report.MissingDownload, tile.Tilename)
			case classHashMismatch:
				report.HashMismatch = append(report.HashMismatch, tile.Tilename)
			case classFailed:
				report.Failed = append(report.Failed, tile.Tilename)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := reg.RecordTileArtifacts(records); err != nil {
		return report, err
	}
	return report, nil
}

// trackArea inserts names for delivered tiles intersecting the AOI layer.
func trackArea(reg *registry.Registry, scheme *geometry.Scheme, aoiPath string) error {
	aoi, err := geometry.OpenScheme(aoiPath)
	if err != nil {
		return err
	}
	var names []string
	for _, f := range geometry.Intersect(aoi, scheme) {
		if !f.DeliveredWithLinks() {
			slog.Warn("tile intersects area of interest but is not yet delivered", "tile", f.Tile)
			continue
		}
		names = append(names, f.Tile)
	}
	added, err := reg.InsertTilenames(names)
	if err != nil {
		return err
	}
	if added > 0 {
		slog.Info("tracking new tiles", "count", added)
	}
	return nil
}

// applyDeliveries upserts delivery metadata from the scheme for every
// tracked tile, resolving each tile's subregion from the global
// tessellation. Tiles that vanished from the scheme, or lost their delivery
// there, are warned about and left alone.
func applyDeliveries(reg *registry.Registry, scheme *geometry.Scheme, tiles []registry.Tile) error {
	tracked := make(map[string]bool, len(tiles))
	for _, t := range tiles {
		tracked[t.Tilename] = true
	}

	cells, err := subregionScheme.Generate()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var deliveries []registry.Delivery
	for _, f := range scheme.Features {
		if !tracked[f.Tile] {
			continue
		}
		seen[f.Tile] = true
		if !f.DeliveredWithLinks() {
			slog.Warn("tracked tile has no delivery in the published scheme", "tile", f.Tile)
			continue
		}
		region, err := geometry.Resolve(f.Geometry, scheme.CRS, cells)
		if err != nil {
			return fmt.Errorf("resolve subregion for tile %s: %w", f.Tile, err)
		}
		deliveries = append(deliveries, registry.Delivery{
			Tilename:        f.Tile,
			GeoTIFFLink:     f.GeoTIFFLink,
			RATLink:         f.RATLink,
			Delivered:       f.Delivered,
			Resolution:      f.Resolution,
			UTM:             f.UTM,
			Region:          region,
			GeoTIFFChecksum: f.GeoTIFFChecksum,
			RATChecksum:     f.RATChecksum,
		})
	}
	for _, t := range tiles {
		if !seen[t.Tilename] {
			slog.Warn("tracked tile is no longer in the published scheme", "tile", t.Tilename)
		}
	}
	updated, err := reg.UpsertTileLinks(deliveries)
	if err != nil {
		return err
	}
	if updated > 0 {
		slog.Info("updated tile deliveries", "count", updated)
	}
	return nil
}

type class int

const (
	classSuccess class = iota
	classNotFound
	classMissingDownload
	classHashMismatch
	classFailed
)

type outcome struct {
	class  class
	record registry.ArtifactRecord
	bytes  int64
}

// fetchTile lists one tile's prefix, downloads its raster and attribute
// files, and verifies both against the scheme checksums. On any problem the
// partial files are removed so the tile stays cleanly retryable.
func fetchTile(ctx context.Context, store ObjectStore, project config.Project, tile registry.Tile) outcome {
	prefix := project.Source.TilePrefix() + "/" + tile.Tilename + "/"
	objs, err := store.List(ctx, prefix)
	if err != nil {
		slog.Warn("listing tile failed", "tile", tile.Tilename, "error", err)
		return outcome{class: classFailed}
	}
	if len(objs) == 0 {
		return outcome{class: classNotFound}
	}

	var geotiffKey, ratKey string
	for _, obj := range objs {
		if strings.Contains(path.Base(obj.Key), ".aux") {
			ratKey = obj.Key
		} else {
			geotiffKey = obj.Key
		}
	}
	if geotiffKey == "" || ratKey == "" {
		return outcome{class: classMissingDownload}
	}

	dir := filepath.Join(project.Source.Name(), "UTM"+tile.UTM.String)
	geotiffRel := filepath.Join(dir, path.Base(geotiffKey))
	ratRel := filepath.Join(dir, path.Base(ratKey))

	var bytes int64
	cleanup := func() {
		os.Remove(filepath.Join(project.Dir, geotiffRel))
		os.Remove(filepath.Join(project.Dir, ratRel))
	}
	for _, dl := range []struct{ key, rel string }{{geotiffKey, geotiffRel}, {ratKey, ratRel}} {
		dest := filepath.Join(project.Dir, dl.rel)
		if err := store.Download(ctx, dl.key, dest); err != nil {
			slog.Warn("download failed", "tile", tile.Tilename, "key", dl.key, "error", err)
			cleanup()
			return outcome{class: classFailed}
		}
		if info, err := os.Stat(dest); err == nil {
			bytes += info.Size()
		}
	}

	geotiffSum, err := verify(filepath.Join(project.Dir, geotiffRel), tile.GeoTIFFChecksum.String)
	if err == nil {
		var ratSum string
		ratSum, err = verify(filepath.Join(project.Dir, ratRel), tile.RATChecksum.String)
		if err == nil {
			return outcome{
				class: classSuccess,
				bytes: bytes,
				record: registry.ArtifactRecord{
					Tilename:        tile.Tilename,
					Region:          tile.Subregion.String,
					UTM:             tile.UTM.String,
					GeoTIFFDisk:     geotiffRel,
					RATDisk:         ratRel,
					GeoTIFFChecksum: geotiffSum,
					RATChecksum:     ratSum,
				},
			}
		}
	}
	slog.Warn("checksum verification failed", "tile", tile.Tilename, "error", err)
	cleanup()
	return outcome{class: classHashMismatch, bytes: bytes}
}

// verify hashes the file and compares against the expected checksum. An
// empty expectation means the scheme published none: the computed digest is
// recorded so later sweeps can still detect corruption.
func verify(path, expected string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if expected != "" && !strings.EqualFold(sum, expected) {
		return "", fmt.Errorf("%s: sha256 %s does not match published %s", path, sum, expected)
	}
	return sum, nil
}
