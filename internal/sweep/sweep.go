// Package sweep reconciles the registry's built flags with the files that
// are actually on disk. A composite whose recorded artifacts have vanished
// is stale: its row is invalidated and the invalidation cascades one edge
// up the dependency graph, so the next build pass regenerates exactly the
// affected closure. Sweeping is idempotent; running it twice in a row
// leaves the registry unchanged.
package sweep

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
)

// Result counts the rows a sweep invalidated.
type Result struct {
	SubregionsInvalidated int
	UTMZonesInvalidated   int
}

// Sweep invalidates every built subregion with a missing recorded artifact
// and, unconditionally, the UTM zone that consumes it; a built zone whose
// own combined artifacts are missing is invalidated independently. Rows
// already unbuilt are never touched.
func Sweep(reg *registry.Registry) (Result, error) {
	root := reg.Dir()
	var res Result

	subs, err := reg.BuiltSubregions()
	if err != nil {
		return res, err
	}
	cascaded := make(map[string]bool)
	for _, s := range subs {
		if !s.MissingArtifacts(root) {
			continue
		}
		if err := reg.InvalidateSubregion(s.Region); err != nil {
			return res, err
		}
		res.SubregionsInvalidated++
		if s.UTM == "" || cascaded[s.UTM] {
			continue
		}
		// The zone's combined composite references the subregion's files,
		// so it is stale regardless of whether its own files still exist.
		if err := reg.InvalidateUTMZone(s.UTM); err != nil {
			return res, err
		}
		cascaded[s.UTM] = true
		res.UTMZonesInvalidated++
	}

	zones, err := reg.BuiltUTMZones()
	if err != nil {
		return res, err
	}
	for _, z := range zones {
		if cascaded[z.UTM] || !z.MissingArtifacts(root) {
			continue
		}
		if err := reg.InvalidateUTMZone(z.UTM); err != nil {
			return res, err
		}
		res.UTMZonesInvalidated++
	}
	return res, nil
}

// UntrackResult counts the rows an untrack pass deleted.
type UntrackResult struct {
	TilesUntracked      int
	SubregionsUntracked int
	UTMZonesUntracked   int
}

// Untrack deletes tiles whose downloaded files have been removed from disk,
// then drops subregion and UTM-zone rows left without any contributing tile,
// removing their composite files. Deliberate opt-in: without it a sweep
// treats missing tile files as something to refetch, not something the
// operator removed on purpose.
func Untrack(reg *registry.Registry) (UntrackResult, error) {
	root := reg.Dir()
	var res UntrackResult

	tiles, err := reg.AllTiles()
	if err != nil {
		return res, err
	}
	for _, t := range tiles {
		if !t.GeoTIFFDisk.Valid && !t.RATDisk.Valid {
			continue // never downloaded, still awaiting fetch
		}
		if t.ArtifactsOnDisk(root) {
			continue
		}
		for _, p := range []string{t.GeoTIFFDisk.String, t.RATDisk.String} {
			if err := removeRelative(root, p); err != nil {
				return res, err
			}
		}
		if _, deleted, err := reg.DeleteTile(t.Tilename); err != nil {
			return res, err
		} else if deleted {
			slog.Warn("untracked tile with missing files", "tile", t.Tilename)
			res.TilesUntracked++
		}
	}

	orphanSubs, err := reg.OrphanSubregions()
	if err != nil {
		return res, err
	}
	for _, s := range orphanSubs {
		artifacts := []registry.Artifact{s.Res2, s.Res4, s.Res8, s.Complete}
		for _, a := range artifacts {
			if err := removeArtifact(root, a); err != nil {
				return res, err
			}
		}
		if err := reg.DeleteSubregion(s.Region); err != nil {
			return res, err
		}
		slog.Warn("untracked subregion with no contributing tiles", "region", s.Region)
		res.SubregionsUntracked++
	}

	orphanZones, err := reg.OrphanUTMZones()
	if err != nil {
		return res, err
	}
	for _, z := range orphanZones {
		if err := removeArtifact(root, z.Combined); err != nil {
			return res, err
		}
		if err := reg.DeleteUTMZone(z.UTM); err != nil {
			return res, err
		}
		slog.Warn("untracked utm zone with no contributing tiles", "utm", z.UTM)
		res.UTMZonesUntracked++
	}
	return res, nil
}

func removeArtifact(root string, a registry.Artifact) error {
	if a.Path.Valid {
		if err := removeRelative(root, a.Path.String); err != nil {
			return err
		}
	}
	if a.Overview.Valid {
		if err := removeRelative(root, a.Overview.String); err != nil {
			return err
		}
	}
	return nil
}

func removeRelative(root, relative string) error {
	if relative == "" {
		return nil
	}
	path := filepath.Join(root, relative)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &registry.FileConflictError{Path: path, Err: err}
	}
	return nil
}
