package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Tile is one leaf of the dependency graph: a remotely published raster with
// its delivery metadata and local artifact state. A tile needs two files on
// disk, the primary raster and its auxiliary attribute file.
type Tile struct {
	Tilename        string
	GeoTIFFLink     sql.NullString
	RATLink         sql.NullString
	Delivered       sql.NullString
	Resolution      sql.NullString
	UTM             sql.NullString
	Subregion       sql.NullString
	GeoTIFFDisk     sql.NullString
	RATDisk         sql.NullString
	GeoTIFFChecksum sql.NullString
	RATChecksum     sql.NullString
	GeoTIFFVerified bool
	RATVerified     bool
}

// ArtifactsOnDisk reports whether both recorded files currently exist.
func (t Tile) ArtifactsOnDisk(root string) bool {
	if !t.GeoTIFFDisk.Valid || !t.RATDisk.Valid {
		return false
	}
	if _, err := os.Stat(filepath.Join(root, t.GeoTIFFDisk.String)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(root, t.RATDisk.String)); err != nil {
		return false
	}
	return true
}

// NeedsData reports whether the tile must be (re)fetched: artifacts absent
// or never verified.
func (t Tile) NeedsData() bool {
	return !t.GeoTIFFDisk.Valid || !t.RATDisk.Valid || !t.GeoTIFFVerified || !t.RATVerified
}

const tileSelect = `SELECT tilename, geotiff_link, rat_link, delivered_date,
	resolution, utm, subregion, geotiff_disk, rat_disk,
	geotiff_sha256, rat_sha256,
	COALESCE(geotiff_verified, 0), COALESCE(rat_verified, 0) FROM tiles`

func scanTile(rows *sql.Rows) (Tile, error) {
	var t Tile
	err := rows.Scan(&t.Tilename, &t.GeoTIFFLink, &t.RATLink, &t.Delivered,
		&t.Resolution, &t.UTM, &t.Subregion, &t.GeoTIFFDisk, &t.RATDisk,
		&t.GeoTIFFChecksum, &t.RATChecksum, &t.GeoTIFFVerified, &t.RATVerified)
	return t, err
}

func (r *Registry) queryTiles(query string, args ...any) ([]Tile, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select tiles: %w", err)
	}
	defer rows.Close()
	var out []Tile
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllTiles returns every tracked tile.
func (r *Registry) AllTiles() ([]Tile, error) {
	return r.queryTiles(tileSelect)
}

// InsertTilenames starts tracking the given tiles. Already tracked names are
// left untouched. Returns the number of names submitted.
func (r *Registry) InsertTilenames(names []string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin insert tiles: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO tiles(tilename) VALUES(?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, name := range names {
		if _, err := stmt.Exec(name); err != nil {
			return 0, fmt.Errorf("insert tile %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(names), nil
}

// Delivery is one tile's latest metadata from the remote tile scheme.
type Delivery struct {
	Tilename        string
	GeoTIFFLink     string
	RATLink         string
	Delivered       string
	Resolution      string
	UTM             string
	Region          string
	GeoTIFFChecksum string
	RATChecksum     string
}

// UpsertTileLinks applies scheme deliveries to tracked tiles. A delivery
// whose timestamp is strictly newer than the recorded one (or where none was
// recorded) replaces the tile's links, deletes any local artifacts and nulls
// the disk and verification fields, forcing a redownload. Delivered dates
// sort lexically (ISO 8601). Built flags of the owning subregion and UTM
// zone are deliberately untouched: the sweeper picks the invalidation up on
// its next pass. Returns the number of tiles updated.
func (r *Registry) UpsertTileLinks(deliveries []Delivery) (int, error) {
	existing, err := r.AllTiles()
	if err != nil {
		return 0, err
	}
	byName := make(map[string]Tile, len(existing))
	for _, t := range existing {
		byName[t.Tilename] = t
	}

	var apply []Delivery
	for _, d := range deliveries {
		tile, tracked := byName[d.Tilename]
		if !tracked {
			continue
		}
		if tile.Delivered.Valid && tile.Delivered.String >= d.Delivered {
			continue
		}
		if tile.GeoTIFFDisk.Valid {
			if err := r.removeArtifact(tile.GeoTIFFDisk.String); err != nil {
				return 0, err
			}
		}
		if tile.RATDisk.Valid {
			if err := r.removeArtifact(tile.RATDisk.String); err != nil {
				return 0, err
			}
		}
		apply = append(apply, d)
	}
	if len(apply) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin upsert tiles: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO tiles(tilename, geotiff_link, rat_link,
		delivered_date, resolution, utm, subregion, geotiff_sha256, rat_sha256)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tilename) DO UPDATE
		SET geotiff_link = EXCLUDED.geotiff_link,
		rat_link = EXCLUDED.rat_link,
		delivered_date = EXCLUDED.delivered_date,
		resolution = EXCLUDED.resolution,
		utm = EXCLUDED.utm,
		subregion = EXCLUDED.subregion,
		geotiff_sha256 = EXCLUDED.geotiff_sha256,
		rat_sha256 = EXCLUDED.rat_sha256,
		geotiff_disk = NULL,
		rat_disk = NULL,
		geotiff_verified = 0,
		rat_verified = 0`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, d := range apply {
		if _, err := stmt.Exec(d.Tilename, ns(d.GeoTIFFLink), ns(d.RATLink),
			d.Delivered, ns(d.Resolution), ns(d.UTM), ns(d.Region),
			ns(d.GeoTIFFChecksum), ns(d.RATChecksum)); err != nil {
			return 0, fmt.Errorf("upsert tile %s: %w", d.Tilename, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(apply), nil
}

// TilesNeedingData returns tracked tiles whose artifacts are absent or not
// verified.
func (r *Registry) TilesNeedingData() ([]Tile, error) {
	tiles, err := r.AllTiles()
	if err != nil {
		return nil, err
	}
	var out []Tile
	for _, t := range tiles {
		if t.NeedsData() {
			out = append(out, t)
		}
	}
	return out, nil
}

// ArtifactRecord is the outcome of one verified tile download.
type ArtifactRecord struct {
	Tilename        string
	Region          string
	UTM             string
	GeoTIFFDisk     string
	RATDisk         string
	GeoTIFFChecksum string
	RATChecksum     string
}

// RecordTileArtifacts commits a batch of verified downloads in a single
// transaction: the tiles' disk paths and checksums are recorded, and an
// unbuilt subregion and UTM-zone row is upserted for each so the dependency
// edges exist before the next build pass.
func (r *Registry) RecordTileArtifacts(records []ArtifactRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin record artifacts: %w", err)
	}
	defer tx.Rollback()

	tileStmt, err := tx.Prepare(`UPDATE tiles
		SET geotiff_disk = ?, rat_disk = ?,
		geotiff_sha256 = ?, rat_sha256 = ?,
		geotiff_verified = 1, rat_verified = 1
		WHERE tilename = ?`)
	if err != nil {
		return err
	}
	defer tileStmt.Close()

	subStmt, err := tx.Prepare(`INSERT INTO subregions(region, utm, built)
		VALUES(?, ?, 0)
		ON CONFLICT(region) DO UPDATE
		SET utm = EXCLUDED.utm,
		res_2_vrt = NULL, res_2_ovr = NULL,
		res_4_vrt = NULL, res_4_ovr = NULL,
		res_8_vrt = NULL, res_8_ovr = NULL,
		complete_vrt = NULL, complete_ovr = NULL,
		built = 0`)
	if err != nil {
		return err
	}
	defer subStmt.Close()

	utmStmt, err := tx.Prepare(`INSERT INTO utm_zones(utm, built)
		VALUES(?, 0)
		ON CONFLICT(utm) DO UPDATE
		SET utm_vrt = NULL, utm_ovr = NULL, built = 0`)
	if err != nil {
		return err
	}
	defer utmStmt.Close()

	for _, rec := range records {
		if _, err := tileStmt.Exec(rec.GeoTIFFDisk, rec.RATDisk,
			ns(rec.GeoTIFFChecksum), ns(rec.RATChecksum), rec.Tilename); err != nil {
			return fmt.Errorf("record artifacts for %s: %w", rec.Tilename, err)
		}
		if _, err := subStmt.Exec(rec.Region, rec.UTM); err != nil {
			return fmt.Errorf("upsert subregion %s: %w", rec.Region, err)
		}
		if _, err := utmStmt.Exec(rec.UTM); err != nil {
			return fmt.Errorf("upsert utm zone %s: %w", rec.UTM, err)
		}
	}
	return tx.Commit()
}

// TilesForRegion returns the region's tiles whose artifacts currently exist
// on disk, plus the count of registered tiles that were skipped because
// their files have vanished. Vanished inputs are excluded from the build,
// not fatal.
func (r *Registry) TilesForRegion(region string) ([]Tile, int, error) {
	tiles, err := r.queryTiles(tileSelect+" WHERE subregion = ?", region)
	if err != nil {
		return nil, 0, err
	}
	var out []Tile
	for _, t := range tiles {
		if t.ArtifactsOnDisk(r.dir) {
			out = append(out, t)
		}
	}
	return out, len(tiles) - len(out), nil
}

// DeleteTile removes a tile from tracking, returning the removed row.
func (r *Registry) DeleteTile(tilename string) (Tile, bool, error) {
	tiles, err := r.queryTiles(tileSelect+" WHERE tilename = ?", tilename)
	if err != nil {
		return Tile{}, false, err
	}
	if len(tiles) == 0 {
		return Tile{}, false, nil
	}
	if _, err := r.db.Exec("DELETE FROM tiles WHERE tilename = ?", tilename); err != nil {
		return Tile{}, false, fmt.Errorf("delete tile %s: %w", tilename, err)
	}
	return tiles[0], true, nil
}
