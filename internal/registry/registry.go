// Package registry is the persistent survey registry: tiles, subregions and
// UTM zones with their build and verification state.
//
// The registry is the dependency graph of the mirror. Tiles fan in to
// subregions by region code and subregions fan in to UTM zones by UTM code;
// the built flags and artifact descriptors stored here are what the sweeper
// invalidates and the build scheduler consumes. All mutating operations run
// inside a transaction, and the store is single-writer: every mutation is
// issued from the coordinating goroutine after any concurrent phase has
// joined.
//
// Schema management mirrors new-column rollout in place: tables are created
// with their primary key only and every other column is added when absent,
// so an old registry upgrades on open without a migration step.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
)

// FileConflictError reports a stale artifact that could not be removed,
// usually because another process holds it open. Fatal: silently leaving the
// file in place would corrupt the dependency graph.
type FileConflictError struct {
	Path string
	Err  error
}

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("cannot remove %s (close any open handles and retry): %v", e.Path, e.Err)
}

func (e *FileConflictError) Unwrap() error { return e.Err }

// column is one migratable field of a table.
type column struct{ name, kind string }

var (
	tilesetColumns = []column{
		{"location", "text"},
		{"downloaded", "text"},
	}
	tileColumns = []column{
		{"geotiff_link", "text"},
		{"rat_link", "text"},
		{"delivered_date", "text"},
		{"resolution", "text"},
		{"utm", "text"},
		{"subregion", "text"},
		{"geotiff_disk", "text"},
		{"rat_disk", "text"},
		{"geotiff_sha256", "text"},
		{"rat_sha256", "text"},
		{"geotiff_verified", "integer"},
		{"rat_verified", "integer"},
	}
	subregionColumns = []column{
		{"utm", "text"},
		{"res_2_vrt", "text"},
		{"res_2_ovr", "text"},
		{"res_4_vrt", "text"},
		{"res_4_ovr", "text"},
		{"res_8_vrt", "text"},
		{"res_8_ovr", "text"},
		{"complete_vrt", "text"},
		{"complete_ovr", "text"},
		{"built", "integer"},
	}
	utmColumns = []column{
		{"utm_vrt", "text"},
		{"utm_ovr", "text"},
		{"built", "integer"},
	}
)

// Registry wraps the project's sqlite database. Artifact paths stored in the
// registry are relative to the project directory.
type Registry struct {
	db  *sql.DB
	dir string
}

// Open creates or upgrades the registry database for the given project.
func Open(projectDir string, source config.Source) (*Registry, error) {
	path := filepath.Join(projectDir, source.RegistryName())
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}
	// One writer; serialize access instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	r := &Registry{db: db, dir: projectDir}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (r *Registry) Close() error { return r.db.Close() }

// Dir is the project directory registry paths are relative to.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) migrate() error {
	creates := []string{
		`CREATE TABLE IF NOT EXISTS tileset (tilescheme text PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS tiles (tilename text PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS subregions (region text PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS utm_zones (utm text PRIMARY KEY)`,
	}
	for _, stmt := range creates {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("create registry tables: %w", err)
		}
	}
	tables := []struct {
		name    string
		columns []column
	}{
		{"tileset", tilesetColumns},
		{"tiles", tileColumns},
		{"subregions", subregionColumns},
		{"utm_zones", utmColumns},
	}
	for _, table := range tables {
		existing, err := r.tableColumns(table.name)
		if err != nil {
			return err
		}
		for _, col := range table.columns {
			if _, ok := existing[col.name]; ok {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table.name, col.name, col.kind)
			if _, err := r.db.Exec(stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table.name, col.name, err)
			}
		}
	}
	return nil
}

func (r *Registry) tableColumns(table string) (map[string]struct{}, error) {
	rows, err := r.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// Tileset is the singleton record of the downloaded tessellation scheme.
type Tileset struct {
	Scheme     string
	Location   string
	Downloaded string
}

// Tileset returns the active scheme record, if one exists.
func (r *Registry) Tileset() (Tileset, bool, error) {
	var ts Tileset
	err := r.db.QueryRow("SELECT tilescheme, location, downloaded FROM tileset").
		Scan(&ts.Scheme, &ts.Location, &ts.Downloaded)
	if err == sql.ErrNoRows {
		return Tileset{}, false, nil
	}
	if err != nil {
		return Tileset{}, false, fmt.Errorf("select tileset: %w", err)
	}
	return ts, true, nil
}

// ReplaceTileset records a freshly downloaded scheme file, replacing any
// previous record wholesale.
func (r *Registry) ReplaceTileset(location string, downloaded time.Time) error {
	_, err := r.db.Exec(
		`REPLACE INTO tileset(tilescheme, location, downloaded) VALUES(?, ?, ?)`,
		"Tessellation", location, downloaded.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("replace tileset: %w", err)
	}
	return nil
}

// removeArtifact deletes a recorded file if present, translating a locked or
// otherwise unremovable file into a FileConflictError.
func (r *Registry) removeArtifact(relative string) error {
	path := filepath.Join(r.dir, relative)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return &FileConflictError{Path: path, Err: err}
	}
	return nil
}

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
