package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is one output descriptor: a composite path and its optional
// overview sidecar. Paths are relative to the project directory.
type Artifact struct {
	Path     sql.NullString
	Overview sql.NullString
}

// Missing reports whether any recorded part of the descriptor is absent
// from disk. A descriptor with no recorded path is not missing.
func (a Artifact) Missing(root string) bool {
	if a.Path.Valid {
		if _, err := os.Stat(filepath.Join(root, a.Path.String)); err != nil {
			return true
		}
	}
	if a.Overview.Valid {
		if _, err := os.Stat(filepath.Join(root, a.Overview.String)); err != nil {
			return true
		}
	}
	return false
}

// Subregion is one tessellation cell's mosaic state: a composite per
// resolution band plus the complete composite over all bands.
type Subregion struct {
	Region   string
	UTM      string
	Res2     Artifact
	Res4     Artifact
	Res8     Artifact
	Complete Artifact
	Built    bool
}

// Invariant for built rows: every non-null descriptor exists on disk and the
// complete composite is present. MissingArtifacts is the sweeper's check.
func (s Subregion) MissingArtifacts(root string) bool {
	if s.Res2.Missing(root) || s.Res4.Missing(root) || s.Res8.Missing(root) {
		return true
	}
	if !s.Complete.Path.Valid {
		return true
	}
	return s.Complete.Missing(root)
}

// UTMZone is the top-level mosaic state for one UTM zone: the combined
// composite over its member subregions.
type UTMZone struct {
	UTM      string
	Combined Artifact
	Built    bool
}

// MissingArtifacts mirrors the subregion check one level up. Both the
// combined composite and its overview are required for a built zone.
func (u UTMZone) MissingArtifacts(root string) bool {
	if !u.Combined.Path.Valid || !u.Combined.Overview.Valid {
		return true
	}
	return u.Combined.Missing(root)
}

const subregionSelect = `SELECT region, COALESCE(utm, ''),
	res_2_vrt, res_2_ovr, res_4_vrt, res_4_ovr, res_8_vrt, res_8_ovr,
	complete_vrt, complete_ovr, COALESCE(built, 0) FROM subregions`

func (r *Registry) querySubregions(query string, args ...any) ([]Subregion, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select subregions: %w", err)
	}
	defer rows.Close()
	var out []Subregion
	for rows.Next() {
		var s Subregion
		if err := rows.Scan(&s.Region, &s.UTM,
			&s.Res2.Path, &s.Res2.Overview,
			&s.Res4.Path, &s.Res4.Overview,
			&s.Res8.Path, &s.Res8.Overview,
			&s.Complete.Path, &s.Complete.Overview, &s.Built); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const utmSelect = `SELECT utm, utm_vrt, utm_ovr, COALESCE(built, 0) FROM utm_zones`

func (r *Registry) queryUTMZones(query string, args ...any) ([]UTMZone, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select utm zones: %w", err)
	}
	defer rows.Close()
	var out []UTMZone
	for rows.Next() {
		var u UTMZone
		if err := rows.Scan(&u.UTM, &u.Combined.Path, &u.Combined.Overview, &u.Built); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListUnbuiltSubregions returns subregions awaiting a build.
func (r *Registry) ListUnbuiltSubregions() ([]Subregion, error) {
	return r.querySubregions(subregionSelect + " WHERE COALESCE(built, 0) = 0")
}

// ListUnbuiltUTMZones returns UTM zones awaiting a build.
func (r *Registry) ListUnbuiltUTMZones() ([]UTMZone, error) {
	return r.queryUTMZones(utmSelect + " WHERE COALESCE(built, 0) = 0")
}

// BuiltSubregions returns subregions currently flagged built.
func (r *Registry) BuiltSubregions() ([]Subregion, error) {
	return r.querySubregions(subregionSelect + " WHERE built = 1")
}

// BuiltUTMZones returns UTM zones currently flagged built.
func (r *Registry) BuiltUTMZones() ([]UTMZone, error) {
	return r.queryUTMZones(utmSelect + " WHERE built = 1")
}

// AllSubregions returns every subregion row.
func (r *Registry) AllSubregions() ([]Subregion, error) {
	return r.querySubregions(subregionSelect)
}

// AllUTMZones returns every UTM-zone row.
func (r *Registry) AllUTMZones() ([]UTMZone, error) {
	return r.queryUTMZones(utmSelect)
}

// SubregionsForUTM returns the zone's built member subregions whose recorded
// artifacts all exist on disk, plus the count of built members skipped
// because files vanished out from under them.
func (r *Registry) SubregionsForUTM(utm string) ([]Subregion, int, error) {
	subs, err := r.querySubregions(subregionSelect+" WHERE utm = ? AND built = 1", utm)
	if err != nil {
		return nil, 0, err
	}
	var out []Subregion
	for _, s := range subs {
		if !s.MissingArtifacts(r.dir) {
			out = append(out, s)
		}
	}
	return out, len(subs) - len(out), nil
}

// MarkSubregionBuilt records the subregion's new artifact descriptors and
// flips it built.
func (r *Registry) MarkSubregionBuilt(s Subregion) error {
	_, err := r.db.Exec(`UPDATE subregions
		SET res_2_vrt = ?, res_2_ovr = ?, res_4_vrt = ?, res_4_ovr = ?,
		res_8_vrt = ?, res_8_ovr = ?, complete_vrt = ?, complete_ovr = ?,
		built = 1 WHERE region = ?`,
		s.Res2.Path, s.Res2.Overview, s.Res4.Path, s.Res4.Overview,
		s.Res8.Path, s.Res8.Overview, s.Complete.Path, s.Complete.Overview,
		s.Region)
	if err != nil {
		return fmt.Errorf("mark subregion %s built: %w", s.Region, err)
	}
	return nil
}

// MarkUTMBuilt records the zone's new combined descriptors and flips it
// built.
func (r *Registry) MarkUTMBuilt(u UTMZone) error {
	_, err := r.db.Exec(`UPDATE utm_zones SET utm_vrt = ?, utm_ovr = ?, built = 1 WHERE utm = ?`,
		u.Combined.Path, u.Combined.Overview, u.UTM)
	if err != nil {
		return fmt.Errorf("mark utm zone %s built: %w", u.UTM, err)
	}
	return nil
}

// InvalidateSubregion nulls every descriptor of the subregion and flags it
// unbuilt.
func (r *Registry) InvalidateSubregion(region string) error {
	_, err := r.db.Exec(`UPDATE subregions
		SET res_2_vrt = NULL, res_2_ovr = NULL, res_4_vrt = NULL, res_4_ovr = NULL,
		res_8_vrt = NULL, res_8_ovr = NULL, complete_vrt = NULL, complete_ovr = NULL,
		built = 0 WHERE region = ?`, region)
	if err != nil {
		return fmt.Errorf("invalidate subregion %s: %w", region, err)
	}
	return nil
}

// InvalidateUTMZone nulls the zone's descriptors and flags it unbuilt.
func (r *Registry) InvalidateUTMZone(utm string) error {
	_, err := r.db.Exec(`UPDATE utm_zones SET utm_vrt = NULL, utm_ovr = NULL, built = 0 WHERE utm = ?`, utm)
	if err != nil {
		return fmt.Errorf("invalidate utm zone %s: %w", utm, err)
	}
	return nil
}

// OrphanSubregions returns subregions with no contributing tile that has
// artifacts recorded.
func (r *Registry) OrphanSubregions() ([]Subregion, error) {
	return r.querySubregions(subregionSelect + ` WHERE region NOT IN
		(SELECT subregion FROM tiles
		 WHERE subregion IS NOT NULL
		 AND geotiff_disk IS NOT NULL AND rat_disk IS NOT NULL)`)
}

// OrphanUTMZones returns zones with no contributing tile that has artifacts
// recorded.
func (r *Registry) OrphanUTMZones() ([]UTMZone, error) {
	return r.queryUTMZones(utmSelect + ` WHERE utm NOT IN
		(SELECT utm FROM tiles
		 WHERE utm IS NOT NULL
		 AND geotiff_disk IS NOT NULL AND rat_disk IS NOT NULL)`)
}

// DeleteSubregion removes the row from tracking.
func (r *Registry) DeleteSubregion(region string) error {
	if _, err := r.db.Exec("DELETE FROM subregions WHERE region = ?", region); err != nil {
		return fmt.Errorf("delete subregion %s: %w", region, err)
	}
	return nil
}

// DeleteUTMZone removes the row from tracking.
func (r *Registry) DeleteUTMZone(utm string) error {
	if _, err := r.db.Exec("DELETE FROM utm_zones WHERE utm = ?", utm); err != nil {
		return fmt.Errorf("delete utm zone %s: %w", utm, err)
	}
	return nil
}
