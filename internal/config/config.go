// Package config holds the per-project settings and the closed set of data
// sources the pipeline can mirror.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/compose"
)

// DefaultBucket is the public National Bathymetric Source bucket.
const DefaultBucket = "noaa-ocs-nationalbathymetry-pds"

// Error is a configuration problem: fatal, surfaced immediately, no retry.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "config: " + e.Reason }

// Source is one of the products the NBS publishes. The variant carries its
// remote prefixes and attribute-table layout so nothing downstream branches
// on product strings.
type Source string

const (
	SourceBlueTopo Source = "BlueTopo"
	SourceModeling Source = "Modeling"
)

// ParseSource accepts the CLI spellings of the known sources.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "", "bluetopo":
		return SourceBlueTopo, nil
	case "modeling":
		return SourceModeling, nil
	}
	return "", &Error{Reason: fmt.Sprintf("invalid data source %q (want bluetopo or modeling)", s)}
}

// Name is the canonical spelling, used in on-disk directory names.
func (s Source) Name() string { return string(s) }

// SchemePrefix is the object prefix of the published tile-scheme geometry.
func (s Source) SchemePrefix() string {
	switch s {
	case SourceModeling:
		return "Test-and-Evaluation/Modeling/_Modeling_Tile_Scheme/Modeling_Tile_Scheme"
	default:
		return "BlueTopo/_BlueTopo_Tile_Scheme/BlueTopo_Tile_Scheme"
	}
}

// TilePrefix is the object prefix under which tiles live.
func (s Source) TilePrefix() string {
	switch s {
	case SourceModeling:
		return "Test-and-Evaluation/Modeling"
	default:
		return "BlueTopo"
	}
}

// RegistryName is the sqlite file name inside the project directory.
func (s Source) RegistryName() string {
	return strings.ToLower(string(s)) + "_registry.db"
}

// RAT is the attribute-table layout this product delivers.
func (s Source) RAT() compose.RATSchema {
	// Both public products carry the BlueTopo layout; the HSD and S102
	// variants are selected by their own Source values when those products
	// are mirrored.
	return compose.RATBlueTopo
}

// Project is the resolved configuration for one mirror directory.
type Project struct {
	Dir           string `yaml:"-"`
	Source        Source `yaml:"-"`
	Bucket        string `yaml:"bucket"`
	Workers       int    `yaml:"workers"`
	RelativePaths bool   `yaml:"relative_paths"`
}

// ComposeOptions is the engine configuration for this project.
func (p Project) ComposeOptions() compose.Options {
	opts := compose.DefaultOptions()
	opts.RelativePaths = p.RelativePaths
	opts.RAT = p.Source.RAT()
	return opts
}

// Load resolves the project configuration for dir: defaults, then an
// optional bluetopo.yaml in the directory, then environment overrides
// (BLUETOPO_BUCKET, BLUETOPO_WORKERS), with a project .env loaded first if
// present. The directory must be an absolute path once ~ is expanded.
func Load(dir string, source string) (Project, error) {
	src, err := ParseSource(source)
	if err != nil {
		return Project{}, err
	}
	dir, err = expand(dir)
	if err != nil {
		return Project{}, err
	}
	if !filepath.IsAbs(dir) {
		return Project{}, &Error{Reason: fmt.Sprintf("project directory %q must be an absolute path", dir)}
	}

	p := Project{
		Dir:           dir,
		Source:        src,
		Bucket:        DefaultBucket,
		Workers:       defaultWorkers(),
		RelativePaths: true,
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "bluetopo.yaml")); err == nil {
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Project{}, &Error{Reason: fmt.Sprintf("parse bluetopo.yaml: %v", err)}
		}
	}

	// .env is optional; absence is not an error.
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	if v := os.Getenv("BLUETOPO_BUCKET"); v != "" {
		p.Bucket = v
	}
	if v := os.Getenv("BLUETOPO_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Project{}, &Error{Reason: fmt.Sprintf("invalid BLUETOPO_WORKERS %q", v)}
		}
		p.Workers = n
	}
	if p.Workers < 1 {
		p.Workers = 1
	}
	return p, nil
}

func defaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

func expand(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &Error{Reason: fmt.Sprintf("resolve home directory: %v", err)}
		}
		return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
	}
	return dir, nil
}
