// Package compose wraps the external raster-compositing engine.
//
// The engine itself (GDAL's VRT builder) is an external collaborator: this
// package only defines the contract the build scheduler drives and a thin
// exec-based implementation of it. All engine options travel in an explicit
// Options value per call; nothing is configured through ambient process
// state.
package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Compositor merges source rasters into one output with optional overview
// levels. It reports whether an overview file (output + ".ovr") was produced.
type Compositor interface {
	Compose(ctx context.Context, inputs []string, output string, levels []int, opts Options) (bool, error)
}

// Options carries the per-call engine configuration.
type Options struct {
	// Compression for overview payloads, e.g. "DEFLATE".
	Compression string
	// Threads is the engine worker setting, e.g. "ALL_CPUS".
	Threads string
	// Resampling algorithm; the pipeline requires "nearest" semantics.
	Resampling string
	// RelativePaths references inputs inside the output by relative path.
	RelativePaths bool
	// RAT selects the attribute-table layout the engine should carry through.
	RAT RATSchema
}

// DefaultOptions matches the settings the published mosaics are built with.
func DefaultOptions() Options {
	return Options{
		Compression:   "DEFLATE",
		Threads:       "ALL_CPUS",
		Resampling:    "nearest",
		RelativePaths: true,
		RAT:           RATBlueTopo,
	}
}

// GDAL shells out to gdalbuildvrt and gdaladdo.
type GDAL struct{}

// Compose builds output from inputs and, when levels are given, its overview.
// The overview report is an existence check on the produced file, not trust
// in the tool's exit status.
func (GDAL) Compose(ctx context.Context, inputs []string, output string, levels []int, opts Options) (bool, error) {
	if len(inputs) == 0 {
		return false, fmt.Errorf("compose %s: no inputs", output)
	}
	target := output
	var workDir string
	if opts.RelativePaths {
		// Run in the output directory with relativized inputs so the
		// produced file references its sources relative to itself and the
		// mirror tree stays relocatable.
		workDir = filepath.Dir(output)
		target = filepath.Base(output)
		relInputs := make([]string, len(inputs))
		for i, in := range inputs {
			rel, err := filepath.Rel(workDir, in)
			if err != nil {
				rel = in
			}
			relInputs[i] = rel
		}
		inputs = relInputs
	}
	args := []string{"-resolution", "highest", "-r", "near", "-allow_projection_difference"}
	args = append(args, target)
	args = append(args, inputs...)
	cmd := exec.CommandContext(ctx, "gdalbuildvrt", args...)
	cmd.Dir = workDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("gdalbuildvrt %s: %w: %s", output, err, out)
	}
	if len(levels) > 0 {
		args = []string{
			"-r", opts.Resampling,
			"--config", "COMPRESS_OVERVIEW", opts.Compression,
			"--config", "GDAL_NUM_THREADS", opts.Threads,
			output,
		}
		for _, level := range levels {
			args = append(args, strconv.Itoa(level))
		}
		cmd = exec.CommandContext(ctx, "gdaladdo", args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return false, fmt.Errorf("gdaladdo %s: %w: %s", output, err, out)
		}
	}
	_, err := os.Stat(output + ".ovr")
	return err == nil, nil
}
