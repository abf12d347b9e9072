// Package cmd wires the mirror pipeline into a CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/config"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/registry"
)

var (
	projectDir string
	sourceName string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "d", ".", "Project directory the mirror lives in")
	rootCmd.PersistentFlags().StringVarP(&sourceName, "source", "s", "bluetopo", "Data source (bluetopo or modeling)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "bluetopo",
	Short: "Mirror NOAA National Bathymetric Source tiles and build their mosaics",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage: true,
}

// loadProject resolves the project configuration and opens its registry.
func loadProject() (config.Project, *registry.Registry, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return config.Project{}, nil, fmt.Errorf("resolve project directory: %w", err)
	}
	project, err := config.Load(dir, sourceName)
	if err != nil {
		return config.Project{}, nil, err
	}
	reg, err := registry.Open(project.Dir, project.Source)
	if err != nil {
		return config.Project{}, nil, err
	}
	return project, reg, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
