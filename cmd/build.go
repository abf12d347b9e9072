package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/build"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/compose"
)

func init() {
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild stale subregion and UTM-zone mosaics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, reg, err := loadProject()
		if err != nil {
			return err
		}
		defer reg.Close()

		start := time.Now()
		res, err := build.Run(cmd.Context(), reg, project, compose.GDAL{})
		if err != nil {
			return err
		}
		fmt.Printf("swept %d subregions and %d utm zones stale; built %d subregions, %d utm zones in %v\n",
			res.Swept.SubregionsInvalidated, res.Swept.UTMZonesInvalidated,
			res.SubregionsBuilt, res.UTMZonesBuilt, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
