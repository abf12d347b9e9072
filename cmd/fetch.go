package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noaa-ocs-hydrography/BlueTopo/internal/fetch"
	"github.com/noaa-ocs-hydrography/BlueTopo/internal/sweep"
)

var (
	areaPath string
	untrack  bool
)

func init() {
	fetchCmd.Flags().StringVarP(&areaPath, "area", "a", "", "GeoJSON area-of-interest layer; intersecting tiles are tracked")
	fetchCmd.Flags().BoolVar(&untrack, "untrack", false, "First drop tiles whose downloaded files were removed")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Refresh the tile scheme and download tracked tiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, reg, err := loadProject()
		if err != nil {
			return err
		}
		defer reg.Close()

		if untrack {
			res, err := sweep.Untrack(reg)
			if err != nil {
				return err
			}
			fmt.Printf("untracked %d tiles, %d subregions, %d utm zones\n",
				res.TilesUntracked, res.SubregionsUntracked, res.UTMZonesUntracked)
		}

		store, err := fetch.NewS3Store(cmd.Context(), project.Bucket)
		if err != nil {
			return err
		}
		report, err := fetch.Run(cmd.Context(), store, reg, project, areaPath)
		if err != nil {
			return err
		}
		fmt.Println(report)
		return nil
	},
}
