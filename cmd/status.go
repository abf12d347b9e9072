package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
)

var statusCSV bool

func init() {
	statusCmd.Flags().BoolVar(&statusCSV, "csv", false, "Emit the tile inventory as CSV on stdout")
	rootCmd.AddCommand(statusCmd)
}

type tileStatus struct {
	Tile       string `csv:"tile"`
	Delivered  string `csv:"delivered_date"`
	Resolution string `csv:"resolution"`
	UTM        string `csv:"utm"`
	Subregion  string `csv:"subregion"`
	OnDisk     bool   `csv:"on_disk"`
	Verified   bool   `csv:"verified"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the registry inventory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, reg, err := loadProject()
		if err != nil {
			return err
		}
		defer reg.Close()

		tiles, err := reg.AllTiles()
		if err != nil {
			return err
		}
		rows := make([]tileStatus, 0, len(tiles))
		for _, t := range tiles {
			rows = append(rows, tileStatus{
				Tile:       t.Tilename,
				Delivered:  t.Delivered.String,
				Resolution: t.Resolution.String,
				UTM:        t.UTM.String,
				Subregion:  t.Subregion.String,
				OnDisk:     t.ArtifactsOnDisk(project.Dir),
				Verified:   t.GeoTIFFVerified && t.RATVerified,
			})
		}

		if statusCSV {
			out, err := csvutil.Marshal(rows)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		}

		if ts, ok, err := reg.Tileset(); err != nil {
			return err
		} else if ok {
			when := ts.Downloaded
			if t, err := time.Parse(time.RFC3339, ts.Downloaded); err == nil {
				when = humanize.Time(t)
			}
			fmt.Printf("tile scheme: %s (downloaded %s)\n", ts.Location, when)
		} else {
			fmt.Println("tile scheme: not downloaded yet")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TILE\tDELIVERED\tRES\tUTM\tSUBREGION\tON DISK\tVERIFIED")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%v\n",
				row.Tile, row.Delivered, row.Resolution, row.UTM, row.Subregion,
				row.OnDisk, row.Verified)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		subs, err := reg.AllSubregions()
		if err != nil {
			return err
		}
		zones, err := reg.AllUTMZones()
		if err != nil {
			return err
		}
		builtSubs, builtZones := 0, 0
		for _, s := range subs {
			if s.Built {
				builtSubs++
			}
		}
		for _, z := range zones {
			if z.Built {
				builtZones++
			}
		}
		fmt.Printf("%d tiles tracked; %d/%d subregions built; %d/%d utm zones built\n",
			len(tiles), builtSubs, len(subs), builtZones, len(zones))
		return nil
	},
}
