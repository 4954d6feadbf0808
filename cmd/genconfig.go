// cmd/genconfig.go - Genconfig command implementation
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tilecraft/tilecraft/internal/datasource"
	"github.com/tilecraft/tilecraft/internal/service"
)

var genconfigFlags struct {
	dbURL    string
	gpkgPath string
}

var genconfigCmd = &cobra.Command{
	Use:   "genconfig",
	Short: "Emit a configuration template",
	Long: `Without flags, genconfig prints an annotated configuration skeleton.
With --dburl or --gpkg it connects to the datasource, detects its
layers and extents, and prints a ready-to-use configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case genconfigFlags.dbURL != "":
			return genRuntimeConfig("database", "postgis", genconfigFlags.dbURL,
				datasource.Config{Type: "postgis", URL: genconfigFlags.dbURL})
		case genconfigFlags.gpkgPath != "":
			return genRuntimeConfig("files", "gdal", genconfigFlags.gpkgPath,
				datasource.Config{Type: "gdal", Path: genconfigFlags.gpkgPath})
		default:
			fmt.Print(service.ConfigTemplate)
			return nil
		}
	},
}

func genRuntimeConfig(name, dsType, url string, cfg datasource.Config) error {
	ds, err := datasource.New(cfg)
	if err != nil {
		return err
	}
	if err := ds.Connect(); err != nil {
		return err
	}
	defer ds.Close()
	out, err := service.GenerateRuntimeConfig(name, dsType, url, ds)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func init() {
	genconfigCmd.Flags().StringVar(&genconfigFlags.dbURL, "dburl", "", "PostGIS connection URL")
	genconfigCmd.Flags().StringVar(&genconfigFlags.gpkgPath, "gpkg", "", "GeoPackage file path")
	rootCmd.AddCommand(genconfigCmd)
}
