// cmd/generate.go - Generate command implementation
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/seed"
)

var generateFlags struct {
	tileset   string
	minZoom   uint8
	maxZoom   uint8
	extent    string
	nodes     uint64
	nodeNo    uint64
	progress  bool
	overwrite bool
	workers   int
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Pre-generate tiles into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := loadService()
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.Connect(); err != nil {
			return err
		}
		if err := svc.WriteCacheMetadata(); err != nil {
			return err
		}

		var extent *grid.Extent
		if generateFlags.extent != "" {
			extent, err = parseExtent(generateFlags.extent)
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		maxZoom := generateFlags.maxZoom
		if !cmd.Flags().Changed("maxzoom") {
			maxZoom = svc.Grid.MaxZoom()
		}

		seeder := seed.New(svc)
		progress, err := seeder.Run(ctx, seed.Job{
			Tileset:   generateFlags.tileset,
			MinZoom:   generateFlags.minZoom,
			MaxZoom:   maxZoom,
			Extent:    extent,
			Nodes:     generateFlags.nodes,
			NodeNo:    generateFlags.nodeNo,
			Progress:  generateFlags.progress,
			Overwrite: generateFlags.overwrite,
			Workers:   generateFlags.workers,
		})
		if progress != nil {
			log.Infof("Tiles written: %d, empty: %d, skipped: %d, failed: %d",
				progress.Written.Load(), progress.Empty.Load(),
				progress.Skipped.Load(), progress.Failed.Load())
		}
		return err
	},
}

// parseExtent reads a WGS84 extent from "minx,miny,maxx,maxy".
func parseExtent(s string) (*grid.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("invalid extent %q, expected minx,miny,maxx,maxy", s), nil)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, internal.NewError(internal.ErrorCodeConfig,
				fmt.Sprintf("invalid extent value %q", p), err)
		}
		vals[i] = v
	}
	return &grid.Extent{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

func init() {
	generateCmd.Flags().StringVar(&generateFlags.tileset, "tileset", "", "tileset to generate (default: all)")
	generateCmd.Flags().Uint8Var(&generateFlags.minZoom, "minzoom", 0, "first zoom level")
	generateCmd.Flags().Uint8Var(&generateFlags.maxZoom, "maxzoom", 22, "last zoom level")
	generateCmd.Flags().StringVar(&generateFlags.extent, "extent", "", "WGS84 extent minx,miny,maxx,maxy")
	generateCmd.Flags().Uint64Var(&generateFlags.nodes, "nodes", 1, "number of generator nodes")
	generateCmd.Flags().Uint64Var(&generateFlags.nodeNo, "nodeno", 0, "index of this node")
	generateCmd.Flags().BoolVar(&generateFlags.progress, "progress", true, "show progress bars")
	generateCmd.Flags().BoolVar(&generateFlags.overwrite, "overwrite", false, "regenerate existing tiles")
	generateCmd.Flags().IntVar(&generateFlags.workers, "workers", 0, "tile build concurrency (default: hardware threads)")
	rootCmd.AddCommand(generateCmd)
}
