// internal/seed/seeder.go - Parallel tile pyramid seeding
package seed

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tilecraft/tilecraft/internal"
	"github.com/tilecraft/tilecraft/internal/cache"
	"github.com/tilecraft/tilecraft/internal/grid"
	"github.com/tilecraft/tilecraft/internal/service"
	"github.com/tilecraft/tilecraft/internal/tileset"
)

// Job describes one seeding run over a tile pyramid.
type Job struct {
	// Tileset name; empty seeds every configured tileset.
	Tileset string
	MinZoom uint8
	MaxZoom uint8
	// Extent in WGS84; nil falls back to the tileset extent.
	Extent *grid.Extent
	// Nodes/NodeNo shard the pyramid round-robin across machines.
	Nodes  uint64
	NodeNo uint64
	// Overwrite regenerates tiles already present in the cache.
	Overwrite bool
	// Progress renders a per-zoom progress bar.
	Progress bool
	// Workers is the tile build concurrency (0 = hardware threads).
	Workers int
}

// Progress carries the visible counters of a running job.
type Progress struct {
	Attempted atomic.Uint64
	Written   atomic.Uint64
	Empty     atomic.Uint64
	Skipped   atomic.Uint64
	Failed    atomic.Uint64
}

// Seeder populates the tile cache from datasource queries.
type Seeder struct {
	svc *service.Service
}

// New creates a seeder over a connected service.
func New(svc *service.Service) *Seeder {
	return &Seeder{svc: svc}
}

type tileCoord struct {
	x uint32
	y uint32 // TMS row
	z uint8
}

// Run executes the job. A per-tile failure is counted and seeding
// continues; configuration errors abort.
func (s *Seeder) Run(ctx context.Context, job Job) (*Progress, error) {
	workers := job.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if job.Nodes == 0 {
		job.Nodes = 1
	}

	progress := &Progress{}
	for _, ts := range s.svc.Tilesets {
		if job.Tileset != "" && job.Tileset != ts.Name {
			continue
		}
		if err := s.seedTileset(ctx, ts, job, workers, progress); err != nil {
			return progress, err
		}
	}
	if job.Tileset != "" && s.svc.TilesetByName(job.Tileset) == nil {
		return progress, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("tileset %q not found", job.Tileset), nil)
	}
	return progress, nil
}

func (s *Seeder) seedTileset(ctx context.Context, ts *tileset.Tileset, job Job, workers int, progress *Progress) error {
	log.Infof("Generating tileset %q...", ts.Name)

	extent := ts.Extent()
	if job.Extent != nil {
		extent = *job.Extent
	}
	if extent == tileset.WorldExtent {
		log.Warn("Seeding the full globe, please configure the tileset extent")
	}
	extProj, err := s.svc.ExtentToGrid(extent)
	if err != nil {
		return err
	}

	maxZoom := job.MaxZoom
	if maxZoom > ts.MaxZoom(s.svc.Grid.MaxZoom()) {
		maxZoom = ts.MaxZoom(s.svc.Grid.MaxZoom())
	}
	minZoom := job.MinZoom
	if minZoom < ts.MinZoom() {
		minZoom = ts.MinZoom()
	}

	var tileNo uint64
	for z := minZoom; z <= maxZoom; z++ {
		if !s.svc.Grid.ValidZoom(z) {
			log.Warnf("Zoom level %d exceeds grid maximum (%d) - skipping", z, s.svc.Grid.MaxZoom())
			continue
		}
		limits := s.svc.Grid.TileLimits(extProj, z, 0)
		if err := s.seedLevel(ctx, ts, z, limits, job, workers, progress, &tileNo); err != nil {
			return err
		}
		if ctx.Err() != nil {
			log.Info("Seeding cancelled")
			return nil
		}
	}
	return nil
}

// seedLevel walks one zoom level row-major through a bounded queue
// consumed by the worker pool.
func (s *Seeder) seedLevel(ctx context.Context, ts *tileset.Tileset, z uint8, limits grid.ExtentInt, job Job, workers int, progress *Progress, tileNo *uint64) error {
	total := int64(limits.MaxX-limits.MinX+1) * int64(limits.MaxY-limits.MinY+1)
	var bar *progressbar.ProgressBar
	if job.Progress {
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(fmt.Sprintf("Level %d", z)),
			progressbar.OptionShowCount(),
		)
	}

	queue := make(chan tileCoord, 4*workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coord := range queue {
				s.buildOne(ctx, ts, coord, job, progress)
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	// The producer blocks when the queue is full and stops enqueueing
	// on cancellation; workers finish their in-flight tile.
produce:
	for y := limits.MinY; y <= limits.MaxY; y++ {
		for x := limits.MinX; x <= limits.MaxX; x++ {
			skip := *tileNo%job.Nodes != job.NodeNo
			*tileNo++
			if skip {
				if bar != nil {
					bar.Add(1)
				}
				continue
			}
			select {
			case queue <- tileCoord{x: x, y: y, z: z}:
			case <-ctx.Done():
				break produce
			}
		}
	}
	close(queue)
	wg.Wait()
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	return nil
}

func (s *Seeder) buildOne(ctx context.Context, ts *tileset.Tileset, coord tileCoord, job Job, progress *Progress) {
	// Cache paths are XYZ; the grid enumerates TMS rows
	xyzY := s.svc.Grid.FlipY(coord.y, coord.z)
	path := cache.TilePath(ts.Name, coord.x, xyzY, coord.z, false)

	if !job.Overwrite && s.svc.Cache.Exists(path) {
		progress.Skipped.Add(1)
		return
	}

	progress.Attempted.Add(1)
	written, err := s.svc.SeedTile(ctx, ts, coord.x, xyzY, coord.z)
	switch {
	case err != nil:
		progress.Failed.Add(1)
		log.Errorf("Tile %s failed: %v", path, err)
	case written:
		progress.Written.Add(1)
	default:
		progress.Empty.Add(1)
	}
}
