package cube

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stackcube/stackcube/collection"
	"github.com/stackcube/stackcube/storage"
)

const (
	DefaultChunkT = 1
	DefaultChunkY = 256
	DefaultChunkX = 256

	defaultWorkers = 16
)

type noopObserver struct{}

func (noopObserver) ChunkRead(ChunkCoords, time.Duration) {}
func (noopObserver) AssetReadError(string, error)         {}

// dataCube is the source cube: an image collection projected onto a
// view. All other cubes wrap one of these.
type dataCube struct {
	col    *collection.ImageCollection
	view   *View
	reader storage.SourceReader

	bands    []string
	chunkT   int
	chunkY   int
	chunkX   int
	workers  int
	mask     *MaskSpec
	maskRule *maskRule
	obs      Observer
}

// BuilderOption configures cube construction.
type BuilderOption func(*dataCube)

// WithChunkSize sets the (time, y, x) chunking.
func WithChunkSize(t, y, x int) BuilderOption {
	return func(d *dataCube) { d.chunkT, d.chunkY, d.chunkX = t, y, x }
}

// WithWorkers bounds the per-chunk asset read concurrency.
func WithWorkers(n int) BuilderOption {
	return func(d *dataCube) { d.workers = n }
}

// WithMask excludes observations via a per-image mask band.
func WithMask(spec MaskSpec) BuilderOption {
	return func(d *dataCube) { d.mask = &spec }
}

// WithObserver attaches an engine event sink.
func WithObserver(obs Observer) BuilderOption {
	return func(d *dataCube) { d.obs = obs }
}

// Build constructs a lazy cube over the collection. It validates the
// configuration and computes the chunk grid without touching any
// asset.
func Build(col *collection.ImageCollection, view *View, reader storage.SourceReader, opts ...BuilderOption) (Cube, error) {
	if col == nil {
		return nil, &ConfigError{Field: "collection", Reason: "nil collection"}
	}
	if view == nil {
		return nil, &ConfigError{Field: "view", Reason: "nil view"}
	}
	if reader == nil {
		return nil, &ConfigError{Field: "reader", Reason: "nil source reader"}
	}

	d := &dataCube{
		col:     col,
		view:    view,
		reader:  reader,
		bands:   col.Bands(),
		chunkT:  DefaultChunkT,
		chunkY:  DefaultChunkY,
		chunkX:  DefaultChunkX,
		workers: defaultWorkers,
		obs:     noopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.chunkT <= 0 || d.chunkY <= 0 || d.chunkX <= 0 {
		return nil, &ConfigError{Field: "chunk size", Reason: fmt.Sprintf("(%d,%d,%d) must be strictly positive", d.chunkT, d.chunkY, d.chunkX)}
	}
	if d.workers <= 0 {
		return nil, &ConfigError{Field: "workers", Reason: "worker count must be strictly positive"}
	}
	if d.mask != nil {
		if len(d.mask.Band) == 0 {
			return nil, &ConfigError{Field: "mask", Reason: "mask band name is empty"}
		}
		if len(d.mask.BitTests)%2 != 0 {
			return nil, &ConfigError{Field: "mask", Reason: "bit tests must come in filter/value pairs"}
		}
		rule, err := compileMask(d.mask)
		if err != nil {
			return nil, err
		}
		d.maskRule = rule
	}

	return d, nil
}

func (d *dataCube) View() *View     { return d.view }
func (d *dataCube) Bands() []string { return d.bands }

func (d *dataCube) ChunkSize() (int, int, int) {
	return d.chunkT, d.chunkY, d.chunkX
}

func (d *dataCube) NumChunks() (int, int, int) {
	return chunkCounts(d.view, d.chunkT, d.chunkY, d.chunkX)
}

func (d *dataCube) Fingerprint() string {
	mask := ""
	if d.mask != nil {
		mask = fmt.Sprintf("%s%v%v", d.mask.Band, d.mask.Values, d.mask.BitTests)
	}
	return fmt.Sprintf("data:%s:%d:%s:%v:%d,%d,%d:%s",
		d.col.Name, len(d.col.Entries), d.view, d.bands,
		d.chunkT, d.chunkY, d.chunkX, mask)
}

// ReadChunk materializes one chunk. Granules are read and warped by a
// bounded pool of goroutines writing into a results slice; a failed
// asset read skips that granule only.
func (d *dataCube) ReadChunk(ctx context.Context, coords ChunkCoords) (*Chunk, error) {
	start := time.Now()

	cT, cY, cX := d.NumChunks()
	if coords.T < 0 || coords.T >= cT || coords.Y < 0 || coords.Y >= cY || coords.X < 0 || coords.X >= cX {
		return nil, fmt.Errorf("chunk %v outside chunk grid (%d,%d,%d)", coords, cT, cY, cX)
	}

	nx, ny, nt := d.view.Size()
	offT := coords.T * d.chunkT
	offY := coords.Y * d.chunkY
	offX := coords.X * d.chunkX
	nT := minInt(d.chunkT, nt-offT)
	h := minInt(d.chunkY, ny-offY)
	w := minInt(d.chunkX, nx-offX)

	ext := d.view.PixelExtent(offX, offY, w, h)
	ch := NewChunk(d.bands, d.view.sliceTimes[offT:offT+nT], w, h, offX, offY, offT)

	granules := selectGranules(d.col, d.bands, d.view, ext, offT, nT, d.mask)
	if len(granules) == 0 {
		d.obs.ChunkRead(coords, time.Since(start))
		return ch, nil
	}

	results := make([]granuleData, len(granules))
	cLimiter := NewConcLimiter(d.workers)
	for i := range granules {
		select {
		case <-ctx.Done():
			cLimiter.Wait()
			return nil, ctx.Err()
		default:
		}
		cLimiter.Increase()
		go func(i int) {
			defer cLimiter.Decrease()
			results[i] = d.readGranule(ctx, granules[i], ext, w, h)
		}(i)
	}
	cLimiter.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mergeGranules(ch, results, d.view.Agg)
	d.obs.ChunkRead(coords, time.Since(start))
	return ch, nil
}

func (d *dataCube) readGranule(ctx context.Context, g granule, ext Extent, w, h int) granuleData {
	e := g.entry
	win := storage.Window{MinX: ext.Left, MinY: ext.Bottom, MaxX: ext.Right, MaxY: ext.Top}

	src, err := d.reader.ReadWindow(ctx, e.URL, e.BandIndex, win)
	if err != nil {
		log.Printf("error reading %s band %d: %v", e.URL, e.BandIndex, err)
		d.obs.AssetReadError(e.URL, err)
		return granuleData{g: g}
	}

	plane := Warp(src, ext, w, h, d.view.Resampling)

	if g.mask != nil {
		m := g.mask
		msrc, err := d.reader.ReadWindow(ctx, m.URL, m.BandIndex, win)
		if err != nil {
			// A lost mask read keeps the observation unmasked.
			log.Printf("error reading mask %s band %d: %v", m.URL, m.BandIndex, err)
			d.obs.AssetReadError(m.URL, err)
		} else {
			maskPlane := Warp(msrc, ext, w, h, ResNearest)
			applyMask(plane, maskPlane, d.maskRule)
		}
	}

	return granuleData{g: g, plane: plane}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
