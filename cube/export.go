package cube

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"github.com/stackcube/stackcube/storage"
)

// ExportGridFile materializes the whole cube into a single gridfile at
// path. Band and time flatten band-major into gridfile bands, so band
// b slice s lands in gridfile band b*nt+s. Chunks are pulled by a
// bounded pool and written with positioned row writes.
func ExportGridFile(ctx context.Context, c Cube, path string, workers int) error {
	if workers <= 0 {
		workers = defaultWorkers
	}
	v := c.View()
	nx, ny, nt := v.Size()
	bands := c.Bands()
	if len(bands) == 0 {
		return fmt.Errorf("cube has no bands to export")
	}

	hdr := storage.GridHeader{
		Type:   "Float32",
		Width:  nx,
		Height: ny,
		Bands:  len(bands) * nt,
		// Pixels stay NaN; readers treat NaN as no-data regardless of
		// the header value, which JSON cannot carry as NaN.
		NoData: -math.MaxFloat32,
		Geot:   [6]float64{v.Extent.Left, v.Dx, 0, v.Extent.Top, 0, -v.Dy},
		SRS:    v.SRS,
	}
	w, err := storage.NewGridWriter(path, hdr)
	if err != nil {
		return err
	}
	defer w.Close()

	cT, cY, cX := c.NumChunks()
	var jobs []ChunkCoords
	for t := 0; t < cT; t++ {
		for y := 0; y < cY; y++ {
			for x := 0; x < cX; x++ {
				jobs = append(jobs, ChunkCoords{T: t, Y: y, X: x})
			}
		}
	}

	errs := make([]error, len(jobs))
	cLimiter := NewConcLimiter(workers)
	for i := range jobs {
		select {
		case <-ctx.Done():
			cLimiter.Wait()
			return ctx.Err()
		default:
		}
		cLimiter.Increase()
		go func(i int) {
			defer cLimiter.Decrease()
			errs[i] = exportChunk(ctx, c, w, jobs[i], nt)
		}(i)
	}
	cLimiter.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func exportChunk(ctx context.Context, c Cube, w *storage.GridWriter, coords ChunkCoords, nt int) error {
	ch, err := c.ReadChunk(ctx, coords)
	if err != nil {
		return err
	}
	for b := range ch.Bands {
		for s := range ch.SliceTimes {
			gridBand := b*nt + ch.OffT + s
			plane := ch.Plane(b, s)
			for r := 0; r < ch.Height; r++ {
				row := plane[r*ch.Width : (r+1)*ch.Width]
				if err := w.WriteRow(gridBand, ch.OffY+r, ch.OffX, row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ExportPNG renders one (band, slice) plane as a grayscale PNG, scaled
// to the plane's own value range. No-data pixels come out transparent.
func ExportPNG(ctx context.Context, c Cube, band string, slice int, path string) error {
	bandIdx := -1
	for i, b := range c.Bands() {
		if b == band {
			bandIdx = i
			break
		}
	}
	if bandIdx < 0 {
		return &ConfigError{Field: "band", Reason: fmt.Sprintf("band %q is not in the cube band set %v", band, c.Bands())}
	}
	nx, ny, nt := c.View().Size()
	if slice < 0 || slice >= nt {
		return &ConfigError{Field: "slice", Reason: fmt.Sprintf("slice %d outside [0,%d)", slice, nt)}
	}

	chunkT, _, _ := c.ChunkSize()
	_, cY, cX := c.NumChunks()
	tc := slice / chunkT

	plane := make([]float32, nx*ny)
	for y := 0; y < cY; y++ {
		for x := 0; x < cX; x++ {
			ch, err := c.ReadChunk(ctx, ChunkCoords{T: tc, Y: y, X: x})
			if err != nil {
				return err
			}
			src := ch.Plane(bandIdx, slice-ch.OffT)
			for r := 0; r < ch.Height; r++ {
				copy(plane[(ch.OffY+r)*nx+ch.OffX:], src[r*ch.Width:(r+1)*ch.Width])
			}
		}
	}

	lo := float32(math.Inf(1))
	hi := float32(math.Inf(-1))
	for _, v := range plane {
		if IsNoData(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, nx, ny))
	for i, v := range plane {
		if IsNoData(v) {
			continue
		}
		gray := uint8(255)
		if hi > lo {
			gray = uint8(255 * (v - lo) / (hi - lo))
		}
		off := i * 4
		img.Pix[off] = gray
		img.Pix[off+1] = gray
		img.Pix[off+2] = gray
		img.Pix[off+3] = 255
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
