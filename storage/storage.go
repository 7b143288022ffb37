// Package storage provides range-addressable access to source imagery.
// Readers fetch only the byte ranges covering a requested spatial
// window, so remote rasters are never downloaded wholesale.
package storage

import (
	"context"
	"fmt"
	"math"
	"unsafe"
)

const SizeofUint16 = 2
const SizeofInt16 = 2
const SizeofFloat32 = 4

// Window is a spatial query rectangle in the grid's reference system.
type Window struct {
	MinX, MinY, MaxX, MaxY float64
}

func (w Window) Empty() bool {
	return w.MinX >= w.MaxX || w.MinY >= w.MaxY
}

// SourceRaster is a decoded window of one source band. Geot is a
// GDAL-style geotransform {minX, xRes, 0, maxY, 0, -yRes} describing
// the window itself, not the full source image.
type SourceRaster struct {
	Data   []byte
	Type   string
	NoData float64
	Width  int
	Height int
	Geot   [6]float64
}

// Float64At decodes the pixel at (x, y) into float64. The second
// return is false when the pixel equals the source no-data value.
func (sr *SourceRaster) Float64At(x, y int) (float64, bool) {
	idx := y*sr.Width + x
	var v float64
	switch sr.Type {
	case "Byte":
		v = float64(sr.Data[idx])
	case "Int16":
		v = float64(*(*int16)(unsafe.Pointer(&sr.Data[SizeofInt16*idx])))
	case "UInt16":
		v = float64(*(*uint16)(unsafe.Pointer(&sr.Data[SizeofUint16*idx])))
	case "Float32":
		v = float64(*(*float32)(unsafe.Pointer(&sr.Data[SizeofFloat32*idx])))
	default:
		return 0, false
	}
	if v == sr.NoData || math.IsNaN(v) {
		return v, false
	}
	return v, true
}

// DataSize returns the per-pixel byte size of a raster type.
func DataSize(dataType string) (int, error) {
	switch dataType {
	case "Byte":
		return 1, nil
	case "Int16":
		return SizeofInt16, nil
	case "UInt16":
		return SizeofUint16, nil
	case "Float32":
		return SizeofFloat32, nil
	default:
		return -1, fmt.Errorf("unsupported raster type %s", dataType)
	}
}

// SourceReader reads minimal source windows for one band of one asset.
// Implementations must be safe for concurrent use.
type SourceReader interface {
	// ReadWindow reads the smallest source region covering win for the
	// 1-based band of the asset at url. A window entirely outside the
	// source extent yields a raster with zero Width/Height, not an
	// error.
	ReadWindow(ctx context.Context, url string, band int, win Window) (*SourceRaster, error)

	// Reads reports how many window reads have been issued. Used to
	// verify that cube construction performs no I/O.
	Reads() int64
}

// RangeFetcher fetches byte ranges of one addressable object.
type RangeFetcher interface {
	Fetch(ctx context.Context, off, length int64) ([]byte, error)
	Size(ctx context.Context) (int64, error)
}

// FetcherFactory builds a RangeFetcher for a URL of its scheme.
type FetcherFactory func(url string) (RangeFetcher, error)
