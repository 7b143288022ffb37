package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// MemReader serves synthetic rasters from memory. It backs unit tests
// and the I/O accounting they rely on; nothing else should need it.
type MemReader struct {
	mu      sync.RWMutex
	rasters map[string]map[int]*SourceRaster
	fail    map[string]error
	reads   int64
}

func NewMemReader() *MemReader {
	return &MemReader{
		rasters: make(map[string]map[int]*SourceRaster),
		fail:    make(map[string]error),
	}
}

// Put registers the full raster of one band of one asset.
func (m *MemReader) Put(url string, band int, sr *SourceRaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rasters[url]; !ok {
		m.rasters[url] = make(map[int]*SourceRaster)
	}
	m.rasters[url][band] = sr
}

// FailWith makes every read of url return err, emulating a broken
// remote asset.
func (m *MemReader) FailWith(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[url] = err
}

func (m *MemReader) Reads() int64 {
	return atomic.LoadInt64(&m.reads)
}

func (m *MemReader) ReadWindow(ctx context.Context, url string, band int, win Window) (*SourceRaster, error) {
	atomic.AddInt64(&m.reads, 1)

	m.mu.RLock()
	failErr := m.fail[url]
	bands := m.rasters[url]
	m.mu.RUnlock()

	if failErr != nil {
		return nil, failErr
	}

	src, ok := bands[band]
	if !ok {
		return nil, fmt.Errorf("mem reader has no band %d for %s", band, url)
	}

	xRes := src.Geot[1]
	yRes := -src.Geot[5]
	minX, maxY := src.Geot[0], src.Geot[3]

	col0 := clampInt(int(math.Floor((win.MinX-minX)/xRes)), 0, src.Width)
	col1 := clampInt(int(math.Ceil((win.MaxX-minX)/xRes)), 0, src.Width)
	row0 := clampInt(int(math.Floor((maxY-win.MaxY)/yRes)), 0, src.Height)
	row1 := clampInt(int(math.Ceil((maxY-win.MinY)/yRes)), 0, src.Height)

	out := &SourceRaster{
		Type:   src.Type,
		NoData: src.NoData,
		Width:  col1 - col0,
		Height: row1 - row0,
		Geot:   [6]float64{minX + float64(col0)*xRes, xRes, 0, maxY - float64(row0)*yRes, 0, -yRes},
	}
	if out.Width <= 0 || out.Height <= 0 {
		out.Width, out.Height = 0, 0
		return out, nil
	}

	pxSize, err := DataSize(src.Type)
	if err != nil {
		return nil, err
	}
	rowBytes := src.Width * pxSize
	winRowBytes := out.Width * pxSize
	out.Data = make([]byte, out.Height*winRowBytes)
	for r := 0; r < out.Height; r++ {
		off := (row0+r)*rowBytes + col0*pxSize
		copy(out.Data[r*winRowBytes:(r+1)*winRowBytes], src.Data[off:off+winRowBytes])
	}
	return out, nil
}
