package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Gridfile layout: 4-byte magic, uint32 LE header length, JSON header,
// then band-sequential row-major pixel data in little-endian order.
const gridMagic = "SCGR"
const gridPreludeSize = 8

// GridHeader is the JSON header of a gridfile.
type GridHeader struct {
	Type   string     `json:"array_type"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Bands  int        `json:"bands"`
	NoData float64    `json:"nodata"`
	Geot   [6]float64 `json:"geotransform"`
	SRS    string     `json:"srs"`
}

type gridMeta struct {
	hdr     GridHeader
	dataOff int64
	pxSize  int
}

// GridReader is a SourceReader over gridfiles reachable through
// registered range fetchers (file, http, s3, ...). Headers are cached
// per URL so repeated window reads touch pixel ranges only.
type GridReader struct {
	factories map[string]FetcherFactory

	fetchers sync.Map // url -> RangeFetcher
	metas    sync.Map // url -> *gridMeta

	retries int
	reads   int64
	verbose bool
}

// GridOption configures a GridReader.
type GridOption func(*GridReader)

// WithRetries sets the per-fetch retry budget. Retries apply to a
// single asset read, never to a whole chunk.
func WithRetries(n int) GridOption {
	return func(g *GridReader) { g.retries = n }
}

func WithVerbose(v bool) GridOption {
	return func(g *GridReader) { g.verbose = v }
}

// WithFetcher registers a RangeFetcher factory for a URL scheme.
func WithFetcher(scheme string, factory FetcherFactory) GridOption {
	return func(g *GridReader) { g.factories[scheme] = factory }
}

func NewGridReader(opts ...GridOption) *GridReader {
	g := &GridReader{
		factories: map[string]FetcherFactory{
			"":     NewFileFetcher,
			"file": NewFileFetcher,
		},
		retries: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GridReader) Reads() int64 {
	return atomic.LoadInt64(&g.reads)
}

func (g *GridReader) fetcher(assetURL string) (RangeFetcher, error) {
	if f, ok := g.fetchers.Load(assetURL); ok {
		return f.(RangeFetcher), nil
	}

	scheme := ""
	if u, err := url.Parse(assetURL); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	factory, ok := g.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for scheme %q (url %s)", scheme, assetURL)
	}

	f, err := factory(assetURL)
	if err != nil {
		return nil, err
	}
	g.fetchers.Store(assetURL, f)
	return f, nil
}

func (g *GridReader) fetch(ctx context.Context, f RangeFetcher, assetURL string, off, length int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			if g.verbose {
				log.Printf("retrying read of %s [%d,%d), attempt %d", assetURL, off, off+length, attempt)
			}
		}
		buf, err := f.Fetch(ctx, off, length)
		if err == nil {
			return buf, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (g *GridReader) meta(ctx context.Context, f RangeFetcher, assetURL string) (*gridMeta, error) {
	if m, ok := g.metas.Load(assetURL); ok {
		return m.(*gridMeta), nil
	}

	prelude, err := g.fetch(ctx, f, assetURL, 0, gridPreludeSize)
	if err != nil {
		return nil, fmt.Errorf("error reading gridfile prelude of %s: %v", assetURL, err)
	}
	if len(prelude) < gridPreludeSize || string(prelude[:4]) != gridMagic {
		return nil, fmt.Errorf("%s is not a gridfile", assetURL)
	}
	hdrLen := int64(binary.LittleEndian.Uint32(prelude[4:]))

	raw, err := g.fetch(ctx, f, assetURL, gridPreludeSize, hdrLen)
	if err != nil {
		return nil, fmt.Errorf("error reading gridfile header of %s: %v", assetURL, err)
	}

	m := &gridMeta{dataOff: gridPreludeSize + hdrLen}
	if err := json.Unmarshal(raw, &m.hdr); err != nil {
		return nil, fmt.Errorf("problem parsing gridfile header of %s: %v", assetURL, err)
	}
	if m.hdr.Width <= 0 || m.hdr.Height <= 0 {
		return nil, fmt.Errorf("gridfile %s has degenerate dimensions %dx%d", assetURL, m.hdr.Width, m.hdr.Height)
	}
	if m.hdr.Bands <= 0 {
		m.hdr.Bands = 1
	}

	m.pxSize, err = DataSize(m.hdr.Type)
	if err != nil {
		return nil, fmt.Errorf("gridfile %s: %v", assetURL, err)
	}

	g.metas.Store(assetURL, m)
	return m, nil
}

// ReadWindow implements SourceReader.
func (g *GridReader) ReadWindow(ctx context.Context, assetURL string, band int, win Window) (*SourceRaster, error) {
	atomic.AddInt64(&g.reads, 1)

	f, err := g.fetcher(assetURL)
	if err != nil {
		return nil, err
	}

	m, err := g.meta(ctx, f, assetURL)
	if err != nil {
		return nil, err
	}
	hdr := &m.hdr

	if band < 1 || band > hdr.Bands {
		return nil, fmt.Errorf("gridfile %s has no band %d", assetURL, band)
	}

	xRes := hdr.Geot[1]
	yRes := -hdr.Geot[5]
	minX, maxY := hdr.Geot[0], hdr.Geot[3]

	col0 := clampInt(int(math.Floor((win.MinX-minX)/xRes)), 0, hdr.Width)
	col1 := clampInt(int(math.Ceil((win.MaxX-minX)/xRes)), 0, hdr.Width)
	row0 := clampInt(int(math.Floor((maxY-win.MaxY)/yRes)), 0, hdr.Height)
	row1 := clampInt(int(math.Ceil((maxY-win.MinY)/yRes)), 0, hdr.Height)

	out := &SourceRaster{
		Type:   hdr.Type,
		NoData: hdr.NoData,
		Width:  col1 - col0,
		Height: row1 - row0,
		Geot:   [6]float64{minX + float64(col0)*xRes, xRes, 0, maxY - float64(row0)*yRes, 0, -yRes},
	}
	if out.Width <= 0 || out.Height <= 0 {
		out.Width, out.Height = 0, 0
		return out, nil
	}

	bandOff := m.dataOff + int64(band-1)*int64(hdr.Width)*int64(hdr.Height)*int64(m.pxSize)
	rowBytes := int64(hdr.Width) * int64(m.pxSize)
	winRowBytes := int64(out.Width) * int64(m.pxSize)

	if out.Width == hdr.Width {
		// Full-width windows collapse into a single contiguous range.
		off := bandOff + int64(row0)*rowBytes
		buf, err := g.fetch(ctx, f, assetURL, off, int64(out.Height)*rowBytes)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %v", assetURL, err)
		}
		out.Data = buf
		return out, nil
	}

	out.Data = make([]byte, int64(out.Height)*winRowBytes)
	for r := 0; r < out.Height; r++ {
		off := bandOff + int64(row0+r)*rowBytes + int64(col0)*int64(m.pxSize)
		buf, err := g.fetch(ctx, f, assetURL, off, winRowBytes)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %v", assetURL, err)
		}
		copy(out.Data[int64(r)*winRowBytes:], buf)
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

