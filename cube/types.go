// Package cube builds lazy, chunked raster data cubes over image
// collections. A cube is a 4-D (band, time, y, x) array on the grid of
// a View; nothing is read until a chunk is pulled.
package cube

import (
	"context"
	"math"
	"time"
)

// NoData marks the absence of a valid observation. It is NaN, so it is
// never confused with zero.
func NoData() float32 {
	return float32(math.NaN())
}

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float32) bool {
	return v != v
}

// ConfigError is a structurally invalid configuration, detected before
// any data access.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}

// ChunkCoords addresses one chunk in the cube's chunk grid.
type ChunkCoords struct {
	T, Y, X int
}

// Chunk is a materialized rectangular sub-block of a cube: all bands,
// a run of time slices and one spatial tile. Data is band-major:
// [band][slice][y][x], no-data cells are NaN.
type Chunk struct {
	Bands      []string
	SliceTimes []time.Time
	Width      int
	Height     int
	OffX, OffY int
	OffT       int
	Data       []float32
}

// NewChunk allocates an all-no-data chunk.
func NewChunk(bands []string, sliceTimes []time.Time, width, height, offX, offY, offT int) *Chunk {
	ch := &Chunk{
		Bands:      bands,
		SliceTimes: sliceTimes,
		Width:      width,
		Height:     height,
		OffX:       offX,
		OffY:       offY,
		OffT:       offT,
		Data:       make([]float32, len(bands)*len(sliceTimes)*width*height),
	}
	nd := NoData()
	for i := range ch.Data {
		ch.Data[i] = nd
	}
	return ch
}

func (ch *Chunk) index(band, slice, y, x int) int {
	return ((band*len(ch.SliceTimes)+slice)*ch.Height+y)*ch.Width + x
}

// At returns the value at (band, slice, y, x).
func (ch *Chunk) At(band, slice, y, x int) float32 {
	return ch.Data[ch.index(band, slice, y, x)]
}

// Set stores a value at (band, slice, y, x).
func (ch *Chunk) Set(band, slice, y, x int, v float32) {
	ch.Data[ch.index(band, slice, y, x)] = v
}

// Plane returns the (band, slice) pixel plane as a subslice.
func (ch *Chunk) Plane(band, slice int) []float32 {
	n := ch.Width * ch.Height
	off := (band*len(ch.SliceTimes) + slice) * n
	return ch.Data[off : off+n]
}

// MaskSpec excludes observations through a per-image mask band.
// Values is the invalid set: a mask pixel equal to any listed value
// drops the observation. BitTests are binary filter/value string
// pairs; a pixel matching any pair (pixel & filter == value) is
// likewise dropped. An empty spec excludes nothing.
type MaskSpec struct {
	Band     string    `json:"band" yaml:"band"`
	Values   []float64 `json:"values" yaml:"values"`
	BitTests []string  `json:"bit_tests" yaml:"bit_tests"`
}

// Cube is a lazy 4-D raster. Implementations never perform I/O outside
// ReadChunk.
type Cube interface {
	// View describes the target grid.
	View() *View

	// Bands lists band names in axis order.
	Bands() []string

	// ChunkSize returns the (time, y, x) chunking.
	ChunkSize() (int, int, int)

	// NumChunks returns the chunk grid dimensions (time, y, x).
	NumChunks() (int, int, int)

	// ReadChunk materializes one chunk. Sparse input yields no-data
	// cells, never an error.
	ReadChunk(ctx context.Context, coords ChunkCoords) (*Chunk, error)

	// Fingerprint identifies the full lazy description for caching.
	Fingerprint() string
}

// Observer receives engine events; implementations feed metrics.
type Observer interface {
	ChunkRead(coords ChunkCoords, d time.Duration)
	AssetReadError(url string, err error)
}

func chunkCounts(v *View, chunkT, chunkY, chunkX int) (int, int, int) {
	nx, ny, nt := v.Size()
	return ceilDiv(nt, chunkT), ceilDiv(ny, chunkY), ceilDiv(nx, chunkX)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
