package cube

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stackcube/stackcube/storage"
)

func f32Src(w, h int, geot [6]float64, nodata float64, vals []float32) *storage.SourceRaster {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return &storage.SourceRaster{
		Data:   data,
		Type:   "Float32",
		NoData: nodata,
		Width:  w,
		Height: h,
		Geot:   geot,
	}
}

func TestWarpNearestIdentity(t *testing.T) {
	src := f32Src(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, -9999, []float32{1, 2, 3, 4})
	got := Warp(src, Extent{Left: 0, Right: 2, Bottom: 0, Top: 2}, 2, 2, ResNearest)

	want := []float32{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pixel %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWarpOutsideSource(t *testing.T) {
	src := f32Src(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, -9999, []float32{1, 2, 3, 4})
	got := Warp(src, Extent{Left: 10, Right: 12, Bottom: 10, Top: 12}, 2, 2, ResNearest)
	for i, v := range got {
		if !IsNoData(v) {
			t.Errorf("pixel %d outside source = %v, want no-data", i, v)
		}
	}
}

func TestWarpNoDataPropagates(t *testing.T) {
	src := f32Src(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, -9999, []float32{1, -9999, 3, 4})
	got := Warp(src, Extent{Left: 0, Right: 2, Bottom: 0, Top: 2}, 2, 2, ResNearest)
	if !IsNoData(got[1]) {
		t.Errorf("no-data source pixel came through as %v", got[1])
	}
	if got[0] != 1 || got[2] != 3 || got[3] != 4 {
		t.Errorf("valid pixels corrupted: %v", got)
	}
}

func TestWarpEmptySource(t *testing.T) {
	got := Warp(&storage.SourceRaster{}, Extent{Left: 0, Right: 2, Bottom: 0, Top: 2}, 2, 2, ResNearest)
	for i, v := range got {
		if !IsNoData(v) {
			t.Errorf("pixel %d of empty source = %v", i, v)
		}
	}
}

func TestWarpBilinear(t *testing.T) {
	src := f32Src(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, -9999, []float32{0, 2, 4, 6})

	// One target pixel centered between all four source pixels.
	got := Warp(src, Extent{Left: 0, Right: 2, Bottom: 0, Top: 2}, 1, 1, ResBilinear)
	if math.Abs(float64(got[0])-3) > 1e-6 {
		t.Errorf("bilinear center = %v, want 3", got[0])
	}

	// A no-data neighbour drops out and the rest renormalize.
	src = f32Src(2, 2, [6]float64{0, 1, 0, 2, 0, -1}, -9999, []float32{-9999, 2, 4, 6})
	got = Warp(src, Extent{Left: 0, Right: 2, Bottom: 0, Top: 2}, 1, 1, ResBilinear)
	if math.Abs(float64(got[0])-4) > 1e-6 {
		t.Errorf("bilinear with dropout = %v, want 4", got[0])
	}
}

func TestWarpAverageDownsample(t *testing.T) {
	vals := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	src := f32Src(4, 4, [6]float64{0, 1, 0, 4, 0, -1}, -9999, vals)
	got := Warp(src, Extent{Left: 0, Right: 4, Bottom: 0, Top: 4}, 2, 2, ResAverage)

	want := []float32{1, 2, 3, 4}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("block %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWarpBicubicInterior(t *testing.T) {
	vals := make([]float32, 16)
	for i := range vals {
		vals[i] = 5
	}
	src := f32Src(4, 4, [6]float64{0, 1, 0, 4, 0, -1}, -9999, vals)

	// A constant field must come back constant, full support or not.
	got := Warp(src, Extent{Left: 0, Right: 4, Bottom: 0, Top: 4}, 4, 4, ResBicubic)
	for i, v := range got {
		if math.Abs(float64(v)-5) > 1e-5 {
			t.Errorf("pixel %d = %v, want 5", i, v)
		}
	}
}
