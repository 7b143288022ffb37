package cube

import (
	"math"

	"github.com/stackcube/stackcube/storage"
)

// Warp resamples a source window onto a width x height target grid
// covering ext. Cells with no usable source observation come back as
// no-data.
func Warp(src *storage.SourceRaster, ext Extent, width, height int, method Resampling) []float32 {
	out := make([]float32, width*height)
	nd := NoData()
	for i := range out {
		out[i] = nd
	}
	if src == nil || src.Width == 0 || src.Height == 0 {
		return out
	}

	dx := (ext.Right - ext.Left) / float64(width)
	dy := (ext.Top - ext.Bottom) / float64(height)
	xRes := src.Geot[1]
	yRes := -src.Geot[5]

	for ty := 0; ty < height; ty++ {
		// Target pixel centers, row 0 at the top.
		cy := ext.Top - (float64(ty)+0.5)*dy
		row := (src.Geot[3] - cy) / yRes
		for tx := 0; tx < width; tx++ {
			cx := ext.Left + (float64(tx)+0.5)*dx
			col := (cx - src.Geot[0]) / xRes

			var v float64
			var ok bool
			switch method {
			case ResBilinear:
				v, ok = sampleBilinear(src, col, row)
			case ResBicubic:
				v, ok = sampleBicubic(src, col, row)
			case ResAverage:
				v, ok = sampleAverage(src, col, row, dx/xRes, dy/yRes)
			default:
				v, ok = sampleNearest(src, col, row)
			}
			if ok {
				out[ty*width+tx] = float32(v)
			}
		}
	}
	return out
}

func sampleNearest(src *storage.SourceRaster, col, row float64) (float64, bool) {
	x := int(math.Floor(col))
	y := int(math.Floor(row))
	if x < 0 || x >= src.Width || y < 0 || y >= src.Height {
		return 0, false
	}
	return src.Float64At(x, y)
}

// sampleBilinear interpolates between the four pixel centers around
// (col, row). No-data neighbours drop out and the weights renormalize;
// all four invalid means no observation.
func sampleBilinear(src *storage.SourceRaster, col, row float64) (float64, bool) {
	fx := col - 0.5
	fy := row - 0.5
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	wx := fx - float64(x0)
	wy := fy - float64(y0)

	var sum, wSum float64
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			x, y := x0+dx, y0+dy
			if x < 0 || x >= src.Width || y < 0 || y >= src.Height {
				continue
			}
			v, ok := src.Float64At(x, y)
			if !ok {
				continue
			}
			w := (1 - math.Abs(float64(dx)-wx)) * (1 - math.Abs(float64(dy)-wy))
			sum += w * v
			wSum += w
		}
	}
	if wSum <= 0 {
		return 0, false
	}
	return sum / wSum, true
}

// catmullRom evaluates the Catmull-Rom kernel at distance t in [0, 2).
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	if t < 1 {
		return 1.5*t*t*t - 2.5*t*t + 1
	}
	if t < 2 {
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	}
	return 0
}

// sampleBicubic runs a 4x4 Catmull-Rom stencil. Any no-data or
// out-of-bounds support pixel degrades the sample to bilinear, which
// handles partial support.
func sampleBicubic(src *storage.SourceRaster, col, row float64) (float64, bool) {
	fx := col - 0.5
	fy := row - 0.5
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))

	var sum, wSum float64
	for dy := -1; dy <= 2; dy++ {
		for dx := -1; dx <= 2; dx++ {
			x, y := x0+dx, y0+dy
			if x < 0 || x >= src.Width || y < 0 || y >= src.Height {
				return sampleBilinear(src, col, row)
			}
			v, ok := src.Float64At(x, y)
			if !ok {
				return sampleBilinear(src, col, row)
			}
			w := catmullRom(float64(x0+dx)-fx) * catmullRom(float64(y0+dy)-fy)
			sum += w * v
			wSum += w
		}
	}
	if wSum == 0 {
		return 0, false
	}
	return sum / wSum, true
}

// sampleAverage averages the source pixels whose centers fall inside
// the target pixel footprint. Downsampling footprints smaller than one
// source pixel fall back to nearest.
func sampleAverage(src *storage.SourceRaster, col, row, spanX, spanY float64) (float64, bool) {
	x0 := int(math.Ceil(col - spanX/2 - 0.5))
	x1 := int(math.Floor(col + spanX/2 - 0.5))
	y0 := int(math.Ceil(row - spanY/2 - 0.5))
	y1 := int(math.Floor(row + spanY/2 - 0.5))
	if x1 < x0 || y1 < y0 {
		return sampleNearest(src, col, row)
	}

	var sum float64
	var n int
	for y := y0; y <= y1; y++ {
		if y < 0 || y >= src.Height {
			continue
		}
		for x := x0; x <= x1; x++ {
			if x < 0 || x >= src.Width {
				continue
			}
			if v, ok := src.Float64At(x, y); ok {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
