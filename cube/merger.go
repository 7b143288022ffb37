package cube

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// granuleData is one warped observation plane on the chunk grid.
// A nil plane marks a granule whose asset read failed.
type granuleData struct {
	g     granule
	plane []float32
}

// maskRule is a MaskSpec with its bit tests parsed once, applied per
// pixel. Values is the invalid set; a matching bit test likewise
// flags the observation invalid. An empty rule excludes nothing.
type maskRule struct {
	values []float64
	bits   []uint64
}

func compileMask(spec *MaskSpec) (*maskRule, error) {
	r := &maskRule{values: spec.Values}
	for _, s := range spec.BitTests {
		b, err := strconv.ParseUint(s, 2, 64)
		if err != nil {
			return nil, &ConfigError{Field: "mask", Reason: fmt.Sprintf("bit test %q is not a binary string", s)}
		}
		r.bits = append(r.bits, b)
	}
	return r, nil
}

func (r *maskRule) excludes(v float64) bool {
	for _, mv := range r.values {
		if v == mv {
			return true
		}
	}
	iv := uint64(v)
	for j := 0; j < len(r.bits)-1; j += 2 {
		if iv&r.bits[j] == r.bits[j+1] {
			return true
		}
	}
	return false
}

// applyMask blanks observation pixels whose mask value is invalid or
// missing.
func applyMask(plane, maskPlane []float32, rule *maskRule) {
	nd := NoData()
	for i := range plane {
		m := maskPlane[i]
		if IsNoData(m) || rule.excludes(float64(m)) {
			plane[i] = nd
		}
	}
}

// mergeGranules folds the observation planes of each (band, slice)
// group into the chunk with the view's aggregation. Planes must come
// ordered by (acquisition time, image id) so first and median are
// deterministic.
func mergeGranules(ch *Chunk, results []granuleData, agg Aggregation) {
	nSlices := len(ch.SliceTimes)
	groups := make(map[int][][]float32)
	for i := range results {
		r := &results[i]
		if r.plane == nil {
			continue
		}
		key := r.g.band*nSlices + r.g.slice
		groups[key] = append(groups[key], r.plane)
	}

	for key, planes := range groups {
		dst := ch.Plane(key/nSlices, key%nSlices)
		aggregatePlanes(dst, planes, agg)
	}
}

func aggregatePlanes(dst []float32, planes [][]float32, agg Aggregation) {
	switch agg {
	case AggMedian:
		vals := make([]float64, 0, len(planes))
		for i := range dst {
			vals = vals[:0]
			for _, p := range planes {
				if !IsNoData(p[i]) {
					vals = append(vals, float64(p[i]))
				}
			}
			if len(vals) == 0 {
				continue
			}
			sort.Float64s(vals)
			mid := len(vals) / 2
			if len(vals)%2 == 1 {
				dst[i] = float32(vals[mid])
			} else {
				dst[i] = float32((vals[mid-1] + vals[mid]) / 2)
			}
		}
	case AggMean:
		for i := range dst {
			var sum float64
			var n int
			for _, p := range planes {
				if !IsNoData(p[i]) {
					sum += float64(p[i])
					n++
				}
			}
			if n > 0 {
				dst[i] = float32(sum / float64(n))
			}
		}
	case AggMin:
		for i := range dst {
			cur := float32(math.Inf(1))
			has := false
			for _, p := range planes {
				if !IsNoData(p[i]) && p[i] < cur {
					cur = p[i]
					has = true
				}
			}
			if has {
				dst[i] = cur
			}
		}
	case AggMax:
		for i := range dst {
			cur := float32(math.Inf(-1))
			has := false
			for _, p := range planes {
				if !IsNoData(p[i]) && p[i] > cur {
					cur = p[i]
					has = true
				}
			}
			if has {
				dst[i] = cur
			}
		}
	case AggFirst:
		for i := range dst {
			for _, p := range planes {
				if !IsNoData(p[i]) {
					dst[i] = p[i]
					break
				}
			}
		}
	case AggCount:
		for i := range dst {
			var n int
			for _, p := range planes {
				if !IsNoData(p[i]) {
					n++
				}
			}
			if n > 0 {
				dst[i] = float32(n)
			}
		}
	}
}
