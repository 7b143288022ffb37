package cube

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"
)

// SelectBands restricts a cube to the named bands, in the given order.
// Unknown names fail at construction.
func SelectBands(c Cube, names ...string) (Cube, error) {
	if len(names) == 0 {
		return nil, &ConfigError{Field: "bands", Reason: "no bands selected"}
	}
	avail := make(map[string]int, len(c.Bands()))
	for i, b := range c.Bands() {
		avail[b] = i
	}
	idx := make([]int, len(names))
	for i, name := range names {
		bi, ok := avail[name]
		if !ok {
			return nil, &ConfigError{Field: "bands", Reason: fmt.Sprintf("band %q is not in the cube band set %v", name, c.Bands())}
		}
		idx[i] = bi
	}

	// Selecting on the source cube prunes granule reads instead of
	// dropping planes after the fact.
	if d, ok := c.(*dataCube); ok {
		pruned := *d
		pruned.bands = names
		return &pruned, nil
	}
	return &selectCube{inner: c, bands: names, idx: idx}, nil
}

type selectCube struct {
	inner Cube
	bands []string
	idx   []int
}

func (s *selectCube) View() *View                { return s.inner.View() }
func (s *selectCube) Bands() []string            { return s.bands }
func (s *selectCube) ChunkSize() (int, int, int) { return s.inner.ChunkSize() }
func (s *selectCube) NumChunks() (int, int, int) { return s.inner.NumChunks() }

func (s *selectCube) Fingerprint() string {
	return fmt.Sprintf("select:%v:(%s)", s.bands, s.inner.Fingerprint())
}

func (s *selectCube) ReadChunk(ctx context.Context, coords ChunkCoords) (*Chunk, error) {
	in, err := s.inner.ReadChunk(ctx, coords)
	if err != nil {
		return nil, err
	}
	out := NewChunk(s.bands, in.SliceTimes, in.Width, in.Height, in.OffX, in.OffY, in.OffT)
	for bi, srcIdx := range s.idx {
		for si := range in.SliceTimes {
			copy(out.Plane(bi, si), in.Plane(srcIdx, si))
		}
	}
	return out, nil
}

// ApplyPixel maps a per-pixel expression over the cube, producing a
// single-band cube named outBand. Band references are validated at
// construction; per-pixel failures yield no-data.
func ApplyPixel(c Cube, outBand, expression string) (Cube, error) {
	if len(outBand) == 0 {
		return nil, &ConfigError{Field: "band", Reason: "output band name is empty"}
	}
	be, err := NewBandExpr(expression, c.Bands())
	if err != nil {
		return nil, err
	}

	bandIdx := make(map[string]int)
	for i, b := range c.Bands() {
		bandIdx[b] = i
	}
	varIdx := make([]int, len(be.Vars))
	for i, v := range be.Vars {
		varIdx[i] = bandIdx[v]
	}
	return &exprCube{inner: c, expr: be, varIdx: varIdx, band: outBand}, nil
}

type exprCube struct {
	inner  Cube
	expr   *BandExpr
	varIdx []int
	band   string
}

func (e *exprCube) View() *View                { return e.inner.View() }
func (e *exprCube) Bands() []string            { return []string{e.band} }
func (e *exprCube) ChunkSize() (int, int, int) { return e.inner.ChunkSize() }
func (e *exprCube) NumChunks() (int, int, int) { return e.inner.NumChunks() }

func (e *exprCube) Fingerprint() string {
	return fmt.Sprintf("expr:%s=%s:(%s)", e.band, e.expr.Text, e.inner.Fingerprint())
}

func (e *exprCube) ReadChunk(ctx context.Context, coords ChunkCoords) (*Chunk, error) {
	in, err := e.inner.ReadChunk(ctx, coords)
	if err != nil {
		return nil, err
	}
	out := NewChunk(e.Bands(), in.SliceTimes, in.Width, in.Height, in.OffX, in.OffY, in.OffT)

	params := make(map[string]interface{}, len(e.expr.Vars))
	for si := range in.SliceTimes {
		dst := out.Plane(0, si)
		for i := range dst {
			for vi, name := range e.expr.Vars {
				v := in.Plane(e.varIdx[vi], si)[i]
				if IsNoData(v) {
					params[name] = math.NaN()
				} else {
					params[name] = float64(v)
				}
			}
			dst[i] = e.expr.Eval(params)
		}
	}
	return out, nil
}

var reducePattern = regexp.MustCompile(`^\s*(\w+)\((\w+)\)\s*$`)

// ReduceTime collapses the time axis to one slice. Each reducer has
// the form "fn(band)", e.g. "max(ndvi)", and contributes one output
// band named band_fn.
func ReduceTime(c Cube, reducers ...string) (Cube, error) {
	if len(reducers) == 0 {
		return nil, &ConfigError{Field: "reducer", Reason: "no reducers given"}
	}
	bandIdx := make(map[string]int, len(c.Bands()))
	for i, b := range c.Bands() {
		bandIdx[b] = i
	}

	r := &reduceCube{inner: c, view: c.View().reduced()}
	for _, spec := range reducers {
		m := reducePattern.FindStringSubmatch(spec)
		if m == nil {
			return nil, &ConfigError{Field: "reducer", Reason: fmt.Sprintf("%q does not match fn(band)", spec)}
		}
		agg := Aggregation(m[1])
		if !validAggregation(agg) {
			return nil, &ConfigError{Field: "reducer", Reason: fmt.Sprintf("%q is not one of median, mean, min, max, first, count", m[1])}
		}
		bi, ok := bandIdx[m[2]]
		if !ok {
			return nil, &ConfigError{Field: "reducer", Reason: fmt.Sprintf("band %q is not in the cube band set %v", m[2], c.Bands())}
		}
		r.aggs = append(r.aggs, agg)
		r.srcIdx = append(r.srcIdx, bi)
		r.bands = append(r.bands, m[2]+"_"+m[1])
	}
	return r, nil
}

type reduceCube struct {
	inner  Cube
	view   *View
	aggs   []Aggregation
	srcIdx []int
	bands  []string
}

func (r *reduceCube) View() *View     { return r.view }
func (r *reduceCube) Bands() []string { return r.bands }

func (r *reduceCube) ChunkSize() (int, int, int) {
	_, y, x := r.inner.ChunkSize()
	return 1, y, x
}

func (r *reduceCube) NumChunks() (int, int, int) {
	_, cY, cX := r.inner.NumChunks()
	return 1, cY, cX
}

func (r *reduceCube) Fingerprint() string {
	return fmt.Sprintf("reduce:%v:%v:(%s)", r.aggs, r.bands, r.inner.Fingerprint())
}

// ReadChunk pulls every upstream time chunk of the tile and folds the
// slices in acquisition order.
func (r *reduceCube) ReadChunk(ctx context.Context, coords ChunkCoords) (*Chunk, error) {
	cT, cY, cX := r.NumChunks()
	if coords.T != 0 || coords.Y < 0 || coords.Y >= cY || coords.X < 0 || coords.X >= cX {
		return nil, fmt.Errorf("chunk %v outside chunk grid (%d,%d,%d)", coords, cT, cY, cX)
	}

	innerT, _, _ := r.inner.NumChunks()
	planes := make([][][]float32, len(r.bands))
	var base *Chunk
	for tc := 0; tc < innerT; tc++ {
		in, err := r.inner.ReadChunk(ctx, ChunkCoords{T: tc, Y: coords.Y, X: coords.X})
		if err != nil {
			return nil, err
		}
		if base == nil {
			base = in
		}
		for si := range in.SliceTimes {
			for bi, srcIdx := range r.srcIdx {
				planes[bi] = append(planes[bi], in.Plane(srcIdx, si))
			}
		}
	}

	out := NewChunk(r.bands, []time.Time{r.view.Start}, base.Width, base.Height, base.OffX, base.OffY, 0)
	for bi := range r.bands {
		aggregatePlanes(out.Plane(bi, 0), planes[bi], r.aggs[bi])
	}
	return out, nil
}
