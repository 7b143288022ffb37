package cube

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// Aggregation folds all observations of one target cell within one
// time slice into a single value.
type Aggregation string

const (
	AggMedian Aggregation = "median"
	AggMean   Aggregation = "mean"
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggFirst  Aggregation = "first"
	AggCount  Aggregation = "count"
)

// Resampling maps source pixels onto the target grid.
type Resampling string

const (
	ResNearest  Resampling = "nearest"
	ResBilinear Resampling = "bilinear"
	ResBicubic  Resampling = "bicubic"
	ResAverage  Resampling = "average"
)

func validAggregation(a Aggregation) bool {
	switch a {
	case AggMedian, AggMean, AggMin, AggMax, AggFirst, AggCount:
		return true
	}
	return false
}

func validResampling(r Resampling) bool {
	switch r {
	case ResNearest, ResBilinear, ResBicubic, ResAverage:
		return true
	}
	return false
}

// Extent is a spatial rectangle in the view's reference system.
type Extent struct {
	Left   float64 `json:"left" yaml:"left"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
	Top    float64 `json:"top" yaml:"top"`
}

// Step is a calendar-aware temporal step, parsed from an ISO 8601
// style duration (P1D, P16D, P1M, P1Y, PT6H, P1DT12H).
type Step struct {
	Years  int
	Months int
	Days   int
	Clock  time.Duration
}

var stepPattern = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseStep parses a temporal step duration string.
func ParseStep(s string) (Step, error) {
	var step Step
	m := stepPattern.FindStringSubmatch(s)
	if m == nil {
		return step, &ConfigError{Field: "dt", Reason: fmt.Sprintf("unparseable duration %q", s)}
	}

	atoi := func(v string) int {
		if len(v) == 0 {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	step.Years = atoi(m[1])
	step.Months = atoi(m[2])
	step.Days = atoi(m[3])
	step.Clock = time.Duration(atoi(m[4]))*time.Hour +
		time.Duration(atoi(m[5]))*time.Minute +
		time.Duration(atoi(m[6]))*time.Second

	if step.IsZero() {
		return step, &ConfigError{Field: "dt", Reason: "temporal step must be strictly positive"}
	}
	return step, nil
}

func (s Step) IsZero() bool {
	return s.Years == 0 && s.Months == 0 && s.Days == 0 && s.Clock == 0
}

// Add advances t by one step, calendar-aware for year/month/day parts.
func (s Step) Add(t time.Time) time.Time {
	if s.Years != 0 || s.Months != 0 || s.Days != 0 {
		t = t.AddDate(s.Years, s.Months, s.Days)
	}
	return t.Add(s.Clock)
}

func (s Step) String() string {
	out := "P"
	if s.Years > 0 {
		out += fmt.Sprintf("%dY", s.Years)
	}
	if s.Months > 0 {
		out += fmt.Sprintf("%dM", s.Months)
	}
	if s.Days > 0 {
		out += fmt.Sprintf("%dD", s.Days)
	}
	if s.Clock > 0 {
		out += "T"
		h := int(s.Clock / time.Hour)
		m := int(s.Clock/time.Minute) % 60
		sec := int(s.Clock/time.Second) % 60
		if h > 0 {
			out += fmt.Sprintf("%dH", h)
		}
		if m > 0 {
			out += fmt.Sprintf("%dM", m)
		}
		if sec > 0 {
			out += fmt.Sprintf("%dS", sec)
		}
	}
	return out
}

// View is the target spatiotemporal grid of a cube: reference system,
// spatial extent and resolution, temporal extent and step, and the
// resampling/aggregation policy. Immutable once constructed.
//
// Fractional coverage rounds the pixel and slice counts up, enlarging
// the recorded effective extent rather than silently truncating data.
type View struct {
	SRS        string
	Extent     Extent
	Dx, Dy     float64
	Start, End time.Time
	Dt         Step
	Agg        Aggregation
	Resampling Resampling

	nx, ny, nt int
	effEnd     time.Time
	sliceTimes []time.Time
}

// NewView validates and constructs a view. All violations surface as
// ConfigError before any data access is possible.
func NewView(srs string, extent Extent, dx, dy float64, start, end time.Time, dt Step, agg Aggregation, res Resampling) (*View, error) {
	if dx <= 0 {
		return nil, &ConfigError{Field: "dx", Reason: "pixel size must be strictly positive"}
	}
	if dy <= 0 {
		return nil, &ConfigError{Field: "dy", Reason: "pixel size must be strictly positive"}
	}
	if extent.Left >= extent.Right {
		return nil, &ConfigError{Field: "extent", Reason: fmt.Sprintf("left (%v) must be < right (%v)", extent.Left, extent.Right)}
	}
	if extent.Bottom >= extent.Top {
		return nil, &ConfigError{Field: "extent", Reason: fmt.Sprintf("bottom (%v) must be < top (%v)", extent.Bottom, extent.Top)}
	}
	if end.Before(start) {
		return nil, &ConfigError{Field: "temporal extent", Reason: "t0 must be <= t1"}
	}
	if dt.IsZero() {
		return nil, &ConfigError{Field: "dt", Reason: "temporal step must be strictly positive"}
	}
	if !validAggregation(agg) {
		return nil, &ConfigError{Field: "aggregation", Reason: fmt.Sprintf("%q is not one of median, mean, min, max, first, count", agg)}
	}
	if !validResampling(res) {
		return nil, &ConfigError{Field: "resampling", Reason: fmt.Sprintf("%q is not one of nearest, bilinear, bicubic, average", res)}
	}

	v := &View{
		SRS:        srs,
		Extent:     extent,
		Dx:         dx,
		Dy:         dy,
		Start:      start.UTC(),
		End:        end.UTC(),
		Dt:         dt,
		Agg:        agg,
		Resampling: res,
	}

	v.nx = int(math.Ceil((extent.Right - extent.Left) / dx))
	v.ny = int(math.Ceil((extent.Top - extent.Bottom) / dy))
	v.Extent.Right = extent.Left + float64(v.nx)*dx
	v.Extent.Top = extent.Bottom + float64(v.ny)*dy

	// Slice boundaries are generated eagerly; month and year steps are
	// calendar lengths, not fixed durations.
	for t := v.Start; t.Before(v.End) || (v.nt == 0 && t.Equal(v.End)); t = dt.Add(t) {
		v.sliceTimes = append(v.sliceTimes, t)
		v.nt++
	}
	v.effEnd = dt.Add(v.sliceTimes[v.nt-1])

	return v, nil
}

// Size returns (#pixels x, #pixels y, #time slices).
func (v *View) Size() (int, int, int) {
	return v.nx, v.ny, v.nt
}

// EffectiveEnd is the (possibly enlarged) end of the temporal extent.
func (v *View) EffectiveEnd() time.Time {
	return v.effEnd
}

// SliceStart returns the inclusive lower bound of slice i.
func (v *View) SliceStart(i int) time.Time {
	return v.sliceTimes[i]
}

// SliceBounds returns the [start, end) interval of slice i.
func (v *View) SliceBounds(i int) (time.Time, time.Time) {
	start := v.sliceTimes[i]
	if i+1 < v.nt {
		return start, v.sliceTimes[i+1]
	}
	return start, v.effEnd
}

// SliceIndex buckets t, returning -1 outside the temporal extent. An
// acquisition at the exact upper bound falls in the last slice.
func (v *View) SliceIndex(t time.Time) int {
	if t.Before(v.Start) {
		return -1
	}
	if t.Equal(v.effEnd) {
		return v.nt - 1
	}
	if t.After(v.effEnd) {
		return -1
	}
	// nt is small in practice; linear scan keeps calendar steps exact.
	for i := v.nt - 1; i >= 0; i-- {
		if !t.Before(v.sliceTimes[i]) {
			return i
		}
	}
	return -1
}

// PixelExtent returns the spatial extent of the pixel block starting
// at (x0, y0) with the given size. Row 0 is the top of the grid.
func (v *View) PixelExtent(x0, y0, width, height int) Extent {
	return Extent{
		Left:   v.Extent.Left + float64(x0)*v.Dx,
		Right:  v.Extent.Left + float64(x0+width)*v.Dx,
		Top:    v.Extent.Top - float64(y0)*v.Dy,
		Bottom: v.Extent.Top - float64(y0+height)*v.Dy,
	}
}

func (v *View) String() string {
	return fmt.Sprintf("view[%s %gx%g px=(%d,%d,%d) %s/%s agg=%s res=%s]",
		v.SRS, v.Dx, v.Dy, v.nx, v.ny, v.nt,
		v.Start.Format(time.RFC3339), v.effEnd.Format(time.RFC3339), v.Agg, v.Resampling)
}

// Overrides selects the view fields Derive replaces.
type Overrides struct {
	SRS        *string
	Extent     *Extent
	Dx, Dy     *float64
	Start, End *time.Time
	Dt         *Step
	Agg        *Aggregation
	Resampling *Resampling
}

// Derive builds a new view from v with a subset of fields overridden.
// The result is re-validated from scratch.
func (v *View) Derive(o Overrides) (*View, error) {
	srs, extent, dx, dy := v.SRS, v.Extent, v.Dx, v.Dy
	start, end, dt := v.Start, v.End, v.Dt
	agg, res := v.Agg, v.Resampling

	if o.SRS != nil {
		srs = *o.SRS
	}
	if o.Extent != nil {
		extent = *o.Extent
	}
	if o.Dx != nil {
		dx = *o.Dx
	}
	if o.Dy != nil {
		dy = *o.Dy
	}
	if o.Start != nil {
		start = *o.Start
	}
	if o.End != nil {
		end = *o.End
	}
	if o.Dt != nil {
		dt = *o.Dt
	}
	if o.Agg != nil {
		agg = *o.Agg
	}
	if o.Resampling != nil {
		res = *o.Resampling
	}
	return NewView(srs, extent, dx, dy, start, end, dt, agg, res)
}

// reduced derives the single-slice view a time reduction produces.
func (v *View) reduced() *View {
	out := *v
	out.nt = 1
	out.sliceTimes = []time.Time{v.Start}
	out.effEnd = v.effEnd
	return &out
}
