// Package stac provides a minimal client and data model for
// SpatioTemporal Asset Catalog (STAC) search APIs. Only the subset of
// the item spec needed to build image collections is modelled here.
package stac

import (
	"fmt"
	"time"

	geo "github.com/nci/geometry"
)

// ISOFormat is the string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// Band describes one spectral band advertised by an asset via the
// eo extension.
type Band struct {
	Name       string   `json:"name"`
	CommonName string   `json:"common_name"`
	Index      int      `json:"band_index"`
	NoData     *float64 `json:"nodata"`
	DataType   string   `json:"data_type"`
}

// Asset is one file referenced by a feature, e.g. a single band COG.
type Asset struct {
	Href  string `json:"href"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Roles []string
	Bands []Band `json:"eo:bands"`
}

// Feature is one catalog item describing a captured image and its assets.
type Feature struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Geometry   geo.Geometry           `json:"geometry"`
	BBox       []float64              `json:"bbox"`
	Properties map[string]interface{} `json:"properties"`
	Assets     map[string]Asset       `json:"assets"`
}

// Datetime extracts the acquisition timestamp from the feature
// properties. STAC mandates the datetime property on items; a feature
// without it cannot be indexed into a collection.
func (f *Feature) Datetime() (time.Time, error) {
	raw, ok := f.Properties["datetime"]
	if !ok {
		return time.Time{}, fmt.Errorf("feature %s has no datetime property", f.ID)
	}

	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("feature %s datetime is not a string: %v", f.ID, raw)
	}

	for _, format := range []string{time.RFC3339, ISOFormat, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(format, str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("feature %s has unparseable datetime: %s", f.ID, str)
}

// Bounds returns the feature bbox as (minX, minY, maxX, maxY).
func (f *Feature) Bounds() ([4]float64, error) {
	var out [4]float64
	if len(f.BBox) < 4 {
		return out, fmt.Errorf("feature %s has no usable bbox", f.ID)
	}
	// 3D bboxes interleave elevation: [minX, minY, minZ, maxX, maxY, maxZ]
	if len(f.BBox) >= 6 {
		out = [4]float64{f.BBox[0], f.BBox[1], f.BBox[3], f.BBox[4]}
	} else {
		out = [4]float64{f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]}
	}
	if out[0] > out[2] || out[1] > out[3] {
		return out, fmt.Errorf("feature %s has degenerate bbox: %v", f.ID, f.BBox)
	}
	return out, nil
}

// FootprintWKT renders the feature geometry as WKT for persistence.
func (f *Feature) FootprintWKT() string {
	return f.Geometry.MarshalWKT()
}
