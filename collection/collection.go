// Package collection turns STAC feature lists into flat image
// collections: one entry per (image, band) pair, carrying everything
// the cube builder needs to select and read source windows. Building a
// collection never touches pixel data.
package collection

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	goeval "github.com/edisonguo/govaluate"

	"github.com/stackcube/stackcube/stac"
)

// Entry is one (image, band) tuple of a collection. Entries of the
// same ImageID share footprint and acquisition time.
type Entry struct {
	ImageID      string     `json:"image_id"`
	Band         string     `json:"band"`
	URL          string     `json:"url"`
	BBox         [4]float64 `json:"bbox"`
	FootprintWKT string     `json:"footprint_wkt"`
	Time         time.Time  `json:"time"`
	BandIndex    int        `json:"band_index"`
	RasterType   string     `json:"raster_type"`
	NoData       float64    `json:"nodata"`
}

// ImageCollection is an immutable flat index over source imagery.
type ImageCollection struct {
	Name    string
	Entries []Entry

	bands []string
}

// NewImageCollection builds a collection from ready-made entries,
// sorting them by (acquisition time, image id) and deriving the band
// set in first-seen order.
func NewImageCollection(name string, entries []Entry) *ImageCollection {
	ic := &ImageCollection{Name: name, Entries: entries}
	sort.SliceStable(ic.Entries, func(i, j int) bool {
		if !ic.Entries[i].Time.Equal(ic.Entries[j].Time) {
			return ic.Entries[i].Time.Before(ic.Entries[j].Time)
		}
		return ic.Entries[i].ImageID < ic.Entries[j].ImageID
	})
	seen := make(map[string]bool)
	for i := range ic.Entries {
		band := ic.Entries[i].Band
		if !seen[band] {
			seen[band] = true
			ic.bands = append(ic.bands, band)
		}
	}
	return ic
}

// Bands lists the distinct band names in first-seen order.
func (ic *ImageCollection) Bands() []string {
	return ic.bands
}

// TimeRange reports the earliest and latest acquisition times.
func (ic *ImageCollection) TimeRange() (time.Time, time.Time) {
	var lo, hi time.Time
	for i := range ic.Entries {
		t := ic.Entries[i].Time
		if lo.IsZero() || t.Before(lo) {
			lo = t
		}
		if hi.IsZero() || t.After(hi) {
			hi = t
		}
	}
	return lo, hi
}

// URLRewrite rewrites asset URLs before they are stored, decoupling
// the collection from any one remote-access mechanism.
type URLRewrite struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

func (r *URLRewrite) Apply(url string) string {
	if r == nil {
		return url
	}
	if len(r.From) > 0 && strings.HasPrefix(url, r.From) {
		url = r.To + url[len(r.From):]
	}
	return r.Prefix + url
}

// BuildOptions configure the feature-to-collection adaptation.
type BuildOptions struct {
	// Name labels the collection; defaults to the first feature's
	// collection id.
	Name string

	// AssetNames restricts which assets become entries. Empty means
	// infer spectral assets from their band metadata.
	AssetNames []string

	// PropertyFilter is an arithmetic/comparison expression over
	// feature properties, e.g. `"eo:cloud_cover" < 10`. Features for
	// which it does not evaluate to true are dropped; a missing
	// property fails closed with a warning.
	PropertyFilter string

	// URLRewrite is applied to every asset URL before storage.
	URLRewrite *URLRewrite
}

// Build constructs an ImageCollection from STAC features. An empty
// result is a valid, empty collection; only a malformed filter
// expression is an error.
func Build(features []stac.Feature, opts BuildOptions) (*ImageCollection, error) {
	var filter *goeval.EvaluableExpression
	if len(strings.TrimSpace(opts.PropertyFilter)) > 0 {
		var err error
		filter, err = goeval.NewEvaluableExpression(opts.PropertyFilter)
		if err != nil {
			return nil, fmt.Errorf("invalid property filter %q: %v", opts.PropertyFilter, err)
		}
	}

	allow := make(map[string]bool)
	for _, name := range opts.AssetNames {
		allow[name] = true
	}

	ic := &ImageCollection{Name: opts.Name}
	seenBands := make(map[string]bool)

	for i := range features {
		feat := &features[i]

		if len(ic.Name) == 0 && len(feat.Collection) > 0 {
			ic.Name = feat.Collection
		}

		if filter != nil && !evalPropertyFilter(filter, feat) {
			continue
		}

		ts, err := feat.Datetime()
		if err != nil {
			log.Printf("skipping feature: %v", err)
			continue
		}
		bbox, err := feat.Bounds()
		if err != nil {
			log.Printf("skipping feature: %v", err)
			continue
		}
		wkt := feat.FootprintWKT()

		for _, assetName := range sortedAssetNames(feat.Assets) {
			asset := feat.Assets[assetName]
			explicit := allow[assetName]
			if len(allow) > 0 && !explicit {
				continue
			}

			if len(asset.Bands) == 0 {
				if !explicit {
					// Thumbnails, metadata documents and the like are
					// only picked up when asked for by name.
					continue
				}
				log.Printf("asset %s of feature %s has no band metadata, assuming single band", assetName, feat.ID)
				ic.addEntry(feat, assetName, 1, stac.Band{Name: assetName}, bbox, wkt, ts, opts.URLRewrite, seenBands)
				continue
			}

			for _, band := range asset.Bands {
				idx := band.Index
				if idx <= 0 {
					idx = 1
				}
				ic.addEntry(feat, assetName, idx, band, bbox, wkt, ts, opts.URLRewrite, seenBands)
			}
		}
	}

	if len(ic.Entries) == 0 {
		log.Printf("collection %q is empty after filtering %d features", ic.Name, len(features))
	}

	// Entries sort by acquisition time then image id so downstream
	// aggregation buckets see a deterministic order.
	sort.SliceStable(ic.Entries, func(i, j int) bool {
		if !ic.Entries[i].Time.Equal(ic.Entries[j].Time) {
			return ic.Entries[i].Time.Before(ic.Entries[j].Time)
		}
		return ic.Entries[i].ImageID < ic.Entries[j].ImageID
	})

	return ic, nil
}

func (ic *ImageCollection) addEntry(feat *stac.Feature, assetName string, bandIndex int, band stac.Band, bbox [4]float64, wkt string, ts time.Time, rewrite *URLRewrite, seen map[string]bool) {
	bandName := band.Name
	if len(bandName) == 0 {
		bandName = assetName
	}

	nodata := 0.0
	if band.NoData != nil {
		nodata = *band.NoData
	}
	rasterType := band.DataType
	if len(rasterType) == 0 {
		rasterType = "Float32"
	}

	asset := feat.Assets[assetName]
	ic.Entries = append(ic.Entries, Entry{
		ImageID:      feat.ID,
		Band:         bandName,
		URL:          rewrite.Apply(asset.Href),
		BBox:         bbox,
		FootprintWKT: wkt,
		Time:         ts,
		BandIndex:    bandIndex,
		RasterType:   rasterType,
		NoData:       nodata,
	})

	if !seen[bandName] {
		seen[bandName] = true
		ic.bands = append(ic.bands, bandName)
	}
}

func evalPropertyFilter(filter *goeval.EvaluableExpression, feat *stac.Feature) bool {
	params := make(map[string]interface{}, len(feat.Properties))
	for k, v := range feat.Properties {
		params[k] = v
	}

	res, err := filter.Evaluate(params)
	if err != nil {
		// A property the expression references is absent or of the
		// wrong type: the filter fails closed.
		log.Printf("property filter failed for feature %s, excluding it: %v", feat.ID, err)
		return false
	}

	keep, ok := res.(bool)
	if !ok {
		log.Printf("property filter is not boolean for feature %s, excluding it: %v", feat.ID, res)
		return false
	}
	return keep
}

func sortedAssetNames(assets map[string]stac.Asset) []string {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
