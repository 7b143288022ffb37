package cube

import (
	"github.com/stackcube/stackcube/collection"
)

// granule is one collection entry selected for a chunk read, resolved
// to a band axis index and a slice index local to the chunk.
type granule struct {
	entry *collection.Entry
	band  int
	slice int
	mask  *collection.Entry
}

func intersects(bbox [4]float64, ext Extent) bool {
	return bbox[0] < ext.Right && bbox[2] > ext.Left &&
		bbox[1] < ext.Top && bbox[3] > ext.Bottom
}

// selectGranules picks the entries contributing to the chunk covering
// ext and slices [offT, offT+nT). Mask entries are matched to data
// entries of the same image and are never selected as data themselves.
func selectGranules(ic *collection.ImageCollection, bands []string, v *View, ext Extent, offT, nT int, mask *MaskSpec) []granule {
	bandIdx := make(map[string]int, len(bands))
	for i, b := range bands {
		bandIdx[b] = i
	}

	maskBand := ""
	if mask != nil {
		maskBand = mask.Band
	}

	var out []granule
	masks := make(map[string]*collection.Entry)
	for i := range ic.Entries {
		e := &ic.Entries[i]
		si := v.SliceIndex(e.Time)
		if si < offT || si >= offT+nT {
			continue
		}
		if !intersects(e.BBox, ext) {
			continue
		}
		if maskBand != "" && e.Band == maskBand {
			masks[e.ImageID] = e
			continue
		}
		bi, ok := bandIdx[e.Band]
		if !ok {
			continue
		}
		out = append(out, granule{entry: e, band: bi, slice: si - offT})
	}

	if maskBand != "" {
		for i := range out {
			out[i].mask = masks[out[i].entry.ImageID]
		}
	}
	return out
}
