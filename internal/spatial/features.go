package spatial

// RegionFeatures are the statistics of one tissue map inside one atlas label.
type RegionFeatures struct {
	Label  int                `json:"label"`
	Voxels int                `json:"voxels"`
	Stats  map[string]float64 `json:"stats"`
}

// TissueFeatures are per-region features for one tissue probability map.
type TissueFeatures struct {
	Tissue  string           `json:"tissue"`
	Regions []RegionFeatures `json:"regions"`
}

// ROIFeatures is the template-space output of ROI extraction.
type ROIFeatures struct {
	Atlas      string           `json:"atlas"`
	Statistics []string         `json:"statistics"`
	Tissues    []TissueFeatures `json:"tissues"`
}

// Tissue returns the features for name, if extracted.
func (f *ROIFeatures) Tissue(name string) (TissueFeatures, bool) {
	if f == nil {
		return TissueFeatures{}, false
	}
	for _, t := range f.Tissues {
		if t.Tissue == name {
			return t, true
		}
	}
	return TissueFeatures{}, false
}
