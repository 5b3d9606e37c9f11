package spatial

import (
	"mriprep/internal/xform"
)

// Field names an image slot shared between native and template records.
type Field string

const (
	FieldImage              Field = "image"
	FieldOriginalImage      Field = "original_image"
	FieldBrainMask          Field = "brain_mask"
	FieldSegmentationLabels Field = "segmentation_labels"
	FieldGMProbability      Field = "gm_probability"
	FieldWMProbability      Field = "wm_probability"
	FieldCSFProbability     Field = "csf_probability"
	FieldROILabels          Field = "roi_labels"
	FieldROIFeatures        Field = "roi_features"
)

// propagatedFields lists native fields carried into template space, in the
// order registration propagates them.
var propagatedFields = []Field{
	FieldBrainMask,
	FieldSegmentationLabels,
	FieldGMProbability,
	FieldWMProbability,
	FieldCSFProbability,
}

// PropagatedFields returns the native fields registration carries into
// template space after writing the registered image.
func PropagatedFields() []Field {
	return append([]Field(nil), propagatedFields...)
}

// Categorical reports whether voxel values are labels rather than magnitudes.
func (f Field) Categorical() bool {
	switch f {
	case FieldBrainMask, FieldSegmentationLabels, FieldROILabels:
		return true
	default:
		return false
	}
}

// Interpolation returns the only interpolation permitted for the field.
func (f Field) Interpolation() xform.Interpolation {
	if f.Categorical() {
		return xform.InterpNearest
	}
	return xform.InterpLinear
}
