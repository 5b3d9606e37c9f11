package volume

// Tissue label values written into segmentation label maps.
const (
	LabelBackground = 0
	LabelCSF        = 1
	LabelGM         = 2
	LabelWM         = 3
)

// TissueMaps is the output of a three-class tissue segmentation. Every map
// shares the grid of the segmented image.
type TissueMaps struct {
	Labels *Volume
	CSF    *Volume
	GM     *Volume
	WM     *Volume
}

// Complete reports whether every map is present.
func (t TissueMaps) Complete() bool {
	return t.Labels != nil && t.CSF != nil && t.GM != nil && t.WM != nil
}
