package spatial

import "fmt"

// Space partitions the record.
type Space string

const (
	SpaceNative     Space = "native"
	SpaceTemplate   Space = "template"
	SpaceSecondary  Space = "secondary"
	SpaceTransforms Space = "transforms"
	SpaceQC         Space = "qc"
)

// Ref names one slot of the record, for stage preconditions and effects.
type Ref struct {
	Space Space
	Field string
}

func (r Ref) String() string {
	if r.Field == "" {
		return string(r.Space)
	}
	return fmt.Sprintf("%s.%s", r.Space, r.Field)
}

// Native returns a reference to a native field.
func Native(f Field) Ref { return Ref{Space: SpaceNative, Field: string(f)} }

// TemplateRef returns a reference to a template field.
func TemplateRef(f Field) Ref { return Ref{Space: SpaceTemplate, Field: string(f)} }

// SecondaryRef returns a reference to a secondary slot such as "masked".
func SecondaryRef(name string) Ref { return Ref{Space: SpaceSecondary, Field: name} }

var (
	RefNativeToTemplate = Ref{Space: SpaceTransforms, Field: "native_to_template"}
	RefTemplateToNative = Ref{Space: SpaceTransforms, Field: "template_to_native"}
	RefQCMetrics        = Ref{Space: SpaceQC}
)

// Has reports whether the referenced slot is populated.
func (d *Data) Has(r Ref) bool {
	switch r.Space {
	case SpaceNative:
		return d.native.Field(Field(r.Field)) != nil
	case SpaceTemplate:
		if Field(r.Field) == FieldROIFeatures {
			return d.template.ROIFeatures != nil
		}
		return d.template.Field(Field(r.Field)) != nil
	case SpaceSecondary:
		if d.secondary == nil {
			return false
		}
		switch r.Field {
		case "original":
			return d.secondary.original != nil
		case "registered_to_primary":
			return d.secondary.RegisteredToPrimary != nil
		case "masked":
			return d.secondary.Masked != nil
		case "standardized":
			return d.secondary.Standardized != nil
		}
	case SpaceTransforms:
		return d.transforms != nil
	case SpaceQC:
		return len(d.qc) > 0
	}
	return false
}

// Populated lists every populated slot.
func (d *Data) Populated() []Ref {
	var refs []Ref
	for _, f := range []Field{FieldImage, FieldOriginalImage, FieldBrainMask, FieldSegmentationLabels, FieldGMProbability, FieldWMProbability, FieldCSFProbability} {
		if d.Has(Native(f)) {
			refs = append(refs, Native(f))
		}
	}
	for _, f := range []Field{FieldImage, FieldBrainMask, FieldSegmentationLabels, FieldGMProbability, FieldWMProbability, FieldCSFProbability, FieldROILabels, FieldROIFeatures} {
		if d.Has(TemplateRef(f)) {
			refs = append(refs, TemplateRef(f))
		}
	}
	for _, name := range []string{"original", "registered_to_primary", "masked", "standardized"} {
		if d.Has(SecondaryRef(name)) {
			refs = append(refs, SecondaryRef(name))
		}
	}
	if d.transforms != nil {
		refs = append(refs, RefNativeToTemplate, RefTemplateToNative)
	}
	if d.Has(RefQCMetrics) {
		refs = append(refs, RefQCMetrics)
	}
	return refs
}
