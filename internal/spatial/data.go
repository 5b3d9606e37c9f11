package spatial

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// NativeSpaceData holds fields on the subject's acquisition grid.
type NativeSpaceData struct {
	Image              *volume.Volume
	BrainMask          *volume.Volume
	SegmentationLabels *volume.Volume
	GMProbability      *volume.Volume
	WMProbability      *volume.Volume
	CSFProbability     *volume.Volume

	original *volume.Volume
}

// OriginalImage returns a copy of the acquisition as supplied.
func (n *NativeSpaceData) OriginalImage() *volume.Volume {
	return n.original.Clone()
}

// Field returns the named native field, or nil when unset or unknown.
func (n *NativeSpaceData) Field(f Field) *volume.Volume {
	switch f {
	case FieldImage:
		return n.Image
	case FieldOriginalImage:
		return n.original
	case FieldBrainMask:
		return n.BrainMask
	case FieldSegmentationLabels:
		return n.SegmentationLabels
	case FieldGMProbability:
		return n.GMProbability
	case FieldWMProbability:
		return n.WMProbability
	case FieldCSFProbability:
		return n.CSFProbability
	}
	return nil
}

// TemplateSpaceData holds fields on the standard reference grid. It has no
// original image: the acquisition only exists natively.
type TemplateSpaceData struct {
	Image              *volume.Volume
	BrainMask          *volume.Volume
	SegmentationLabels *volume.Volume
	GMProbability      *volume.Volume
	WMProbability      *volume.Volume
	CSFProbability     *volume.Volume
	ROILabels          *volume.Volume
	ROIFeatures        *ROIFeatures
}

// Field returns the named template image field, or nil.
func (t *TemplateSpaceData) Field(f Field) *volume.Volume {
	switch f {
	case FieldImage:
		return t.Image
	case FieldBrainMask:
		return t.BrainMask
	case FieldSegmentationLabels:
		return t.SegmentationLabels
	case FieldGMProbability:
		return t.GMProbability
	case FieldWMProbability:
		return t.WMProbability
	case FieldCSFProbability:
		return t.CSFProbability
	case FieldROILabels:
		return t.ROILabels
	}
	return nil
}

func (t *TemplateSpaceData) set(f Field, v *volume.Volume) error {
	switch f {
	case FieldImage:
		t.Image = v
	case FieldBrainMask:
		t.BrainMask = v
	case FieldSegmentationLabels:
		t.SegmentationLabels = v
	case FieldGMProbability:
		t.GMProbability = v
	case FieldWMProbability:
		t.WMProbability = v
	case FieldCSFProbability:
		t.CSFProbability = v
	default:
		return fmt.Errorf("field %s has no template counterpart", f)
	}
	return nil
}

// SecondaryModalityData is the chain of an auxiliary acquisition into
// primary and then template space.
type SecondaryModalityData struct {
	Modality            string
	RegisteredToPrimary *volume.Volume
	// ToPrimary is the rigid transform local to the secondary chain.
	ToPrimary    xform.Transform
	Masked       *volume.Volume
	Standardized *volume.Volume

	original *volume.Volume
}

// Original returns a copy of the secondary acquisition as supplied.
func (s *SecondaryModalityData) Original() *volume.Volume {
	return s.original.Clone()
}

// Transforms are the primary's frozen registration artifacts.
type Transforms struct {
	NativeToTemplate xform.Transform
	TemplateToNative xform.Transform
}

// Degradation records a stage that completed through its fallback.
type Degradation struct {
	Step   Step   `json:"step"`
	Reason string `json:"reason"`
}

// Data is the per-subject processing record.
type Data struct {
	subjectID string
	native    NativeSpaceData
	template  TemplateSpaceData
	secondary *SecondaryModalityData

	transforms *Transforms
	applier    xform.Applier

	steps        []Step
	degradations []Degradation
	qc           map[string]any
}

// Option configures a new Data record.
type Option func(*Data)

// WithSecondary attaches a secondary acquisition. A nil image is ignored, so
// the record is identical to one built without the option.
func WithSecondary(modality string, img *volume.Volume) Option {
	return func(d *Data) {
		if img == nil {
			return
		}
		modality = strings.TrimSpace(modality)
		if modality == "" {
			modality = "secondary"
		}
		d.secondary = &SecondaryModalityData{Modality: modality, original: img.Clone()}
	}
}

// New constructs a record for one subject from its primary acquisition.
func New(subjectID string, primary *volume.Volume, opts ...Option) (*Data, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.New("subject id required")
	}
	if primary == nil {
		return nil, errors.New("primary image required")
	}
	if err := primary.Grid.Validate(); err != nil {
		return nil, fmt.Errorf("primary image: %w", err)
	}
	d := &Data{
		subjectID: subjectID,
		native: NativeSpaceData{
			Image:    primary.Clone(),
			original: primary.Clone(),
		},
		qc: make(map[string]any),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.secondary != nil {
		if err := d.secondary.original.Grid.Validate(); err != nil {
			return nil, fmt.Errorf("secondary image: %w", err)
		}
	}
	return d, nil
}

// SubjectID returns the immutable subject identifier.
func (d *Data) SubjectID() string { return d.subjectID }

// Native returns the native-space record for in-place mutation.
func (d *Data) Native() *NativeSpaceData { return &d.native }

// Template returns the template-space record, or ErrNotRegistered while no
// native-to-template transform exists.
func (d *Data) Template() (*TemplateSpaceData, error) {
	if d.transforms == nil {
		return nil, ErrNotRegistered
	}
	return &d.template, nil
}

// Secondary returns the secondary record and whether one was supplied.
func (d *Data) Secondary() (*SecondaryModalityData, bool) {
	return d.secondary, d.secondary != nil
}

// SetTransforms freezes the registration artifacts and the applier able to
// resample them. It succeeds once.
func (d *Data) SetTransforms(forward, inverse xform.Transform, applier xform.Applier) error {
	if d.transforms != nil {
		return ErrTransformsFrozen
	}
	if forward.IsZero() {
		return errors.New("native-to-template transform is empty")
	}
	if applier == nil {
		return errors.New("transform applier required")
	}
	d.transforms = &Transforms{
		NativeToTemplate: forward.Clone(),
		TemplateToNative: inverse.Clone(),
	}
	d.applier = applier
	return nil
}

// Transforms returns copies of the frozen transforms.
func (d *Data) Transforms() (Transforms, bool) {
	if d.transforms == nil {
		return Transforms{}, false
	}
	return Transforms{
		NativeToTemplate: d.transforms.NativeToTemplate.Clone(),
		TemplateToNative: d.transforms.TemplateToNative.Clone(),
	}, true
}

// ApplyForward resamples img from native space into template space with the
// frozen native-to-template transform.
func (d *Data) ApplyForward(ctx context.Context, img *volume.Volume, interp xform.Interpolation) (*volume.Volume, error) {
	if d.transforms == nil {
		return nil, ErrNotRegistered
	}
	if img == nil {
		return nil, errors.New("apply forward transform: image is nil")
	}
	if !interp.Valid() {
		return nil, errors.New("apply forward transform: interpolation must be chosen explicitly")
	}
	return d.applier.Apply(ctx, img, d.transforms.NativeToTemplate, interp)
}

// PropagateToTemplate resamples native[field] into template[field] through
// the frozen forward transform. interp must match the field's policy.
func (d *Data) PropagateToTemplate(ctx context.Context, field Field, interp xform.Interpolation) error {
	if field == FieldOriginalImage {
		return &PropagationError{Field: field, Reason: "original image stays in native space"}
	}
	if d.transforms == nil {
		return &PropagationError{Field: field, Reason: "native-to-template transform not computed"}
	}
	src := d.native.Field(field)
	if src == nil {
		return &PropagationError{Field: field, Reason: "native field is empty"}
	}
	if want := field.Interpolation(); interp != want {
		return &PropagationError{Field: field, Reason: fmt.Sprintf("interpolation %s not permitted, field requires %s", interp, want)}
	}
	out, err := d.applier.Apply(ctx, src, d.transforms.NativeToTemplate, interp)
	if err != nil {
		return &PropagationError{Field: field, Reason: "apply transform", Err: err}
	}
	if !out.Grid.Equal(d.transforms.NativeToTemplate.Reference) {
		return &PropagationError{Field: field, Reason: fmt.Sprintf("result grid %s does not match template grid %s", out.Grid, d.transforms.NativeToTemplate.Reference)}
	}
	return d.template.set(field, out)
}

// MaskSecondary multiplies the registered secondary image by the native brain
// mask. The mask is never estimated here.
func (d *Data) MaskSecondary() error {
	if d.secondary == nil {
		return ErrNoSecondary
	}
	if d.secondary.RegisteredToPrimary == nil {
		return &MissingDependencyError{Step: "secondary masking", Dependency: "secondary.registered_to_primary"}
	}
	if d.native.BrainMask == nil {
		return &MissingDependencyError{Step: "secondary masking", Dependency: "native.brain_mask"}
	}
	masked, err := d.secondary.RegisteredToPrimary.Multiply(d.native.BrainMask)
	if err != nil {
		return fmt.Errorf("mask secondary image: %w", err)
	}
	d.secondary.Masked = masked
	return nil
}

// StandardizeSecondary carries the masked secondary image into template space
// with the primary's forward transform and linear interpolation.
func (d *Data) StandardizeSecondary(ctx context.Context) error {
	if d.secondary == nil {
		return ErrNoSecondary
	}
	if d.transforms == nil {
		return &MissingDependencyError{Step: "secondary standardization", Dependency: "transforms.native_to_template"}
	}
	if d.secondary.Masked == nil {
		return &MissingDependencyError{Step: "secondary standardization", Dependency: "secondary.masked"}
	}
	out, err := d.ApplyForward(ctx, d.secondary.Masked, xform.InterpLinear)
	if err != nil {
		return fmt.Errorf("standardize secondary image: %w", err)
	}
	d.secondary.Standardized = out
	return nil
}

// MarkCompleted appends step to processing_steps. Steps are recorded once.
func (d *Data) MarkCompleted(step Step) error {
	if slices.Contains(d.steps, step) {
		return fmt.Errorf("step %s already recorded", step)
	}
	d.steps = append(d.steps, step)
	return nil
}

// RecordDegradation notes that step finished through its fallback.
func (d *Data) RecordDegradation(step Step, reason string) {
	d.degradations = append(d.degradations, Degradation{Step: step, Reason: strings.TrimSpace(reason)})
}

// ProcessingSteps returns a copy of the completed steps in order.
func (d *Data) ProcessingSteps() []Step {
	return append([]Step(nil), d.steps...)
}

// Completed reports whether step is in processing_steps.
func (d *Data) Completed(step Step) bool {
	return slices.Contains(d.steps, step)
}

// Degradations returns a copy of recorded fallbacks.
func (d *Data) Degradations() []Degradation {
	return append([]Degradation(nil), d.degradations...)
}

// SetQCMetrics replaces the quality-control metrics.
func (d *Data) SetQCMetrics(metrics map[string]any) {
	d.qc = make(map[string]any, len(metrics))
	for k, v := range metrics {
		d.qc[k] = v
	}
}

// QCMetrics returns a shallow copy of the quality-control metrics.
func (d *Data) QCMetrics() map[string]any {
	out := make(map[string]any, len(d.qc))
	for k, v := range d.qc {
		out[k] = v
	}
	return out
}

// HasBrainExtraction reports whether a native brain mask exists.
func (d *Data) HasBrainExtraction() bool { return d.native.BrainMask != nil }

// HasSegmentation reports whether tissue probabilities exist in either space.
func (d *Data) HasSegmentation() bool {
	return d.native.GMProbability != nil || d.template.GMProbability != nil
}

// HasRegistration reports whether registration completed.
func (d *Data) HasRegistration() bool { return d.Completed(StepRegistration) }
