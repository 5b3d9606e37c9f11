package spatial

// Summary is a read-only snapshot of a record.
type Summary struct {
	SubjectID       string          `json:"subject_id"`
	ProcessingSteps []Step          `json:"processing_steps"`
	HasBrainMask    bool            `json:"has_brain_mask"`
	HasRegistration bool            `json:"has_registration"`
	HasSegmentation bool            `json:"has_segmentation"`
	Native          map[Field]bool  `json:"native"`
	Template        map[Field]bool  `json:"template"`
	Secondary       map[string]bool `json:"secondary,omitempty"`
	Modality        string          `json:"modality,omitempty"`
	Degradations    []Degradation   `json:"degradations,omitempty"`
	QCMetrics       map[string]any  `json:"qc_metrics"`
}

// Summary snapshots subject id, steps, field presence and QC metrics.
func (d *Data) Summary() Summary {
	s := Summary{
		SubjectID:       d.subjectID,
		ProcessingSteps: d.ProcessingSteps(),
		HasBrainMask:    d.HasBrainExtraction(),
		HasRegistration: d.HasRegistration(),
		HasSegmentation: d.HasSegmentation(),
		Native:          make(map[Field]bool),
		Template:        make(map[Field]bool),
		Degradations:    d.Degradations(),
		QCMetrics:       d.QCMetrics(),
	}
	for _, f := range []Field{FieldImage, FieldOriginalImage, FieldBrainMask, FieldSegmentationLabels, FieldGMProbability, FieldWMProbability, FieldCSFProbability} {
		s.Native[f] = d.native.Field(f) != nil
	}
	for _, f := range []Field{FieldImage, FieldBrainMask, FieldSegmentationLabels, FieldGMProbability, FieldWMProbability, FieldCSFProbability, FieldROILabels} {
		s.Template[f] = d.template.Field(f) != nil
	}
	s.Template[FieldROIFeatures] = d.template.ROIFeatures != nil
	if d.secondary != nil {
		s.Modality = d.secondary.Modality
		s.Secondary = map[string]bool{
			"original":              d.secondary.original != nil,
			"registered_to_primary": d.secondary.RegisteredToPrimary != nil,
			"masked":                d.secondary.Masked != nil,
			"standardized":          d.secondary.Standardized != nil,
		}
	}
	return s
}
