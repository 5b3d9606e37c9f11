package outputs

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gocarina/gocsv"

	"mriprep/internal/fileutil"
	"mriprep/internal/niftiio"
	"mriprep/internal/spatial"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// Options selects optional artifacts.
type Options struct {
	SaveIntermediate bool
	SaveTransforms   bool
	GenerateReport   bool
}

// Artifact is one written file.
type Artifact struct {
	Category Category `json:"category"`
	Kind     string   `json:"kind"`
	Path     string   `json:"path"`
}

// Manifest lists written artifacts in write order.
type Manifest struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Paths returns artifact paths within category c.
func (m Manifest) Paths(c Category) []string {
	var out []string
	for _, a := range m.Artifacts {
		if a.Category == c {
			out = append(out, a.Path)
		}
	}
	return out
}

func (m *Manifest) add(c Category, kind, path string) {
	m.Artifacts = append(m.Artifacts, Artifact{Category: c, Kind: kind, Path: path})
}

var nativeFields = []spatial.Field{
	spatial.FieldImage,
	spatial.FieldBrainMask,
	spatial.FieldSegmentationLabels,
	spatial.FieldGMProbability,
	spatial.FieldWMProbability,
	spatial.FieldCSFProbability,
}

var templateFields = append(slices.Clone(nativeFields), spatial.FieldROILabels)

// Persist writes data under l. Native images go to intermediate, template
// images to final, metrics to qc.
func Persist(data *spatial.Data, l Layout, opts Options) (Manifest, error) {
	var m Manifest
	if err := l.Ensure(); err != nil {
		return m, err
	}

	native := data.Native()
	if opts.SaveIntermediate {
		for _, f := range nativeFields {
			if err := writeImage(&m, native.Field(f), l.FieldPath(spatial.SpaceNative, f), "native."+string(f)); err != nil {
				return m, err
			}
		}
	}

	sec, hasSecondary := data.Secondary()
	if hasSecondary && opts.SaveIntermediate {
		if err := writeImage(&m, sec.RegisteredToPrimary, l.SecondaryPath(sec.Modality, "registered_to_primary", spatial.SpaceNative), "secondary.registered_to_primary"); err != nil {
			return m, err
		}
		if err := writeImage(&m, sec.Masked, l.SecondaryPath(sec.Modality, "masked", spatial.SpaceNative), "secondary.masked"); err != nil {
			return m, err
		}
	}

	if tmpl, err := data.Template(); err == nil {
		for _, f := range templateFields {
			if err := writeImage(&m, tmpl.Field(f), l.FieldPath(spatial.SpaceTemplate, f), "template."+string(f)); err != nil {
				return m, err
			}
		}
		if err := writeFeatures(&m, l, tmpl.ROIFeatures); err != nil {
			return m, err
		}
	}
	if hasSecondary {
		if err := writeImage(&m, sec.Standardized, l.SecondaryPath(sec.Modality, "standardized", spatial.SpaceTemplate), "secondary.standardized"); err != nil {
			return m, err
		}
	}

	if transforms, ok := data.Transforms(); ok && opts.SaveTransforms {
		if err := writeTransform(&m, l, "native_to_template", transforms.NativeToTemplate); err != nil {
			return m, err
		}
		if err := writeTransform(&m, l, "template_to_native", transforms.TemplateToNative); err != nil {
			return m, err
		}
	}

	if metrics := data.QCMetrics(); len(metrics) > 0 {
		path := l.QCPath("json")
		if err := fileutil.WriteJSON(path, metrics); err != nil {
			return m, fmt.Errorf("write qc metrics: %w", err)
		}
		m.add(CategoryQC, "qc.metrics", path)
		if opts.GenerateReport {
			path := l.QCPath("txt")
			if err := fileutil.WriteAtomic(path, func(w io.Writer) error {
				return WriteReport(w, data.Summary())
			}); err != nil {
				return m, fmt.Errorf("write qc report: %w", err)
			}
			m.add(CategoryQC, "qc.report", path)
		}
	}
	return m, nil
}

// WriteSummary writes v as the subject's summary document.
func WriteSummary(l Layout, v any) error {
	return fileutil.WriteJSON(l.SummaryPath(), v)
}

func writeImage(m *Manifest, vol *volume.Volume, path, kind string) error {
	if vol == nil {
		return nil
	}
	if err := niftiio.Write(path, vol); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	m.add(categoryOf(path), kind, path)
	return nil
}

func categoryOf(path string) Category {
	return Category(filepath.Base(filepath.Dir(path)))
}

// featureRow is one long-format ROI table row.
type featureRow struct {
	Atlas     string  `csv:"atlas"`
	Tissue    string  `csv:"tissue"`
	Label     int     `csv:"label"`
	Voxels    int     `csv:"voxels"`
	Statistic string  `csv:"statistic"`
	Value     float64 `csv:"value"`
}

func writeFeatures(m *Manifest, l Layout, features *spatial.ROIFeatures) error {
	if features == nil {
		return nil
	}
	for _, tissue := range features.Tissues {
		rows := make([]*featureRow, 0, len(tissue.Regions)*len(features.Statistics))
		for _, region := range tissue.Regions {
			for _, name := range features.Statistics {
				rows = append(rows, &featureRow{
					Atlas:     features.Atlas,
					Tissue:    tissue.Tissue,
					Label:     region.Label,
					Voxels:    region.Voxels,
					Statistic: name,
					Value:     region.Stats[name],
				})
			}
		}
		path := l.ROIPath(features.Atlas, tissue.Tissue)
		if err := fileutil.WriteAtomic(path, func(w io.Writer) error {
			return gocsv.Marshal(rows, w)
		}); err != nil {
			return fmt.Errorf("write %s roi features: %w", tissue.Tissue, err)
		}
		m.add(CategoryFinal, "template.roi_features."+tissue.Tissue, path)
	}
	return nil
}

// writeTransform copies engine files next to the JSON description so the
// persisted transform does not reference scratch space.
func writeTransform(m *Manifest, l Layout, direction string, t xform.Transform) error {
	out := t.Clone()
	for i, step := range out.Steps {
		if step.Path == "" {
			continue
		}
		dst := l.TransformFilePath(direction, i, step.Path)
		if err := fileutil.CopyFileVerified(step.Path, dst); err != nil {
			return fmt.Errorf("copy %s transform file: %w", direction, err)
		}
		m.add(CategoryFinal, "transform."+direction+".file", dst)
		out.Steps[i].Path = filepath.Base(dst)
	}
	path := l.TransformPath(direction)
	if err := fileutil.WriteJSON(path, out); err != nil {
		return fmt.Errorf("write %s transform: %w", direction, err)
	}
	m.add(CategoryFinal, "transform."+direction, path)
	return nil
}

// WriteReport renders a plain-text QC report.
func WriteReport(w io.Writer, s spatial.Summary) error {
	var b strings.Builder
	b.WriteString("Quality Control Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Subject ID: %s\n", s.SubjectID)
	steps := make([]string, len(s.ProcessingSteps))
	for i, step := range s.ProcessingSteps {
		steps[i] = string(step)
	}
	fmt.Fprintf(&b, "Processing Steps: %s\n", strings.Join(steps, ", "))
	for _, d := range s.Degradations {
		fmt.Fprintf(&b, "Degraded: %s (%s)\n", d.Step, d.Reason)
	}
	b.WriteString("\nQuality Metrics:\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	keys := make([]string, 0, len(s.QCMetrics))
	for k := range s.QCMetrics {
		if k == "processing_steps" || k == "num_steps" || k == "warnings" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, formatMetric(s.QCMetrics[k]))
	}
	if warnings, ok := s.QCMetrics["warnings"].([]string); ok && len(warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, warning := range warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatMetric(v any) any {
	switch value := v.(type) {
	case float64:
		return fmt.Sprintf("%.4f", value)
	case []string:
		return strings.Join(value, ", ")
	default:
		return value
	}
}
