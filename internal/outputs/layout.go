package outputs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mriprep/internal/spatial"
)

// Category groups persisted artifacts.
type Category string

const (
	CategoryIntermediate Category = "intermediate"
	CategoryFinal        Category = "final"
	CategoryQC           Category = "qc"
	CategoryLogs         Category = "logs"
)

// Categories lists every category in creation order.
func Categories() []Category {
	return []Category{CategoryIntermediate, CategoryFinal, CategoryQC, CategoryLogs}
}

// Layout resolves artifact paths for one subject.
type Layout struct {
	Root    string
	Subject string
}

// NewLayout returns the layout for subject under outputDir.
func NewLayout(outputDir, subject string) Layout {
	return Layout{Root: filepath.Join(outputDir, subject), Subject: subject}
}

// Ensure creates the subject directory and all category directories.
func (l Layout) Ensure() error {
	for _, c := range Categories() {
		if err := os.MkdirAll(l.Dir(c), 0o755); err != nil {
			return fmt.Errorf("create %s directory: %w", c, err)
		}
	}
	return nil
}

// Dir returns the directory of a category.
func (l Layout) Dir(c Category) string {
	return filepath.Join(l.Root, string(c))
}

// CategoryFor maps a space to the category its images belong to.
func CategoryFor(space spatial.Space) Category {
	if space == spatial.SpaceTemplate {
		return CategoryFinal
	}
	return CategoryIntermediate
}

// FieldPath returns <category>/<subject>_<field>_<space>.nii.gz.
func (l Layout) FieldPath(space spatial.Space, field spatial.Field) string {
	name := fmt.Sprintf("%s_%s_%s.nii.gz", l.Subject, field, space)
	return filepath.Join(l.Dir(CategoryFor(space)), name)
}

// SecondaryPath returns <category>/<subject>_<modality>_<field>_<space>.nii.gz.
func (l Layout) SecondaryPath(modality, field string, space spatial.Space) string {
	name := fmt.Sprintf("%s_%s_%s_%s.nii.gz", l.Subject, slug(modality), field, space)
	return filepath.Join(l.Dir(CategoryFor(space)), name)
}

// ROIPath returns the feature table of one tissue.
func (l Layout) ROIPath(atlas, tissue string) string {
	name := fmt.Sprintf("%s_%s_%s_features_template.csv", l.Subject, slug(atlas), tissue)
	return filepath.Join(l.Dir(CategoryFinal), name)
}

// TransformPath returns the JSON description of a transform direction.
func (l Layout) TransformPath(direction string) string {
	return filepath.Join(l.Dir(CategoryFinal), fmt.Sprintf("%s_transform_%s.json", l.Subject, direction))
}

// TransformFilePath returns where an engine transform file is copied.
func (l Layout) TransformFilePath(direction string, index int, source string) string {
	ext := ".mat"
	if strings.HasSuffix(source, ".nii.gz") {
		ext = ".nii.gz"
	} else if e := filepath.Ext(source); e != "" {
		ext = e
	}
	name := fmt.Sprintf("%s_transform_%s_%d%s", l.Subject, direction, index, ext)
	return filepath.Join(l.Dir(CategoryFinal), name)
}

// QCPath returns the QC metrics file with the given extension ("json", "txt").
func (l Layout) QCPath(ext string) string {
	return filepath.Join(l.Dir(CategoryQC), fmt.Sprintf("%s_qc.%s", l.Subject, ext))
}

// MetricsPath returns the Prometheus textfile of the run.
func (l Layout) MetricsPath() string {
	return filepath.Join(l.Dir(CategoryQC), l.Subject+"_pipeline.prom")
}

// SummaryPath returns the run summary.
func (l Layout) SummaryPath() string {
	return filepath.Join(l.Root, l.Subject+"_summary.json")
}

// LogPath returns the per-subject log file.
func (l Layout) LogPath() string {
	return filepath.Join(l.Dir(CategoryLogs), l.Subject+".log")
}

// LockPath returns the file guarding exclusive use of the subject directory.
func (l Layout) LockPath() string {
	return filepath.Join(l.Root, ".lock")
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, value)
	if value == "" {
		return "unnamed"
	}
	return value
}
