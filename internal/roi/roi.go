// Package roi aggregates template-space tissue maps over atlas regions.
package roi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"mriprep/internal/logging"
	"mriprep/internal/niftiio"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
)

// Supported statistics.
const (
	StatMean   = "mean"
	StatStd    = "std"
	StatVolume = "volume"
	StatMedian = "median"
	StatMin    = "min"
	StatMax    = "max"
)

var tissueFields = map[string]spatial.Field{
	"gm":  spatial.FieldGMProbability,
	"wm":  spatial.FieldWMProbability,
	"csf": spatial.FieldCSFProbability,
}

// Options configures the extractor.
type Options struct {
	AtlasPath  string
	AtlasName  string
	Statistics []string
	Tissues    []string
}

// Extractor is the ROI extraction stage handler.
type Extractor struct {
	opts   Options
	atlas  *volume.Volume
	logger *slog.Logger
}

// New constructs the stage. The atlas is read on first use.
func New(opts Options, logger *slog.Logger) *Extractor {
	if len(opts.Statistics) == 0 {
		opts.Statistics = []string{StatMean}
	}
	if len(opts.Tissues) == 0 {
		opts.Tissues = []string{"gm", "wm"}
	}
	if strings.TrimSpace(opts.AtlasName) == "" {
		opts.AtlasName = "atlas"
	}
	e := &Extractor{opts: opts}
	e.SetLogger(logger)
	return e
}

// NewWithAtlas uses an in-memory atlas (used in tests).
func NewWithAtlas(opts Options, atlas *volume.Volume, logger *slog.Logger) *Extractor {
	e := New(opts, logger)
	e.atlas = atlas
	return e
}

// SetLogger implements stage.LoggerAware.
func (e *Extractor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	e.logger = logging.NewComponentLogger(logger, "roi")
}

func (e *Extractor) ID() spatial.Step { return spatial.StepROIExtraction }

func (e *Extractor) Dependencies() []spatial.Step {
	return []spatial.Step{spatial.StepRegistration}
}

func (e *Extractor) After() []spatial.Step {
	return []spatial.Step{spatial.StepSegmentation}
}

func (e *Extractor) Preconditions() []spatial.Ref {
	return []spatial.Ref{spatial.TemplateRef(spatial.FieldImage)}
}

func (e *Extractor) Effects() []spatial.Ref {
	return []spatial.Ref{spatial.TemplateRef(spatial.FieldROILabels), spatial.TemplateRef(spatial.FieldROIFeatures)}
}

// Execute writes template.roi_labels and template.roi_features. Without any
// template tissue map it is skipped.
func (e *Extractor) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, e.logger)
	tmpl, err := data.Template()
	if err != nil {
		return stage.Outcome{}, stage.Fail(e.ID(), services.ErrDependencyOrder, "open template space",
			"Enable registration before roi-extraction", err)
	}

	var tissueMaps []TissueMap
	for _, tissue := range e.opts.Tissues {
		field, ok := tissueFields[tissue]
		if !ok {
			return stage.Outcome{}, stage.Fail(e.ID(), services.ErrConfiguration, "select tissues",
				"roi_extraction.tissues accepts gm, wm and csf", fmt.Errorf("unknown tissue %q", tissue))
		}
		if m := tmpl.Field(field); m != nil {
			tissueMaps = append(tissueMaps, TissueMap{Tissue: tissue, Volume: m})
		}
	}
	if len(tissueMaps) == 0 {
		logging.WarnWithContext(logger, "no template tissue maps; roi extraction skipped", "roi_skipped",
			logging.String(logging.FieldErrorHint, "Enable segmentation to obtain tissue maps"),
			logging.String(logging.FieldImpact, "no roi features are written"),
		)
		return stage.Skipped("no template tissue maps"), nil
	}

	atlas, err := e.loadAtlas()
	if err != nil {
		return stage.Outcome{}, err
	}
	if !atlas.Grid.Equal(tmpl.Image.Grid) {
		return stage.Outcome{}, stage.Fail(e.ID(), services.ErrValidation, "match atlas grid",
			"Resample the atlas onto the registration template grid",
			fmt.Errorf("atlas grid %s, template grid %s", atlas.Grid, tmpl.Image.Grid))
	}

	features, err := Extract(ctx, atlas, tissueMaps, e.opts.Statistics)
	if err != nil {
		return stage.Outcome{}, stage.Fail(e.ID(), services.ErrAlgorithm, "extract features", "", err)
	}
	features.Atlas = e.opts.AtlasName
	labels := atlas.Clone()
	labels.Grid = tmpl.Image.Grid
	tmpl.ROILabels = labels
	tmpl.ROIFeatures = features

	logger.Info(
		"roi features extracted",
		logging.String("atlas", e.opts.AtlasName),
		logging.Int("tissues", len(features.Tissues)),
		logging.Int("regions", regionCount(features)),
	)
	return stage.Completed(), nil
}

func (e *Extractor) loadAtlas() (*volume.Volume, error) {
	if e.atlas != nil {
		return e.atlas, nil
	}
	path := strings.TrimSpace(e.opts.AtlasPath)
	if path == "" {
		return nil, stage.Fail(e.ID(), services.ErrMissingResource, "load atlas",
			"Set roi_extraction.atlas_path (or MRIPREP_ATLAS), or disable roi_extraction", errors.New("no atlas configured"))
	}
	atlas, err := niftiio.Read(path)
	if err != nil {
		marker := services.ErrValidation
		if errors.Is(err, os.ErrNotExist) {
			marker = services.ErrMissingResource
		}
		return nil, stage.Fail(e.ID(), marker, "load atlas",
			fmt.Sprintf("Supply a readable atlas at %s or disable roi_extraction", path), err)
	}
	e.atlas = atlas
	return atlas, nil
}

// TissueMap is one tissue probability map to aggregate.
type TissueMap struct {
	Tissue string
	Volume *volume.Volume
}

// Extract computes statistics of every map inside every positive atlas label.
// Labels are visited in ascending order.
func Extract(ctx context.Context, atlas *volume.Volume, tissueMaps []TissueMap, statistics []string) (*spatial.ROIFeatures, error) {
	regions := make(map[int][]int)
	for i, v := range atlas.Data {
		if label := int(math.Round(v)); label > 0 {
			regions[label] = append(regions[label], i)
		}
	}
	labels := slices.Sorted(maps.Keys(regions))

	features := &spatial.ROIFeatures{Statistics: append([]string(nil), statistics...)}
	voxelVolume := atlas.Grid.VoxelVolume()
	for _, m := range tissueMaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !m.Volume.SameGrid(atlas) {
			return nil, fmt.Errorf("%s map grid %s does not match atlas grid %s", m.Tissue, m.Volume.Grid, atlas.Grid)
		}
		tissue := spatial.TissueFeatures{Tissue: m.Tissue}
		for _, label := range labels {
			idx := regions[label]
			samples := make([]float64, len(idx))
			for i, j := range idx {
				samples[i] = m.Volume.Data[j]
			}
			summary := volume.Describe(samples)
			stats := make(map[string]float64, len(statistics))
			for _, name := range statistics {
				value, err := statistic(name, summary, voxelVolume)
				if err != nil {
					return nil, err
				}
				stats[name] = value
			}
			tissue.Regions = append(tissue.Regions, spatial.RegionFeatures{Label: label, Voxels: len(idx), Stats: stats})
		}
		features.Tissues = append(features.Tissues, tissue)
	}
	return features, nil
}

func statistic(name string, s volume.Summary, voxelVolume float64) (float64, error) {
	switch name {
	case StatMean:
		return s.Mean, nil
	case StatStd:
		return s.StdDev, nil
	case StatVolume:
		return float64(s.Count) * voxelVolume, nil
	case StatMedian:
		return s.Median, nil
	case StatMin:
		return s.Min, nil
	case StatMax:
		return s.Max, nil
	default:
		return 0, fmt.Errorf("unknown statistic %q", name)
	}
}

func regionCount(f *spatial.ROIFeatures) int {
	if f == nil || len(f.Tissues) == 0 {
		return 0
	}
	return len(f.Tissues[0].Regions)
}
