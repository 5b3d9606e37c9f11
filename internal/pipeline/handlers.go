package pipeline

import (
	"fmt"
	"log/slog"

	"mriprep/internal/builtin"
	"mriprep/internal/config"
	"mriprep/internal/qc"
	"mriprep/internal/registration"
	"mriprep/internal/roi"
	"mriprep/internal/secondary"
	"mriprep/internal/segmentation"
	"mriprep/internal/services"
	"mriprep/internal/services/ants"
	"mriprep/internal/skullstrip"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/xform"
)

// NewHandlers constructs one handler per stage from configuration. Reference
// images are read lazily so building handlers never touches the disk.
func NewHandlers(cfg *config.Config, logger *slog.Logger) (map[spatial.Step]stage.Handler, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	family, err := xform.ParseFamily(cfg.Registration.Family)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, string(spatial.StepRegistration), "parse family",
			"Set registration.family to rigid, affine or nonlinear", err)
	}
	segmenter, err := newSegmenter(cfg, engine)
	if err != nil {
		return nil, err
	}

	handlers := []stage.Handler{
		skullstrip.New(cfg, logger),
		segmentation.New(segmenter, builtin.PercentileSegmenter{}, cfg.Segmentation.NumClasses, logger),
		registration.New(engine, family, cfg.Registration.Template, logger),
		secondary.New(engine, logger),
		roi.New(roi.Options{
			AtlasPath:  cfg.ROIExtraction.AtlasPath,
			AtlasName:  cfg.ROIExtraction.AtlasName,
			Statistics: cfg.ROIExtraction.Statistics,
			Tissues:    cfg.ROIExtraction.Tissues,
		}, logger),
		qc.New(cfg.QualityControl, cfg.QCTemplate(), logger),
	}

	out := make(map[spatial.Step]stage.Handler, len(handlers))
	for _, h := range handlers {
		out[h.ID()] = h
	}
	return out, nil
}

// newEngine returns the registration engine shared by the registration and
// secondary-integration stages.
func newEngine(cfg *config.Config) (xform.Engine, error) {
	switch cfg.Registration.Engine {
	case "", config.EngineBuiltin:
		return builtin.MomentEngine{}, nil
	case config.EngineANTs:
		return newANTsClient(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, string(spatial.StepRegistration), "select engine",
			"Set registration.engine to builtin or ants", fmt.Errorf("unknown engine %q", cfg.Registration.Engine))
	}
}

func newSegmenter(cfg *config.Config, engine xform.Engine) (segmentation.Segmenter, error) {
	switch cfg.Segmentation.Method {
	case "", config.SegmentationKMeans:
		return builtin.KMeansSegmenter{Iterations: cfg.Segmentation.Iterations}, nil
	case config.SegmentationAtropos:
		if client, ok := engine.(*ants.Client); ok {
			return client, nil
		}
		return newANTsClient(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, string(spatial.StepSegmentation), "select method",
			"Set segmentation.method to kmeans or atropos", fmt.Errorf("unknown method %q", cfg.Segmentation.Method))
	}
}

func newANTsClient(cfg *config.Config) (*ants.Client, error) {
	client, err := ants.New(cfg.ANTs.BinDir, cfg.Paths.WorkDir, cfg.ANTs.Threads, cfg.ANTs.TimeoutSeconds)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ants", "create client",
			"Set paths.work_dir so ANTs has a scratch directory", err)
	}
	return client, nil
}
