package config

const (
	EngineBuiltin = "builtin"
	EngineANTs    = "ants"

	SkullStripOtsu      = "otsu"
	SkullStripThreshold = "threshold"

	SegmentationKMeans  = "kmeans"
	SegmentationAtropos = "atropos"
)

const (
	defaultOutputDir          = "~/.local/share/mriprep/output"
	defaultLogDir             = "~/.local/share/mriprep/logs"
	defaultLedgerPath         = "~/.local/share/mriprep/ledger.db"
	defaultWorkDir            = "~/.cache/mriprep/work"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultSkullThreshold     = 0.1
	defaultNumClasses         = 3
	defaultKMeansIterations   = 50
	defaultRegistrationFamily = "affine"
	defaultSecondaryModality  = "PET"
	defaultAtlasName          = "atlas"
	defaultHistogramBins      = 32
	defaultSNRMin             = 10.0
	defaultRegistrationMIMin  = 0.3
	defaultANTsThreads        = 1
	defaultANTsTimeoutSeconds = 3600
)

// Default returns a Config populated with repository defaults. Every stage is
// enabled and the builtin engine is selected so a fresh install runs without
// external tools.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			LedgerPath: defaultLedgerPath,
			WorkDir:    defaultWorkDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Output: Output{
			SaveIntermediate: true,
			SaveTransforms:   true,
			Metrics:          true,
		},
		SkullStripping: SkullStripping{
			Enabled:   true,
			Method:    SkullStripOtsu,
			Threshold: defaultSkullThreshold,
		},
		Segmentation: Segmentation{
			Enabled:    true,
			Method:     SegmentationKMeans,
			NumClasses: defaultNumClasses,
			Iterations: defaultKMeansIterations,
		},
		Registration: Registration{
			Enabled: true,
			Engine:  EngineBuiltin,
			Family:  defaultRegistrationFamily,
		},
		Secondary: Secondary{
			Enabled:            true,
			Modality:           defaultSecondaryModality,
			RegistrationFamily: "rigid",
		},
		ROIExtraction: ROIExtraction{
			Enabled:    true,
			AtlasName:  defaultAtlasName,
			Statistics: []string{"mean", "std", "volume", "median"},
			Tissues:    []string{"gm", "wm"},
		},
		QualityControl: QualityControl{
			Enabled:        true,
			GenerateReport: true,
			HistogramBins:  defaultHistogramBins,
			Thresholds: Thresholds{
				SNRMin:            defaultSNRMin,
				RegistrationMIMin: defaultRegistrationMIMin,
			},
		},
		ANTs: ANTs{
			Threads:        defaultANTsThreads,
			TimeoutSeconds: defaultANTsTimeoutSeconds,
		},
	}
}
