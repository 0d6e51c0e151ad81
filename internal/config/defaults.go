package config

const (
	defaultStorageDir         = "~/.local/share/scoreforge"
	defaultBind               = "127.0.0.1:8631"
	defaultWorkers            = 2
	defaultPollInterval       = 1
	defaultSweepInterval      = 60
	defaultStageTimeout       = 60
	defaultTranscribeTimeout  = 300
	defaultEngraveTimeout     = 120
	defaultErrorRetryInterval = 5
	defaultEngravingBackend   = BackendLilypond
	defaultMaxUploadMiB       = 20
	defaultMaxDurationSecs    = 5 * 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageDir: defaultStorageDir,
			Bind:       defaultBind,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			PollInterval:       defaultPollInterval,
			SweepInterval:      defaultSweepInterval,
			StageTimeout:       defaultStageTimeout,
			TranscribeTimeout:  defaultTranscribeTimeout,
			EngraveTimeout:     defaultEngraveTimeout,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Engraving: Engraving{
			Backend: defaultEngravingBackend,
		},
		Limits: Limits{
			MaxUploadMiB:       defaultMaxUploadMiB,
			MaxDurationSeconds: defaultMaxDurationSecs,
		},
		Logging: Logging{
			LogFormat: defaultLogFormat,
			LogLevel:  defaultLogLevel,
		},
	}
}
