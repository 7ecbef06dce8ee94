package config

const (
	defaultConfigPath          = "~/.config/dvetransfer/config.toml"
	defaultBaseDir             = "~/.local/share/dvetransfer"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultPollIntervalMillis  = 1000
	defaultExtractWorkers      = 1
	defaultBatchWorkers        = 1
	defaultRegisterWorkers     = 2
	defaultDatastation         = "default"
	defaultNbnSource           = "metadata"
	defaultLandingPageTemplate = "https://vault.example.org/landing/{nbn}"
	defaultCleanupGraceSeconds = 300
	defaultBatchMaxItems       = 100
	defaultBatchMaxBytes       = 10 << 30
	defaultLayerThresholdBytes = 100 << 30
	defaultServiceTimeout      = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	base := defaultBaseDir
	return Config{
		Paths: Paths{
			StateDir: base + "/state",
			LogDir:   base + "/logs",
			APIBind:  defaultAPIBind,
		},
		Workflow: Workflow{
			PollIntervalMillis: defaultPollIntervalMillis,
		},
		Extract: Extract{
			Inbox:       base + "/extract/inbox",
			Failed:      base + "/extract/failed",
			Rejected:    base + "/extract/rejected",
			Workers:     defaultExtractWorkers,
			Datastation: defaultDatastation,
		},
		Order: Order{
			Inbox:               base + "/order/inbox",
			Failed:              base + "/order/failed",
			Workers:             1,
			NbnSource:           defaultNbnSource,
			LandingPageTemplate: defaultLandingPageTemplate,
			CleanupGraceSeconds: defaultCleanupGraceSeconds,
		},
		Batch: Batch{
			Inbox:     base + "/batch/inbox",
			WorkDir:   base + "/batch/work",
			Processed: base + "/batch/processed",
			Failed:    base + "/batch/failed",
			Workers:   defaultBatchWorkers,
			MaxItems:  defaultBatchMaxItems,
			MaxBytes:  defaultBatchMaxBytes,
		},
		Register: Register{
			Inbox:     base + "/register/inbox",
			Processed: base + "/register/processed",
			Failed:    base + "/register/failed",
			Workers:   defaultRegisterWorkers,
		},
		Catalog: Catalog{
			TimeoutSeconds: defaultServiceTimeout,
		},
		Archive: Archive{
			BatchRoot:           base + "/archive/batches",
			LayerThresholdBytes: defaultLayerThresholdBytes,
			TimeoutSeconds:      defaultServiceTimeout,
		},
		Resolver: Resolver{
			TimeoutSeconds: defaultServiceTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
