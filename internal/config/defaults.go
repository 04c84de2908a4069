package config

const (
	defaultDataDir              = "~/.local/share/scribe"
	defaultLogDir               = "~/.local/share/scribe/logs"
	defaultAPIBind              = "127.0.0.1:7718"
	defaultStoreBackend         = "sqlite"
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultStoreTTLHours        = 24
	defaultSweepIntervalMinutes = 15
	defaultFetchTimeout         = 30
	defaultNormalizeTimeout     = 15
	defaultTranscribeTimeout    = 30
	defaultRetryMaxAttempts     = 3
	defaultBackoffBaseSeconds   = 2
	defaultBackoffCapSeconds    = 10
	defaultFailureThreshold     = 3
	defaultRecoveryTimeout      = 60
	defaultPollInitialInterval  = 2
	defaultPollMaxInterval      = 5
	defaultPollFastAttempts     = 10
	defaultPollMaxAttempts      = 300
	defaultNotifySubjectPrefix  = "scribe.jobs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			Backend:              defaultStoreBackend,
			RedisAddr:            defaultRedisAddr,
			TTLHours:             defaultStoreTTLHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Services: Services{
			Fetch:      Service{BaseURL: "http://127.0.0.1:8001", TimeoutSeconds: defaultFetchTimeout},
			Normalize:  Service{BaseURL: "http://127.0.0.1:8002", TimeoutSeconds: defaultNormalizeTimeout},
			Transcribe: Service{BaseURL: "http://127.0.0.1:8003", TimeoutSeconds: defaultTranscribeTimeout},
		},
		Retry: Retry{
			MaxAttempts:        defaultRetryMaxAttempts,
			BackoffBaseSeconds: defaultBackoffBaseSeconds,
			BackoffCapSeconds:  defaultBackoffCapSeconds,
		},
		Breaker: Breaker{
			FailureThreshold:       defaultFailureThreshold,
			RecoveryTimeoutSeconds: defaultRecoveryTimeout,
		},
		Polling: Polling{
			InitialIntervalSeconds: defaultPollInitialInterval,
			MaxIntervalSeconds:     defaultPollMaxInterval,
			FastAttempts:           defaultPollFastAttempts,
			MaxAttempts:            defaultPollMaxAttempts,
		},
		Notify: Notify{
			SubjectPrefix: defaultNotifySubjectPrefix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
