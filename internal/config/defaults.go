package config

const (
	defaultConfigPath           = "~/.config/uploadai/config.toml"
	defaultWorkspaceDir         = "~/.local/share/uploadai/workspace"
	defaultStateDir             = "~/.local/share/uploadai"
	defaultLogDir               = "~/.local/share/uploadai/logs"
	defaultAPIBaseURL           = "http://localhost:3333"
	defaultUploadTimeout        = 120
	defaultTranscriptionTimeout = 600
	defaultRetryAttempts        = 1
	defaultFetchTimeout         = 300
	defaultMinFreeMB            = 256
	defaultServerBind           = "127.0.0.1:7488"
	defaultMaxUploadMB          = 512
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			CacheDir:     defaultCacheDir(),
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
		},
		Engine: Engine{
			FetchTimeout: defaultFetchTimeout,
			MinFreeMB:    defaultMinFreeMB,
		},
		API: API{
			BaseURL:              defaultAPIBaseURL,
			UploadTimeout:        defaultUploadTimeout,
			TranscriptionTimeout: defaultTranscriptionTimeout,
			RetryAttempts:        defaultRetryAttempts,
		},
		Server: Server{
			Bind:        defaultServerBind,
			MaxUploadMB: defaultMaxUploadMB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Transcription:  true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
