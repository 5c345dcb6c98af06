package config

const (
	defaultConfigPath    = "~/.config/polish/config.toml"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultWorkerTimeout = 300
)

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Worker: Worker{
			TimeoutSeconds: defaultWorkerTimeout,
		},
	}
}
