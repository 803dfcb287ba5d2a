package config

import "fmt"

type ObservabilityConfig struct {
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
}

func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{
		LogLevel:  "info",
		LogFormat: "console",
	}
}

func (o *ObservabilityConfig) Validate() error {
	switch o.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: unknown log level %q", o.LogLevel)
	}
	switch o.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid config: unknown log format %q", o.LogFormat)
	}
	return nil
}

// IsProduction reports whether logs should be machine-readable.
func (o *ObservabilityConfig) IsProduction() bool {
	return o.Environment == "production" || o.LogFormat == "json"
}
