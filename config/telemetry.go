package config

import "time"

type TelemetryCfg struct {
	// LogsEnabled turns on periodic interval logs.
	LogsEnabled bool `yaml:"logs_enabled"`

	// LogsInterval is the period of interval logs. Example: "5s".
	LogsInterval time.Duration `yaml:"logs_interval"`

	// MetricsNamespace prefixes prometheus collectors. Empty disables them.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

func (cfg *TelemetryCfg) Enabled() bool {
	return cfg != nil
}
