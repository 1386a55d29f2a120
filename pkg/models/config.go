package models

import "time"

// Config is the application configuration, loaded by internal/config.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup" yaml:"cleanup"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// PipelineConfig controls the conversion pipeline.
type PipelineConfig struct {
	// WorkRoot is where per-job working areas live.
	WorkRoot string `mapstructure:"work_root" yaml:"work_root"`
	// MaxInputSizeMB caps uploaded package size.
	MaxInputSizeMB int64 `mapstructure:"max_input_size_mb" yaml:"max_input_size_mb"`
	// Workers bounds parallel per-mode tasks; 0 means number of cores.
	Workers int `mapstructure:"workers" yaml:"workers"`
	// DefaultModes is used when a submission names no modes.
	DefaultModes []string `mapstructure:"default_modes" yaml:"default_modes"`
	// PolicyOverlay optionally points at a TOML file extending the
	// built-in patch tables.
	PolicyOverlay string `mapstructure:"policy_overlay" yaml:"policy_overlay"`
	// RegistryPath is the sqlite job registry location; empty disables
	// persistence.
	RegistryPath string `mapstructure:"registry_path" yaml:"registry_path"`
}

// CleanupConfig controls the working-area reaper.
type CleanupConfig struct {
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}
