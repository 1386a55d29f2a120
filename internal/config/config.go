package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/kaifeng/apkmorph/pkg/models"
)

var defaultConfig = models.Config{
	Pipeline: models.PipelineConfig{
		WorkRoot:       "", // resolved below to a per-user directory
		MaxInputSizeMB: 500,
		Workers:        0,
		DefaultModes:   []string{"debug"},
	},
	Cleanup: models.CleanupConfig{
		Retention:     2 * time.Hour,
		SweepInterval: 10 * time.Minute,
	},
	Logging: models.LoggingConfig{
		Level:  "info",
		Format: "text",
	},
}

// Load loads configuration from file and environment
func Load(configPath string) (*models.Config, error) {
	viper.SetConfigType("yaml")

	viper.SetDefault("pipeline.work_root", defaultWorkRoot())
	viper.SetDefault("pipeline.max_input_size_mb", defaultConfig.Pipeline.MaxInputSizeMB)
	viper.SetDefault("pipeline.workers", defaultConfig.Pipeline.Workers)
	viper.SetDefault("pipeline.default_modes", defaultConfig.Pipeline.DefaultModes)
	viper.SetDefault("pipeline.policy_overlay", "")
	viper.SetDefault("pipeline.registry_path", filepath.Join(defaultWorkRoot(), "jobs.db"))
	viper.SetDefault("cleanup.retention", defaultConfig.Cleanup.Retention)
	viper.SetDefault("cleanup.sweep_interval", defaultConfig.Cleanup.SweepInterval)
	viper.SetDefault("logging.level", defaultConfig.Logging.Level)
	viper.SetDefault("logging.format", defaultConfig.Logging.Format)

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("apkmorph")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "apkmorph"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is not an error, we'll use defaults
	}

	viper.SetEnvPrefix("APKMORPH")
	viper.AutomaticEnv()

	var config models.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// SaveTemplate saves a configuration template
func SaveTemplate(path string) error {
	templateContent := `# apkmorph configuration file

pipeline:
  # Root directory for per-job working areas
  work_root: ""

  # Maximum accepted upload size in MiB
  max_input_size_mb: 500

  # Parallel per-mode tasks; 0 = number of CPU cores
  workers: 0

  # Modes used when a submission names none: debug, sandbox, combined
  default_modes:
    - debug

  # Optional TOML file extending the built-in patch tables
  policy_overlay: ""

  # Job registry database; empty disables persistence
  registry_path: ""

cleanup:
  # How long terminal jobs keep their working areas
  retention: 2h

  # How often the reaper sweeps
  sweep_interval: 10m

logging:
  # debug, info, warn, error
  level: info

  # text, compact, json
  format: text

  # Optional log file (in addition to stderr)
  file: ""
`
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(templateContent), 0644)
}

func defaultWorkRoot() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "apkmorph")
	}
	return filepath.Join(os.TempDir(), "apkmorph")
}
