package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaifeng/apkmorph/internal/config"
	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/internal/version"
	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/pipeline"
	"github.com/kaifeng/apkmorph/pkg/policy"
	"github.com/kaifeng/apkmorph/pkg/utils"
)

var (
	cfgFile   string
	langFlag  string
	verbose   bool
	logFormat string

	cfg    *models.Config
	logger utils.Logger
)

var rootCmd = &cobra.Command{
	Use:   "apkmorph",
	Short: "apkmorph - convert APKs into debuggable and sandbox-testable builds",
	Long: `apkmorph rewrites an APK's manifest and resources to enable debugging,
security testing and license/billing bypass behaviors, then repackages and
re-signs the result with a development certificate.`,
	Version: version.Short(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := i18n.Init(langFlag); err != nil {
			return err
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := utils.DefaultLoggerConfig()
		switch cfg.Logging.Format {
		case "json":
			logCfg.Format = utils.LogFormatJSON
		case "compact":
			logCfg.Format = utils.LogFormatCompact
		}
		if logFormat != "" {
			switch logFormat {
			case "json":
				logCfg.Format = utils.LogFormatJSON
			case "compact":
				logCfg.Format = utils.LogFormatCompact
			case "text":
				logCfg.Format = utils.LogFormatText
			}
		}
		switch cfg.Logging.Level {
		case "debug":
			logCfg.Level = utils.LogLevelDebug
		case "warn":
			logCfg.Level = utils.LogLevelWarn
		case "error":
			logCfg.Level = utils.LogLevelError
		}
		if verbose {
			logCfg.Level = utils.LogLevelDebug
		}
		if cfg.Logging.File != "" {
			logCfg.EnableFile = true
			logCfg.FilePath = cfg.Logging.File
		}

		if err := utils.InitGlobalLogger(logCfg); err != nil {
			return err
		}
		logger = utils.GetGlobalLogger()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&langFlag, "lang", "", "interface language (en, zh)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, compact, json")
}

// newOrchestrator wires an orchestrator from the loaded configuration.
// The returned store may be nil when persistence is disabled.
func newOrchestrator() (*pipeline.Orchestrator, *pipeline.Store, error) {
	overlay, err := policy.LoadOverlay(cfg.Pipeline.PolicyOverlay)
	if err != nil {
		return nil, nil, err
	}

	var store *pipeline.Store
	if cfg.Pipeline.RegistryPath != "" {
		store, err = pipeline.NewStore(cfg.Pipeline.RegistryPath)
		if err != nil {
			return nil, nil, err
		}
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Options{
		WorkRoot:     cfg.Pipeline.WorkRoot,
		MaxInputSize: cfg.Pipeline.MaxInputSizeMB << 20,
		Workers:      cfg.Pipeline.Workers,
		Overlay:      overlay,
		Store:        store,
		Logger:       logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return orch, store, nil
}

// parseModes converts mode names, falling back to the configured
// defaults when none are given.
func parseModes(names []string) ([]models.Mode, error) {
	if len(names) == 0 {
		names = cfg.Pipeline.DefaultModes
	}
	var modes []models.Mode
	for _, name := range names {
		mode, err := models.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, mode)
	}
	return modes, nil
}
