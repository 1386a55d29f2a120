package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/pkg/pipeline"
)

var (
	cleanReap  bool
	cleanWatch bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [job-id]",
	Short: "Remove working areas for finished jobs",
	Long: `Clean removes the on-disk working area of a finished job. With --reap
it instead sweeps every terminal job whose retention window has expired,
the same pass the background reaper runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanReap, "reap", false, "sweep all expired working areas")
	cleanCmd.Flags().BoolVar(&cleanWatch, "watch", false,
		"with --reap, keep sweeping on the configured interval until interrupted")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	if !cleanReap && len(args) == 0 {
		return fmt.Errorf("either a job id or --reap is required")
	}

	orch, store, err := newOrchestrator()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if cleanReap {
		reaper := pipeline.NewReaper(orch, cfg.Cleanup.Retention, cfg.Cleanup.SweepInterval)
		removed := reaper.Sweep()
		fmt.Println(i18n.T("clean.reaped", map[string]interface{}{"Count": removed}))

		if cleanWatch {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("reaper running every %s, retention %s",
				cfg.Cleanup.SweepInterval, cfg.Cleanup.Retention)
			reaper.Run(ctx)
		}
		return nil
	}

	jobID := args[0]
	if err := orch.Cleanup(jobID); err != nil {
		return err
	}
	fmt.Println(i18n.T("clean.removed", map[string]interface{}{"ID": jobID}))
	return nil
}
