package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/pipeline"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded conversion jobs",
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	if cfg.Pipeline.RegistryPath == "" {
		fmt.Println(i18n.T("jobs.none"))
		return nil
	}

	store, err := pipeline.NewStore(cfg.Pipeline.RegistryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println(i18n.T("jobs.none"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTATE\tMODES\tUPDATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.SourceName,
			stateLabel(job.State),
			modeSummary(job),
			job.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func stateLabel(state models.JobState) string {
	switch state {
	case models.JobStateCompleted:
		return color.GreenString(string(state))
	case models.JobStatePartial:
		return color.YellowString(string(state))
	case models.JobStateFailed:
		return color.RedString(string(state))
	default:
		return string(state)
	}
}

// modeSummary renders per-mode outcomes like "debug:success sandbox:failed".
func modeSummary(job *models.Job) string {
	summary := ""
	for _, mode := range job.RequestedModes {
		if summary != "" {
			summary += " "
		}
		status := models.ModeStatusPending
		if result, ok := job.Results[mode]; ok && result != nil {
			status = result.Status
		}
		summary += fmt.Sprintf("%s:%s", mode, status)
	}
	return summary
}
