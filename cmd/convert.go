package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/pkg/models"
)

var (
	convertModes  []string
	convertOutDir string
	convertPlain  bool
	convertKeep   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <apk-file>",
	Short: "Convert an APK into patched, re-signed builds",
	Long: `Convert validates the APK, extracts it once, then patches, repackages
and signs one output per requested mode. Modes run in parallel; a failure
in one mode does not abort the others.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringSliceVarP(&convertModes, "mode", "m", nil,
		"modes to build: debug, sandbox, combined (repeatable)")
	convertCmd.Flags().StringVarP(&convertOutDir, "output", "o", ".",
		"directory for the converted APKs")
	convertCmd.Flags().BoolVar(&convertPlain, "no-progress", false,
		"print log lines instead of a progress bar")
	convertCmd.Flags().BoolVar(&convertKeep, "keep-work", false,
		"keep the working area instead of cleaning it up on success")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	apkPath := args[0]
	data, err := os.ReadFile(apkPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", apkPath, err)
	}

	modes, err := parseModes(convertModes)
	if err != nil {
		return err
	}

	orch, store, err := newOrchestrator()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	modeNames := make([]string, 0, len(modes))
	for _, m := range modes {
		modeNames = append(modeNames, m.String())
	}
	fmt.Println(i18n.T("convert.submitting", map[string]interface{}{
		"File":  filepath.Base(apkPath),
		"Modes": strings.Join(modeNames, ", "),
	}))

	jobID, err := orch.Submit(context.Background(), filepath.Base(apkPath), data, modes)
	if err != nil {
		return err
	}

	events, cancel := orch.Subscribe(jobID)
	defer cancel()

	renderProgress(events, len(modes))

	if err := orch.Wait(jobID); err != nil {
		return err
	}
	job, err := orch.Job(jobID)
	if err != nil {
		return err
	}

	switch job.State {
	case models.JobStateCompleted:
		color.Green(i18n.T("convert.completed"))
	case models.JobStatePartial:
		color.Yellow(i18n.T("convert.partial"))
	default:
		color.Red(i18n.T("convert.failed", map[string]interface{}{"Error": job.Error}))
		return fmt.Errorf("conversion failed")
	}

	if err := os.MkdirAll(convertOutDir, 0755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(apkPath), filepath.Ext(apkPath))
	exportFailed := false
	for _, mode := range modes {
		result := job.Results[mode]
		if result == nil || result.Status != models.ModeStatusSuccess {
			continue
		}
		artifact, err := orch.Artifact(jobID, mode)
		if err != nil {
			color.Red("failed to fetch %s artifact: %v", mode, err)
			exportFailed = true
			continue
		}
		outPath := filepath.Join(convertOutDir, fmt.Sprintf("%s-%s.apk", base, mode))
		if err := os.WriteFile(outPath, artifact, 0644); err != nil {
			color.Red("failed to write %s: %v", outPath, err)
			exportFailed = true
			continue
		}
		fmt.Println(i18n.T("convert.artifact", map[string]interface{}{
			"Path": outPath,
			"Size": result.SizeBytes,
		}))
	}

	if !convertKeep && !exportFailed {
		orch.Cleanup(jobID)
	}
	return nil
}

// renderProgress consumes the event stream until the job terminates,
// either as a stepping bar or as plain colored lines.
func renderProgress(events <-chan models.LogEvent, modeCount int) {
	if convertPlain || verbose {
		for event := range events {
			printEvent(event)
		}
		return
	}

	// Two shared phases plus three steps per mode.
	bar := progressbar.NewOptions(2+modeCount*3,
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	for event := range events {
		switch event.Level {
		case models.EventInfo, models.EventSuccess:
			bar.Add(1)
			bar.Describe(event.Message)
		case models.EventError:
			bar.Clear()
			printEvent(event)
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)
}

func printEvent(event models.LogEvent) {
	timestamp := event.Timestamp.Format("15:04:05")
	switch event.Level {
	case models.EventError:
		color.Red("%s %s", timestamp, event.Message)
	case models.EventWarning:
		color.Yellow("%s %s", timestamp, event.Message)
	case models.EventSuccess:
		color.Green("%s %s", timestamp, event.Message)
	default:
		fmt.Printf("%s %s\n", timestamp, event.Message)
	}
}
