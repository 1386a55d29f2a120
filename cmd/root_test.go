package cmd

import (
	"testing"

	"github.com/kaifeng/apkmorph/pkg/models"
)

func TestParseModesFallsBackToConfiguredDefaults(t *testing.T) {
	cfg = &models.Config{
		Pipeline: models.PipelineConfig{DefaultModes: []string{"sandbox"}},
	}
	t.Cleanup(func() { cfg = nil })

	modes, err := parseModes(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(modes) != 1 || modes[0] != models.ModeSandbox {
		t.Fatalf("modes = %v", modes)
	}
}

func TestParseModesExplicitBeatDefaults(t *testing.T) {
	cfg = &models.Config{
		Pipeline: models.PipelineConfig{DefaultModes: []string{"sandbox"}},
	}
	t.Cleanup(func() { cfg = nil })

	modes, err := parseModes([]string{"Debug", "combined"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(modes) != 2 || modes[0] != models.ModeDebug || modes[1] != models.ModeCombined {
		t.Fatalf("modes = %v", modes)
	}
}

func TestParseModesRejectsUnknownName(t *testing.T) {
	cfg = &models.Config{}
	t.Cleanup(func() { cfg = nil })

	if _, err := parseModes([]string{"release"}); err == nil {
		t.Fatalf("expected error for unknown mode name")
	}
}

func TestModeSummaryRendersPerModeStatus(t *testing.T) {
	job := &models.Job{
		RequestedModes: []models.Mode{models.ModeDebug, models.ModeSandbox},
		Results: map[models.Mode]*models.ModeResult{
			models.ModeDebug: {Mode: models.ModeDebug, Status: models.ModeStatusSuccess},
		},
	}
	if got := modeSummary(job); got != "debug:success sandbox:pending" {
		t.Fatalf("summary = %q", got)
	}
}
