package models

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which capability preset gets injected into the package.
type Mode string

const (
	ModeDebug    Mode = "debug"
	ModeSandbox  Mode = "sandbox"
	ModeCombined Mode = "combined"
)

// AllModes lists every supported conversion mode.
func AllModes() []Mode {
	return []Mode{ModeDebug, ModeSandbox, ModeCombined}
}

// ParseMode converts a user-supplied mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDebug:
		return ModeDebug, nil
	case ModeSandbox:
		return ModeSandbox, nil
	case ModeCombined:
		return ModeCombined, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected debug, sandbox or combined)", s)
	}
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// JobState is the lifecycle state of a conversion job.
type JobState string

const (
	JobStateSubmitted  JobState = "submitted"
	JobStateValidating JobState = "validating"
	JobStateExtracting JobState = "extracting"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	// JobStatePartial means at least one mode succeeded but others failed
	// or were skipped after the shared extraction.
	JobStatePartial JobState = "completed_with_partial_failures"
	JobStateFailed  JobState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStatePartial || s == JobStateFailed
}

// ModeStatus is the outcome of one mode's patch/repackage/sign run.
type ModeStatus string

const (
	ModeStatusPending     ModeStatus = "pending"
	ModeStatusPatching    ModeStatus = "patching"
	ModeStatusRepackaging ModeStatus = "repackaging"
	ModeStatusSigning     ModeStatus = "signing"
	ModeStatusSuccess     ModeStatus = "success"
	ModeStatusFailed      ModeStatus = "failed"
	ModeStatusSkipped     ModeStatus = "skipped"
)

// ModeResult records the per-mode artifact or failure.
type ModeResult struct {
	Mode       Mode       `json:"mode" yaml:"mode"`
	Status     ModeStatus `json:"status" yaml:"status"`
	OutputPath string     `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	SizeBytes  int64      `json:"size_bytes" yaml:"size_bytes"`
	SHA256     string     `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Job describes one conversion request across all its modes.
type Job struct {
	ID             string               `json:"id" yaml:"id"`
	SourceName     string               `json:"source_name" yaml:"source_name"`
	SourceSize     int64                `json:"source_size" yaml:"source_size"`
	RequestedModes []Mode               `json:"requested_modes" yaml:"requested_modes"`
	State          JobState             `json:"state" yaml:"state"`
	Error          string               `json:"error,omitempty" yaml:"error,omitempty"`
	Results        map[Mode]*ModeResult `json:"results" yaml:"results"`
	WorkDir        string               `json:"work_dir" yaml:"work_dir"`
	PackageID      string               `json:"package_id,omitempty" yaml:"package_id,omitempty"`
	IconPath       string               `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	CreatedAt      time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" yaml:"updated_at"`
}

// ValidationReport summarizes the structural checks run on an uploaded
// package before any mode starts.
type ValidationReport struct {
	EntryCount  int      `json:"entry_count" yaml:"entry_count"`
	SizeBytes   int64    `json:"size_bytes" yaml:"size_bytes"`
	HasManifest bool     `json:"has_manifest" yaml:"has_manifest"`
	HasCode     bool     `json:"has_code" yaml:"has_code"`
	HasMetaInf  bool     `json:"has_meta_inf" yaml:"has_meta_inf"`
	Warnings    []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// EventLevel classifies a progress event.
type EventLevel string

const (
	EventInfo    EventLevel = "info"
	EventWarning EventLevel = "warning"
	EventSuccess EventLevel = "success"
	EventError   EventLevel = "error"
)

// LogEvent is one line of the job's progress stream.
type LogEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
}
