// Package pipeline sequences one conversion job: validate, extract once,
// then patch/repackage/sign per requested mode, with a fan-out progress
// stream and a reaper for aged working areas.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
	"github.com/kaifeng/apkmorph/pkg/apk"
	"github.com/kaifeng/apkmorph/pkg/archive"
	"github.com/kaifeng/apkmorph/pkg/manifest"
	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/policy"
	"github.com/kaifeng/apkmorph/pkg/repack"
	"github.com/kaifeng/apkmorph/pkg/resources"
	"github.com/kaifeng/apkmorph/pkg/sign"
	"github.com/kaifeng/apkmorph/pkg/utils"
)

// Options configures an Orchestrator.
type Options struct {
	WorkRoot     string
	MaxInputSize int64
	Workers      int
	Overlay      *policy.Overlay
	Store        *Store
	Logger       utils.Logger
}

// Orchestrator owns job lifecycles. One instance serves many jobs; each
// job owns its working area exclusively.
type Orchestrator struct {
	opts      Options
	hub       *Hub
	validator *apk.Validator
	signer    *sign.Signer

	// repackage is the mode task's archive-building step, held as a
	// field so tests can substitute a failing implementation.
	repackage func(treeDir string) ([]byte, []string, error)

	mu   sync.RWMutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	job       *models.Job
	area      *WorkingArea
	cancelled bool
	cleaned   bool
	done      chan struct{}
}

// NewOrchestrator builds an orchestrator, loading or generating the
// signing identity under the work root.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.WorkRoot == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "apkmorph")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetGlobalLogger()
	}

	identity, err := sign.LoadOrGenerateIdentity(opts.WorkRoot)
	if err != nil {
		return nil, err
	}

	validator := apk.NewValidator()
	if opts.MaxInputSize > 0 {
		validator.MaxInputSize = opts.MaxInputSize
	}

	return &Orchestrator{
		opts:      opts,
		hub:       NewHub(),
		validator: validator,
		signer:    sign.NewSigner(identity),
		repackage: repack.Repackage,
		jobs:      make(map[string]*trackedJob),
	}, nil
}

// Submit registers a new job and starts it asynchronously, returning the
// job id immediately.
func (o *Orchestrator) Submit(ctx context.Context, sourceName string, data []byte, modes []models.Mode) (string, error) {
	if len(modes) == 0 {
		modes = []models.Mode{models.ModeDebug}
	}
	seen := make(map[models.Mode]bool)
	unique := modes[:0]
	for _, m := range modes {
		if !seen[m] {
			seen[m] = true
			unique = append(unique, m)
		}
	}
	modes = unique

	now := time.Now()
	job := &models.Job{
		ID:             uuid.NewString(),
		SourceName:     sourceName,
		SourceSize:     int64(len(data)),
		RequestedModes: modes,
		State:          models.JobStateSubmitted,
		Results:        make(map[models.Mode]*models.ModeResult),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, mode := range modes {
		job.Results[mode] = &models.ModeResult{Mode: mode, Status: models.ModeStatusPending}
	}

	tracked := &trackedJob{job: job, done: make(chan struct{})}
	o.mu.Lock()
	o.jobs[job.ID] = tracked
	o.mu.Unlock()

	o.hub.Open(job.ID)
	o.persist(job)

	go o.run(ctx, tracked, data)
	return job.ID, nil
}

// Subscribe attaches to the job's progress stream.
func (o *Orchestrator) Subscribe(jobID string) (<-chan models.LogEvent, func()) {
	return o.hub.Subscribe(jobID)
}

// Cancel requests cooperative cancellation: mode tasks that have not yet
// started finish as Skipped; a task already mid-repackage or mid-sign
// runs to its natural end.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	tracked, ok := o.jobs[jobID]
	if !ok {
		return apperrors.NewNotFoundError(apperrors.CodeJobNotFound, "unknown job "+jobID)
	}
	tracked.cancelled = true
	return nil
}

// Job returns a snapshot of the job's current state.
func (o *Orchestrator) Job(jobID string) (*models.Job, error) {
	o.mu.RLock()
	tracked, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if ok {
		return tracked.job, nil
	}
	if o.opts.Store != nil {
		if job, err := o.opts.Store.GetJob(jobID); err == nil {
			return job, nil
		}
	}
	return nil, apperrors.NewNotFoundError(apperrors.CodeJobNotFound, "unknown job "+jobID)
}

// Wait blocks until the job reaches a terminal state.
func (o *Orchestrator) Wait(jobID string) error {
	o.mu.RLock()
	tracked, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok {
		return apperrors.NewNotFoundError(apperrors.CodeJobNotFound, "unknown job "+jobID)
	}
	<-tracked.done
	return nil
}

// Result returns the mode's outcome, or a typed not-ready error while
// the mode is still in flight.
func (o *Orchestrator) Result(jobID string, mode models.Mode) (*models.ModeResult, error) {
	job, err := o.Job(jobID)
	if err != nil {
		return nil, err
	}
	result, ok := job.Results[mode]
	if !ok {
		return nil, apperrors.NewNotFoundError(apperrors.CodeModeNotReady,
			fmt.Sprintf("mode %s was not requested for job %s", mode, jobID))
	}
	switch result.Status {
	case models.ModeStatusSuccess, models.ModeStatusFailed, models.ModeStatusSkipped:
		return result, nil
	default:
		return nil, apperrors.NewJobError(apperrors.CodeModeNotReady,
			fmt.Sprintf("mode %s is still %s", mode, result.Status))
	}
}

// Artifact reads the signed output archive for a successful mode.
func (o *Orchestrator) Artifact(jobID string, mode models.Mode) ([]byte, error) {
	result, err := o.Result(jobID, mode)
	if err != nil {
		return nil, err
	}
	if result.Status != models.ModeStatusSuccess {
		return nil, apperrors.NewJobError(apperrors.CodeModeNotReady,
			fmt.Sprintf("mode %s finished as %s", mode, result.Status))
	}
	return os.ReadFile(result.OutputPath)
}

// Cleanup removes the job's working area. Cleaning an already-cleaned or
// unknown-but-stored job is a no-op success; cleaning an in-flight job
// is refused.
func (o *Orchestrator) Cleanup(jobID string) error {
	o.mu.Lock()
	tracked, ok := o.jobs[jobID]

	if ok {
		if !tracked.job.State.Terminal() {
			o.mu.Unlock()
			return apperrors.NewJobError("JOB_IN_FLIGHT",
				"refusing to clean a job that is still running")
		}
		if !tracked.cleaned && tracked.area != nil {
			if err := tracked.area.Remove(); err != nil {
				o.mu.Unlock()
				return err
			}
			tracked.cleaned = true
			tracked.job.WorkDir = ""
		}
		o.mu.Unlock()
	} else {
		o.mu.Unlock()
		if o.opts.Store == nil {
			return nil
		}
		job, err := o.opts.Store.GetJob(jobID)
		if err != nil {
			return nil // unknown job: idempotent no-op
		}
		if job.WorkDir != "" {
			if err := os.RemoveAll(job.WorkDir); err != nil {
				return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
					"WORKAREA_REMOVE", "failed to remove working area")
			}
		}
	}

	if o.opts.Store != nil {
		o.opts.Store.MarkCleaned(jobID)
	}
	return nil
}

// run drives the shared phases then fans out per-mode work.
func (o *Orchestrator) run(ctx context.Context, tracked *trackedJob, data []byte) {
	defer close(tracked.done)
	job := tracked.job
	log := o.opts.Logger.WithField("job", job.ID)

	o.setState(tracked, models.JobStateValidating)
	o.publish(job.ID, models.EventInfo, "validating uploaded package")

	// Byte-level gates come first so an empty or oversized upload is
	// rejected with its own error before any unpacking work happens.
	if err := o.validator.ValidateBytes(data); err != nil {
		o.failJob(tracked, err)
		return
	}
	entries, err := archive.Unpack(data)
	if err != nil {
		o.failJob(tracked, err)
		return
	}
	report, err := o.validator.Validate(data, entries)
	if err != nil {
		o.failJob(tracked, err)
		return
	}
	for _, warning := range report.Warnings {
		o.publish(job.ID, models.EventWarning, warning)
		log.Warn("%s", warning)
	}
	o.publish(job.ID, models.EventInfo,
		fmt.Sprintf("validation passed: %d entries, %d bytes", report.EntryCount, report.SizeBytes))

	o.setState(tracked, models.JobStateExtracting)
	o.publish(job.ID, models.EventInfo, "extracting package")

	area, err := NewWorkingArea(o.opts.WorkRoot, job.ID)
	if err != nil {
		o.failJob(tracked, err)
		return
	}
	tracked.area = area
	job.WorkDir = area.Root

	warnings, err := archive.ExtractTo(data, area.ExtractedDir())
	if err != nil {
		o.failJob(tracked, err)
		return
	}
	for _, warning := range warnings {
		o.publish(job.ID, models.EventWarning, warning)
	}

	// Best-effort metadata for the job listing; failures here never
	// affect the conversion.
	if icon, err := apk.NewIconExtractor().ExtractIcon(entries); err == nil {
		if os.WriteFile(area.IconPath(), icon, 0644) == nil {
			job.IconPath = area.IconPath()
		}
	}

	o.setState(tracked, models.JobStateProcessing)

	group := new(errgroup.Group)
	group.SetLimit(o.opts.Workers)
	for _, mode := range job.RequestedModes {
		mode := mode
		group.Go(func() error {
			o.runMode(tracked, mode)
			return nil
		})
	}
	group.Wait()

	o.finishJob(tracked)
}

// runMode executes clone, patch, repackage and sign for one mode. Errors
// fail this mode only.
func (o *Orchestrator) runMode(tracked *trackedJob, mode models.Mode) {
	job := tracked.job
	result := job.Results[mode]
	log := o.opts.Logger.WithFields(map[string]interface{}{"job": job.ID, "mode": mode.String()})

	o.mu.Lock()
	if tracked.cancelled {
		result.Status = models.ModeStatusSkipped
		result.FinishedAt = time.Now()
		o.mu.Unlock()
		o.publish(job.ID, models.EventWarning, fmt.Sprintf("[%s] skipped: job cancelled", mode))
		return
	}
	result.Status = models.ModeStatusPatching
	o.mu.Unlock()

	o.publish(job.ID, models.EventInfo, fmt.Sprintf("[%s] patching manifest and resources", mode))

	treeDir, err := tracked.area.CloneExtracted(mode)
	if err != nil {
		o.failMode(tracked, mode, err)
		return
	}

	if err := o.patchTree(job.ID, treeDir, mode, job); err != nil {
		o.failMode(tracked, mode, err)
		return
	}

	o.setModeStatus(tracked, mode, models.ModeStatusRepackaging)
	o.publish(job.ID, models.EventInfo, fmt.Sprintf("[%s] repackaging", mode))

	packed, warnings, err := o.repackage(treeDir)
	for _, warning := range warnings {
		o.publish(job.ID, models.EventWarning, fmt.Sprintf("[%s] %s", mode, warning))
	}
	if err != nil {
		o.failMode(tracked, mode, err)
		return
	}

	o.setModeStatus(tracked, mode, models.ModeStatusSigning)
	o.publish(job.ID, models.EventInfo, fmt.Sprintf("[%s] signing", mode))

	signed, err := o.signer.Sign(packed)
	if err != nil {
		o.failMode(tracked, mode, err)
		return
	}

	outputPath := tracked.area.OutputPath(mode)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		o.failMode(tracked, mode, err)
		return
	}
	if err := os.WriteFile(outputPath, signed, 0644); err != nil {
		o.failMode(tracked, mode, err)
		return
	}

	sum := sha256.Sum256(signed)
	o.mu.Lock()
	result.Status = models.ModeStatusSuccess
	result.OutputPath = outputPath
	result.SizeBytes = int64(len(signed))
	result.SHA256 = hex.EncodeToString(sum[:])
	result.FinishedAt = time.Now()
	o.mu.Unlock()

	log.Info("mode finished: %d bytes", len(signed))
	o.publish(job.ID, models.EventSuccess,
		fmt.Sprintf("[%s] artifact ready (%d bytes)", mode, len(signed)))
}

// patchTree rewrites the manifest, value resources and network security
// config inside the mode's cloned tree.
func (o *Orchestrator) patchTree(jobID, treeDir string, mode models.Mode, job *models.Job) error {
	patchSet := policy.ForMode(mode)
	patchSet = o.opts.Overlay.Apply(mode, patchSet)

	manifestPath := filepath.Join(treeDir, manifest.EntryPath)
	markup, err := os.ReadFile(manifestPath)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeManifest,
			apperrors.CodeMissingManifest, "manifest missing from extracted tree")
	}

	parsed, err := manifest.Parse(markup)
	if err != nil {
		return err
	}

	var doc *manifest.Document
	if parsed.BinaryDetected {
		hint, ok := manifest.ProbeBinary(markup)
		if ok {
			o.publish(jobID, models.EventInfo,
				fmt.Sprintf("[%s] compiled manifest detected, synthesizing for %s", mode, hint.Package))
		} else {
			o.publish(jobID, models.EventWarning,
				fmt.Sprintf("[%s] compiled manifest could not be decoded, synthesizing fresh manifest", mode))
		}
		doc = manifest.Synthesize(mode, hint)
		// Synthesize applies the built-in tables only; overlay
		// additions still need a pass here.
		doc.ApplyPolicy(patchSet)
	} else {
		doc = parsed.Doc
		doc.ApplyPolicy(patchSet)
	}

	o.mu.Lock()
	if job.PackageID == "" {
		job.PackageID = doc.PackageName()
	}
	o.mu.Unlock()

	if err := os.WriteFile(manifestPath, doc.Serialize(), 0644); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeManifest,
			"MANIFEST_WRITE", "failed to write patched manifest")
	}

	resourcePath := filepath.Join(treeDir, filepath.FromSlash(resources.EntryPath))
	existing, _ := os.ReadFile(resourcePath) // absence is fine: parse-or-default
	resDoc, defaulted := resources.Parse(existing)
	if defaulted && len(existing) > 0 {
		o.publish(jobID, models.EventWarning,
			fmt.Sprintf("[%s] value resources unparseable, starting from empty table", mode))
	}
	resDoc.ApplyPolicy(patchSet)
	if err := os.MkdirAll(filepath.Dir(resourcePath), 0755); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"RESOURCE_WRITE", "failed to create resource directory")
	}
	if err := os.WriteFile(resourcePath, resDoc.Serialize(), 0644); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"RESOURCE_WRITE", "failed to write patched resources")
	}

	nscPath := filepath.Join(treeDir, filepath.FromSlash(resources.NetworkSecurityConfigPath))
	if err := os.MkdirAll(filepath.Dir(nscPath), 0755); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"RESOURCE_WRITE", "failed to create xml resource directory")
	}
	if err := os.WriteFile(nscPath, []byte(resources.NetworkSecurityConfigXML), 0644); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"RESOURCE_WRITE", "failed to write network security config")
	}
	return nil
}

func (o *Orchestrator) setState(tracked *trackedJob, state models.JobState) {
	o.mu.Lock()
	tracked.job.State = state
	tracked.job.UpdatedAt = time.Now()
	o.mu.Unlock()
	o.persist(tracked.job)
}

func (o *Orchestrator) setModeStatus(tracked *trackedJob, mode models.Mode, status models.ModeStatus) {
	o.mu.Lock()
	tracked.job.Results[mode].Status = status
	o.mu.Unlock()
}

func (o *Orchestrator) failMode(tracked *trackedJob, mode models.Mode, err error) {
	job := tracked.job
	morphErr := apperrors.AsMorphError(err)

	o.mu.Lock()
	result := job.Results[mode]
	result.Status = models.ModeStatusFailed
	result.Error = morphErr.Error()
	result.FinishedAt = time.Now()
	o.mu.Unlock()

	o.opts.Logger.WithField("job", job.ID).Error("mode %s failed: %v", mode, err)
	o.publish(job.ID, models.EventError, fmt.Sprintf("[%s] failed: %v", mode, err))
}

// failJob aborts the whole job from a shared-phase failure.
func (o *Orchestrator) failJob(tracked *trackedJob, err error) {
	job := tracked.job
	morphErr := apperrors.AsMorphError(err)

	o.mu.Lock()
	job.State = models.JobStateFailed
	job.Error = morphErr.Error()
	job.UpdatedAt = time.Now()
	for _, result := range job.Results {
		if result.Status == models.ModeStatusPending {
			result.Status = models.ModeStatusSkipped
		}
	}
	o.mu.Unlock()

	o.opts.Logger.WithField("job", job.ID).Error("job failed: %v", err)
	o.publish(job.ID, models.EventError, "job failed: "+morphErr.Error())
	o.persist(job)
	o.writeMetadata(tracked)
	o.hub.Close(job.ID)
}

// finishJob aggregates per-mode outcomes into the job's terminal state.
func (o *Orchestrator) finishJob(tracked *trackedJob) {
	job := tracked.job

	o.mu.Lock()
	var succeeded, failed int
	for _, result := range job.Results {
		switch result.Status {
		case models.ModeStatusSuccess:
			succeeded++
		case models.ModeStatusFailed, models.ModeStatusSkipped:
			failed++
		}
	}
	switch {
	case succeeded > 0 && failed == 0:
		job.State = models.JobStateCompleted
	case succeeded > 0:
		job.State = models.JobStatePartial
	default:
		job.State = models.JobStateFailed
		job.Error = "no mode produced an artifact"
	}
	job.UpdatedAt = time.Now()
	state := job.State
	o.mu.Unlock()

	switch state {
	case models.JobStateCompleted:
		o.publish(job.ID, models.EventSuccess, "conversion completed")
	case models.JobStatePartial:
		o.publish(job.ID, models.EventWarning, "conversion completed with partial failures")
	default:
		o.publish(job.ID, models.EventError, "conversion failed")
	}

	o.persist(job)
	o.writeMetadata(tracked)
	o.hub.Close(job.ID)
}

func (o *Orchestrator) publish(jobID string, level models.EventLevel, message string) {
	o.hub.Publish(jobID, level, message)
}

func (o *Orchestrator) persist(job *models.Job) {
	if o.opts.Store == nil {
		return
	}
	o.mu.RLock()
	err := o.opts.Store.SaveJob(job)
	o.mu.RUnlock()
	if err != nil {
		o.opts.Logger.Warn("failed to persist job %s: %v", job.ID, err)
	}
}

// writeMetadata drops the job result manifest next to the artifacts so a
// working area is self-describing even without the registry.
func (o *Orchestrator) writeMetadata(tracked *trackedJob) {
	if tracked.area == nil {
		return
	}
	o.mu.RLock()
	data, err := yaml.Marshal(tracked.job)
	o.mu.RUnlock()
	if err != nil {
		return
	}
	os.WriteFile(tracked.area.MetadataPath(), data, 0644)
}
