// Package apk inspects uploaded packages: structural validation before a
// conversion job is allowed to start, and launcher-icon extraction for
// job metadata.
package apk

import (
	"fmt"
	"strings"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
	"github.com/kaifeng/apkmorph/pkg/archive"
	"github.com/kaifeng/apkmorph/pkg/manifest"
	"github.com/kaifeng/apkmorph/pkg/models"
)

// DefaultMaxInputSize is the ceiling applied when the configuration does
// not set one.
const DefaultMaxInputSize = 500 << 20 // 500 MiB

// Validator runs the installability prerequisite checks.
type Validator struct {
	MaxInputSize int64
}

// NewValidator returns a validator with the default size ceiling.
func NewValidator() *Validator {
	return &Validator{MaxInputSize: DefaultMaxInputSize}
}

// ValidateBytes runs the raw-byte gates that must pass before the
// archive is even opened: empty input and the size ceiling. Unpacking an
// oversized upload first would defeat the ceiling's purpose.
func (v *Validator) ValidateBytes(raw []byte) error {
	if len(raw) == 0 {
		return apperrors.NewValidationError(apperrors.CodeEmptyInput,
			"uploaded package is empty")
	}

	maxSize := v.MaxInputSize
	if maxSize <= 0 {
		maxSize = DefaultMaxInputSize
	}
	if int64(len(raw)) > maxSize {
		return apperrors.NewValidationError(apperrors.CodeOversizedInput,
			fmt.Sprintf("package is %d bytes, limit is %d", len(raw), maxSize))
	}
	return nil
}

// Validate inspects the raw bytes and the already-unpacked entry list.
// Checks run in order; the fatal ones return a typed error, the rest
// accumulate warnings in the report.
func (v *Validator) Validate(raw []byte, entries []archive.Entry) (*models.ValidationReport, error) {
	if err := v.ValidateBytes(raw); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeEmptyArchive,
			"archive contains no entries")
	}

	report := &models.ValidationReport{
		EntryCount: len(entries),
		SizeBytes:  int64(len(raw)),
	}

	for _, entry := range entries {
		switch {
		case entry.Path == manifest.EntryPath:
			report.HasManifest = true
		case strings.HasSuffix(entry.Path, ".dex"):
			report.HasCode = true
		case strings.HasPrefix(entry.Path, "META-INF/"):
			report.HasMetaInf = true
		}
	}

	if !report.HasManifest {
		return nil, apperrors.NewValidationError(apperrors.CodeMissingManifest,
			"archive has no AndroidManifest.xml at the top level")
	}

	if !report.HasCode {
		// Some packages are legitimately code-light (resource-only
		// splits), so this stays a warning.
		report.Warnings = append(report.Warnings, "no executable code (.dex) entries found")
	}
	if !report.HasMetaInf {
		report.Warnings = append(report.Warnings, "package carries no existing signature")
	}

	return report, nil
}
