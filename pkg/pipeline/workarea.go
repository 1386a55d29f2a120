package pipeline

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
	"github.com/kaifeng/apkmorph/pkg/models"
)

// WorkingArea is the exclusively-owned scratch directory tree for one
// job: the shared extracted tree, one cloned subtree per mode, and the
// per-mode output archives. It is only ever removed by an explicit
// cleanup or the reaper, never mid-job.
type WorkingArea struct {
	Root string
}

// NewWorkingArea creates the job's directory under workRoot.
func NewWorkingArea(workRoot, jobID string) (*WorkingArea, error) {
	root := filepath.Join(workRoot, jobID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"WORKAREA_CREATE", "failed to create working area")
	}
	return &WorkingArea{Root: root}, nil
}

// ExtractedDir is where the source package is unpacked exactly once.
func (w *WorkingArea) ExtractedDir() string {
	return filepath.Join(w.Root, "extracted")
}

// ModeDir is the per-mode clone of the extracted tree.
func (w *WorkingArea) ModeDir(mode models.Mode) string {
	return filepath.Join(w.Root, "modes", mode.String())
}

// OutputPath is the per-mode signed artifact location.
func (w *WorkingArea) OutputPath(mode models.Mode) string {
	return filepath.Join(w.Root, "out", mode.String()+".apk")
}

// IconPath is where the extracted launcher icon is stored.
func (w *WorkingArea) IconPath() string {
	return filepath.Join(w.Root, "icon.png")
}

// MetadataPath is the job result manifest written at terminal state.
func (w *WorkingArea) MetadataPath() string {
	return filepath.Join(w.Root, "job.yaml")
}

// CloneExtracted copies the shared extracted tree into the mode's
// directory so mode tasks can patch independently.
func (w *WorkingArea) CloneExtracted(mode models.Mode) (string, error) {
	dest := w.ModeDir(mode)
	if err := os.RemoveAll(dest); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"WORKAREA_CLONE", "failed to reset mode directory")
	}
	if err := copyTree(w.ExtractedDir(), dest); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"WORKAREA_CLONE", "failed to clone extracted tree")
	}
	return dest, nil
}

// Remove deletes the whole working area. Removing an already-removed
// area is a no-op success.
func (w *WorkingArea) Remove() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem,
			"WORKAREA_REMOVE", "failed to remove working area")
	}
	return nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
