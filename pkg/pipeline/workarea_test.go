package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kaifeng/apkmorph/pkg/models"
)

func TestWorkingAreaLayout(t *testing.T) {
	root := t.TempDir()
	area, err := NewWorkingArea(root, "job-1")
	if err != nil {
		t.Fatalf("new working area: %v", err)
	}

	if area.Root != filepath.Join(root, "job-1") {
		t.Fatalf("root = %s", area.Root)
	}
	if info, err := os.Stat(area.Root); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
	if got := area.OutputPath(models.ModeDebug); got != filepath.Join(area.Root, "out", "debug.apk") {
		t.Fatalf("output path = %s", got)
	}
}

func TestCloneExtractedCopiesTree(t *testing.T) {
	area, err := NewWorkingArea(t.TempDir(), "job-1")
	if err != nil {
		t.Fatalf("new working area: %v", err)
	}

	src := area.ExtractedDir()
	if err := os.MkdirAll(filepath.Join(src, "res", "values"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "AndroidManifest.xml"), []byte("<m/>"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "res", "values", "v.xml"), []byte("<r/>"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	clone, err := area.CloneExtracted(models.ModeSandbox)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(clone, "res", "values", "v.xml"))
	if err != nil || string(content) != "<r/>" {
		t.Fatalf("nested file not cloned: %v %q", err, content)
	}

	// Mutating the clone leaves the extraction pristine.
	if err := os.WriteFile(filepath.Join(clone, "AndroidManifest.xml"), []byte("patched"), 0644); err != nil {
		t.Fatalf("mutate clone: %v", err)
	}
	original, err := os.ReadFile(filepath.Join(src, "AndroidManifest.xml"))
	if err != nil || string(original) != "<m/>" {
		t.Fatalf("extraction mutated through clone: %q", original)
	}
}

func TestCloneExtractedReplacesStaleClone(t *testing.T) {
	area, err := NewWorkingArea(t.TempDir(), "job-1")
	if err != nil {
		t.Fatalf("new working area: %v", err)
	}
	if err := os.MkdirAll(area.ExtractedDir(), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(area.ExtractedDir(), "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	clone, err := area.CloneExtracted(models.ModeDebug)
	if err != nil {
		t.Fatalf("first clone: %v", err)
	}
	if err := os.WriteFile(filepath.Join(clone, "leftover.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	clone, err = area.CloneExtracted(models.ModeDebug)
	if err != nil {
		t.Fatalf("second clone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(clone, "leftover.txt")); !os.IsNotExist(err) {
		t.Fatalf("stale clone content survived re-clone")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	area, err := NewWorkingArea(t.TempDir(), "job-1")
	if err != nil {
		t.Fatalf("new working area: %v", err)
	}
	if err := area.Remove(); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if _, err := os.Stat(area.Root); !os.IsNotExist(err) {
		t.Fatalf("root still present after remove")
	}
	if err := area.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
