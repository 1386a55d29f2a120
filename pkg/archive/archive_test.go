package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestUnpackReadsEntries(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"AndroidManifest.xml": []byte("<manifest/>"),
		"classes.dex":         []byte("dex bytes"),
		"res/values/x.xml":    []byte("<resources/>"),
	})

	entries, err := Unpack(data)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	entry, ok := Find(entries, "classes.dex")
	if !ok || string(entry.Data) != "dex bytes" {
		t.Fatalf("classes.dex = %+v ok=%v", entry, ok)
	}
	if !HasEntry(entries, "res/values/x.xml") {
		t.Fatalf("nested entry missing")
	}
}

func TestUnpackCorruptArchive(t *testing.T) {
	_, err := Unpack([]byte("definitely not a zip"))
	if err == nil {
		t.Fatalf("expected error for corrupt input")
	}
	var morphErr *apperrors.MorphError
	if !errors.As(err, &morphErr) {
		t.Fatalf("expected typed error, got %T", err)
	}
	if morphErr.Code != apperrors.CodeCorruptArchive {
		t.Fatalf("code = %s", morphErr.Code)
	}
}

func TestUnpackEmptyArchive(t *testing.T) {
	_, err := Unpack(buildZip(t, nil))
	var morphErr *apperrors.MorphError
	if !errors.As(err, &morphErr) || morphErr.Code != apperrors.CodeEmptyArchive {
		t.Fatalf("expected EMPTY_ARCHIVE, got %v", err)
	}
}

func TestExtractToWritesTree(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"AndroidManifest.xml": []byte("<manifest/>"),
		"lib/arm64/native.so": []byte("elf"),
	})

	dest := t.TempDir()
	warnings, err := ExtractTo(data, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	content, err := os.ReadFile(filepath.Join(dest, "lib", "arm64", "native.so"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "elf" {
		t.Fatalf("content = %q", content)
	}
}

func TestExtractToSkipsUnsafePaths(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"ok.txt":          []byte("fine"),
		"../escape.txt":   []byte("evil"),
		"/absolute.txt":   []byte("evil"),
		"a\\windows.txt":  []byte("evil"),
		"nested/../../up": []byte("evil"),
	})

	dest := t.TempDir()
	warnings, err := ExtractTo(data, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(warnings) != 4 {
		t.Fatalf("expected 4 skip warnings, got %v", warnings)
	}
	if _, err := os.Stat(filepath.Join(dest, "ok.txt")); err != nil {
		t.Fatalf("safe entry not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); err == nil {
		t.Fatalf("zip-slip entry escaped the destination")
	}
}

func TestPackRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"AndroidManifest.xml": "<manifest/>",
		"res/values/v.xml":    "<resources/>",
		"classes.dex":         "code",
	}
	for name, content := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	data, warnings, err := Pack(src)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	entries, err := Unpack(data)
	if err != nil {
		t.Fatalf("unpack packed archive: %v", err)
	}
	for name, content := range files {
		entry, ok := Find(entries, name)
		if !ok || string(entry.Data) != content {
			t.Fatalf("entry %s lost or changed: %+v ok=%v", name, entry, ok)
		}
	}
}

func TestPackStoresResourceTableUncompressed(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"resources.arsc", "lib/arm64-v8a/libapp.so", "classes.dex"} {
		path := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, bytes.Repeat([]byte("data"), 256), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	data, _, err := Pack(src)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	methods := make(map[string]uint16)
	for _, f := range reader.File {
		methods[f.Name] = f.Method
	}
	if methods["resources.arsc"] != zip.Store {
		t.Fatalf("resources.arsc compressed with method %d", methods["resources.arsc"])
	}
	if methods["lib/arm64-v8a/libapp.so"] != zip.Store {
		t.Fatalf("native lib compressed with method %d", methods["lib/arm64-v8a/libapp.so"])
	}
	if methods["classes.dex"] != zip.Deflate {
		t.Fatalf("classes.dex stored with method %d", methods["classes.dex"])
	}
}

func TestPackEmptyTreeFails(t *testing.T) {
	_, _, err := Pack(t.TempDir())
	var morphErr *apperrors.MorphError
	if !errors.As(err, &morphErr) || morphErr.Code != apperrors.CodeEmptyArchive {
		t.Fatalf("expected EMPTY_ARCHIVE for empty tree, got %v", err)
	}
}
