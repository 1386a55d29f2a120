// Package archive wraps reading and writing the zip container an APK is
// distributed in. Unpacking works from raw bytes so callers never need a
// temp file just to look inside an upload; packing walks a directory tree
// and prefers partial success over aborting the whole archive.
package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kflate "github.com/klauspost/compress/flate"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
)

// Entry is one file (or directory marker) inside the archive. Entries are
// immutable once read.
type Entry struct {
	Path        string
	Data        []byte
	IsDirectory bool
}

// Unpack reads every entry out of a zip container held in memory.
func Unpack(data []byte) ([]Entry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeArchive,
			apperrors.CodeCorruptArchive, "unable to read archive central directory")
	}

	entries := make([]Entry, 0, len(reader.File))
	seen := make(map[string]bool, len(reader.File))
	for _, file := range reader.File {
		name := filepath.ToSlash(file.Name)
		if seen[name] {
			continue
		}
		seen[name] = true

		if file.FileInfo().IsDir() {
			entries = append(entries, Entry{Path: name, IsDirectory: true})
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrorTypeArchive,
				apperrors.CodeCorruptArchive, "unable to open archive entry "+name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrorTypeArchive,
				apperrors.CodeCorruptArchive, "unable to read archive entry "+name)
		}
		entries = append(entries, Entry{Path: name, Data: content})
	}

	if len(entries) == 0 {
		return nil, apperrors.NewArchiveError(apperrors.CodeEmptyArchive,
			"archive contains no entries")
	}
	return entries, nil
}

// ExtractTo writes the archive contents under destDir. Unsafe paths
// (absolute or escaping the destination) are skipped with a warning, as
// are entries that fail mid-write; the returned warnings list records
// every skipped entry.
func ExtractTo(data []byte, destDir string) (warnings []string, err error) {
	entries, err := Unpack(data)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		target, ok := safeJoin(destDir, entry.Path)
		if !ok {
			warnings = append(warnings, "skipped unsafe path: "+entry.Path)
			continue
		}

		if entry.IsDirectory {
			if mkErr := os.MkdirAll(target, 0755); mkErr != nil {
				warnings = append(warnings, "skipped directory "+entry.Path+": "+mkErr.Error())
			}
			continue
		}

		if mkErr := os.MkdirAll(filepath.Dir(target), 0755); mkErr != nil {
			warnings = append(warnings, "skipped "+entry.Path+": "+mkErr.Error())
			continue
		}
		if wrErr := os.WriteFile(target, entry.Data, 0644); wrErr != nil {
			warnings = append(warnings, "skipped "+entry.Path+": "+wrErr.Error())
		}
	}
	return warnings, nil
}

// Pack walks rootDir and produces a new zip archive. A file that cannot
// be read is skipped with a warning rather than failing the whole pack;
// the pack fails only when nothing at all could be written.
func Pack(rootDir string) (data []byte, warnings []string, err error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	// klauspost's flate is noticeably faster on the dex/resource blobs
	// that dominate an APK.
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return kflate.NewWriter(out, kflate.BestSpeed)
	})

	var packed int
	walkErr := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			warnings = append(warnings, "skipped "+path+": "+err.Error())
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			warnings = append(warnings, "skipped "+path+": "+err.Error())
			return nil
		}
		name := filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			// Mid-walk deletions and permission errors degrade to a
			// warning; the rest of the tree still gets packed.
			warnings = append(warnings, "skipped "+name+": "+err.Error())
			return nil
		}

		header := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if storeUncompressed(name) {
			header.Method = zip.Store
		}
		w, err := writer.CreateHeader(header)
		if err != nil {
			warnings = append(warnings, "skipped "+name+": "+err.Error())
			return nil
		}
		if _, err := w.Write(content); err != nil {
			return err
		}
		packed++
		return nil
	})
	if walkErr != nil {
		writer.Close()
		return nil, warnings, apperrors.WrapError(walkErr, apperrors.ErrorTypeArchive,
			apperrors.CodeRepackageFailed, "failed to walk source tree")
	}
	if err := writer.Close(); err != nil {
		return nil, warnings, apperrors.WrapError(err, apperrors.ErrorTypeArchive,
			apperrors.CodeRepackageFailed, "failed to finalize archive")
	}

	if packed == 0 || buf.Len() == 0 {
		return nil, warnings, apperrors.NewArchiveError(apperrors.CodeEmptyArchive,
			"packed archive is empty")
	}
	return buf.Bytes(), warnings, nil
}

// HasEntry reports whether any entry matches the exact path.
func HasEntry(entries []Entry, path string) bool {
	for _, e := range entries {
		if e.Path == path {
			return true
		}
	}
	return false
}

// Find returns the entry at path, if present.
func Find(entries []Entry, path string) (Entry, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// SortedPaths returns every entry path in lexical order, mainly for
// reproducible logging and tests.
func SortedPaths(entries []Entry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	return paths
}

// resources.arsc must stay uncompressed on modern Android; native libs
// are kept stored so they can be mmapped directly from the APK.
func storeUncompressed(name string) bool {
	if name == "resources.arsc" {
		return true
	}
	return strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so")
}

func safeJoin(destDir, name string) (string, bool) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", false
	}
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return target, true
}
