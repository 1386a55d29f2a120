// Package repack turns a patched directory tree back into an APK
// archive. Existing signature material is stripped first so the output
// is not left carrying a now-invalid trust block.
package repack

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
	"github.com/kaifeng/apkmorph/pkg/archive"
)

// MinOutputSize is the smallest archive accepted as plausible. Anything
// below this is treated as a corruption signal, not a legitimate empty
// package.
const MinOutputSize = 1024

// signatureDir is the conventional top-level signature-bearing
// directory. Split or alternative signature layouts pass through
// unstripped; see DESIGN.md.
const signatureDir = "META-INF"

// Repackage strips signatures from sourceTree and packs it into a new
// archive. Per-file pack failures degrade to warnings; the operation
// fails only when the output would be implausibly small.
func Repackage(sourceTree string) (data []byte, warnings []string, err error) {
	if err := StripSignatures(sourceTree); err != nil {
		return nil, nil, err
	}

	data, warnings, err = archive.Pack(sourceTree)
	if err != nil {
		return nil, warnings, apperrors.WrapError(err, apperrors.ErrorTypeRepackage,
			apperrors.CodeRepackageFailed, "failed to pack tree")
	}
	if len(data) < MinOutputSize {
		return nil, warnings, apperrors.NewRepackageError(apperrors.CodeRepackageFailed,
			"packed archive is implausibly small").
			WithContext("size", strconv.Itoa(len(data)))
	}
	return data, warnings, nil
}

// StripSignatures removes the signature directory plus any stray
// signature files elsewhere in the tree.
func StripSignatures(sourceTree string) error {
	metaInf := filepath.Join(sourceTree, signatureDir)
	if _, err := os.Stat(metaInf); err == nil {
		if err := os.RemoveAll(metaInf); err != nil {
			return apperrors.WrapError(err, apperrors.ErrorTypeRepackage,
				apperrors.CodeRepackageFailed, "failed to remove signature directory")
		}
	}

	// Defensive sweep for signature files living outside META-INF; rare
	// but repackaging them would break installation.
	return filepath.Walk(sourceTree, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if isSignatureFile(filepath.Base(path)) {
			os.Remove(path)
		}
		return nil
	})
}

func isSignatureFile(name string) bool {
	upper := strings.ToUpper(name)
	return strings.HasSuffix(upper, ".SF") ||
		strings.HasSuffix(upper, ".RSA") ||
		strings.HasSuffix(upper, ".DSA") ||
		strings.HasSuffix(upper, ".EC") ||
		upper == "MANIFEST.MF"
}
