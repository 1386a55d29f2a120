// Package sign applies a development-grade v1 (JAR) signature to a
// repackaged archive so the artifact installs on a device without the
// original publisher's trust chain.
package sign

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.mozilla.org/pkcs7"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
)

const (
	manifestPath  = "META-INF/MANIFEST.MF"
	signaturePath = "META-INF/CERT.SF"
	blockPath     = "META-INF/CERT.RSA"
	createdBy     = "apkmorph"
)

// Signer signs archives with one identity.
type Signer struct {
	identity *Identity
}

// NewSigner wraps an identity.
func NewSigner(identity *Identity) *Signer {
	return &Signer{identity: identity}
}

// Sign reads an unsigned archive, digests every entry, and writes a new
// archive carrying MANIFEST.MF, CERT.SF and the PKCS#7 signature block.
func (s *Signer) Sign(archiveBytes []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "unable to read archive for signing")
	}

	names, contents, err := readEntries(reader)
	if err != nil {
		return nil, err
	}

	manifest, sections := buildManifest(names, contents)
	signatureFile := buildSignatureFile(manifest, names, sections)

	block, err := s.signatureBlock(signatureFile)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	writer := zip.NewWriter(&out)

	// Signature files first, matching jarsigner's layout.
	metaFiles := []struct {
		name string
		data []byte
	}{
		{manifestPath, manifest},
		{signaturePath, signatureFile},
		{blockPath, block},
	}
	for _, mf := range metaFiles {
		w, err := writer.Create(mf.name)
		if err != nil {
			return nil, wrapSignErr(err, mf.name)
		}
		if _, err := w.Write(mf.data); err != nil {
			return nil, wrapSignErr(err, mf.name)
		}
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || isSignatureEntry(file.Name) {
			continue
		}
		header := &zip.FileHeader{Name: file.Name, Method: file.Method}
		w, err := writer.CreateHeader(header)
		if err != nil {
			return nil, wrapSignErr(err, file.Name)
		}
		if _, err := w.Write(contents[file.Name]); err != nil {
			return nil, wrapSignErr(err, file.Name)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to finalize signed archive")
	}
	return out.Bytes(), nil
}

// readEntries loads every file entry's uncompressed content, skipping
// any stale signature files still present in the input.
func readEntries(reader *zip.Reader) ([]string, map[string][]byte, error) {
	var names []string
	contents := make(map[string][]byte)
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || isSignatureEntry(file.Name) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, nil, wrapSignErr(err, file.Name)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, wrapSignErr(err, file.Name)
		}
		names = append(names, file.Name)
		contents[file.Name] = data
	}
	sort.Strings(names)
	return names, contents, nil
}

// buildManifest renders MANIFEST.MF and returns it plus each entry's
// section bytes, which CERT.SF digests individually.
func buildManifest(names []string, contents map[string][]byte) ([]byte, map[string][]byte) {
	var buf bytes.Buffer
	writeAttr(&buf, "Manifest-Version", "1.0")
	writeAttr(&buf, "Created-By", createdBy)
	buf.WriteString("\r\n")

	sections := make(map[string][]byte, len(names))
	for _, name := range names {
		var section bytes.Buffer
		writeAttr(&section, "Name", name)
		writeAttr(&section, "SHA-256-Digest", digest(contents[name]))
		section.WriteString("\r\n")
		sections[name] = section.Bytes()
		buf.Write(sections[name])
	}
	return buf.Bytes(), sections
}

func buildSignatureFile(manifest []byte, names []string, sections map[string][]byte) []byte {
	var buf bytes.Buffer
	writeAttr(&buf, "Signature-Version", "1.0")
	writeAttr(&buf, "Created-By", createdBy)
	writeAttr(&buf, "SHA-256-Digest-Manifest", digest(manifest))
	buf.WriteString("\r\n")

	for _, name := range names {
		writeAttr(&buf, "Name", name)
		writeAttr(&buf, "SHA-256-Digest", digest(sections[name]))
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

// signatureBlock produces the detached PKCS#7 signature over CERT.SF.
func (s *Signer) signatureBlock(signatureFile []byte) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(signatureFile)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to initialize signature block")
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signedData.AddSigner(s.identity.Certificate, s.identity.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to add signer")
	}
	signedData.Detach()
	block, err := signedData.Finish()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeSigning,
			apperrors.CodeSigningFailed, "failed to finalize signature block")
	}
	return block, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// writeAttr emits one manifest attribute with the 72-byte line limit and
// single-space continuation lines the JAR format requires.
func writeAttr(buf *bytes.Buffer, name, value string) {
	line := fmt.Sprintf("%s: %s", name, value)
	const limit = 72
	for len(line) > limit {
		buf.WriteString(line[:limit])
		buf.WriteString("\r\n")
		line = " " + line[limit:]
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

func isSignatureEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	upper := strings.ToUpper(name)
	return strings.HasSuffix(upper, ".SF") ||
		strings.HasSuffix(upper, ".RSA") ||
		strings.HasSuffix(upper, ".DSA") ||
		strings.HasSuffix(upper, ".EC") ||
		upper == "META-INF/MANIFEST.MF"
}

func wrapSignErr(err error, entry string) *apperrors.MorphError {
	return apperrors.WrapError(err, apperrors.ErrorTypeSigning,
		apperrors.CodeSigningFailed, "signing failed on entry "+entry)
}
