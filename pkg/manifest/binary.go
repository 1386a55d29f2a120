package manifest

import (
	"bytes"

	"github.com/shogo82148/androidbinary"
	abapk "github.com/shogo82148/androidbinary/apk"
)

// BinaryInfo is what the binary-manifest probe could recover from a
// compiled AndroidManifest.xml. All fields are best-effort; zero values
// mean the probe could not decode that field.
type BinaryInfo struct {
	Package     string
	VersionName string
	VersionCode int32
}

// ProbeBinary attempts to decode a compiled (AXML) manifest just far
// enough to recover the package identity, so the synthesized fallback
// document can keep the original package name instead of a generated
// one. Any decode failure yields ok=false; the pipeline then synthesizes
// from scratch.
func ProbeBinary(data []byte) (info BinaryInfo, ok bool) {
	defer func() {
		// androidbinary panics on some truncated inputs; a failed probe
		// is always recoverable. Keep whatever was decoded before the
		// panic as long as the package name made it out.
		if r := recover(); r != nil {
			ok = info.Package != ""
		}
	}()

	xmlFile, err := androidbinary.NewXMLFile(bytes.NewReader(data))
	if err != nil {
		return BinaryInfo{}, false
	}

	var decoded abapk.Manifest
	if err := xmlFile.Decode(&decoded, nil, nil); err != nil {
		return BinaryInfo{}, false
	}

	info.Package = decoded.Package.MustString()
	info.VersionName = decoded.VersionName.MustString()
	info.VersionCode = decoded.VersionCode.MustInt32()
	if info.Package == "" {
		return BinaryInfo{}, false
	}
	return info, true
}
