package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/policy"
)

const sampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android"
    package="com.example.app"
    android:versionCode="7"
    android:versionName="2.1.0">
    <uses-sdk android:minSdkVersion="24" android:targetSdkVersion="34" />
    <uses-permission android:name="android.permission.INTERNET" />
    <uses-permission android:name="android.permission.CAMERA" android:maxSdkVersion="28" />
    <application android:label="Example" android:allowBackup="false">
        <activity android:name=".MainActivity" android:exported="true">
            <intent-filter>
                <action android:name="android.intent.action.MAIN" />
                <category android:name="android.intent.category.LAUNCHER" />
            </intent-filter>
        </activity>
        <service android:name="com.example.SyncService" android:exported="false" />
        <meta-data android:name="com.example.api_key" android:value="abc123" />
    </application>
</manifest>
`

func mustParse(t *testing.T, markup string) *Document {
	t.Helper()
	result, err := Parse([]byte(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.BinaryDetected {
		t.Fatalf("unexpected binary detection")
	}
	return result.Doc
}

func TestParseLiftsPatchedCollections(t *testing.T) {
	doc := mustParse(t, sampleManifest)

	if got := doc.PackageName(); got != "com.example.app" {
		t.Fatalf("package = %q", got)
	}
	if len(doc.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(doc.Permissions))
	}
	if !doc.HasPermission("android.permission.CAMERA") {
		t.Fatalf("CAMERA permission not lifted")
	}
	if doc.Permissions[1].Extra["android:maxSdkVersion"] != "28" {
		t.Fatalf("extra permission attribute lost: %v", doc.Permissions[1].Extra)
	}

	app := doc.Application
	if app == nil {
		t.Fatalf("application not lifted")
	}
	if len(app.Services) != 1 || app.Services[0].Name() != "com.example.SyncService" {
		t.Fatalf("service not lifted: %+v", app.Services)
	}
	if len(app.MetaData) != 1 || app.MetaData[0].Value != "abc123" {
		t.Fatalf("meta-data not lifted: %+v", app.MetaData)
	}
	if len(app.Other) != 1 || app.Other[0].Name != "activity" {
		t.Fatalf("activity should ride along in Other: %+v", app.Other)
	}

	// uses-sdk stays a preserved top-level node.
	if len(doc.Other) != 1 || doc.Other[0].Name != "uses-sdk" {
		t.Fatalf("uses-sdk not preserved: %+v", doc.Other)
	}
}

func TestParseRejectsNonManifestRoot(t *testing.T) {
	_, err := Parse([]byte(`<?xml version="1.0"?><resources></resources>`))
	if err == nil {
		t.Fatalf("expected error for wrong root element")
	}
}

func TestIsBinaryHeuristics(t *testing.T) {
	cases := []struct {
		name   string
		markup []byte
		binary bool
	}{
		{"textual", []byte(sampleManifest), false},
		{"leading bom", append([]byte("\xef\xbb\xbf"), []byte(sampleManifest)...), false},
		{"nul byte", []byte("\x03\x00\x08\x00"), true},
		{"axml magic", append([]byte{0x03, 0x00, 0x08, 0x00}, make([]byte, 64)...), true},
		{"no prolog", []byte(`<manifest package="a"/>`), true},
	}
	for _, tc := range cases {
		if got := IsBinary(tc.markup); got != tc.binary {
			t.Fatalf("%s: IsBinary = %v, want %v", tc.name, got, tc.binary)
		}
	}
}

func TestParseBinaryDetected(t *testing.T) {
	result, err := Parse([]byte{0x03, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("binary input must not error: %v", err)
	}
	if !result.BinaryDetected {
		t.Fatalf("binary input not detected")
	}
	if result.Doc != nil {
		t.Fatalf("binary detection must not produce a document")
	}
}

func TestApplyPolicyInjectsWithoutRemoving(t *testing.T) {
	doc := mustParse(t, sampleManifest)
	before := len(doc.Permissions)

	ps := policy.ForMode(models.ModeSandbox)
	doc.ApplyPolicy(ps)

	// INTERNET was already declared; it must not be duplicated.
	seen := 0
	for _, p := range doc.Permissions {
		if p.Name == "android.permission.INTERNET" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("INTERNET declared %d times after patch", seen)
	}
	if len(doc.Permissions) <= before {
		t.Fatalf("patch added no permissions")
	}

	if doc.Application.Attrs["android:debuggable"] != "true" {
		t.Fatalf("debuggable not forced on")
	}
	// Pre-existing attribute gets overwritten by the patch set.
	if doc.Application.Attrs["android:allowBackup"] != "true" {
		t.Fatalf("allowBackup not overridden, got %q", doc.Application.Attrs["android:allowBackup"])
	}

	// The app's own service survives next to the injected ones.
	if !hasComponent(doc.Application.Services, "com.example.SyncService") {
		t.Fatalf("pre-existing service lost")
	}
	if !hasComponent(doc.Application.Services, "com.apkmorph.runtime.SandboxProxyService") {
		t.Fatalf("proxy service not injected")
	}
}

func TestApplyPolicyIdempotent(t *testing.T) {
	doc := mustParse(t, sampleManifest)
	ps := policy.ForMode(models.ModeCombined)

	doc.ApplyPolicy(ps)
	perms := len(doc.Permissions)
	services := len(doc.Application.Services)
	meta := len(doc.Application.MetaData)

	doc.ApplyPolicy(ps)
	if len(doc.Permissions) != perms ||
		len(doc.Application.Services) != services ||
		len(doc.Application.MetaData) != meta {
		t.Fatalf("second application changed the document: perms %d->%d services %d->%d meta %d->%d",
			perms, len(doc.Permissions), services, len(doc.Application.Services),
			meta, len(doc.Application.MetaData))
	}
}

func TestSerializeRoundTripKeepsContent(t *testing.T) {
	doc := mustParse(t, sampleManifest)
	doc.ApplyPolicy(policy.ForMode(models.ModeDebug))

	out := doc.Serialize()
	if !bytes.HasPrefix(out, []byte(`<?xml version="1.0" encoding="utf-8"?>`)) {
		t.Fatalf("serialized manifest missing prolog")
	}

	reparsed := mustParse(t, string(out))
	if reparsed.PackageName() != "com.example.app" {
		t.Fatalf("package lost in round trip: %q", reparsed.PackageName())
	}
	for _, p := range doc.Permissions {
		if !reparsed.HasPermission(p.Name) {
			t.Fatalf("permission %s lost in round trip", p.Name)
		}
	}
	if reparsed.Application.Attrs["android:debuggable"] != "true" {
		t.Fatalf("patched attribute lost in round trip")
	}
	if len(reparsed.Application.Other) == 0 {
		t.Fatalf("activity lost in round trip")
	}
	if len(reparsed.Other) == 0 || reparsed.Other[0].Name != "uses-sdk" {
		t.Fatalf("uses-sdk lost in round trip")
	}
}

func TestSerializeEscapesAttributeValues(t *testing.T) {
	doc := &Document{
		Attrs: map[string]string{"package": "com.example.app"},
		Application: &Application{
			Attrs: map[string]string{"android:label": `Say "hi" & <go>`},
		},
	}
	out := string(doc.Serialize())
	if strings.Contains(out, "<go>") || strings.Contains(out, "& ") {
		t.Fatalf("attribute value not escaped:\n%s", out)
	}
	reparsed := mustParse(t, out)
	if reparsed.Application.Attrs["android:label"] != `Say "hi" & <go>` {
		t.Fatalf("escaped value did not round trip: %q", reparsed.Application.Attrs["android:label"])
	}
}

func TestSynthesizeWithHint(t *testing.T) {
	doc := Synthesize(models.ModeSandbox, BinaryInfo{
		Package:     "com.original.game",
		VersionName: "3.4",
		VersionCode: 340,
	})

	if !doc.Synthesized {
		t.Fatalf("synthesized flag not set")
	}
	if doc.PackageName() != "com.original.game" {
		t.Fatalf("hint package not used: %q", doc.PackageName())
	}
	if doc.Attrs["android:versionName"] != "3.4" || doc.Attrs["android:versionCode"] != "340" {
		t.Fatalf("hint version not used: %v", doc.Attrs)
	}

	// The synthesized document already carries the mode's patch set.
	if !doc.HasPermission("com.android.vending.BILLING") {
		t.Fatalf("synthesized sandbox manifest missing billing permission")
	}
	if doc.Application.Attrs["android:testOnly"] != "true" {
		t.Fatalf("synthesized sandbox manifest not test-only")
	}

	// And it stays installable: launcher activity plus uses-sdk.
	out := string(doc.Serialize())
	if !strings.Contains(out, "android.intent.category.LAUNCHER") {
		t.Fatalf("synthesized manifest has no launcher activity:\n%s", out)
	}
	if !strings.Contains(out, "uses-sdk") {
		t.Fatalf("synthesized manifest has no uses-sdk:\n%s", out)
	}
}

func TestSynthesizeWithoutHintGeneratesPackage(t *testing.T) {
	first := Synthesize(models.ModeDebug, BinaryInfo{})
	second := Synthesize(models.ModeDebug, BinaryInfo{})

	if !strings.HasPrefix(first.PackageName(), "com.apkmorph.generated.app") {
		t.Fatalf("generated package has wrong prefix: %q", first.PackageName())
	}
	if first.PackageName() == second.PackageName() {
		t.Fatalf("generated package names must be unique")
	}
	if first.Attrs["android:versionName"] != "1.0" || first.Attrs["android:versionCode"] != "1" {
		t.Fatalf("default version not applied: %v", first.Attrs)
	}
}
