package resources

import (
	"strings"
	"testing"

	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/policy"
)

const sampleValues = `<?xml version="1.0" encoding="utf-8"?>
<resources>
    <string name="app_name">Example</string>
    <bool name="feature_x_enabled">false</bool>
    <color name="accent">#ff0000</color>
    <dimen name="padding">8dp</dimen>
</resources>
`

func TestParseKeepsAllEntries(t *testing.T) {
	doc, defaulted := Parse([]byte(sampleValues))
	if defaulted {
		t.Fatalf("well-formed input reported as defaulted")
	}
	if len(doc.Values) != 4 {
		t.Fatalf("expected 4 values, got %d: %+v", len(doc.Values), doc.Values)
	}
	if v, ok := doc.Get("app_name"); !ok || v.Type != "string" || v.Value != "Example" {
		t.Fatalf("app_name = %+v, ok=%v", v, ok)
	}
	if v, ok := doc.Get("feature_x_enabled"); !ok || v.Type != "bool" || v.Value != "false" {
		t.Fatalf("feature_x_enabled = %+v, ok=%v", v, ok)
	}
	if v, ok := doc.Get("accent"); !ok || v.Type != "color" || v.Value != "#ff0000" {
		t.Fatalf("accent = %+v, ok=%v", v, ok)
	}
}

func TestSerializePreservesOtherKinds(t *testing.T) {
	doc, _ := Parse([]byte(sampleValues))
	doc.ApplyPolicy(policy.ForMode(models.ModeDebug))

	out := string(doc.Serialize())
	for _, want := range []string{
		`<color name="accent">#ff0000</color>`,
		`<dimen name="padding">8dp</dimen>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("pre-existing entry lost in rewrite, missing %q:\n%s", want, out)
		}
	}
}

func TestSerializePreservesNestedEntries(t *testing.T) {
	markup := `<?xml version="1.0" encoding="utf-8"?>
<resources>
    <style name="AppTheme" parent="Theme.Material">
        <item name="colorPrimary">@color/accent</item>
    </style>
</resources>
`
	doc, defaulted := Parse([]byte(markup))
	if defaulted {
		t.Fatalf("style entry should parse")
	}
	doc.ApplyPolicy(policy.ForMode(models.ModeSandbox))

	out := string(doc.Serialize())
	for _, want := range []string{
		`<style name="AppTheme" parent="Theme.Material">`,
		`<item name="colorPrimary">@color/accent</item>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("nested entry lost, missing %q:\n%s", want, out)
		}
	}
}

func TestParseDefaultsOnBadInput(t *testing.T) {
	for _, markup := range [][]byte{
		nil,
		{},
		{0x02, 0x00, 0x0c, 0x00}, // compiled resource table
		[]byte("<resources><string name='x'>"),
	} {
		doc, defaulted := Parse(markup)
		if !defaulted {
			t.Fatalf("input %q should default", markup)
		}
		if doc == nil || len(doc.Values) != 0 {
			t.Fatalf("default document must be empty, got %+v", doc)
		}
	}
}

func TestApplyPolicyAppendsMissingOnly(t *testing.T) {
	doc, _ := Parse([]byte(sampleValues))
	ps := policy.ForMode(models.ModeSandbox)
	doc.ApplyPolicy(ps)

	if !doc.Has("apkmorph_premium_unlocked") || !doc.Has("apkmorph_license_bypass") {
		t.Fatalf("injected flags missing: %+v", doc.Values)
	}
	if v, _ := doc.Get("apkmorph_mode"); v.Value != "sandbox" {
		t.Fatalf("apkmorph_mode = %q", v.Value)
	}
	// Pre-existing app values are untouched.
	if v, _ := doc.Get("feature_x_enabled"); v.Value != "false" {
		t.Fatalf("pre-existing value changed: %+v", v)
	}

	count := len(doc.Values)
	doc.ApplyPolicy(ps)
	if len(doc.Values) != count {
		t.Fatalf("second apply changed the table: %d -> %d", count, len(doc.Values))
	}
}

func TestApplyPolicyRespectsExistingName(t *testing.T) {
	doc := &Document{Values: []Value{
		{Type: "bool", Name: "apkmorph_premium_unlocked", Value: "false"},
	}}
	doc.ApplyPolicy(policy.ForMode(models.ModeDebug))

	if v, _ := doc.Get("apkmorph_premium_unlocked"); v.Value != "false" {
		t.Fatalf("existing value was overwritten: %+v", v)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	doc, _ := Parse([]byte(sampleValues))
	doc.ApplyPolicy(policy.ForMode(models.ModeDebug))

	out := doc.Serialize()
	reparsed, defaulted := Parse(out)
	if defaulted {
		t.Fatalf("serialized output did not reparse:\n%s", out)
	}
	for _, v := range doc.Values {
		got, ok := reparsed.Get(v.Name)
		if !ok || got.Value != v.Value || got.Type != v.Type {
			t.Fatalf("value %s lost in round trip: got %+v ok=%v", v.Name, got, ok)
		}
	}

	// Bools are grouped before strings.
	text := string(out)
	if strings.Index(text, "<bool") > strings.Index(text, "<string") {
		t.Fatalf("bool values not grouped first:\n%s", text)
	}
}

func TestSerializeEscapesValues(t *testing.T) {
	doc := &Document{Values: []Value{
		{Type: "string", Name: "greeting", Value: "a < b & c"},
	}}
	out := string(doc.Serialize())
	if strings.Contains(out, "a < b") {
		t.Fatalf("value not escaped:\n%s", out)
	}
	reparsed, _ := Parse([]byte(out))
	if v, _ := reparsed.Get("greeting"); v.Value != "a < b & c" {
		t.Fatalf("escaped value did not round trip: %q", v.Value)
	}
}

func TestNetworkSecurityConfigShape(t *testing.T) {
	for _, want := range []string{
		`cleartextTrafficPermitted="true"`,
		`src="user"`,
		`src="system"`,
		"<debug-overrides>",
	} {
		if !strings.Contains(NetworkSecurityConfigXML, want) {
			t.Fatalf("network security config missing %q", want)
		}
	}
}
