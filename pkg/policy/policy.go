// Package policy defines the table-driven mapping from a conversion mode
// to the concrete permissions, application attributes, components and
// resource flags injected into the package. The tables are data; the
// document packages apply them.
package policy

import "github.com/kaifeng/apkmorph/pkg/models"

// ComponentDecl declares a service or receiver to inject into the
// application element.
type ComponentDecl struct {
	Name       string
	Exported   bool
	Permission string
}

// MetaDataEntry is a name/value pair injected as an application meta-data
// child.
type MetaDataEntry struct {
	Name  string
	Value string
}

// ResourceFlag is a typed resource value appended to the package's value
// resources.
type ResourceFlag struct {
	Name  string
	Type  string // "bool" or "string"
	Value string
}

// PatchSet is everything a mode injects.
type PatchSet struct {
	Permissions   []string
	AppAttributes map[string]string
	MetaData      []MetaDataEntry
	Services      []ComponentDecl
	Receivers     []ComponentDecl
	ResourceFlags []ResourceFlag
}

// Base debug capabilities shared by every mode.
var debugPermissions = []string{
	"android.permission.INTERNET",
	"android.permission.ACCESS_NETWORK_STATE",
	"android.permission.ACCESS_WIFI_STATE",
	"android.permission.READ_EXTERNAL_STORAGE",
	"android.permission.WRITE_EXTERNAL_STORAGE",
	"android.permission.WAKE_LOCK",
	"android.permission.DUMP",
}

// Sandbox adds the billing/licensing bypass surface plus the privileged
// binding permissions exercised by security testing harnesses.
var sandboxOnlyPermissions = []string{
	"com.android.vending.BILLING",
	"com.android.vending.CHECK_LICENSE",
	"android.permission.QUERY_ALL_PACKAGES",
	"android.permission.SYSTEM_ALERT_WINDOW",
	"android.permission.FOREGROUND_SERVICE",
	"android.permission.RECEIVE_BOOT_COMPLETED",
	"android.permission.BIND_ACCESSIBILITY_SERVICE",
	"android.permission.BIND_VPN_SERVICE",
	"android.permission.BIND_DEVICE_ADMIN",
}

var baseAppAttributes = map[string]string{
	"android:debuggable":            "true",
	"android:allowBackup":           "true",
	"android:usesCleartextTraffic":  "true",
	"android:networkSecurityConfig": "@xml/network_security_config",
}

var sandboxServices = []ComponentDecl{
	{Name: "com.apkmorph.runtime.SandboxProxyService", Exported: false},
	{Name: "com.apkmorph.runtime.LicenseOverrideService", Exported: false,
		Permission: "com.android.vending.CHECK_LICENSE"},
}

var sandboxReceivers = []ComponentDecl{
	{Name: "com.apkmorph.runtime.BillingStatusReceiver", Exported: false},
}

// ForMode returns the patch set for the given mode. The returned value is
// a fresh copy; callers may mutate it freely.
func ForMode(mode models.Mode) PatchSet {
	ps := PatchSet{
		Permissions:   append([]string(nil), debugPermissions...),
		AppAttributes: copyMap(baseAppAttributes),
		MetaData: []MetaDataEntry{
			{Name: "apkmorph.patched", Value: "true"},
			{Name: "apkmorph.mode", Value: mode.String()},
		},
		ResourceFlags: []ResourceFlag{
			{Name: "apkmorph_premium_unlocked", Type: "bool", Value: "true"},
			{Name: "apkmorph_mode", Type: "string", Value: mode.String()},
		},
	}

	switch mode {
	case models.ModeDebug:
		ps.ResourceFlags = append(ps.ResourceFlags,
			ResourceFlag{Name: "apkmorph_debug_overlay", Type: "bool", Value: "true"})
	case models.ModeSandbox, models.ModeCombined:
		ps.Permissions = append(ps.Permissions, sandboxOnlyPermissions...)
		ps.AppAttributes["android:testOnly"] = "true"
		ps.MetaData = append(ps.MetaData,
			MetaDataEntry{Name: "apkmorph.billing.emulated", Value: "true"})
		ps.Services = append(ps.Services, sandboxServices...)
		ps.Receivers = append(ps.Receivers, sandboxReceivers...)
		ps.ResourceFlags = append(ps.ResourceFlags,
			ResourceFlag{Name: "apkmorph_license_bypass", Type: "bool", Value: "true"})
	}

	if mode == models.ModeCombined {
		ps.ResourceFlags = append(ps.ResourceFlags,
			ResourceFlag{Name: "apkmorph_debug_overlay", Type: "bool", Value: "true"})
	}

	return ps
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
