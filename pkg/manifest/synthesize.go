package manifest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/policy"
)

// Synthesize builds a minimal but installable manifest used when the
// source package ships a compiled manifest the parser cannot decode.
// hint carries whatever the binary probe recovered; missing fields get
// generated values. The returned document already carries the mode's
// base patch set.
func Synthesize(mode models.Mode, hint BinaryInfo) *Document {
	pkg := hint.Package
	if pkg == "" {
		pkg = generatedPackageName()
	}
	versionName := hint.VersionName
	if versionName == "" {
		versionName = "1.0"
	}
	versionCode := hint.VersionCode
	if versionCode == 0 {
		versionCode = 1
	}

	doc := &Document{
		Attrs: map[string]string{
			"xmlns:android":       AndroidNS,
			"package":             pkg,
			"android:versionCode": fmt.Sprintf("%d", versionCode),
			"android:versionName": versionName,
		},
		Application: &Application{
			Attrs: map[string]string{
				"android:label": pkg,
			},
		},
		Synthesized: true,
	}

	usesSDK := NewNode("uses-sdk")
	usesSDK.SetAttr("android:minSdkVersion", "21")
	usesSDK.SetAttr("android:targetSdkVersion", "33")
	doc.Other = append(doc.Other, usesSDK)

	doc.Application.Other = append(doc.Application.Other, launcherActivity())

	doc.ApplyPolicy(policy.ForMode(mode))
	return doc
}

// launcherActivity declares the single entry-point activity that keeps
// the synthesized package launchable.
func launcherActivity() *Node {
	activity := NewNode("activity")
	activity.SetAttr("android:name", ".MainActivity")
	activity.SetAttr("android:exported", "true")

	filter := NewNode("intent-filter")
	action := NewNode("action")
	action.SetAttr("android:name", "android.intent.action.MAIN")
	category := NewNode("category")
	category.SetAttr("android:name", "android.intent.category.LAUNCHER")
	filter.Children = append(filter.Children, action, category)

	activity.Children = append(activity.Children, filter)
	return activity
}

func generatedPackageName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "com.apkmorph.generated.app" + suffix
}
