package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/pkg/apk"
	"github.com/kaifeng/apkmorph/pkg/archive"
	"github.com/kaifeng/apkmorph/pkg/manifest"
)

var (
	inspectYAML bool
	inspectIcon string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <apk-file>",
	Short: "Validate an APK and print its structural report",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectYAML, "yaml", false, "emit the report as YAML")
	inspectCmd.Flags().StringVar(&inspectIcon, "icon", "", "write the launcher icon PNG to this path")
	rootCmd.AddCommand(inspectCmd)
}

type inspectReport struct {
	File           string   `yaml:"file"`
	EntryCount     int      `yaml:"entry_count"`
	SizeBytes      int64    `yaml:"size_bytes"`
	HasManifest    bool     `yaml:"has_manifest"`
	BinaryManifest bool     `yaml:"binary_manifest"`
	PackageID      string   `yaml:"package_id,omitempty"`
	VersionName    string   `yaml:"version_name,omitempty"`
	HasCode        bool     `yaml:"has_code"`
	HasSignature   bool     `yaml:"has_signature"`
	Permissions    []string `yaml:"permissions,omitempty"`
	Warnings       []string `yaml:"warnings,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	apkPath := args[0]
	data, err := os.ReadFile(apkPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", apkPath, err)
	}

	entries, err := archive.Unpack(data)
	if err != nil {
		return err
	}
	report, err := apk.NewValidator().Validate(data, entries)
	if err != nil {
		return err
	}

	out := inspectReport{
		File:         filepath.Base(apkPath),
		EntryCount:   report.EntryCount,
		SizeBytes:    report.SizeBytes,
		HasManifest:  report.HasManifest,
		HasCode:      report.HasCode,
		HasSignature: report.HasMetaInf,
		Warnings:     report.Warnings,
	}

	if entry, ok := archive.Find(entries, manifest.EntryPath); ok {
		if manifest.IsBinary(entry.Data) {
			out.BinaryManifest = true
			if info, probed := manifest.ProbeBinary(entry.Data); probed {
				out.PackageID = info.Package
				out.VersionName = info.VersionName
			}
		} else if parsed, err := manifest.Parse(entry.Data); err == nil && parsed.Doc != nil {
			out.PackageID = parsed.Doc.PackageName()
			out.Permissions = parsed.Doc.PermissionNames()
		}
	}

	if inspectIcon != "" {
		icon, err := apk.NewIconExtractor().ExtractIcon(entries)
		if err != nil {
			color.Yellow("icon extraction failed: %v", err)
		} else if err := os.WriteFile(inspectIcon, icon, 0644); err != nil {
			return err
		}
	}

	if inspectYAML {
		encoded, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(encoded))
		return nil
	}

	fmt.Println(i18n.T("inspect.report", map[string]interface{}{"File": out.File}))
	fmt.Println(i18n.T("inspect.entries", map[string]interface{}{"Count": out.EntryCount}))
	fmt.Printf("Size: %d bytes\n", out.SizeBytes)
	if out.BinaryManifest {
		fmt.Println(i18n.T("inspect.manifest_binary"))
	} else if out.HasManifest {
		fmt.Println(i18n.T("inspect.manifest_ok"))
	}
	if out.PackageID != "" {
		fmt.Printf("Package: %s\n", out.PackageID)
	}
	if out.VersionName != "" {
		fmt.Printf("Version: %s\n", out.VersionName)
	}
	if len(out.Permissions) > 0 {
		fmt.Printf("Permissions: %d declared\n", len(out.Permissions))
	}
	for _, warning := range out.Warnings {
		color.Yellow("warning: %s", warning)
	}
	return nil
}
