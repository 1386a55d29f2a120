package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kaifeng/apkmorph/internal/i18n"
	"github.com/kaifeng/apkmorph/pkg/models"
	"github.com/kaifeng/apkmorph/pkg/policy"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "Show what each conversion mode patches into the package",
	RunE:  runModes,
}

func init() {
	rootCmd.AddCommand(modesCmd)
}

var modeDescriptions = map[models.Mode]string{
	models.ModeDebug:    "debuggable build with cleartext networking and a permissive network security config",
	models.ModeSandbox:  "test-only build with billing emulation and license override hooks",
	models.ModeCombined: "union of debug and sandbox patches in a single build",
}

func runModes(cmd *cobra.Command, args []string) error {
	fmt.Println(i18n.T("modes.header"))
	fmt.Println()

	for _, mode := range models.AllModes() {
		ps := policy.ForMode(mode)

		color.Cyan("%s", mode)
		fmt.Printf("  %s\n", modeDescriptions[mode])

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "  permissions\t%d added\n", len(ps.Permissions))
		fmt.Fprintf(w, "  app attributes\t%s\n", formatAttrs(ps.AppAttributes))
		fmt.Fprintf(w, "  services\t%s\n", componentNames(ps.Services))
		fmt.Fprintf(w, "  receivers\t%s\n", componentNames(ps.Receivers))
		fmt.Fprintf(w, "  resource flags\t%d injected\n", len(ps.ResourceFlags))
		w.Flush()
		fmt.Println()
	}
	return nil
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%s", k, attrs[k])
	}
	return out
}

func componentNames(decls []policy.ComponentDecl) string {
	if len(decls) == 0 {
		return "none"
	}
	out := ""
	for i, decl := range decls {
		if i > 0 {
			out += ", "
		}
		out += decl.Name
	}
	return out
}
