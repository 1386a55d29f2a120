package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/kaifeng/apkmorph/pkg/models"
)

// Overlay is an optional operator-supplied extension to the built-in
// patch tables, loaded from a TOML file. Overlays can only add entries;
// the built-in sets are never reduced.
type Overlay struct {
	Modes map[string]OverlayMode `toml:"modes"`
}

// OverlayMode holds the additions for one mode.
type OverlayMode struct {
	Permissions   []string          `toml:"permissions"`
	AppAttributes map[string]string `toml:"app_attributes"`
	MetaData      map[string]string `toml:"meta_data"`
	BoolFlags     map[string]bool   `toml:"bool_flags"`
	StringFlags   map[string]string `toml:"string_flags"`
}

// LoadOverlay reads an overlay file. A missing path yields an empty
// overlay, not an error.
func LoadOverlay(path string) (*Overlay, error) {
	if path == "" {
		return &Overlay{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overlay{}, nil
		}
		return nil, fmt.Errorf("read policy overlay: %w", err)
	}

	var ov Overlay
	if err := toml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse policy overlay: %w", err)
	}
	return &ov, nil
}

// Apply merges the overlay's additions for the given mode into ps.
func (ov *Overlay) Apply(mode models.Mode, ps PatchSet) PatchSet {
	if ov == nil || ov.Modes == nil {
		return ps
	}
	om, ok := ov.Modes[mode.String()]
	if !ok {
		return ps
	}

	ps.Permissions = append(ps.Permissions, om.Permissions...)
	for k, v := range om.AppAttributes {
		ps.AppAttributes[k] = v
	}
	for k, v := range om.MetaData {
		ps.MetaData = append(ps.MetaData, MetaDataEntry{Name: k, Value: v})
	}
	for k, v := range om.BoolFlags {
		val := "false"
		if v {
			val = "true"
		}
		ps.ResourceFlags = append(ps.ResourceFlags, ResourceFlag{Name: k, Type: "bool", Value: val})
	}
	for k, v := range om.StringFlags {
		ps.ResourceFlags = append(ps.ResourceFlags, ResourceFlag{Name: k, Type: "string", Value: v})
	}
	return ps
}
