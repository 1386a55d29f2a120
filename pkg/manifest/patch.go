package manifest

import "github.com/kaifeng/apkmorph/pkg/policy"

// ApplyPolicy injects the mode's patch set into the document. Permission
// injection is a set-union keyed on name, application attributes are
// overwritten, and components/meta-data are appended only when no
// declaration with the same name exists yet. Nothing pre-existing is
// ever removed, so applying the same patch set twice is a no-op.
func (d *Document) ApplyPolicy(ps policy.PatchSet) {
	if d.Application == nil {
		d.Application = &Application{Attrs: make(map[string]string)}
	}
	if d.Application.Attrs == nil {
		d.Application.Attrs = make(map[string]string)
	}

	for _, name := range ps.Permissions {
		name = normalizeName(name)
		if name == "" || d.HasPermission(name) {
			continue
		}
		d.Permissions = append(d.Permissions, Permission{Name: name})
	}

	for key, value := range ps.AppAttributes {
		d.Application.Attrs[key] = value
	}

	for _, md := range ps.MetaData {
		if d.hasMetaData(md.Name) {
			continue
		}
		d.Application.MetaData = append(d.Application.MetaData, MetaData{
			Name:  md.Name,
			Value: md.Value,
		})
	}

	for _, decl := range ps.Services {
		if hasComponent(d.Application.Services, decl.Name) {
			continue
		}
		d.Application.Services = append(d.Application.Services, buildComponent(decl))
	}
	for _, decl := range ps.Receivers {
		if hasComponent(d.Application.Receivers, decl.Name) {
			continue
		}
		d.Application.Receivers = append(d.Application.Receivers, buildComponent(decl))
	}
}

func (d *Document) hasMetaData(name string) bool {
	for _, md := range d.Application.MetaData {
		if md.Name == name {
			return true
		}
	}
	return false
}

func hasComponent(components []*Component, name string) bool {
	for _, c := range components {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func buildComponent(decl policy.ComponentDecl) *Component {
	c := &Component{Attrs: make(map[string]string)}
	c.Attrs["android:name"] = decl.Name
	if decl.Exported {
		c.Attrs["android:exported"] = "true"
	} else {
		c.Attrs["android:exported"] = "false"
	}
	if decl.Permission != "" {
		c.Attrs["android:permission"] = decl.Permission
	}
	return c
}
