// Package resources implements the value-resource table the pipeline
// patches alongside the manifest. Bool and string entries are lifted
// into typed values; every other resource kind is carried through
// serialization verbatim so pre-existing entries survive the rewrite.
// The contract is parse-or-default: a missing or unparseable resource
// file is replaced by an empty document and patched as if it had
// existed.
package resources

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/kaifeng/apkmorph/pkg/policy"
)

// EntryPath is the conventional location of the textual value resources
// inside an unpacked tree.
const EntryPath = "res/values/values.xml"

// NetworkSecurityConfigPath is where the permissive network security
// config referenced from the patched application element is installed.
const NetworkSecurityConfigPath = "res/xml/network_security_config.xml"

// NetworkSecurityConfigXML trusts user-added certificates in every
// configuration, which is what makes traffic inspection possible on a
// converted build.
const NetworkSecurityConfigXML = `<?xml version="1.0" encoding="utf-8"?>
<network-security-config>
  <base-config cleartextTrafficPermitted="true">
    <trust-anchors>
      <certificates src="system" />
      <certificates src="user" />
    </trust-anchors>
  </base-config>
  <debug-overrides>
    <trust-anchors>
      <certificates src="system" />
      <certificates src="user" />
    </trust-anchors>
  </debug-overrides>
</network-security-config>
`

// Value is one named resource entry. Bool and string entries carry
// their parsed value; other kinds keep their original markup and are
// written back as-is.
type Value struct {
	Type  string // element name: "bool", "string", "color", ...
	Name  string
	Value string

	raw string // verbatim markup for kinds outside the typed table
}

// Document is the mutable resource table. Entry order is preserved for
// pre-existing values; injected values append.
type Document struct {
	Values []Value
}

// Parse reads a textual values file. nil input or malformed markup yields
// an empty default document and defaulted=true; that is not an error.
func Parse(markup []byte) (doc *Document, defaulted bool) {
	doc = &Document{}
	if len(markup) == 0 || bytes.IndexByte(markup, 0) >= 0 {
		return doc, true
	}

	type xmlValue struct {
		XMLName xml.Name
		Attrs   []xml.Attr `xml:",any,attr"`
		Value   string     `xml:",chardata"`
		Inner   string     `xml:",innerxml"`
	}
	type xmlResources struct {
		XMLName xml.Name   `xml:"resources"`
		Values  []xmlValue `xml:",any"`
	}

	var parsed xmlResources
	if err := xml.Unmarshal(markup, &parsed); err != nil {
		return &Document{}, true
	}

	for _, v := range parsed.Values {
		entry := Value{
			Type:  v.XMLName.Local,
			Name:  attrValue(v.Attrs, "name"),
			Value: v.Value,
		}
		switch v.XMLName.Local {
		case "bool", "string":
		default:
			// Other resource kinds (dimens, colors, styles) are opaque
			// to the patcher but must ship unchanged.
			entry.raw = rawElement(v.XMLName.Local, v.Attrs, v.Inner)
		}
		doc.Values = append(doc.Values, entry)
	}
	return doc, false
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// rawElement reassembles an entry the typed table does not model so it
// can be written back verbatim.
func rawElement(local string, attrs []xml.Attr, inner string) string {
	var buf bytes.Buffer
	buf.WriteByte('<')
	buf.WriteString(local)
	for _, a := range attrs {
		fmt.Fprintf(&buf, ` %s="%s"`, a.Name.Local, escape(a.Value))
	}
	buf.WriteByte('>')
	buf.WriteString(inner)
	buf.WriteString("</" + local + ">")
	return buf.String()
}

// Has reports whether a value with the given name exists.
func (d *Document) Has(name string) bool {
	for _, v := range d.Values {
		if v.Name == name {
			return true
		}
	}
	return false
}

// Get returns the named value.
func (d *Document) Get(name string) (Value, bool) {
	for _, v := range d.Values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// ApplyPolicy appends the mode's resource flags. Injected keys that are
// already present are left alone, so patching twice is a no-op, and
// pre-existing third-party resource names are never touched.
func (d *Document) ApplyPolicy(ps policy.PatchSet) {
	for _, flag := range ps.ResourceFlags {
		if d.Has(flag.Name) {
			continue
		}
		d.Values = append(d.Values, Value{Type: flag.Type, Name: flag.Name, Value: flag.Value})
	}
}

// Serialize renders the table back to a values file. Bools come before
// strings, then every other kind verbatim; within a group, document
// order is kept.
func (d *Document) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString("<resources>\n")

	ordered := make([]Value, len(d.Values))
	copy(ordered, d.Values)
	sort.SliceStable(ordered, func(i, j int) bool {
		return typeRank(ordered[i].Type) < typeRank(ordered[j].Type)
	})

	for _, v := range ordered {
		if v.raw != "" {
			buf.WriteString("  " + v.raw + "\n")
			continue
		}
		buf.WriteString(fmt.Sprintf("  <%s name=\"%s\">%s</%s>\n",
			v.Type, escape(v.Name), escape(v.Value), v.Type))
	}
	buf.WriteString("</resources>\n")
	return buf.Bytes()
}

func typeRank(t string) int {
	switch t {
	case "bool":
		return 0
	case "string":
		return 1
	}
	return 2
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
