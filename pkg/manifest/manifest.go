// Package manifest implements the mutable AndroidManifest.xml document
// used by the conversion pipeline: parse from textual markup, synthesize
// a minimal installable fallback when the source ships a compiled binary
// manifest, apply a mode's patch set, and serialize back to markup.
package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	apperrors "github.com/kaifeng/apkmorph/internal/errors"
)

// EntryPath is the conventional location of the manifest inside an APK.
const EntryPath = "AndroidManifest.xml"

// Permission is one uses-permission declaration. Extra attributes such as
// android:maxSdkVersion are preserved untouched.
type Permission struct {
	Name  string
	Extra map[string]string
}

// MetaData is one application meta-data child.
type MetaData struct {
	Name  string
	Value string
}

// Component is a service or receiver declaration inside the application
// element. Children (intent filters and the like) are preserved as
// generic nodes.
type Component struct {
	Attrs    map[string]string
	Children []*Node
}

// Name returns the component's android:name, or "".
func (c *Component) Name() string {
	return c.Attrs["android:name"]
}

// Application is the manifest's application element with the collections
// the pipeline patches lifted into typed fields. Everything else under
// application (activities, providers, uses-library) rides along in Other.
type Application struct {
	Attrs     map[string]string
	Services  []*Component
	Receivers []*Component
	MetaData  []MetaData
	Other     []*Node
}

// Document is the structured manifest. Top-level children the pipeline
// does not patch (uses-sdk, queries, uses-feature) are preserved in
// Other in document order.
type Document struct {
	Attrs       map[string]string
	Permissions []Permission
	Application *Application
	Other       []*Node
	Synthesized bool
}

// ParseResult distinguishes a successfully parsed manifest from a
// detected compiled/binary one. BinaryDetected is not an error: it is
// the signal to fall back to synthesis.
type ParseResult struct {
	Doc            *Document
	BinaryDetected bool
}

// PackageName returns the manifest's package attribute.
func (d *Document) PackageName() string {
	return d.Attrs["package"]
}

// HasPermission reports whether a uses-permission with the given name is
// declared.
func (d *Document) HasPermission(name string) bool {
	for _, p := range d.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// PermissionNames returns every declared permission name in order.
func (d *Document) PermissionNames() []string {
	names := make([]string, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// IsBinary applies the compiled-manifest heuristic: a NUL byte anywhere,
// or no XML prolog at the start of the document.
func IsBinary(markup []byte) bool {
	if bytes.IndexByte(markup, 0) >= 0 {
		return true
	}
	trimmed := bytes.TrimLeft(markup, " \t\r\n\xef\xbb\xbf")
	return !bytes.HasPrefix(trimmed, []byte("<?xml"))
}

// Parse reads textual manifest markup into a Document. A compiled/binary
// manifest yields BinaryDetected instead of an error.
func Parse(markup []byte) (ParseResult, error) {
	if IsBinary(markup) {
		return ParseResult{BinaryDetected: true}, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(markup))
	var root *Node
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if start, ok := tok.(xml.StartElement); ok {
			node, err := parseNode(dec, start)
			if err != nil {
				return ParseResult{}, apperrors.WrapError(err, apperrors.ErrorTypeManifest,
					"MANIFEST_PARSE", "malformed manifest markup")
			}
			root = node
			break
		}
	}
	if root == nil || root.Name != "manifest" {
		return ParseResult{}, apperrors.NewManifestError("MANIFEST_PARSE",
			"document has no <manifest> root element")
	}

	doc := &Document{Attrs: root.Attrs}
	for _, child := range root.Children {
		switch child.Name {
		case "uses-permission":
			doc.Permissions = append(doc.Permissions, liftPermission(child))
		case "application":
			doc.Application = liftApplication(child)
		default:
			doc.Other = append(doc.Other, child)
		}
	}
	if doc.Application == nil {
		doc.Application = &Application{Attrs: make(map[string]string)}
	}
	return ParseResult{Doc: doc}, nil
}

func liftPermission(node *Node) Permission {
	perm := Permission{Name: node.Attr("android:name")}
	for k, v := range node.Attrs {
		if k != "android:name" {
			if perm.Extra == nil {
				perm.Extra = make(map[string]string)
			}
			perm.Extra[k] = v
		}
	}
	return perm
}

func liftApplication(node *Node) *Application {
	app := &Application{Attrs: node.Attrs}
	for _, child := range node.Children {
		switch child.Name {
		case "service":
			app.Services = append(app.Services, &Component{Attrs: child.Attrs, Children: child.Children})
		case "receiver":
			app.Receivers = append(app.Receivers, &Component{Attrs: child.Attrs, Children: child.Children})
		case "meta-data":
			app.MetaData = append(app.MetaData, MetaData{
				Name:  child.Attr("android:name"),
				Value: child.Attr("android:value"),
			})
		default:
			app.Other = append(app.Other, child)
		}
	}
	return app
}

// Serialize renders the document back to textual markup. Element order
// is normalized (permissions, preserved nodes, application) which is
// fine for installability; byte-identical round-trips are a non-goal.
func (d *Document) Serialize() []byte {
	if d.Attrs == nil {
		d.Attrs = make(map[string]string)
	}
	if _, ok := d.Attrs["xmlns:android"]; !ok {
		d.Attrs["xmlns:android"] = AndroidNS
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	buf.WriteString("<manifest")
	writeAttrs(&buf, d.Attrs)
	buf.WriteString(">\n")

	for _, perm := range d.Permissions {
		node := NewNode("uses-permission")
		node.SetAttr("android:name", perm.Name)
		for k, v := range perm.Extra {
			node.SetAttr(k, v)
		}
		writeNode(&buf, node, 1)
	}

	for _, other := range d.Other {
		writeNode(&buf, other, 1)
	}

	if d.Application != nil {
		writeNode(&buf, d.applicationNode(), 1)
	}

	buf.WriteString("</manifest>\n")
	return buf.Bytes()
}

func (d *Document) applicationNode() *Node {
	app := d.Application
	node := &Node{Name: "application", Attrs: app.Attrs}
	for _, other := range app.Other {
		node.Children = append(node.Children, other)
	}
	for _, md := range app.MetaData {
		child := NewNode("meta-data")
		child.SetAttr("android:name", md.Name)
		child.SetAttr("android:value", md.Value)
		node.Children = append(node.Children, child)
	}
	for _, svc := range app.Services {
		node.Children = append(node.Children, &Node{Name: "service", Attrs: svc.Attrs, Children: svc.Children})
	}
	for _, rcv := range app.Receivers {
		node.Children = append(node.Children, &Node{Name: "receiver", Attrs: rcv.Attrs, Children: rcv.Children})
	}
	return node
}

// Summary returns a short human-readable description for logs.
func (d *Document) Summary() string {
	kind := "parsed"
	if d.Synthesized {
		kind = "synthesized"
	}
	return fmt.Sprintf("%s manifest: package=%s permissions=%d services=%d receivers=%d",
		kind, d.PackageName(), len(d.Permissions),
		len(d.Application.Services), len(d.Application.Receivers))
}

// normalizeName trims whitespace from injected names so table entries and
// overlay values compare cleanly.
func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
