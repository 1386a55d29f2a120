package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// AndroidNS is the namespace URI behind the conventional android: prefix.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// Node is a generic element subtree. Parts of the manifest the pipeline
// never patches (activities, providers, queries, uses-sdk and so on) are
// carried through as nodes so nothing is dropped on round-trip.
type Node struct {
	Name     string
	Attrs    map[string]string
	Children []*Node
	Text     string
}

// NewNode creates a node with an initialized attribute map.
func NewNode(name string) *Node {
	return &Node{Name: name, Attrs: make(map[string]string)}
}

// Attr returns the attribute value, or "" when absent.
func (n *Node) Attr(name string) string {
	return n.Attrs[name]
}

// SetAttr sets an attribute value.
func (n *Node) SetAttr(name, value string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[name] = value
}

// attrName flattens a resolved xml.Name back into its prefixed textual
// form. encoding/xml resolves prefixes to namespace URIs while decoding;
// serialization wants the conventional android: prefix back.
func attrName(name xml.Name) string {
	switch name.Space {
	case "":
		return name.Local
	case "xmlns":
		return "xmlns:" + name.Local
	case AndroidNS:
		return "android:" + name.Local
	default:
		return name.Space + ":" + name.Local
	}
}

// parseNode consumes tokens for one element (whose StartElement has
// already been read) and returns the generic subtree.
func parseNode(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	node := NewNode(start.Name.Local)
	for _, attr := range start.Attr {
		node.Attrs[attrName(attr.Name)] = attr.Value
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("unexpected end of document inside <%s>", node.Name)
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseNode(dec, t)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" {
				node.Text += text
			}
		case xml.EndElement:
			return node, nil
		}
	}
}

// writeNode serializes a subtree with two-space indentation per depth.
func writeNode(buf *bytes.Buffer, node *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	buf.WriteString(indent)
	buf.WriteString("<")
	buf.WriteString(node.Name)
	writeAttrs(buf, node.Attrs)

	if len(node.Children) == 0 && node.Text == "" {
		buf.WriteString(" />\n")
		return
	}

	buf.WriteString(">")
	if node.Text != "" {
		buf.WriteString(escapeXML(node.Text))
	}
	if len(node.Children) > 0 {
		buf.WriteString("\n")
		for _, child := range node.Children {
			writeNode(buf, child, depth+1)
		}
		buf.WriteString(indent)
	}
	buf.WriteString("</")
	buf.WriteString(node.Name)
	buf.WriteString(">\n")
}

// writeAttrs emits attributes in a stable order: xmlns declarations,
// package, android:name, then the rest lexically.
func writeAttrs(buf *bytes.Buffer, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := attrRank(keys[i]), attrRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf(" %s=\"%s\"", k, escapeXML(attrs[k])))
	}
}

func attrRank(name string) int {
	switch {
	case strings.HasPrefix(name, "xmlns:"):
		return 0
	case name == "package":
		return 1
	case name == "android:name":
		return 2
	default:
		return 3
	}
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
