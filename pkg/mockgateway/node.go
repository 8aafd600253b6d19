package mockgateway

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is an ordered XML element. Request bodies interleave object types
// (<create><a/><b/><a/></create>), so sibling order must survive parsing.
type node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*node
}

func parseNode(doc []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, attrs: map[string]string{}}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) childText(name string) string {
	c := n.child(name)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.text)
}

// value converts an element to a record field value: text for leaves, a map
// for nested elements, a list for repeated children.
func (n *node) value() any {
	if len(n.children) == 0 {
		return strings.TrimSpace(n.text)
	}
	m := map[string]any{}
	for _, c := range n.children {
		v := c.value()
		switch prev := m[c.name].(type) {
		case nil:
			m[c.name] = v
		case []any:
			m[c.name] = append(prev, v)
		default:
			m[c.name] = []any{prev, v}
		}
	}
	return m
}
