package ui

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// node is a generic element tree. The declarative format is open-ended,
// so elements are matched by name instead of decoded into fixed structs.
type node struct {
	name     string
	attrs    map[string]string // lower-cased keys
	children []*node
	text     strings.Builder
	line     int
}

func parseTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)

	root := &node{name: "#document", attrs: map[string]string{}}
	stack := []*node{root}
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
			line, _ := dec.InputPos()
			n := &node{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr)), line: line}
			for _, a := range t.Attr {
				n.attrs[strings.ToLower(a.Name.Local)] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}
	return root, nil
}

func (n *node) is(names ...string) bool {
	for _, name := range names {
		if strings.EqualFold(n.name, name) {
			return true
		}
	}
	return false
}

func (n *node) attr(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := n.attrs[strings.ToLower(name)]; ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// find returns the first descendant matching one of names without
// descending into nested frames, which own their own declarations.
func (n *node) find(names ...string) *node {
	for _, c := range n.children {
		if c.is(names...) {
			return c
		}
		if c.is(frameElements...) {
			continue
		}
		if found := c.find(names...); found != nil {
			return found
		}
	}
	return nil
}
