// Package ui turns declarative UI files into frames.
//
// A UI file is an XML tree. Every Frame (or Button) element becomes a frame
// owned by the loading addon:
//
//	<Ui>
//	  <Frame name="MyPanel" width="200" height="120">
//	    <Anchor point="CENTER" x="0" y="-40"/>
//	    <Backdrop file="textures/panel.png" edgeSize="8" tile="true"/>
//	    <Text value="Hello"/>
//	    <Frame name="$parentClose" width="16" height="16">
//	      <Anchor point="TOPRIGHT" relativeTo="$parent"/>
//	    </Frame>
//	  </Frame>
//	</Ui>
//
// Errors in one element are reported and skip that element only.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/frame"
)

var (
	frameElements  = []string{"Frame", "Button"}
	textElements   = []string{"Text", "FontString", "Label"}
	anchorElements = []string{"Anchor"}
)

// Binder exposes declared frame names to the addon's scripts.
type Binder interface {
	ExposeFrame(name string, id frame.ID) error
}

// Instantiator creates frames from UI files.
type Instantiator struct {
	frames *frame.Registry
	log    *console.Logger
	images *imageCache
}

// New creates an instantiator that registers frames in frames.
func New(frames *frame.Registry, log *console.Logger) *Instantiator {
	if log == nil {
		log = console.Discard()
	}
	return &Instantiator{
		frames: frames,
		log:    log,
		images: newImageCache(),
	}
}

// Forget drops cached images loaded from dir.
func (in *Instantiator) Forget(dir string) {
	in.images.forget(dir)
}

// fileCtx carries per-file state through the walk.
type fileCtx struct {
	dir   string
	path  string
	owner frame.Owner
	bind  Binder
	named map[string]frame.ID
	ids   []frame.ID
	errs  []error
}

// LoadFile instantiates every frame declared in path. dir is the addon
// folder backdrop files must resolve under. The returned ids are in
// document order; the error joins every per-element failure.
func (in *Instantiator) LoadFile(dir, path string, owner frame.Owner, bind Binder) ([]frame.ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}
	defer f.Close()

	tree, err := parseTree(f)
	if err != nil {
		return nil, &ParseError{File: path, Err: err}
	}

	c := &fileCtx{
		dir:   dir,
		path:  path,
		owner: owner,
		bind:  bind,
		named: make(map[string]frame.ID),
	}
	in.walk(c, tree, nil)
	return c.ids, errors.Join(c.errs...)
}

func (in *Instantiator) walk(c *fileCtx, n *node, parent *frame.Frame) {
	for _, child := range n.children {
		if !child.is(frameElements...) {
			in.walk(c, child, parent)
			continue
		}

		f, err := in.instantiate(c, child, parent)
		if err != nil {
			in.report(c, child, err)
			continue
		}
		c.ids = append(c.ids, f.ID)
		in.walk(c, child, &f)
	}
}

func (in *Instantiator) report(c *fileCtx, n *node, err error) {
	pe := &ParseError{File: c.path, Element: describe(n), Line: n.line, Err: err}
	in.log.Warnf("%v", pe)
	c.errs = append(c.errs, pe)
}

func (in *Instantiator) instantiate(c *fileCtx, n *node, parent *frame.Frame) (frame.Frame, error) {
	width, err := floatAttr(n, 0, "width")
	if err != nil {
		return frame.Frame{}, err
	}
	height, err := floatAttr(n, 0, "height")
	if err != nil {
		return frame.Frame{}, err
	}
	if err := frame.CheckSize(width, height); err != nil {
		return frame.Frame{}, err
	}
	hidden, err := boolAttr(n, false, "hidden")
	if err != nil {
		return frame.Frame{}, err
	}

	var anchor *frame.Anchor
	var relTo string
	if an := n.find(anchorElements...); an != nil {
		if anchor, relTo, err = parseAnchor(an); err != nil {
			return frame.Frame{}, err
		}
	}

	name, _ := n.attr("name")
	if parent != nil {
		name = expandParent(name, c.nameOf(parent.ID))
		relTo = expandParent(relTo, c.nameOf(parent.ID))
	}

	rel := in.frames.Root()
	if parent != nil {
		rel = parent.Bounds()
	}
	if relTo != "" {
		id, ok := c.named[relTo]
		if !ok {
			return frame.Frame{}, fmt.Errorf("%w: relativeTo=%q", ErrInvalidAttribute, relTo)
		}
		target, ok := in.frames.Get(id)
		if !ok {
			return frame.Frame{}, fmt.Errorf("%w: %s", frame.ErrFrameNotFound, relTo)
		}
		rel = target.Bounds()
	}

	var bd *frame.Backdrop
	if bn := n.find("Backdrop"); bn != nil {
		if bd, err = in.backdrop(bn, c.dir); err != nil {
			// the frame is still created, just without a backdrop
			in.report(c, bn, err)
			bd = nil
		}
	}

	f := in.frames.Create(c.owner)
	f.Width, f.Height = width, height
	f.Visible = !hidden
	f.Text = textOf(n)
	f.Backdrop = bd
	if anchor != nil {
		f.X, f.Y = anchor.Resolve(rel, width, height)
	}
	if err := in.frames.UpdateVisual(f); err != nil {
		return frame.Frame{}, err
	}

	if name != "" {
		c.named[name] = f.ID
		if c.bind != nil {
			if err := c.bind.ExposeFrame(name, f.ID); err != nil {
				in.log.Warnf("%s: expose %s: %v", c.path, name, err)
			}
		}
	}
	in.log.Debugf("%s: %s %s", c.path, describe(n), f.ID)
	return f, nil
}

func (c *fileCtx) nameOf(id frame.ID) string {
	for name, nid := range c.named {
		if nid == id {
			return name
		}
	}
	return ""
}

// parseAnchor reads point, relativePoint, relativeTo and the x/y offsets.
// Offsets may also come from a nested Offset element.
func parseAnchor(n *node) (*frame.Anchor, string, error) {
	a := &frame.Anchor{Point: frame.TopLeft}
	if v, ok := n.attr("point"); ok {
		p, err := frame.ParseAnchorPoint(v)
		if err != nil {
			return nil, "", err
		}
		a.Point = p
	}
	a.RelativePoint = a.Point
	if v, ok := n.attr("relativePoint"); ok {
		p, err := frame.ParseAnchorPoint(v)
		if err != nil {
			return nil, "", err
		}
		a.RelativePoint = p
	}

	src := n
	if _, ok := n.attr("x", "y"); !ok {
		if off := n.find("Offset", "AbsDimension"); off != nil {
			if inner := off.find("AbsDimension"); inner != nil {
				off = inner
			}
			src = off
		}
	}
	var err error
	if a.OffsetX, err = floatAttr(src, 0, "x"); err != nil {
		return nil, "", err
	}
	if a.OffsetY, err = floatAttr(src, 0, "y"); err != nil {
		return nil, "", err
	}

	relTo, _ := n.attr("relativeTo")
	return a, relTo, nil
}

func textOf(n *node) string {
	if v, ok := n.attr("text"); ok {
		return v
	}
	tn := n.find(textElements...)
	if tn == nil {
		return ""
	}
	if v, ok := tn.attr("text", "value"); ok {
		return v
	}
	return strings.TrimSpace(tn.text.String())
}

func expandParent(s, parent string) string {
	if s == "" || !strings.Contains(s, "$parent") {
		return s
	}
	return strings.ReplaceAll(s, "$parent", parent)
}

func describe(n *node) string {
	if name, ok := n.attr("name"); ok && name != "" {
		return fmt.Sprintf("%s %q", n.name, name)
	}
	return n.name
}

func floatAttr(n *node, def float64, key string) (float64, error) {
	v, ok := n.attr(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrInvalidAttribute, key, v)
	}
	return f, nil
}

func boolAttr(n *node, def bool, key string) (bool, error) {
	v, ok := n.attr(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q", ErrInvalidAttribute, key, v)
	}
	return b, nil
}
