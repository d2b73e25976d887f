package canvas

import (
	"fmt"
	"strings"
)

type AnchorKind string

const (
	AnchorRow    AnchorKind = "row"
	AnchorTop    AnchorKind = "top"
	AnchorBottom AnchorKind = "bottom"
	AnchorHeader AnchorKind = "header"
)

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Anchor is a connector attachment point on a row or on the node boundary.
// FieldUID is 0 for boundary and header anchors.
type Anchor struct {
	ID       string     `json:"id"`
	NodeID   string     `json:"node_id"`
	Kind     AnchorKind `json:"kind"`
	Side     Side       `json:"side"`
	FieldUID int        `json:"field_uid,omitempty"`
}

func anchorID(nodeID string, kind AnchorKind, side Side, uid int) string {
	if kind == AnchorRow {
		return fmt.Sprintf("%s/%s/%d/%s", nodeID, kind, uid, side)
	}
	return fmt.Sprintf("%s/%s/%s", nodeID, kind, side)
}

// portSet holds the anchors of one pass in creation order.
type portSet struct {
	byID  map[string]int
	items []Anchor
}

func (p *portSet) reset() {
	if p.byID == nil {
		p.byID = map[string]int{}
	}
	clear(p.byID)
	p.items = p.items[:0]
}

// ensure adds a unless an anchor with the same id exists, and returns the
// stored anchor.
func (p *portSet) ensure(a Anchor) Anchor {
	a.ID = anchorID(a.NodeID, a.Kind, a.Side, a.FieldUID)
	if i, ok := p.byID[a.ID]; ok {
		return p.items[i]
	}
	p.byID[a.ID] = len(p.items)
	p.items = append(p.items, a)
	return a
}

func (p *portSet) has(id string) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *portSet) ofNode(nodeID string) []Anchor {
	var out []Anchor
	prefix := nodeID + "/"
	for _, a := range p.items {
		if strings.HasPrefix(a.ID, prefix) {
			out = append(out, a)
		}
	}
	return out
}

// sides returns the side of the target and of the source that face each other.
// A source at the same x as the target counts as lying left of it.
func sides(target, source *Node) (targetSide, sourceSide Side) {
	if source.Position.X <= target.Position.X {
		return SideLeft, SideRight
	}
	return SideRight, SideLeft
}

// facingSides lists the sides of n that face a counterpart: for a source node
// the side toward the target, for the target every side toward some source.
func (c *Canvas) facingSides(n *Node) []Side {
	target := c.target()
	if target == nil {
		return nil
	}
	if n.Kind.IsSource() {
		_, s := sides(target, n)
		return []Side{s}
	}
	var left, right bool
	for _, src := range c.sourceNodes() {
		if ts, _ := sides(target, src); ts == SideLeft {
			left = true
		} else {
			right = true
		}
	}
	var out []Side
	if left {
		out = append(out, SideLeft)
	}
	if right {
		out = append(out, SideRight)
	}
	return out
}

// allocatePorts creates the row anchors of the node's page slice, or one header
// anchor per facing side when the node is collapsed. Boundary anchors are left
// to anchorFor.
func (c *Canvas) allocatePorts(n *Node) {
	facing := c.facingSides(n)
	if !n.Rendered() {
		for _, s := range facing {
			c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorHeader, Side: s})
		}
		return
	}
	for _, f := range pageOf(c.matched[n.ID], n.PageOffset, c.cfg.PageSize) {
		for _, s := range facing {
			c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorRow, Side: s, FieldUID: f.UID})
		}
	}
}

// anchorFor returns the anchor a connector to field uid of n terminates on, on
// the given side. Fields hidden by the node's keyword have none.
func (c *Canvas) anchorFor(n *Node, uid int, side Side) (Anchor, bool) {
	if !n.Rendered() {
		return c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorHeader, Side: side}), true
	}
	idx := indexOf(c.matched[n.ID], uid)
	if idx < 0 {
		return Anchor{}, false
	}
	switch Classify(idx, n.PageOffset, c.cfg.PageSize) {
	case AbovePage:
		return c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorTop, Side: side}), true
	case BelowPage:
		return c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorBottom, Side: side}), true
	}
	return c.ports.ensure(Anchor{NodeID: n.ID, Kind: AnchorRow, Side: side, FieldUID: uid}), true
}
