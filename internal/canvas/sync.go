package canvas

import (
	"fmt"
	"sort"
	"time"

	"tablecomposer/internal/logger"
)

// Connector is a line from a source anchor to a target anchor. There is one
// per (target field, source node); SourceFieldIDs lists every quoted field of
// that node it stands for, first one owning the source anchor.
type Connector struct {
	Key            string   `json:"key"`
	TargetFieldUID int      `json:"target_field_uid"`
	SourceNodeID   string   `json:"source_node_id"`
	SourceFieldIDs []string `json:"source_field_ids"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	Selected       bool     `json:"selected"`
}

// MappingKey identifies the connector of a target field and a source node.
func MappingKey(targetFieldUID int, sourceNodeID string) string {
	return fmt.Sprintf("%d@%s", targetFieldUID, sourceNodeID)
}

// commit restores the pagination bound of every node and resynchronizes.
func (c *Canvas) commit() {
	for _, n := range c.nodes {
		n.PageOffset = ClampOffset(n.PageOffset, len(Filter(n.Fields, n.Keyword)), c.cfg.PageSize)
	}
	c.Resync()
}

// Resync discards every anchor, connector and registry entry and rebuilds them
// from the nodes and the target's field maps.
func (c *Canvas) Resync() {
	if c.syncing {
		logger.Warn("canvas %s: nested resync ignored", c.id)
		return
	}
	c.syncing = true
	defer func() { c.syncing = false }()
	start := time.Now()

	c.ports.reset()
	c.connectors = c.connectors[:0]
	c.registry.ClearAll()
	clear(c.matched)
	for _, n := range c.nodes {
		clear(n.Highlighted)
	}

	for _, id := range c.order {
		n := c.nodes[id]
		c.matched[n.ID] = Filter(n.Fields, n.Keyword)
		c.allocatePorts(n)
	}

	skipped := 0
	target := c.target()
	if target != nil {
		sources := c.sourceNodes()
		for _, tf := range target.Fields {
			if !tf.Mapped() {
				continue
			}
			refs := append([]SourceRef(nil), tf.FieldMap.Sources...)
			sort.SliceStable(refs, func(i, j int) bool { return refs[i].SortIndex < refs[j].SortIndex })
			for _, ref := range refs {
				if !c.connect(target, tf, ref, sources) {
					skipped++
				}
			}
		}
	}

	c.lastStats = ResyncStats{
		Nodes:      len(c.nodes),
		Anchors:    len(c.ports.items),
		Connectors: len(c.connectors),
		Skipped:    skipped,
		Duration:   time.Since(start),
	}
	logger.Debug("canvas %s: resync nodes=%d anchors=%d connectors=%d skipped=%d",
		c.id, c.lastStats.Nodes, c.lastStats.Anchors, c.lastStats.Connectors, skipped)
	if c.deps.OnResync != nil {
		c.deps.OnResync(c.lastStats)
	}
}

// resolve finds the node owning a source field, registering it on first
// lookup. Only fields in a node's filtered list are found.
func (c *Canvas) resolve(sourceFieldID string, sources []*Node) (*Node, *Field) {
	if id, ok := c.registry.OwnerOf(sourceFieldID); ok {
		n := c.nodes[id]
		return n, n.fieldByID(sourceFieldID)
	}
	for _, n := range sources {
		for _, f := range c.matched[n.ID] {
			if f.ID == sourceFieldID {
				c.registry.AddOwnership(sourceFieldID, n.ID)
				return n, f
			}
		}
	}
	return nil, nil
}

// connect draws (or extends) the connector for one ref. It returns false when
// the ref cannot be drawn in the current view.
func (c *Canvas) connect(target *Node, tf *Field, ref SourceRef, sources []*Node) bool {
	src, sf := c.resolve(ref.SourceFieldID, sources)
	if src == nil {
		logger.Debug("canvas %s: source field %s of %q not resolvable", c.id, ref.SourceFieldID, tf.Name)
		return false
	}
	tSide, sSide := sides(target, src)
	to, ok := c.anchorFor(target, tf.UID, tSide)
	if !ok {
		return false
	}
	from, ok := c.anchorFor(src, sf.UID, sSide)
	if !ok {
		return false
	}
	src.Highlighted[sf.UID] = true

	key := MappingKey(tf.UID, src.ID)
	if h, ok := c.registry.Handle(key); ok {
		conn := &c.connectors[h]
		conn.SourceFieldIDs = append(conn.SourceFieldIDs, ref.SourceFieldID)
		return true
	}
	c.registry.AddConnectorHandle(key, ConnectorHandle(len(c.connectors)))
	c.connectors = append(c.connectors, Connector{
		Key:            key,
		TargetFieldUID: tf.UID,
		SourceNodeID:   src.ID,
		SourceFieldIDs: []string{ref.SourceFieldID},
		From:           from.ID,
		To:             to.ID,
		Selected:       key == c.selectedMapping || target.SingleSelected == tf.UID,
	})
	return true
}

// Anchors returns a copy of the anchors of the last pass.
func (c *Canvas) Anchors() []Anchor {
	return append([]Anchor(nil), c.ports.items...)
}

// Connectors returns a copy of the connectors of the last pass.
func (c *Canvas) Connectors() []Connector {
	out := make([]Connector, len(c.connectors))
	for i, conn := range c.connectors {
		conn.SourceFieldIDs = append([]string(nil), conn.SourceFieldIDs...)
		out[i] = conn
	}
	return out
}

// HasAnchor reports whether an anchor with the id exists in the last pass.
func (c *Canvas) HasAnchor(id string) bool {
	return c.ports.has(id)
}

// LastStats describes the last pass.
func (c *Canvas) LastStats() ResyncStats { return c.lastStats }

// RowView is one rendered row.
type RowView struct {
	UID         int         `json:"uid"`
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DataType    string      `json:"data_type"`
	PrimaryKey  bool        `json:"primary_key"`
	Highlighted bool        `json:"highlighted,omitempty"`
	Selected    bool        `json:"selected,omitempty"`
	MergeRule   string      `json:"merge_rule,omitempty"`
	Sources     []SourceRef `json:"sources,omitempty"`
}

// NodeView is the rendered state of one node.
type NodeView struct {
	ID            string    `json:"id"`
	Kind          NodeKind  `json:"kind"`
	TableRef      string    `json:"table_ref"`
	TableKind     string    `json:"table_kind,omitempty"`
	Name          string    `json:"name"`
	Position      Position  `json:"position"`
	Expanded      bool      `json:"expanded"`
	Keyword       string    `json:"keyword"`
	PageOffset    int       `json:"page_offset"`
	PageCount     int       `json:"page_count"`
	FilteredCount int       `json:"filtered_count"`
	FieldCount    int       `json:"field_count"`
	Rows          []RowView `json:"rows"`
	Anchors       []Anchor  `json:"anchors"`
}

// View is a snapshot of the canvas after the last pass.
type View struct {
	CanvasID        string      `json:"canvas_id"`
	PageSize        int         `json:"page_size"`
	Nodes           []NodeView  `json:"nodes"`
	Connectors      []Connector `json:"connectors"`
	SelectedMapping string      `json:"selected_mapping,omitempty"`
	UsedFields      []string    `json:"used_fields"`
}

// View returns a snapshot of the rendered state.
func (c *Canvas) View() View {
	v := View{
		CanvasID:        c.id,
		PageSize:        c.cfg.PageSize,
		Connectors:      c.Connectors(),
		SelectedMapping: c.selectedMapping,
		UsedFields:      c.UsedFields(),
	}
	for _, n := range c.Nodes() {
		matched := c.matched[n.ID]
		nv := NodeView{
			ID:            n.ID,
			Kind:          n.Kind,
			TableRef:      n.TableRef,
			TableKind:     n.TableKind,
			Name:          n.Name,
			Position:      n.Position,
			Expanded:      n.Rendered(),
			Keyword:       n.Keyword,
			PageOffset:    n.PageOffset,
			PageCount:     PageCount(len(matched), c.cfg.PageSize),
			FilteredCount: len(matched),
			FieldCount:    len(n.Fields),
			Anchors:       c.ports.ofNode(n.ID),
		}
		if n.Rendered() {
			for _, f := range pageOf(matched, n.PageOffset, c.cfg.PageSize) {
				row := RowView{
					UID:         f.UID,
					ID:          f.ID,
					Name:        f.Name,
					DataType:    f.DataType,
					PrimaryKey:  f.PrimaryKey,
					Highlighted: n.Highlighted[f.UID],
					Selected:    n.Selected[f.UID] || n.SingleSelected == f.UID,
				}
				if f.Mapped() {
					row.MergeRule = f.FieldMap.MergeRule
					row.Sources = append([]SourceRef(nil), f.FieldMap.Sources...)
				}
				nv.Rows = append(nv.Rows, row)
			}
		}
		v.Nodes = append(v.Nodes, nv)
	}
	return v
}
