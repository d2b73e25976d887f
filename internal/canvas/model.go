package canvas

import "fmt"

// NodeKind is the role a table plays on the canvas.
type NodeKind string

const (
	KindTarget    NodeKind = "target"
	KindOrigin    NodeKind = "origin"
	KindLogicView NodeKind = "logic_view"
)

// IsSource reports whether nodes of this kind contribute fields to the target.
func (k NodeKind) IsSource() bool {
	return k == KindOrigin || k == KindLogicView
}

// ParseNodeKind accepts the canonical names plus a few aliases.
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "target":
		return KindTarget, nil
	case "origin", "":
		return KindOrigin, nil
	case "logic_view", "logic-view", "view":
		return KindLogicView, nil
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SourceRef is one contributing source field inside a FieldMap.
type SourceRef struct {
	SourceFieldID   string   `json:"source_field_id"`
	SourceTableID   string   `json:"source_table_id"`
	SourceTableKind NodeKind `json:"source_table_kind"`
	FieldName       string   `json:"field_name"`
	TableName       string   `json:"table_name"`
	SortIndex       int      `json:"sort_index"`
}

// FieldMap records which source fields a target field is derived from.
// SortIndex values of Sources are dense 0..n-1 in slice order.
type FieldMap struct {
	MergeRule string      `json:"merge_rule"`
	Sources   []SourceRef `json:"sources"`
}

func (m *FieldMap) has(sourceFieldID string) bool {
	for _, s := range m.Sources {
		if s.SourceFieldID == sourceFieldID {
			return true
		}
	}
	return false
}

// Field is one column of a node. ID is empty until the field is persisted; UID
// is assigned by the canvas and is unique across all of its nodes.
type Field struct {
	ID         string    `json:"id"`
	UID        int       `json:"uid"`
	Name       string    `json:"name"`
	DataType   string    `json:"data_type"`
	PrimaryKey bool      `json:"primary_key"`
	Nullable   bool      `json:"nullable"`
	Comment    string    `json:"comment,omitempty"`
	FieldMap   *FieldMap `json:"field_map,omitempty"`
}

// Mapped reports whether the field has at least one source.
func (f *Field) Mapped() bool {
	return f.FieldMap != nil && len(f.FieldMap.Sources) > 0
}

// DisplayName is the text searched by keyword filters.
func (f *Field) DisplayName() string {
	return f.Name
}

// clone copies f including its field map.
func (f *Field) clone() *Field {
	c := *f
	if f.FieldMap != nil {
		fm := *f.FieldMap
		fm.Sources = append([]SourceRef(nil), f.FieldMap.Sources...)
		c.FieldMap = &fm
	}
	return &c
}

// Node is one table on the canvas.
type Node struct {
	ID         string   `json:"id"`
	Kind       NodeKind `json:"kind"`
	TableRef   string   `json:"table_ref"`
	TableKind  string   `json:"table_kind,omitempty"`
	Name       string   `json:"name"`
	Position   Position `json:"position"`
	Fields     []*Field `json:"fields"`
	PageOffset int      `json:"page_offset"`
	Keyword    string   `json:"keyword"`
	Expanded   bool     `json:"expanded"`

	// Selected is the user's multi-selection; SingleSelected is 0 when empty.
	Selected       map[int]bool `json:"-"`
	SingleSelected int          `json:"single_selected,omitempty"`

	// Highlighted holds the quoted fields of a source node. Derived by Resync.
	Highlighted map[int]bool `json:"-"`
}

// Rendered reports whether the node's rows are drawn.
func (n *Node) Rendered() bool {
	return n.Kind == KindTarget || n.Expanded
}

func (n *Node) fieldIndex(uid int) int {
	for i, f := range n.Fields {
		if f.UID == uid {
			return i
		}
	}
	return -1
}

func (n *Node) field(uid int) *Field {
	if i := n.fieldIndex(uid); i >= 0 {
		return n.Fields[i]
	}
	return nil
}

func (n *Node) fieldByID(id string) *Field {
	if id == "" {
		return nil
	}
	for _, f := range n.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// NodeLayout is the persisted part of a node. View state is never persisted.
type NodeLayout struct {
	ID        string   `json:"id"`
	TableRef  string   `json:"table_ref"`
	Kind      NodeKind `json:"kind"`
	TableKind string   `json:"table_kind,omitempty"`
	Position  Position `json:"position"`
}
