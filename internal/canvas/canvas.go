package canvas

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tablecomposer/internal/introspect"
	"tablecomposer/pkg/config"
)

// Loader fetches table metadata and fields from the backing database.
type Loader interface {
	LoadTable(ctx context.Context, tableID string) (introspect.TableMeta, error)
	LoadFields(ctx context.Context, tableID string, limit int) ([]introspect.Column, error)
}

// Persister saves and restores the layout and the target table's fields.
// SaveTargetFields returns the persisted id of every field, in order.
type Persister interface {
	SaveGraphLayout(ctx context.Context, canvasID string, nodes []NodeLayout) error
	SaveTargetFields(ctx context.Context, targetTableID string, fields []Field) ([]string, error)
	LoadGraphLayout(ctx context.Context, canvasID string) ([]NodeLayout, error)
	LoadTargetFields(ctx context.Context, targetTableID string) ([]Field, error)
}

// Dialogs are the presentation callbacks mutations block on.
type Dialogs interface {
	// ConfirmDeleteWithReferences asks whether a node whose fields are quoted by
	// the listed target fields may be removed.
	ConfirmDeleteWithReferences(nodeName string, targetFields []string) bool
	ReportDuplicateFields(names []string)
}

// ResyncStats describes one synchronization pass.
type ResyncStats struct {
	Nodes      int
	Anchors    int
	Connectors int
	Skipped    int
	Duration   time.Duration
}

// Deps are the collaborators of a canvas. Any of them may be nil.
type Deps struct {
	Loader    Loader
	Persister Persister
	Dialogs   Dialogs
	OnResync  func(ResyncStats)
}

type noDialogs struct{}

func (noDialogs) ConfirmDeleteWithReferences(string, []string) bool { return false }
func (noDialogs) ReportDuplicateFields([]string)                    {}

// Canvas is the synchronization engine for one composition: an arena of nodes
// keyed by id, the field mapping store, and the anchors and connectors derived
// from them. It is not safe for concurrent use.
type Canvas struct {
	id   string
	cfg  config.CanvasConfig
	deps Deps

	nodes    map[string]*Node
	order    []string
	targetID string
	nextUID  int

	// used counts the references to every source field id.
	used map[string]int

	registry        *QuoteRegistry
	ports           portSet
	connectors      []Connector
	matched         map[string][]*Field
	selectedMapping string
	lastStats       ResyncStats
	syncing         bool
}

// New returns an empty canvas. An empty id gets a random one.
func New(id string, cfg config.CanvasConfig, deps Deps) *Canvas {
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = config.DefaultCanvas().PageSize
	}
	if deps.Dialogs == nil {
		deps.Dialogs = noDialogs{}
	}
	c := &Canvas{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		nodes:    map[string]*Node{},
		used:     map[string]int{},
		registry: NewQuoteRegistry(),
		matched:  map[string][]*Field{},
	}
	c.ports.reset()
	return c
}

func (c *Canvas) ID() string { return c.id }

func (c *Canvas) PageSize() int { return c.cfg.PageSize }

// SetDialogs replaces the presentation callbacks.
func (c *Canvas) SetDialogs(d Dialogs) {
	if d == nil {
		d = noDialogs{}
	}
	c.deps.Dialogs = d
}

// Registry exposes the quote registry of the last pass.
func (c *Canvas) Registry() *QuoteRegistry { return c.registry }

// Node returns the node with the given id.
func (c *Canvas) Node(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (c *Canvas) Nodes() []*Node {
	out := make([]*Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.nodes[id])
	}
	return out
}

// Target returns the target node, if set.
func (c *Canvas) Target() (*Node, bool) {
	t := c.target()
	return t, t != nil
}

func (c *Canvas) target() *Node {
	return c.nodes[c.targetID]
}

func (c *Canvas) sourceNodes() []*Node {
	var out []*Node
	for _, id := range c.order {
		if n := c.nodes[id]; n.Kind.IsSource() {
			out = append(out, n)
		}
	}
	return out
}

func (c *Canvas) rules() config.KindRules {
	if t := c.target(); t != nil {
		return c.cfg.Rules(t.TableKind)
	}
	return c.cfg.Rules(config.KindDefault)
}

// Rules returns the mutation rules of the target table's kind.
func (c *Canvas) Rules() config.KindRules { return c.rules() }

func (c *Canvas) newUID() int {
	c.nextUID++
	return c.nextUID
}

// lookup finds a field by UID on any node.
func (c *Canvas) lookup(uid int) (*Node, *Field, error) {
	for _, id := range c.order {
		n := c.nodes[id]
		if f := n.field(uid); f != nil {
			return n, f, nil
		}
	}
	return nil, nil, ErrUnknownField
}

func (c *Canvas) node(id string) (*Node, error) {
	n, ok := c.nodes[id]
	if !ok {
		return nil, ErrUnknownNode
	}
	return n, nil
}

func (c *Canvas) targetField(uid int) (*Node, *Field, error) {
	n, f, err := c.lookup(uid)
	if err != nil {
		return nil, nil, err
	}
	if n.Kind != KindTarget {
		return nil, nil, ErrNotTarget
	}
	return n, f, nil
}

func (c *Canvas) sourceField(uid int) (*Node, *Field, error) {
	n, f, err := c.lookup(uid)
	if err != nil {
		return nil, nil, err
	}
	if !n.Kind.IsSource() || f.ID == "" {
		return nil, nil, ErrNotSource
	}
	return n, f, nil
}

// insert adds n to the arena, assigning UIDs to fields that have none.
func (c *Canvas) insert(n *Node) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	for _, f := range n.Fields {
		if f.UID == 0 {
			f.UID = c.newUID()
		} else if f.UID > c.nextUID {
			c.nextUID = f.UID
		}
	}
	if n.Selected == nil {
		n.Selected = map[int]bool{}
	}
	if n.Highlighted == nil {
		n.Highlighted = map[int]bool{}
	}
	c.nodes[n.ID] = n
	c.order = append(c.order, n.ID)
	if n.Kind == KindTarget {
		c.targetID = n.ID
	}
}

func (c *Canvas) remove(id string) {
	delete(c.nodes, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// SetTarget places the target table. tableRef is empty for a table that has
// not been saved yet. An existing target is replaced, dropping its mappings.
func (c *Canvas) SetTarget(tableRef, tableKind, name string, pos Position, fields []Field) *Node {
	return c.setTarget("", tableRef, tableKind, name, pos, fields)
}

func (c *Canvas) setTarget(id, tableRef, tableKind, name string, pos Position, fields []Field) *Node {
	if old := c.target(); old != nil {
		c.remove(old.ID)
		c.targetID = ""
	}
	if tableKind == "" {
		tableKind = config.KindDefault
	}
	n := &Node{
		ID:        id,
		Kind:      KindTarget,
		TableRef:  tableRef,
		TableKind: tableKind,
		Name:      name,
		Position:  pos,
		Expanded:  true,
	}
	for i := range fields {
		f := fields[i]
		f.UID = 0
		n.Fields = append(n.Fields, f.clone())
	}
	c.insert(n)
	c.rebuildUsed()
	c.commit()
	return n
}
