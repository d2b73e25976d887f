package canvas

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecomposer/internal/introspect"
	"tablecomposer/pkg/config"
)

var errNoSuchTable = errors.New("no such table")

// fakeLoader serves tables from memory.
type fakeLoader struct {
	tables map[string][]introspect.Column
	calls  int
}

func (l *fakeLoader) LoadTable(ctx context.Context, tableID string) (introspect.TableMeta, error) {
	l.calls++
	if _, ok := l.tables[tableID]; !ok {
		return introspect.TableMeta{}, errNoSuchTable
	}
	schema, name := introspect.SplitTableID(tableID)
	return introspect.TableMeta{Schema: schema, Name: name}, nil
}

func (l *fakeLoader) LoadFields(ctx context.Context, tableID string, limit int) ([]introspect.Column, error) {
	cols, ok := l.tables[tableID]
	if !ok {
		return nil, errNoSuchTable
	}
	if limit > 0 && len(cols) > limit {
		cols = cols[:limit]
	}
	return cols, nil
}

// recordingDialogs answers confirmations with confirm and records reports.
type recordingDialogs struct {
	confirm    bool
	asked      [][]string
	duplicates [][]string
}

func (d *recordingDialogs) ConfirmDeleteWithReferences(nodeName string, fields []string) bool {
	d.asked = append(d.asked, fields)
	return d.confirm
}

func (d *recordingDialogs) ReportDuplicateFields(names []string) {
	d.duplicates = append(d.duplicates, names)
}

func columns(prefix string, n int) []introspect.Column {
	cols := make([]introspect.Column, n)
	for i := range cols {
		cols[i] = introspect.Column{Name: fmt.Sprintf("%s%d", prefix, i+1), Type: "text", Nullable: true}
	}
	return cols
}

func targetFields(n int) []Field {
	fields := make([]Field, n)
	for i := range fields {
		fields[i] = Field{Name: fmt.Sprintf("t%d", i+1), DataType: "text"}
	}
	return fields
}

type fixture struct {
	c       *Canvas
	loader  *fakeLoader
	dialogs *recordingDialogs
	target  *Node
}

func newFixture(t *testing.T, tableKind string, nTarget int) *fixture {
	t.Helper()
	loader := &fakeLoader{tables: map[string][]introspect.Column{
		"src.a": columns("a", 3),
		"src.b": columns("b", 3),
		"src.w": columns("w", 25),
	}}
	loader.tables["src.a"][0].PK = true
	dialogs := &recordingDialogs{}
	cfg := config.CanvasConfig{PageSize: 10, FieldLimit: 100, TableKinds: config.DefaultKindRules()}
	c := New("test", cfg, Deps{Loader: loader, Dialogs: dialogs})
	target := c.SetTarget("dw.fact", tableKind, "fact", Position{X: 0}, targetFields(nTarget))
	return &fixture{c: c, loader: loader, dialogs: dialogs, target: target}
}

func (fx *fixture) add(t *testing.T, tableID string, x float64) *Node {
	t.Helper()
	n, err := fx.c.AddTable(context.Background(), tableID, KindOrigin, Position{X: x})
	require.NoError(t, err)
	return n
}

func uid(t *testing.T, n *Node, name string) int {
	t.Helper()
	for _, f := range n.Fields {
		if f.Name == name {
			return f.UID
		}
	}
	t.Fatalf("no field %q on %s", name, n.Name)
	return 0
}

func field(t *testing.T, n *Node, name string) *Field {
	t.Helper()
	return n.field(uid(t, n, name))
}

func connectorOf(c *Canvas, targetUID int) (Connector, bool) {
	for _, conn := range c.Connectors() {
		if conn.TargetFieldUID == targetUID {
			return conn, true
		}
	}
	return Connector{}, false
}

// assertConsistent checks the properties every state must satisfy.
func assertConsistent(t *testing.T, c *Canvas) {
	t.Helper()

	for _, conn := range c.Connectors() {
		assert.True(t, c.HasAnchor(conn.From), "dangling source anchor %s", conn.From)
		assert.True(t, c.HasAnchor(conn.To), "dangling target anchor %s", conn.To)
	}

	for _, n := range c.Nodes() {
		total := len(Filter(n.Fields, n.Keyword))
		assert.GreaterOrEqual(t, n.PageOffset, 0)
		assert.LessOrEqual(t, n.PageOffset, max(0, PageCount(total, c.PageSize())-1), "node %s offset", n.Name)
	}

	want := map[string]int{}
	if tgt, ok := c.Target(); ok {
		for _, f := range tgt.Fields {
			for i, id := range sourceIDs(f) {
				want[id]++
				assert.Equal(t, i, f.FieldMap.Sources[i].SortIndex, "dense sort index")
			}
			if f.FieldMap != nil {
				assert.NotEmpty(t, f.FieldMap.Sources, "empty field map left on %s", f.Name)
			}
		}
	}
	if !c.Rules().Convergent {
		for id, n := range want {
			assert.Equal(t, 1, n, "source field %s quoted more than once", id)
		}
	}
	assert.Equal(t, want, c.used)

	anchors, conns := c.Anchors(), c.Connectors()
	c.Resync()
	assert.Equal(t, anchors, c.Anchors(), "resync not idempotent (anchors)")
	assert.Equal(t, conns, c.Connectors(), "resync not idempotent (connectors)")
}
