package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecomposer/internal/canvas"
	"tablecomposer/internal/introspect"
	"tablecomposer/internal/store"
	"tablecomposer/pkg/config"
)

var errNoTable = errors.New("no such table")

type fakeCatalog struct {
	tables map[string][]introspect.Column
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tables: map[string][]introspect.Column{
		"src.orders": {
			{Name: "id", Type: "bigint", PK: true},
			{Name: "amount", Type: "numeric", Nullable: true},
		},
		"src.customers": {
			{Name: "id", Type: "bigint", PK: true},
			{Name: "name", Type: "text"},
		},
	}}
}

func (f *fakeCatalog) ListTables(ctx context.Context) ([]introspect.TableMeta, error) {
	return []introspect.TableMeta{{Schema: "src", Name: "customers"}, {Schema: "src", Name: "orders"}}, nil
}

func (f *fakeCatalog) LoadTable(ctx context.Context, tableID string) (introspect.TableMeta, error) {
	if _, ok := f.tables[tableID]; !ok {
		return introspect.TableMeta{}, errNoTable
	}
	schema, name := introspect.SplitTableID(tableID)
	return introspect.TableMeta{Schema: schema, Name: name}, nil
}

func (f *fakeCatalog) LoadFields(ctx context.Context, tableID string, limit int) ([]introspect.Column, error) {
	cols, ok := f.tables[tableID]
	if !ok {
		return nil, errNoTable
	}
	return cols, nil
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, persister canvas.Persister) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, config.DefaultCanvas(), persister)
}

func newTestServerWithConfig(t *testing.T, cfg config.CanvasConfig, persister canvas.Persister) *testServer {
	t.Helper()
	s := NewServer(cfg, newFakeCatalog(), persister, NewMetrics("test"))
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (ts *testServer) do(method, path string, body any, out any) int {
	ts.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) create(kind string) sessionResponse {
	ts.t.Helper()
	var created sessionResponse
	status := ts.do(http.MethodPost, "/api/canvases", createRequest{
		CanvasID: "c1",
		Target: targetRequest{
			TableRef:  "dw.fact",
			TableKind: kind,
			Name:      "fact",
			Fields:    []fieldRequest{{Name: "order_id"}, {Name: "total"}},
		},
	}, &created)
	require.Equal(ts.t, http.StatusCreated, status)
	return created
}

func (ts *testServer) addNode(sid, tableID string, x float64) canvas.NodeView {
	ts.t.Helper()
	var v canvas.View
	status := ts.do(http.MethodPost, "/api/sessions/"+sid+"/nodes", addNodeRequest{
		TableID: tableID, Position: canvas.Position{X: x},
	}, &v)
	require.Equal(ts.t, http.StatusOK, status)
	return nodeByRef(ts.t, v, tableID)
}

func nodeByRef(t *testing.T, v canvas.View, ref string) canvas.NodeView {
	t.Helper()
	for _, n := range v.Nodes {
		if n.TableRef == ref {
			return n
		}
	}
	t.Fatalf("no node for %s", ref)
	return canvas.NodeView{}
}

func rowUID(t *testing.T, n canvas.NodeView, name string) int {
	t.Helper()
	for _, r := range n.Rows {
		if r.Name == name {
			return r.UID
		}
	}
	t.Fatalf("no row %s on %s", name, n.Name)
	return 0
}

func TestCreateAndQuote(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.create("")
	assert.NotEmpty(t, created.Session)
	assert.Equal(t, "c1", created.View.CanvasID)
	target := nodeByRef(t, created.View, "dw.fact")

	orders := ts.addNode(created.Session, "src.orders", -400)

	var v canvas.View
	status := ts.do(http.MethodPost, "/api/sessions/"+created.Session+"/quote", quoteRequest{
		TargetUID: rowUID(t, target, "total"),
		SourceUID: rowUID(t, orders, "amount"),
	}, &v)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, v.Connectors, 1)
	assert.Equal(t, orders.ID, v.Connectors[0].SourceNodeID)
	assert.Equal(t, []string{"src.orders#amount"}, v.UsedFields)

	// the same field cannot be quoted twice on a default table
	var e errorBody
	status = ts.do(http.MethodPost, "/api/sessions/"+created.Session+"/quote", quoteRequest{
		TargetUID: rowUID(t, target, "order_id"),
		SourceUID: rowUID(t, orders, "amount"),
	}, &e)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, []string{"amount"}, e.Fields)
}

func TestQuoteAsNewAndCopy(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.create("").Session
	orders := ts.addNode(sid, "src.orders", -400)

	var res uidsResponse
	status := ts.do(http.MethodPost, "/api/sessions/"+sid+"/quote-as-new", uidsRequest{
		UIDs: []int{rowUID(t, orders, "id"), rowUID(t, orders, "amount")},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, res.UIDs, 2)
	assert.Len(t, res.View.Connectors, 2)

	status = ts.do(http.MethodPost, "/api/sessions/"+sid+"/copy", uidsRequest{
		UIDs: []int{rowUID(t, orders, "id")},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, res.UIDs, 1)
	assert.Len(t, res.View.Connectors, 2, "copies are not mapped")
	assert.Len(t, nodeByRef(t, res.View, "dw.fact").Rows, 5)
}

func TestRemoveNodeNeedsConfirmation(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.create("")
	sid := created.Session
	target := nodeByRef(t, created.View, "dw.fact")
	orders := ts.addNode(sid, "src.orders", -400)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/quote", quoteRequest{
		TargetUID: rowUID(t, target, "order_id"),
		SourceUID: rowUID(t, orders, "id"),
	}, nil))

	var e errorBody
	status := ts.do(http.MethodDelete, "/api/sessions/"+sid+"/nodes/"+orders.ID, nil, &e)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, []string{"order_id"}, e.Referenced)

	var v canvas.View
	status = ts.do(http.MethodDelete, "/api/sessions/"+sid+"/nodes/"+orders.ID+"?confirm=true", nil, &v)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, v.Nodes, 1)
	assert.Empty(t, v.Connectors)
	assert.Empty(t, v.UsedFields)
}

func TestAddNodeErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.create("").Session
	ts.addNode(sid, "src.orders", -400)

	status := ts.do(http.MethodPost, "/api/sessions/"+sid+"/nodes", addNodeRequest{TableID: "src.orders"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = ts.do(http.MethodPost, "/api/sessions/"+sid+"/nodes", addNodeRequest{TableID: "src.missing"}, nil)
	assert.Equal(t, http.StatusBadGateway, status)

	status = ts.do(http.MethodPost, "/api/sessions/"+sid+"/nodes", addNodeRequest{TableID: "src.orders", Kind: "target"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = ts.do(http.MethodPost, "/api/sessions/"+sid+"/nodes", addNodeRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestViewOperations(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.create("").Session
	orders := ts.addNode(sid, "src.orders", -400)
	base := "/api/sessions/" + sid + "/nodes/" + orders.ID

	var v canvas.View
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, base+"/search", searchRequest{Keyword: "AMO"}, &v))
	n := nodeByRef(t, v, "src.orders")
	assert.Equal(t, 1, n.FilteredCount)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, base+"/expanded", expandedRequest{Expanded: false}, &v))
	assert.False(t, nodeByRef(t, v, "src.orders").Expanded)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, base+"/position", canvas.Position{X: 50, Y: 10}, &v))
	assert.Equal(t, canvas.Position{X: 50, Y: 10}, nodeByRef(t, v, "src.orders").Position)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/page", pageRequest{Delta: 1}, &v))
	assert.Equal(t, 0, nodeByRef(t, v, "src.orders").PageOffset)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/page", pageRequest{}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(http.MethodPut, base+"/order", orderRequest{UIDs: []int{1}}, nil))
}

func TestFieldOperations(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.create(config.KindDataFusion)
	sid := created.Session
	target := nodeByRef(t, created.View, "dw.fact")
	orders := ts.addNode(sid, "src.orders", -400)
	customers := ts.addNode(sid, "src.customers", 400)
	total := rowUID(t, target, "total")

	for _, src := range []int{rowUID(t, orders, "id"), rowUID(t, customers, "id")} {
		require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/quote",
			quoteRequest{TargetUID: total, SourceUID: src}, nil))
	}

	fieldPath := fmt.Sprintf("/api/sessions/%s/fields/%d", sid, total)
	var v canvas.View
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, fieldPath+"/merge-rule", mergeRuleRequest{Rule: "concat"}, &v))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, fieldPath+"/sources",
		sourcesOrderRequest{Order: []string{"src.customers#id", "src.orders#id"}}, &v))
	row := nodeByRef(t, v, "dw.fact").Rows[1]
	assert.Equal(t, "concat", row.MergeRule)
	require.Len(t, row.Sources, 2)
	assert.Equal(t, "src.customers#id", row.Sources[0].SourceFieldID)

	assert.Equal(t, http.StatusUnprocessableEntity,
		ts.do(http.MethodPut, fieldPath+"/merge-rule", mergeRuleRequest{Rule: "median"}, nil))

	require.Equal(t, http.StatusOK, ts.do(http.MethodPatch, fieldPath, fieldEditRequest{Name: "total_amount", DataType: "numeric"}, &v))
	assert.Equal(t, "total_amount", nodeByRef(t, v, "dw.fact").Rows[1].Name)

	var res uidsResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/fields", fieldEditRequest{Name: "note"}, &res))
	require.Len(t, res.UIDs, 1)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/fields/delete", uidsRequest{UIDs: []int{total}}, &v))
	assert.Empty(t, v.UsedFields)
	assert.Empty(t, v.Connectors)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPatch, "/api/sessions/"+sid+"/fields/abc", fieldEditRequest{Name: "x"}, nil))
}

func TestUnknownSessionAndBadBody(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/nope/", nil, nil))

	sid := ts.create("").Session
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/sessions/"+sid+"/quote", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/sessions/"+sid+"/", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/sessions/"+sid+"/", nil, nil))
}

func TestSaveWithoutPersister(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.create("").Session
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/api/sessions/"+sid+"/save", nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/api/canvases/c1/restore", nil, nil))
}

func TestSaveAndRestore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "composer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ts := newTestServer(t, st)
	created := ts.create("")
	sid := created.Session
	target := nodeByRef(t, created.View, "dw.fact")
	orders := ts.addNode(sid, "src.orders", -400)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/quote", quoteRequest{
		TargetUID: rowUID(t, target, "order_id"),
		SourceUID: rowUID(t, orders, "id"),
	}, nil))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/save", nil, nil))

	var restored sessionResponse
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/canvases/c1/restore", nil, &restored))
	assert.NotEqual(t, sid, restored.Session)
	assert.Len(t, restored.View.Nodes, 2)
	assert.Len(t, restored.View.Connectors, 1)
	assert.Equal(t, []string{"src.orders#id"}, restored.View.UsedFields)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/canvases/other/restore", nil, nil))
}

func TestTablesAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	var tables []introspect.TableMeta
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/tables", nil, &tables))
	assert.Len(t, tables, 2)

	var cols []introspect.Column
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/tables/src.orders/fields", nil, &cols))
	assert.Len(t, cols, 2)

	sid := ts.create("").Session
	ts.addNode(sid, "src.orders", -400)

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, `test_mutations_total{op="add_node",outcome="ok"} 1`)
	assert.Contains(t, body, "test_sessions 1")
	assert.Contains(t, body, "test_resync_duration_seconds_count")
}

func TestCreateWithConfiguredKind(t *testing.T) {
	cfg := config.DefaultCanvas()
	cfg.TableKinds["data_lake"] = config.KindRules{
		Convergent:       true,
		DefaultMergeRule: config.MergeConcat,
		MergeRules:       []string{config.MergeConcat},
	}
	ts := newTestServerWithConfig(t, cfg, nil)

	var created sessionResponse
	status := ts.do(http.MethodPost, "/api/canvases", createRequest{
		Target: targetRequest{TableKind: "data_lake", Name: "lake", Fields: []fieldRequest{{Name: "x"}}},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "data_lake", nodeByRef(t, created.View, "").TableKind)

	var e errorBody
	status = ts.do(http.MethodPost, "/api/canvases", createRequest{
		Target: targetRequest{TableKind: "data_swamp", Name: "swamp"},
	}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, e.Error, "data_swamp")
}

func TestMappingsOfIsReadOnly(t *testing.T) {
	ts := newTestServer(t, nil)
	created := ts.create("")
	sid := created.Session
	target := nodeByRef(t, created.View, "dw.fact")
	orders := ts.addNode(sid, "src.orders", -400)
	totalUID := rowUID(t, target, "total")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/sessions/"+sid+"/quote", quoteRequest{
		TargetUID: totalUID,
		SourceUID: rowUID(t, orders, "amount"),
	}, nil))

	var res uidsResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/sessions/"+sid+"/nodes/"+orders.ID+"/mappings", nil, &res))
	assert.Equal(t, []int{totalUID}, res.UIDs)
	assert.Len(t, res.View.Connectors, 1)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/"+sid+"/nodes/nope/mappings", nil, nil))

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), `op="mappings_of"`)
	assert.Contains(t, buf.String(), `test_mutations_total{op="quote",outcome="ok"} 1`)
}
