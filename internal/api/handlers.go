package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tablecomposer/internal/canvas"
	"tablecomposer/internal/logger"
)

type targetRequest struct {
	TableRef  string          `json:"table_ref"`
	TableKind string          `json:"table_kind"`
	Name      string          `json:"name" validate:"required"`
	Position  canvas.Position `json:"position"`
	Fields    []fieldRequest  `json:"fields" validate:"dive"`
}

type fieldRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required"`
	DataType   string `json:"data_type"`
	PrimaryKey bool   `json:"primary_key"`
	Nullable   bool   `json:"nullable"`
	Comment    string `json:"comment"`
}

type createRequest struct {
	CanvasID string        `json:"canvas_id"`
	Target   targetRequest `json:"target"`
}

type sessionResponse struct {
	Session string      `json:"session"`
	View    canvas.View `json:"view"`
}

type addNodeRequest struct {
	TableID  string          `json:"table_id" validate:"required"`
	Kind     string          `json:"kind" validate:"omitempty,oneof=origin logic_view"`
	Position canvas.Position `json:"position"`
}

type pageRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type searchRequest struct {
	Keyword string `json:"keyword"`
}

type expandedRequest struct {
	Expanded bool `json:"expanded"`
}

type uidsRequest struct {
	UIDs []int `json:"uids" validate:"required,min=1"`
}

type orderRequest struct {
	UIDs []int `json:"uids"`
}

type uidRequest struct {
	UID int `json:"uid" validate:"required"`
}

type selectFieldRequest struct {
	UID int `json:"uid" validate:"gte=0"`
}

type quoteRequest struct {
	TargetUID int `json:"target_uid" validate:"required"`
	SourceUID int `json:"source_uid" validate:"required"`
}

type unquoteRequest struct {
	TargetUID      int      `json:"target_uid" validate:"required"`
	SourceFieldIDs []string `json:"source_field_ids"`
}

type fieldEditRequest struct {
	Name     string `json:"name" validate:"required"`
	DataType string `json:"data_type"`
}

type mergeRuleRequest struct {
	Rule string `json:"rule" validate:"required"`
}

type sourcesOrderRequest struct {
	Order []string `json:"order" validate:"required"`
}

type mappingRequest struct {
	Key string `json:"key"`
}

type uidsResponse struct {
	UIDs []int       `json:"uids"`
	View canvas.View `json:"view"`
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, canvas.ErrNoLoader, nil)
		return
	}
	tables, err := s.catalog.ListTables(r.Context())
	if err != nil {
		logger.Error("list tables: %v", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "failed to list tables: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleTableFields(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, canvas.ErrNoLoader, nil)
		return
	}
	tableID := chi.URLParam(r, "tableID")
	cols, err := s.catalog.LoadFields(r.Context(), tableID, s.cfg.FieldLimit)
	if err != nil {
		s.writeError(w, &canvas.LoadError{TableID: tableID, Err: err}, nil)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	if kind := req.Target.TableKind; kind != "" && !s.cfg.HasKind(kind) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown table kind: " + kind})
		return
	}
	fields := make([]canvas.Field, len(req.Target.Fields))
	for i, f := range req.Target.Fields {
		fields[i] = canvas.Field{
			ID:         f.ID,
			Name:       f.Name,
			DataType:   f.DataType,
			PrimaryKey: f.PrimaryKey,
			Nullable:   f.Nullable,
			Comment:    f.Comment,
		}
	}
	c := canvas.New(req.CanvasID, s.cfg, s.deps())
	c.SetTarget(req.Target.TableRef, req.Target.TableKind, req.Target.Name, req.Target.Position, fields)
	s.open(w, c)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if s.persister == nil {
		s.writeError(w, canvas.ErrNoPersister, nil)
		return
	}
	c, err := canvas.Restore(r.Context(), chi.URLParam(r, "canvasID"), s.cfg, s.deps())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.open(w, c)
}

func (s *Server) open(w http.ResponseWriter, c *canvas.Canvas) {
	sess := s.sessions.add(c)
	s.metrics.Sessions.Inc()
	logger.Info("session %s: opened canvas %s", sess.id, c.ID())
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess.id, View: c.View()})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.mu.Lock()
	v := sess.c.View()
	sess.mu.Unlock()
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(chi.URLParam(r, "sessionID")) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown session"})
		return
	}
	s.metrics.Sessions.Dec()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "save", func(c *canvas.Canvas) (any, error) {
		return nil, c.Save(r.Context())
	})
}

// handleAddNode loads the table without holding the session lock; Place
// re-checks that the table is not on the canvas yet.
func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	kind, err := canvas.ParseNodeKind(req.Kind)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	n, err := sess.c.Materialize(r.Context(), req.TableID, kind)
	if err != nil {
		s.metrics.Mutations.WithLabelValues("add_node", "error").Inc()
		s.writeError(w, err, nil)
		return
	}
	s.mutate(w, r, "add_node", func(c *canvas.Canvas) (any, error) {
		return nil, c.Place(n, req.Position)
	})
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "remove_node", func(c *canvas.Canvas) (any, error) {
		return nil, c.RemoveNode(nodeID)
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var pos canvas.Position
	if !s.decode(w, r, &pos) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "move", func(c *canvas.Canvas) (any, error) {
		return nil, c.Move(nodeID, pos)
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "paginate", func(c *canvas.Canvas) (any, error) {
		_, err := c.Paginate(nodeID, req.Delta)
		return nil, err
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "search", func(c *canvas.Canvas) (any, error) {
		return nil, c.Search(nodeID, req.Keyword)
	})
}

func (s *Server) handleExpanded(w http.ResponseWriter, r *http.Request) {
	var req expandedRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "set_expanded", func(c *canvas.Canvas) (any, error) {
		return nil, c.SetExpanded(nodeID, req.Expanded)
	})
}

func (s *Server) handleSortFields(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "sort_fields", func(c *canvas.Canvas) (any, error) {
		return nil, c.SortFields(nodeID, req.UIDs)
	})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "select", func(c *canvas.Canvas) (any, error) {
		return nil, c.SetSelection(nodeID, req.UIDs)
	})
}

// handleSelectField sets the single selected field; uid 0 clears it.
func (s *Server) handleSelectField(w http.ResponseWriter, r *http.Request) {
	var req selectFieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "select_field", func(c *canvas.Canvas) (any, error) {
		return nil, c.SelectField(nodeID, req.UID)
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req uidRequest
	if !s.decode(w, r, &req) {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	s.mutate(w, r, "reveal", func(c *canvas.Canvas) (any, error) {
		return nil, c.Reveal(nodeID, req.UID)
	})
}

func (s *Server) handleMappingsOf(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	sess.mu.Lock()
	_, found := sess.c.Node(nodeID)
	var res uidsResponse
	if found {
		res = uidsResponse{UIDs: sess.c.MappingsOf(nodeID), View: sess.c.View()}
	}
	sess.mu.Unlock()

	if !found {
		s.writeError(w, canvas.ErrUnknownNode, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "quote", func(c *canvas.Canvas) (any, error) {
		return nil, c.Quote(req.TargetUID, req.SourceUID)
	})
}

func (s *Server) handleQuoteAsNew(w http.ResponseWriter, r *http.Request) {
	var req uidsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "quote_as_new", func(c *canvas.Canvas) (any, error) {
		uids, err := c.QuoteAsNew(req.UIDs)
		if err != nil {
			return nil, err
		}
		return uidsResponse{UIDs: uids, View: c.View()}, nil
	})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req uidsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "copy", func(c *canvas.Canvas) (any, error) {
		uids, err := c.Copy(req.UIDs)
		if err != nil {
			return nil, err
		}
		return uidsResponse{UIDs: uids, View: c.View()}, nil
	})
}

func (s *Server) handleUnquote(w http.ResponseWriter, r *http.Request) {
	var req unquoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "unquote", func(c *canvas.Canvas) (any, error) {
		return nil, c.Unquote(req.TargetUID, req.SourceFieldIDs...)
	})
}

func (s *Server) handleSelectMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "select_mapping", func(c *canvas.Canvas) (any, error) {
		c.SelectMapping(req.Key)
		return nil, nil
	})
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req fieldEditRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "create_field", func(c *canvas.Canvas) (any, error) {
		uid, err := c.CreateField(req.Name, req.DataType)
		if err != nil {
			return nil, err
		}
		return uidsResponse{UIDs: []int{uid}, View: c.View()}, nil
	})
}

func (s *Server) handleDeleteFields(w http.ResponseWriter, r *http.Request) {
	var req uidsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "delete_fields", func(c *canvas.Canvas) (any, error) {
		return nil, c.DeleteTargetFields(req.UIDs)
	})
}

func (s *Server) handleEditField(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r)
	if !ok {
		return
	}
	var req fieldEditRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "edit_field", func(c *canvas.Canvas) (any, error) {
		return nil, c.EditField(uid, req.Name, req.DataType)
	})
}

func (s *Server) handleMergeRule(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r)
	if !ok {
		return
	}
	var req mergeRuleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "merge_rule", func(c *canvas.Canvas) (any, error) {
		return nil, c.SetMergeRule(uid, req.Rule)
	})
}

func (s *Server) handleSortSources(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidParam(w, r)
	if !ok {
		return
	}
	var req sourcesOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, "sort_sources", func(c *canvas.Canvas) (any, error) {
		return nil, c.SortSources(uid, req.Order)
	})
}

func uidParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	uid, err := strconv.Atoi(chi.URLParam(r, "uid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid field uid"})
		return 0, false
	}
	return uid, true
}
