// Package api exposes canvases over HTTP. Each session holds one canvas.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"tablecomposer/internal/canvas"
	"tablecomposer/internal/introspect"
	"tablecomposer/internal/logger"
	"tablecomposer/pkg/config"
)

// Catalog is the source database as seen by the API.
type Catalog interface {
	canvas.Loader
	ListTables(ctx context.Context) ([]introspect.TableMeta, error)
}

// Server routes canvas operations to sessions.
type Server struct {
	cfg       config.CanvasConfig
	catalog   Catalog
	persister canvas.Persister
	metrics   *Metrics
	sessions  *sessions
	validate  *validator.Validate
}

// NewServer returns a Server. catalog and persister may be nil; the
// operations needing them then fail with 503.
func NewServer(cfg config.CanvasConfig, catalog Catalog, persister canvas.Persister, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics("tablecomposer")
	}
	return &Server{
		cfg:       cfg,
		catalog:   catalog,
		persister: persister,
		metrics:   metrics,
		sessions:  newSessions(),
		validate:  validator.New(),
	}
}

// Routes returns the HTTP handler of the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tables", s.handleTables)
		r.Get("/tables/{tableID}/fields", s.handleTableFields)

		r.Post("/canvases", s.handleCreate)
		r.Post("/canvases/{canvasID}/restore", s.handleRestore)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleView)
			r.Delete("/", s.handleClose)
			r.Post("/save", s.handleSave)

			r.Post("/nodes", s.handleAddNode)
			r.Route("/nodes/{nodeID}", func(r chi.Router) {
				r.Delete("/", s.handleRemoveNode)
				r.Put("/position", s.handleMove)
				r.Post("/page", s.handlePage)
				r.Put("/search", s.handleSearch)
				r.Put("/expanded", s.handleExpanded)
				r.Put("/order", s.handleSortFields)
				r.Put("/selection", s.handleSelection)
				r.Put("/selected", s.handleSelectField)
				r.Post("/reveal", s.handleReveal)
				r.Get("/mappings", s.handleMappingsOf)
			})

			r.Post("/quote", s.handleQuote)
			r.Post("/quote-as-new", s.handleQuoteAsNew)
			r.Post("/copy", s.handleCopy)
			r.Post("/unquote", s.handleUnquote)
			r.Put("/mapping", s.handleSelectMapping)

			r.Post("/fields", s.handleCreateField)
			r.Post("/fields/delete", s.handleDeleteFields)
			r.Patch("/fields/{uid}", s.handleEditField)
			r.Put("/fields/{uid}/merge-rule", s.handleMergeRule)
			r.Put("/fields/{uid}/sources", s.handleSortSources)
		})
	})
	return r
}

// mutate runs fn on the session's canvas under its lock and writes the
// result, or the canvas view when fn returns nil.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(c *canvas.Canvas) (any, error)) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	d := &requestDialogs{confirm: r.URL.Query().Get("confirm") == "true"}

	sess.mu.Lock()
	sess.c.SetDialogs(d)
	out, err := fn(sess.c)
	sess.c.SetDialogs(nil)
	if err == nil && out == nil {
		out = sess.c.View()
	}
	sess.mu.Unlock()

	if err != nil {
		s.metrics.Mutations.WithLabelValues(op, "error").Inc()
		logger.Debug("session %s: %s: %v", sess.id, op, err)
		s.writeError(w, err, d)
		return
	}
	s.metrics.Mutations.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown session"})
		return nil, false
	}
	return sess, true
}

func (s *Server) deps() canvas.Deps {
	return canvas.Deps{Loader: s.catalog, Persister: s.persister, OnResync: s.metrics.ObserveResync}
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: verrs.Error()})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response: %v", err)
	}
}
