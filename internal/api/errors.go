package api

import (
	"errors"
	"net/http"

	"tablecomposer/internal/canvas"
	"tablecomposer/internal/db"
	"tablecomposer/internal/store"
)

type errorBody struct {
	Error      string   `json:"error"`
	Fields     []string `json:"fields,omitempty"`
	Referenced []string `json:"referenced_by,omitempty"`
}

// writeError maps canvas errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error, d *requestDialogs) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var dup *canvas.DuplicateFieldsError
	var load *canvas.LoadError
	switch {
	case errors.As(err, &dup):
		status = http.StatusConflict
		body.Fields = dup.Names
	case errors.Is(err, canvas.ErrDeleteCancelled):
		status = http.StatusConflict
		if d != nil {
			body.Referenced = d.referenced
		}
	case errors.Is(err, canvas.ErrAlreadyMapped), errors.Is(err, canvas.ErrAlreadyPlaced):
		status = http.StatusConflict
	case errors.Is(err, canvas.ErrUnknownNode), errors.Is(err, canvas.ErrUnknownField),
		errors.Is(err, db.ErrTableNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, canvas.ErrNoTarget), errors.Is(err, canvas.ErrTargetNode),
		errors.Is(err, canvas.ErrNotSource), errors.Is(err, canvas.ErrNotTarget),
		errors.Is(err, canvas.ErrInvalidOrder), errors.Is(err, canvas.ErrMergeRule),
		errors.Is(err, canvas.ErrNotMapped):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, canvas.ErrNoLoader), errors.Is(err, canvas.ErrNoPersister):
		status = http.StatusServiceUnavailable
	case errors.As(err, &load):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, body)
}
