package api

import (
	"sync"

	"github.com/google/uuid"

	"tablecomposer/internal/canvas"
)

// session is one open canvas. Every mutation and the resync it triggers run
// under mu.
type session struct {
	id string
	mu sync.Mutex
	c  *canvas.Canvas
}

type sessions struct {
	mu    sync.RWMutex
	items map[string]*session
}

func newSessions() *sessions {
	return &sessions{items: map[string]*session{}}
}

func (s *sessions) add(c *canvas.Canvas) *session {
	sess := &session{id: uuid.NewString(), c: c}
	s.mu.Lock()
	s.items[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessions) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.items[id]
	return sess, ok
}

func (s *sessions) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// requestDialogs answers the canvas prompts from the request: deletes are
// confirmed only with ?confirm=true, and the prompts are kept for the response.
type requestDialogs struct {
	confirm    bool
	referenced []string
	duplicates []string
}

func (d *requestDialogs) ConfirmDeleteWithReferences(nodeName string, targetFields []string) bool {
	d.referenced = append(d.referenced, targetFields...)
	return d.confirm
}

func (d *requestDialogs) ReportDuplicateFields(names []string) {
	d.duplicates = append(d.duplicates, names...)
}
