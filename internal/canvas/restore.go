package canvas

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tablecomposer/internal/logger"
	"tablecomposer/pkg/config"
)

// Layout returns the persisted part of every node.
func (c *Canvas) Layout() []NodeLayout {
	out := make([]NodeLayout, 0, len(c.order))
	for _, n := range c.Nodes() {
		out = append(out, NodeLayout{
			ID:        n.ID,
			TableRef:  n.TableRef,
			Kind:      n.Kind,
			TableKind: n.TableKind,
			Position:  n.Position,
		})
	}
	return out
}

// Save persists the layout and the target's fields. An unsaved target gets a
// table id once its fields are stored; fields without an id receive the ids
// assigned by the persister.
func (c *Canvas) Save(ctx context.Context) error {
	if c.deps.Persister == nil {
		return ErrNoPersister
	}
	t := c.target()
	if t == nil {
		return ErrNoTarget
	}
	tableRef := t.TableRef
	if tableRef == "" {
		tableRef = uuid.NewString()
	}
	fields := make([]Field, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = *f.clone()
	}
	ids, err := c.deps.Persister.SaveTargetFields(ctx, tableRef, fields)
	if err != nil {
		return fmt.Errorf("save target fields: %w", err)
	}
	if len(ids) != len(t.Fields) {
		return fmt.Errorf("save target fields: got %d ids for %d fields", len(ids), len(t.Fields))
	}
	t.TableRef = tableRef
	for i, id := range ids {
		t.Fields[i].ID = id
	}
	if err := c.deps.Persister.SaveGraphLayout(ctx, c.id, c.Layout()); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	logger.Info("canvas %s: saved %d nodes, target %s with %d fields", c.id, len(c.order), t.TableRef, len(ids))
	c.commit()
	return nil
}

// Restore rebuilds a saved canvas. Source tables are loaded concurrently; a
// table that fails to load is left out and logged, its refs stay in the
// target's field maps and are simply not drawn.
func Restore(ctx context.Context, canvasID string, cfg config.CanvasConfig, deps Deps) (*Canvas, error) {
	if deps.Persister == nil {
		return nil, ErrNoPersister
	}
	layout, err := deps.Persister.LoadGraphLayout(ctx, canvasID)
	if err != nil {
		return nil, fmt.Errorf("load layout %s: %w", canvasID, err)
	}
	c := New(canvasID, cfg, deps)

	var target *NodeLayout
	var sources []NodeLayout
	for i := range layout {
		if layout[i].Kind == KindTarget {
			target = &layout[i]
		} else {
			sources = append(sources, layout[i])
		}
	}
	if target == nil {
		return nil, fmt.Errorf("layout %s: %w", canvasID, ErrNoTarget)
	}

	fields, err := deps.Persister.LoadTargetFields(ctx, target.TableRef)
	if err != nil {
		return nil, fmt.Errorf("load target fields %s: %w", target.TableRef, err)
	}

	loaded := make([]*Node, len(sources))
	if len(sources) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, l := range sources {
			g.Go(func() error {
				n, err := c.Materialize(gctx, l.TableRef, l.Kind)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("canvas %s: %v", canvasID, err)
					return nil
				}
				n.ID = l.ID
				n.TableKind = l.TableKind
				loaded[i] = n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	c.setTarget(target.ID, target.TableRef, target.TableKind, target.TableRef, target.Position, fields)

	for i, n := range loaded {
		if n == nil {
			continue
		}
		if err := c.Place(n, sources[i].Position); err != nil {
			logger.Warn("canvas %s: %v", canvasID, err)
		}
	}
	return c, nil
}
