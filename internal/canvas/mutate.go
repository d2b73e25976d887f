package canvas

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"tablecomposer/internal/introspect"
	"tablecomposer/internal/logger"
)

// Quote references sourceUID from the target field targetUID.
func (c *Canvas) Quote(targetUID, sourceUID int) error {
	_, tf, err := c.targetField(targetUID)
	if err != nil {
		return err
	}
	sn, sf, err := c.sourceField(sourceUID)
	if err != nil {
		return err
	}
	if err := c.guardDuplicates([]*Field{sf}); err != nil {
		return err
	}
	if err := quoteInto(tf, refFor(sn, sf), c.rules()); err != nil {
		return fmt.Errorf("quote %s into %s: %w", sf.Name, tf.Name, err)
	}
	c.markUsed(sf.ID)
	c.commit()
	return nil
}

// QuoteAsNew creates one target field per source field, each quoting it, and
// returns the new UIDs. Nothing is created if any source is a duplicate.
func (c *Canvas) QuoteAsNew(sourceUIDs []int) ([]int, error) {
	t := c.target()
	if t == nil {
		return nil, ErrNoTarget
	}
	nodes, fields, err := c.sourceFields(sourceUIDs)
	if err != nil {
		return nil, err
	}
	if err := c.guardDuplicates(fields); err != nil {
		return nil, err
	}
	rules := c.rules()
	uids := make([]int, 0, len(fields))
	for i, sf := range fields {
		nf := c.copyOf(sf)
		if err := quoteInto(nf, refFor(nodes[i], sf), rules); err != nil {
			return nil, err
		}
		c.markUsed(sf.ID)
		t.Fields = append(t.Fields, nf)
		uids = append(uids, nf.UID)
	}
	c.commit()
	return uids, nil
}

// Unquote removes the given source fields from the target field's map.
func (c *Canvas) Unquote(targetUID int, sourceFieldIDs ...string) error {
	_, tf, err := c.targetField(targetUID)
	if err != nil {
		return err
	}
	c.release(unquoteFrom(tf, sourceFieldIDs)...)
	if c.selectedMapping != "" && !tf.Mapped() {
		c.selectedMapping = ""
	}
	c.commit()
	return nil
}

// Copy creates unmapped target fields with the attributes of the source
// fields. Copies are forks: nothing is marked used.
func (c *Canvas) Copy(sourceUIDs []int) ([]int, error) {
	t := c.target()
	if t == nil {
		return nil, ErrNoTarget
	}
	_, fields, err := c.sourceFields(sourceUIDs)
	if err != nil {
		return nil, err
	}
	uids := make([]int, 0, len(fields))
	for _, sf := range fields {
		nf := c.copyOf(sf)
		t.Fields = append(t.Fields, nf)
		uids = append(uids, nf.UID)
	}
	c.commit()
	return uids, nil
}

// CreateField appends a blank field to the target and returns its UID.
func (c *Canvas) CreateField(name, dataType string) (int, error) {
	t := c.target()
	if t == nil {
		return 0, ErrNoTarget
	}
	f := &Field{UID: c.newUID(), Name: name, DataType: dataType, Nullable: true}
	t.Fields = append(t.Fields, f)
	c.commit()
	return f.UID, nil
}

// EditField changes the name and data type of a target field.
func (c *Canvas) EditField(uid int, name, dataType string) error {
	_, f, err := c.targetField(uid)
	if err != nil {
		return err
	}
	f.Name = name
	f.DataType = dataType
	c.commit()
	return nil
}

// DeleteTargetFields removes target fields and releases what they quoted.
func (c *Canvas) DeleteTargetFields(uids []int) error {
	t := c.target()
	if t == nil {
		return ErrNoTarget
	}
	drop := make(map[int]bool, len(uids))
	for _, uid := range uids {
		if t.field(uid) == nil {
			return fmt.Errorf("delete field %d: %w", uid, ErrNotTarget)
		}
		drop[uid] = true
	}
	kept := t.Fields[:0]
	for _, f := range t.Fields {
		if !drop[f.UID] {
			kept = append(kept, f)
			continue
		}
		c.release(unquoteFrom(f, sourceIDs(f))...)
		delete(t.Selected, f.UID)
		if t.SingleSelected == f.UID {
			t.SingleSelected = 0
		}
	}
	clear(t.Fields[len(kept):])
	t.Fields = kept
	c.commit()
	return nil
}

// RemoveNode removes a source node. If target fields quote its fields the
// removal needs confirmation; once confirmed those refs are unquoted first.
func (c *Canvas) RemoveNode(nodeID string) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if n.Kind == KindTarget {
		return ErrTargetNode
	}
	refs := c.referencesTo(n)
	if len(refs) > 0 {
		t := c.target()
		var names []string
		for _, f := range t.Fields {
			if _, ok := refs[f.UID]; ok {
				names = append(names, f.Name)
			}
		}
		if !c.deps.Dialogs.ConfirmDeleteWithReferences(n.Name, names) {
			return ErrDeleteCancelled
		}
		for uid, ids := range refs {
			c.release(unquoteFrom(t.field(uid), ids)...)
		}
	}
	c.remove(n.ID)
	c.selectedMapping = ""
	logger.Debug("canvas %s: removed node %s (%s), %d target fields unquoted", c.id, n.ID, n.TableRef, len(refs))
	c.commit()
	return nil
}

// SortFields reorders the fields of a node. order must list every field UID
// exactly once. Field maps are untouched.
func (c *Canvas) SortFields(nodeID string, order []int) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if len(order) != len(n.Fields) {
		return ErrInvalidOrder
	}
	sorted := make([]*Field, 0, len(order))
	seen := make(map[int]bool, len(order))
	for _, uid := range order {
		f := n.field(uid)
		if f == nil || seen[uid] {
			return ErrInvalidOrder
		}
		seen[uid] = true
		sorted = append(sorted, f)
	}
	n.Fields = sorted
	c.commit()
	return nil
}

// SortSources reorders the sources of one target field's map.
func (c *Canvas) SortSources(targetUID int, order []string) error {
	_, f, err := c.targetField(targetUID)
	if err != nil {
		return err
	}
	if !f.Mapped() {
		return ErrNotMapped
	}
	if len(order) != len(f.FieldMap.Sources) {
		return ErrInvalidOrder
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		if _, dup := pos[id]; dup || !f.FieldMap.has(id) {
			return ErrInvalidOrder
		}
		pos[id] = i
	}
	for i := range f.FieldMap.Sources {
		f.FieldMap.Sources[i].SortIndex = pos[f.FieldMap.Sources[i].SourceFieldID]
	}
	reindex(f.FieldMap)
	c.commit()
	return nil
}

// SetMergeRule changes the merge rule of a mapped target field.
func (c *Canvas) SetMergeRule(targetUID int, rule string) error {
	_, f, err := c.targetField(targetUID)
	if err != nil {
		return err
	}
	if !f.Mapped() {
		return ErrNotMapped
	}
	if !c.rules().AllowsMergeRule(rule) {
		return fmt.Errorf("%w: %q", ErrMergeRule, rule)
	}
	f.FieldMap.MergeRule = rule
	c.commit()
	return nil
}

// Paginate moves the node delta pages. It reports false, without a resync,
// when the page does not change.
func (c *Canvas) Paginate(nodeID string, delta int) (bool, error) {
	n, err := c.node(nodeID)
	if err != nil {
		return false, err
	}
	total := len(Filter(n.Fields, n.Keyword))
	next := ClampOffset(n.PageOffset+delta, total, c.cfg.PageSize)
	if next == n.PageOffset {
		return false, nil
	}
	n.PageOffset = next
	c.commit()
	return true, nil
}

// Search sets the keyword of a node and returns to its first page.
func (c *Canvas) Search(nodeID, keyword string) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	n.Keyword = keyword
	n.PageOffset = 0
	c.commit()
	return nil
}

// Reveal moves the node to the page holding field uid, clearing a keyword
// that hides it.
func (c *Canvas) Reveal(nodeID string, uid int) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if n.field(uid) == nil {
		return ErrUnknownField
	}
	matched := Filter(n.Fields, n.Keyword)
	idx := indexOf(matched, uid)
	if idx < 0 {
		n.Keyword = ""
		idx = n.fieldIndex(uid)
	}
	n.PageOffset = idx / c.cfg.PageSize
	if n.Kind.IsSource() {
		n.Expanded = true
	}
	c.commit()
	return nil
}

// SetExpanded collapses or expands a source node.
func (c *Canvas) SetExpanded(nodeID string, expanded bool) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if n.Kind == KindTarget {
		return ErrTargetNode
	}
	n.Expanded = expanded
	c.commit()
	return nil
}

// Move places a node at pos. Anchor sides follow the new position.
func (c *Canvas) Move(nodeID string, pos Position) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	n.Position = pos
	c.commit()
	return nil
}

// SelectField sets the single selection of a node; 0 clears it.
func (c *Canvas) SelectField(nodeID string, uid int) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	if uid != 0 && n.field(uid) == nil {
		return ErrUnknownField
	}
	n.SingleSelected = uid
	c.commit()
	return nil
}

// SetSelection replaces the multi-selection of a node.
func (c *Canvas) SetSelection(nodeID string, uids []int) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	sel := make(map[int]bool, len(uids))
	for _, uid := range uids {
		if n.field(uid) == nil {
			return ErrUnknownField
		}
		sel[uid] = true
	}
	n.Selected = sel
	c.commit()
	return nil
}

// Selection returns the selected UIDs of a node in field order.
func (c *Canvas) Selection(nodeID string) []int {
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil
	}
	var out []int
	for _, f := range n.Fields {
		if n.Selected[f.UID] {
			out = append(out, f.UID)
		}
	}
	return out
}

// SelectMapping sets the globally selected connector; "" clears it.
func (c *Canvas) SelectMapping(key string) {
	c.selectedMapping = key
	c.commit()
}

// Materialize loads a table into a provisional node that is not yet on the
// canvas. It reads no canvas state and may run outside the caller's lock.
func (c *Canvas) Materialize(ctx context.Context, tableID string, kind NodeKind) (*Node, error) {
	if !kind.IsSource() {
		return nil, fmt.Errorf("materialize %s: %w", tableID, ErrTargetNode)
	}
	if c.deps.Loader == nil {
		return nil, ErrNoLoader
	}
	meta, err := c.deps.Loader.LoadTable(ctx, tableID)
	if err != nil {
		return nil, &LoadError{TableID: tableID, Err: err}
	}
	cols, err := c.deps.Loader.LoadFields(ctx, tableID, c.cfg.FieldLimit)
	if err != nil {
		return nil, &LoadError{TableID: tableID, Err: err}
	}
	n := &Node{
		ID:       uuid.NewString(),
		Kind:     kind,
		TableRef: meta.ID(),
		Name:     meta.Name,
		Expanded: true,
	}
	for _, col := range cols {
		f := &Field{
			ID:         introspect.FieldID(n.TableRef, col.Name),
			Name:       col.Name,
			DataType:   col.Type,
			PrimaryKey: col.PK,
			Nullable:   col.Nullable,
		}
		if col.Comment != nil {
			f.Comment = *col.Comment
		}
		n.Fields = append(n.Fields, f)
	}
	return n, nil
}

// Place puts a materialized node on the canvas at pos. A table already on
// the canvas is not placed twice.
func (c *Canvas) Place(n *Node, pos Position) error {
	if !n.Kind.IsSource() {
		return ErrTargetNode
	}
	for _, other := range c.nodes {
		if other.TableRef == n.TableRef || other.ID == n.ID {
			return fmt.Errorf("%s: %w", n.TableRef, ErrAlreadyPlaced)
		}
	}
	n.Position = pos
	c.insert(n)
	c.commit()
	return nil
}

// AddTable materializes and places a table in one step.
func (c *Canvas) AddTable(ctx context.Context, tableID string, kind NodeKind, pos Position) (*Node, error) {
	n, err := c.Materialize(ctx, tableID, kind)
	if err != nil {
		return nil, err
	}
	if err := c.Place(n, pos); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Canvas) sourceFields(uids []int) ([]*Node, []*Field, error) {
	nodes := make([]*Node, 0, len(uids))
	fields := make([]*Field, 0, len(uids))
	for _, uid := range uids {
		n, f, err := c.sourceField(uid)
		if err != nil {
			return nil, nil, fmt.Errorf("field %d: %w", uid, err)
		}
		nodes = append(nodes, n)
		fields = append(fields, f)
	}
	return nodes, fields, nil
}

// copyOf returns a new unpersisted target field with the scalars of sf.
func (c *Canvas) copyOf(sf *Field) *Field {
	return &Field{
		UID:        c.newUID(),
		Name:       sf.Name,
		DataType:   sf.DataType,
		PrimaryKey: sf.PrimaryKey && c.rules().CopyPrimaryKey,
		Nullable:   sf.Nullable,
		Comment:    sf.Comment,
	}
}

// MappingsOf returns the target field UIDs quoting fields of the node, sorted.
func (c *Canvas) MappingsOf(nodeID string) []int {
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil
	}
	refs := c.referencesTo(n)
	out := make([]int, 0, len(refs))
	for uid := range refs {
		out = append(out, uid)
	}
	sort.Ints(out)
	return out
}
