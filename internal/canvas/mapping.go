package canvas

import (
	"sort"

	"tablecomposer/pkg/config"
)

// quoteInto adds ref to the field map of f. An empty map is created with the
// kind's default merge rule; a non-empty one only grows on convergent kinds.
func quoteInto(f *Field, ref SourceRef, rules config.KindRules) error {
	if !f.Mapped() {
		ref.SortIndex = 0
		f.FieldMap = &FieldMap{MergeRule: rules.DefaultMergeRule, Sources: []SourceRef{ref}}
		return nil
	}
	if !rules.Convergent || f.FieldMap.has(ref.SourceFieldID) {
		return ErrAlreadyMapped
	}
	ref.SortIndex = len(f.FieldMap.Sources)
	f.FieldMap.Sources = append(f.FieldMap.Sources, ref)
	return nil
}

// unquoteFrom removes the refs to the given source fields and returns the ids
// actually removed. A map left without sources is cleared.
func unquoteFrom(f *Field, sourceFieldIDs []string) []string {
	if f.FieldMap == nil {
		return nil
	}
	drop := make(map[string]bool, len(sourceFieldIDs))
	for _, id := range sourceFieldIDs {
		drop[id] = true
	}
	var removed []string
	kept := f.FieldMap.Sources[:0]
	for _, s := range f.FieldMap.Sources {
		if drop[s.SourceFieldID] {
			removed = append(removed, s.SourceFieldID)
			continue
		}
		kept = append(kept, s)
	}
	f.FieldMap.Sources = kept
	if len(kept) == 0 {
		f.FieldMap = nil
	} else {
		reindex(f.FieldMap)
	}
	return removed
}

// reindex sorts sources by SortIndex and makes the indices dense.
func reindex(m *FieldMap) {
	sort.SliceStable(m.Sources, func(i, j int) bool {
		return m.Sources[i].SortIndex < m.Sources[j].SortIndex
	})
	for i := range m.Sources {
		m.Sources[i].SortIndex = i
	}
}

func sourceIDs(f *Field) []string {
	if !f.Mapped() {
		return nil
	}
	ids := make([]string, len(f.FieldMap.Sources))
	for i, s := range f.FieldMap.Sources {
		ids[i] = s.SourceFieldID
	}
	return ids
}

func (c *Canvas) markUsed(sourceFieldID string) {
	c.used[sourceFieldID]++
}

func (c *Canvas) release(sourceFieldIDs ...string) {
	for _, id := range sourceFieldIDs {
		if c.used[id] <= 1 {
			delete(c.used, id)
		} else {
			c.used[id]--
		}
	}
}

// IsUsed reports whether any target field quotes the source field.
func (c *Canvas) IsUsed(sourceFieldID string) bool {
	return c.used[sourceFieldID] > 0
}

// UsedFields returns the used source field ids, sorted.
func (c *Canvas) UsedFields() []string {
	out := make([]string, 0, len(c.used))
	for id := range c.used {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// rebuildUsed recomputes the used set from the target's field maps.
func (c *Canvas) rebuildUsed() {
	clear(c.used)
	t := c.target()
	if t == nil {
		return
	}
	for _, f := range t.Fields {
		for _, id := range sourceIDs(f) {
			c.markUsed(id)
		}
	}
}

// referencesTo returns, per target field UID, the ids of n's fields it quotes.
// Every field of n counts, whatever the current filter.
func (c *Canvas) referencesTo(n *Node) map[int][]string {
	t := c.target()
	if t == nil {
		return nil
	}
	owned := make(map[string]bool, len(n.Fields))
	for _, f := range n.Fields {
		if f.ID != "" {
			owned[f.ID] = true
		}
	}
	refs := map[int][]string{}
	for _, tf := range t.Fields {
		for _, id := range sourceIDs(tf) {
			if owned[id] {
				refs[tf.UID] = append(refs[tf.UID], id)
			}
		}
	}
	return refs
}

// duplicates returns the names of fields that may not be quoted again.
func (c *Canvas) duplicates(fields []*Field) []string {
	if c.rules().Convergent {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, f := range fields {
		if c.IsUsed(f.ID) || seen[f.ID] {
			names = append(names, f.Name)
		}
		seen[f.ID] = true
	}
	return names
}

// guardDuplicates reports and rejects a quote of already used fields.
func (c *Canvas) guardDuplicates(fields []*Field) error {
	names := c.duplicates(fields)
	if len(names) == 0 {
		return nil
	}
	c.deps.Dialogs.ReportDuplicateFields(names)
	return &DuplicateFieldsError{Names: names}
}

func refFor(n *Node, f *Field) SourceRef {
	return SourceRef{
		SourceFieldID:   f.ID,
		SourceTableID:   n.TableRef,
		SourceTableKind: n.Kind,
		FieldName:       f.Name,
		TableName:       n.Name,
	}
}
