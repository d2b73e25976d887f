package introspect

import "strings"

// Column represents a table column.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	PK       bool    `json:"pk"`
	Comment  *string `json:"comment,omitempty"`
}

// TableMeta describes one table of the source database.
type TableMeta struct {
	Schema      string  `json:"schema,omitempty"`
	Name        string  `json:"name"`
	Comment     *string `json:"comment,omitempty"`     // optional table comment
	Size8kPages int64   `json:"size8kPages,omitempty"` // optional size in 8k pages
}

// ID is the identifier the composer uses for the table: "schema.name", or the
// bare name for schemaless databases.
func (t TableMeta) ID() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// FieldID is the identifier of column col in the table with id tableID.
func FieldID(tableID, col string) string {
	return tableID + "#" + col
}

// SplitTableID splits a table id into schema and name at the last dot. It is
// ambiguous for names containing dots; db.Source resolves ids through the
// table listing instead.
func SplitTableID(id string) (schema, name string) {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}
