package canvas

// ConnectorHandle indexes a connector created in the current pass.
type ConnectorHandle int

// QuoteRegistry maps source fields to the node that owns them and mapping keys
// to the connector drawn for them. It is a cache rebuilt by every Resync; the
// field maps of the target node remain the source of truth.
type QuoteRegistry struct {
	owners  map[string]string
	handles map[string]ConnectorHandle
}

func NewQuoteRegistry() *QuoteRegistry {
	return &QuoteRegistry{
		owners:  map[string]string{},
		handles: map[string]ConnectorHandle{},
	}
}

// AddOwnership records nodeID as owner of the source field. A field has at most
// one owner; the first registration wins and later ones return false.
func (r *QuoteRegistry) AddOwnership(sourceFieldID, nodeID string) bool {
	if owner, ok := r.owners[sourceFieldID]; ok {
		return owner == nodeID
	}
	r.owners[sourceFieldID] = nodeID
	return true
}

func (r *QuoteRegistry) RemoveOwnership(sourceFieldID string) {
	delete(r.owners, sourceFieldID)
}

// OwnerOf returns the id of the node owning the source field.
func (r *QuoteRegistry) OwnerOf(sourceFieldID string) (string, bool) {
	id, ok := r.owners[sourceFieldID]
	return id, ok
}

func (r *QuoteRegistry) AddConnectorHandle(mappingKey string, h ConnectorHandle) {
	r.handles[mappingKey] = h
}

func (r *QuoteRegistry) RemoveConnectorHandle(mappingKey string) {
	delete(r.handles, mappingKey)
}

func (r *QuoteRegistry) Handle(mappingKey string) (ConnectorHandle, bool) {
	h, ok := r.handles[mappingKey]
	return h, ok
}

// ClearAll drops every ownership and handle.
func (r *QuoteRegistry) ClearAll() {
	clear(r.owners)
	clear(r.handles)
}

// Len returns the number of ownerships and handles.
func (r *QuoteRegistry) Len() (owners, handles int) {
	return len(r.owners), len(r.handles)
}
