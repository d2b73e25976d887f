package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteRegistry(t *testing.T) {
	r := NewQuoteRegistry()

	assert.True(t, r.AddOwnership("s.t#a", "n1"))
	assert.True(t, r.AddOwnership("s.t#a", "n1"))
	assert.False(t, r.AddOwnership("s.t#a", "n2"), "a field has one owner")
	owner, ok := r.OwnerOf("s.t#a")
	assert.True(t, ok)
	assert.Equal(t, "n1", owner)

	r.AddConnectorHandle("1@n1", 0)
	h, ok := r.Handle("1@n1")
	assert.True(t, ok)
	assert.Equal(t, ConnectorHandle(0), h)

	r.RemoveConnectorHandle("1@n1")
	_, ok = r.Handle("1@n1")
	assert.False(t, ok)

	r.AddConnectorHandle("2@n1", 1)
	r.RemoveOwnership("s.t#a")
	_, ok = r.OwnerOf("s.t#a")
	assert.False(t, ok)

	r.AddOwnership("s.t#b", "n2")
	r.ClearAll()
	owners, handles := r.Len()
	assert.Zero(t, owners)
	assert.Zero(t, handles)
}
