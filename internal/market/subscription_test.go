package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexFirstAndLast(t *testing.T) {
	x := NewSubscriptionIndex()

	assert.True(t, x.Add("c1", "rb2501"))
	assert.False(t, x.Add("c2", "rb2501"))
	assert.False(t, x.Add("c1", "rb2501")) // idempotent

	assert.False(t, x.Remove("c1", "rb2501"))
	assert.True(t, x.Remove("c2", "rb2501"))
	assert.False(t, x.Remove("c2", "rb2501")) // no-op
}

func TestIndexRoundTripLeavesNothing(t *testing.T) {
	x := NewSubscriptionIndex()
	x.Add("c1", "rb2501")
	x.Add("c1", "cu2502")
	x.Add("c2", "rb2501")

	x.Remove("c1", "rb2501")
	x.Remove("c1", "cu2502")
	x.Remove("c2", "rb2501")

	symbols, clients := x.Counts()
	assert.Zero(t, symbols)
	assert.Zero(t, clients)
}

func TestIndexRemoveClient(t *testing.T) {
	x := NewSubscriptionIndex()
	x.Add("c1", "rb2501")
	x.Add("c1", "cu2502")
	x.Add("c2", "rb2501")

	released := x.RemoveClient("c1")
	assert.ElementsMatch(t, []string{"cu2502"}, released)

	symbols, clients := x.Counts()
	assert.Equal(t, 1, symbols)
	assert.Equal(t, 1, clients)
	assert.ElementsMatch(t, []string{"c2"}, x.Clients("rb2501"))
}

func TestIndexBothSidesMirror(t *testing.T) {
	x := NewSubscriptionIndex()
	x.Add("c1", "rb2501")

	assert.ElementsMatch(t, []string{"rb2501"}, x.Symbols("c1"))
	assert.ElementsMatch(t, []string{"c1"}, x.Clients("rb2501"))
}
