package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	forest, err := Compile("Home\n,Services\n,,Permits\n,,Parking\n,About")
	require.NoError(t, err)

	x := NewIndex(forest)
	require.Equal(t, 5, x.Len())

	root, ok := x.SingleRoot()
	require.True(t, ok)
	assert.Equal(t, NodeID(0), root)

	permits, ok := x.ByPath("/home/services/permits")
	require.True(t, ok)
	n, _ := x.Node(permits)
	assert.Equal(t, "Permits", n.Name)
	assert.Equal(t, "/home/services/permits", n.Link)
	assert.Equal(t, 2, n.Depth)
	assert.True(t, x.IsLeaf(permits))

	services, _ := x.ByPath("/home/services")
	assert.Equal(t, []NodeID{root, services}, x.Ancestors(permits))
	assert.Equal(t, services, x.Parent(permits))
	assert.Equal(t, NoNode, x.Parent(root))
	assert.False(t, x.IsLeaf(services))

	assert.Len(t, x.Leaves(), 3)
	assert.Equal(t, []NodeID{permits}, x.LeavesBySegment("permits"))

	about, ok := x.ChildBySegment(root, "about")
	require.True(t, ok)
	assert.Equal(t, "/home/about", x.nodes[about].Path)

	_, ok = x.Node(99)
	assert.False(t, ok)
}

func TestIndexMultipleRoots(t *testing.T) {
	forest, err := Compile("A\n,X\nB\n,Y")
	require.NoError(t, err)

	x := NewIndex(forest)
	_, ok := x.SingleRoot()
	assert.False(t, ok)
	assert.Len(t, x.Roots(), 2)
	assert.Equal(t, x.Roots(), x.Children(NoNode))
}

func TestEmptyIndex(t *testing.T) {
	var nilIndex *Index
	assert.True(t, nilIndex.Empty())
	assert.True(t, NewIndex(nil).Empty())
}
