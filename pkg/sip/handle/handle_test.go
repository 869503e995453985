package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_InsertGet(t *testing.T) {
	tbl := NewTable[string]()

	a := tbl.Insert("a")
	b := tbl.Insert("b")

	require.False(t, a.IsNil())
	require.NotEqual(t, a, b)

	v, ok := tbl.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = tbl.Get(b)
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_StaleIDAfterRemove(t *testing.T) {
	tbl := NewTable[int]()

	old := tbl.Insert(1)
	require.True(t, tbl.Remove(old))
	assert.False(t, tbl.Remove(old), "double remove must fail")

	// slot is reused with a new generation
	fresh := tbl.Insert(2)
	assert.NotEqual(t, old, fresh)

	_, ok := tbl.Get(old)
	assert.False(t, ok, "stale id must not resolve to the new value")

	v, ok := tbl.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestTable_NilAndForeignIDs(t *testing.T) {
	tbl := NewTable[int]()
	tbl.Insert(7)

	_, ok := tbl.Get(Nil)
	assert.False(t, ok)

	_, ok = tbl.Get(makeID(42, 1))
	assert.False(t, ok)

	assert.Equal(t, "nil", Nil.String())
}

func TestTable_UniqueAcrossChurn(t *testing.T) {
	tbl := NewTable[int]()
	seen := make(map[ID]bool)

	for i := 0; i < 1000; i++ {
		id := tbl.Insert(i)
		require.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
		if i%3 != 0 {
			tbl.Remove(id)
		}
	}
	assert.Equal(t, 334, tbl.Len())
}

func TestTable_Each(t *testing.T) {
	tbl := NewTable[string]()
	a := tbl.Insert("a")
	b := tbl.Insert("b")
	c := tbl.Insert("c")
	tbl.Remove(b)

	assert.Equal(t, []ID{a, c}, tbl.IDs())

	var visited int
	tbl.Each(func(ID, string) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
