package ledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorSkipTake(t *testing.T) {
	coll := postFixture(t)

	cur, err := coll.Find(nil, Order{})
	require.NoError(t, err)
	n, err := cur.Skip(1).Take(2).Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cur, err = coll.Find(nil, Order{})
	require.NoError(t, err)
	n, err = cur.Take(2).Skip(1).Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err = coll.Find(nil, Order{})
	require.NoError(t, err)
	ids, err := cur.Skip(1).Take(2).CollectIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, ids)
}

func TestCursorSkipTakeIdentity(t *testing.T) {
	coll := postFixture(t)
	total := findCount(t, coll, nil)
	require.Equal(t, 4, total)

	for n := 0; n <= 5; n++ {
		for m := 0; m <= 5; m++ {
			cur, err := coll.Find(nil, Order{})
			require.NoError(t, err)
			got, err := cur.Skip(n).Take(m).Count()
			require.NoError(t, err)
			want := min(m, total-n)
			if want < 0 {
				want = 0
			}
			assert.Equal(t, want, got, "skip(%d).take(%d)", n, m)
		}
	}
}

func TestCursorPrimaryOrder(t *testing.T) {
	coll := postFixture(t)

	assert.Equal(t, []uint64{1, 2, 3, 4}, findIDs(t, coll, nil, OrderAsc()))
	assert.Equal(t, []uint64{4, 3, 2, 1}, findIDs(t, coll, nil, OrderDesc()))

	// Descending order composes with filters and skip/take.
	cur, err := coll.Find(FilterNot(Eq("title", StringKey("Act"))), OrderDesc())
	require.NoError(t, err)
	ids, err := cur.Skip(1).CollectIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids)
}

func TestCursorFieldOrder(t *testing.T) {
	coll := postFixture(t)

	// Timestamps: D1 1234567890, D2 1234567899, D3/D4 1234567819.
	// Post-sort path: the plan is a full scan, ties break by primary.
	assert.Equal(t, []uint64{3, 4, 1, 2}, findIDs(t, coll, nil, OrderBy("timestamp", false)))
	assert.Equal(t, []uint64{2, 1, 4, 3}, findIDs(t, coll, nil, OrderBy("timestamp", true)))

	// Index-walk path: the plan is a scan of the ordering field's index.
	assert.Equal(t, []uint64{3, 4, 1, 2}, findIDs(t, coll, Has("timestamp"), OrderBy("timestamp", false)))
	assert.Equal(t, []uint64{2, 1, 4, 3}, findIDs(t, coll, Has("timestamp"), OrderBy("timestamp", true)))

	// Both paths agree on a bounded scan as well.
	f := Ge("timestamp", IntKey(1234567819))
	assert.Equal(t, []uint64{3, 4, 1, 2}, findIDs(t, coll, f, OrderBy("timestamp", false)))

	// Ordering by a field of the documents that is not indexed.
	assert.Equal(t, []uint64{4, 2, 3, 1}, findIDs(t, coll, nil, OrderBy("title", false)))

	// Documents without the ordering field sort first ascending.
	id, err := coll.Insert(map[string]any{"tag": []any{"Zzz"}})
	require.NoError(t, err)
	got := findIDs(t, coll, nil, OrderBy("title", false))
	require.Len(t, got, 5)
	assert.Equal(t, id, got[0])
}

func TestCursorCountEqualsWalk(t *testing.T) {
	coll := postFixture(t)

	f := Eq("tag", StringKey("Foo"))
	cur, err := coll.Find(f, Order{})
	require.NoError(t, err)
	var walked int
	for cur.Next() {
		walked++
	}
	require.NoError(t, cur.Err())

	assert.Equal(t, walked, findCount(t, coll, f))
}

func TestCursorCloseEarly(t *testing.T) {
	coll := postFixture(t)

	cur, err := coll.Find(nil, Order{})
	require.NoError(t, err)
	require.True(t, cur.Next())
	require.NoError(t, cur.Close())
	assert.False(t, cur.Next(), "a closed cursor yields nothing")
	require.NoError(t, cur.Close())

	// The aborted read transaction does not block writers.
	_, err = coll.Insert(post("After", nil, 1))
	require.NoError(t, err)
}

func TestCursorTakeBeforeIteration(t *testing.T) {
	coll := postFixture(t)

	cur, err := coll.Find(nil, Order{})
	require.NoError(t, err)
	docs, err := cur.Take(0).Collect()
	require.NoError(t, err)
	assert.Empty(t, docs)
}
