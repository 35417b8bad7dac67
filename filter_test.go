package ledb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterWire(t *testing.T) {
	f, err := ParseFilter([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = ParseFilter([]byte(`{"field": {"$eq": 0}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Cond)
	assert.Equal(t, "field", f.Field)
	assert.Equal(t, CompEq, f.Cond.Op)
	assert.Equal(t, KeyInt, f.Cond.Args[0].Type())

	f, err = ParseFilter([]byte(`{"name": {"$eq": "vlada"}}`))
	require.NoError(t, err)
	assert.Equal(t, "vlada", f.Cond.Args[0].StringVal())

	f, err = ParseFilter([]byte(`{"score": {"$gt": 0.5}}`))
	require.NoError(t, err)
	assert.Equal(t, KeyFloat, f.Cond.Args[0].Type())

	f, err = ParseFilter([]byte(`{"$not": {"a": {"$gt": 9}}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Not)
	assert.Equal(t, CompGt, f.Not.Cond.Op)

	f, err = ParseFilter([]byte(`{"$and": [{"a": {"$eq": 11}}, {"b": {"$lt": -1}}]}`))
	require.NoError(t, err)
	require.Len(t, f.And, 2)
	assert.Equal(t, int64(-1), f.And[1].Cond.Args[0].Int())

	f, err = ParseFilter([]byte(`{"$or": [{"a": "$has"}, {"b": {"$in": [1, 2, 3]}}]}`))
	require.NoError(t, err)
	require.Len(t, f.Or, 2)
	assert.Equal(t, CompHas, f.Or[0].Cond.Op)
	assert.Len(t, f.Or[1].Cond.Args, 3)

	f, err = ParseFilter([]byte(`{"ts": {"$bw": [10, true, 20, false]}}`))
	require.NoError(t, err)
	assert.Equal(t, CompBw, f.Cond.Op)
	assert.Equal(t, [2]bool{true, false}, f.Cond.Incl)

	_, err = ParseFilter([]byte(`{"a": {"$eq": 1}, "b": {"$eq": 2}}`))
	require.Error(t, err, "filters must have exactly one key")

	_, err = ParseFilter([]byte(`{"a": {"$near": 1}}`))
	require.Error(t, err)
}

func TestFilterWireRoundTrip(t *testing.T) {
	filters := []*Filter{
		Eq("title", StringKey("Foo")),
		In("n", IntKey(1), IntKey(2)),
		Bw("ts", IntKey(10), true, IntKey(20), false),
		Has("tag"),
		FilterNot(Eq("a", IntKey(1))),
		FilterAnd(Eq("a", IntKey(1)), Lt("b", FloatKey(0.5))),
		FilterOr(Ge("a", IntKey(1)), Le("b", IntKey(2))),
	}
	for _, f := range filters {
		data, err := json.Marshal(f)
		require.NoError(t, err)
		back, err := ParseFilter(data)
		require.NoError(t, err)
		again, err := json.Marshal(back)
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(again))
	}
}

func TestParseOrderWire(t *testing.T) {
	o, err := ParseOrder([]byte(`"$asc"`))
	require.NoError(t, err)
	assert.Equal(t, Order{}, o)

	o, err = ParseOrder([]byte(`"$desc"`))
	require.NoError(t, err)
	assert.True(t, o.Desc)

	o, err = ParseOrder([]byte(`{"name": "$asc"}`))
	require.NoError(t, err)
	assert.Equal(t, Order{Field: "name"}, o)

	o, err = ParseOrder([]byte(`{"time": "$desc"}`))
	require.NoError(t, err)
	assert.Equal(t, Order{Field: "time", Desc: true}, o)

	_, err = ParseOrder([]byte(`"$random"`))
	require.Error(t, err)

	for _, o := range []Order{OrderAsc(), OrderDesc(), OrderBy("name", false), OrderBy("time", true)} {
		data, err := json.Marshal(o)
		require.NoError(t, err)
		back, err := ParseOrder(data)
		require.NoError(t, err)
		assert.Equal(t, o, back)
	}
}

func TestFilterMatch(t *testing.T) {
	doc := map[string]any{
		"title": "Foo",
		"tag":   []any{"Bar", "Baz"},
		"ts":    int64(100),
		"score": 0.5,
		"empty": []any{},
	}

	tests := []struct {
		filter *Filter
		want   bool
	}{
		{nil, true},
		{Eq("title", StringKey("Foo")), true},
		{Eq("title", StringKey("Bar")), false},
		{Eq("tag", StringKey("Baz")), true},
		{Eq("tag", StringKey("Foo")), false},
		{In("ts", IntKey(99), IntKey(100)), true},
		{In("ts", IntKey(99), IntKey(101)), false},
		{Lt("ts", IntKey(100)), false},
		{Le("ts", IntKey(100)), true},
		{Gt("ts", IntKey(99)), true},
		{Ge("ts", IntKey(101)), false},
		{Bw("ts", IntKey(100), true, IntKey(200), true), true},
		{Bw("ts", IntKey(100), false, IntKey(200), true), false},
		{Has("title"), true},
		{Has("missing"), false},
		{Has("empty"), false}, // an empty array yields no values
		{FilterAnd(Eq("title", StringKey("Foo")), Gt("ts", IntKey(99))), true},
		{FilterAnd(Eq("title", StringKey("Foo")), Gt("ts", IntKey(100))), false},
		{FilterOr(Eq("title", StringKey("Bar")), Eq("tag", StringKey("Bar"))), true},
		{FilterNot(Eq("title", StringKey("Foo"))), false},
		{FilterNot(Eq("title", StringKey("Bar"))), true},
		// The operand is coerced to the value's type: int 1 becomes "1".
		{Eq("title", IntKey(1)), false},
		// Numeric operands coerce across int/float.
		{Eq("score", FloatKey(0.5)), true},
		{Gt("ts", FloatKey(99.4)), true},
	}
	for _, tt := range tests {
		data, _ := json.Marshal(tt.filter)
		assert.Equal(t, tt.want, tt.filter.Match(doc), "filter %s", data)
	}
}
