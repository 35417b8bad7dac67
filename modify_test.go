package ledb

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyOK(t *testing.T, doc any, m Modify) any {
	t.Helper()
	out, err := m.Apply(doc)
	require.NoError(t, err)
	return out
}

func TestModifySetAndDelete(t *testing.T) {
	doc := map[string]any{"a": int64(1), "b": map[string]any{"c": "x"}}

	out := applyOK(t, doc, Modify{Set("a", 2)})
	assert.Equal(t, int64(2), out.(map[string]any)["a"])
	// The original stays untouched.
	assert.Equal(t, int64(1), doc["a"])

	out = applyOK(t, doc, Modify{Set("b.c", "y")})
	assert.Equal(t, "y", out.(map[string]any)["b"].(map[string]any)["c"])

	// Set auto-creates missing intermediate objects.
	out = applyOK(t, doc, Modify{Set("new.deep.path", true)})
	assert.Equal(t, true,
		out.(map[string]any)["new"].(map[string]any)["deep"].(map[string]any)["path"])

	out = applyOK(t, doc, Modify{Delete("b.c")})
	_, present := out.(map[string]any)["b"].(map[string]any)["c"]
	assert.False(t, present)

	// Delete on a missing path leaves the document untouched.
	out = applyOK(t, doc, Modify{Delete("nope.nothing")})
	assert.Equal(t, doc, out)
}

func TestModifyDeleteThroughArrays(t *testing.T) {
	doc := map[string]any{"items": []any{
		map[string]any{"drop": true, "n": int64(1)},
		map[string]any{"n": int64(2)},
	}}
	out := applyOK(t, doc, Modify{Delete("items.drop")})
	items := out.(map[string]any)["items"].([]any)
	require.Len(t, items, 2)
	_, present := items[0].(map[string]any)["drop"]
	assert.False(t, present)

	// Deleting a path that addresses an array removes the whole field.
	doc2 := map[string]any{"list": []any{"a", "b"}}
	out = applyOK(t, doc2, Modify{Delete("list")})
	_, present = out.(map[string]any)["list"]
	assert.False(t, present)
}

func TestModifyNumeric(t *testing.T) {
	doc := map[string]any{"i": int64(10), "f": 2.5}

	out := applyOK(t, doc, Modify{Add("i", 5)})
	assert.Equal(t, int64(15), out.(map[string]any)["i"])

	out = applyOK(t, doc, Modify{Sub("i", 3)})
	assert.Equal(t, int64(7), out.(map[string]any)["i"])

	out = applyOK(t, doc, Modify{Mul("i", 4)})
	assert.Equal(t, int64(40), out.(map[string]any)["i"])

	// Mixed int/float promotes to float.
	out = applyOK(t, doc, Modify{Add("i", 0.5)})
	assert.Equal(t, 10.5, out.(map[string]any)["i"])

	out = applyOK(t, doc, Modify{Mul("f", 2)})
	assert.Equal(t, 5.0, out.(map[string]any)["f"])

	// Exact integer division stays int; inexact promotes.
	out = applyOK(t, doc, Modify{Div("i", 5)})
	assert.Equal(t, int64(2), out.(map[string]any)["i"])
	out = applyOK(t, doc, Modify{Div("i", 4)})
	assert.Equal(t, 2.5, out.(map[string]any)["i"])

	_, err := Modify{Div("i", 0)}.Apply(doc)
	require.ErrorIs(t, err, ErrDivByZero)
	_, err = Modify{Div("f", 0.0)}.Apply(doc)
	require.ErrorIs(t, err, ErrDivByZero)

	_, err = Modify{Add("i", "one")}.Apply(doc)
	require.Error(t, err)
}

func TestModifyToggleAndReplace(t *testing.T) {
	doc := map[string]any{"flag": true, "text": "foo bar foo"}

	out := applyOK(t, doc, Modify{Toggle("flag")})
	assert.Equal(t, false, out.(map[string]any)["flag"])

	_, err := Modify{Toggle("text")}.Apply(doc)
	require.Error(t, err)

	out = applyOK(t, doc, Modify{Replace("text", regexp.MustCompile(`foo`), "baz")})
	assert.Equal(t, "baz bar baz", out.(map[string]any)["text"])

	_, err = Modify{Replace("flag", regexp.MustCompile(`x`), "y")}.Apply(doc)
	require.Error(t, err)
}

func TestModifyArrayActions(t *testing.T) {
	doc := map[string]any{"list": []any{int64(1), int64(2), int64(3), int64(4), int64(5)}}

	out := applyOK(t, doc, Modify{Splice("list", 1, 2, 0)})
	assert.Equal(t, []any{int64(1), int64(0), int64(4), int64(5)},
		out.(map[string]any)["list"])

	out = applyOK(t, doc, Modify{Splice("list", -4, 3, 0, -1)})
	assert.Equal(t, []any{int64(1), int64(2), int64(0), int64(-1)},
		out.(map[string]any)["list"])

	doc2 := map[string]any{"list": []any{int64(3), int64(4), int64(5)}}
	out = applyOK(t, doc2, Modify{Prepend("list", 1, 2)})
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)},
		out.(map[string]any)["list"])

	out = applyOK(t, doc2, Modify{Append("list", 1, 2)})
	assert.Equal(t, []any{int64(3), int64(4), int64(5), int64(1), int64(2)},
		out.(map[string]any)["list"])

	_, err := Modify{Splice("missing", 0, 1)}.Apply(doc)
	require.NoError(t, err) // missing path leaves the document untouched
}

func TestModifyMerge(t *testing.T) {
	doc := map[string]any{"obj": map[string]any{"a": int64(1), "c": true}}

	out := applyOK(t, doc, Modify{Merge("obj", map[string]any{"a": int64(2), "b": "a"})})
	assert.Equal(t, map[string]any{"a": int64(2), "b": "a", "c": true},
		out.(map[string]any)["obj"])

	// Deep merge: nested objects merge instead of overwriting.
	doc2 := map[string]any{"obj": map[string]any{"nested": map[string]any{"x": int64(1)}}}
	out = applyOK(t, doc2, Modify{Merge("obj", map[string]any{"nested": map[string]any{"y": int64(2)}})})
	assert.Equal(t, map[string]any{"x": int64(1), "y": int64(2)},
		out.(map[string]any)["obj"].(map[string]any)["nested"])

	// Merge auto-creates a missing target object.
	out = applyOK(t, doc, Modify{Merge("fresh", map[string]any{"k": "v"})})
	assert.Equal(t, map[string]any{"k": "v"}, out.(map[string]any)["fresh"])

	_, err := Modify{Merge("obj.a", map[string]any{"k": "v"})}.Apply(doc)
	require.Error(t, err) // target is an int
}

func TestModifyFanOutOverArrays(t *testing.T) {
	doc := map[string]any{"items": []any{
		map[string]any{"n": int64(1)},
		map[string]any{"n": int64(2)},
	}}
	out := applyOK(t, doc, Modify{Add("items.n", 10)})
	items := out.(map[string]any)["items"].([]any)
	assert.Equal(t, int64(11), items[0].(map[string]any)["n"])
	assert.Equal(t, int64(12), items[1].(map[string]any)["n"])
}

func TestModifyAllOrNothing(t *testing.T) {
	doc := map[string]any{"a": int64(1), "flag": "not a bool"}
	_, err := Modify{Set("a", 2), Toggle("flag")}.Apply(doc)
	require.Error(t, err)
	// The caller keeps the original; nothing leaked into it.
	assert.Equal(t, int64(1), doc["a"])
}

func TestParseModifyWire(t *testing.T) {
	m, err := ParseModify([]byte(`[
		["a", {"$set": 5}],
		["b", "$delete"],
		["c", {"$add": 1.5}],
		["d", "$toggle"],
		["e", {"$replace": ["fo+", "ba"]}],
		["f", {"$splice": [1, 2, "x"]}],
		["g", {"$merge": {"k": "v"}}],
		["h", {"$prepend": [1]}],
		["h", {"$append": [2]}]
	]`))
	require.NoError(t, err)
	require.Len(t, m, 9)
	assert.Equal(t, ActSet, m[0].Action.Op)
	assert.Equal(t, int64(5), m[0].Action.Value)
	assert.Equal(t, ActDelete, m[1].Action.Op)
	assert.Equal(t, 1.5, m[2].Action.Value)
	assert.Equal(t, ActReplace, m[4].Action.Op)
	assert.Equal(t, ActSplice, m[5].Action.Op)
	assert.Equal(t, 1, m[5].Action.Off)
	assert.Equal(t, 2, m[5].Action.Del)

	// Object-shaped modify inputs are rejected.
	_, err = ParseModify([]byte(`{"a": {"$set": 5}}`))
	require.Error(t, err)

	// Bad regex fails parsing.
	_, err = ParseModify([]byte(`[["a", {"$replace": ["(", "x"]}]]`))
	require.Error(t, err)

	// Unknown action fails parsing.
	_, err = ParseModify([]byte(`[["a", {"$frob": 1}]]`))
	require.Error(t, err)
}
