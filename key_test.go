package ledb

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeKey(t *testing.T, kd KeyData) []byte {
	t.Helper()
	enc, err := kd.Encode(nil)
	require.NoError(t, err)
	return enc
}

func TestKeyEncodingPreservesOrder(t *testing.T) {
	cases := map[string][]KeyData{
		"int": {
			IntKey(math.MinInt64), IntKey(-1000000), IntKey(-1), IntKey(0),
			IntKey(1), IntKey(42), IntKey(1234567890), IntKey(math.MaxInt64),
		},
		"float": {
			FloatKey(math.Inf(-1)), FloatKey(-1e100), FloatKey(-2.5), FloatKey(-1),
			FloatKey(-math.SmallestNonzeroFloat64), FloatKey(0), FloatKey(1e-10),
			FloatKey(1), FloatKey(2.5), FloatKey(1e100), FloatKey(math.Inf(1)),
		},
		"bool": {
			BoolKey(false), BoolKey(true),
		},
		"string": {
			StringKey(""), StringKey("\x00"), StringKey("Act"), StringKey("Bar"),
			StringKey("Baz"), StringKey("Foo"), StringKey("Foo "), StringKey("a"),
		},
		"binary": {
			BinaryKey(nil), BinaryKey([]byte{0}), BinaryKey([]byte{0, 1}),
			BinaryKey([]byte{1}), BinaryKey([]byte{0xFF}),
		},
	}
	for name, keys := range cases {
		t.Run(name, func(t *testing.T) {
			for i := 1; i < len(keys); i++ {
				a, b := keys[i-1], keys[i]
				require.Negative(t, a.Compare(b), "%v must order before %v", a, b)
				ea, eb := encodeKey(t, a), encodeKey(t, b)
				assert.Negative(t, bytes.Compare(ea, eb),
					"encoding of %v must sort before %v", a, b)
			}
		})
	}
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	keys := []KeyData{
		IntKey(0), IntKey(-42), IntKey(math.MaxInt64), IntKey(math.MinInt64),
		FloatKey(0), FloatKey(-2.5), FloatKey(1e100),
		BoolKey(false), BoolKey(true),
		StringKey(""), StringKey("hello\x00world"),
		BinaryKey([]byte{0, 1, 2, 0xFF}),
	}
	for _, kd := range keys {
		enc := encodeKey(t, kd)
		back, err := decodeKeyData(kd.Type(), enc)
		require.NoError(t, err)
		assert.Zero(t, kd.Compare(back), "round trip of %v", kd)
		assert.Equal(t, kd.Type(), back.Type())
	}
}

func TestKeyEncodingRejectsNaN(t *testing.T) {
	_, err := FloatKey(math.NaN()).Encode(nil)
	require.Error(t, err)
}

func TestKeyCoercion(t *testing.T) {
	tests := []struct {
		from KeyData
		to   KeyType
		want KeyData
		ok   bool
	}{
		{IntKey(123), KeyFloat, FloatKey(123), true},
		{FloatKey(12.3), KeyInt, IntKey(12), true},
		{FloatKey(12.5), KeyInt, IntKey(13), true},
		{IntKey(123), KeyString, StringKey("123"), true},
		{FloatKey(12.3), KeyString, StringKey("12.3"), true},
		{BoolKey(true), KeyString, StringKey("true"), true},
		{StringKey("123"), KeyInt, IntKey(123), true},
		{StringKey("12.3"), KeyFloat, FloatKey(12.3), true},
		{StringKey("true"), KeyBool, BoolKey(true), true},
		{StringKey("abc"), KeyInt, KeyData{}, false},
		{StringKey("abc"), KeyFloat, KeyData{}, false},
		{BoolKey(true), KeyInt, KeyData{}, false},
		{IntKey(1), KeyBinary, KeyData{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.from.CoerceTo(tt.to)
		require.Equal(t, tt.ok, ok, "%v → %v", tt.from, tt.to)
		if ok {
			assert.Zero(t, tt.want.Compare(got), "%v → %v gave %v", tt.from, tt.to, got)
		}
	}
}

func TestDupEntryRoundTrip(t *testing.T) {
	keys := [][]byte{{}, {0}, {0, 0xFF}, []byte("Bar"), {0xFF, 0, 1}}
	for _, key := range keys {
		for _, primary := range []uint64{1, 42, 1 << 40} {
			entry := encodeDupEntry(key, primary)
			gotKey, gotPrimary, err := decodeDupEntry(entry)
			require.NoError(t, err)
			assert.Equal(t, primary, gotPrimary)
			assert.True(t, bytes.Equal(key, gotKey), "key %x decoded as %x", key, gotKey)
		}
	}
}

func TestDupEntryOrdering(t *testing.T) {
	// Entries must sort by (key, primary) even when one key is a proper
	// prefix of another, including keys with embedded zero bytes.
	type pair struct {
		key     []byte
		primary uint64
	}
	pairs := []pair{
		{[]byte(""), 7},
		{[]byte("a"), 1},
		{[]byte("a"), 2},
		{[]byte("a\x00"), 1},
		{[]byte("a\x00x"), 5},
		{[]byte("ab"), 1},
		{[]byte("b"), 3},
	}
	entries := make([][]byte, len(pairs))
	for i, p := range pairs {
		entries[i] = encodeDupEntry(p.key, p.primary)
	}
	sorted := append([][]byte(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range entries {
		assert.True(t, bytes.Equal(entries[i], sorted[i]),
			"entry %d (%x) out of order", i, entries[i])
	}
}

func TestDupKeyBounds(t *testing.T) {
	key := []byte("a")
	entry := encodeDupEntry(key, 123)
	lower := dupKeyBound(key, false)
	upper := dupKeyBound(key, true)
	assert.Negative(t, bytes.Compare(lower, entry))
	assert.Positive(t, bytes.Compare(upper, entry))

	// A longer key's entries sort after the shorter key's upper bound.
	longer := encodeDupEntry([]byte("a\x00"), 1)
	assert.Positive(t, bytes.Compare(longer, upper))
	other := encodeDupEntry([]byte("ab"), 1)
	assert.Positive(t, bytes.Compare(other, upper))
}

func TestParseKeyTypeAndKind(t *testing.T) {
	for _, name := range []string{"int", "float", "bool", "string", "binary"} {
		typ, err := ParseKeyType(name)
		require.NoError(t, err)
		assert.Equal(t, name, typ.String())
	}
	_, err := ParseKeyType("decimal")
	require.Error(t, err)

	for _, name := range []string{"uni", "dup"} {
		kind, err := ParseIndexKind(name)
		require.NoError(t, err)
		assert.Equal(t, name, kind.String())
	}
	_, err = ParseIndexKind("multi")
	require.Error(t, err)
}
