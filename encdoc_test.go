package ledb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocRoundTrip(t *testing.T) {
	docs := []any{
		nil,
		true,
		int64(-42),
		float64(2.5),
		"hello",
		[]byte{0, 1, 2},
		[]any{int64(1), "two", []any{true}},
		map[string]any{
			"title": "Foo",
			"tag":   []any{"Bar", "Baz"},
			"meta":  map[string]any{"ts": int64(1234567890), "score": 0.5},
			"blob":  []byte{0xDE, 0xAD},
			"none":  nil,
		},
	}
	for _, doc := range docs {
		blob, err := encodeDoc(doc)
		require.NoError(t, err)
		back, err := decodeDoc(blob)
		require.NoError(t, err)
		assert.Equal(t, doc, back, "round trip of %v", doc)
	}
}

func TestDocEncodingDeterministic(t *testing.T) {
	doc := map[string]any{"a": int64(1), "b": int64(2), "c": int64(3), "d": int64(4)}
	first, err := encodeDoc(doc)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := encodeDoc(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDocCompression(t *testing.T) {
	big := map[string]any{"text": strings.Repeat("compress me, please. ", 200)}
	blob, err := encodeDoc(big)
	require.NoError(t, err)

	d := makeByteDecoder(blob)
	flags, err := d.Uvarint()
	require.NoError(t, err)
	assert.NotZero(t, docFlags(flags)&dfS2, "large repetitive blob should be compressed")
	assert.Less(t, len(blob), 1000)

	back, err := decodeDoc(blob)
	require.NoError(t, err)
	assert.Equal(t, big, back)
}

func TestDocDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeDoc([]byte{})
	require.Error(t, err)
	_, err = decodeDoc([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
	// A valid header with a truncated body.
	blob, err := encodeDoc(map[string]any{"k": "value"})
	require.NoError(t, err)
	_, err = decodeDoc(blob[:len(blob)-3])
	require.Error(t, err)
}
