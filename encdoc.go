package ledb

import (
	"bytes"
	"sort"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

// Document blob format: flags (uvarint), then the msgpack encoding of the
// document tree, possibly s2-compressed.
type docFlags uint64

const (
	dfVerBit0 = docFlags(1 << iota)
	dfVerBit1
	dfVerBit2
	dfVerBit3
	dfCompressionBit0

	dfVerMask = dfVerBit0 | dfVerBit1 | dfVerBit2 | dfVerBit3
	dfVer1    = dfVerBit0
	dfS2      = dfCompressionBit0
)

// Blobs below this size are never worth compressing.
const docCompressionThreshold = 1 << 10

// encodeDoc serializes a canonical document tree into a blob.
func encodeDoc(doc any) ([]byte, error) {
	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	if err := encodeNode(enc, doc); err != nil {
		return nil, err
	}

	flags := dfVer1
	raw := body.Bytes()
	if len(raw) >= docCompressionThreshold {
		packed := s2.Encode(nil, raw)
		if len(packed) < len(raw) {
			flags |= dfS2
			raw = packed
		}
	}

	blob := appendUvarint(make([]byte, 0, len(raw)+2), uint64(flags))
	return appendRaw(blob, raw), nil
}

// decodeDoc is the inverse of encodeDoc.
func decodeDoc(blob []byte) (any, error) {
	d := makeByteDecoder(blob)
	rawFlags, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	flags := docFlags(rawFlags)
	if flags&dfVerMask != dfVer1 {
		return nil, dataErrf(blob, 0, nil, "unsupported document format %d", flags&dfVerMask)
	}

	body := d.Remaining()
	if flags&dfS2 != 0 {
		body, err = s2.Decode(nil, body)
		if err != nil {
			return nil, dataErrf(blob, d.Off(), err, "corrupted compressed document")
		}
	}

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, dataErrf(blob, d.Off(), err, "corrupted document body")
	}
	doc, err := normalizeValue(v)
	if err != nil {
		return nil, dataErrf(blob, d.Off(), err, "unexpected node in stored document")
	}
	return doc, nil
}

// encodeNode walks the canonical tree explicitly so that the on-disk form
// depends only on node values, not on Go-side representation details.
// Object keys are written in sorted order to keep blobs deterministic.
func encodeNode(enc *msgpack.Encoder, v any) error {
	switch v := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(v)
	case int64:
		return enc.EncodeInt(v)
	case float64:
		return enc.EncodeFloat64(v)
	case string:
		return enc.EncodeString(v)
	case []byte:
		return enc.EncodeBytes(v)
	case []any:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, elm := range v {
			if err := encodeNode(enc, elm); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := enc.EncodeMapLen(len(v)); err != nil {
			return err
		}
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := enc.EncodeString(key); err != nil {
				return err
			}
			if err := encodeNode(enc, v[key]); err != nil {
				return err
			}
		}
		return nil
	}
	return queryErrf(nil, "unsupported document value of type %T", v)
}
