package ledb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// KeyType identifies the typed key palette of an index.
type KeyType uint8

const (
	KeyInt KeyType = 1 + iota
	KeyFloat
	KeyBool
	KeyString
	KeyBinary
)

func (t KeyType) String() string {
	switch t {
	case KeyInt:
		return "int"
	case KeyFloat:
		return "float"
	case KeyBool:
		return "bool"
	case KeyString:
		return "string"
	case KeyBinary:
		return "binary"
	}
	return fmt.Sprintf("KeyType(%d)", uint8(t))
}

// ParseKeyType parses the wire name of a key type.
func ParseKeyType(s string) (KeyType, error) {
	switch s {
	case "int":
		return KeyInt, nil
	case "float":
		return KeyFloat, nil
	case "bool":
		return KeyBool, nil
	case "string":
		return KeyString, nil
	case "binary":
		return KeyBinary, nil
	}
	return 0, queryErrf(nil, "unknown key type %q", s)
}

// IndexKind distinguishes unique indexes from duplicated ones.
type IndexKind uint8

const (
	IndexUnique IndexKind = 1 + iota
	IndexDuplicated
)

func (k IndexKind) String() string {
	switch k {
	case IndexUnique:
		return "uni"
	case IndexDuplicated:
		return "dup"
	}
	return fmt.Sprintf("IndexKind(%d)", uint8(k))
}

// ParseIndexKind parses the wire name of an index kind.
func ParseIndexKind(s string) (IndexKind, error) {
	switch s {
	case "uni":
		return IndexUnique, nil
	case "dup":
		return IndexDuplicated, nil
	}
	return 0, queryErrf(nil, "unknown index kind %q", s)
}

// KeyData is a typed key value: one of the five key arms. The zero value is
// invalid and reports Type() == 0.
type KeyData struct {
	typ KeyType
	i   int64
	f   float64
	b   bool
	s   string
	bin []byte
}

func IntKey(v int64) KeyData      { return KeyData{typ: KeyInt, i: v} }
func FloatKey(v float64) KeyData  { return KeyData{typ: KeyFloat, f: v} }
func BoolKey(v bool) KeyData      { return KeyData{typ: KeyBool, b: v} }
func StringKey(v string) KeyData  { return KeyData{typ: KeyString, s: v} }
func BinaryKey(v []byte) KeyData  { return KeyData{typ: KeyBinary, bin: v} }

func (k KeyData) Type() KeyType { return k.typ }

func (k KeyData) Int() int64      { return k.i }
func (k KeyData) Float() float64  { return k.f }
func (k KeyData) Bool() bool      { return k.b }
func (k KeyData) StringVal() string { return k.s }
func (k KeyData) Binary() []byte  { return k.bin }

// Value returns the key as a canonical document tree node.
func (k KeyData) Value() any {
	switch k.typ {
	case KeyInt:
		return k.i
	case KeyFloat:
		return k.f
	case KeyBool:
		return k.b
	case KeyString:
		return k.s
	case KeyBinary:
		return k.bin
	}
	return nil
}

func (k KeyData) String() string {
	switch k.typ {
	case KeyInt:
		return strconv.FormatInt(k.i, 10)
	case KeyFloat:
		return strconv.FormatFloat(k.f, 'g', -1, 64)
	case KeyBool:
		return strconv.FormatBool(k.b)
	case KeyString:
		return strconv.Quote(k.s)
	case KeyBinary:
		return fmt.Sprintf("%x", k.bin)
	}
	return "<invalid>"
}

// keyDataFromNode converts a document tree node into key data.
// Arrays, objects and nulls are not keys.
func keyDataFromNode(v any) (KeyData, bool) {
	switch v := v.(type) {
	case int64:
		return IntKey(v), true
	case float64:
		return FloatKey(v), true
	case bool:
		return BoolKey(v), true
	case string:
		return StringKey(v), true
	case []byte:
		return BinaryKey(v), true
	}
	return KeyData{}, false
}

// CoerceTo converts the key to the given type when losslessly meaningful:
// int→float, scalars→string by formatting, string→int/float/bool by parsing,
// float→int by rounding. Reports false when no conversion applies.
func (k KeyData) CoerceTo(typ KeyType) (KeyData, bool) {
	if k.typ == typ {
		return k, true
	}
	switch {
	case typ == KeyFloat && k.typ == KeyInt:
		return FloatKey(float64(k.i)), true
	case typ == KeyInt && k.typ == KeyFloat:
		return IntKey(int64(math.Round(k.f))), true
	case typ == KeyString && k.typ == KeyInt:
		return StringKey(strconv.FormatInt(k.i, 10)), true
	case typ == KeyString && k.typ == KeyFloat:
		return StringKey(strconv.FormatFloat(k.f, 'g', -1, 64)), true
	case typ == KeyString && k.typ == KeyBool:
		return StringKey(strconv.FormatBool(k.b)), true
	case typ == KeyInt && k.typ == KeyString:
		if v, err := strconv.ParseInt(k.s, 10, 64); err == nil {
			return IntKey(v), true
		}
	case typ == KeyFloat && k.typ == KeyString:
		if v, err := strconv.ParseFloat(k.s, 64); err == nil {
			return FloatKey(v), true
		}
	case typ == KeyBool && k.typ == KeyString:
		if v, err := strconv.ParseBool(k.s); err == nil {
			return BoolKey(v), true
		}
	}
	return KeyData{}, false
}

// Compare orders two keys of the same type. Keys of differing types compare
// by type tag; this keeps sorting total but never mixes in practice because
// callers coerce first.
func (k KeyData) Compare(other KeyData) int {
	if k.typ != other.typ {
		if k.typ < other.typ {
			return -1
		}
		return 1
	}
	switch k.typ {
	case KeyInt:
		switch {
		case k.i < other.i:
			return -1
		case k.i > other.i:
			return 1
		}
		return 0
	case KeyFloat:
		switch {
		case k.f < other.f:
			return -1
		case k.f > other.f:
			return 1
		}
		return 0
	case KeyBool:
		switch {
		case !k.b && other.b:
			return -1
		case k.b && !other.b:
			return 1
		}
		return 0
	case KeyString:
		switch {
		case k.s < other.s:
			return -1
		case k.s > other.s:
			return 1
		}
		return 0
	case KeyBinary:
		return bytes.Compare(k.bin, other.bin)
	}
	return 0
}

const signBit = uint64(1) << 63

// Encode appends the order-preserving byte form of the key: lexicographic
// order of the output equals logical order of the values. NaN floats are
// rejected because they have no place in a total order.
func (k KeyData) Encode(buf []byte) ([]byte, error) {
	switch k.typ {
	case KeyInt:
		return appendFixedUint64(buf, uint64(k.i)^signBit), nil
	case KeyFloat:
		if math.IsNaN(k.f) {
			return nil, queryErrf(nil, "NaN is not a valid index key")
		}
		bits := math.Float64bits(k.f)
		if bits&signBit != 0 {
			bits = ^bits
		} else {
			bits |= signBit
		}
		return appendFixedUint64(buf, bits), nil
	case KeyBool:
		if k.b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case KeyString:
		return append(buf, k.s...), nil
	case KeyBinary:
		return append(buf, k.bin...), nil
	}
	return nil, queryErrf(nil, "invalid key data")
}

// decodeKeyData is the inverse of Encode for the given declared type.
func decodeKeyData(typ KeyType, raw []byte) (KeyData, error) {
	switch typ {
	case KeyInt:
		if len(raw) != 8 {
			return KeyData{}, dataErrf(raw, 0, nil, "int key must be 8 bytes")
		}
		return IntKey(int64(binary.BigEndian.Uint64(raw) ^ signBit)), nil
	case KeyFloat:
		if len(raw) != 8 {
			return KeyData{}, dataErrf(raw, 0, nil, "float key must be 8 bytes")
		}
		bits := binary.BigEndian.Uint64(raw)
		if bits&signBit != 0 {
			bits &^= signBit
		} else {
			bits = ^bits
		}
		return FloatKey(math.Float64frombits(bits)), nil
	case KeyBool:
		if len(raw) != 1 {
			return KeyData{}, dataErrf(raw, 0, nil, "bool key must be 1 byte")
		}
		return BoolKey(raw[0] != 0), nil
	case KeyString:
		return StringKey(string(raw)), nil
	case KeyBinary:
		return BinaryKey(append([]byte(nil), raw...)), nil
	}
	return KeyData{}, dataErrf(raw, 0, nil, "unknown key type %d", typ)
}

// Duplicated-index entries carry the primary inside the bucket key so that
// entries sort by (key, primary): esc(key) 0x00 0x01 primary8, where esc
// escapes 0x00 as 0x00 0xFF. The 0x00 terminator plus the 0x01 element
// separator keeps entries of a key that is a proper prefix of another key
// strictly before the longer key's entries.
const (
	dupTerm = 0x00
	dupSep  = 0x01
	// dupSepHigh bounds a key's entries from above: no entry of the key
	// itself reaches it, every later key's entries sort after it.
	dupSepHigh = 0x02
)

func escapeKey(dst, key []byte) []byte {
	for _, c := range key {
		if c == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, c)
		}
	}
	return dst
}

func unescapeKey(esc []byte) ([]byte, error) {
	out := make([]byte, 0, len(esc))
	for i := 0; i < len(esc); i++ {
		c := esc[i]
		if c == 0x00 {
			i++
			if i >= len(esc) || esc[i] != 0xFF {
				return nil, dataErrf(esc, i, nil, "bad escape in index entry")
			}
			c = 0x00
		}
		out = append(out, c)
	}
	return out, nil
}

func encodeDupEntry(key []byte, primary uint64) []byte {
	entry := make([]byte, 0, len(key)+12)
	entry = escapeKey(entry, key)
	entry = append(entry, dupTerm, dupSep)
	return appendFixedUint64(entry, primary)
}

func decodeDupEntry(entry []byte) (key []byte, primary uint64, err error) {
	if len(entry) < 10 {
		return nil, 0, dataErrf(entry, 0, nil, "truncated index entry")
	}
	n := len(entry)
	primary = binary.BigEndian.Uint64(entry[n-8:])
	if entry[n-10] != dupTerm || entry[n-9] != dupSep {
		return nil, 0, dataErrf(entry, n-10, nil, "bad index entry separator")
	}
	key, err = unescapeKey(entry[:n-10])
	return key, primary, err
}

// dupKeyBound returns the byte bound for a logical key bound over a
// duplicated index. With high=false the bound sits immediately before the
// key's entries; with high=true immediately after them.
func dupKeyBound(key []byte, high bool) []byte {
	bound := make([]byte, 0, len(key)+3)
	bound = escapeKey(bound, key)
	if high {
		return append(bound, dupTerm, dupSepHigh)
	}
	return append(bound, dupTerm)
}

// dupKeyPrefix returns the entry prefix shared by all entries of a key.
func dupKeyPrefix(key []byte) []byte {
	prefix := make([]byte, 0, len(key)+3)
	prefix = escapeKey(prefix, key)
	return append(prefix, dupTerm, dupSep)
}
