package ledb

import (
	"encoding/binary"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/vmihailenco/msgpack/v5"
)

// Collection root buckets hold these nested buckets.
const (
	dataSub        = "$data"
	metaSub        = "$meta"
	indexSubPrefix = "$index$"
)

// IndexDef describes one index: the dotted field path it extracts, its
// kind and its declared key type.
type IndexDef struct {
	Path string
	Kind IndexKind
	Key  KeyType
}

type indexMeta struct {
	Kind uint8 `msgpack:"k"`
	Key  uint8 `msgpack:"t"`
}

func encodeIndexMeta(def IndexDef) ([]byte, error) {
	return msgpack.Marshal(indexMeta{Kind: uint8(def.Kind), Key: uint8(def.Key)})
}

func decodeIndexMeta(path string, raw []byte) (IndexDef, error) {
	var m indexMeta
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return IndexDef{}, dataErrf(raw, 0, err, "corrupted index definition for %q", path)
	}
	return IndexDef{Path: path, Kind: IndexKind(m.Kind), Key: KeyType(m.Key)}, nil
}

// indexStore is one logical index over a collection: the definition plus
// the key→primary mapping bucket.
type indexStore struct {
	coll string
	def  IndexDef
}

func (ix *indexStore) sub() string {
	return indexSubPrefix + ix.def.Path
}

func (ix *indexStore) bucket(tx kvTx) kvBucket {
	return tx.Bucket(ix.coll, ix.sub())
}

// loadIndexes reads the index set from the collection's meta bucket.
func loadIndexes(tx kvTx, coll string) ([]indexStore, error) {
	meta := tx.Bucket(coll, metaSub)
	if meta == nil {
		return nil, nil
	}
	var out []indexStore
	cur := meta.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		def, err := decodeIndexMeta(string(k), v)
		if err != nil {
			return nil, err
		}
		out = append(out, indexStore{coll: coll, def: def})
	}
	return out, nil
}

// encodedKeys returns the set of encoded keys a document contributes to
// this index, keyed once per distinct value.
func (ix *indexStore) encodedKeys(doc any) ([][]byte, error) {
	keys, err := extractKeys(doc, ix.def.Path, ix.def.Key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, kd := range keys {
		out[i], err = kd.Encode(nil)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ix *indexStore) insert(tx kvTx, primary uint64, doc any) error {
	keys, err := ix.encodedKeys(doc)
	if err != nil {
		return err
	}
	return ix.insertKeys(tx, primary, keys)
}

func (ix *indexStore) insertKeys(tx kvTx, primary uint64, keys [][]byte) error {
	buck := nonNilBucket(ix.bucket(tx))
	for _, key := range keys {
		switch ix.def.Kind {
		case IndexUnique:
			if old := buck.Get(key); old != nil && decodePrimary(old) != primary {
				return schemaErrf(ix.coll, ix.def.Path, ErrUniqueViolation,
					"key %x already maps to primary %d", key, decodePrimary(old))
			}
			if err := buck.Put(key, encodePrimary(primary)); err != nil {
				return err
			}
		default:
			if err := buck.Put(encodeDupEntry(key, primary), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ix *indexStore) remove(tx kvTx, primary uint64, doc any) error {
	keys, err := ix.encodedKeys(doc)
	if err != nil {
		return err
	}
	return ix.removeKeys(tx, primary, keys)
}

func (ix *indexStore) removeKeys(tx kvTx, primary uint64, keys [][]byte) error {
	buck := nonNilBucket(ix.bucket(tx))
	for _, key := range keys {
		switch ix.def.Kind {
		case IndexUnique:
			// Only remove the mapping this document owns; a unique key may
			// have been re-pointed by a later insert in the same batch.
			if old := buck.Get(key); old != nil && decodePrimary(old) == primary {
				if err := buck.Delete(key); err != nil {
					return err
				}
			}
		default:
			if err := buck.Delete(encodeDupEntry(key, primary)); err != nil {
				return err
			}
		}
	}
	return nil
}

// update diffs the key sets of the old and new document states, leaving
// entries present in both untouched so no-op edits never trip uniqueness.
func (ix *indexStore) update(tx kvTx, primary uint64, oldDoc, newDoc any) error {
	oldKeys, err := ix.encodedKeys(oldDoc)
	if err != nil {
		return err
	}
	newKeys, err := ix.encodedKeys(newDoc)
	if err != nil {
		return err
	}

	oldSet := make(map[string]struct{}, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[string(k)] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[string(k)] = struct{}{}
	}

	var removed, added [][]byte
	for _, k := range oldKeys {
		if _, keep := newSet[string(k)]; !keep {
			removed = append(removed, k)
		}
	}
	for _, k := range newKeys {
		if _, keep := oldSet[string(k)]; !keep {
			added = append(added, k)
		}
	}

	if err := ix.removeKeys(tx, primary, removed); err != nil {
		return err
	}
	return ix.insertKeys(tx, primary, added)
}

// ranges lowers a comparison into byte ranges over the index bucket,
// sorted by key. An unsatisfiable comparison yields no ranges.
func (ix *indexStore) ranges(comp *Comp) ([]rawRange, error) {
	dup := ix.def.Kind == IndexDuplicated

	coerce := func(kd KeyData) ([]byte, bool, error) {
		ck, ok := kd.CoerceTo(ix.def.Key)
		if !ok {
			return nil, false, nil
		}
		enc, err := ck.Encode(nil)
		return enc, true, err
	}

	point := func(enc []byte) rawRange {
		if dup {
			return rangePrefix(dupKeyPrefix(enc))
		}
		return rangeBetween(enc, true, enc, true)
	}
	lowerOf := func(enc []byte, incl bool) ([]byte, bool) {
		if dup {
			return dupKeyBound(enc, !incl), true
		}
		return enc, incl
	}
	upperOf := func(enc []byte, incl bool) ([]byte, bool) {
		if dup {
			return dupKeyBound(enc, incl), false
		}
		return enc, incl
	}

	switch comp.Op {
	case CompHas:
		return []rawRange{rangeAll()}, nil

	case CompEq:
		enc, ok, err := coerce(comp.Args[0])
		if err != nil || !ok {
			return nil, err
		}
		return []rawRange{point(enc)}, nil

	case CompIn:
		var ranges []rawRange
		seen := make(map[string]struct{}, len(comp.Args))
		for _, kd := range comp.Args {
			enc, ok, err := coerce(kd)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if _, done := seen[string(enc)]; done {
				continue
			}
			seen[string(enc)] = struct{}{}
			ranges = append(ranges, point(enc))
		}
		sort.Slice(ranges, func(i, j int) bool {
			return rangeSortKey(ranges[i]) < rangeSortKey(ranges[j])
		})
		return ranges, nil

	case CompLt, CompLe:
		enc, ok, err := coerce(comp.Args[0])
		if err != nil || !ok {
			return nil, err
		}
		u, uinc := upperOf(enc, comp.Op == CompLe)
		return []rawRange{rangeUpper(u, uinc)}, nil

	case CompGt, CompGe:
		enc, ok, err := coerce(comp.Args[0])
		if err != nil || !ok {
			return nil, err
		}
		l, linc := lowerOf(enc, comp.Op == CompGe)
		return []rawRange{rangeLower(l, linc)}, nil

	case CompBw:
		la, ok, err := coerce(comp.Args[0])
		if err != nil || !ok {
			return nil, err
		}
		ub, ok, err := coerce(comp.Args[1])
		if err != nil || !ok {
			return nil, err
		}
		l, linc := lowerOf(la, comp.Incl[0])
		u, uinc := upperOf(ub, comp.Incl[1])
		return []rawRange{rangeBetween(l, linc, u, uinc)}, nil
	}
	return nil, queryErrf(nil, "comparison %v is not supported by an index scan", comp.Op)
}

func rangeSortKey(r rawRange) string {
	if r.Prefix != nil {
		return string(r.Prefix)
	}
	return string(r.Lower)
}

// queryBitmap runs a comparison against the index and collects the set of
// matching primaries. Duplicated indexes naturally de-duplicate through
// the bitmap: a document appears once no matter how many values matched.
func (ix *indexStore) queryBitmap(tx kvTx, comp *Comp) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	ranges, err := ix.ranges(comp)
	if err != nil {
		return nil, err
	}
	buck := ix.bucket(tx)
	if buck == nil {
		return bm, nil
	}
	for _, rang := range ranges {
		cur := rang.newCursor(buck.Cursor())
		for cur.Next() {
			primary, err := ix.entryPrimary(cur.Key(), cur.Value())
			if err != nil {
				return nil, err
			}
			bm.Add(primary)
		}
	}
	return bm, nil
}

// walkOrdered iterates the comparison's ranges in key order (reversed when
// asked), yielding each matching primary once, at its first occurrence.
func (ix *indexStore) walkOrdered(tx kvTx, comp *Comp, reverse bool, yield func(primary uint64) bool) error {
	ranges, err := ix.ranges(comp)
	if err != nil {
		return err
	}
	buck := ix.bucket(tx)
	if buck == nil {
		return nil
	}
	seen := roaring64.New()
	if reverse {
		for i, j := 0, len(ranges)-1; i < j; i, j = i+1, j-1 {
			ranges[i], ranges[j] = ranges[j], ranges[i]
		}
	}
	for _, rang := range ranges {
		rang.Reverse = reverse
		cur := rang.newCursor(buck.Cursor())
		for cur.Next() {
			primary, err := ix.entryPrimary(cur.Key(), cur.Value())
			if err != nil {
				return err
			}
			if seen.CheckedAdd(primary) {
				if !yield(primary) {
					return nil
				}
			}
		}
	}
	return nil
}

func (ix *indexStore) entryPrimary(key, value []byte) (uint64, error) {
	if ix.def.Kind == IndexUnique {
		if len(value) != 8 {
			return 0, dataErrf(value, 0, nil, "corrupted unique index value")
		}
		return decodePrimary(value), nil
	}
	_, primary, err := decodeDupEntry(key)
	return primary, err
}

func encodePrimary(primary uint64) []byte {
	return appendFixedUint64(make([]byte, 0, 8), primary)
}

func decodePrimary(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw)
}
