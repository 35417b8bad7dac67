package ledb

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// A plan is the compiled form of a filter: a tree of index range scans and
// set operators over sorted primary streams.
type plan interface{ isPlan() }

// planFull yields every primary in natural order.
type planFull struct{}

// planScan yields the primaries matching a comparison through an index.
type planScan struct {
	ix   indexStore
	comp *Comp
}

// planIntersect merges child streams keeping primaries present in all.
type planIntersect struct{ children []plan }

// planUnion merges child streams de-duplicating primaries.
type planUnion struct{ children []plan }

// planDiff yields every primary not produced by the sub-plan.
type planDiff struct{ sub plan }

// planFilter applies an in-memory predicate to each document produced by
// the sub-plan; used for leaves with no usable index.
type planFilter struct {
	sub  plan
	pred *Filter
}

func (planFull) isPlan()      {}
func (planScan) isPlan()      {}
func (planIntersect) isPlan() {}
func (planUnion) isPlan()     {}
func (planDiff) isPlan()      {}
func (planFilter) isPlan()    {}

// compileFilter lowers a filter tree into a plan. A leaf compiles to an
// index scan when an index over its field exists, and to a residual
// predicate over a full scan otherwise. The empty filter is a full scan.
func compileFilter(f *Filter, indexes []indexStore) plan {
	if f == nil {
		return planFull{}
	}
	switch {
	case f.And != nil:
		children := make([]plan, len(f.And))
		for i, sub := range f.And {
			children[i] = compileFilter(sub, indexes)
		}
		return planIntersect{children: children}
	case f.Or != nil:
		children := make([]plan, len(f.Or))
		for i, sub := range f.Or {
			children[i] = compileFilter(sub, indexes)
		}
		return planUnion{children: children}
	case f.Not != nil:
		return planDiff{sub: compileFilter(f.Not, indexes)}
	}
	for _, ix := range indexes {
		if ix.def.Path == f.Field {
			return planScan{ix: ix, comp: f.Cond}
		}
	}
	return planFilter{sub: planFull{}, pred: f}
}

// planExec evaluates plans inside one transaction.
type planExec struct {
	tx   kvTx
	coll *Collection
}

func (ex *planExec) allPrimaries() *roaring64.Bitmap {
	bm := roaring64.New()
	buck := ex.coll.dataBucket(ex.tx)
	if buck == nil {
		return bm
	}
	cur := buck.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		bm.Add(decodePrimary(k))
	}
	return bm
}

func (ex *planExec) fetch(primary uint64) (any, error) {
	buck := ex.coll.dataBucket(ex.tx)
	if buck == nil {
		return nil, nil
	}
	raw := buck.Get(encodePrimary(primary))
	if raw == nil {
		return nil, nil
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	return withPrimary(doc, primary), nil
}

// evalBitmap materializes a plan into the set of matching primaries.
// Binary operators work on whole bitmaps, which keeps them linear in the
// size of their inputs like the merge of two sorted streams.
func (ex *planExec) evalBitmap(p plan) (*roaring64.Bitmap, error) {
	switch p := p.(type) {
	case planFull:
		return ex.allPrimaries(), nil

	case planScan:
		return p.ix.queryBitmap(ex.tx, p.comp)

	case planIntersect:
		if len(p.children) == 0 {
			return ex.allPrimaries(), nil
		}
		out, err := ex.evalBitmap(p.children[0])
		if err != nil {
			return nil, err
		}
		for _, child := range p.children[1:] {
			if out.IsEmpty() {
				return out, nil
			}
			bm, err := ex.evalBitmap(child)
			if err != nil {
				return nil, err
			}
			out.And(bm)
		}
		return out, nil

	case planUnion:
		out := roaring64.New()
		for _, child := range p.children {
			bm, err := ex.evalBitmap(child)
			if err != nil {
				return nil, err
			}
			out.Or(bm)
		}
		return out, nil

	case planDiff:
		out := ex.allPrimaries()
		bm, err := ex.evalBitmap(p.sub)
		if err != nil {
			return nil, err
		}
		out.AndNot(bm)
		return out, nil

	case planFilter:
		bm, err := ex.evalBitmap(p.sub)
		if err != nil {
			return nil, err
		}
		out := roaring64.New()
		it := bm.Iterator()
		for it.HasNext() {
			primary := it.Next()
			doc, err := ex.fetch(primary)
			if err != nil {
				return nil, err
			}
			if doc != nil && p.pred.Match(doc) {
				out.Add(primary)
			}
		}
		return out, nil
	}
	return nil, queryErrf(nil, "unknown plan node %T", p)
}

// planIDs resolves a plan and an ordering into the cursor's id stream.
// Plans that are pure full scans (with or without a residual predicate)
// stream lazily in primary order; everything else materializes, because
// multi-key index ranges produce primaries in key order, not primary
// order.
func (ex *planExec) planIDs(p plan, order Order) (idIter, *Filter, error) {
	if order.Field != "" {
		return ex.fieldOrderedIDs(p, order)
	}

	switch p := p.(type) {
	case planFull:
		return newPrimaryWalkIter(ex.coll.dataBucket(ex.tx), order.Desc), nil, nil
	case planFilter:
		if _, full := p.sub.(planFull); full {
			return newPrimaryWalkIter(ex.coll.dataBucket(ex.tx), order.Desc), p.pred, nil
		}
	}

	bm, err := ex.evalBitmap(p)
	if err != nil {
		return nil, nil, err
	}
	return newBitmapIter(bm, order.Desc), nil, nil
}

func (ex *planExec) fieldOrderedIDs(p plan, order Order) (idIter, *Filter, error) {
	// An index scan ordered by its own field reuses the index walk.
	if scan, ok := p.(planScan); ok && scan.ix.def.Path == order.Field {
		var ids []uint64
		err := scan.ix.walkOrdered(ex.tx, scan.comp, order.Desc, func(primary uint64) bool {
			ids = append(ids, primary)
			return true
		})
		if err != nil {
			return nil, nil, err
		}
		return &sliceIter{ids: ids}, nil, nil
	}

	bm, err := ex.evalBitmap(p)
	if err != nil {
		return nil, nil, err
	}

	type sortEntry struct {
		primary uint64
		key     KeyData
		hasKey  bool
	}
	entries := make([]sortEntry, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		primary := it.Next()
		doc, err := ex.fetch(primary)
		if err != nil {
			return nil, nil, err
		}
		e := sortEntry{primary: primary}
		for _, v := range extractValues(doc, order.Field) {
			kd, ok := keyDataFromNode(v)
			if !ok {
				continue
			}
			if !e.hasKey {
				e.key, e.hasKey = kd, true
				continue
			}
			// Multi-valued documents sort by their smallest value when
			// ascending and largest when descending, matching the position
			// of their first occurrence in an index walk.
			cmp := kd.Compare(e.key)
			if (order.Desc && cmp > 0) || (!order.Desc && cmp < 0) {
				e.key = kd
			}
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.hasKey != b.hasKey {
			return !a.hasKey
		}
		if a.hasKey {
			if cmp := a.key.Compare(b.key); cmp != 0 {
				return cmp < 0
			}
		}
		return a.primary < b.primary
	})
	if order.Desc {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.primary
	}
	return &sliceIter{ids: ids}, nil, nil
}
