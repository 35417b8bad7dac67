package ledb

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// idIter produces the primaries of a plan one at a time.
type idIter interface {
	next() (uint64, bool)
}

type sliceIter struct {
	ids []uint64
	pos int
}

func (it *sliceIter) next() (uint64, bool) {
	if it.pos >= len(it.ids) {
		return 0, false
	}
	id := it.ids[it.pos]
	it.pos++
	return id, true
}

type bitmapIter struct {
	fwd roaring64.IntIterable64
}

func newBitmapIter(bm *roaring64.Bitmap, reverse bool) idIter {
	if reverse {
		return &bitmapIter{fwd: bm.ReverseIterator()}
	}
	return &bitmapIter{fwd: bm.Iterator()}
}

func (it *bitmapIter) next() (uint64, bool) {
	if !it.fwd.HasNext() {
		return 0, false
	}
	return it.fwd.Next(), true
}

// primaryWalkIter walks the primary bucket lazily in either direction.
type primaryWalkIter struct {
	cur     kvCursor
	reverse bool
	init    bool
	done    bool
}

func newPrimaryWalkIter(buck kvBucket, reverse bool) idIter {
	if buck == nil {
		return &sliceIter{}
	}
	return &primaryWalkIter{cur: buck.Cursor(), reverse: reverse}
}

func (it *primaryWalkIter) next() (uint64, bool) {
	if it.done {
		return 0, false
	}
	var k []byte
	if !it.init {
		it.init = true
		if it.reverse {
			k, _ = it.cur.Last()
		} else {
			k, _ = it.cur.First()
		}
	} else {
		if it.reverse {
			k, _ = it.cur.Prev()
		} else {
			k, _ = it.cur.Next()
		}
	}
	if k == nil {
		it.done = true
		return 0, false
	}
	return decodePrimary(k), true
}

// Cursor is a lazy sequence of documents produced by a find. It owns a
// read transaction: the documents observed are a consistent snapshot taken
// when the cursor was created, and Close releases the snapshot. A cursor
// drained to the end closes itself.
type Cursor struct {
	coll *Collection
	tx   kvTx
	ex   planExec
	ids  idIter
	pred *Filter

	skipLeft int
	takeLeft int

	id     uint64
	doc    any
	err    error
	closed bool
}

func newCursor(coll *Collection, tx kvTx, ids idIter, pred *Filter) *Cursor {
	c := &Cursor{
		coll:     coll,
		tx:       tx,
		ex:       planExec{tx: tx, coll: coll},
		ids:      ids,
		pred:     pred,
		takeLeft: math.MaxInt,
	}
	return c
}

// Skip discards up to n of the remaining matching documents.
func (c *Cursor) Skip(n int) *Cursor {
	if n > 0 {
		c.skipLeft += n
		if c.takeLeft != math.MaxInt {
			c.takeLeft = max(c.takeLeft-n, 0)
		}
	}
	return c
}

// Take caps the number of documents the cursor will still yield.
func (c *Cursor) Take(n int) *Cursor {
	if n < 0 {
		n = 0
	}
	c.takeLeft = min(c.takeLeft, n)
	return c
}

// Next advances to the next matching document, reporting false at the end
// or on error. The document is available through Doc and ID.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	for {
		if c.takeLeft <= 0 {
			c.finish()
			return false
		}
		id, ok := c.ids.next()
		if !ok {
			c.finish()
			return false
		}
		doc, err := c.ex.fetch(id)
		if err != nil {
			c.err = err
			c.finish()
			return false
		}
		if doc == nil {
			continue
		}
		if c.pred != nil && !c.pred.Match(doc) {
			continue
		}
		if c.skipLeft > 0 {
			c.skipLeft--
			continue
		}
		c.takeLeft--
		c.id, c.doc = id, doc
		return true
	}
}

// End reports whether the cursor has been closed, either by Close or by a
// Next call that reported false. It stays false after the last document
// until Next is called once more.
func (c *Cursor) End() bool { return c.closed }

// ID returns the primary of the current document.
func (c *Cursor) ID() uint64 { return c.id }

// Doc returns the current document with its primary field set.
func (c *Cursor) Doc() any { return c.doc }

// Err reports the first error the cursor ran into.
func (c *Cursor) Err() error { return c.err }

// Count consumes the remaining documents and returns how many matched,
// honoring skip and take exactly like repeated Next calls.
func (c *Cursor) Count() (int, error) {
	var n int
	for c.Next() {
		n++
	}
	return n, c.err
}

// Collect drains the cursor into a slice of documents.
func (c *Cursor) Collect() ([]any, error) {
	var docs []any
	for c.Next() {
		docs = append(docs, c.doc)
	}
	return docs, c.err
}

// CollectIDs drains the cursor into a slice of primaries.
func (c *Cursor) CollectIDs() ([]uint64, error) {
	var ids []uint64
	for c.Next() {
		ids = append(ids, c.id)
	}
	return ids, c.err
}

func (c *Cursor) finish() {
	if !c.closed {
		c.closed = true
		c.tx.Rollback()
	}
}

// Close aborts the cursor's read transaction. Safe to call repeatedly.
func (c *Cursor) Close() error {
	c.finish()
	return nil
}
