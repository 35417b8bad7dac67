package ledb

import (
	"sync/atomic"
)

// Collection is a named container of documents plus the set of indexes
// over them. Handles borrow the environment from their Storage and are
// safe for concurrent use; every mutating method runs in exactly one
// write transaction.
type Collection struct {
	storage *Storage
	env     *Env
	name    string

	// High-water mark of allocated primaries. Inserts never reuse an id
	// after a delete even though the engine only persists live keys.
	lastID atomic.Uint64
}

func newCollection(s *Storage, name string) *Collection {
	coll := &Collection{storage: s, env: s.env, name: name}
	s.env.View(func(tx kvTx) error {
		if buck := coll.dataBucket(tx); buck != nil {
			if k, _ := buck.Cursor().Last(); k != nil {
				coll.lastID.Store(decodePrimary(k))
			}
		}
		return nil
	})
	return coll
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) dataBucket(tx kvTx) kvBucket {
	return tx.Bucket(c.name, dataSub)
}

func (c *Collection) metaBucket(tx kvTx) kvBucket {
	return tx.Bucket(c.name, metaSub)
}

func (c *Collection) ensureBuckets(tx kvTx) error {
	if _, err := tx.CreateBucket(c.name, dataSub); err != nil {
		return err
	}
	_, err := tx.CreateBucket(c.name, metaSub)
	return err
}

// collectionSubs lists the nested bucket names of a collection root,
// consulting the meta bucket for index buckets.
func collectionSubs(tx kvTx, name string) []string {
	subs := []string{dataSub, metaSub}
	meta := tx.Bucket(name, metaSub)
	if meta == nil {
		return subs
	}
	cur := meta.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		subs = append(subs, indexSubPrefix+string(k))
	}
	return subs
}

func (c *Collection) nextID(tx kvTx) uint64 {
	var last uint64
	if buck := c.dataBucket(tx); buck != nil {
		if k, _ := buck.Cursor().Last(); k != nil {
			last = decodePrimary(k)
		}
	}
	if hw := c.lastID.Load(); hw > last {
		last = hw
	}
	id := last + 1
	c.lastID.Store(id)
	return id
}

// Insert stores a new document, allocating the next primary. When the
// body is an object, its primary field is set (or overwritten) with the
// allocated id before serialization.
func (c *Collection) Insert(doc any) (uint64, error) {
	doc, err := normalizeValue(doc)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = c.env.Update(func(tx kvTx) error {
		if err := c.ensureBuckets(tx); err != nil {
			return err
		}
		id = c.nextID(tx)
		return c.putInTx(tx, id, withPrimary(doc, id), nil)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get fetches a document by primary, returning nil when absent.
func (c *Collection) Get(id uint64) (any, error) {
	var doc any
	err := c.env.View(func(tx kvTx) error {
		ex := planExec{tx: tx, coll: c}
		var err error
		doc, err = ex.fetch(id)
		return err
	})
	return doc, err
}

// Has reports whether a document with the given primary exists.
func (c *Collection) Has(id uint64) (bool, error) {
	var found bool
	err := c.env.View(func(tx kvTx) error {
		if buck := c.dataBucket(tx); buck != nil {
			found = buck.Get(encodePrimary(id)) != nil
		}
		return nil
	})
	return found, err
}

// Put replaces the document whose primary is carried in the body's
// primary field, inserting it when absent.
func (c *Collection) Put(doc any) error {
	doc, err := normalizeValue(doc)
	if err != nil {
		return err
	}
	id, ok := primaryOf(doc)
	if !ok {
		return queryErrf(nil, "document primary field %q is missing", PrimaryField)
	}
	return c.PutAt(id, doc)
}

// PutAt replaces the document at the given primary, inserting when
// absent. The body's primary field is overwritten with id.
func (c *Collection) PutAt(id uint64, doc any) error {
	if id == 0 {
		return queryErrf(nil, "document primary must be positive")
	}
	doc, err := normalizeValue(doc)
	if err != nil {
		return err
	}
	return c.env.Update(func(tx kvTx) error {
		if err := c.ensureBuckets(tx); err != nil {
			return err
		}
		if hw := c.lastID.Load(); id > hw {
			c.lastID.Store(id)
		}
		return c.putInTx(tx, id, withPrimary(doc, id), nil)
	})
}

// putInTx writes a document and reconciles every index. The indexes slice
// is loaded on demand when nil.
func (c *Collection) putInTx(tx kvTx, id uint64, doc any, indexes []indexStore) error {
	if indexes == nil {
		var err error
		indexes, err = loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
	}

	buck := nonNilBucket(c.dataBucket(tx))
	key := encodePrimary(id)

	var oldDoc any
	if oldRaw := buck.Get(key); oldRaw != nil {
		var err error
		oldDoc, err = decodeDoc(oldRaw)
		if err != nil {
			return err
		}
		oldDoc = withPrimary(oldDoc, id)
	}

	blob, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if err := buck.Put(key, blob); err != nil {
		return err
	}

	for i := range indexes {
		ix := &indexes[i]
		if oldDoc != nil {
			err = ix.update(tx, id, oldDoc, doc)
		} else {
			err = ix.insert(tx, id, doc)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a document by primary, reporting whether it existed.
func (c *Collection) Delete(id uint64) (bool, error) {
	var existed bool
	err := c.env.Update(func(tx kvTx) error {
		ok, err := c.deleteInTx(tx, id, nil)
		existed = ok
		return err
	})
	return existed, err
}

func (c *Collection) deleteInTx(tx kvTx, id uint64, indexes []indexStore) (bool, error) {
	buck := c.dataBucket(tx)
	if buck == nil {
		return false, nil
	}
	key := encodePrimary(id)
	raw := buck.Get(key)
	if raw == nil {
		return false, nil
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return false, err
	}
	doc = withPrimary(doc, id)

	if indexes == nil {
		indexes, err = loadIndexes(tx, c.name)
		if err != nil {
			return false, err
		}
	}
	for i := range indexes {
		if err := indexes[i].remove(tx, id, doc); err != nil {
			return false, err
		}
	}
	return true, buck.Delete(key)
}

// Find compiles the filter and ordering into a plan and returns a lazy
// cursor over the matching documents. The cursor owns a read transaction
// and must be closed (draining it closes it too).
func (c *Collection) Find(filter *Filter, order Order) (*Cursor, error) {
	tx, err := c.env.beginRead()
	if err != nil {
		return nil, err
	}
	indexes, err := loadIndexes(tx, c.name)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	p := compileFilter(filter, indexes)
	ex := planExec{tx: tx, coll: c}
	ids, pred, err := ex.planIDs(p, order)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return newCursor(c, tx, ids, pred), nil
}

// Update applies the modifier list to every document matching the filter,
// inside one write transaction, returning the number of affected
// documents. A failing modifier aborts the whole update.
func (c *Collection) Update(filter *Filter, m Modify) (int, error) {
	var affected int
	err := c.env.Update(func(tx kvTx) error {
		indexes, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		ex := planExec{tx: tx, coll: c}
		bm, err := ex.evalBitmap(compileFilter(filter, indexes))
		if err != nil {
			return err
		}
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			doc, err := ex.fetch(id)
			if err != nil {
				return err
			}
			if doc == nil {
				continue
			}
			modified, err := m.Apply(doc)
			if err != nil {
				return err
			}
			if err := c.putInTx(tx, id, withPrimary(modified, id), indexes); err != nil {
				return err
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Remove deletes every document matching the filter inside one write
// transaction, returning the number of removed documents.
func (c *Collection) Remove(filter *Filter) (int, error) {
	var removed int
	err := c.env.Update(func(tx kvTx) error {
		indexes, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		ex := planExec{tx: tx, coll: c}
		bm, err := ex.evalBitmap(compileFilter(filter, indexes))
		if err != nil {
			return err
		}
		it := bm.Iterator()
		for it.HasNext() {
			ok, err := c.deleteInTx(tx, it.Next(), indexes)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Dump returns a cursor over every document in primary order.
func (c *Collection) Dump() (*Cursor, error) {
	return c.Find(nil, OrderAsc())
}

// Load bulk-inserts documents in one write transaction. Documents whose
// body carries a primary field keep their id (replacing any existing
// document), so a dump can be loaded back losslessly; the rest get fresh
// ids.
func (c *Collection) Load(docs []any) (int, error) {
	var loaded int
	err := c.env.Update(func(tx kvTx) error {
		if err := c.ensureBuckets(tx); err != nil {
			return err
		}
		indexes, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			doc, err := normalizeValue(doc)
			if err != nil {
				return err
			}
			id, ok := primaryOf(doc)
			if !ok {
				id = c.nextID(tx)
			} else if hw := c.lastID.Load(); id > hw {
				c.lastID.Store(id)
			}
			if err := c.putInTx(tx, id, withPrimary(doc, id), indexes); err != nil {
				return err
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return loaded, nil
}

// Purge drops every document and truncates every index, keeping the index
// definitions. Primaries restart from one.
func (c *Collection) Purge() error {
	err := c.env.Update(func(tx kvTx) error {
		indexes, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		if err := tx.DeleteBucket(c.name, dataSub); err != nil && err != errBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(c.name, dataSub); err != nil {
			return err
		}
		for i := range indexes {
			sub := indexes[i].sub()
			if err := tx.DeleteBucket(c.name, sub); err != nil && err != errBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(c.name, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.lastID.Store(0)
	return nil
}

// GetIndexes lists the index definitions of the collection.
func (c *Collection) GetIndexes() ([]IndexDef, error) {
	var defs []IndexDef
	err := c.env.View(func(tx kvTx) error {
		indexes, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		for _, ix := range indexes {
			defs = append(defs, ix.def)
		}
		return nil
	})
	return defs, err
}

// HasIndex reports whether an index over the field path exists.
func (c *Collection) HasIndex(path string) (bool, error) {
	var found bool
	err := c.env.View(func(tx kvTx) error {
		if meta := c.metaBucket(tx); meta != nil {
			found = meta.Get([]byte(path)) != nil
		}
		return nil
	})
	return found, err
}

// EnsureIndex creates an index over the field path, populating it from
// the existing documents, all inside one write transaction: a failing
// populate (say, a unique violation) leaves no trace. An existing index
// with the same definition reports false; one with a different kind or
// key type is dropped and rebuilt.
func (c *Collection) EnsureIndex(path string, kind IndexKind, key KeyType) (bool, error) {
	if path == "" {
		return false, schemaErrf(c.name, path, nil, "index path must not be empty")
	}
	var created bool
	err := c.env.Update(func(tx kvTx) error {
		if err := c.ensureBuckets(tx); err != nil {
			return err
		}
		var err error
		created, err = c.ensureIndexInTx(tx, IndexDef{Path: path, Kind: kind, Key: key})
		return err
	})
	return created, err
}

func (c *Collection) ensureIndexInTx(tx kvTx, def IndexDef) (bool, error) {
	meta := nonNilBucket(c.metaBucket(tx))
	if raw := meta.Get([]byte(def.Path)); raw != nil {
		existing, err := decodeIndexMeta(def.Path, raw)
		if err != nil {
			return false, err
		}
		if existing == def {
			return false, nil
		}
		if _, err := c.dropIndexInTx(tx, def.Path); err != nil {
			return false, err
		}
	}

	raw, err := encodeIndexMeta(def)
	if err != nil {
		return false, err
	}
	if err := meta.Put([]byte(def.Path), raw); err != nil {
		return false, err
	}

	ix := indexStore{coll: c.name, def: def}
	if _, err := tx.CreateBucket(c.name, ix.sub()); err != nil {
		return false, err
	}

	// Populate from a full scan of the primary store.
	buck := c.dataBucket(tx)
	if buck == nil {
		return true, nil
	}
	var scanned int
	cur := buck.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		id := decodePrimary(k)
		doc, err := decodeDoc(v)
		if err != nil {
			return false, err
		}
		if err := ix.insert(tx, id, withPrimary(doc, id)); err != nil {
			return false, err
		}
		scanned++
	}
	c.env.logger.Debug("index populated",
		"collection", c.name, "path", def.Path,
		"kind", def.Kind.String(), "key", def.Key.String(), "docs", scanned)
	return true, nil
}

// DropIndex removes the index over the field path, reporting whether it
// existed.
func (c *Collection) DropIndex(path string) (bool, error) {
	var dropped bool
	err := c.env.Update(func(tx kvTx) error {
		var err error
		dropped, err = c.dropIndexInTx(tx, path)
		return err
	})
	return dropped, err
}

func (c *Collection) dropIndexInTx(tx kvTx, path string) (bool, error) {
	meta := c.metaBucket(tx)
	if meta == nil || meta.Get([]byte(path)) == nil {
		return false, nil
	}
	if err := meta.Delete([]byte(path)); err != nil {
		return false, err
	}
	err := tx.DeleteBucket(c.name, indexSubPrefix+path)
	if err != nil && err != errBucketNotFound {
		return false, err
	}
	return true, nil
}

// SetIndexes reconciles the index set with the given definitions in one
// write transaction: indexes not listed are dropped, listed ones are
// ensured.
func (c *Collection) SetIndexes(defs []IndexDef) error {
	return c.env.Update(func(tx kvTx) error {
		if err := c.ensureBuckets(tx); err != nil {
			return err
		}
		existing, err := loadIndexes(tx, c.name)
		if err != nil {
			return err
		}
		wanted := make(map[string]struct{}, len(defs))
		for _, def := range defs {
			wanted[def.Path] = struct{}{}
		}
		for _, ix := range existing {
			if _, keep := wanted[ix.def.Path]; !keep {
				if _, err := c.dropIndexInTx(tx, ix.def.Path); err != nil {
					return err
				}
			}
		}
		for _, def := range defs {
			if _, err := c.ensureIndexInTx(tx, def); err != nil {
				return err
			}
		}
		return nil
	})
}
