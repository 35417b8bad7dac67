/*
Package ledb implements an embedded schema-less document database on top of
a key-value store (in this case, on top of Bolt).

We implement:

1. Storages, one per on-disk environment, shared process-wide through a pool
keyed by canonical path.

2. Collections of arbitrary documents addressed by an auto-incrementing
64-bit primary key.

3. Indexes, unique or duplicated, over dotted field paths with typed keys
(int, float, bool, string, binary), allowing quick lookup of documents by
field values.

4. Queries composed of a filter, an ordering and skip/take bounds, answered
through a lazy cursor; and structured modifications applied by filter.

# Technical Details

**Buckets.**
We rely on scoped namespaces for keys called buckets. Bolt supports them
natively. Each collection is a root bucket holding nested buckets: `$data`
for primary → document blob, `$meta` for index definitions, and one
`$index$<path>` bucket per index.

**Key encoding.**
Index keys are encoded so that lexicographic byte order equals logical
order: big-endian integers with the sign bit flipped, floats with a
sign-dependent bit transform, booleans as a single byte, strings and
binary as raw bytes. Duplicated indexes append the primary to an escaped
copy of the key so that entries sort by (key, primary).

**Values.**
A document blob is a flags header followed by a msgpack encoding of the
document tree; large blobs are s2-compressed, signalled by a flag bit.

**Writes.**
Bolt allows a single writer at a time. Every public mutating operation runs
inside exactly one write transaction and either commits completely or
leaves no trace. Readers take MVCC snapshots and never block the writer.
*/
package ledb
