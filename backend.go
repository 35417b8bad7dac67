package ledb

import "errors"

// errBucketNotFound is returned by kvTx.DeleteBucket when the bucket doesn't exist.
var errBucketNotFound = errors.New("bucket not found")

// kvStorage represents the key-value storage backend (Bolt).
type kvStorage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (kvTx, error)
	// Close closes the storage.
	Close() error
	// Path returns the on-disk location of the data file.
	Path() string
	// Stats returns engine-level statistics.
	Stats() engineStats
}

// kvTx represents a storage transaction.
type kvTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// ID returns the engine's transaction id.
	ID() int

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for a
	// nested bucket. Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) kvBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (kvBucket, error)

	// DeleteBucket deletes a root bucket (sub == "") or a nested one.
	DeleteBucket(name, sub string) error

	// Roots calls f for every root bucket name, stopping on false.
	Roots(f func(name string) bool)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// kvBucket represents a bucket (sorted key-value collection).
type kvBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() kvCursor

	// Stats returns storage-specific bucket statistics.
	Stats() bucketStats

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}

type bucketStats struct {
	KeyN        int
	Depth       int
	BranchPageN int
	LeafPageN   int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

type engineStats struct {
	PageSize int
	LastTxID int
	OpenTxN  int
	FreePageN int
}

// kvCursor iterates over a sorted bucket.
type kvCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that starts at or before the given
	// prefix/boundary. This is commonly implemented as: Seek(inc(prefix))
	// then Prev().
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Delete deletes the current key-value pair.
	Delete() error
}
