package ledb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Options configure an environment. All fields are optional; the zero value
// opens a read-write environment with engine defaults.
//
// MapSize, ReadOnly, NoSync, NoMetaSync, MapAsync and NoSubDir map onto
// engine settings. MaxReaders, MaxDBs, NoLock, NoMemInit, NoReadAhead,
// NoTLS and WriteMap exist for option-set compatibility with LMDB-style
// engines; Bolt has no equivalent knobs, so they are inert (MaxReaders is
// only reported back in Info).
type Options struct {
	MapSize    int
	MaxReaders int
	MaxDBs     int

	MapAsync    bool
	NoLock      bool
	NoMemInit   bool
	NoMetaSync  bool
	NoReadAhead bool
	NoSubDir    bool
	NoSync      bool
	NoTLS       bool
	ReadOnly    bool
	WriteMap    bool

	Logger *slog.Logger
}

// The environment data file name when the path is a directory.
const envDataFile = "data.mdb"

// Env owns one key-value environment: the engine handle, the write
// serialization lock, and the identity inside the pool that opened it.
type Env struct {
	pool  *Pool
	path  string // canonical path as registered in the pool
	stor  kvStorage
	opts  Options
	logger *slog.Logger

	// The engine allows a single writer at a time; writeLock serializes
	// writers inside the process so they queue instead of erroring.
	writeLock sync.Mutex

	refs int // guarded by pool.mu
}

func openEnv(pool *Pool, path string, opts Options) (*Env, error) {
	file := path
	if !opts.NoSubDir {
		if err := os.MkdirAll(path, 0777); err != nil {
			return nil, fmt.Errorf("ledb: creating environment directory: %w", err)
		}
		file = filepath.Join(path, envDataFile)
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.ReadOnly = opts.ReadOnly
	bopt.NoSync = opts.NoSync
	bopt.NoFreelistSync = opts.NoMetaSync
	bopt.NoGrowSync = opts.MapAsync
	if opts.MapSize != 0 {
		bopt.InitialMmapSize = opts.MapSize
	}

	bdb, err := bbolt.Open(file, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("ledb: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Env{
		pool:   pool,
		path:   path,
		stor:   newBoltStorage(bdb),
		opts:   opts,
		logger: logger,
	}, nil
}

func (env *Env) close() error {
	return env.stor.Close()
}

// View runs f inside a read transaction.
func (env *Env) View(f func(tx kvTx) error) error {
	tx, err := env.stor.BeginTx(false)
	if err != nil {
		return fmt.Errorf("ledb: begin read: %w", err)
	}
	defer tx.Rollback()
	return f(tx)
}

// Update runs f inside the write transaction, committing on success and
// rolling back on error or panic. Writers are serialized process-wide.
func (env *Env) Update(f func(tx kvTx) error) error {
	if env.opts.ReadOnly {
		return ErrReadOnly
	}
	env.writeLock.Lock()
	defer env.writeLock.Unlock()

	tx, err := env.stor.BeginTx(true)
	if err != nil {
		return fmt.Errorf("ledb: begin write: %w", err)
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledb: commit: %w", err)
	}
	return nil
}

// beginRead starts a read transaction owned by the caller (cursors).
func (env *Env) beginRead() (kvTx, error) {
	tx, err := env.stor.BeginTx(false)
	if err != nil {
		return nil, fmt.Errorf("ledb: begin read: %w", err)
	}
	return tx, nil
}

// Info describes the environment configuration and engine counters.
type Info struct {
	Path            string `json:"path"`
	MapSize         int64  `json:"map_size"`
	LastTransaction int    `json:"last_transaction"`
	MaxReaders      int    `json:"max_readers"`
	NumReaders      int    `json:"num_readers"`
	ReadOnly        bool   `json:"read_only"`
}

// Stats describes the B-tree shape of the environment: page counts and
// depth are aggregated over every collection's root bucket (nested buckets
// included), entries over every collection's data, meta and index buckets.
type Stats struct {
	PageSize      int `json:"page_size"`
	BTreeDepth    int `json:"btree_depth"`
	BranchPages   int `json:"branch_pages"`
	LeafPages     int `json:"leaf_pages"`
	OverflowPages int `json:"overflow_pages"`
	DataEntries   int `json:"data_entries"`
}

func (env *Env) info() Info {
	es := env.stor.Stats()
	info := Info{
		Path:            env.stor.Path(),
		MapSize:         int64(env.opts.MapSize),
		LastTransaction: es.LastTxID,
		MaxReaders:      env.opts.MaxReaders,
		NumReaders:      es.OpenTxN,
		ReadOnly:        env.opts.ReadOnly,
	}
	if info.MapSize == 0 {
		if st, err := os.Stat(env.stor.Path()); err == nil {
			info.MapSize = st.Size()
		}
	}
	return info
}

func (env *Env) stats() (Stats, error) {
	out := Stats{PageSize: env.stor.Stats().PageSize}
	err := env.View(func(tx kvTx) error {
		tx.Roots(func(name string) bool {
			// Small nested buckets live inline in their root's pages, so
			// pages and depth come from the root, whose engine stats
			// include its nested buckets.
			if root := tx.Bucket(name, ""); root != nil {
				rs := root.Stats()
				if rs.Depth > out.BTreeDepth {
					out.BTreeDepth = rs.Depth
				}
				out.BranchPages += rs.BranchPageN
				out.LeafPages += rs.LeafPageN
			}
			for _, sub := range collectionSubs(tx, name) {
				buck := tx.Bucket(name, sub)
				if buck == nil {
					continue
				}
				out.DataEntries += buck.Stats().KeyN
			}
			return true
		})
		return nil
	})
	return out, err
}
