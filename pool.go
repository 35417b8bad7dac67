package ledb

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Pool is a process-wide registry of open environments keyed by canonical
// path. The engine forbids two handles into the same file, so every open of
// a path must share the one environment; handles are reference-counted and
// the environment closes when the last handle is dropped.
type Pool struct {
	mu   sync.Mutex
	envs map[string]*Env
	sf   singleflight.Group
}

// NewPool creates an empty environment registry. Most callers use the
// package-level Open, which goes through a shared default pool.
func NewPool() *Pool {
	return &Pool{envs: make(map[string]*Env)}
}

var defaultPool = NewPool()

// Open opens the environment at path, reusing an already-open handle for
// the same canonical path. Options apply only when the environment is
// actually opened; a reused environment keeps its original options.
func (p *Pool) Open(path string, opts Options) (*Storage, error) {
	canon, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	// Concurrent opens of one path collapse into a single engine open;
	// the engine's file lock would otherwise make the losers block.
	v, err, _ := p.sf.Do(canon, func() (any, error) {
		p.mu.Lock()
		if env, ok := p.envs[canon]; ok {
			p.mu.Unlock()
			return env, nil
		}
		p.mu.Unlock()

		env, err := openEnv(p, canon, opts)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.envs[canon] = env
		p.mu.Unlock()
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	// Every caller sharing the result takes its own reference. An
	// environment released by its last holder in the meantime is reopened.
	env := v.(*Env)
	p.mu.Lock()
	if p.envs[canon] != env {
		p.mu.Unlock()
		return p.Open(path, opts)
	}
	env.refs++
	p.mu.Unlock()
	return newStorage(env), nil
}

// release drops one reference; the last one closes the environment and
// removes the registry entry.
func (p *Pool) release(env *Env) error {
	p.mu.Lock()
	env.refs--
	last := env.refs == 0
	if last {
		delete(p.envs, env.path)
	}
	p.mu.Unlock()

	if last {
		return env.close()
	}
	return nil
}

// Openned returns a sorted snapshot of the canonical paths of currently
// open environments.
func (p *Pool) Openned() []string {
	p.mu.Lock()
	paths := make([]string, 0, len(p.envs))
	for path := range p.envs {
		paths = append(paths, path)
	}
	p.mu.Unlock()
	sort.Strings(paths)
	return paths
}

// Open opens a storage through the default pool.
func Open(path string, opts Options) (*Storage, error) {
	return defaultPool.Open(path, opts)
}

// Openned lists the paths of environments open through the default pool.
func Openned() []string {
	return defaultPool.Openned()
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("ledb: resolving path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
