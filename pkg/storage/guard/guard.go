// Package guard serializes load-mutate-save cycles on stored entities.
//
// Every operation that reads an entity, changes it and writes it back holds the
// key for that entity for the whole cycle. Operations touching several entities
// ask for all keys in one Acquire call; keys are always taken in sorted order so
// two such operations can never wait on each other in a cycle.
package guard

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/storage"
)

// DefaultTimeout bounds how long Acquire waits for all of its keys
const DefaultTimeout = 5 * time.Second

// Key identifies one lockable entity, formatted as "namespace:entity[:sub...]"
type Key string

// NewKey builds the key for an entity in a namespace. Extra parts narrow the key,
// e.g. NewKey(storage.ServerInfo, guildID, "cases").
func NewKey(ns storage.Namespace, entity string, parts ...string) Key {
	all := append([]string{ns.String(), entity}, parts...)
	return Key(strings.Join(all, ":"))
}

type entry struct {
	sem  chan struct{}
	refs int // holders plus waiters; the entry is dropped when this reaches zero
}

// Guard hands out exclusive access to keys
type Guard struct {
	mu      sync.Mutex
	entries map[Key]*entry
	timeout time.Duration
}

// New creates a guard whose acquisitions give up after timeout
func New(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		entries: make(map[Key]*entry),
		timeout: timeout,
	}
}

// Timeout returns the configured acquisition timeout
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Acquire takes every key, in sorted order, and returns a function releasing them.
// If the keys cannot all be taken before the timeout it fails with LOCK_TIMEOUT and
// holds nothing. The returned release function is safe to call more than once.
func (g *Guard) Acquire(ctx context.Context, keys ...Key) (func(), error) {
	ordered := normalize(keys)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	held := make([]Key, 0, len(ordered))
	for _, key := range ordered {
		e := g.ref(key)
		select {
		case e.sem <- struct{}{}:
			held = append(held, key)
		case <-timer.C:
			g.unref(key)
			g.releaseAll(held)
			return nil, types.Errorf(types.ErrLockTimeout, "timed out after %s waiting for %s", g.timeout, key)
		case <-ctx.Done():
			g.unref(key)
			g.releaseAll(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.releaseAll(held) })
	}, nil
}

// Do runs fn while holding keys
func (g *Guard) Do(ctx context.Context, keys []Key, fn func() error) error {
	release, err := g.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Retry runs fn and, if it fails with LOCK_TIMEOUT, runs it once more
func Retry(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !types.Is(err, types.ErrLockTimeout) || ctx.Err() != nil {
		return err
	}
	return fn(ctx)
}

func normalize(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Guard) ref(key Key) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		g.entries[key] = e
	}
	e.refs++
	return e
}

func (g *Guard) unref(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(g.entries, key)
	}
}

// releaseAll frees held keys in reverse acquisition order
func (g *Guard) releaseAll(held []Key) {
	for i := len(held) - 1; i >= 0; i-- {
		g.mu.Lock()
		e := g.entries[held[i]]
		g.mu.Unlock()

		<-e.sem
		g.unref(held[i])
	}
}

// size reports how many keys are currently tracked
func (g *Guard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
