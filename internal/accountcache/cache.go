// Package accountcache keeps decoded copies of on-chain accounts fresh by
// polling them in batches. Reads never touch the network; a single refresh
// loop publishes a new immutable snapshot set after every pass.
package accountcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

var (
	ErrUnsubscribed   = errors.New("subscription released")
	ErrAlreadyRunning = errors.New("account cache refresh loop already running")
)

type State int

const (
	StatePending State = iota
	StateActive
	StateStale
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Schema turns raw account data into a typed value. The name is part of the
// cache key, so one address may be cached under several schemas.
type Schema interface {
	Name() string
	Decode(acct *chain.Account) (any, error)
}

type Loader interface {
	GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) (*chain.AccountBatch, error)
}

type Options struct {
	Interval    time.Duration
	MaxBatch    int
	StaleAfter  int
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 100
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 3
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Snapshot is an immutable view of one account. Value is shared between
// readers and must not be mutated.
type Snapshot struct {
	Address     solana.PublicKey
	Schema      string
	Value       any
	Slot        uint64
	RefreshedAt time.Time
	State       State
}

type key struct {
	address solana.PublicKey
	schema  string
}

type handleRef struct {
	released atomic.Bool
}

// Handle identifies one subscription. The zero Handle is never valid.
type Handle struct {
	key key
	ref *handleRef
}

func (h Handle) Address() solana.PublicKey { return h.key.address }

type subscription struct {
	schema   Schema
	refs     int
	failures int
	missing  bool
	lastErr  error
	ready    chan struct{}
	resolved bool
	removed  bool
}

func (s *subscription) resolve() {
	if !s.resolved {
		s.resolved = true
		close(s.ready)
	}
}

type Cache struct {
	loader Loader
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	subs map[key]*subscription

	// pass is closed when the next refresh pass to start has been applied.
	pass chan struct{}

	store   atomic.Pointer[map[key]Snapshot]
	kick    chan struct{}
	running atomic.Bool
}

func New(loader Loader, opts Options, logger *slog.Logger) *Cache {
	c := &Cache{
		loader: loader,
		opts:   opts.withDefaults(),
		logger: logging.OrDiscard(logger).With("component", "account_cache"),
		subs:   make(map[key]*subscription),
		pass:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
	empty := make(map[key]Snapshot)
	c.store.Store(&empty)
	return c
}

// Subscribe registers interest in address decoded with schema. The account
// is read on the next refresh pass.
func (c *Cache) Subscribe(address solana.PublicKey, schema Schema) Handle {
	k := key{address: address, schema: schema.Name()}

	c.mu.Lock()
	sub, ok := c.subs[k]
	if !ok {
		sub = &subscription{schema: schema, ready: make(chan struct{})}
		c.subs[k] = sub
	}
	sub.refs++
	c.mu.Unlock()

	return Handle{key: k, ref: &handleRef{}}
}

// Unsubscribe releases handles. Polling of an address stops once no handle
// references it. Releasing a handle twice is a no-op.
func (c *Cache) Unsubscribe(handles ...Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pruned []key
	for _, h := range handles {
		if h.ref == nil || !h.ref.released.CompareAndSwap(false, true) {
			continue
		}
		sub, ok := c.subs[h.key]
		if !ok {
			continue
		}
		sub.refs--
		if sub.refs > 0 {
			continue
		}
		sub.removed = true
		sub.resolve()
		delete(c.subs, h.key)
		pruned = append(pruned, h.key)
	}
	if len(pruned) == 0 {
		return
	}

	current := *c.store.Load()
	next := make(map[key]Snapshot, len(current))
	for k, snap := range current {
		next[k] = snap
	}
	for _, k := range pruned {
		delete(next, k)
	}
	c.store.Store(&next)
}

func (c *Cache) Get(h Handle) (Snapshot, bool) {
	if h.ref == nil || h.ref.released.Load() {
		return Snapshot{}, false
	}
	snap, ok := (*c.store.Load())[h.key]
	return snap, ok
}

// Value returns the decoded value behind h when it holds a T.
func Value[T any](c *Cache, h Handle) (T, bool) {
	var zero T
	snap, ok := c.Get(h)
	if !ok {
		return zero, false
	}
	v, ok := snap.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

func (c *Cache) State(h Handle) State {
	if h.ref == nil || h.ref.released.Load() {
		return StateUnsubscribed
	}
	if snap, ok := c.Get(h); ok {
		return snap.State
	}
	return StatePending
}

// Active reports how many distinct (address, schema) pairs are polled.
func (c *Cache) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Kick requests a refresh pass without waiting for the next tick.
func (c *Cache) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// WaitReady blocks until the subscription has been resolved by a refresh
// pass. It returns chain.ErrAccountNotFound when the address holds no
// account, and the last transport error when reads keep failing before any
// snapshot exists. An account last seen missing is looked up again on the
// next pass before it is reported absent.
func (c *Cache) WaitReady(ctx context.Context, h Handle) (Snapshot, error) {
	sub, pass, err := c.lookup(h)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	missing := sub.missing
	c.mu.Unlock()

	var wait <-chan struct{} = sub.ready
	if missing {
		wait = pass
	}
	c.Kick()
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-wait:
	}
	return c.outcome(ctx, h, sub)
}

// WaitFresh is WaitReady for a snapshot read by a refresh pass that started
// after the call.
func (c *Cache) WaitFresh(ctx context.Context, h Handle) (Snapshot, error) {
	sub, pass, err := c.lookup(h)
	if err != nil {
		return Snapshot{}, err
	}
	c.Kick()
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-pass:
	}
	return c.outcome(ctx, h, sub)
}

func (c *Cache) lookup(h Handle) (*subscription, <-chan struct{}, error) {
	if h.ref == nil || h.ref.released.Load() {
		return nil, nil, ErrUnsubscribed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[h.key]
	if !ok {
		return nil, nil, ErrUnsubscribed
	}
	return sub, c.pass, nil
}

// outcome reports what the refresh passes so far know about h. Reads that
// failed without resolving the subscription keep the caller waiting.
func (c *Cache) outcome(ctx context.Context, h Handle, sub *subscription) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-sub.ready:
	}

	if snap, ok := c.Get(h); ok {
		return snap, nil
	}

	c.mu.Lock()
	removed, missing, lastErr := sub.removed, sub.missing, sub.lastErr
	c.mu.Unlock()
	switch {
	case removed || h.ref.released.Load():
		return Snapshot{}, ErrUnsubscribed
	case missing:
		return Snapshot{}, fmt.Errorf("%w: %s", chain.ErrAccountNotFound, h.key.address)
	case lastErr != nil:
		return Snapshot{}, lastErr
	default:
		return Snapshot{}, fmt.Errorf("%w: %s", chain.ErrAccountNotFound, h.key.address)
	}
}
