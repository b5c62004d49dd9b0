package accountcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

type fakeLoader struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*chain.Account
	fail     bool
	calls    [][]solana.PublicKey
	slot     uint64
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{accounts: make(map[solana.PublicKey]*chain.Account)}
}

func (f *fakeLoader) set(addr solana.PublicKey, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &chain.Account{Data: []byte(data)}
}

func (f *fakeLoader) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeLoader) GetMultipleAccounts(_ context.Context, keys []solana.PublicKey) (*chain.AccountBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]solana.PublicKey(nil), keys...))
	if f.fail {
		return nil, chain.ErrTransport
	}
	f.slot++
	out := &chain.AccountBatch{Slot: f.slot, Accounts: make([]*chain.Account, len(keys))}
	for i, k := range keys {
		out.Accounts[i] = f.accounts[k]
	}
	return out, nil
}

func (f *fakeLoader) reads(addr solana.PublicKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		for _, k := range call {
			if k.Equals(addr) {
				n++
			}
		}
	}
	return n
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type textSchema struct{}

func (textSchema) Name() string { return "text" }

func (textSchema) Decode(acct *chain.Account) (any, error) {
	if string(acct.Data) == "corrupt" {
		return nil, errors.New("corrupt payload")
	}
	return string(acct.Data), nil
}

func startCache(t *testing.T, loader Loader, opts Options) *Cache {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	c := New(loader, opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubscribeEventuallyPopulates(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	loader.set(addr, "hello")
	c := startCache(t, loader, Options{})

	h := c.Subscribe(addr, textSchema{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := c.WaitReady(ctx, h)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if snap.Value != "hello" || snap.State != StateActive || snap.Slot == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if v, ok := Value[string](c, h); !ok || v != "hello" {
		t.Fatalf("Value = %q, %v", v, ok)
	}

	loader.set(addr, "updated")
	waitFor(t, "refreshed value", func() bool {
		v, _ := Value[string](c, h)
		return v == "updated"
	})
}

func TestUnsubscribeStopsReads(t *testing.T) {
	loader := newFakeLoader()
	released := solana.NewWallet().PublicKey()
	kept := solana.NewWallet().PublicKey()
	loader.set(released, "a")
	loader.set(kept, "b")
	c := startCache(t, loader, Options{})

	hReleased := c.Subscribe(released, textSchema{})
	hKept := c.Subscribe(kept, textSchema{})
	ctx := context.Background()
	if _, err := c.WaitReady(ctx, hReleased); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	c.Unsubscribe(hReleased)
	if _, ok := c.Get(hReleased); ok {
		t.Fatal("Get returned a snapshot for a released handle")
	}
	if c.State(hReleased) != StateUnsubscribed {
		t.Fatalf("state = %v", c.State(hReleased))
	}
	before := loader.reads(released)
	calls := loader.callCount()

	waitFor(t, "further refresh passes", func() bool { return loader.callCount() >= calls+3 })
	if after := loader.reads(released); after != before {
		t.Fatalf("released address read %d more times", after-before)
	}
	if _, ok := c.Get(hKept); !ok {
		t.Fatal("kept subscription lost its snapshot")
	}
}

func TestUnsubscribeIsRefcountedAndIdempotent(t *testing.T) {
	c := New(newFakeLoader(), Options{}, nil)
	c.Unsubscribe()
	c.Unsubscribe(Handle{})

	addr := solana.NewWallet().PublicKey()
	first := c.Subscribe(addr, textSchema{})
	second := c.Subscribe(addr, textSchema{})
	if c.Active() != 1 {
		t.Fatalf("active = %d, want 1", c.Active())
	}

	c.Unsubscribe(first)
	c.Unsubscribe(first)
	if c.Active() != 1 {
		t.Fatalf("active after one release = %d, want 1", c.Active())
	}
	c.Unsubscribe(second)
	if c.Active() != 0 {
		t.Fatalf("active after all releases = %d, want 0", c.Active())
	}
}

func TestMissingAccountResolvesNotFound(t *testing.T) {
	c := startCache(t, newFakeLoader(), Options{})
	h := c.Subscribe(solana.NewWallet().PublicKey(), textSchema{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.WaitReady(ctx, h)
	if !errors.Is(err, chain.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if _, ok := c.Get(h); ok {
		t.Fatal("missing account produced a snapshot")
	}
}

func TestMissingAccountIsLookedUpAgain(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	c := startCache(t, loader, Options{Interval: time.Hour})
	h := c.Subscribe(addr, textSchema{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.WaitReady(ctx, h); !errors.Is(err, chain.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}

	loader.set(addr, "created")
	snap, err := c.WaitReady(ctx, h)
	if err != nil {
		t.Fatalf("WaitReady after creation: %v", err)
	}
	if snap.Value != "created" {
		t.Fatalf("value = %v", snap.Value)
	}
}

func TestWaitFreshWaitsForNextPass(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	loader.set(addr, "v1")
	c := startCache(t, loader, Options{Interval: time.Hour})
	h := c.Subscribe(addr, textSchema{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := c.WaitReady(ctx, h)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	loader.set(addr, "v2")
	fresh, err := c.WaitFresh(ctx, h)
	if err != nil {
		t.Fatalf("WaitFresh: %v", err)
	}
	if fresh.Value != "v2" || fresh.Slot <= first.Slot {
		t.Fatalf("fresh = %+v after %+v", fresh, first)
	}

	c.Unsubscribe(h)
	if _, err := c.WaitFresh(ctx, h); !errors.Is(err, ErrUnsubscribed) {
		t.Fatalf("err = %v, want ErrUnsubscribed", err)
	}
}

func TestRepeatedFailuresMarkStale(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	loader.set(addr, "v1")
	c := startCache(t, loader, Options{StaleAfter: 2})

	h := c.Subscribe(addr, textSchema{})
	if _, err := c.WaitReady(context.Background(), h); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	loader.setFail(true)
	waitFor(t, "stale state", func() bool { return c.State(h) == StateStale })

	snap, ok := c.Get(h)
	if !ok || snap.Value != "v1" {
		t.Fatalf("stale snapshot = %+v, %v", snap, ok)
	}

	loader.setFail(false)
	waitFor(t, "recovery", func() bool { return c.State(h) == StateActive })
}

func TestFailuresBeforeFirstSnapshotReleaseWaiters(t *testing.T) {
	loader := newFakeLoader()
	loader.setFail(true)
	c := startCache(t, loader, Options{StaleAfter: 2})

	h := c.Subscribe(solana.NewWallet().PublicKey(), textSchema{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.WaitReady(ctx, h); !errors.Is(err, chain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestDecodeFailureKeepsPreviousSnapshot(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	loader.set(addr, "good")
	c := startCache(t, loader, Options{StaleAfter: 100})

	h := c.Subscribe(addr, textSchema{})
	if _, err := c.WaitReady(context.Background(), h); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	loader.set(addr, "corrupt")
	calls := loader.callCount()
	waitFor(t, "more passes", func() bool { return loader.callCount() >= calls+2 })
	if v, _ := Value[string](c, h); v != "good" {
		t.Fatalf("value = %q, want previous snapshot", v)
	}
}

func TestRefreshBatchesAddresses(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, Options{MaxBatch: 2}, nil)
	for range 5 {
		addr := solana.NewWallet().PublicKey()
		loader.set(addr, "x")
		c.Subscribe(addr, textSchema{})
	}

	c.refresh(context.Background())

	if got := loader.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	for _, call := range loader.calls {
		if len(call) > 2 {
			t.Fatalf("batch of %d exceeds max", len(call))
		}
	}
}

func TestRunRejectsSecondLoop(t *testing.T) {
	c := startCache(t, newFakeLoader(), Options{})
	waitFor(t, "loop start", func() bool { return c.running.Load() })
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestFollowKicksOnNewSlots(t *testing.T) {
	loader := newFakeLoader()
	addr := solana.NewWallet().PublicKey()
	loader.set(addr, "x")
	c := startCache(t, loader, Options{Interval: time.Hour})
	c.Subscribe(addr, textSchema{})
	waitFor(t, "initial pass", func() bool { return loader.callCount() >= 1 })

	slots := make(chan uint64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Follow(ctx, slots)

	before := loader.callCount()
	slots <- 10
	waitFor(t, "kicked pass", func() bool { return loader.callCount() > before })
}
