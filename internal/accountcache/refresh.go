package accountcache

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

// Run drives the refresh loop until ctx ends. Passes never overlap: a kick
// that arrives mid-pass is coalesced into the following one.
func (c *Cache) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("account cache started", "interval", c.opts.Interval, "max_batch", c.opts.MaxBatch)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("account cache stopped")
			return nil
		case <-ticker.C:
		case <-c.kick:
		}
		c.refresh(ctx)
	}
}

// Follow kicks a refresh whenever the slot feed advances. It returns when
// ctx ends or slots is closed.
func (c *Cache) Follow(ctx context.Context, slots <-chan uint64) {
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case slot, ok := <-slots:
			if !ok {
				return
			}
			if slot > last {
				last = slot
				c.Kick()
			}
		}
	}
}

type target struct {
	key key
	sub *subscription
}

type chunkResult struct {
	addresses []solana.PublicKey
	batch     *chain.AccountBatch
	err       error
}

func (c *Cache) refresh(ctx context.Context) {
	c.mu.Lock()
	done := c.pass
	c.pass = make(chan struct{})
	defer close(done)

	byAddress := make(map[solana.PublicKey][]target, len(c.subs))
	addresses := make([]solana.PublicKey, 0, len(c.subs))
	for k, sub := range c.subs {
		if _, seen := byAddress[k.address]; !seen {
			addresses = append(addresses, k.address)
		}
		byAddress[k.address] = append(byAddress[k.address], target{key: k, sub: sub})
	}
	c.mu.Unlock()

	if len(addresses) == 0 {
		return
	}

	results := c.load(ctx, addresses)
	if ctx.Err() != nil {
		return
	}
	c.apply(results, byAddress, time.Now())
}

func (c *Cache) load(ctx context.Context, addresses []solana.PublicKey) []chunkResult {
	var chunks [][]solana.PublicKey
	for start := 0; start < len(addresses); start += c.opts.MaxBatch {
		end := min(start+c.opts.MaxBatch, len(addresses))
		chunks = append(chunks, addresses[start:end])
	}

	results := make([]chunkResult, len(chunks))
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			batch, err := c.loader.GetMultipleAccounts(ctx, chunk)
			if err == nil && len(batch.Accounts) != len(chunk) {
				err = errors.New("ledger returned a batch of the wrong size")
			}
			results[i] = chunkResult{addresses: chunk, batch: batch, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// apply folds one pass into a new snapshot map and publishes it with a
// single pointer swap.
func (c *Cache) apply(results []chunkResult, byAddress map[solana.PublicKey][]target, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.store.Load()
	next := make(map[key]Snapshot, len(current))
	for k, snap := range current {
		next[k] = snap
	}

	for _, res := range results {
		if res.err != nil {
			c.logger.Warn("account batch read failed", "accounts", len(res.addresses), "err", res.err)
			for _, addr := range res.addresses {
				for _, t := range byAddress[addr] {
					c.fail(next, t, res.err)
				}
			}
			continue
		}

		for i, addr := range res.addresses {
			acct := res.batch.Accounts[i]
			for _, t := range byAddress[addr] {
				if t.sub.removed {
					continue
				}
				if acct == nil {
					delete(next, t.key)
					t.sub.missing = true
					t.sub.failures = 0
					t.sub.lastErr = nil
					t.sub.resolve()
					continue
				}

				value, err := t.sub.schema.Decode(acct)
				if err != nil {
					c.logger.Warn("account decode failed", "address", addr, "schema", t.key.schema, "err", err)
					c.fail(next, t, err)
					continue
				}

				next[t.key] = Snapshot{
					Address:     addr,
					Schema:      t.key.schema,
					Value:       value,
					Slot:        res.batch.Slot,
					RefreshedAt: now,
					State:       StateActive,
				}
				t.sub.missing = false
				t.sub.failures = 0
				t.sub.lastErr = nil
				t.sub.resolve()
			}
		}
	}

	c.store.Store(&next)
}

func (c *Cache) fail(next map[key]Snapshot, t target, err error) {
	if t.sub.removed {
		return
	}
	t.sub.failures++
	t.sub.lastErr = err
	if t.sub.failures < c.opts.StaleAfter {
		return
	}
	if snap, ok := next[t.key]; ok {
		if snap.State != StateStale {
			c.logger.Warn("account snapshot stale", "address", t.key.address, "schema", t.key.schema, "failures", t.sub.failures)
		}
		snap.State = StateStale
		next[t.key] = snap
	}
	t.sub.resolve()
}
