// Package session wires the ledger, account cache, exchange client and price
// engine for one environment and runs their background loops.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/drift"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/markets"
	"github.com/slide-labs/slide-socialfi/internal/pricing"
)

type Options struct {
	Env        config.Environment
	RPCTimeout time.Duration
	Cache      config.CacheConfig
	Tx         config.TxConfig
}

type Session struct {
	Env      config.Environment
	Ledger   *chain.RPCLedger
	Cache    *accountcache.Cache
	Registry *markets.Registry
	Exchange *drift.Client
	Prices   *pricing.Engine

	logger *slog.Logger
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open starts the cache loop, and the slot feed when enabled, then subscribes
// every catalog market. Close must be called on success.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	logger = logging.OrDiscard(logger)

	registry, err := markets.Load(opts.Env.Name)
	if err != nil {
		return nil, err
	}
	ledger := chain.NewRPCLedger(opts.Env, opts.RPCTimeout, opts.Tx, logger)
	cache := accountcache.New(ledger, accountcache.Options{
		Interval:    opts.Cache.Interval,
		MaxBatch:    opts.Cache.MaxBatch,
		StaleAfter:  opts.Cache.StaleAfter,
		Concurrency: opts.Cache.Concurrency,
	}, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return cache.Run(runCtx) })
	if opts.Cache.FollowSlots {
		slots := make(chan uint64, 1)
		stream := chain.NewSlotStream(opts.Env.WSURL, logger)
		group.Go(func() error { return stream.Run(runCtx, slots) })
		group.Go(func() error {
			cache.Follow(runCtx, slots)
			return nil
		})
	}

	exchange := drift.New(drift.Config{ProgramID: opts.Env.DriftProgramID, Tx: opts.Tx}, cache, registry, ledger, logger)
	s := &Session{
		Env:      opts.Env,
		Ledger:   ledger,
		Cache:    cache,
		Registry: registry,
		Exchange: exchange,
		Prices:   pricing.NewEngine(registry, exchange, cache, nil, logger),
		logger:   logger,
		cancel:   cancel,
		group:    group,
	}

	if err := exchange.Subscribe(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("subscribe markets: %w", err)
	}
	logger.Info("session ready",
		"env", opts.Env.Name,
		"perp_markets", len(registry.Perp()),
		"spot_markets", len(registry.Spot()),
		"follow_slots", opts.Cache.FollowSlots,
	)
	return s, nil
}

// Close releases market subscriptions and stops the background loops.
func (s *Session) Close() error {
	s.Exchange.Unsubscribe()
	s.cancel()
	return s.group.Wait()
}
