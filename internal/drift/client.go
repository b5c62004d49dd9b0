// Package drift keeps the exchange's markets, oracles and user accounts
// subscribed in the account cache and builds the account lists its
// instructions need.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/markets"
)

// QuoteSpotMarketIndex is the spot market every perp position settles in.
const QuoteSpotMarketIndex uint16 = 0

var ErrMarketNotLoaded = errors.New("market account not loaded")

type Config struct {
	ProgramID solana.PublicKey
	Tx        config.TxConfig
}

type marketSub struct {
	desc   markets.Descriptor
	market accountcache.Handle
	oracle *accountcache.Handle
}

type Client struct {
	cfg      Config
	cache    *accountcache.Cache
	registry *markets.Registry
	ledger   chain.Ledger
	logger   *slog.Logger

	mu    sync.RWMutex
	spot  map[uint16]*marketSub
	perp  map[uint16]*marketSub
	users map[userKey]*userEntry
}

func New(cfg Config, cache *accountcache.Cache, registry *markets.Registry, ledger chain.Ledger, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		cache:    cache,
		registry: registry,
		ledger:   ledger,
		logger:   logging.OrDiscard(logger).With("component", "drift_client"),
		spot:     make(map[uint16]*marketSub),
		perp:     make(map[uint16]*marketSub),
		users:    make(map[userKey]*userEntry),
	}
}

func (c *Client) ProgramID() solana.PublicKey { return c.cfg.ProgramID }

func (c *Client) Registry() *markets.Registry { return c.registry }

// Subscribe loads every catalog market and its oracle into the cache. Markets
// absent on chain are logged and skipped; transport failures abort.
func (c *Client) Subscribe(ctx context.Context) error {
	for _, desc := range c.registry.Spot() {
		if err := c.subscribeMarket(ctx, desc); err != nil {
			c.Unsubscribe()
			return err
		}
	}
	for _, desc := range c.registry.Perp() {
		if err := c.subscribeMarket(ctx, desc); err != nil {
			c.Unsubscribe()
			return err
		}
	}

	c.mu.RLock()
	c.logger.Info("exchange markets subscribed", "spot", len(c.spot), "perp", len(c.perp))
	c.mu.RUnlock()
	return nil
}

func (c *Client) subscribeMarket(ctx context.Context, desc markets.Descriptor) error {
	var (
		address solana.PublicKey
		schema  accountcache.Schema
		err     error
	)
	if desc.Kind == markets.KindPerp {
		address, _, err = DerivePerpMarketAddress(c.cfg.ProgramID, desc.Index)
		schema = codec.PerpMarketSchema
	} else {
		address, _, err = DeriveSpotMarketAddress(c.cfg.ProgramID, desc.Index)
		schema = codec.SpotMarketSchema
	}
	if err != nil {
		return fmt.Errorf("derive %s market %d: %w", desc.Kind, desc.Index, err)
	}

	handle := c.cache.Subscribe(address, schema)
	snap, err := c.cache.WaitReady(ctx, handle)
	if err != nil {
		c.cache.Unsubscribe(handle)
		if errors.Is(err, chain.ErrAccountNotFound) {
			c.logger.Warn("market account missing", "kind", desc.Kind, "symbol", desc.Symbol, "index", desc.Index, "address", address)
			return nil
		}
		return fmt.Errorf("load %s market %s: %w", desc.Kind, desc.Symbol, err)
	}

	sub := &marketSub{desc: desc, market: handle}
	if desc.Oracle.Source != markets.OracleSourceQuoteAsset {
		oracle := oracleAddress(snap.Value)
		if oracle.IsZero() {
			oracle, _, err = DerivePythPushOracleAddress(desc.Oracle.Shard, desc.Oracle.FeedID)
			if err != nil {
				c.cache.Unsubscribe(handle)
				return fmt.Errorf("derive oracle for %s: %w", desc.Symbol, err)
			}
		}
		oracleHandle := c.cache.Subscribe(oracle, codec.PriceUpdateSchema)
		if _, err := c.cache.WaitReady(ctx, oracleHandle); err != nil && !errors.Is(err, chain.ErrAccountNotFound) {
			c.cache.Unsubscribe(handle, oracleHandle)
			return fmt.Errorf("load oracle for %s: %w", desc.Symbol, err)
		} else if err != nil {
			c.logger.Warn("oracle account missing", "symbol", desc.Symbol, "oracle", oracle)
		}
		sub.oracle = &oracleHandle
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.spot
	if desc.Kind == markets.KindPerp {
		target = c.perp
	}
	if prev, ok := target[desc.Index]; ok {
		c.release(prev)
	}
	target[desc.Index] = sub
	return nil
}

func oracleAddress(value any) solana.PublicKey {
	switch m := value.(type) {
	case *codec.PerpMarket:
		return m.Amm.Oracle
	case *codec.SpotMarket:
		return m.Oracle
	default:
		return solana.PublicKey{}
	}
}

func (c *Client) release(sub *marketSub) {
	c.cache.Unsubscribe(sub.market)
	if sub.oracle != nil {
		c.cache.Unsubscribe(*sub.oracle)
	}
}

// Unsubscribe releases every market, oracle and user subscription the client
// holds. It is safe to call more than once.
func (c *Client) Unsubscribe() {
	c.mu.Lock()
	spot, perp, users := c.spot, c.perp, c.users
	c.spot = make(map[uint16]*marketSub)
	c.perp = make(map[uint16]*marketSub)
	c.users = make(map[userKey]*userEntry)
	c.mu.Unlock()

	for _, sub := range spot {
		c.release(sub)
	}
	for _, sub := range perp {
		c.release(sub)
	}
	for _, entry := range users {
		c.cache.Unsubscribe(entry.user.handle)
	}
}

func (c *Client) PerpMarket(index uint16) (*codec.PerpMarket, bool) {
	c.mu.RLock()
	sub, ok := c.perp[index]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return accountcache.Value[*codec.PerpMarket](c.cache, sub.market)
}

func (c *Client) SpotMarket(index uint16) (*codec.SpotMarket, bool) {
	c.mu.RLock()
	sub, ok := c.spot[index]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return accountcache.Value[*codec.SpotMarket](c.cache, sub.market)
}

func (c *Client) OracleForPerp(index uint16) (codec.OraclePrice, bool) {
	c.mu.RLock()
	sub, ok := c.perp[index]
	c.mu.RUnlock()
	if !ok {
		return codec.OraclePrice{}, false
	}
	return c.oraclePrice(sub)
}

func (c *Client) OracleForSpot(index uint16) (codec.OraclePrice, bool) {
	c.mu.RLock()
	sub, ok := c.spot[index]
	c.mu.RUnlock()
	if !ok {
		return codec.OraclePrice{}, false
	}
	return c.oraclePrice(sub)
}

// OraclePrice resolves a perp symbol through the catalog and returns its
// cached oracle price.
func (c *Client) OraclePrice(symbol string) (codec.OraclePrice, bool) {
	desc, ok := c.registry.FindPerp(markets.BySymbol(symbol))
	if !ok {
		return codec.OraclePrice{}, false
	}
	return c.OracleForPerp(desc.Index)
}

func (c *Client) oraclePrice(sub *marketSub) (codec.OraclePrice, bool) {
	if sub.desc.Oracle.Source == markets.OracleSourceQuoteAsset {
		return codec.QuoteAssetPrice, true
	}
	if sub.oracle == nil {
		return codec.OraclePrice{}, false
	}
	price, ok := accountcache.Value[*codec.OraclePrice](c.cache, *sub.oracle)
	if !ok {
		return codec.OraclePrice{}, false
	}
	return *price, true
}

// RemainingAccountsParams lists the users whose open positions must be
// visible to the exchange, plus markets the instruction touches directly.
type RemainingAccountsParams struct {
	Users               []*codec.User
	ReadableSpotMarkets []uint16
	WritableSpotMarkets []uint16
	ReadablePerpMarkets []uint16
	WritablePerpMarkets []uint16
}

// RemainingAccounts returns oracles (read-only), then spot markets, then perp
// markets, each group ordered by market index.
func (c *Client) RemainingAccounts(params RemainingAccountsParams) ([]*solana.AccountMeta, error) {
	spot := make(map[uint16]bool)
	perp := make(map[uint16]bool)
	mark := func(set map[uint16]bool, index uint16, writable bool) {
		set[index] = set[index] || writable
	}

	for _, user := range params.Users {
		if user == nil {
			continue
		}
		for _, pos := range user.SpotPositions {
			if !pos.IsAvailable() {
				mark(spot, pos.MarketIndex, false)
			}
		}
		for _, pos := range user.PerpPositions {
			if !pos.IsAvailable() {
				mark(perp, pos.MarketIndex, false)
				mark(spot, QuoteSpotMarketIndex, false)
			}
		}
	}
	for _, idx := range params.ReadableSpotMarkets {
		mark(spot, idx, false)
	}
	for _, idx := range params.WritableSpotMarkets {
		mark(spot, idx, true)
	}
	for _, idx := range params.ReadablePerpMarkets {
		mark(perp, idx, false)
	}
	for _, idx := range params.WritablePerpMarkets {
		mark(perp, idx, true)
	}

	var oracles, spotMetas, perpMetas []*solana.AccountMeta
	seenOracle := make(map[solana.PublicKey]bool)
	addOracle := func(oracle solana.PublicKey) {
		if oracle.IsZero() || seenOracle[oracle] {
			return
		}
		seenOracle[oracle] = true
		oracles = append(oracles, solana.NewAccountMeta(oracle, false, false))
	}

	for _, idx := range sortedKeys(spot) {
		market, ok := c.SpotMarket(idx)
		if !ok {
			return nil, fmt.Errorf("%w: spot market %d", ErrMarketNotLoaded, idx)
		}
		addOracle(market.Oracle)
		spotMetas = append(spotMetas, solana.NewAccountMeta(market.Pubkey, spot[idx], false))
	}
	for _, idx := range sortedKeys(perp) {
		market, ok := c.PerpMarket(idx)
		if !ok {
			return nil, fmt.Errorf("%w: perp market %d", ErrMarketNotLoaded, idx)
		}
		addOracle(market.Amm.Oracle)
		perpMetas = append(perpMetas, solana.NewAccountMeta(market.Pubkey, perp[idx], false))
	}

	out := make([]*solana.AccountMeta, 0, len(oracles)+len(spotMetas)+len(perpMetas))
	out = append(out, oracles...)
	out = append(out, spotMetas...)
	return append(out, perpMetas...), nil
}

func sortedKeys(set map[uint16]bool) []uint16 {
	keys := make([]uint16, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
