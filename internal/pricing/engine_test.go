package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/chain/chaintest"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/markets"
)

var openBookProgramID = solana.MustPublicKeyFromBase58("srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX")

type fakeExchange struct {
	perp       map[uint16]*codec.PerpMarket
	perpOracle map[uint16]codec.OraclePrice
	spotOracle map[uint16]codec.OraclePrice
}

func (f *fakeExchange) PerpMarket(index uint16) (*codec.PerpMarket, bool) {
	m, ok := f.perp[index]
	return m, ok
}

func (f *fakeExchange) OracleForPerp(index uint16) (codec.OraclePrice, bool) {
	p, ok := f.perpOracle[index]
	return p, ok
}

func (f *fakeExchange) OracleForSpot(index uint16) (codec.OraclePrice, bool) {
	p, ok := f.spotOracle[index]
	return p, ok
}

type staticBook struct {
	bids, asks []Level
	slot       uint64
}

func (b *staticBook) Levels(_ uint16, slot uint64) ([]Level, []Level) {
	b.slot = slot
	return b.bids, b.asks
}

func balancedAMM(peg uint64, longSpread, shortSpread uint32) codec.AMM {
	const reserve = 1_000_000_000_000
	return codec.AMM{
		BaseAssetReserve:  bin.Uint128{Lo: reserve},
		QuoteAssetReserve: bin.Uint128{Lo: reserve},
		SqrtK:             bin.Uint128{Lo: reserve},
		PegMultiplier:     bin.Uint128{Lo: peg},
		LongSpread:        longSpread,
		ShortSpread:       shortSpread,
	}
}

func mustRegistry(t *testing.T) *markets.Registry {
	t.Helper()
	reg, err := markets.Load("mainnet-beta")
	if err != nil {
		t.Fatalf("markets.Load: %v", err)
	}
	return reg
}

func TestAMMBidAskAroundPeg(t *testing.T) {
	amm := balancedAMM(100*codec.PegPrecision, 1000, 1000)
	bid, ask, err := ammBidAsk(amm, codec.OraclePrice{Price: 100 * codec.PricePrecision})
	if err != nil {
		t.Fatalf("ammBidAsk: %v", err)
	}
	if ask.Int64() < 100_100_000 || ask.Int64() > 100_110_000 {
		t.Fatalf("ask = %s, want about 100.1", ask)
	}
	if bid.Int64() >= 100*codec.PricePrecision || bid.Int64() < 99_890_000 {
		t.Fatalf("bid = %s, want just below 100", bid)
	}
}

func TestAMMZeroSpreadQuotesReservePrice(t *testing.T) {
	bid, ask, err := ammBidAsk(balancedAMM(25*codec.PegPrecision, 0, 0), codec.OraclePrice{})
	if err != nil {
		t.Fatalf("ammBidAsk: %v", err)
	}
	if bid.Int64() != 25_000_000 || ask.Int64() != 25_000_000 {
		t.Fatalf("bid/ask = %s/%s", bid, ask)
	}
}

func TestAMMOracleDivergenceWidensFacingSide(t *testing.T) {
	amm := balancedAMM(100*codec.PegPrecision, 1000, 1000)
	baseBid, baseAsk, _ := ammBidAsk(amm, codec.OraclePrice{Price: 100 * codec.PricePrecision})

	bid, ask, err := ammBidAsk(amm, codec.OraclePrice{Price: 110 * codec.PricePrecision})
	if err != nil {
		t.Fatalf("ammBidAsk: %v", err)
	}
	if ask.Cmp(baseAsk) <= 0 {
		t.Fatalf("ask %s did not widen past %s", ask, baseAsk)
	}
	if bid.Cmp(baseBid) != 0 {
		t.Fatalf("bid moved from %s to %s", baseBid, bid)
	}

	amm.MaxSpread = 2000
	_, capped, _ := ammBidAsk(amm, codec.OraclePrice{Price: 110 * codec.PricePrecision})
	if capped.Cmp(ask) >= 0 {
		t.Fatalf("max spread did not cap ask: %s vs %s", capped, ask)
	}
}

func TestAMMRejectsEmptyReserves(t *testing.T) {
	if _, _, err := ammBidAsk(codec.AMM{}, codec.OraclePrice{}); !errors.Is(err, errEmptyReserves) {
		t.Fatalf("err = %v", err)
	}
}

func TestBestBidAsk(t *testing.T) {
	amm := balancedAMM(100*codec.PegPrecision, 1000, 1000)
	exchange := &fakeExchange{
		perp:       map[uint16]*codec.PerpMarket{0: {Amm: amm}, 1: {Amm: amm}},
		perpOracle: map[uint16]codec.OraclePrice{0: {Price: 100 * codec.PricePrecision}},
	}
	engine := NewEngine(mustRegistry(t), exchange, nil, nil, nil)

	quote, ok := engine.BestBidAsk("SOL")
	if !ok {
		t.Fatal("SOL quote missing")
	}
	if !quote.Bid.LessThan(quote.Ask) {
		t.Fatalf("bid %s >= ask %s", quote.Bid, quote.Ask)
	}
	if quote.Mid().Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
		t.Fatalf("mid = %s", quote.Mid())
	}

	if _, ok := engine.BestBidAsk("DOGE"); ok {
		t.Fatal("unknown symbol quoted")
	}
	if _, ok := engine.BestBidAsk("BTC"); ok {
		t.Fatal("market without oracle quoted")
	}
	if _, ok := engine.BestBidAsk("ETH"); ok {
		t.Fatal("uncached market quoted")
	}
}

type spotFixture struct {
	ledger *chaintest.Ledger
	cache  *accountcache.Cache
	market solana.PublicKey
	bids   solana.PublicKey
	asks   solana.PublicKey
}

// newSpotFixture lists a SOL/USDC book whose lot sizes make one price lot
// worth 0.001 USDC.
func newSpotFixture(t *testing.T, bids, asks []codec.OrderLeaf) *spotFixture {
	return newSpotFixtureEvery(t, 10*time.Millisecond, bids, asks)
}

func newSpotFixtureEvery(t *testing.T, interval time.Duration, bids, asks []codec.OrderLeaf) *spotFixture {
	t.Helper()
	ledger := chaintest.NewLedger()
	f := &spotFixture{
		ledger: ledger,
		market: solana.NewWallet().PublicKey(),
		bids:   solana.NewWallet().PublicKey(),
		asks:   solana.NewWallet().PublicKey(),
	}

	ledger.SetAccount(f.market, openBookProgramID, codec.EncodeOpenBookMarket(codec.OpenBookMarket{
		AccountFlags: codec.AccountFlagInitialized | codec.AccountFlagMarket,
		Bids:         f.bids,
		Asks:         f.asks,
		BaseLotSize:  100_000_000,
		QuoteLotSize: 100,
	}))
	ledger.SetAccount(f.bids, openBookProgramID, codec.EncodeOrderBookSide(true, bids))
	ledger.SetAccount(f.asks, openBookProgramID, codec.EncodeOrderBookSide(false, asks))

	f.cache = accountcache.New(ledger, accountcache.Options{Interval: interval, StaleAfter: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.cache.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func solOracle() *fakeExchange {
	return &fakeExchange{spotOracle: map[uint16]codec.OraclePrice{1: {Price: 150 * codec.PricePrecision}}}
}

func TestEstimatedSpotEntryPriceMidpoint(t *testing.T) {
	f := newSpotFixture(t,
		[]codec.OrderLeaf{{PriceLots: 100_000, QuantityLots: 5}, {PriceLots: 99_000, QuantityLots: 5}},
		[]codec.OrderLeaf{{PriceLots: 106_000, QuantityLots: 5}, {PriceLots: 110_000, QuantityLots: 5}},
	)
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := f.cache.Active()
	price, ok, err := engine.EstimatedSpotEntryPrice(ctx, 1, f.market)
	if err != nil || !ok {
		t.Fatalf("EstimatedSpotEntryPrice = %s, %v, %v", price, ok, err)
	}
	if !price.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("price = %s, want 103", price)
	}
	if got := f.cache.Active(); got != before {
		t.Fatalf("active subscriptions = %d, want %d", got, before)
	}
}

func TestEstimatedSpotEntryPriceMergesSyntheticBook(t *testing.T) {
	f := newSpotFixture(t,
		[]codec.OrderLeaf{{PriceLots: 100_000, QuantityLots: 5}},
		nil,
	)
	book := &staticBook{asks: []Level{{Price: decimal.NewFromInt(104), Size: decimal.NewFromInt(1)}}}
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, book, nil)

	price, ok, err := engine.EstimatedSpotEntryPrice(context.Background(), 1, f.market)
	if err != nil || !ok {
		t.Fatalf("EstimatedSpotEntryPrice = %s, %v, %v", price, ok, err)
	}
	if !price.Equal(decimal.NewFromInt(102)) {
		t.Fatalf("price = %s, want 102", price)
	}
	if book.slot == 0 {
		t.Fatal("synthetic book was not given the book slot")
	}
}

func TestEstimatedSpotEntryPriceReadsFreshBook(t *testing.T) {
	f := newSpotFixtureEvery(t, time.Hour,
		[]codec.OrderLeaf{{PriceLots: 100_000, QuantityLots: 5}},
		[]codec.OrderLeaf{{PriceLots: 106_000, QuantityLots: 5}},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Another reader already holds the market and both sides, so their
	// snapshots predate the call.
	held := []accountcache.Handle{
		f.cache.Subscribe(f.market, codec.OpenBookMarketSchema),
		f.cache.Subscribe(f.bids, codec.OrderBookSideSchema),
		f.cache.Subscribe(f.asks, codec.OrderBookSideSchema),
	}
	defer f.cache.Unsubscribe(held...)
	for _, h := range held {
		if _, err := f.cache.WaitReady(ctx, h); err != nil {
			t.Fatalf("WaitReady: %v", err)
		}
	}

	f.ledger.SetAccount(f.bids, openBookProgramID, codec.EncodeOrderBookSide(true, []codec.OrderLeaf{{PriceLots: 104_000, QuantityLots: 5}}))
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, nil, nil)

	price, ok, err := engine.EstimatedSpotEntryPrice(ctx, 1, f.market)
	if err != nil || !ok {
		t.Fatalf("EstimatedSpotEntryPrice = %s, %v, %v", price, ok, err)
	}
	if !price.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("price = %s, want 105 from the updated bids", price)
	}
}

func TestEstimatedSpotEntryPriceFallsBackToOracle(t *testing.T) {
	f := newSpotFixture(t, nil, nil)
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, EmptyBook{}, nil)

	price, ok, err := engine.EstimatedSpotEntryPrice(context.Background(), 1, f.market)
	if err != nil || !ok {
		t.Fatalf("EstimatedSpotEntryPrice = %s, %v, %v", price, ok, err)
	}
	if !price.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("price = %s, want oracle 150", price)
	}

	noOracle := NewEngine(mustRegistry(t), &fakeExchange{}, f.cache, nil, nil)
	if _, ok, err := noOracle.EstimatedSpotEntryPrice(context.Background(), 1, f.market); ok || err != nil {
		t.Fatalf("empty book without oracle = %v, %v", ok, err)
	}
}

func TestEstimatedSpotEntryPriceAbsentCases(t *testing.T) {
	f := newSpotFixture(t, nil, nil)
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, nil, nil)
	ctx := context.Background()

	if _, ok, err := engine.EstimatedSpotEntryPrice(ctx, 999, f.market); ok || err != nil {
		t.Fatalf("unknown market = %v, %v", ok, err)
	}

	before := f.cache.Active()
	if _, ok, err := engine.EstimatedSpotEntryPrice(ctx, 1, solana.NewWallet().PublicKey()); ok || err != nil {
		t.Fatalf("missing book = %v, %v", ok, err)
	}
	if got := f.cache.Active(); got != before {
		t.Fatalf("active subscriptions = %d, want %d", got, before)
	}
}

func TestEstimatedSpotEntryPriceReleasesOnTransportFailure(t *testing.T) {
	f := newSpotFixture(t, nil, nil)
	f.ledger.SetReadError(chain.ErrTransport)
	engine := NewEngine(mustRegistry(t), solOracle(), f.cache, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := f.cache.Active()
	_, ok, err := engine.EstimatedSpotEntryPrice(ctx, 1, f.market)
	if ok || !errors.Is(err, chain.ErrTransport) {
		t.Fatalf("got ok=%v err=%v, want ErrTransport", ok, err)
	}
	if got := f.cache.Active(); got != before {
		t.Fatalf("active subscriptions = %d, want %d", got, before)
	}
}
