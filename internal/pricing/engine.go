// Package pricing derives live price estimates from cached exchange and
// order book accounts.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/drift"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/markets"
)

const defaultQuoteDecimals = 6

// Exchange exposes cached market and oracle accounts.
type Exchange interface {
	PerpMarket(index uint16) (*codec.PerpMarket, bool)
	OracleForPerp(index uint16) (codec.OraclePrice, bool)
	OracleForSpot(index uint16) (codec.OraclePrice, bool)
}

// Subscriber opens short-lived account subscriptions.
type Subscriber interface {
	Subscribe(address solana.PublicKey, schema accountcache.Schema) accountcache.Handle
	Unsubscribe(handles ...accountcache.Handle)
	WaitReady(ctx context.Context, h accountcache.Handle) (accountcache.Snapshot, error)
	WaitFresh(ctx context.Context, h accountcache.Handle) (accountcache.Snapshot, error)
}

type BidAsk struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

func (b BidAsk) Mid() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

type Engine struct {
	registry *markets.Registry
	exchange Exchange
	subs     Subscriber
	book     SyntheticBook
	logger   *slog.Logger
}

// NewEngine builds an engine; a nil book means EmptyBook.
func NewEngine(registry *markets.Registry, exchange Exchange, subs Subscriber, book SyntheticBook, logger *slog.Logger) *Engine {
	if book == nil {
		book = EmptyBook{}
	}
	return &Engine{
		registry: registry,
		exchange: exchange,
		subs:     subs,
		book:     book,
		logger:   logging.OrDiscard(logger).With("component", "price_engine"),
	}
}

// BestBidAsk quotes the perp AMM of symbol around its oracle. It reports
// false when the market is unknown or its accounts are not cached.
func (e *Engine) BestBidAsk(symbol string) (BidAsk, bool) {
	desc, ok := e.registry.FindPerp(markets.BySymbol(symbol))
	if !ok {
		return BidAsk{}, false
	}
	market, ok := e.exchange.PerpMarket(desc.Index)
	if !ok {
		return BidAsk{}, false
	}
	oracle, ok := e.exchange.OracleForPerp(desc.Index)
	if !ok {
		return BidAsk{}, false
	}

	bid, ask, err := ammBidAsk(market.Amm, oracle)
	if err != nil {
		e.logger.Warn("amm quote failed", "symbol", desc.Symbol, "err", err)
		return BidAsk{}, false
	}
	return BidAsk{
		Bid: decimal.NewFromBigInt(bid, -6),
		Ask: decimal.NewFromBigInt(ask, -6),
	}, true
}

// EstimatedSpotEntryPrice estimates the entry price of a one-lot order on
// spot market marketIndex: the midpoint between the best long and short
// fills across the OpenBook market and the synthetic book, each falling back
// to the oracle when its side is empty. Both book sides come from one refresh
// pass that started after the call, and the synthetic book is asked for the
// slot of that pass. Every subscription it opens is released before it
// returns.
func (e *Engine) EstimatedSpotEntryPrice(ctx context.Context, marketIndex uint16, orderBookMarket solana.PublicKey) (decimal.Decimal, bool, error) {
	desc, ok := e.registry.FindSpot(markets.ByIndex(marketIndex))
	if !ok {
		return decimal.Zero, false, nil
	}
	quoteDecimals := uint8(defaultQuoteDecimals)
	if quote, ok := e.registry.FindSpot(markets.ByIndex(drift.QuoteSpotMarketIndex)); ok {
		quoteDecimals = quote.Decimals
	}

	var handles []accountcache.Handle
	defer func() { e.subs.Unsubscribe(handles...) }()

	marketHandle := e.subs.Subscribe(orderBookMarket, codec.OpenBookMarketSchema)
	handles = append(handles, marketHandle)
	snap, err := e.subs.WaitReady(ctx, marketHandle)
	if err != nil {
		return absentOr(err, "openbook market %s", orderBookMarket)
	}
	market, ok := snap.Value.(*codec.OpenBookMarket)
	if !ok {
		return decimal.Zero, false, fmt.Errorf("openbook market %s: unexpected value %T", orderBookMarket, snap.Value)
	}

	bidsHandle := e.subs.Subscribe(market.Bids, codec.OrderBookSideSchema)
	asksHandle := e.subs.Subscribe(market.Asks, codec.OrderBookSideSchema)
	handles = append(handles, bidsHandle, asksHandle)

	bids, slot, err := e.waitSide(ctx, bidsHandle, e.subs.WaitFresh)
	if err != nil {
		return absentOr(err, "openbook bids %s", market.Bids)
	}
	asks, _, err := e.waitSide(ctx, asksHandle, e.subs.WaitReady)
	if err != nil {
		return absentOr(err, "openbook asks %s", market.Asks)
	}

	scale := lotScale{
		baseLot:       market.BaseLotSize,
		quoteLot:      market.QuoteLotSize,
		baseDecimals:  desc.Decimals,
		quoteDecimals: quoteDecimals,
	}
	syntheticBids, syntheticAsks := e.book.Levels(marketIndex, slot)

	oracle, haveOracle := e.exchange.OracleForSpot(marketIndex)
	oraclePrice := decimal.New(oracle.Price, -6)

	long, ok := bestAsk(scale.levels(asks), syntheticAsks)
	if !ok {
		if !haveOracle {
			return decimal.Zero, false, nil
		}
		long = oraclePrice
	}
	short, ok := bestBid(scale.levels(bids), syntheticBids)
	if !ok {
		if !haveOracle {
			return decimal.Zero, false, nil
		}
		short = oraclePrice
	}

	return decimal.Min(long, short).Add(long.Sub(short).Abs().Div(decimal.NewFromInt(2))), true, nil
}

type waitFunc func(ctx context.Context, h accountcache.Handle) (accountcache.Snapshot, error)

func (e *Engine) waitSide(ctx context.Context, h accountcache.Handle, wait waitFunc) (*codec.OrderBookSide, uint64, error) {
	snap, err := wait(ctx, h)
	if err != nil {
		return nil, 0, err
	}
	side, ok := snap.Value.(*codec.OrderBookSide)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected book side value %T", snap.Value)
	}
	return side, snap.Slot, nil
}

func absentOr(err error, format string, args ...any) (decimal.Decimal, bool, error) {
	if errors.Is(err, chain.ErrAccountNotFound) {
		return decimal.Zero, false, nil
	}
	return decimal.Zero, false, fmt.Errorf(format+": %w", append(args, err)...)
}
