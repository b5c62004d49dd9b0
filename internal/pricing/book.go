package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

// Level is one price level in human units.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// SyntheticBook supplies the exchange's own resting orders for a spot
// market as of slot. Levels come best first.
type SyntheticBook interface {
	Levels(marketIndex uint16, slot uint64) (bids, asks []Level)
}

// EmptyBook is the synthetic book when no order feed is configured.
type EmptyBook struct{}

func (EmptyBook) Levels(uint16, uint64) (bids, asks []Level) { return nil, nil }

type lotScale struct {
	baseLot       uint64
	quoteLot      uint64
	baseDecimals  uint8
	quoteDecimals uint8
}

// price converts a price in lots to quote units per whole base token.
func (s lotScale) price(priceLots uint64) decimal.Decimal {
	num := new(big.Int).SetUint64(priceLots)
	num.Mul(num, new(big.Int).SetUint64(s.quoteLot))
	den := new(big.Int).SetUint64(s.baseLot)
	return decimal.NewFromBigInt(num, int32(s.baseDecimals)-int32(s.quoteDecimals)).
		Div(decimal.NewFromBigInt(den, 0))
}

func (s lotScale) size(quantityLots uint64) decimal.Decimal {
	qty := new(big.Int).SetUint64(quantityLots)
	qty.Mul(qty, new(big.Int).SetUint64(s.baseLot))
	return decimal.NewFromBigInt(qty, -int32(s.baseDecimals))
}

func (s lotScale) levels(side *codec.OrderBookSide) []Level {
	raw := side.Levels()
	out := make([]Level, 0, len(raw))
	for _, level := range raw {
		out = append(out, Level{Price: s.price(level.PriceLots), Size: s.size(level.QuantityLots)})
	}
	return out
}

// bestAsk is the lowest ask across books; bestBid the highest bid.
func bestAsk(books ...[]Level) (decimal.Decimal, bool) {
	return best(func(a, b decimal.Decimal) bool { return a.LessThan(b) }, books...)
}

func bestBid(books ...[]Level) (decimal.Decimal, bool) {
	return best(func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }, books...)
}

func best(better func(a, b decimal.Decimal) bool, books ...[]Level) (decimal.Decimal, bool) {
	var (
		out   decimal.Decimal
		found bool
	)
	for _, book := range books {
		for _, level := range book {
			if level.Size.Sign() <= 0 {
				continue
			}
			if !found || better(level.Price, out) {
				out, found = level.Price, true
			}
		}
	}
	return out, found
}
