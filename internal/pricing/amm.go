package pricing

import (
	"errors"
	"math/big"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

var errEmptyReserves = errors.New("amm reserves are empty")

var (
	pricePrecision  = big.NewInt(codec.PricePrecision)
	pegPrecision    = big.NewInt(codec.PegPrecision)
	spreadPrecision = big.NewInt(codec.BidAskSpreadPrecision)
)

type reserves struct {
	base  *big.Int
	quote *big.Int
}

// ammBidAsk returns the AMM bid and ask in PricePrecision units.
func ammBidAsk(amm codec.AMM, oracle codec.OraclePrice) (bid, ask *big.Int, err error) {
	current := reserves{base: amm.BaseAssetReserve.BigInt(), quote: amm.QuoteAssetReserve.BigInt()}
	peg := amm.PegMultiplier.BigInt()

	refPrice, err := reservePrice(current, peg)
	if err != nil {
		return nil, nil, err
	}
	longSpread, shortSpread := spreads(amm, refPrice, oracle.Price)

	sqrtK := amm.SqrtK.BigInt()
	askReserves, err := spreadReserves(current, sqrtK, longSpread, true)
	if err != nil {
		return nil, nil, err
	}
	bidReserves, err := spreadReserves(current, sqrtK, shortSpread, false)
	if err != nil {
		return nil, nil, err
	}

	if ask, err = reservePrice(askReserves, peg); err != nil {
		return nil, nil, err
	}
	if bid, err = reservePrice(bidReserves, peg); err != nil {
		return nil, nil, err
	}
	return bid, ask, nil
}

func reservePrice(r reserves, peg *big.Int) (*big.Int, error) {
	if r.base.Sign() <= 0 || r.quote.Sign() <= 0 {
		return nil, errEmptyReserves
	}
	num := new(big.Int).Mul(r.quote, peg)
	num.Mul(num, pricePrecision)
	den := new(big.Int).Mul(r.base, pegPrecision)
	return num.Quo(num, den), nil
}

// spreads widens the configured long/short spreads by the distance between
// the reserve price and the oracle, on the side facing the oracle.
func spreads(amm codec.AMM, reservePrice *big.Int, oraclePrice int64) (long, short int64) {
	long, short = int64(amm.LongSpread), int64(amm.ShortSpread)

	if oraclePrice > 0 && reservePrice.Sign() > 0 {
		oracle := big.NewInt(oraclePrice)
		diff := new(big.Int).Sub(reservePrice, oracle)
		divergence := new(big.Int).Abs(diff)
		divergence.Mul(divergence, spreadPrecision)
		divergence.Quo(divergence, reservePrice)
		if divergence.IsInt64() {
			if diff.Sign() < 0 {
				long += divergence.Int64()
			} else {
				short += divergence.Int64()
			}
		}
	}

	if amm.MaxSpread > 0 {
		long = min(long, int64(amm.MaxSpread))
		short = min(short, int64(amm.MaxSpread))
	}
	return long, short
}

func spreadReserves(r reserves, sqrtK *big.Int, spread int64, long bool) (reserves, error) {
	if spread == 0 {
		return r, nil
	}
	spread = min(spread, codec.BidAskSpreadPrecision)
	fraction := spread / 2
	if fraction == 0 {
		fraction = 1
	}

	delta := new(big.Int).Quo(r.quote, new(big.Int).Quo(spreadPrecision, big.NewInt(fraction)))
	quote := new(big.Int).Set(r.quote)
	if long {
		quote.Add(quote, delta)
	} else {
		quote.Sub(quote, delta)
	}
	if quote.Sign() <= 0 {
		return reserves{}, errEmptyReserves
	}

	base := new(big.Int).Mul(sqrtK, sqrtK)
	base.Quo(base, quote)
	return reserves{base: base, quote: quote}, nil
}
