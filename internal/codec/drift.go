package codec

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Exchange precisions.
const (
	PricePrecision        = 1_000_000
	PegPrecision          = 1_000_000
	QuotePrecision        = 1_000_000
	AMMReservePrecision   = 1_000_000_000
	BidAskSpreadPrecision = 1_000_000
	FeeDenominator        = 10_000
	MaxUserPositions      = 8
)

type HistoricalOracleData struct {
	LastOraclePrice         int64
	LastOracleConf          uint64
	LastOracleDelay         int64
	LastOraclePriceTwap     int64
	LastOraclePriceTwap5Min int64
	LastOraclePriceTwapTs   int64
}

type PoolBalance struct {
	ScaledBalance bin.Uint128
	MarketIndex   uint16
	Padding       [6]uint8
}

// AMM is the leading part of the perp market AMM up to the spread fields.
type AMM struct {
	Oracle                          solana.PublicKey
	HistoricalOracleData            HistoricalOracleData
	BaseAssetAmountPerLp            bin.Int128
	QuoteAssetAmountPerLp           bin.Int128
	FeePool                         PoolBalance
	BaseAssetReserve                bin.Uint128
	QuoteAssetReserve               bin.Uint128
	ConcentrationCoef               bin.Uint128
	MinBaseAssetReserve             bin.Uint128
	MaxBaseAssetReserve             bin.Uint128
	SqrtK                           bin.Uint128
	PegMultiplier                   bin.Uint128
	TerminalQuoteAssetReserve       bin.Uint128
	BaseAssetAmountLong             bin.Int128
	BaseAssetAmountShort            bin.Int128
	BaseAssetAmountWithAmm          bin.Int128
	BaseAssetAmountWithUnsettledLp  bin.Int128
	MaxOpenInterest                 bin.Uint128
	QuoteAssetAmount                bin.Int128
	QuoteEntryAmountLong            bin.Int128
	QuoteEntryAmountShort           bin.Int128
	QuoteBreakEvenAmountLong        bin.Int128
	QuoteBreakEvenAmountShort       bin.Int128
	UserLpShares                    bin.Uint128
	LastFundingRate                 int64
	LastFundingRateLong             int64
	LastFundingRateShort            int64
	Last24hAvgFundingRate           int64
	TotalFee                        bin.Int128
	TotalMmFee                      bin.Int128
	TotalExchangeFee                bin.Uint128
	TotalFeeMinusDistributions      bin.Int128
	TotalFeeWithdrawn               bin.Uint128
	TotalLiquidationFee             bin.Uint128
	CumulativeFundingRateLong       bin.Int128
	CumulativeFundingRateShort      bin.Int128
	TotalSocialLoss                 bin.Uint128
	AskBaseAssetReserve             bin.Uint128
	AskQuoteAssetReserve            bin.Uint128
	BidBaseAssetReserve             bin.Uint128
	BidQuoteAssetReserve            bin.Uint128
	LastOracleNormalisedPrice       int64
	LastOracleReservePriceSpreadPct int64
	LastBidPriceTwap                uint64
	LastAskPriceTwap                uint64
	LastMarkPriceTwap               uint64
	LastMarkPriceTwap5Min           uint64
	LastUpdateSlot                  uint64
	LastOracleConfPct               uint64
	NetRevenueSinceLastFunding      int64
	LastFundingRateTs               int64
	FundingPeriod                   int64
	OrderStepSize                   uint64
	OrderTickSize                   uint64
	MinOrderSize                    uint64
	MaxPositionSize                 uint64
	Volume24h                       uint64
	LongIntensityVolume             uint64
	ShortIntensityVolume            uint64
	LastTradeTs                     int64
	MarkStd                         uint64
	OracleStd                       uint64
	LastMarkPriceTwapTs             int64
	BaseSpread                      uint32
	MaxSpread                       uint32
	LongSpread                      uint32
	ShortSpread                     uint32
}

type PerpMarket struct {
	Pubkey solana.PublicKey
	Amm    AMM
}

// SpotMarket covers the addresses at the head of the account. Decimals and
// the oracle source come from the market catalog.
type SpotMarket struct {
	Pubkey solana.PublicKey
	Oracle solana.PublicKey
	Mint   solana.PublicKey
	Vault  solana.PublicKey
	Name   [32]byte
}

type SpotBalanceType uint8

const (
	SpotBalanceDeposit SpotBalanceType = iota
	SpotBalanceBorrow
)

type SpotPosition struct {
	ScaledBalance      uint64
	OpenBids           int64
	OpenAsks           int64
	CumulativeDeposits int64
	MarketIndex        uint16
	BalanceType        SpotBalanceType
	OpenOrders         uint8
	Padding            [4]uint8
}

func (p SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0 && p.OpenOrders == 0
}

type PerpPosition struct {
	LastCumulativeFundingRate int64
	BaseAssetAmount           int64
	QuoteAssetAmount          int64
	QuoteBreakEvenAmount      int64
	QuoteEntryAmount          int64
	OpenBids                  int64
	OpenAsks                  int64
	SettledPnl                int64
	LpShares                  uint64
	LastBaseAssetAmountPerLp  int64
	LastQuoteAssetAmountPerLp int64
	RemainderBaseAssetAmount  int32
	MarketIndex               uint16
	OpenOrders                uint8
	PerLpBase                 int8
}

func (p PerpPosition) IsAvailable() bool {
	return p.BaseAssetAmount == 0 && p.OpenOrders == 0 && p.QuoteAssetAmount == 0 && p.LpShares == 0
}

// User covers the exchange user account through its position arrays.
type User struct {
	Authority     solana.PublicKey
	Delegate      solana.PublicKey
	Name          [32]byte
	SpotPositions [MaxUserPositions]SpotPosition
	PerpPositions [MaxUserPositions]PerpPosition
}

type UserStats struct {
	Authority solana.PublicKey
	Referrer  solana.PublicKey
}

type ReferrerName struct {
	Authority solana.PublicKey
	User      solana.PublicKey
	UserStats solana.PublicKey
	Name      [32]byte
}

var (
	PerpMarketSchema   = NewAnchorSchema[PerpMarket]("PerpMarket")
	SpotMarketSchema   = NewAnchorSchema[SpotMarket]("SpotMarket")
	UserSchema         = NewAnchorSchema[User]("User")
	UserStatsSchema    = NewAnchorSchema[UserStats]("UserStats")
	ReferrerNameSchema = NewAnchorSchema[ReferrerName]("ReferrerName")
)
