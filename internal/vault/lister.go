package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

// amountExponent scales raw token amounts for display, as QuotePrecision.
const amountExponent = -6

// Descriptor is a read-only summary of one vault account. Amounts are in
// display units; fees and profit share are fractions (250 -> 0.025).
type Descriptor struct {
	Address                 solana.PublicKey
	Name                    string
	Manager                 solana.PublicKey
	TokenAccount            solana.PublicKey
	SpotMarketIndex         uint16
	CreatedAt               int64
	TVL                     decimal.Decimal
	TotalDeposits           decimal.Decimal
	TotalWithdraws          decimal.Decimal
	TotalShares             decimal.Decimal
	MaxTokens               decimal.Decimal
	MinDepositAmount        decimal.Decimal
	ManagerTotalProfitShare decimal.Decimal
	ManagementFee           decimal.Decimal
	ProfitShare             decimal.Decimal
	Permissioned            bool
}

// Describe projects a decoded vault account. TVL is total deposits minus
// total withdraws; TotalShares is the share supply as stored, not derived from
// the token totals.
func Describe(address solana.PublicKey, v *codec.Vault) Descriptor {
	deposits := decimal.NewFromBigInt(new(big.Int).SetUint64(v.TotalDeposits), 0)
	withdraws := decimal.NewFromBigInt(new(big.Int).SetUint64(v.TotalWithdraws), 0)
	return Descriptor{
		Address:                 address,
		Name:                    DecodeName(v.Name),
		Manager:                 v.Manager,
		TokenAccount:            v.TokenAccount,
		SpotMarketIndex:         v.SpotMarketIndex,
		CreatedAt:               v.InitTs,
		TVL:                     deposits.Sub(withdraws).Shift(amountExponent),
		TotalDeposits:           deposits.Shift(amountExponent),
		TotalWithdraws:          withdraws.Shift(amountExponent),
		TotalShares:             decimal.NewFromBigInt(v.TotalShares.BigInt(), amountExponent),
		MaxTokens:               amount(v.MaxTokens),
		MinDepositAmount:        amount(v.MinDepositAmount),
		ManagerTotalProfitShare: amount(v.ManagerTotalProfitShare),
		ManagementFee:           decimal.New(v.ManagementFee, 0).Div(decimal.NewFromInt(codec.FeeDenominator)),
		ProfitShare:             decimal.New(int64(v.ProfitShare), 0).Div(decimal.NewFromInt(codec.FeeDenominator)),
		Permissioned:            v.Permissioned,
	}
}

func amount(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), amountExponent)
}

// Lister scans every vault owned by the vault program.
type Lister struct {
	programID solana.PublicKey
	ledger    chain.Ledger
	logger    *slog.Logger
}

func NewLister(programID solana.PublicKey, ledger chain.Ledger, logger *slog.Logger) *Lister {
	return &Lister{
		programID: programID,
		ledger:    ledger,
		logger:    logging.OrDiscard(logger).With("component", "vault_lister"),
	}
}

// List returns vaults ordered by TVL, largest first. Accounts that do not
// decode are logged and skipped.
func (l *Lister) List(ctx context.Context) ([]Descriptor, error) {
	disc := codec.VaultSchema.Discriminator()
	accounts, err := l.ledger.GetProgramAccounts(ctx, l.programID, disc[:])
	if err != nil {
		return nil, fmt.Errorf("list vault accounts: %w", err)
	}

	out := make([]Descriptor, 0, len(accounts))
	for _, keyed := range accounts {
		v, err := codec.VaultSchema.DecodeData(keyed.Account.Data)
		if err != nil {
			l.logger.Warn("skip undecodable vault", "address", keyed.Pubkey, "err", err)
			continue
		}
		out = append(out, Describe(keyed.Pubkey, v))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TVL.GreaterThan(out[j].TVL) })
	return out, nil
}

func TotalTVL(vaults []Descriptor) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vaults {
		total = total.Add(v.TVL)
	}
	return total
}

func (l *Lister) TotalTVL(ctx context.Context) (decimal.Decimal, error) {
	vaults, err := l.List(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return TotalTVL(vaults), nil
}
