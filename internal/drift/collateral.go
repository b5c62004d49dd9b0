package drift

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// CollateralDeposit moves Amount base units of a spot market's token from the
// depositor's associated token account into sub-account 0.
type CollateralDeposit struct {
	MarketIndex uint16
	Amount      uint64
	ReduceOnly  bool
	// Referrer names the referrer used when sub-account 0 has to be created.
	Referrer string
}

// BuildCollateralDeposit returns the instructions of a collateral deposit by
// authority, creating sub-account 0 in the same transaction when it is
// missing.
func (c *Client) BuildCollateralDeposit(ctx context.Context, authority solana.PublicKey, referrers *ReferrerRegistry, d CollateralDeposit) ([]solana.Instruction, error) {
	if d.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	market, ok := c.SpotMarket(d.MarketIndex)
	if !ok {
		return nil, fmt.Errorf("%w: spot market %d", ErrMarketNotLoaded, d.MarketIndex)
	}
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(authority, market.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive user token account: %w", err)
	}

	setup, err := c.userSetupInstructions(ctx, authority, referrers, d.Referrer)
	if err != nil {
		return nil, err
	}
	var users []*codec.User
	if len(setup) == 0 {
		user, err := c.User(ctx, authority, 0)
		if err != nil {
			return nil, err
		}
		if acct, ok := user.Account(); ok {
			users = append(users, acct)
		}
		user.Close()
	}
	remaining, err := c.RemainingAccounts(RemainingAccountsParams{
		Users:               users,
		WritableSpotMarkets: []uint16{d.MarketIndex},
	})
	if err != nil {
		return nil, err
	}

	instructions, err := chain.ComputeBudgetInstructions(c.cfg.Tx)
	if err != nil {
		return nil, err
	}
	ix, err := NewDepositInstruction(c.cfg.ProgramID, authority, market.Vault, tokenAccount, d.MarketIndex, d.Amount, d.ReduceOnly, remaining)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, setup...)
	return append(instructions, ix), nil
}

// DepositCollateral signs and sends BuildCollateralDeposit for signer.
func (c *Client) DepositCollateral(ctx context.Context, signer chain.Signer, referrers *ReferrerRegistry, d CollateralDeposit) (solana.Signature, error) {
	instructions, err := c.BuildCollateralDeposit(ctx, signer.PublicKey(), referrers, d)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.send(ctx, signer, instructions)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send deposit: %w", err)
	}
	c.logger.Info("collateral deposited", "authority", signer.PublicKey(), "market_index", d.MarketIndex, "amount", d.Amount, "signature", sig)
	return sig, nil
}
