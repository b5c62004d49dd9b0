package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/drift"
	"github.com/slide-labs/slide-socialfi/internal/markets"
	"github.com/slide-labs/slide-socialfi/internal/vault"
)

// spotMarketArg accepts a spot market index or symbol.
func spotMarketArg(registry *markets.Registry, raw string) (markets.Descriptor, error) {
	query := markets.BySymbol(strings.ToUpper(strings.TrimSpace(raw)))
	if index, err := strconv.ParseUint(raw, 10, 16); err == nil {
		query = markets.ByIndex(uint16(index))
	}
	desc, ok := registry.FindSpot(query)
	if !ok {
		return markets.Descriptor{}, fmt.Errorf("unknown spot market %q", raw)
	}
	return desc, nil
}

// optionalBaseUnits is toBaseUnits that also accepts zero.
func optionalBaseUnits(raw string, decimals int32) (uint64, error) {
	if amount, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil && amount.IsZero() {
		return 0, nil
	}
	return toBaseUnits(raw, decimals)
}

// toFeeUnits converts a fraction such as 0.025 to the vault program's fee
// precision.
func toFeeUnits(raw string) (uint32, error) {
	fraction, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid fraction %q: %w", raw, err)
	}
	if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("fraction %s outside [0, 1]", raw)
	}
	units := fraction.Mul(decimal.NewFromInt(codec.FeeDenominator))
	if !units.IsInteger() {
		return 0, fmt.Errorf("fraction %s is finer than 1/%d", raw, codec.FeeDenominator)
	}
	return uint32(units.IntPart()), nil
}

func runVaultsCreate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	rawMarket, _ := flags.GetString("market")
	redeemPeriod, _ := flags.GetDuration("redeem-period")
	rawMax, _ := flags.GetString("max-tokens")
	rawMin, _ := flags.GetString("min-deposit")
	rawFee, _ := flags.GetString("management-fee")
	rawShare, _ := flags.GetString("profit-share")
	rawHurdle, _ := flags.GetString("hurdle-rate")
	permissioned, _ := flags.GetBool("permissioned")
	dryRun, _ := flags.GetBool("dry-run")

	if _, err := vault.EncodeName(args[0]); err != nil {
		return err
	}
	fee, err := toFeeUnits(rawFee)
	if err != nil {
		return fmt.Errorf("management fee: %w", err)
	}
	profitShare, err := toFeeUnits(rawShare)
	if err != nil {
		return fmt.Errorf("profit share: %w", err)
	}
	hurdleRate, err := toFeeUnits(rawHurdle)
	if err != nil {
		return fmt.Errorf("hurdle rate: %w", err)
	}

	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	market, err := spotMarketArg(env.sess.Registry, rawMarket)
	if err != nil {
		return err
	}
	maxTokens, err := optionalBaseUnits(rawMax, int32(market.Decimals))
	if err != nil {
		return fmt.Errorf("max tokens: %w", err)
	}
	minDeposit, err := optionalBaseUnits(rawMin, int32(market.Decimals))
	if err != nil {
		return fmt.Errorf("min deposit: %w", err)
	}

	params := vault.InitializeVaultParams{
		Name:             args[0],
		SpotMarketIndex:  market.Index,
		RedeemPeriod:     redeemPeriod,
		MaxTokens:        maxTokens,
		MinDepositAmount: minDeposit,
		ManagementFee:    int64(fee),
		ProfitShare:      profitShare,
		HurdleRate:       hurdleRate,
		Permissioned:     permissioned,
	}
	ctx := cmd.Context()
	var res vault.Result
	if dryRun {
		res.Plan, err = env.builder.BuildInitializeVault(ctx, params)
	} else {
		res, err = env.builder.InitializeVault(ctx, params)
	}
	if err != nil {
		return err
	}
	return env.finish(cmd, "initialize_vault", res.Plan.Vault, res, dryRun)
}

func runCollateralDeposit(cmd *cobra.Command, args []string) error {
	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	market, err := spotMarketArg(env.sess.Registry, args[0])
	if err != nil {
		return err
	}
	amount, err := toBaseUnits(args[1], int32(market.Decimals))
	if err != nil {
		return err
	}
	referrer, _ := cmd.Flags().GetString("referrer")
	if referrer == "" {
		referrer = env.cfg.ReferrerName
	}
	reduceOnly, _ := cmd.Flags().GetBool("reduce-only")
	deposit := drift.CollateralDeposit{
		MarketIndex: market.Index,
		Amount:      amount,
		ReduceOnly:  reduceOnly,
		Referrer:    referrer,
	}
	registry := drift.NewReferrerRegistry(env.cfg.Env.DriftProgramID, env.sess.Ledger, env.logger)

	ctx := cmd.Context()
	out := map[string]any{
		"op":          "deposit_collateral",
		"authority":   env.signer.PublicKey().String(),
		"marketIndex": market.Index,
		"amount":      amount,
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		instructions, err := env.sess.Exchange.BuildCollateralDeposit(ctx, env.signer.PublicKey(), registry, deposit)
		if err != nil {
			return err
		}
		out["instructions"] = len(instructions)
		return printJSON(cmd, out)
	}

	sig, err := env.sess.Exchange.DepositCollateral(ctx, env.signer, registry, deposit)
	if err != nil {
		return err
	}
	out["signature"] = sig.String()
	if confirm, _ := cmd.Flags().GetBool("confirm"); confirm {
		if err := env.sess.Ledger.WaitForConfirmation(ctx, sig); err != nil {
			return fmt.Errorf("confirm %s: %w", sig, err)
		}
		out["confirmed"] = true
	}
	return printJSON(cmd, out)
}
