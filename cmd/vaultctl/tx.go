package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/drift"
	"github.com/slide-labs/slide-socialfi/internal/markets"
	"github.com/slide-labs/slide-socialfi/internal/session"
	"github.com/slide-labs/slide-socialfi/internal/vault"
)

// sharePrecision is the fixed-point scale of vault shares and share percents.
const sharePrecision = 6

type txEnv struct {
	cfg     config.ClientConfig
	logger  *slog.Logger
	sess    *session.Session
	signer  *chain.KeypairSigner
	builder *vault.Builder
	close   func()
}

func openTxEnv(cmd *cobra.Command) (*txEnv, error) {
	cfg, logger, closeLogger, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	signer, err := chain.LoadKeypairSigner(cfg.KeypairPath)
	if err != nil {
		closeLogger()
		return nil, err
	}
	sess, err := openSession(cmd, cfg, logger)
	if err != nil {
		closeLogger()
		return nil, err
	}
	builder := vault.NewBuilder(
		vault.Config{ProgramID: cfg.Env.VaultProgramID, Tx: cfg.Tx},
		sess.Ledger,
		signer,
		sess.Cache,
		sess.Exchange,
		logger,
	)
	return &txEnv{
		cfg:     cfg,
		logger:  logger,
		sess:    sess,
		signer:  signer,
		builder: builder,
		close: func() {
			if err := sess.Close(); err != nil {
				logger.Warn("close session", "err", err)
			}
			closeLogger()
		},
	}, nil
}

// resolveVault accepts a vault address or a vault name.
func resolveVault(programID solana.PublicKey, arg string) (solana.PublicKey, error) {
	if key, err := solana.PublicKeyFromBase58(arg); err == nil {
		return key, nil
	}
	return vault.AddressForName(programID, arg)
}

// tokenDecimals reads the vault's deposit market so amounts can be given in
// display units.
func (e *txEnv) tokenDecimals(ctx context.Context, address solana.PublicKey) (int32, error) {
	acct, err := e.sess.Ledger.GetAccount(ctx, address)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return 0, fmt.Errorf("%w: %s", vault.ErrVaultNotFound, address)
	}
	if err != nil {
		return 0, err
	}
	v, err := codec.VaultSchema.DecodeData(acct.Data)
	if err != nil {
		return 0, fmt.Errorf("decode vault %s: %w", address, err)
	}
	desc, ok := e.sess.Registry.FindSpot(markets.ByIndex(v.SpotMarketIndex))
	if !ok {
		return 0, fmt.Errorf("%w: spot market %d not in catalog", drift.ErrMarketNotLoaded, v.SpotMarketIndex)
	}
	return int32(desc.Decimals), nil
}

// toBaseUnits converts a display amount to integer base units.
func toBaseUnits(raw string, decimals int32) (uint64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	scaled := amount.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimals", raw, decimals)
	}
	if !scaled.IsPositive() {
		return 0, vault.ErrInvalidAmount
	}
	if scaled.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("amount %s is too large", raw)
	}
	return scaled.BigInt().Uint64(), nil
}

func parseWithdrawUnit(raw string) (codec.WithdrawUnit, error) {
	for _, unit := range []codec.WithdrawUnit{codec.WithdrawUnitShares, codec.WithdrawUnitToken, codec.WithdrawUnitSharesPercent} {
		if strings.EqualFold(raw, unit.String()) {
			return unit, nil
		}
	}
	return 0, fmt.Errorf("invalid unit %q (expected shares|token|shares_percent)", raw)
}

type planView struct {
	Instructions         int      `json:"instructions"`
	InitializesDepositor bool     `json:"initializesDepositor"`
	RemainingAccounts    []string `json:"remainingAccounts"`
}

type resultView struct {
	Op        string   `json:"op"`
	Vault     string   `json:"vault"`
	Signature string   `json:"signature,omitempty"`
	Confirmed bool     `json:"confirmed"`
	Plan      planView `json:"plan"`
}

func newPlanView(plan vault.Plan) planView {
	accounts := make([]string, 0, len(plan.Accounts))
	for _, meta := range plan.Accounts {
		accounts = append(accounts, meta.PublicKey.String())
	}
	return planView{
		Instructions:         len(plan.Instructions),
		InitializesDepositor: plan.InitializesDepositor,
		RemainingAccounts:    accounts,
	}
}

// finish prints a dry-run plan, or waits for confirmation when asked.
func (e *txEnv) finish(cmd *cobra.Command, op string, address solana.PublicKey, res vault.Result, dryRun bool) error {
	view := resultView{Op: op, Vault: address.String(), Plan: newPlanView(res.Plan)}
	if dryRun {
		return printJSON(cmd, view)
	}
	view.Signature = res.Signature.String()
	if confirm, _ := cmd.Flags().GetBool("confirm"); confirm {
		if err := e.sess.Ledger.WaitForConfirmation(cmd.Context(), res.Signature); err != nil {
			return fmt.Errorf("confirm %s: %w", res.Signature, err)
		}
		view.Confirmed = true
	}
	return printJSON(cmd, view)
}

func runDeposit(cmd *cobra.Command, args []string) error {
	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	address, err := resolveVault(env.cfg.Env.VaultProgramID, args[0])
	if err != nil {
		return err
	}
	decimals, err := env.tokenDecimals(ctx, address)
	if err != nil {
		return err
	}
	amount, err := toBaseUnits(args[1], decimals)
	if err != nil {
		return err
	}

	params := vault.DepositParams{Vault: address, Amount: amount}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	var res vault.Result
	if dryRun {
		res.Plan, err = env.builder.BuildDeposit(ctx, params)
	} else {
		res, err = env.builder.Deposit(ctx, params)
	}
	if err != nil {
		return err
	}
	return env.finish(cmd, "deposit", address, res, dryRun)
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	address, err := resolveVault(env.cfg.Env.VaultProgramID, args[0])
	if err != nil {
		return err
	}

	params := vault.WithdrawParams{Vault: address}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	var res vault.Result
	if dryRun {
		res.Plan, err = env.builder.BuildWithdraw(ctx, params)
	} else {
		res, err = env.builder.Withdraw(ctx, params)
	}
	if err != nil {
		return err
	}
	return env.finish(cmd, "withdraw", address, res, dryRun)
}

func runRequestWithdraw(cmd *cobra.Command, args []string) error {
	rawUnit, _ := cmd.Flags().GetString("unit")
	unit, err := parseWithdrawUnit(rawUnit)
	if err != nil {
		return err
	}

	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	address, err := resolveVault(env.cfg.Env.VaultProgramID, args[0])
	if err != nil {
		return err
	}

	var decimals int32
	switch unit {
	case codec.WithdrawUnitToken:
		if decimals, err = env.tokenDecimals(ctx, address); err != nil {
			return err
		}
	case codec.WithdrawUnitShares:
		decimals = sharePrecision
	case codec.WithdrawUnitSharesPercent:
		// Percent input: 50 means half of the depositor's shares.
		decimals = sharePrecision - 2
	}
	amount, err := toBaseUnits(args[1], decimals)
	if err != nil {
		return err
	}

	params := vault.RequestWithdrawParams{Vault: address, Amount: amount, Unit: unit}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	var res vault.Result
	if dryRun {
		res.Plan, err = env.builder.BuildRequestWithdraw(ctx, params)
	} else {
		res, err = env.builder.RequestWithdraw(ctx, params)
	}
	if err != nil {
		return err
	}
	return env.finish(cmd, "request_withdraw", address, res, dryRun)
}

func runUserEnsure(cmd *cobra.Command, _ []string) error {
	env, err := openTxEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	referrer, _ := cmd.Flags().GetString("referrer")
	if referrer == "" {
		referrer = env.cfg.ReferrerName
	}
	registry := drift.NewReferrerRegistry(env.cfg.Env.DriftProgramID, env.sess.Ledger, env.logger)
	sig, sent, err := env.sess.Exchange.EnsureUser(cmd.Context(), env.signer, registry, referrer)
	if err != nil {
		return err
	}
	out := map[string]any{"authority": env.signer.PublicKey().String(), "created": sent}
	if sent {
		out["signature"] = sig.String()
	}
	return printJSON(cmd, out)
}
