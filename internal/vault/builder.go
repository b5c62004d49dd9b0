package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/drift"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

var (
	ErrVaultNotFound     = errors.New("vault not found")
	ErrDepositorNotFound = errors.New("vault depositor not found")
	ErrSubmission        = errors.New("transaction submission failed")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrVaultExists       = errors.New("vault already exists")
	ErrInvalidParams     = errors.New("invalid vault parameters")
)

// Subscriber reads accounts through the account cache.
type Subscriber interface {
	Subscribe(address solana.PublicKey, schema accountcache.Schema) accountcache.Handle
	Unsubscribe(handles ...accountcache.Handle)
	WaitReady(ctx context.Context, h accountcache.Handle) (accountcache.Snapshot, error)
}

// Exchange is the part of the exchange client the builder needs.
type Exchange interface {
	ProgramID() solana.PublicKey
	SpotMarket(index uint16) (*codec.SpotMarket, bool)
	User(ctx context.Context, authority solana.PublicKey, subAccountID uint16) (*drift.UserContext, error)
	RemainingAccounts(params drift.RemainingAccountsParams) ([]*solana.AccountMeta, error)
}

type Config struct {
	ProgramID solana.PublicKey
	Tx        config.TxConfig
}

// InitializeVaultParams describes a new vault managed by the signer. Fees
// and shares use the vault program's precision.
type InitializeVaultParams struct {
	Name             string
	SpotMarketIndex  uint16
	RedeemPeriod     time.Duration
	MaxTokens        uint64
	MinDepositAmount uint64
	ManagementFee    int64
	ProfitShare      uint32
	HurdleRate       uint32
	Permissioned     bool
}

type DepositParams struct {
	Vault  solana.PublicKey
	Amount uint64
}

type WithdrawParams struct {
	Vault solana.PublicKey
}

type RequestWithdrawParams struct {
	Vault  solana.PublicKey
	Amount uint64
	Unit   codec.WithdrawUnit
}

// Plan is an unsigned instruction list. Accounts holds the remaining
// accounts appended to the vault instruction.
type Plan struct {
	Vault                solana.PublicKey
	Instructions         []solana.Instruction
	Accounts             []*solana.AccountMeta
	InitializesDepositor bool
}

type Result struct {
	Signature solana.Signature
	Plan      Plan
}

// Builder turns vault operations into signed, submitted transactions.
type Builder struct {
	cfg      Config
	ledger   chain.Ledger
	signer   chain.Signer
	subs     Subscriber
	exchange Exchange
	logger   *slog.Logger
}

func NewBuilder(cfg Config, ledger chain.Ledger, signer chain.Signer, subs Subscriber, exchange Exchange, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:      cfg,
		ledger:   ledger,
		signer:   signer,
		subs:     subs,
		exchange: exchange,
		logger:   logging.OrDiscard(logger).With("component", "vault_builder"),
	}
}

// target is everything resolved for one operation on one vault.
type target struct {
	accounts  depositAccounts
	remaining []*solana.AccountMeta
}

func (b *Builder) InitializeVault(ctx context.Context, params InitializeVaultParams) (Result, error) {
	plan, err := b.BuildInitializeVault(ctx, params)
	if err != nil {
		return Result{}, err
	}
	return b.submit(ctx, "initialize_vault", plan.Vault, plan)
}

func (b *Builder) Deposit(ctx context.Context, params DepositParams) (Result, error) {
	plan, err := b.BuildDeposit(ctx, params)
	if err != nil {
		return Result{}, err
	}
	return b.submit(ctx, "deposit", params.Vault, plan)
}

func (b *Builder) Withdraw(ctx context.Context, params WithdrawParams) (Result, error) {
	plan, err := b.BuildWithdraw(ctx, params)
	if err != nil {
		return Result{}, err
	}
	return b.submit(ctx, "withdraw", params.Vault, plan)
}

func (b *Builder) RequestWithdraw(ctx context.Context, params RequestWithdrawParams) (Result, error) {
	plan, err := b.BuildRequestWithdraw(ctx, params)
	if err != nil {
		return Result{}, err
	}
	return b.submit(ctx, "request_withdraw", params.Vault, plan)
}

// BuildInitializeVault creates the vault named params.Name with the signer as
// manager. The name is validated before anything is read.
func (b *Builder) BuildInitializeVault(ctx context.Context, params InitializeVaultParams) (Plan, error) {
	name, err := EncodeName(params.Name)
	if err != nil {
		return Plan{}, err
	}
	if params.RedeemPeriod < 0 || params.ManagementFee < 0 {
		return Plan{}, fmt.Errorf("%w: negative redeem period or management fee", ErrInvalidParams)
	}

	address, _, err := DeriveVaultAddress(b.cfg.ProgramID, name)
	if err != nil {
		return Plan{}, fmt.Errorf("derive vault: %w", err)
	}
	tokenAccount, _, err := DeriveTokenVaultAddress(b.cfg.ProgramID, address)
	if err != nil {
		return Plan{}, fmt.Errorf("derive vault token account: %w", err)
	}
	_, err = b.ledger.GetAccount(ctx, address)
	switch {
	case err == nil:
		return Plan{}, fmt.Errorf("%w: %q at %s", ErrVaultExists, params.Name, address)
	case !errors.Is(err, chain.ErrAccountNotFound):
		return Plan{}, fmt.Errorf("read vault %s: %w", address, err)
	}

	spotMarket, ok := b.exchange.SpotMarket(params.SpotMarketIndex)
	if !ok {
		return Plan{}, fmt.Errorf("%w: spot market %d", drift.ErrMarketNotLoaded, params.SpotMarketIndex)
	}
	driftProgram := b.exchange.ProgramID()
	userStats, _, err := drift.DeriveUserStatsAddress(driftProgram, address)
	if err != nil {
		return Plan{}, fmt.Errorf("derive vault user stats: %w", err)
	}
	user, _, err := drift.DeriveUserAddress(driftProgram, address, 0)
	if err != nil {
		return Plan{}, fmt.Errorf("derive vault user: %w", err)
	}
	state, _, err := drift.DeriveStateAddress(driftProgram)
	if err != nil {
		return Plan{}, fmt.Errorf("derive drift state: %w", err)
	}

	ix, err := newInitializeVaultInstruction(b.cfg.ProgramID, initializeVaultAccounts{
		Vault:             address,
		VaultTokenAccount: tokenAccount,
		DriftUserStats:    userStats,
		DriftUser:         user,
		DriftState:        state,
		DriftSpotMarket:   spotMarket.Pubkey,
		DriftSpotMint:     spotMarket.Mint,
		Manager:           b.signer.PublicKey(),
		DriftProgram:      driftProgram,
	}, codec.VaultParams{
		Name:             name,
		RedeemPeriod:     int64(params.RedeemPeriod / time.Second),
		MaxTokens:        params.MaxTokens,
		ManagementFee:    params.ManagementFee,
		MinDepositAmount: params.MinDepositAmount,
		ProfitShare:      params.ProfitShare,
		HurdleRate:       params.HurdleRate,
		SpotMarketIndex:  params.SpotMarketIndex,
		Permissioned:     params.Permissioned,
	})
	if err != nil {
		return Plan{}, err
	}
	instructions, err := chain.ComputeBudgetInstructions(b.cfg.Tx)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Vault: address, Instructions: append(instructions, ix)}, nil
}

// BuildDeposit prepends initialize_vault_depositor when the signer has no
// depositor record in the vault yet.
func (b *Builder) BuildDeposit(ctx context.Context, params DepositParams) (Plan, error) {
	if params.Amount == 0 {
		return Plan{}, ErrInvalidAmount
	}
	t, err := b.resolve(ctx, params.Vault)
	if err != nil {
		return Plan{}, err
	}
	exists, err := b.DepositorExists(ctx, params.Vault)
	if err != nil {
		return Plan{}, err
	}

	instructions, err := chain.ComputeBudgetInstructions(b.cfg.Tx)
	if err != nil {
		return Plan{}, err
	}
	if !exists {
		ix, err := newInitializeVaultDepositorInstruction(b.cfg.ProgramID, params.Vault, t.accounts.VaultDepositor, t.accounts.Authority)
		if err != nil {
			return Plan{}, err
		}
		instructions = append(instructions, ix)
	}
	ix, err := newDepositInstruction(b.cfg.ProgramID, t.accounts, params.Amount, t.remaining)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Vault:                params.Vault,
		Instructions:         append(instructions, ix),
		Accounts:             t.remaining,
		InitializesDepositor: !exists,
	}, nil
}

// BuildWithdraw fails with ErrDepositorNotFound when there is nothing to
// withdraw from.
func (b *Builder) BuildWithdraw(ctx context.Context, params WithdrawParams) (Plan, error) {
	t, err := b.resolveDepositor(ctx, params.Vault)
	if err != nil {
		return Plan{}, err
	}
	ix, err := newWithdrawInstruction(b.cfg.ProgramID, t.accounts, t.remaining)
	if err != nil {
		return Plan{}, err
	}
	return b.plan(t, ix)
}

func (b *Builder) BuildRequestWithdraw(ctx context.Context, params RequestWithdrawParams) (Plan, error) {
	if params.Amount == 0 {
		return Plan{}, ErrInvalidAmount
	}
	t, err := b.resolveDepositor(ctx, params.Vault)
	if err != nil {
		return Plan{}, err
	}
	ix, err := newRequestWithdrawInstruction(b.cfg.ProgramID, t.accounts, params.Amount, params.Unit, t.remaining)
	if err != nil {
		return Plan{}, err
	}
	return b.plan(t, ix)
}

func (b *Builder) plan(t *target, ix solana.Instruction) (Plan, error) {
	instructions, err := chain.ComputeBudgetInstructions(b.cfg.Tx)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Vault: t.accounts.Vault, Instructions: append(instructions, ix), Accounts: t.remaining}, nil
}

func (b *Builder) resolveDepositor(ctx context.Context, vault solana.PublicKey) (*target, error) {
	t, err := b.resolve(ctx, vault)
	if err != nil {
		return nil, err
	}
	exists, err := b.DepositorExists(ctx, vault)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s in vault %s", ErrDepositorNotFound, t.accounts.VaultDepositor, vault)
	}
	return t, nil
}

// DepositorExists looks up the signer's depositor record in vault. A missing
// account or one of another type counts as absent; read failures propagate.
func (b *Builder) DepositorExists(ctx context.Context, vault solana.PublicKey) (bool, error) {
	address, _, err := DeriveDepositorAddress(b.cfg.ProgramID, vault, b.signer.PublicKey())
	if err != nil {
		return false, fmt.Errorf("derive depositor: %w", err)
	}
	acct, err := b.ledger.GetAccount(ctx, address)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read depositor %s: %w", address, err)
	}
	if _, err := codec.VaultDepositorSchema.DecodeData(acct.Data); err != nil {
		if errors.Is(err, codec.ErrDiscriminatorMismatch) {
			return false, nil
		}
		return false, fmt.Errorf("decode depositor %s: %w", address, err)
	}
	return true, nil
}

func (b *Builder) resolve(ctx context.Context, vaultAddress solana.PublicKey) (*target, error) {
	v, err := b.loadVault(ctx, vaultAddress)
	if err != nil {
		return nil, err
	}

	authority := b.signer.PublicKey()
	depositor, _, err := DeriveDepositorAddress(b.cfg.ProgramID, vaultAddress, authority)
	if err != nil {
		return nil, fmt.Errorf("derive depositor: %w", err)
	}

	spotMarket, ok := b.exchange.SpotMarket(v.SpotMarketIndex)
	if !ok {
		return nil, fmt.Errorf("%w: spot market %d", drift.ErrMarketNotLoaded, v.SpotMarketIndex)
	}
	userTokenAccount, _, err := solana.FindAssociatedTokenAddress(authority, spotMarket.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive user token account: %w", err)
	}

	driftProgram := b.exchange.ProgramID()
	userStats, _, err := drift.DeriveUserStatsAddress(driftProgram, vaultAddress)
	if err != nil {
		return nil, fmt.Errorf("derive vault user stats: %w", err)
	}
	state, _, err := drift.DeriveStateAddress(driftProgram)
	if err != nil {
		return nil, fmt.Errorf("derive drift state: %w", err)
	}
	signer, _, err := drift.DeriveSignerAddress(driftProgram)
	if err != nil {
		return nil, fmt.Errorf("derive drift signer: %w", err)
	}

	remaining, err := b.remainingAccounts(ctx, authority, v)
	if err != nil {
		return nil, err
	}

	return &target{
		accounts: depositAccounts{
			Vault:                vaultAddress,
			VaultDepositor:       depositor,
			Authority:            authority,
			VaultTokenAccount:    v.TokenAccount,
			DriftUserStats:       userStats,
			DriftUser:            v.User,
			DriftState:           state,
			DriftSpotMarketVault: spotMarket.Vault,
			DriftSigner:          signer,
			UserTokenAccount:     userTokenAccount,
			DriftProgram:         driftProgram,
		},
		remaining: remaining,
	}, nil
}

func (b *Builder) loadVault(ctx context.Context, address solana.PublicKey) (*codec.Vault, error) {
	h := b.subs.Subscribe(address, codec.VaultSchema)
	defer b.subs.Unsubscribe(h)

	snap, err := b.subs.WaitReady(ctx, h)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("load vault %s: %w", address, err)
	}
	v, ok := snap.Value.(*codec.Vault)
	if !ok {
		return nil, fmt.Errorf("load vault %s: unexpected value %T", address, snap.Value)
	}
	return v, nil
}

// remainingAccounts covers the positions of the signer's exchange user, when
// it exists, and of the vault's own exchange user, with the vault's spot
// market writable.
func (b *Builder) remainingAccounts(ctx context.Context, authority solana.PublicKey, v *codec.Vault) ([]*solana.AccountMeta, error) {
	actor, err := b.exchange.User(ctx, authority, 0)
	if err != nil {
		return nil, err
	}
	defer actor.Close()

	var users []*codec.User
	if acct, ok := actor.Account(); ok {
		users = append(users, acct)
	}

	h := b.subs.Subscribe(v.User, codec.UserSchema)
	defer b.subs.Unsubscribe(h)
	snap, err := b.subs.WaitReady(ctx, h)
	switch {
	case err == nil:
		if vaultUser, ok := snap.Value.(*codec.User); ok {
			users = append(users, vaultUser)
		}
	case errors.Is(err, chain.ErrAccountNotFound):
		b.logger.Warn("vault exchange user missing", "user", v.User)
	default:
		return nil, fmt.Errorf("load vault exchange user %s: %w", v.User, err)
	}

	return b.exchange.RemainingAccounts(drift.RemainingAccountsParams{
		Users:               users,
		WritableSpotMarkets: []uint16{v.SpotMarketIndex},
	})
}

func (b *Builder) submit(ctx context.Context, op string, vault solana.PublicKey, plan Plan) (Result, error) {
	tx, err := chain.AssembleTransaction(ctx, b.ledger, b.signer.PublicKey(), plan.Instructions)
	if err != nil {
		return Result{}, err
	}
	if err := b.signer.SignTransaction(ctx, tx); err != nil {
		return Result{}, err
	}
	sig, err := b.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrSubmission, op, err)
	}

	b.logger.Info("vault transaction submitted",
		"op", op,
		"vault", vault,
		"instructions", len(plan.Instructions),
		"initialized_depositor", plan.InitializesDepositor,
		"signature", sig,
	)
	return Result{Signature: sig, Plan: plan}, nil
}
