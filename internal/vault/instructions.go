package vault

import (
	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

// depositAccounts are the fixed accounts shared by deposit and withdraw.
type depositAccounts struct {
	Vault                solana.PublicKey
	VaultDepositor       solana.PublicKey
	Authority            solana.PublicKey
	VaultTokenAccount    solana.PublicKey
	DriftUserStats       solana.PublicKey
	DriftUser            solana.PublicKey
	DriftState           solana.PublicKey
	DriftSpotMarketVault solana.PublicKey
	DriftSigner          solana.PublicKey
	UserTokenAccount     solana.PublicKey
	DriftProgram         solana.PublicKey
}

// initializeVaultAccounts are the accounts a new vault is created with. The
// vault owns its exchange user and user stats.
type initializeVaultAccounts struct {
	Vault             solana.PublicKey
	VaultTokenAccount solana.PublicKey
	DriftUserStats    solana.PublicKey
	DriftUser         solana.PublicKey
	DriftState        solana.PublicKey
	DriftSpotMarket   solana.PublicKey
	DriftSpotMint     solana.PublicKey
	Manager           solana.PublicKey
	DriftProgram      solana.PublicKey
}

func newInitializeVaultInstruction(programID solana.PublicKey, a initializeVaultAccounts, params codec.VaultParams) (solana.Instruction, error) {
	data, err := codec.InstructionData("initialize_vault", params)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.VaultTokenAccount, true, false),
		solana.NewAccountMeta(a.DriftUserStats, true, false),
		solana.NewAccountMeta(a.DriftUser, true, false),
		solana.NewAccountMeta(a.DriftState, true, false),
		solana.NewAccountMeta(a.DriftSpotMarket, false, false),
		solana.NewAccountMeta(a.DriftSpotMint, false, false),
		solana.NewAccountMeta(a.Manager, false, true),
		solana.NewAccountMeta(a.Manager, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(a.DriftProgram, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func newInitializeVaultDepositorInstruction(programID, vault, depositor, authority solana.PublicKey) (solana.Instruction, error) {
	data, err := codec.InstructionData("initialize_vault_depositor")
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(vault, false, false),
		solana.NewAccountMeta(depositor, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func newDepositInstruction(programID solana.PublicKey, a depositAccounts, amount uint64, remaining []*solana.AccountMeta) (solana.Instruction, error) {
	data, err := codec.InstructionData("deposit", amount)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.VaultDepositor, true, false),
		solana.NewAccountMeta(a.Authority, false, true),
		solana.NewAccountMeta(a.VaultTokenAccount, true, false),
		solana.NewAccountMeta(a.DriftUserStats, true, false),
		solana.NewAccountMeta(a.DriftUser, true, false),
		solana.NewAccountMeta(a.DriftState, false, false),
		solana.NewAccountMeta(a.DriftSpotMarketVault, true, false),
		solana.NewAccountMeta(a.UserTokenAccount, true, false),
		solana.NewAccountMeta(a.DriftProgram, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	accounts = append(accounts, remaining...)
	return solana.NewInstruction(programID, accounts, data), nil
}

func newWithdrawInstruction(programID solana.PublicKey, a depositAccounts, remaining []*solana.AccountMeta) (solana.Instruction, error) {
	data, err := codec.InstructionData("withdraw")
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.VaultDepositor, true, false),
		solana.NewAccountMeta(a.Authority, false, true),
		solana.NewAccountMeta(a.VaultTokenAccount, true, false),
		solana.NewAccountMeta(a.DriftUserStats, true, false),
		solana.NewAccountMeta(a.DriftUser, true, false),
		solana.NewAccountMeta(a.DriftState, false, false),
		solana.NewAccountMeta(a.DriftSpotMarketVault, true, false),
		solana.NewAccountMeta(a.DriftSigner, false, false),
		solana.NewAccountMeta(a.UserTokenAccount, true, false),
		solana.NewAccountMeta(a.DriftProgram, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	accounts = append(accounts, remaining...)
	return solana.NewInstruction(programID, accounts, data), nil
}

func newRequestWithdrawInstruction(programID solana.PublicKey, a depositAccounts, amount uint64, unit codec.WithdrawUnit, remaining []*solana.AccountMeta) (solana.Instruction, error) {
	data, err := codec.InstructionData("request_withdraw", amount, unit)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.VaultDepositor, true, false),
		solana.NewAccountMeta(a.Authority, false, true),
		solana.NewAccountMeta(a.DriftUserStats, false, false),
		solana.NewAccountMeta(a.DriftUser, false, false),
		solana.NewAccountMeta(a.DriftState, false, false),
	}
	accounts = append(accounts, remaining...)
	return solana.NewInstruction(programID, accounts, data), nil
}
