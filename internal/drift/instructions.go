package drift

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

// DefaultUserName is the account name the exchange UI gives a first
// sub-account.
const DefaultUserName = "Main Account"

// ReferrerInfo points at the referrer's user and stats accounts.
type ReferrerInfo struct {
	Referrer      solana.PublicKey
	ReferrerStats solana.PublicKey
}

func NewInitializeUserStatsInstruction(programID, authority, payer solana.PublicKey) (solana.Instruction, error) {
	userStats, _, err := DeriveUserStatsAddress(programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive user stats: %w", err)
	}
	state, _, err := DeriveStateAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state: %w", err)
	}
	data, err := codec.InstructionData("initialize_user_stats")
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(userStats, true, false),
		solana.NewAccountMeta(state, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewInitializeUserInstruction creates sub-account subAccountID for
// authority. A non-nil referrer appends its accounts after the fixed list.
func NewInitializeUserInstruction(programID, authority, payer solana.PublicKey, subAccountID uint16, name string, referrer *ReferrerInfo) (solana.Instruction, error) {
	user, _, err := DeriveUserAddress(programID, authority, subAccountID)
	if err != nil {
		return nil, fmt.Errorf("derive user: %w", err)
	}
	userStats, _, err := DeriveUserStatsAddress(programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive user stats: %w", err)
	}
	state, _, err := DeriveStateAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state: %w", err)
	}
	encodedName, err := codec.EncodeName(name)
	if err != nil {
		return nil, err
	}
	data, err := codec.InstructionData("initialize_user", subAccountID, encodedName)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(userStats, true, false),
		solana.NewAccountMeta(state, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	if referrer != nil {
		accounts = append(accounts,
			solana.NewAccountMeta(referrer.Referrer, true, false),
			solana.NewAccountMeta(referrer.ReferrerStats, true, false),
		)
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewDepositInstruction moves amount of spot market marketIndex from
// userTokenAccount into sub-account 0 of authority.
func NewDepositInstruction(programID, authority, spotMarketVault, userTokenAccount solana.PublicKey, marketIndex uint16, amount uint64, reduceOnly bool, remaining []*solana.AccountMeta) (solana.Instruction, error) {
	user, _, err := DeriveUserAddress(programID, authority, 0)
	if err != nil {
		return nil, fmt.Errorf("derive user: %w", err)
	}
	userStats, _, err := DeriveUserStatsAddress(programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive user stats: %w", err)
	}
	state, _, err := DeriveStateAddress(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state: %w", err)
	}
	data, err := codec.InstructionData("deposit", marketIndex, amount, reduceOnly)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(state, false, false),
		solana.NewAccountMeta(user, true, false),
		solana.NewAccountMeta(userStats, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(spotMarketVault, true, false),
		solana.NewAccountMeta(userTokenAccount, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	accounts = append(accounts, remaining...)
	return solana.NewInstruction(programID, accounts, data), nil
}
