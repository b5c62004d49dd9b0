package codec

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type WithdrawUnit uint8

const (
	WithdrawUnitShares WithdrawUnit = iota
	WithdrawUnitToken
	WithdrawUnitSharesPercent
)

func (u WithdrawUnit) String() string {
	switch u {
	case WithdrawUnitShares:
		return "shares"
	case WithdrawUnitToken:
		return "token"
	case WithdrawUnitSharesPercent:
		return "shares_percent"
	default:
		return "unknown"
	}
}

type WithdrawRequest struct {
	Shares bin.Uint128
	Value  uint64
	Ts     int64
}

// Vault is the pooled-fund account owned by the vault program.
type Vault struct {
	Name                       [32]byte
	Pubkey                     solana.PublicKey
	Manager                    solana.PublicKey
	TokenAccount               solana.PublicKey
	UserStats                  solana.PublicKey
	User                       solana.PublicKey
	Delegate                   solana.PublicKey
	LiquidationDelegate        solana.PublicKey
	UserShares                 bin.Uint128
	TotalShares                bin.Uint128
	LastFeeUpdateTs            int64
	LiquidationStartTs         int64
	RedeemPeriod               int64
	TotalWithdrawRequested     uint64
	MaxTokens                  uint64
	ManagementFee              int64
	InitTs                     int64
	NetDeposits                int64
	ManagerNetDeposits         int64
	TotalDeposits              uint64
	TotalWithdraws             uint64
	ManagerTotalDeposits       uint64
	ManagerTotalWithdraws      uint64
	ManagerTotalFee            int64
	ManagerTotalProfitShare    uint64
	MinDepositAmount           uint64
	LastManagerWithdrawRequest WithdrawRequest
	SharesBase                 uint32
	ProfitShare                uint32
	HurdleRate                 uint32
	SpotMarketIndex            uint16
	Bump                       uint8
	Permissioned               bool
}

type VaultDepositor struct {
	Vault                       solana.PublicKey
	Pubkey                      solana.PublicKey
	Authority                   solana.PublicKey
	VaultShares                 bin.Uint128
	LastWithdrawRequest         WithdrawRequest
	LastValidTs                 int64
	NetDeposits                 int64
	TotalDeposits               uint64
	TotalWithdraws              uint64
	CumulativeProfitShareAmount int64
	ProfitShareFeePaid          uint64
	VaultSharesBase             uint32
}

var (
	VaultSchema          = NewAnchorSchema[Vault]("Vault")
	VaultDepositorSchema = NewAnchorSchema[VaultDepositor]("VaultDepositor")
)

// VaultParams is the argument of initialize_vault.
type VaultParams struct {
	Name             [32]byte
	RedeemPeriod     int64
	MaxTokens        uint64
	ManagementFee    int64
	MinDepositAmount uint64
	ProfitShare      uint32
	HurdleRate       uint32
	SpotMarketIndex  uint16
	Permissioned     bool
}
