package chain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrAccountNotFound reports an address with no account behind it.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTransport covers RPC failures and deadlines.
	ErrTransport = errors.New("ledger transport failure")
)

type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

type KeyedAccount struct {
	Pubkey  solana.PublicKey
	Account *Account
}

// AccountBatch holds one batched read. Accounts is index-aligned with the
// requested keys; a nil entry means the address holds no account.
type AccountBatch struct {
	Slot     uint64
	Accounts []*Account
}

type Ledger interface {
	GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) (*AccountBatch, error)
	GetAccount(ctx context.Context, key solana.PublicKey) (*Account, error)
	GetSlot(ctx context.Context) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, discriminator []byte) ([]KeyedAccount, error)
}

type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}
