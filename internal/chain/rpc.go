package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

// RPCLedger implements Ledger over the JSON-RPC API. Every call runs under
// its own deadline.
type RPCLedger struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	timeout    time.Duration
	tx         config.TxConfig
	logger     *slog.Logger
}

func NewRPCLedger(env config.Environment, timeout time.Duration, tx config.TxConfig, logger *slog.Logger) *RPCLedger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCLedger{
		rpc:        rpc.New(env.RPCURL),
		commitment: env.Commitment,
		timeout:    timeout,
		tx:         tx,
		logger:     logging.OrDiscard(logger),
	}
}

func (l *RPCLedger) GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) (*AccountBatch, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.rpc.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{Commitment: l.commitment})
	if err != nil {
		return nil, transportError("get multiple accounts", err)
	}
	if len(out.Value) != len(keys) {
		return nil, fmt.Errorf("%w: get multiple accounts returned %d entries for %d keys", ErrTransport, len(out.Value), len(keys))
	}

	batch := &AccountBatch{Slot: out.Context.Slot, Accounts: make([]*Account, len(keys))}
	for i, acct := range out.Value {
		batch.Accounts[i] = fromRPCAccount(acct)
	}
	return batch, nil
}

func (l *RPCLedger) GetAccount(ctx context.Context, key solana.PublicKey) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: l.commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
		}
		return nil, transportError("get account info", err)
	}
	acct := fromRPCAccount(out.Value)
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return acct, nil
}

func (l *RPCLedger) GetSlot(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	slot, err := l.rpc.GetSlot(ctx, l.commitment)
	if err != nil {
		return 0, transportError("get slot", err)
	}
	return slot, nil
}

func (l *RPCLedger) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	recent, err := l.rpc.GetLatestBlockhash(ctx, l.commitment)
	if err != nil {
		return solana.Hash{}, transportError("get latest blockhash", err)
	}
	return recent.Value.Blockhash, nil
}

func (l *RPCLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	opts := rpc.TransactionOpts{
		SkipPreflight:       l.tx.SkipPreflight,
		PreflightCommitment: l.commitment,
	}
	if l.tx.MaxRetries != nil {
		retries := *l.tx.MaxRetries
		opts.MaxRetries = &retries
	}

	sig, err := l.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, transportError("send transaction", err)
	}
	l.logger.Debug("transaction sent", "signature", sig)
	return sig, nil
}

func (l *RPCLedger) GetProgramAccounts(ctx context.Context, program solana.PublicKey, discriminator []byte) ([]KeyedAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	opts := &rpc.GetProgramAccountsOpts{Commitment: l.commitment}
	if len(discriminator) > 0 {
		opts.Filters = []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(discriminator)}},
		}
	}

	out, err := l.rpc.GetProgramAccountsWithOpts(ctx, program, opts)
	if err != nil {
		return nil, transportError("get program accounts", err)
	}

	accounts := make([]KeyedAccount, 0, len(out))
	for _, keyed := range out {
		if keyed == nil {
			continue
		}
		acct := fromRPCAccount(keyed.Account)
		if acct == nil {
			continue
		}
		accounts = append(accounts, KeyedAccount{Pubkey: keyed.Pubkey, Account: acct})
	}
	return accounts, nil
}

// WaitForConfirmation polls signature status until the transaction reaches
// confirmed commitment, fails, or ctx ends.
func (l *RPCLedger) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := l.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				l.logger.Debug("signature status poll failed", "signature", sig, "err", err)
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

func fromRPCAccount(acct *rpc.Account) *Account {
	if acct == nil {
		return nil
	}
	out := &Account{Owner: acct.Owner, Lamports: acct.Lamports}
	if acct.Data != nil {
		out.Data = acct.Data.GetBinary()
	}
	return out
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
