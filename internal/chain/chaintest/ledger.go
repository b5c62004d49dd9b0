// Package chaintest provides an in-memory ledger and a counting signer for
// tests of packages built on chain.Ledger.
package chaintest

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

// Ledger serves accounts from memory and records sent transactions. Setting
// ReadErr fails every account read with it.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[solana.PublicKey]*chain.Account
	slot      uint64
	blockhash solana.Hash
	sent      []*solana.Transaction
	readErr   error
	sendErr   error
	reads     int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:  make(map[solana.PublicKey]*chain.Account),
		slot:      1,
		blockhash: solana.HashFromBytes(bytes.Repeat([]byte{7}, 32)),
	}
}

func (l *Ledger) SetAccount(address, owner solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[address] = &chain.Account{Owner: owner, Lamports: 1, Data: append([]byte(nil), data...)}
}

func (l *Ledger) DeleteAccount(address solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, address)
}

func (l *Ledger) SetReadError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

func (l *Ledger) SetSendError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Sent returns the transactions accepted by SendTransaction.
func (l *Ledger) Sent() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*solana.Transaction(nil), l.sent...)
}

// Reads counts single and batched account reads.
func (l *Ledger) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

func (l *Ledger) GetMultipleAccounts(_ context.Context, keys []solana.PublicKey) (*chain.AccountBatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	l.slot++
	batch := &chain.AccountBatch{Slot: l.slot, Accounts: make([]*chain.Account, len(keys))}
	for i, key := range keys {
		batch.Accounts[i] = l.copyAccount(key)
	}
	return batch, nil
}

func (l *Ledger) GetAccount(_ context.Context, key solana.PublicKey) (*chain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	acct := l.copyAccount(key)
	if acct == nil {
		return nil, chain.ErrAccountNotFound
	}
	return acct, nil
}

func (l *Ledger) GetSlot(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot, nil
}

func (l *Ledger) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockhash, nil
}

func (l *Ledger) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return solana.Signature{}, l.sendErr
	}
	l.sent = append(l.sent, tx)
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, nil
	}
	return tx.Signatures[0], nil
}

func (l *Ledger) GetProgramAccounts(_ context.Context, program solana.PublicKey, discriminator []byte) ([]chain.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	var out []chain.KeyedAccount
	for key, acct := range l.accounts {
		if !acct.Owner.Equals(program) || !bytes.HasPrefix(acct.Data, discriminator) {
			continue
		}
		out = append(out, chain.KeyedAccount{Pubkey: key, Account: l.copyAccount(key)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Pubkey[:], out[j].Pubkey[:]) < 0 })
	return out, nil
}

func (l *Ledger) copyAccount(key solana.PublicKey) *chain.Account {
	acct, ok := l.accounts[key]
	if !ok {
		return nil
	}
	cp := *acct
	cp.Data = append([]byte(nil), acct.Data...)
	return &cp
}

// Signer signs with a fresh random key and counts signatures.
type Signer struct {
	*chain.KeypairSigner

	mu    sync.Mutex
	calls int
}

func NewSigner() *Signer {
	return &Signer{KeypairSigner: chain.NewKeypairSigner(solana.NewWallet().PrivateKey)}
}

func (s *Signer) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.KeypairSigner.SignTransaction(ctx, tx)
}

func (s *Signer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
