package drift

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
)

// UserContext tracks one exchange sub-account through the cache. The account
// may not exist yet; the subscription picks it up once it is created.
type UserContext struct {
	Authority    solana.PublicKey
	SubAccountID uint16
	Address      solana.PublicKey

	client *Client
	key    userKey
	handle accountcache.Handle
}

type userKey struct {
	authority    solana.PublicKey
	subAccountID uint16
}

func (u *UserContext) Exists() bool {
	_, ok := u.Account()
	return ok
}

func (u *UserContext) Account() (*codec.User, bool) {
	return accountcache.Value[*codec.User](u.client.cache, u.handle)
}

// Close gives back one reference obtained from Client.User. The
// subscription ends with the last reference or on Client.Unsubscribe.
func (u *UserContext) Close() {
	u.client.releaseUser(u)
}

type userEntry struct {
	user *UserContext
	refs int
}

// User returns the context of the sub-account of authority, subscribing on
// first use and waiting for the first read. A missing account is not an
// error. Each call takes a reference that Close gives back.
func (c *Client) User(ctx context.Context, authority solana.PublicKey, subAccountID uint16) (*UserContext, error) {
	k := userKey{authority: authority, subAccountID: subAccountID}

	c.mu.Lock()
	entry, ok := c.users[k]
	if !ok {
		address, _, err := DeriveUserAddress(c.cfg.ProgramID, authority, subAccountID)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("derive user: %w", err)
		}
		entry = &userEntry{user: &UserContext{
			Authority:    authority,
			SubAccountID: subAccountID,
			Address:      address,
			client:       c,
			key:          k,
			handle:       c.cache.Subscribe(address, codec.UserSchema),
		}}
		c.users[k] = entry
	}
	entry.refs++
	c.mu.Unlock()

	user := entry.user
	if _, err := c.cache.WaitReady(ctx, user.handle); err != nil && !errors.Is(err, chain.ErrAccountNotFound) {
		user.Close()
		return nil, fmt.Errorf("load user %s: %w", user.Address, err)
	}
	return user, nil
}

func (c *Client) releaseUser(u *UserContext) {
	c.mu.Lock()
	entry, ok := c.users[u.key]
	if !ok || entry.user != u {
		c.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.users, u.key)
	c.mu.Unlock()
	c.cache.Unsubscribe(u.handle)
}

// EnsureUser creates sub-account 0 of signer when it does not exist, along
// with the user stats account when that is missing too. It reports whether a
// transaction was sent. A referrer that cannot be resolved is dropped.
func (c *Client) EnsureUser(ctx context.Context, signer chain.Signer, referrers *ReferrerRegistry, referrerName string) (solana.Signature, bool, error) {
	authority := signer.PublicKey()
	setup, err := c.userSetupInstructions(ctx, authority, referrers, referrerName)
	if err != nil || len(setup) == 0 {
		return solana.Signature{}, false, err
	}

	instructions, err := chain.ComputeBudgetInstructions(c.cfg.Tx)
	if err != nil {
		return solana.Signature{}, false, err
	}
	sig, err := c.send(ctx, signer, append(instructions, setup...))
	if err != nil {
		return solana.Signature{}, false, fmt.Errorf("send initialize_user: %w", err)
	}

	c.logger.Info("exchange user initialized", "authority", authority, "instructions", len(setup), "signature", sig)
	return sig, true, nil
}

// userSetupInstructions returns what it takes to create sub-account 0 of
// authority, or nothing when it already exists.
func (c *Client) userSetupInstructions(ctx context.Context, authority solana.PublicKey, referrers *ReferrerRegistry, referrerName string) ([]solana.Instruction, error) {
	user, _, err := DeriveUserAddress(c.cfg.ProgramID, authority, 0)
	if err != nil {
		return nil, fmt.Errorf("derive user: %w", err)
	}
	exists, err := c.accountExists(ctx, user)
	if err != nil || exists {
		return nil, err
	}

	stats, _, err := DeriveUserStatsAddress(c.cfg.ProgramID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive user stats: %w", err)
	}
	statsExist, err := c.accountExists(ctx, stats)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if !statsExist {
		ix, err := NewInitializeUserStatsInstruction(c.cfg.ProgramID, authority, authority)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ix)
	}

	var referrer *ReferrerInfo
	if referrers != nil {
		if info, ok := referrers.Lookup(ctx, referrerName); ok {
			referrer = &info
		}
	}
	ix, err := NewInitializeUserInstruction(c.cfg.ProgramID, authority, authority, 0, DefaultUserName, referrer)
	if err != nil {
		return nil, err
	}
	return append(instructions, ix), nil
}

func (c *Client) send(ctx context.Context, signer chain.Signer, instructions []solana.Instruction) (solana.Signature, error) {
	tx, err := chain.AssembleTransaction(ctx, c.ledger, signer.PublicKey(), instructions)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := signer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, err
	}
	return c.ledger.SendTransaction(ctx, tx)
}

func (c *Client) accountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.ledger.GetAccount(ctx, address)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, chain.ErrAccountNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read %s: %w", address, err)
	}
}
