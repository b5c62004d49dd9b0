package drift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/accountcache"
	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/chain/chaintest"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/markets"
)

var testProgramID = solana.MustPublicKeyFromBase58("dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH")

type fixture struct {
	ledger     *chaintest.Ledger
	cache      *accountcache.Cache
	client     *Client
	solOracle  solana.PublicKey
	usdcOracle solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := markets.Load("devnet")
	if err != nil {
		t.Fatalf("markets.Load: %v", err)
	}
	ledger := chaintest.NewLedger()
	f := &fixture{
		ledger:     ledger,
		solOracle:  solana.NewWallet().PublicKey(),
		usdcOracle: solana.NewWallet().PublicKey(),
	}

	sol, _ := registry.FindSpot(markets.BySymbol("SOL"))
	f.putSpotMarket(t, 0, f.usdcOracle)
	f.putSpotMarket(t, 1, f.solOracle)
	f.putPerpMarket(t, 0, f.solOracle)
	ledger.SetAccount(f.solOracle, codec.PythPushOracleProgramID,
		codec.EncodePriceUpdate(sol.Oracle.FeedID, 15_000_000_000, 1_000_000, -8, 1_700_000_000, 5))

	f.cache = accountcache.New(ledger, accountcache.Options{Interval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.cache.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.client = New(Config{ProgramID: testProgramID}, f.cache, registry, ledger, nil)
	return f
}

func (f *fixture) putSpotMarket(t *testing.T, index uint16, oracle solana.PublicKey) {
	t.Helper()
	address, _, err := DeriveSpotMarketAddress(testProgramID, index)
	if err != nil {
		t.Fatalf("derive spot market: %v", err)
	}
	vault, _, _ := DeriveSpotMarketVaultAddress(testProgramID, index)
	data, err := codec.SpotMarketSchema.Encode(&codec.SpotMarket{
		Pubkey: address,
		Oracle: oracle,
		Mint:   solana.NewWallet().PublicKey(),
		Vault:  vault,
	})
	if err != nil {
		t.Fatalf("encode spot market: %v", err)
	}
	f.ledger.SetAccount(address, testProgramID, data)
}

func (f *fixture) putPerpMarket(t *testing.T, index uint16, oracle solana.PublicKey) {
	t.Helper()
	address, _, err := DerivePerpMarketAddress(testProgramID, index)
	if err != nil {
		t.Fatalf("derive perp market: %v", err)
	}
	market := codec.PerpMarket{Pubkey: address}
	market.Amm.Oracle = oracle
	data, err := codec.PerpMarketSchema.Encode(&market)
	if err != nil {
		t.Fatalf("encode perp market: %v", err)
	}
	f.ledger.SetAccount(address, testProgramID, data)
}

func TestDeriveAddressesAreDeterministic(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	a, _, err := DeriveUserAddress(testProgramID, authority, 0)
	if err != nil {
		t.Fatalf("DeriveUserAddress: %v", err)
	}
	b, _, _ := DeriveUserAddress(testProgramID, authority, 0)
	other, _, _ := DeriveUserAddress(testProgramID, authority, 1)
	if !a.Equals(b) || a.Equals(other) {
		t.Fatalf("user addresses: %s %s %s", a, b, other)
	}

	spot, _, _ := DeriveSpotMarketAddress(testProgramID, 1)
	perp, _, _ := DerivePerpMarketAddress(testProgramID, 1)
	if spot.Equals(perp) {
		t.Fatal("spot and perp market addresses collide")
	}
}

func TestSubscribeLoadsMarketsAndOracles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.client.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer f.client.Unsubscribe()

	if _, ok := f.client.PerpMarket(0); !ok {
		t.Fatal("SOL-PERP not loaded")
	}
	if _, ok := f.client.PerpMarket(1); ok {
		t.Fatal("BTC-PERP has no account but was loaded")
	}

	price, ok := f.client.OracleForPerp(0)
	if !ok || price.Price != 150_000_000 {
		t.Fatalf("SOL-PERP oracle = %+v, %v", price, ok)
	}
	if bySymbol, ok := f.client.OraclePrice("SOL"); !ok || bySymbol.Price != price.Price {
		t.Fatalf("OraclePrice(SOL) = %+v, %v", bySymbol, ok)
	}
	quote, ok := f.client.OracleForSpot(QuoteSpotMarketIndex)
	if !ok || quote.Price != codec.PricePrecision {
		t.Fatalf("quote oracle = %+v, %v", quote, ok)
	}
	if _, ok := f.client.OraclePrice("DOGE"); ok {
		t.Fatal("unknown symbol resolved")
	}
}

func TestUnsubscribeReleasesCacheEntries(t *testing.T) {
	f := newFixture(t)
	if err := f.client.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if f.cache.Active() == 0 {
		t.Fatal("no cache subscriptions after Subscribe")
	}
	f.client.Unsubscribe()
	f.client.Unsubscribe()
	if got := f.cache.Active(); got != 0 {
		t.Fatalf("active = %d after Unsubscribe", got)
	}
}

func TestSubscribePropagatesTransportErrors(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetReadError(chain.ErrTransport)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.client.Subscribe(ctx); !errors.Is(err, chain.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if got := f.cache.Active(); got != 0 {
		t.Fatalf("active = %d after failed Subscribe", got)
	}
}

func TestRemainingAccountsOrdering(t *testing.T) {
	f := newFixture(t)
	if err := f.client.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer f.client.Unsubscribe()

	var user codec.User
	user.SpotPositions[0] = codec.SpotPosition{MarketIndex: 1, ScaledBalance: 10}
	user.PerpPositions[0] = codec.PerpPosition{MarketIndex: 0, BaseAssetAmount: 5}

	metas, err := f.client.RemainingAccounts(RemainingAccountsParams{
		Users:               []*codec.User{&user, nil},
		WritableSpotMarkets: []uint16{0},
	})
	if err != nil {
		t.Fatalf("RemainingAccounts: %v", err)
	}

	spot0, _, _ := DeriveSpotMarketAddress(testProgramID, 0)
	spot1, _, _ := DeriveSpotMarketAddress(testProgramID, 1)
	perp0, _, _ := DerivePerpMarketAddress(testProgramID, 0)
	want := []struct {
		key      solana.PublicKey
		writable bool
	}{
		{f.usdcOracle, false},
		{f.solOracle, false},
		{spot0, true},
		{spot1, false},
		{perp0, false},
	}
	if len(metas) != len(want) {
		t.Fatalf("got %d metas, want %d", len(metas), len(want))
	}
	for i, w := range want {
		if !metas[i].PublicKey.Equals(w.key) || metas[i].IsWritable != w.writable || metas[i].IsSigner {
			t.Fatalf("meta %d = %+v, want %s writable=%v", i, metas[i], w.key, w.writable)
		}
	}

	if _, err := f.client.RemainingAccounts(RemainingAccountsParams{ReadablePerpMarkets: []uint16{1}}); !errors.Is(err, ErrMarketNotLoaded) {
		t.Fatalf("err = %v, want ErrMarketNotLoaded", err)
	}
}

func TestUserContextFollowsAccountCreation(t *testing.T) {
	f := newFixture(t)
	authority := solana.NewWallet().PublicKey()

	user, err := f.client.User(context.Background(), authority, 0)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	defer user.Close()
	if user.Exists() {
		t.Fatal("user exists before creation")
	}

	data, err := codec.UserSchema.Encode(&codec.User{Authority: authority})
	if err != nil {
		t.Fatalf("encode user: %v", err)
	}
	f.ledger.SetAccount(user.Address, testProgramID, data)
	f.cache.Kick()

	deadline := time.Now().Add(2 * time.Second)
	for !user.Exists() {
		if time.Now().After(deadline) {
			t.Fatal("user never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	acct, _ := user.Account()
	if !acct.Authority.Equals(authority) {
		t.Fatalf("authority = %s", acct.Authority)
	}
}

func TestUserContextIsSharedPerSubAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	authority := solana.NewWallet().PublicKey()

	first, err := f.client.User(ctx, authority, 0)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	second, err := f.client.User(ctx, authority, 0)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if first != second {
		t.Fatal("same sub-account produced two contexts")
	}
	other, err := f.client.User(ctx, authority, 1)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if other == first {
		t.Fatal("sub-accounts 0 and 1 share a context")
	}
	if got := f.cache.Active(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	first.Close()
	if got := f.cache.Active(); got != 2 {
		t.Fatalf("active after one release = %d, want 2", got)
	}
	second.Close()
	if got := f.cache.Active(); got != 1 {
		t.Fatalf("active after last release = %d, want 1", got)
	}

	for range 5 {
		u, err := f.client.User(ctx, authority, 0)
		if err != nil {
			t.Fatalf("User: %v", err)
		}
		u.Close()
	}
	f.client.mu.RLock()
	tracked := len(f.client.users)
	f.client.mu.RUnlock()
	if tracked != 1 {
		t.Fatalf("tracked users = %d, want 1", tracked)
	}

	f.client.Unsubscribe()
	other.Close()
	if got := f.cache.Active(); got != 0 {
		t.Fatalf("active after Unsubscribe = %d, want 0", got)
	}
}

func TestEnsureUserInitializesOnce(t *testing.T) {
	f := newFixture(t)
	signer := chaintest.NewSigner()
	ctx := context.Background()

	referrerName, _ := codec.EncodeName("friend")
	referrerAddress, _, _ := DeriveReferrerNameAddress(testProgramID, referrerName)
	ref := codec.ReferrerName{User: solana.NewWallet().PublicKey(), UserStats: solana.NewWallet().PublicKey(), Name: referrerName}
	refData, err := codec.ReferrerNameSchema.Encode(&ref)
	if err != nil {
		t.Fatalf("encode referrer: %v", err)
	}
	f.ledger.SetAccount(referrerAddress, testProgramID, refData)
	referrers := NewReferrerRegistry(testProgramID, f.ledger, nil)

	_, sent, err := f.client.EnsureUser(ctx, signer, referrers, "friend")
	if err != nil || !sent {
		t.Fatalf("EnsureUser = %v, %v", sent, err)
	}
	txs := f.ledger.Sent()
	if len(txs) != 1 || len(txs[0].Message.Instructions) != 2 {
		t.Fatalf("sent %d transactions", len(txs))
	}
	initUser := txs[0].Message.Instructions[1]
	if len(initUser.Accounts) != 9 {
		t.Fatalf("initialize_user has %d accounts, want 9 with referrer", len(initUser.Accounts))
	}
	if signer.Calls() != 1 {
		t.Fatalf("signed %d times", signer.Calls())
	}

	userAddress, _, _ := DeriveUserAddress(testProgramID, signer.PublicKey(), 0)
	f.ledger.SetAccount(userAddress, testProgramID, []byte{1})
	if _, sent, err := f.client.EnsureUser(ctx, signer, referrers, "friend"); err != nil || sent {
		t.Fatalf("second EnsureUser = %v, %v", sent, err)
	}
}

func TestReferrerLookupFailuresMeanNoReferrer(t *testing.T) {
	ledger := chaintest.NewLedger()
	referrers := NewReferrerRegistry(testProgramID, ledger, nil)
	ctx := context.Background()

	if _, ok := referrers.Lookup(ctx, "nobody"); ok {
		t.Fatal("missing referrer resolved")
	}
	if _, ok := referrers.Lookup(ctx, ""); ok {
		t.Fatal("empty name resolved")
	}
	if _, ok := referrers.Lookup(ctx, "a name that is far longer than thirty-two bytes"); ok {
		t.Fatal("over-long name resolved")
	}
	ledger.SetReadError(chain.ErrTransport)
	if _, ok := referrers.Lookup(ctx, "friend"); ok {
		t.Fatal("transport failure resolved a referrer")
	}
}

func TestDepositCollateralCreatesUserInSameTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	signer := chaintest.NewSigner()

	if _, err := f.client.DepositCollateral(ctx, signer, nil, CollateralDeposit{MarketIndex: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.client.DepositCollateral(ctx, signer, nil, CollateralDeposit{MarketIndex: 42, Amount: 1}); !errors.Is(err, ErrMarketNotLoaded) {
		t.Fatalf("err = %v, want ErrMarketNotLoaded", err)
	}

	if _, err := f.client.DepositCollateral(ctx, signer, nil, CollateralDeposit{MarketIndex: 0, Amount: 5_000_000}); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}
	txs := f.ledger.Sent()
	if len(txs) != 1 || len(txs[0].Message.Instructions) != 3 {
		t.Fatalf("sent %d transactions", len(txs))
	}
	deposit := txs[0].Message.Instructions[2]
	if len(deposit.Accounts) != 9 {
		t.Fatalf("deposit has %d accounts, want 7 fixed + oracle + market", len(deposit.Accounts))
	}
	want := codec.InstructionDiscriminator("deposit")
	if len(deposit.Data) != 19 || string(deposit.Data[:8]) != string(want[:]) {
		t.Fatalf("deposit data = %x", []byte(deposit.Data))
	}

	var user codec.User
	user.Authority = signer.PublicKey()
	user.SpotPositions[0] = codec.SpotPosition{MarketIndex: 1, ScaledBalance: 10}
	data, err := codec.UserSchema.Encode(&user)
	if err != nil {
		t.Fatalf("encode user: %v", err)
	}
	userAddress, _, _ := DeriveUserAddress(testProgramID, signer.PublicKey(), 0)
	f.ledger.SetAccount(userAddress, testProgramID, data)
	statsAddress, _, _ := DeriveUserStatsAddress(testProgramID, signer.PublicKey())
	f.ledger.SetAccount(statsAddress, testProgramID, []byte{1})

	instructions, err := f.client.BuildCollateralDeposit(ctx, signer.PublicKey(), nil, CollateralDeposit{MarketIndex: 0, Amount: 1})
	if err != nil {
		t.Fatalf("BuildCollateralDeposit: %v", err)
	}
	if len(instructions) != 1 {
		t.Fatalf("instructions = %d, want deposit only", len(instructions))
	}
	metas := instructions[0].Accounts()
	if len(metas) != 11 {
		t.Fatalf("deposit has %d accounts, want 7 fixed + 2 oracles + 2 markets", len(metas))
	}
	spot0, _, _ := DeriveSpotMarketAddress(testProgramID, 0)
	if !metas[9].PublicKey.Equals(spot0) || !metas[9].IsWritable || metas[10].IsWritable {
		t.Fatalf("spot market metas = %+v, %+v", metas[9], metas[10])
	}
}
