package markets

import (
	"errors"
	"testing"
)

func TestLoadEmbeddedCatalogs(t *testing.T) {
	for _, env := range []string{"mainnet-beta", "devnet"} {
		reg, err := Load(env)
		if err != nil {
			t.Fatalf("Load(%s): %v", env, err)
		}
		if len(reg.Spot()) == 0 || len(reg.Perp()) == 0 {
			t.Fatalf("%s: empty catalog", env)
		}
		usdc, ok := reg.FindSpot(ByIndex(0))
		if !ok || usdc.Symbol != "USDC" || usdc.Oracle.Source != OracleSourceQuoteAsset || usdc.Decimals != 6 {
			t.Fatalf("%s: quote market = %+v, %v", env, usdc, ok)
		}
	}

	if _, err := Load("localnet"); !errors.Is(err, ErrUnknownEnvironment) {
		t.Fatalf("err = %v, want ErrUnknownEnvironment", err)
	}
}

func TestFindPerp(t *testing.T) {
	reg, err := Load("mainnet-beta")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name  string
		query Query
		want  string
		found bool
	}{
		{name: "base symbol", query: BySymbol("SOL"), want: "SOL-PERP", found: true},
		{name: "full symbol", query: BySymbol("BTC-PERP"), want: "BTC-PERP", found: true},
		{name: "index", query: ByIndex(2), want: "ETH-PERP", found: true},
		{name: "unknown symbol", query: BySymbol("DOGE")},
		{name: "unknown index", query: ByIndex(999)},
		{name: "empty query", query: Query{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reg.FindPerp(tt.query)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && (got.Symbol != tt.want || got.Kind != KindPerp) {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestFindSpotBySymbolOrIndex(t *testing.T) {
	reg, err := Load("mainnet-beta")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	idx := uint16(1)
	got, ok := reg.FindSpot(Query{Symbol: "nope", Index: &idx})
	if !ok || got.Symbol != "SOL" || got.Decimals != 9 || got.OpenBookMarket.IsZero() {
		t.Fatalf("got %+v, %v", got, ok)
	}
	if got.Oracle.FeedID[0] != 0xef {
		t.Fatalf("feed id = %x", got.Oracle.FeedID)
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"source": "spot:\n  - symbol: X\n    oracle: {source: chainlink, feed_id: " + zeroFeed + "}\n",
		"feed":   "spot:\n  - symbol: X\n    oracle: {source: pyth_pull, feed_id: abc}\n",
		"symbol": "perp:\n  - index: 3\n    oracle: {source: pyth_pull, feed_id: " + zeroFeed + "}\n",
		"mint":   "spot:\n  - symbol: X\n    mint: not-a-key\n    oracle: {source: pyth_pull, feed_id: " + zeroFeed + "}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse("test", []byte(body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

const zeroFeed = "0000000000000000000000000000000000000000000000000000000000000000"
