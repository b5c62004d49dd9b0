package main

import (
	"testing"

	"github.com/slide-labs/slide-socialfi/internal/markets"
)

func TestToFeeUnits(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint32
		wantErr bool
	}{
		{raw: "0.025", want: 250},
		{raw: "0.15", want: 1500},
		{raw: "0", want: 0},
		{raw: "1", want: 10_000},
		{raw: "0.00001", wantErr: true},
		{raw: "1.5", wantErr: true},
		{raw: "-0.1", wantErr: true},
		{raw: "ten", wantErr: true},
	}
	for _, tt := range tests {
		got, err := toFeeUnits(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("toFeeUnits(%q) = %d, want error", tt.raw, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("toFeeUnits(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
		}
	}
}

func TestOptionalBaseUnitsAcceptsZero(t *testing.T) {
	if got, err := optionalBaseUnits("0", 6); err != nil || got != 0 {
		t.Fatalf("optionalBaseUnits(0) = %d, %v", got, err)
	}
	if got, err := optionalBaseUnits("2.5", 6); err != nil || got != 2_500_000 {
		t.Fatalf("optionalBaseUnits(2.5) = %d, %v", got, err)
	}
	if _, err := optionalBaseUnits("-1", 6); err == nil {
		t.Fatal("negative amount accepted")
	}
}

func TestSpotMarketArg(t *testing.T) {
	registry, err := markets.Load("devnet")
	if err != nil {
		t.Fatalf("markets.Load: %v", err)
	}

	bySymbol, err := spotMarketArg(registry, "sol")
	if err != nil {
		t.Fatalf("spotMarketArg(sol): %v", err)
	}
	byIndex, err := spotMarketArg(registry, "1")
	if err != nil {
		t.Fatalf("spotMarketArg(1): %v", err)
	}
	if bySymbol.Index != 1 || byIndex.Symbol != bySymbol.Symbol {
		t.Fatalf("sol = %+v, index 1 = %+v", bySymbol, byIndex)
	}
	if _, err := spotMarketArg(registry, "NOPE"); err == nil {
		t.Fatal("unknown market resolved")
	}
}
