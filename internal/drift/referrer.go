package drift

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/codec"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

// ReferrerRegistry resolves referral names registered with the exchange.
type ReferrerRegistry struct {
	programID solana.PublicKey
	ledger    chain.Ledger
	logger    *slog.Logger
}

func NewReferrerRegistry(programID solana.PublicKey, ledger chain.Ledger, logger *slog.Logger) *ReferrerRegistry {
	return &ReferrerRegistry{
		programID: programID,
		ledger:    ledger,
		logger:    logging.OrDiscard(logger).With("component", "referrer_registry"),
	}
}

// Lookup never fails: an unknown name or any read error means no referrer.
func (r *ReferrerRegistry) Lookup(ctx context.Context, name string) (ReferrerInfo, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ReferrerInfo{}, false
	}
	encoded, err := codec.EncodeName(name)
	if err != nil {
		r.logger.Warn("referrer name rejected", "name", name, "err", err)
		return ReferrerInfo{}, false
	}
	address, _, err := DeriveReferrerNameAddress(r.programID, encoded)
	if err != nil {
		r.logger.Warn("derive referrer name address failed", "name", name, "err", err)
		return ReferrerInfo{}, false
	}

	acct, err := r.ledger.GetAccount(ctx, address)
	if err != nil {
		r.logger.Info("referrer lookup failed", "name", name, "address", address, "err", err)
		return ReferrerInfo{}, false
	}
	decoded, err := codec.ReferrerNameSchema.DecodeData(acct.Data)
	if err != nil {
		r.logger.Warn("referrer name account undecodable", "name", name, "address", address, "err", err)
		return ReferrerInfo{}, false
	}
	return ReferrerInfo{Referrer: decoded.User, ReferrerStats: decoded.UserStats}, true
}
