// Package indexer periodically lists every vault and records its state and a
// snapshot row in the store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
	"github.com/slide-labs/slide-socialfi/internal/store"
	"github.com/slide-labs/slide-socialfi/internal/vault"
)

type VaultLister interface {
	List(ctx context.Context) ([]vault.Descriptor, error)
}

type SlotSource interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// Sink persists one sync pass atomically.
type Sink interface {
	SaveSync(ctx context.Context, slot uint64, vaults []store.VaultRecord, now int64) error
}

type Service struct {
	cfg    config.IndexerConfig
	lister VaultLister
	slots  SlotSource
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg config.IndexerConfig, lister VaultLister, slots SlotSource, sink Sink, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		lister: lister,
		slots:  slots,
		sink:   sink,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("indexer started",
		"env", s.cfg.Env.Name,
		"rpc", s.cfg.Env.RPCURL,
		"vault_program", s.cfg.Env.VaultProgramID,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.SyncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

// SyncOnce lists vaults and stores them with one snapshot row each.
func (s *Service) SyncOnce(ctx context.Context) error {
	started := s.now()

	slot, err := s.slots.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	vaults, err := s.lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list vaults: %w", err)
	}

	now := started.Unix()
	records := make([]store.VaultRecord, 0, len(vaults))
	for _, v := range vaults {
		records = append(records, toRecord(v, now))
	}
	if err := s.sink.SaveSync(ctx, slot, records, now); err != nil {
		return fmt.Errorf("save sync: %w", err)
	}

	s.logger.Info("sync completed",
		"slot", slot,
		"vaults", len(records),
		"tvl", vault.TotalTVL(vaults).String(),
		"elapsed", time.Since(started).String(),
	)
	return nil
}

func toRecord(v vault.Descriptor, now int64) store.VaultRecord {
	return store.VaultRecord{
		Address:                 v.Address.String(),
		Name:                    v.Name,
		Manager:                 v.Manager.String(),
		TokenAccount:            v.TokenAccount.String(),
		SpotMarketIndex:         v.SpotMarketIndex,
		TVL:                     v.TVL,
		TotalDeposits:           v.TotalDeposits,
		TotalWithdraws:          v.TotalWithdraws,
		TotalShares:             v.TotalShares,
		MaxTokens:               v.MaxTokens,
		MinDepositAmount:        v.MinDepositAmount,
		ManagerTotalProfitShare: v.ManagerTotalProfitShare,
		ManagementFee:           v.ManagementFee,
		ProfitShare:             v.ProfitShare,
		IsPrivate:               v.Permissioned,
		CreatedAt:               v.CreatedAt,
		UpdatedAt:               now,
	}
}
