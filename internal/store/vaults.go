package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// VaultRecord is the latest known state of one vault. Amounts are stored as
// decimal text.
type VaultRecord struct {
	Address                 string          `json:"address"`
	Name                    string          `json:"name"`
	Manager                 string          `json:"manager"`
	TokenAccount            string          `json:"tokenAccount"`
	SpotMarketIndex         uint16          `json:"spotMarketIndex"`
	TVL                     decimal.Decimal `json:"tvl"`
	TotalDeposits           decimal.Decimal `json:"totalDeposits"`
	TotalWithdraws          decimal.Decimal `json:"totalWithdraws"`
	TotalShares             decimal.Decimal `json:"totalShares"`
	MaxTokens               decimal.Decimal `json:"maxTokens"`
	MinDepositAmount        decimal.Decimal `json:"minDepositAmount"`
	ManagerTotalProfitShare decimal.Decimal `json:"managerTotalProfitShare"`
	ManagementFee           decimal.Decimal `json:"managementFee"`
	ProfitShare             decimal.Decimal `json:"profitShare"`
	IsPrivate               bool            `json:"isPrivate"`
	CreatedAt               int64           `json:"createdAt"`
	UpdatedAt               int64           `json:"updatedAt"`
}

type SnapshotRecord struct {
	Address        string          `json:"address"`
	TVL            decimal.Decimal `json:"tvl"`
	TotalDeposits  decimal.Decimal `json:"totalDeposits"`
	TotalWithdraws decimal.Decimal `json:"totalWithdraws"`
	TotalShares    decimal.Decimal `json:"totalShares"`
	RecordedAt     int64           `json:"recordedAt"`
}

func (s *Store) UpsertVaultTx(ctx context.Context, tx *Tx, v VaultRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vaults (
			address, name, manager, token_account, spot_market_index,
			tvl, total_deposits, total_withdraws, total_shares, max_tokens,
			min_deposit_amount, manager_total_profit_share, management_fee, profit_share,
			permissioned, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			manager = excluded.manager,
			token_account = excluded.token_account,
			spot_market_index = excluded.spot_market_index,
			tvl = excluded.tvl,
			total_deposits = excluded.total_deposits,
			total_withdraws = excluded.total_withdraws,
			total_shares = excluded.total_shares,
			max_tokens = excluded.max_tokens,
			min_deposit_amount = excluded.min_deposit_amount,
			manager_total_profit_share = excluded.manager_total_profit_share,
			management_fee = excluded.management_fee,
			profit_share = excluded.profit_share,
			permissioned = excluded.permissioned,
			updated_at = excluded.updated_at
	`,
		v.Address,
		v.Name,
		v.Manager,
		v.TokenAccount,
		int64(v.SpotMarketIndex),
		v.TVL.String(),
		v.TotalDeposits.String(),
		v.TotalWithdraws.String(),
		v.TotalShares.String(),
		v.MaxTokens.String(),
		v.MinDepositAmount.String(),
		v.ManagerTotalProfitShare.String(),
		v.ManagementFee.String(),
		v.ProfitShare.String(),
		boolToInt(v.IsPrivate),
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert vault %s: %w", v.Address, err)
	}
	return nil
}

func (s *Store) InsertSnapshotTx(ctx context.Context, tx *Tx, snap SnapshotRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vault_snapshots (address, tvl, total_deposits, total_withdraws, total_shares, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		snap.Address,
		snap.TVL.String(),
		snap.TotalDeposits.String(),
		snap.TotalWithdraws.String(),
		snap.TotalShares.String(),
		snap.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.Address, err)
	}
	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, slot uint64, vaultCount int, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_slot, vault_count, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_slot = excluded.last_slot,
			vault_count = excluded.vault_count,
			updated_at = excluded.updated_at
	`, int64(slot), int64(vaultCount), now)
	return err
}

const vaultColumns = `
	address, name, manager, token_account, spot_market_index,
	tvl, total_deposits, total_withdraws, total_shares, max_tokens,
	min_deposit_amount, manager_total_profit_share, management_fee, profit_share,
	permissioned, created_at, updated_at
`

// ListVaults returns vaults ordered by TVL, largest first.
func (s *Store) ListVaults(ctx context.Context, limit int) ([]VaultRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vaultColumns+`
		FROM vaults
		ORDER BY CAST(tvl AS NUMERIC) DESC, address ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VaultRecord
	for rows.Next() {
		item, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) GetVault(ctx context.Context, address string) (VaultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE address = ?`, address)
	item, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultRecord{}, ErrNotFound
	}
	return item, err
}

// VaultHistory returns snapshots of one vault, newest first.
func (s *Store) VaultHistory(ctx context.Context, address string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 120
	}
	if limit > 2000 {
		limit = 2000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, tvl, total_deposits, total_withdraws, total_shares, recorded_at
		FROM vault_snapshots
		WHERE address = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var item SnapshotRecord
		var tvl, deposits, withdraws, shares string
		if err := rows.Scan(&item.Address, &tvl, &deposits, &withdraws, &shares, &item.RecordedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			decimalField{&item.TVL, tvl},
			decimalField{&item.TotalDeposits, deposits},
			decimalField{&item.TotalWithdraws, withdraws},
			decimalField{&item.TotalShares, shares},
		); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// TotalTVL sums the TVL of every known vault.
func (s *Store) TotalTVL(ctx context.Context) (decimal.Decimal, int, error) {
	var total string
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CAST(tvl AS NUMERIC)), 0)::TEXT, COUNT(*)
		FROM vaults
	`).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	value, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("parse total tvl %q: %w", total, err)
	}
	return value, count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVault(row rowScanner) (VaultRecord, error) {
	var item VaultRecord
	var spotMarket, permissioned int64
	var tvl, deposits, withdraws, shares, maxTokens, minDeposit, profitShareTotal, fee, profitShare string
	if err := row.Scan(
		&item.Address,
		&item.Name,
		&item.Manager,
		&item.TokenAccount,
		&spotMarket,
		&tvl,
		&deposits,
		&withdraws,
		&shares,
		&maxTokens,
		&minDeposit,
		&profitShareTotal,
		&fee,
		&profitShare,
		&permissioned,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return VaultRecord{}, err
	}
	item.SpotMarketIndex = uint16(spotMarket)
	item.IsPrivate = permissioned != 0
	err := parseDecimals(
		decimalField{&item.TVL, tvl},
		decimalField{&item.TotalDeposits, deposits},
		decimalField{&item.TotalWithdraws, withdraws},
		decimalField{&item.TotalShares, shares},
		decimalField{&item.MaxTokens, maxTokens},
		decimalField{&item.MinDepositAmount, minDeposit},
		decimalField{&item.ManagerTotalProfitShare, profitShareTotal},
		decimalField{&item.ManagementFee, fee},
		decimalField{&item.ProfitShare, profitShare},
	)
	return item, err
}

type decimalField struct {
	dst *decimal.Decimal
	raw string
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// SaveSync upserts every vault, appends a snapshot row per vault and records
// the slot, all in one transaction.
func (s *Store) SaveSync(ctx context.Context, slot uint64, vaults []VaultRecord, now int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, v := range vaults {
			if err := s.UpsertVaultTx(ctx, tx, v); err != nil {
				return err
			}
			if err := s.InsertSnapshotTx(ctx, tx, SnapshotRecord{
				Address:        v.Address,
				TVL:            v.TVL,
				TotalDeposits:  v.TotalDeposits,
				TotalWithdraws: v.TotalWithdraws,
				TotalShares:    v.TotalShares,
				RecordedAt:     now,
			}); err != nil {
				return err
			}
		}
		return s.UpsertSyncStateTx(ctx, tx, slot, len(vaults), now)
	})
}
