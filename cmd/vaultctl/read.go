package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/slide-labs/slide-socialfi/internal/chain"
	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/markets"
	"github.com/slide-labs/slide-socialfi/internal/session"
	"github.com/slide-labs/slide-socialfi/internal/vault"
)

type vaultView struct {
	Name                    string          `json:"name"`
	Address                 string          `json:"address"`
	TVL                     decimal.Decimal `json:"tvl"`
	TotalDeposits           decimal.Decimal `json:"totalDeposits"`
	TotalWithdraws          decimal.Decimal `json:"totalWithdraws"`
	CreatedAt               int64           `json:"createdAt"`
	TokenAccount            string          `json:"tokenAccount"`
	TotalShares             decimal.Decimal `json:"totalShares"`
	ManagementFee           decimal.Decimal `json:"managementFee"`
	Manager                 string          `json:"manager"`
	MaxTokens               decimal.Decimal `json:"maxTokens"`
	ManagerTotalProfitShare decimal.Decimal `json:"managerTotalProfitShare"`
	ProfitShare             decimal.Decimal `json:"profitShare"`
	SpotMarketIndex         uint16          `json:"spotMarketIndex"`
	MinDepositAmount        decimal.Decimal `json:"minDepositAmount"`
	IsPrivate               bool            `json:"isPrivate"`
}

func newVaultView(d vault.Descriptor) vaultView {
	return vaultView{
		Name:                    d.Name,
		Address:                 d.Address.String(),
		TVL:                     d.TVL,
		TotalDeposits:           d.TotalDeposits,
		TotalWithdraws:          d.TotalWithdraws,
		CreatedAt:               d.CreatedAt,
		TokenAccount:            d.TokenAccount.String(),
		TotalShares:             d.TotalShares,
		ManagementFee:           d.ManagementFee,
		Manager:                 d.Manager.String(),
		MaxTokens:               d.MaxTokens,
		ManagerTotalProfitShare: d.ManagerTotalProfitShare,
		ProfitShare:             d.ProfitShare,
		SpotMarketIndex:         d.SpotMarketIndex,
		MinDepositAmount:        d.MinDepositAmount,
		IsPrivate:               d.Permissioned,
	}
}

func runVaultsList(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLogger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLogger()

	ledger := chain.NewRPCLedger(cfg.Env, cfg.RPCTimeout, cfg.Tx, logger)
	vaults, err := vault.NewLister(cfg.Env.VaultProgramID, ledger, logger).List(cmd.Context())
	if err != nil {
		return err
	}
	views := make([]vaultView, 0, len(vaults))
	for _, v := range vaults {
		views = append(views, newVaultView(v))
	}
	return printJSON(cmd, views)
}

func runVaultsTVL(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLogger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLogger()

	ledger := chain.NewRPCLedger(cfg.Env, cfg.RPCTimeout, cfg.Tx, logger)
	total, err := vault.NewLister(cfg.Env.VaultProgramID, ledger, logger).TotalTVL(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]decimal.Decimal{"tvl": total})
}

func openSession(cmd *cobra.Command, cfg config.ClientConfig, logger *slog.Logger) (*session.Session, error) {
	return session.Open(cmd.Context(), session.Options{
		Env:        cfg.Env,
		RPCTimeout: cfg.RPCTimeout,
		Cache:      cfg.Cache,
		Tx:         cfg.Tx,
	}, logger)
}

func runPriceBBO(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLogger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLogger()

	sess, err := openSession(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close session", "err", err)
		}
	}()

	quote, ok := sess.Prices.BestBidAsk(args[0])
	if !ok {
		return fmt.Errorf("no quote for %s", args[0])
	}
	return printJSON(cmd, map[string]any{
		"symbol": args[0],
		"bid":    quote.Bid,
		"ask":    quote.Ask,
		"mid":    quote.Mid(),
	})
}

func runPriceSpotEntry(cmd *cobra.Command, args []string) error {
	index, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid market index %q: %w", args[0], err)
	}

	cfg, logger, closeLogger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLogger()

	sess, err := openSession(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close session", "err", err)
		}
	}()

	book, err := openBookMarket(sess.Registry, uint16(index), args[1:])
	if err != nil {
		return err
	}
	price, ok, err := sess.Prices.EstimatedSpotEntryPrice(cmd.Context(), uint16(index), book)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no entry price for spot market %d", index)
	}
	return printJSON(cmd, map[string]any{"marketIndex": index, "openbookMarket": book.String(), "price": price})
}

// openBookMarket takes the explicit argument or falls back to the catalog.
func openBookMarket(registry *markets.Registry, index uint16, args []string) (solana.PublicKey, error) {
	if len(args) > 0 {
		key, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid openbook market %q: %w", args[0], err)
		}
		return key, nil
	}
	desc, ok := registry.FindSpot(markets.ByIndex(index))
	if !ok || desc.OpenBookMarket.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("spot market %d has no openbook market in the %s catalog", index, registry.Environment())
	}
	return desc.OpenBookMarket, nil
}

func runAddressVault(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	address, err := vault.AddressForName(cfg.VaultProgramID, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{"name": args[0], "address": address.String()})
}
