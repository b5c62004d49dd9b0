package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/slide-labs/slide-socialfi/internal/config"
	"github.com/slide-labs/slide-socialfi/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultctl",
		Short:        "Inspect and use vaults on the perpetuals exchange",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	vaultsCmd := &cobra.Command{Use: "vaults", Short: "List vaults and their TVL"}
	vaultsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every vault, largest TVL first",
			Args:  cobra.NoArgs,
			RunE:  runVaultsList,
		},
		&cobra.Command{
			Use:   "tvl",
			Short: "Print the total TVL across vaults",
			Args:  cobra.NoArgs,
			RunE:  runVaultsTVL,
		},
	)
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a vault managed by the signer",
		Args:  cobra.ExactArgs(1),
		RunE:  runVaultsCreate,
	}
	createCmd.Flags().String("market", "USDC", "deposit spot market (symbol or index)")
	createCmd.Flags().Duration("redeem-period", 24*time.Hour, "wait between a withdrawal request and the withdrawal")
	createCmd.Flags().String("max-tokens", "0", "deposit cap in token units (0 for none)")
	createCmd.Flags().String("min-deposit", "0", "minimum deposit in token units")
	createCmd.Flags().String("management-fee", "0", "yearly management fee as a fraction")
	createCmd.Flags().String("profit-share", "0", "manager share of profits as a fraction")
	createCmd.Flags().String("hurdle-rate", "0", "return below which no profit share is taken, as a fraction")
	createCmd.Flags().Bool("permissioned", false, "only allow depositors approved by the manager")
	vaultsCmd.AddCommand(createCmd)
	root.AddCommand(vaultsCmd)

	priceCmd := &cobra.Command{Use: "price", Short: "Quote market prices"}
	priceCmd.AddCommand(
		&cobra.Command{
			Use:   "bbo <symbol>",
			Short: "Best bid and ask of a perp market",
			Args:  cobra.ExactArgs(1),
			RunE:  runPriceBBO,
		},
		&cobra.Command{
			Use:   "spot-entry <market-index> [openbook-market]",
			Short: "Estimated entry price of a spot market",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  runPriceSpotEntry,
		},
	)
	root.AddCommand(priceCmd)

	depositCmd := &cobra.Command{
		Use:   "deposit <vault> <amount>",
		Short: "Deposit into a vault, creating the depositor record when needed",
		Args:  cobra.ExactArgs(2),
		RunE:  runDeposit,
	}
	withdrawCmd := &cobra.Command{
		Use:   "withdraw <vault>",
		Short: "Complete a pending withdrawal",
		Args:  cobra.ExactArgs(1),
		RunE:  runWithdraw,
	}
	requestCmd := &cobra.Command{
		Use:   "request-withdraw <vault> <amount>",
		Short: "Request a withdrawal from a vault",
		Args:  cobra.ExactArgs(2),
		RunE:  runRequestWithdraw,
	}
	requestCmd.Flags().String("unit", "token", "amount unit (token, shares, shares_percent)")
	for _, cmd := range []*cobra.Command{depositCmd, withdrawCmd, requestCmd} {
		root.AddCommand(cmd)
	}

	collateralCmd := &cobra.Command{Use: "collateral", Short: "Move funds in and out of the signer's exchange account"}
	collateralDepositCmd := &cobra.Command{
		Use:   "deposit <spot-market> <amount>",
		Short: "Deposit tokens into the signer's exchange account, creating it when needed",
		Args:  cobra.ExactArgs(2),
		RunE:  runCollateralDeposit,
	}
	collateralDepositCmd.Flags().String("referrer", "", "referrer name used when the account is created (defaults to REFERRER_NAME)")
	collateralDepositCmd.Flags().Bool("reduce-only", false, "only reduce an existing borrow")
	collateralCmd.AddCommand(collateralDepositCmd)
	root.AddCommand(collateralCmd)

	for _, cmd := range []*cobra.Command{depositCmd, withdrawCmd, requestCmd, createCmd, collateralDepositCmd} {
		cmd.Flags().Bool("confirm", false, "wait for confirmation after sending")
		cmd.Flags().Bool("dry-run", false, "print the plan without signing or sending")
	}

	userCmd := &cobra.Command{Use: "user", Short: "Manage the exchange account of the signer"}
	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the signer's exchange account when it does not exist",
		Args:  cobra.NoArgs,
		RunE:  runUserEnsure,
	}
	ensureCmd.Flags().String("referrer", "", "referrer name (defaults to REFERRER_NAME)")
	userCmd.AddCommand(ensureCmd)
	root.AddCommand(userCmd)

	addressCmd := &cobra.Command{Use: "address", Short: "Derive program addresses"}
	addressCmd.AddCommand(&cobra.Command{
		Use:   "vault <name>",
		Short: "Derive the vault address for a name",
		Args:  cobra.ExactArgs(1),
		RunE:  runAddressVault,
	})
	root.AddCommand(addressCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads the client configuration and a stderr logger so stdout carries
// only command output.
func setup(cmd *cobra.Command) (config.ClientConfig, *slog.Logger, func(), error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return config.ClientConfig{}, nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logger, closeLogger, err := logging.New("vaultctl", cfg.Log)
	if err != nil {
		return config.ClientConfig{}, nil, nil, err
	}
	return cfg, logger, func() {
		if err := closeLogger(); err != nil {
			fmt.Fprintln(os.Stderr, "close logger:", err)
		}
	}, nil
}

func printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
