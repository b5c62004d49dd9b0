package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/slide-labs/slide-socialfi/internal/config"
)

// ComputeBudgetInstructions returns the compute unit limit and price
// instructions enabled in cfg, in that order.
func ComputeBudgetInstructions(cfg config.TxConfig) ([]solana.Instruction, error) {
	var out []solana.Instruction
	if cfg.ComputeUnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, ix)
	}
	if cfg.ComputeUnitPriceMicroLamports > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// AssembleTransaction fetches a fresh blockhash and builds an unsigned
// transaction paid by payer.
func AssembleTransaction(ctx context.Context, ledger Ledger, payer solana.PublicKey, instructions []solana.Instruction) (*solana.Transaction, error) {
	blockhash, err := ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}
