package drift

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

func DeriveUserAddress(programID, authority solana.PublicKey, subAccountID uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("user"), authority.Bytes(), u16LE(subAccountID)}, programID)
}

func DeriveUserStatsAddress(programID, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("user_stats"), authority.Bytes()}, programID)
}

func DeriveStateAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("drift_state")}, programID)
}

func DeriveSignerAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("drift_signer")}, programID)
}

func DeriveSpotMarketAddress(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("spot_market"), u16LE(marketIndex)}, programID)
}

func DeriveSpotMarketVaultAddress(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("spot_market_vault"), u16LE(marketIndex)}, programID)
}

func DerivePerpMarketAddress(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("perp_market"), u16LE(marketIndex)}, programID)
}

func DeriveReferrerNameAddress(programID solana.PublicKey, name [32]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("referrer_name"), name[:]}, programID)
}

// DerivePythPushOracleAddress returns the price feed account the Pyth push
// oracle program maintains for feedID on shard.
func DerivePythPushOracleAddress(shard uint16, feedID [32]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{u16LE(shard), feedID[:]}, codec.PythPushOracleProgramID)
}

func u16LE(value uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}
