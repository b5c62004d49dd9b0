package vault

import (
	"github.com/gagliardetto/solana-go"
)

func DeriveVaultAddress(programID solana.PublicKey, encodedName [NameLen]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault"), encodedName[:]}, programID)
}

func DeriveTokenVaultAddress(programID, vault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_token_account"), vault.Bytes()}, programID)
}

func DeriveDepositorAddress(programID, vault, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault_depositor"), vault.Bytes(), authority.Bytes()}, programID)
}

// AddressForName encodes name and derives its vault address.
func AddressForName(programID solana.PublicKey, name string) (solana.PublicKey, error) {
	encoded, err := EncodeName(name)
	if err != nil {
		return solana.PublicKey{}, err
	}
	address, _, err := DeriveVaultAddress(programID, encoded)
	return address, err
}
