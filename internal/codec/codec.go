// Package codec holds the binary layouts of every account and instruction the
// client touches. Anchor accounts are borsh encoded behind an 8-byte
// discriminator; OpenBook and Pyth accounts have their own framing.
package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/slide-labs/slide-socialfi/internal/chain"
)

var (
	ErrDecode                = errors.New("decode account")
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
)

const discriminatorLen = 8

func AccountDiscriminator(name string) [8]byte {
	return anchorDiscriminator("account:" + name)
}

func InstructionDiscriminator(name string) [8]byte {
	return anchorDiscriminator("global:" + name)
}

func anchorDiscriminator(preimage string) [8]byte {
	hash := sha256.Sum256([]byte(preimage))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// AnchorSchema decodes one anchor account type. Layouts may be a prefix of the
// on-chain struct; trailing bytes are ignored.
type AnchorSchema[T any] struct {
	account       string
	discriminator [8]byte
}

func NewAnchorSchema[T any](account string) AnchorSchema[T] {
	return AnchorSchema[T]{account: account, discriminator: AccountDiscriminator(account)}
}

func (s AnchorSchema[T]) Name() string { return s.account }

func (s AnchorSchema[T]) Discriminator() [8]byte { return s.discriminator }

func (s AnchorSchema[T]) Decode(acct *chain.Account) (any, error) {
	if acct == nil {
		return nil, fmt.Errorf("%w: %s: nil account", ErrDecode, s.account)
	}
	return s.DecodeData(acct.Data)
}

func (s AnchorSchema[T]) DecodeData(data []byte) (*T, error) {
	if len(data) < discriminatorLen {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrDecode, s.account, len(data))
	}
	if !bytes.Equal(data[:discriminatorLen], s.discriminator[:]) {
		return nil, fmt.Errorf("%w: want %s", ErrDiscriminatorMismatch, s.account)
	}
	out := new(T)
	if err := bin.NewBorshDecoder(data[discriminatorLen:]).Decode(out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, s.account, err)
	}
	return out, nil
}

// Encode produces account data in the same layout, discriminator included.
func (s AnchorSchema[T]) Encode(v *T) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(s.discriminator[:])
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.account, err)
	}
	return buf.Bytes(), nil
}

// InstructionData serializes an anchor instruction: discriminator followed by
// the borsh-encoded arguments in declaration order.
func InstructionData(name string, args ...any) ([]byte, error) {
	disc := InstructionDiscriminator(name)
	var buf bytes.Buffer
	buf.Write(disc[:])
	enc := bin.NewBorshEncoder(&buf)
	for i, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return nil, fmt.Errorf("encode %s arg %d: %w", name, i, err)
		}
	}
	return buf.Bytes(), nil
}
