package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slide-labs/slide-socialfi/internal/codec"
)

// NameLen is the fixed width of an encoded vault name.
const NameLen = 32

var (
	// ErrNameTooLong rejects names over NameLen bytes; names are never truncated.
	ErrNameTooLong = codec.ErrNameTooLong
	ErrInvalidName = errors.New("invalid vault name")
)

// EncodeName pads name with spaces to NameLen bytes. Empty names and names
// with trailing spaces are rejected so that DecodeName is an exact inverse.
func EncodeName(name string) ([NameLen]byte, error) {
	if name == "" {
		return [NameLen]byte{}, fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.TrimRight(name, " \x00") != name {
		return [NameLen]byte{}, fmt.Errorf("%w: %q has trailing filler", ErrInvalidName, name)
	}
	return codec.EncodeName(name)
}

func DecodeName(encoded [NameLen]byte) string {
	return codec.DecodeName(encoded)
}
