package codec

import (
	"errors"
	"fmt"
	"strings"
)

const nameFiller = ' '

var ErrNameTooLong = errors.New("name longer than 32 bytes")

// EncodeName stores name as UTF-8 right-padded with spaces to 32 bytes.
func EncodeName(name string) ([32]byte, error) {
	var out [32]byte
	if len(name) > len(out) {
		return out, fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, name, len(name))
	}
	n := copy(out[:], name)
	for i := n; i < len(out); i++ {
		out[i] = nameFiller
	}
	return out, nil
}

// DecodeName drops the space filler. NUL bytes are accepted as filler too,
// since some accounts are created with zeroed names.
func DecodeName(raw [32]byte) string {
	return strings.TrimRight(string(raw[:]), " \x00")
}
