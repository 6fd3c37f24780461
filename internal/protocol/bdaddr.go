package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BdAddr is a 6 byte Bluetooth device address. The array holds the least
// significant octet first, the reverse of the textual "aa:bb:cc:dd:ee:ff" form.
type BdAddr [6]byte

// ParseBdAddr parses the colon separated textual form of an address.
func ParseBdAddr(s string) (BdAddr, error) {
	var addr BdAddr
	parts := strings.Split(s, ":")
	if len(parts) != len(addr) {
		return addr, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return addr, errors.Wrapf(ErrInvalidAddress, "%q", s)
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return addr, errors.Wrapf(ErrInvalidAddress, "%q", s)
		}
		addr[len(addr)-1-i] = b[0]
	}
	return addr, nil
}

// MustParseBdAddr is like ParseBdAddr but panics on malformed input.
func MustParseBdAddr(s string) BdAddr {
	addr, err := ParseBdAddr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a BdAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[5], a[4], a[3], a[2], a[1], a[0])
}

// IsZero reports whether the address is all zero bytes.
func (a BdAddr) IsZero() bool {
	return a == BdAddr{}
}

func (a BdAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *BdAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseBdAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
