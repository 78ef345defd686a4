package chain

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// hex digit bounds after the 0x prefix
type hexBounds struct {
	min, max int
}

var hexRules = map[Chain]hexBounds{
	// 20 bytes; one leading zero nibble may be dropped
	Ethereum: {min: 39, max: 40},
	// felt252, commonly written without leading zeros
	Starknet: {min: 50, max: 64},
}

const (
	solanaMinLen     = 32
	solanaMaxLen     = 44
	solanaPubkeySize = 32
)

// Validate checks that address is well formed for c. It performs no I/O.
func Validate(c Chain, address string) error {
	if address == "" {
		return &ValidationError{Chain: c, Address: address, Reason: "address is empty"}
	}

	switch c.Family() {
	case FamilyEVM, FamilyStarknet:
		return validateHex(c, address)
	case FamilySolana:
		return validateBase58(c, address)
	case FamilyCosmos:
		return validateBech32(c, address)
	default:
		return &ValidationError{Chain: c, Address: address, Reason: "unsupported chain"}
	}
}

func validateHex(c Chain, address string) error {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return &ValidationError{Chain: c, Address: address, Reason: "missing 0x prefix"}
	}
	digits := address[2:]
	bounds := hexRules[c]
	if len(digits) < bounds.min || len(digits) > bounds.max {
		return &ValidationError{Chain: c, Address: address, Reason: "wrong length"}
	}
	for _, r := range digits {
		if !isHexDigit(r) {
			return &ValidationError{Chain: c, Address: address, Reason: "non-hex character"}
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func validateBase58(c Chain, address string) error {
	if len(address) < solanaMinLen || len(address) > solanaMaxLen {
		return &ValidationError{Chain: c, Address: address, Reason: "wrong length"}
	}
	// base58.Decode returns an empty slice for characters outside the alphabet
	decoded := base58.Decode(address)
	if len(decoded) == 0 {
		return &ValidationError{Chain: c, Address: address, Reason: "not base58"}
	}
	if len(decoded) != solanaPubkeySize {
		return &ValidationError{Chain: c, Address: address, Reason: "not a 32-byte public key"}
	}
	return nil
}

func validateBech32(c Chain, address string) error {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return &ValidationError{Chain: c, Address: address, Reason: "not bech32: " + err.Error()}
	}
	if want := bech32Prefixes[c]; hrp != want {
		return &ValidationError{Chain: c, Address: address, Reason: "expected prefix " + want}
	}
	if len(data) == 0 {
		return &ValidationError{Chain: c, Address: address, Reason: "empty payload"}
	}
	return nil
}
