/*
Bitcoin-bound outputs overload the 32-byte token field of a MandateOutput:
the first 30 bytes carry a fixed sentinel, byte 31 the required number of
confirmations and byte 32 the Bitcoin address-type version.
*/
package common

import (
	"bytes"
	"errors"
)

// BtcAddressVersion enumerates the address-type byte of a Bitcoin token.
type BtcAddressVersion byte

const (
	BtcAddressUnknown BtcAddressVersion = iota
	BtcAddressP2PKH
	BtcAddressP2SH
	BtcAddressP2WPKH
	BtcAddressP2WSH
	BtcAddressP2TR
)

// BitcoinTokenSentinel is the 30-byte prefix that marks an output token
// as a Bitcoin payment instead of an ERC-20 address.
var BitcoinTokenSentinel = HexStrToByteSlice(
	"000000000000000000000000BC0000000000000000000000000000000000",
)

var ErrUnexpectedTokenLength = errors.New("unexpected token length")

// IsBitcoinToken reports whether the token carries the Bitcoin sentinel.
// A token of any length other than 32 bytes is an invariant violation
// and yields ErrUnexpectedTokenLength.
func IsBitcoinToken(token []byte) (bool, error) {
	if len(token) != 32 {
		return false, ErrUnexpectedTokenLength
	}
	return bytes.Equal(token[:30], BitcoinTokenSentinel), nil
}

// TokenConfirmations returns the confirmation count encoded in byte 31.
func TokenConfirmations(token []byte) int {
	return int(token[30])
}

// TokenAddressVersion returns the address-type version encoded in byte 32.
func TokenAddressVersion(token []byte) BtcAddressVersion {
	return BtcAddressVersion(token[31])
}

// MakeBitcoinToken assembles a Bitcoin output token from a confirmation
// count and an address-type version.
func MakeBitcoinToken(confirmations int, version BtcAddressVersion) []byte {
	token := make([]byte, 32)
	copy(token, BitcoinTokenSentinel)
	token[30] = byte(confirmations)
	token[31] = byte(version)
	return token
}

// SatoshiToBtc returns a human-readable amount in BTC.
// eg. 1e8 (satoshi) = 1.0 (BTC)
func SatoshiToBtc(sats int64) float64 {
	return float64(sats) / 1e8
}
