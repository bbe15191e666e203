/*
Package address maps between human-readable Bitcoin addresses and the
canonical 32-byte recipient representation carried in cross-chain order
outputs.

The on-chain side cannot hold a variable-length address string, so an
output stores the raw hash/witness program left-aligned in 32 bytes plus
an address-type version byte inside the token field. Decode rebuilds the
address for a given network; EncodeRecipient is the inverse.
*/
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
)

var ErrUnsupportedAddressType = errors.New("unsupported bitcoin address type")

// Decode turns a 32-byte recipient value and an address-type version into
// an address string on the given network.
//
// P2PKH/P2SH/P2WPKH use the first 20 bytes of the recipient; P2WSH and
// P2TR use all 32.
func Decode(version common.BtcAddressVersion, recipient [32]byte, params *chaincfg.Params) (string, error) {
	switch version {
	case common.BtcAddressP2PKH:
		addr, err := btcutil.NewAddressPubKeyHash(recipient[:20], params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case common.BtcAddressP2SH:
		addr, err := btcutil.NewAddressScriptHashFromHash(recipient[:20], params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case common.BtcAddressP2WPKH:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(recipient[:20], params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case common.BtcAddressP2WSH:
		addr, err := btcutil.NewAddressWitnessScriptHash(recipient[:], params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case common.BtcAddressP2TR:
		addr, err := btcutil.NewAddressTaproot(recipient[:], params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	default:
		return "", fmt.Errorf("%w: version %d", ErrUnsupportedAddressType, version)
	}
}

// EncodeRecipient converts an address string into the 32-byte recipient
// value plus its address-type version. 20-byte hashes are right-padded
// with zeros; 32-byte witness programs pass through.
//
// Round-trips with Decode for the same network.
func EncodeRecipient(addr string, params *chaincfg.Params) ([32]byte, common.BtcAddressVersion, error) {
	var recipient [32]byte

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return recipient, common.BtcAddressUnknown, err
	}

	switch a := decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		copy(recipient[:], a.Hash160()[:])
		return recipient, common.BtcAddressP2PKH, nil
	case *btcutil.AddressScriptHash:
		copy(recipient[:], a.Hash160()[:])
		return recipient, common.BtcAddressP2SH, nil
	case *btcutil.AddressWitnessPubKeyHash:
		copy(recipient[:], a.WitnessProgram())
		return recipient, common.BtcAddressP2WPKH, nil
	case *btcutil.AddressWitnessScriptHash:
		copy(recipient[:], a.WitnessProgram())
		return recipient, common.BtcAddressP2WSH, nil
	case *btcutil.AddressTaproot:
		copy(recipient[:], a.WitnessProgram())
		return recipient, common.BtcAddressP2TR, nil
	default:
		return recipient, common.BtcAddressUnknown,
			fmt.Errorf("%w: %T", ErrUnsupportedAddressType, decoded)
	}
}
