package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// keyring holds the wallet's account node and derives per-index keys
// and addresses from it. Index 0 is the change address; deposit
// addresses start at index 1.
type keyring struct {
	account *hdkeychain.ExtendedKey
	params  *chaincfg.Params
}

// newKeyring derives the account node m/44'/0'/0' from a BIP32 root
// xpriv.
func newKeyring(xpriv string, params *chaincfg.Params) (*keyring, error) {
	root, err := hdkeychain.NewKeyFromString(xpriv)
	if err != nil {
		return nil, err
	}
	if !root.IsPrivate() {
		return nil, ErrInvalidXPriv
	}

	account := root
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 0,
		hdkeychain.HardenedKeyStart + 0,
	} {
		if account, err = account.Derive(step); err != nil {
			return nil, err
		}
	}

	return &keyring{account: account, params: params}, nil
}

func (k *keyring) privKeyAt(index uint32) (*btcec.PrivateKey, error) {
	child, err := k.account.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPrivKey()
}

// addressAt returns the P2WPKH address of the given derivation index.
func (k *keyring) addressAt(index uint32) (string, error) {
	child, err := k.account.Derive(index)
	if err != nil {
		return "", err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), k.params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// pkScriptAt returns the locking script of the given derivation index.
func (k *keyring) pkScriptAt(index uint32) ([]byte, error) {
	addrStr, err := k.addressAt(index)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(addrStr, k.params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
