/*
This file contains the low-level data structure tracking the wallet's
unspent transaction outputs.
*/
package utxo

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UTXO is one spendable output owned by the wallet engine.
type UTXO struct {
	TxID      string // funding transaction id, human readable
	Vout      uint32 // exact index of the Tx's outputs to be spent
	Value     int64  // in satoshi
	Confirmed bool   // whether the funding tx is buried in a block
	SpentAt   int64  // unix seconds of reservation into a spend, 0 = unspent
	PathIndex uint32 // HD child index whose key can sign for this output
}

// OutPoint returns the wire outpoint referencing this output.
func (u *UTXO) OutPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(hash, u.Vout), nil
}

// Return a human-readable amount in BTC.
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (u *UTXO) AmountHuman() float64 {
	return float64(u.Value) / 1e8
}

// Sum adds up the value of the given outputs.
func Sum(utxos []*UTXO) int64 {
	var sum int64
	for _, u := range utxos {
		sum += u.Value
	}
	return sum
}
