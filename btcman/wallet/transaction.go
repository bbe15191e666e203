package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/utxo"
)

// MakeTransaction builds and signs a transaction paying amount satoshi
// to recipient. A non-empty embed is carried in an OP_RETURN output.
// Change above the dust limit goes back to the wallet's change
// address. Selected inputs are flagged spent before the transaction is
// returned so a concurrent build cannot double-spend them.
func (e *Engine) MakeTransaction(ctx context.Context, recipient string, amount int64, embed []byte) (*wire.MsgTx, error) {
	payAddr, err := btcutil.DecodeAddress(recipient, e.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("bad recipient %s: %w", recipient, err)
	}
	payScript, err := txscript.PayToAddrScript(payAddr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]*utxo.UTXO, 0, len(e.coins))
	for _, c := range e.coins {
		candidates = append(candidates, c)
	}
	isOwn := func(txid string) bool { return e.ownTxs[txid] }

	// 1. dry run: same-shaped tx from a size guess, to learn the real
	// virtual size
	fee := dryRunVsizeGuess * e.feeRate
	selected, total, err := utxo.Select(candidates, amount+fee, isOwn)
	if err != nil {
		return nil, err
	}
	dryTx, err := e.buildSigned(selected, total, payScript, amount, fee, embed)
	if err != nil {
		return nil, err
	}

	// 2. final: fee from the measured vsize, inputs reselected in case
	// the corrected fee needs more value
	fee = virtualSize(dryTx) * e.feeRate
	selected, total, err = utxo.Select(candidates, amount+fee, isOwn)
	if err != nil {
		return nil, err
	}
	tx, err := e.buildSigned(selected, total, payScript, amount, fee, embed)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, c := range selected {
		c.SpentAt = now
	}

	logger.Infof("built transaction: to=%s amount=%d fee=%d inputs=%d vsize=%d",
		recipient, amount, fee, len(selected), virtualSize(tx))
	return tx, nil
}

// buildSigned assembles the outputs, then the inputs, then signs each
// input with the key of its derivation index.
func (e *Engine) buildSigned(selected []*utxo.UTXO, total int64, payScript []byte, amount, fee int64, embed []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	// 1. payment output
	tx.AddTxOut(wire.NewTxOut(amount, payScript))

	// 2. optional OP_RETURN carrying order metadata
	if len(embed) > 0 {
		nullData, err := txscript.NullDataScript(embed)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(0, nullData))
	}

	// 3. change output, only when worth more than dust
	if change := total - amount - fee; change > e.cfg.DustLimit {
		changeScript, err := e.keys.pkScriptAt(ChangeIndex)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	// 4. inputs
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, c := range selected {
		op, err := c.OutPoint()
		if err != nil {
			return nil, err
		}
		prevScript, err := e.keys.pkScriptAt(c.PathIndex)
		if err != nil {
			return nil, err
		}
		fetcher.AddPrevOut(*op, wire.NewTxOut(c.Value, prevScript))
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
	}

	// 5. witness signatures, one per input, keyed by derivation index
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, c := range selected {
		prevScript, err := e.keys.pkScriptAt(c.PathIndex)
		if err != nil {
			return nil, err
		}
		priv, err := e.keys.privKeyAt(c.PathIndex)
		if err != nil {
			return nil, err
		}
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, c.Value, prevScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].Witness = witness
	}

	return tx, nil
}

// BroadcastTransaction submits the transaction through the gateway and
// tags its id as self-originated, so its change can be respent before
// confirmation.
func (e *Engine) BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	txid, err := e.gateway.Broadcast(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.ownTxs[txid] = true
	e.mu.Unlock()

	logger.Infof("broadcast transaction: txid=%s", txid)
	return txid, nil
}

// virtualSize is ceil(weight / 4) with weight defined as
// 3 x stripped size + total size (BIP 141).
func virtualSize(tx *wire.MsgTx) int64 {
	weight := int64(tx.SerializeSizeStripped())*3 + int64(tx.SerializeSize())
	return (weight + 3) / 4
}
