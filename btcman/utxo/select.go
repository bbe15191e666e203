/*
This file contains filter/select operations on UTXO.
*/
package utxo

import (
	"errors"
)

var ErrInsufficientFunds = errors.New("cannot collect enough unspent outputs")

// Select picks outputs for a spend of target satoshis.
//
// The rule is greedy: at every round take the smallest candidate whose
// value exceeds the remaining shortfall, or the largest candidate when
// none does. This is not fee-optimal (it neither minimizes change nor
// input count) but it bounds the transaction size predictably; solver
// economics absorb the difference through the fill discount.
//
// Candidates must be unspent (SpentAt == 0) and either confirmed or
// recognized by isOwn as a self-originated transaction. A third-party
// unconfirmed output is never spendable.
//
// Returns ErrInsufficientFunds when the usable outputs cannot reach the
// target. The selection is deterministic for a given coin ordering.
func Select(coins []*UTXO, target int64, isOwn func(txid string) bool) ([]*UTXO, int64, error) {
	candidates := make([]*UTXO, 0, len(coins))
	for _, c := range coins {
		if c.SpentAt != 0 {
			continue
		}
		if !c.Confirmed && (isOwn == nil || !isOwn(c.TxID)) {
			continue
		}
		candidates = append(candidates, c)
	}

	var selected []*UTXO
	var total int64

	// Bounded loop instead of recursion: every round consumes one
	// candidate, so at most len(candidates) rounds.
	for total < target && len(candidates) > 0 {
		shortfall := target - total

		pick := -1
		largest := 0
		for i, c := range candidates {
			if c.Value > candidates[largest].Value {
				largest = i
			}
			if c.Value > shortfall {
				if pick == -1 || c.Value < candidates[pick].Value {
					pick = i
				}
			}
		}
		if pick == -1 {
			pick = largest
		}

		selected = append(selected, candidates[pick])
		total += candidates[pick].Value
		candidates = append(candidates[:pick], candidates[pick+1:]...)
	}

	if total < target {
		return nil, 0, ErrInsufficientFunds
	}
	return selected, total, nil
}
