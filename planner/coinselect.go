// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/dgbsuite/dgbplanner/chain"
)

// byAmount sorts outputs by value. Used through sort.Reverse for
// largest-first selection.
type byAmount []UTXO

func (u byAmount) Len() int           { return len(u) }
func (u byAmount) Less(i, j int) bool { return u[i].Amount < u[j].Amount }
func (u byAmount) Swap(i, j int)      { u[i], u[j] = u[j], u[i] }

// spendableOutputs filters a wallet snapshot down to the outputs the wallet
// marks spendable and orders them largest first.
func spendableOutputs(unspent []chain.Unspent) []UTXO {
	outputs := make([]UTXO, 0, len(unspent))
	for _, u := range unspent {
		if !u.Spendable {
			continue
		}

		outputs = append(outputs, UTXO{
			TxID:    u.TxID,
			Vout:    u.Vout,
			Address: u.Address,
			Amount:  u.Amount,
		})
	}

	sort.Sort(sort.Reverse(byAmount(outputs)))

	return outputs
}

// SelectExact picks exactly count spendable outputs, largest first, and
// requires their total to reach minTotal. The count is fixed because the
// input cardinality is part of the encoded message.
func SelectExact(unspent []chain.Unspent, count int,
	minTotal btcutil.Amount) ([]UTXO, btcutil.Amount, error) {

	outputs := spendableOutputs(unspent)
	if len(outputs) < count {
		return nil, 0, fmt.Errorf("%w: need %d, have %d",
			ErrTooFewSpendableOutputs, count, len(outputs))
	}

	selected := outputs[:count]

	var total btcutil.Amount
	for _, u := range selected {
		total += u.Amount
	}

	if total < minTotal {
		return nil, 0, fmt.Errorf("%w: %d largest outputs hold %v, "+
			"need %v", ErrInsufficientFunds, count, total, minTotal)
	}

	return selected, total, nil
}

// SelectCovering accumulates spendable outputs, largest first, until their
// total reaches minTotal.
func SelectCovering(unspent []chain.Unspent,
	minTotal btcutil.Amount) ([]UTXO, btcutil.Amount, error) {

	outputs := spendableOutputs(unspent)
	if len(outputs) == 0 {
		return nil, 0, ErrNoSpendableOutputs
	}

	var (
		selected []UTXO
		total    btcutil.Amount
	)
	for _, u := range outputs {
		selected = append(selected, u)
		total += u.Amount
		if total >= minTotal {
			return selected, total, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: wallet holds %v spendable, need %v",
		ErrInsufficientFunds, total, minTotal)
}
