// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

// OutPoint identifies a transaction output by the transaction hash and the
// output index within it.
type OutPoint struct {
	// TxID is the hex encoded hash of the funding transaction.
	TxID string

	// Vout is the index of the output within the funding transaction.
	Vout uint32
}

// UTXO is a confirmed, spendable wallet output usable to fund a plan.
type UTXO struct {
	// TxID is the hex encoded hash of the funding transaction.
	TxID string

	// Vout is the index of the output within the funding transaction.
	Vout uint32

	// Address is the address the output pays to.
	Address string

	// Amount is the value of the output.
	Amount btcutil.Amount
}

// OutPoint returns the outpoint of the output.
func (u UTXO) OutPoint() OutPoint {
	return OutPoint{TxID: u.TxID, Vout: u.Vout}
}

// InputRef describes how a planned transaction is funded. A step is funded
// either by outputs that exist on chain when the plan is built, or by the
// change output of the step planned immediately before it, which does not
// exist until that step is broadcast.
//
// The interface is sealed: the only implementations are ConcreteInput and
// PriorChangeInput.
type InputRef interface {
	// InputAmount returns the value the input contributes to the step.
	InputAmount() btcutil.Amount

	// sealed restricts implementations to this package.
	sealed()
}

// A compile time check to ensure both input kinds satisfy InputRef.
var _ InputRef = (*ConcreteInput)(nil)
var _ InputRef = (*PriorChangeInput)(nil)

// ConcreteInput funds a step with an output that already exists on chain.
type ConcreteInput struct {
	// UTXO is the wallet output being spent.
	UTXO UTXO
}

// InputAmount returns the value of the underlying output.
func (c *ConcreteInput) InputAmount() btcutil.Amount {
	return c.UTXO.Amount
}

func (c *ConcreteInput) sealed() {}

// MarshalJSON renders the input for plan inspection. The amount is a fixed
// point decimal string.
func (c *ConcreteInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Amount string `json:"amount"`
	}{
		TxID:   c.UTXO.TxID,
		Vout:   c.UTXO.Vout,
		Amount: dgbunit.FormatCoin(c.UTXO.Amount),
	})
}

// PriorChangeInput funds a step with the change output of the step planned
// immediately before it. The concrete outpoint is unknown until that step has
// been broadcast, so only the expected value is carried.
type PriorChangeInput struct {
	// Amount is the change value the prior step is expected to produce.
	Amount btcutil.Amount
}

// InputAmount returns the expected change value.
func (p *PriorChangeInput) InputAmount() btcutil.Amount {
	return p.Amount
}

func (p *PriorChangeInput) sealed() {}

// MarshalJSON renders the pending reference for plan inspection.
func (p *PriorChangeInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PriorChange bool   `json:"prior_change"`
		Amount      string `json:"amount"`
	}{
		PriorChange: true,
		Amount:      dgbunit.FormatCoin(p.Amount),
	})
}
