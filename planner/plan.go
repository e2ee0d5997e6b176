// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package planner builds and broadcasts transaction plans that encode
// semantic messages as spend patterns: the amounts paid, the fees spent, the
// input and output counts, and the step-to-step chaining of change are all
// message carriers. Every amount is planned to the satoshi and validated to
// conserve value exactly.
//
// The package never touches keys. Signing and broadcast are delegated to a
// wallet node through the chain.WalletRPC surface.
package planner

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/dialect"
	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

// DefaultDustLimit is the minimum value an intermediate change output may
// carry. Change below this threshold cannot reliably fund a follow-up
// transaction.
const DefaultDustLimit = btcutil.Amount(10_000)

// Output pays an exact amount to an address.
type Output struct {
	// Address is the receiving address.
	Address string

	// Amount is the exact value of the output.
	Amount btcutil.Amount
}

// PatternStep is one fully described transaction within a plan. Inputs may be
// forward references to the previous step's change; everything else is
// concrete.
type PatternStep struct {
	// Inputs fund the step. Only the first step of a plan carries
	// concrete inputs; later steps carry a single forward reference to
	// the previous step's change.
	Inputs []InputRef

	// Outputs are the value outputs of the step, in final order.
	Outputs []Output

	// Change is the change output, or nil when the step produces none.
	Change *Output

	// Fee is the absolute fee the step spends.
	Fee btcutil.Amount

	// ScriptPlane is the opaque script-plane tag for the step, carried
	// through to broadcast without interpretation.
	ScriptPlane *dialect.ScriptPlane
}

// InputTotal returns the summed value of the step's inputs.
func (s *PatternStep) InputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range s.Inputs {
		total += in.InputAmount()
	}

	return total
}

// OutputTotal returns the summed value of the step's value outputs, excluding
// change.
func (s *PatternStep) OutputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range s.Outputs {
		total += out.Amount
	}

	return total
}

// ChangeAmount returns the value of the change output, or zero when the step
// produces none.
func (s *PatternStep) ChangeAmount() btcutil.Amount {
	if s.Change == nil {
		return 0
	}

	return s.Change.Amount
}

// checkBalanced verifies that the step conserves value exactly: the inputs
// equal the outputs, change, and fee to the satoshi.
func (s *PatternStep) checkBalanced() error {
	in := s.InputTotal()
	out := s.OutputTotal() + s.ChangeAmount() + s.Fee
	if in != out {
		return fmt.Errorf("step does not balance: inputs %v != "+
			"outputs+change+fee %v", in, out)
	}

	return nil
}

// jsonOutput is the inspection rendering of a single output, carrying its
// final index within the transaction.
type jsonOutput struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// MarshalJSON renders the step for plan inspection. Amounts are fixed point
// decimal strings; binary floats never appear.
func (s *PatternStep) MarshalJSON() ([]byte, error) {
	outputs := make([]jsonOutput, 0, len(s.Outputs))
	for i, out := range s.Outputs {
		outputs = append(outputs, jsonOutput{
			Index:   i,
			Address: out.Address,
			Amount:  dgbunit.FormatCoin(out.Amount),
		})
	}

	var change *jsonOutput
	if s.Change != nil {
		change = &jsonOutput{
			Index:   len(s.Outputs),
			Address: s.Change.Address,
			Amount:  dgbunit.FormatCoin(s.Change.Amount),
		}
	}

	return json.Marshal(struct {
		Fee         string               `json:"fee"`
		Inputs      []InputRef           `json:"inputs"`
		Outputs     []jsonOutput         `json:"outputs"`
		Change      *jsonOutput          `json:"change"`
		ScriptPlane *dialect.ScriptPlane `json:"script_plane,omitempty"`
	}{
		Fee:         dgbunit.FormatCoin(s.Fee),
		Inputs:      s.Inputs,
		Outputs:     outputs,
		Change:      change,
		ScriptPlane: s.ScriptPlane,
	})
}

// PatternPlanSequence is an ordered list of planned steps. Step i+1 is funded
// by the change output of step i; the order is part of the encoded message
// and must be preserved through broadcast.
type PatternPlanSequence struct {
	// Steps are the planned transactions, in broadcast order.
	Steps []*PatternStep
}

// Validate checks the structural invariants of the sequence: every step
// conserves value exactly, and every step after the first is funded by a
// single forward reference matching the previous step's change.
func (p *PatternPlanSequence) Validate() error {
	for i, step := range p.Steps {
		if err := step.checkBalanced(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		if i == 0 {
			continue
		}

		if len(step.Inputs) != 1 {
			return fmt.Errorf("step %d: %w: expected a single "+
				"forward reference, got %d inputs", i+1,
				ErrUnresolvedPriorChange, len(step.Inputs))
		}

		prior, ok := step.Inputs[0].(*PriorChangeInput)
		if !ok {
			return fmt.Errorf("step %d: expected a forward "+
				"reference input", i+1)
		}

		prev := p.Steps[i-1]
		if prev.Change == nil || prev.Change.Amount != prior.Amount {
			return fmt.Errorf("step %d: %w: prior step change "+
				"does not fund this step", i+1,
				ErrUnresolvedPriorChange)
		}
	}

	return nil
}

// MarshalJSON renders the whole sequence for plan inspection.
func (p *PatternPlanSequence) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Steps []*PatternStep `json:"steps"`
	}{
		Steps: p.Steps,
	})
}

// PlannedChain is a symbol-derived chained plan: a pattern sequence plus the
// funding snapshot and the optional block-height schedule it was planned
// against.
type PlannedChain struct {
	// Destination is the receiver address every frame pays.
	Destination string

	// Transactions are the planned frames, in broadcast order.
	Transactions []*PatternStep

	// InitialUTXOs are the concrete outputs funding the first frame.
	InitialUTXOs []UTXO

	// BlockTarget is the block height the first broadcast is scheduled
	// for, when the symbol or the caller requested one.
	BlockTarget fn.Option[int64]

	// EnforceBlockTarget indicates whether broadcast must wait for the
	// target height instead of treating it as advisory.
	EnforceBlockTarget bool
}

// PatternSequence returns the chain's frames as a broadcastable sequence.
func (p *PlannedChain) PatternSequence() *PatternPlanSequence {
	return &PatternPlanSequence{Steps: p.Transactions}
}

// MarshalJSON renders the chain for plan inspection.
func (p *PlannedChain) MarshalJSON() ([]byte, error) {
	var target *int64
	p.BlockTarget.WhenSome(func(t int64) {
		target = &t
	})

	inputs := make([]json.RawMessage, 0, len(p.InitialUTXOs))
	for _, u := range p.InitialUTXOs {
		in := &ConcreteInput{UTXO: u}
		raw, err := in.MarshalJSON()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, raw)
	}

	return json.Marshal(struct {
		Destination  string            `json:"destination"`
		Transactions []*PatternStep    `json:"transactions"`
		InitialUTXOs []json.RawMessage `json:"initial_utxos"`
		BlockTarget  *int64            `json:"block_target"`
		Enforce      bool              `json:"enforce_block_target"`
	}{
		Destination:  p.Destination,
		Transactions: p.Transactions,
		InitialUTXOs: inputs,
		BlockTarget:  target,
		Enforce:      p.EnforceBlockTarget,
	})
}

// SymbolPlan is a single-transaction plan derived from a dialect symbol: one
// value output to the receiver, the symbol's change branches, and an optional
// block-height schedule.
type SymbolPlan struct {
	// Symbol is the dialect symbol the plan encodes.
	Symbol *dialect.Symbol

	// Inputs are the concrete outputs funding the transaction. Their
	// count is part of the encoded message.
	Inputs []UTXO

	// Outputs are the value outputs: the receiver first, then the change
	// branches in derivation order.
	Outputs []Output

	// ChangeAmount is the total value distributed across the change
	// branches, or zero when the symbol has a single output.
	ChangeAmount btcutil.Amount

	// Fee is the absolute fee the transaction spends.
	Fee btcutil.Amount

	// BlockTarget is the block height broadcast is scheduled for, when
	// the symbol or the caller requested one.
	BlockTarget fn.Option[int64]

	// EnforceBlockTarget indicates whether broadcast must wait for the
	// target height instead of treating it as advisory.
	EnforceBlockTarget bool

	// ScriptPlane is the symbol's opaque script-plane tag.
	ScriptPlane *dialect.ScriptPlane
}

// InputTotal returns the summed value of the plan's inputs.
func (p *SymbolPlan) InputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range p.Inputs {
		total += in.Amount
	}

	return total
}

// SignRequest converts the plan into a node sign-and-broadcast request,
// optionally attaching one auxiliary payload.
func (p *SymbolPlan) SignRequest(auxPayload []byte) *chain.SignRequest {
	inputs := make([]chain.TxInput, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		inputs = append(inputs, chain.TxInput{
			TxID: in.TxID,
			Vout: in.Vout,
		})
	}

	outputs := make([]chain.TxOutput, 0, len(p.Outputs))
	for _, out := range p.Outputs {
		outputs = append(outputs, chain.TxOutput{
			Address: out.Address,
			Amount:  out.Amount,
		})
	}

	req := &chain.SignRequest{
		Inputs:      inputs,
		Outputs:     outputs,
		FeeHint:     p.Fee,
		ScriptPlane: p.ScriptPlane,
	}
	if len(auxPayload) > 0 {
		req.AuxPayloads = [][]byte{auxPayload}
	}

	return req
}

// MarshalJSON renders the plan for inspection.
func (p *SymbolPlan) MarshalJSON() ([]byte, error) {
	var target *int64
	p.BlockTarget.WhenSome(func(t int64) {
		target = &t
	})

	inputs := make([]json.RawMessage, 0, len(p.Inputs))
	for _, u := range p.Inputs {
		in := &ConcreteInput{UTXO: u}
		raw, err := in.MarshalJSON()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, raw)
	}

	outputs := make([]jsonOutput, 0, len(p.Outputs))
	for i, out := range p.Outputs {
		outputs = append(outputs, jsonOutput{
			Index:   i,
			Address: out.Address,
			Amount:  dgbunit.FormatCoin(out.Amount),
		})
	}

	var symbol string
	if p.Symbol != nil {
		symbol = p.Symbol.Name
	}

	return json.Marshal(struct {
		Symbol      string               `json:"symbol"`
		Inputs      []json.RawMessage    `json:"inputs"`
		Outputs     []jsonOutput         `json:"outputs"`
		Change      string               `json:"change"`
		Fee         string               `json:"fee"`
		BlockTarget *int64               `json:"block_target"`
		Enforce     bool                 `json:"enforce_block_target"`
		ScriptPlane *dialect.ScriptPlane `json:"script_plane,omitempty"`
	}{
		Symbol:      symbol,
		Inputs:      inputs,
		Outputs:     outputs,
		Change:      dgbunit.FormatCoin(p.ChangeAmount),
		Fee:         dgbunit.FormatCoin(p.Fee),
		BlockTarget: target,
		Enforce:     p.EnforceBlockTarget,
		ScriptPlane: p.ScriptPlane,
	})
}
