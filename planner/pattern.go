// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/dgbsuite/dgbplanner/dialect"
)

// PatternRequest describes an explicit pattern plan: one chained transaction
// per amount, every step paying the same destination and spending the same
// flat fee.
type PatternRequest struct {
	// Destination is the address every step pays.
	Destination string

	// Amounts are the per-step payment amounts, in chain order.
	Amounts []btcutil.Amount

	// Fee is the flat fee every step spends.
	Fee btcutil.Amount

	// MinConfirmations overrides the planner's funding confirmation
	// depth when positive.
	MinConfirmations int32

	// FundingUTXOs pins the first step to these exact outputs instead of
	// selecting from the wallet. The set must be duplicate free and cover
	// the full chain.
	FundingUTXOs []UTXO

	// ScriptPlane is an opaque script-plane tag attached to every step.
	ScriptPlane *dialect.ScriptPlane
}

// PlanPattern builds a chained pattern plan: step one spends the funding
// outputs, every later step spends only the change of the step before it, and
// all leftover value folds into the final step. The whole plan is validated
// before return; a plan that cannot complete is rejected as a unit and
// nothing is broadcast.
func (p *Planner) PlanPattern(ctx context.Context,
	req *PatternRequest) (*PatternPlanSequence, error) {

	if req.Destination == "" {
		return nil, ErrMissingDestination
	}
	if len(req.Amounts) == 0 {
		return nil, ErrNoAmounts
	}
	for i, amount := range req.Amounts {
		if amount <= 0 {
			return nil, fmt.Errorf("%w: amount #%d is %v",
				ErrNonPositiveAmount, i+1, amount)
		}
	}
	if req.Fee < 0 {
		return nil, fmt.Errorf("%w: got %v", ErrNegativeFee, req.Fee)
	}

	var total btcutil.Amount
	for _, amount := range req.Amounts {
		total += amount
	}

	// Every step spends the flat fee, so the chain needs the summed
	// amounts plus one fee per step up front.
	required := total + req.Fee*btcutil.Amount(len(req.Amounts))

	funding, fundTotal, err := p.fundPattern(ctx, req, required)
	if err != nil {
		return nil, err
	}

	steps := make([]*PatternStep, 0, len(req.Amounts))
	pool := fundTotal

	for i, amount := range req.Amounts {
		final := i == len(req.Amounts)-1

		var inputs []InputRef
		if i == 0 {
			inputs = make([]InputRef, 0, len(funding))
			for _, u := range funding {
				inputs = append(inputs, &ConcreteInput{UTXO: u})
			}
		} else {
			// A later step is funded only by the previous step's
			// change, which must itself be above dust to fund
			// anything.
			if pool < p.dustLimit {
				return nil, fmt.Errorf("%w: %v before step %d",
					ErrDustChange, pool, i+1)
			}

			inputs = []InputRef{&PriorChangeInput{Amount: pool}}
		}

		if pool < amount+req.Fee {
			return nil, fmt.Errorf("%w: step %d needs %v, pool "+
				"holds %v", ErrInsufficientFunds, i+1,
				amount+req.Fee, pool)
		}

		change := pool - amount - req.Fee
		outputs := []Output{{
			Address: req.Destination,
			Amount:  amount,
		}}

		var changeOut *Output
		switch {
		case change >= p.dustLimit:
			addr, err := p.node.NewChangeAddress(ctx)
			if err != nil {
				return nil, fmt.Errorf("derive change "+
					"address: %w", err)
			}
			changeOut = &Output{Address: addr, Amount: change}

		case change > 0 && !final:
			return nil, fmt.Errorf("%w: step %d would leave %v",
				ErrDustChange, i+1, change)

		case change > 0:
			// Sub-dust remainder on the final step folds into the
			// payment output instead of being stranded.
			outputs[0].Amount += change
			change = 0
		}

		steps = append(steps, &PatternStep{
			Inputs:      inputs,
			Outputs:     outputs,
			Change:      changeOut,
			Fee:         req.Fee,
			ScriptPlane: req.ScriptPlane,
		})
		pool = change
	}

	seq := &PatternPlanSequence{Steps: steps}
	if err := seq.Validate(); err != nil {
		return nil, err
	}

	log.Debugf("Planned %d-step pattern to %s: %v", len(steps),
		req.Destination, newLogClosure(func() string {
			return spew.Sdump(seq)
		}))

	return seq, nil
}

// fundPattern resolves the funding outputs for a pattern: the caller's pinned
// outputs when given, otherwise a covering selection from the wallet.
func (p *Planner) fundPattern(ctx context.Context, req *PatternRequest,
	required btcutil.Amount) ([]UTXO, btcutil.Amount, error) {

	if len(req.FundingUTXOs) > 0 {
		seen := fn.NewSet[OutPoint]()

		var total btcutil.Amount
		for _, u := range req.FundingUTXOs {
			op := u.OutPoint()
			if seen.Contains(op) {
				return nil, 0, fmt.Errorf("%w: %s:%d",
					ErrDuplicateFundingUTXO, op.TxID,
					op.Vout)
			}
			seen.Add(op)

			total += u.Amount
		}

		if total < required {
			return nil, 0, fmt.Errorf("%w: pinned outputs hold "+
				"%v, need %v", ErrInsufficientFunds, total,
				required)
		}

		return req.FundingUTXOs, total, nil
	}

	unspent, err := p.node.ListSpendable(
		ctx, p.minConfirmations(req.MinConfirmations),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list spendable outputs: %w", err)
	}

	return SelectCovering(unspent, required)
}
