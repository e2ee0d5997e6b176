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

// SymbolPlanRequest tunes a symbol-derived plan.
type SymbolPlanRequest struct {
	// Receiver is the destination address. Empty derives a fresh wallet
	// address, turning the plan into a self-spend.
	Receiver string

	// BlockTarget schedules the broadcast for an explicit block height.
	// When set it must be above the current height and is always
	// enforced. When unset, a symbol delta derives an advisory target
	// from the current tip.
	BlockTarget fn.Option[int64]

	// MinConfirmations overrides the planner's funding confirmation
	// depth when positive.
	MinConfirmations int32

	// MaxFrames truncates a chained plan to the first MaxFrames frames
	// when positive.
	MaxFrames int
}

// PlanSymbol builds the single-transaction form of a dialect symbol: exactly
// Inputs funding outputs, one value output to the receiver, and the leftover
// change spread across Outputs-1 change branches.
func (p *Planner) PlanSymbol(ctx context.Context, sym *dialect.Symbol,
	req *SymbolPlanRequest) (*SymbolPlan, error) {

	if req == nil {
		req = &SymbolPlanRequest{}
	}
	if sym.Value <= 0 {
		return nil, fmt.Errorf("%w: symbol %s value is %v",
			ErrNonPositiveAmount, sym.Name, sym.Value)
	}
	if sym.Fee < 0 {
		return nil, fmt.Errorf("%w: symbol %s fee is %v",
			ErrNegativeFee, sym.Name, sym.Fee)
	}

	target, enforce, err := p.blockTarget(ctx, req.BlockTarget, sym.Delta)
	if err != nil {
		return nil, err
	}

	unspent, err := p.node.ListSpendable(
		ctx, p.minConfirmations(req.MinConfirmations),
	)
	if err != nil {
		return nil, fmt.Errorf("list spendable outputs: %w", err)
	}

	selected, total, err := SelectExact(
		unspent, sym.Inputs, sym.Value+sym.Fee,
	)
	if err != nil {
		return nil, err
	}

	receiver, err := p.resolveReceiver(ctx, req.Receiver)
	if err != nil {
		return nil, err
	}

	outputs := []Output{{Address: receiver, Amount: sym.Value}}
	change := total - sym.Value - sym.Fee

	plan := &SymbolPlan{
		Symbol:             sym,
		Inputs:             selected,
		Fee:                sym.Fee,
		BlockTarget:        target,
		EnforceBlockTarget: enforce,
		ScriptPlane:        sym.ScriptPlane,
	}

	switch {
	case sym.Outputs > 1:
		// The symbol's output cardinality is part of the message, so
		// the change branches must exist even when barely funded.
		if change <= 0 {
			return nil, fmt.Errorf("%w: symbol %s requires %d "+
				"change branches", ErrChangePoolEmpty,
				sym.Name, sym.Outputs-1)
		}

		branches, err := p.distributeChange(
			ctx, sym.Outputs-1, change,
		)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, branches...)
		plan.ChangeAmount = change

	case change > 0:
		// Single-output symbols fold leftover change into the value
		// output; adding a change output would alter the shape.
		outputs[0].Amount += change
	}

	plan.Outputs = outputs

	log.Debugf("Planned symbol %s to %s: %v", sym.Name, receiver,
		newLogClosure(func() string {
			return spew.Sdump(plan)
		}))

	return plan, nil
}

// distributeChange splits a change pool evenly across the given number of
// branch outputs, each at a fresh wallet address. Integer division truncates;
// the last branch absorbs the remainder so the split stays exact.
func (p *Planner) distributeChange(ctx context.Context, branches int,
	change btcutil.Amount) ([]Output, error) {

	per := change / btcutil.Amount(branches)
	if per < p.dustLimit {
		return nil, fmt.Errorf("%w: %v across %d branches leaves %v "+
			"per branch", ErrDustChange, change, branches, per)
	}

	outputs := make([]Output, 0, branches)

	var distributed btcutil.Amount
	for i := 0; i < branches; i++ {
		addr, err := p.node.NewChangeAddress(ctx)
		if err != nil {
			return nil, fmt.Errorf("derive change address: %w",
				err)
		}

		amount := per
		if i == branches-1 {
			amount = change - distributed
		}

		outputs = append(outputs, Output{
			Address: addr,
			Amount:  amount,
		})
		distributed += amount
	}

	return outputs, nil
}

// PlanSymbolChain builds the chained multi-frame form of a dialect symbol:
// the first frame spends exactly the required funding outputs, every later
// frame spends only the change of the frame before it, and each frame's
// change is checked to cover everything downstream before anything is
// planned.
func (p *Planner) PlanSymbolChain(ctx context.Context, sym *dialect.Symbol,
	req *SymbolPlanRequest) (*PlannedChain, error) {

	if req == nil {
		req = &SymbolPlanRequest{}
	}
	if !sym.Chained() {
		return nil, fmt.Errorf("%w: symbol %s", ErrNoFrames, sym.Name)
	}

	frames := sym.Frames
	if req.MaxFrames > 0 && req.MaxFrames < len(frames) {
		frames = frames[:req.MaxFrames]
	}

	firstInputs := frames[0].Inputs
	if firstInputs == 0 {
		firstInputs = sym.Inputs
	}
	if firstInputs <= 0 {
		return nil, fmt.Errorf("%w: symbol %s", ErrNoChainInputs,
			sym.Name)
	}

	target, enforce, err := p.blockTarget(ctx, req.BlockTarget, sym.Delta)
	if err != nil {
		return nil, err
	}

	// The whole chain is funded once, up front.
	var required btcutil.Amount
	for i, frame := range frames {
		if frame.Value <= 0 {
			return nil, fmt.Errorf("%w: frame %d of symbol %s",
				ErrNonPositiveAmount, i+1, sym.Name)
		}

		fee := sym.FrameFee(frame)
		if fee < 0 {
			return nil, fmt.Errorf("%w: frame %d of symbol %s",
				ErrNegativeFee, i+1, sym.Name)
		}

		required += frame.Value + fee
	}

	unspent, err := p.node.ListSpendable(
		ctx, p.minConfirmations(req.MinConfirmations),
	)
	if err != nil {
		return nil, fmt.Errorf("list spendable outputs: %w", err)
	}

	selected, total, err := SelectExact(unspent, firstInputs, required)
	if err != nil {
		return nil, err
	}

	receiver, err := p.resolveReceiver(ctx, req.Receiver)
	if err != nil {
		return nil, err
	}

	steps := make([]*PatternStep, 0, len(frames))
	pool := total

	for i, frame := range frames {
		final := i == len(frames)-1
		fee := sym.FrameFee(frame)

		var inputs []InputRef
		if i == 0 {
			inputs = make([]InputRef, 0, len(selected))
			for _, u := range selected {
				inputs = append(inputs, &ConcreteInput{UTXO: u})
			}
		} else {
			if frame.Inputs > 1 {
				return nil, fmt.Errorf("%w: frame %d of "+
					"symbol %s wants %d inputs",
					ErrLateFrameInputs, i+1, sym.Name,
					frame.Inputs)
			}
			if steps[i-1].Change == nil {
				return nil, fmt.Errorf("%w: frame %d of "+
					"symbol %s", ErrUnresolvedPriorChange,
					i+1, sym.Name)
			}

			inputs = []InputRef{&PriorChangeInput{Amount: pool}}
		}

		if pool < frame.Value+fee {
			return nil, fmt.Errorf("%w: frame %d needs %v, pool "+
				"holds %v", ErrInsufficientFunds, i+1,
				frame.Value+fee, pool)
		}
		change := pool - frame.Value - fee

		// Everything after this frame is funded from this frame's
		// change alone.
		var remaining btcutil.Amount
		for _, later := range frames[i+1:] {
			remaining += later.Value + sym.FrameFee(later)
		}

		if !final && change < p.dustLimit {
			return nil, fmt.Errorf("%w: frame %d would leave %v",
				ErrDustChange, i+1, change)
		}
		if change < remaining {
			return nil, fmt.Errorf("%w: frame %d leaves %v, "+
				"later frames need %v", ErrChangeShortfall,
				i+1, change, remaining)
		}

		out := Output{Address: receiver, Amount: frame.Value}

		var changeOut *Output
		if change >= p.dustLimit {
			addr, err := p.node.NewChangeAddress(ctx)
			if err != nil {
				return nil, fmt.Errorf("derive change "+
					"address: %w", err)
			}
			changeOut = &Output{Address: addr, Amount: change}
		} else if change > 0 {
			// Final frame, sub-dust remainder: fold it into the
			// payment output.
			out.Amount += change
			change = 0
		}

		steps = append(steps, &PatternStep{
			Inputs:      inputs,
			Outputs:     []Output{out},
			Change:      changeOut,
			Fee:         fee,
			ScriptPlane: sym.FramePlane(frame),
		})
		pool = change
	}

	plan := &PlannedChain{
		Destination:        receiver,
		Transactions:       steps,
		InitialUTXOs:       selected,
		BlockTarget:        target,
		EnforceBlockTarget: enforce,
	}
	if err := plan.PatternSequence().Validate(); err != nil {
		return nil, err
	}

	log.Debugf("Planned %d-frame chain for symbol %s to %s: %v",
		len(steps), sym.Name, receiver, newLogClosure(func() string {
			return spew.Sdump(plan)
		}))

	return plan, nil
}

// blockTarget resolves the scheduling target for a plan. An explicit caller
// target must be above the current height and is enforced; a symbol delta
// derives an advisory target from the current tip; otherwise there is none.
func (p *Planner) blockTarget(ctx context.Context, explicit fn.Option[int64],
	delta int64) (fn.Option[int64], bool, error) {

	if explicit.IsNone() && delta <= 0 {
		return fn.None[int64](), false, nil
	}

	height, err := p.node.BlockCount(ctx)
	if err != nil {
		return fn.None[int64](), false, fmt.Errorf("query block "+
			"height: %w", err)
	}

	if explicit.IsSome() {
		target := explicit.UnwrapOr(0)
		if target <= height {
			return fn.None[int64](), false, fmt.Errorf("%w: "+
				"target %d, height %d", ErrBlockTargetTooLow,
				target, height)
		}

		return fn.Some(target), true, nil
	}

	return fn.Some(height + delta), false, nil
}

// resolveReceiver returns the caller's receiver or derives a fresh wallet
// address when none was given.
func (p *Planner) resolveReceiver(ctx context.Context,
	receiver string) (string, error) {

	if receiver != "" {
		return receiver, nil
	}

	addr, err := p.node.NewChangeAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("derive receiver address: %w", err)
	}

	return addr, nil
}
