// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/dgbsuite/dgbplanner/chain"
)

const (
	// DefaultPollInterval is the confirmation poll cadence used when the
	// config leaves WaitBetweenTxs unset.
	DefaultPollInterval = 5 * time.Second

	// DefaultBlockPollInterval is the height poll cadence while waiting
	// for a scheduled target block.
	DefaultBlockPollInterval = 15 * time.Second
)

// CoordinatorConfig tunes a Coordinator. The zero value broadcasts steps
// back to back with no confirmation gating.
type CoordinatorConfig struct {
	// WaitBetweenTxs is the pause between consecutive broadcasts. When
	// confirmation gating is on it doubles as the poll interval, with
	// DefaultPollInterval substituted when unset.
	WaitBetweenTxs time.Duration

	// MinConfsBetweenSteps gates each non-final step on reaching this
	// confirmation depth before the next step is released. Zero disables
	// gating.
	MinConfsBetweenSteps int64

	// MaxWaitPerStep bounds the total confirmation wait per step. Zero
	// means no bound.
	MaxWaitPerStep time.Duration

	// MaxDriftBlocks is the tolerated distance past a scheduled target
	// block before the broadcast is refused as missed.
	MaxDriftBlocks int64

	// BlockPollInterval is the height poll cadence while waiting for a
	// target block. Zero selects DefaultBlockPollInterval.
	BlockPollInterval time.Duration

	// DustLimit is the minimum change value for fan-out mode. Zero
	// selects DefaultDustLimit.
	DustLimit btcutil.Amount

	// Observer receives progress notifications. Nil disables them.
	Observer BroadcastObserver

	// Clock supplies time for polling and pauses. Nil selects the wall
	// clock.
	Clock clock.Clock
}

// Coordinator broadcasts planned sequences through a wallet node, strictly in
// plan order, resolving each forward change reference from the txid of the
// step broadcast immediately before it.
type Coordinator struct {
	node chain.WalletRPC
	cfg  CoordinatorConfig
}

// NewCoordinator creates a Coordinator over the given wallet node. cfg may be
// nil for defaults.
func NewCoordinator(node chain.WalletRPC,
	cfg *CoordinatorConfig) *Coordinator {

	c := &Coordinator{node: node}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.cfg.Clock == nil {
		c.cfg.Clock = clock.NewDefaultClock()
	}
	if c.cfg.BlockPollInterval <= 0 {
		c.cfg.BlockPollInterval = DefaultBlockPollInterval
	}
	if c.cfg.DustLimit <= 0 {
		c.cfg.DustLimit = DefaultDustLimit
	}

	return c
}

// notifyState reports a state transition to the observer, if any.
func (c *Coordinator) notifyState(step int, state StepState, txid string) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.StepStateChanged(step, state, txid)
	}
}

// Broadcast sends every step of the sequence, in order. Step i+1's forward
// reference is resolved to output index len(Outputs) of step i's broadcast
// txid, the position planned for its change output.
//
// auxPayloads optionally attaches one payload per step; it must be nil or
// match the step count exactly, with nil entries meaning no payload.
//
// On failure the already broadcast txids are returned along with the error;
// broadcast transactions are irrevocable and the caller needs their ids.
func (c *Coordinator) Broadcast(ctx context.Context, seq *PatternPlanSequence,
	auxPayloads [][]byte) ([]string, error) {

	if seq == nil || len(seq.Steps) == 0 {
		return nil, nil
	}
	if auxPayloads != nil && len(auxPayloads) != len(seq.Steps) {
		return nil, fmt.Errorf("%w: %d payloads for %d steps",
			ErrAuxPayloadCount, len(auxPayloads), len(seq.Steps))
	}
	if err := seq.Validate(); err != nil {
		return nil, err
	}

	var (
		txids      []string
		prevChange *chain.TxInput
	)

	for i, step := range seq.Steps {
		final := i == len(seq.Steps)-1

		c.notifyState(i, StepPendingInputResolution, "")

		inputs, err := resolveInputs(step.Inputs, prevChange)
		if err != nil {
			c.notifyState(i, StepInputUnresolved, "")
			return txids, fmt.Errorf("step %d: %w", i+1, err)
		}

		req := &chain.SignRequest{
			Inputs:      inputs,
			Outputs:     stepOutputs(step),
			FeeHint:     step.Fee,
			ScriptPlane: step.ScriptPlane,
		}
		if auxPayloads != nil && len(auxPayloads[i]) > 0 {
			req.AuxPayloads = [][]byte{auxPayloads[i]}
		}

		txid, err := c.node.SignAndBroadcast(ctx, req)
		if err != nil {
			c.notifyState(i, StepBuildFailed, "")
			return txids, fmt.Errorf("step %d: %w: %w", i+1,
				ErrBroadcast, err)
		}

		c.notifyState(i, StepBuiltSigned, txid)
		c.notifyState(i, StepBroadcast, txid)
		txids = append(txids, txid)

		log.Infof("Broadcast step %d/%d: %s", i+1, len(seq.Steps),
			txid)

		// The change output sits directly after the value outputs;
		// that position funds the next step.
		if step.Change != nil {
			prevChange = &chain.TxInput{
				TxID: txid,
				Vout: uint32(len(step.Outputs)),
			}
		} else {
			prevChange = nil
		}

		if final {
			c.notifyState(i, StepDone, txid)
			continue
		}

		if prevChange == nil {
			c.notifyState(i, StepInputUnresolved, txid)
			return txids, fmt.Errorf("step %d produced no "+
				"change: %w", i+1, ErrUnresolvedPriorChange)
		}

		switch {
		case c.cfg.MinConfsBetweenSteps > 0:
			c.notifyState(i, StepConfirmationWait, txid)

			err := c.waitForConfirmations(ctx, i, txid)
			if err != nil {
				c.notifyState(i, StepConfirmationTimeout, txid)
				return txids, err
			}

			c.notifyState(i, StepConfirmed, txid)

		case c.cfg.WaitBetweenTxs > 0:
			if err := c.sleep(ctx, c.cfg.WaitBetweenTxs); err != nil {
				return txids, err
			}
		}

		c.notifyState(i, StepDone, txid)
	}

	return txids, nil
}

// BroadcastChain broadcasts a symbol-derived chained plan, first waiting for
// its scheduled target block when one is enforced.
func (c *Coordinator) BroadcastChain(ctx context.Context, plan *PlannedChain,
	auxPayloads [][]byte) ([]string, error) {

	if err := c.gateOnBlockTarget(
		ctx, plan.BlockTarget.UnwrapOr(0), plan.EnforceBlockTarget,
	); err != nil {
		return nil, err
	}

	return c.Broadcast(ctx, plan.PatternSequence(), auxPayloads)
}

// BroadcastSymbol broadcasts a single-transaction symbol plan, first waiting
// for its scheduled target block when one is enforced.
func (c *Coordinator) BroadcastSymbol(ctx context.Context, plan *SymbolPlan,
	auxPayload []byte) (string, error) {

	if err := c.gateOnBlockTarget(
		ctx, plan.BlockTarget.UnwrapOr(0), plan.EnforceBlockTarget,
	); err != nil {
		return "", err
	}

	c.notifyState(0, StepPendingInputResolution, "")

	txid, err := c.node.SignAndBroadcast(ctx, plan.SignRequest(auxPayload))
	if err != nil {
		c.notifyState(0, StepBuildFailed, "")
		return "", fmt.Errorf("%w: %w", ErrBroadcast, err)
	}

	c.notifyState(0, StepBuiltSigned, txid)
	c.notifyState(0, StepBroadcast, txid)
	c.notifyState(0, StepDone, txid)

	log.Infof("Broadcast symbol %s: %s", plan.Symbol.Name, txid)

	return txid, nil
}

// BroadcastSingleTx collapses a planned sequence into one fan-out
// transaction: the first step's concrete inputs fund one output per step's
// primary amount, all to the shared destination, plus at most one change
// output. The chained timing dimension of the message is lost; the amount
// multiset is preserved.
func (c *Coordinator) BroadcastSingleTx(ctx context.Context,
	seq *PatternPlanSequence, auxPayloads [][]byte) (string, error) {

	if seq == nil || len(seq.Steps) == 0 {
		return "", nil
	}
	if auxPayloads != nil && len(auxPayloads) != len(seq.Steps) {
		return "", fmt.Errorf("%w: %d payloads for %d steps",
			ErrAuxPayloadCount, len(auxPayloads), len(seq.Steps))
	}

	first := seq.Steps[0]
	if len(first.Outputs) == 0 {
		return "", fmt.Errorf("step 1: %w", ErrEmptyStepOutputs)
	}

	dest := first.Outputs[0].Address
	fee := first.Fee
	plane := first.ScriptPlane

	var (
		outputs  []chain.TxOutput
		totalOut btcutil.Amount
		aux      []byte
	)
	for i, step := range seq.Steps {
		if len(step.Outputs) == 0 {
			return "", fmt.Errorf("step %d: %w", i+1,
				ErrEmptyStepOutputs)
		}
		if step.Outputs[0].Address != dest {
			return "", ErrMixedDestinations
		}
		if step.Fee != fee {
			return "", ErrMixedFees
		}
		if !step.ScriptPlane.Equal(plane) {
			return "", ErrMixedScriptPlanes
		}

		if auxPayloads != nil && len(auxPayloads[i]) > 0 {
			if aux != nil {
				return "", ErrMultipleAuxPayloads
			}
			aux = auxPayloads[i]
		}

		amount := step.Outputs[0].Amount
		outputs = append(outputs, chain.TxOutput{
			Address: dest,
			Amount:  amount,
		})
		totalOut += amount
	}

	// Fan-out is funded by the first step's concrete inputs alone; later
	// steps only carried forward references, which no longer exist.
	inputs := make([]chain.TxInput, 0, len(first.Inputs))

	var available btcutil.Amount
	for _, in := range first.Inputs {
		concrete, ok := in.(*ConcreteInput)
		if !ok {
			return "", fmt.Errorf("fan-out funding: %w",
				ErrUnresolvedPriorChange)
		}

		inputs = append(inputs, chain.TxInput{
			TxID: concrete.UTXO.TxID,
			Vout: concrete.UTXO.Vout,
		})
		available += concrete.UTXO.Amount
	}

	change := available - totalOut - fee
	if change < 0 {
		return "", fmt.Errorf("%w: inputs hold %v, outputs and fee "+
			"need %v", ErrInsufficientFunds, available,
			totalOut+fee)
	}

	switch {
	case change >= c.cfg.DustLimit:
		addr, err := c.node.NewChangeAddress(ctx)
		if err != nil {
			return "", fmt.Errorf("derive change address: %w", err)
		}

		outputs = append(outputs, chain.TxOutput{
			Address: addr,
			Amount:  change,
		})

	case change > 0:
		// Sub-dust remainder folds into the last value output.
		outputs[len(outputs)-1].Amount += change
	}

	req := &chain.SignRequest{
		Inputs:      inputs,
		Outputs:     outputs,
		FeeHint:     fee,
		ScriptPlane: plane,
	}
	if len(aux) > 0 {
		req.AuxPayloads = [][]byte{aux}
	}

	c.notifyState(0, StepPendingInputResolution, "")

	txid, err := c.node.SignAndBroadcast(ctx, req)
	if err != nil {
		c.notifyState(0, StepBuildFailed, "")
		return "", fmt.Errorf("%w: %w", ErrBroadcast, err)
	}

	c.notifyState(0, StepBuiltSigned, txid)
	c.notifyState(0, StepBroadcast, txid)
	c.notifyState(0, StepDone, txid)

	log.Infof("Broadcast fan-out of %d outputs: %s", len(seq.Steps), txid)

	return txid, nil
}

// resolveInputs turns a step's input references into concrete outpoints. A
// forward reference resolves to the previous step's recorded change
// outpoint.
func resolveInputs(refs []InputRef,
	prevChange *chain.TxInput) ([]chain.TxInput, error) {

	inputs := make([]chain.TxInput, 0, len(refs))
	for _, ref := range refs {
		switch in := ref.(type) {
		case *ConcreteInput:
			inputs = append(inputs, chain.TxInput{
				TxID: in.UTXO.TxID,
				Vout: in.UTXO.Vout,
			})

		case *PriorChangeInput:
			if prevChange == nil {
				return nil, ErrUnresolvedPriorChange
			}
			inputs = append(inputs, *prevChange)

		default:
			return nil, fmt.Errorf("unknown input reference "+
				"%T", ref)
		}
	}

	return inputs, nil
}

// stepOutputs renders a step's value and change outputs in final order.
func stepOutputs(step *PatternStep) []chain.TxOutput {
	outputs := make([]chain.TxOutput, 0, len(step.Outputs)+1)
	for _, out := range step.Outputs {
		outputs = append(outputs, chain.TxOutput{
			Address: out.Address,
			Amount:  out.Amount,
		})
	}
	if step.Change != nil {
		outputs = append(outputs, chain.TxOutput{
			Address: step.Change.Address,
			Amount:  step.Change.Amount,
		})
	}

	return outputs
}

// waitForConfirmations polls the node until the txid reaches the configured
// depth, the wait budget runs out, or the context is canceled. Node errors
// during a poll count as depth zero; a transiently unreachable node should
// not abort an otherwise healthy chain.
func (c *Coordinator) waitForConfirmations(ctx context.Context, step int,
	txid string) error {

	required := c.cfg.MinConfsBetweenSteps

	interval := c.cfg.WaitBetweenTxs
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var waited time.Duration
	for {
		depth, err := c.node.ConfirmationDepth(ctx, txid)
		if err != nil {
			log.Warnf("Confirmation poll for %s failed: %v", txid,
				err)
			depth = 0
		}

		if depth >= required {
			return nil
		}

		if c.cfg.Observer != nil {
			c.cfg.Observer.ConfirmationProgress(
				step, txid, depth, required,
			)
		}

		if c.cfg.MaxWaitPerStep > 0 && waited >= c.cfg.MaxWaitPerStep {
			return fmt.Errorf("%w: step %d (%s) at depth %d of "+
				"%d after %v", ErrConfirmationTimeout, step+1,
				txid, depth, required, waited)
		}

		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
		waited += interval
	}
}

// gateOnBlockTarget blocks until the chain reaches the drift window below
// the target height. A chain already past target+MaxDriftBlocks is a missed
// schedule and refuses rather than broadcasting late. target zero or
// unenforced targets pass through immediately.
func (c *Coordinator) gateOnBlockTarget(ctx context.Context, target int64,
	enforce bool) error {

	if target <= 0 || !enforce {
		return nil
	}

	for {
		current, err := c.node.BlockCount(ctx)
		if err != nil {
			return fmt.Errorf("query block height: %w", err)
		}

		if current > target+c.cfg.MaxDriftBlocks {
			return fmt.Errorf("%w: target %d, height %d, drift "+
				"%d", ErrBlockTargetMissed, target, current,
				c.cfg.MaxDriftBlocks)
		}

		if current >= target-c.cfg.MaxDriftBlocks {
			return nil
		}

		if c.cfg.Observer != nil {
			c.cfg.Observer.WaitingForBlock(target, current)
		}

		log.Debugf("Waiting for block %d, height is %d", target,
			current)

		if err := c.sleep(ctx, c.cfg.BlockPollInterval); err != nil {
			return err
		}
	}
}

// sleep pauses for the given duration or until the context is canceled.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.cfg.Clock.TickAfter(d):
		return nil
	}
}
