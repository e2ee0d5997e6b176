// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

// StepState is the lifecycle state of one plan step during broadcast.
type StepState uint8

const (
	// StepPendingInputResolution means the step's inputs are being
	// resolved, including any forward reference to the previous step's
	// change.
	StepPendingInputResolution StepState = iota

	// StepBuiltSigned means the node built and signed the step's
	// transaction.
	StepBuiltSigned

	// StepBroadcast means the transaction was accepted by the node for
	// relay.
	StepBroadcast

	// StepConfirmationWait means the coordinator is polling for the
	// required confirmation depth before releasing the next step.
	StepConfirmationWait

	// StepConfirmed means the required confirmation depth was reached.
	StepConfirmed

	// StepDone means the step finished and the next step may proceed.
	StepDone

	// StepInputUnresolved is terminal: a forward reference could not be
	// resolved and the remaining steps were aborted.
	StepInputUnresolved

	// StepBuildFailed is terminal: the node rejected the build, sign, or
	// broadcast and the remaining steps were aborted.
	StepBuildFailed

	// StepConfirmationTimeout is terminal: the step did not confirm
	// within its wait budget and the remaining steps were aborted.
	StepConfirmationTimeout
)

// String returns a stable lower-case name for the state.
func (s StepState) String() string {
	switch s {
	case StepPendingInputResolution:
		return "pending_input_resolution"
	case StepBuiltSigned:
		return "built_signed"
	case StepBroadcast:
		return "broadcast"
	case StepConfirmationWait:
		return "confirmation_wait"
	case StepConfirmed:
		return "confirmed"
	case StepDone:
		return "done"
	case StepInputUnresolved:
		return "input_unresolved"
	case StepBuildFailed:
		return "build_failed"
	case StepConfirmationTimeout:
		return "confirmation_timeout"
	default:
		return "unknown"
	}
}

// BroadcastObserver receives progress notifications during broadcast.
// Callbacks are invoked synchronously from the broadcasting goroutine and
// must not block.
type BroadcastObserver interface {
	// StepStateChanged reports a step entering a new lifecycle state.
	// step is zero based; txid is empty until the step has broadcast.
	StepStateChanged(step int, state StepState, txid string)

	// ConfirmationProgress reports one confirmation poll for a step that
	// has not yet reached the required depth.
	ConfirmationProgress(step int, txid string, depth, required int64)

	// WaitingForBlock reports one height poll while broadcast is gated
	// on a scheduled target block.
	WaitingForBlock(target, current int64)
}
