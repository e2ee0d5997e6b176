// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"errors"
)

// Configuration errors, rejected before any network call is made.
var (
	// ErrNoAmounts is returned when a pattern is requested with an empty
	// amount list.
	ErrNoAmounts = errors.New("at least one output amount is required")

	// ErrNonPositiveAmount is returned when a requested output amount is
	// zero or negative.
	ErrNonPositiveAmount = errors.New("each output amount must be " +
		"greater than zero")

	// ErrNegativeFee is returned when a negative fee is requested.
	ErrNegativeFee = errors.New("fee must be non-negative")

	// ErrMissingDestination is returned when a plan is requested without
	// a destination address.
	ErrMissingDestination = errors.New("destination address is required")

	// ErrDuplicateFundingUTXO is returned when explicit funding outputs
	// contain the same outpoint more than once.
	ErrDuplicateFundingUTXO = errors.New("duplicated funding utxo")

	// ErrNoFrames is returned when a chained plan is requested for a
	// symbol that does not define frames.
	ErrNoFrames = errors.New("symbol does not define chained frames")

	// ErrNoChainInputs is returned when the first frame of a chained plan
	// requires no inputs.
	ErrNoChainInputs = errors.New("chained plan requires at least one " +
		"input in the first frame")

	// ErrLateFrameInputs is returned when a frame after the first
	// declares an input cardinality above one.
	ErrLateFrameInputs = errors.New("only the first chained frame may " +
		"specify multiple inputs")
)

// Funding and validation errors.
var (
	// ErrNoSpendableOutputs is returned when the wallet reports no
	// spendable outputs at all.
	ErrNoSpendableOutputs = errors.New("wallet has no spendable outputs")

	// ErrTooFewSpendableOutputs is returned when an exact-count selection
	// asks for more outputs than the wallet can provide.
	ErrTooFewSpendableOutputs = errors.New("wallet has too few " +
		"spendable outputs")

	// ErrInsufficientFunds is returned when the selected or available
	// funds cannot cover the requested amounts and fees.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDustChange is returned when a plan would leave intermediate
	// change below the dust limit. The plan is rejected as a whole before
	// any network call.
	ErrDustChange = errors.New("intermediate change would fall below " +
		"the dust limit")

	// ErrChangePoolEmpty is returned when a symbol requires change
	// branches but the plan leaves no change to distribute.
	ErrChangePoolEmpty = errors.New("change pool is empty")

	// ErrChangeShortfall is returned when a frame's change cannot cover
	// the values and fees of the frames after it.
	ErrChangeShortfall = errors.New("change does not cover downstream " +
		"frames")
)

// Fee selection errors.
var (
	// ErrFeeCapExceeded is returned when the computed absolute fee
	// exceeds the caller's cap. It is surfaced, never retried.
	ErrFeeCapExceeded = errors.New("computed fee exceeds the configured " +
		"maximum")
)

// Broadcast errors.
var (
	// ErrUnresolvedPriorChange is returned when a forward reference to a
	// prior step's change output cannot be resolved. Given a correctly
	// built plan this signals an internal invariant defect.
	ErrUnresolvedPriorChange = errors.New("prior change output " +
		"referenced before it was created")

	// ErrBroadcast wraps a node-reported policy or transport failure
	// during broadcast. Remaining steps are aborted; completed broadcasts
	// stand.
	ErrBroadcast = errors.New("broadcast failed")

	// ErrConfirmationTimeout is returned when a step does not reach the
	// required confirmation depth within its wait budget. Remaining steps
	// are aborted; completed broadcasts stand.
	ErrConfirmationTimeout = errors.New("confirmation deadline exceeded")

	// ErrAuxPayloadCount is returned when the number of auxiliary
	// payloads does not match the number of plan steps.
	ErrAuxPayloadCount = errors.New("aux payload count must match the " +
		"number of steps")

	// ErrBlockTargetTooLow is returned when a requested target block
	// height is not above the current height.
	ErrBlockTargetTooLow = errors.New("block target must be greater " +
		"than the current height")

	// ErrBlockTargetMissed is returned when the chain has already moved
	// past the drift window around a scheduled target block.
	ErrBlockTargetMissed = errors.New("current height exceeds the drift " +
		"window for the block target")
)

// Single-transaction fan-out errors.
var (
	// ErrMixedDestinations is returned when fan-out mode is requested for
	// a sequence whose steps pay different destination addresses.
	ErrMixedDestinations = errors.New("fan-out mode requires a " +
		"consistent destination address")

	// ErrMixedFees is returned when fan-out mode is requested for a
	// sequence without a uniform fee.
	ErrMixedFees = errors.New("fan-out mode requires a uniform fee " +
		"across steps")

	// ErrMixedScriptPlanes is returned when fan-out mode is requested for
	// a sequence with differing script-plane tags.
	ErrMixedScriptPlanes = errors.New("fan-out mode does not support " +
		"mixed script planes")

	// ErrMultipleAuxPayloads is returned when more than one step of a
	// fan-out sequence carries a distinct auxiliary payload.
	ErrMultipleAuxPayloads = errors.New("fan-out mode supports at most " +
		"one aux payload across steps")

	// ErrEmptyStepOutputs is returned when a fan-out sequence contains a
	// step without value outputs. Planner-built sequences always carry at
	// least one output per step; this guards hand-built plans.
	ErrEmptyStepOutputs = errors.New("fan-out mode requires every step " +
		"to carry a value output")
)
