// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the node-facing collaborator surface used by the
// planner: listing spendable outputs, deriving change addresses, reading fee
// policy, and handing fully described transactions to the wallet node for
// signing and broadcast.
//
// The package implements the surface against a DigiByte Core compatible
// JSON-RPC node. No consensus or signing logic lives here; the node does all
// key custody and signature work.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/dgbsuite/dgbplanner/dialect"
)

// Unspent is a read-only snapshot of a wallet-reported unspent output.
type Unspent struct {
	// TxID is the funding transaction id in hex.
	TxID string

	// Vout is the output index within the funding transaction.
	Vout uint32

	// Address is the address the output pays to, when the node reports
	// one.
	Address string

	// Amount is the exact output value in satoshis.
	Amount btcutil.Amount

	// Confirmations is the output's confirmation depth at query time.
	Confirmations int64

	// Spendable indicates whether the wallet considers the output
	// spendable.
	Spendable bool
}

// FeeEstimate is a node fee estimate as reported, without unit
// interpretation. The planner decides whether the value is coin/kvB or
// sat/vb.
type FeeEstimate struct {
	// FeeRate is the numeric estimate exactly as the node returned it.
	FeeRate float64

	// Blocks is the confirmation horizon the estimate applies to.
	Blocks int64
}

// MempoolPolicy carries the node's mempool admission floor.
type MempoolPolicy struct {
	// MinFeeRate is the mempool minimum fee in coin/kvB.
	MinFeeRate float64
}

// NetworkPolicy carries the node's relay fee policy.
type NetworkPolicy struct {
	// RelayFeeRate is the minimum relay fee in coin/kvB.
	RelayFeeRate float64

	// IncrementalFeeRate is the replacement fee increment in coin/kvB.
	IncrementalFeeRate float64
}

// TxInput references a concrete output to spend.
type TxInput struct {
	TxID string
	Vout uint32
}

// TxOutput pays an exact amount to an address.
type TxOutput struct {
	Address string
	Amount  btcutil.Amount
}

// SignRequest fully describes one transaction for the node to build, sign,
// and broadcast. The fee is implied by the difference between input and
// output totals; FeeHint only documents the planner's intent for logging and
// sanity checks.
type SignRequest struct {
	// Inputs are the concrete outputs to spend. Forward references must
	// be resolved before a request is constructed; this type cannot
	// express them.
	Inputs []TxInput

	// Outputs are the value and change outputs, in final order.
	Outputs []TxOutput

	// FeeHint is the absolute fee the planner budgeted.
	FeeHint btcutil.Amount

	// AuxPayloads are raw data payloads appended as unspendable data
	// outputs after the value outputs.
	AuxPayloads [][]byte

	// ScriptPlane is the opaque script-plane tag for this transaction,
	// passed through without interpretation.
	ScriptPlane *dialect.ScriptPlane
}

// WalletRPC is the external wallet-node surface the planning and broadcast
// engine depends on. Implementations must be safe for sequential use from a
// single goroutine; the engine never issues concurrent calls for one plan.
type WalletRPC interface {
	// ListSpendable returns the wallet's unspent outputs with at least
	// minConfs confirmations. Results are a fresh snapshot on every
	// call; nothing is cached.
	ListSpendable(ctx context.Context, minConfs int32) ([]Unspent, error)

	// NewChangeAddress derives a fresh change address from the wallet.
	NewChangeAddress(ctx context.Context) (string, error)

	// EstimateFeeRate asks the node for a fee estimate for the given
	// confirmation target and estimation mode. A nil estimate with a nil
	// error means the node has no estimate available.
	EstimateFeeRate(ctx context.Context, confTarget int64,
		mode string) (*FeeEstimate, error)

	// MempoolPolicy returns the node's mempool fee floor, or nil if the
	// node does not report one.
	MempoolPolicy(ctx context.Context) (*MempoolPolicy, error)

	// NetworkPolicy returns the node's relay fee policy, or nil if the
	// node does not report one.
	NetworkPolicy(ctx context.Context) (*NetworkPolicy, error)

	// BlockCount returns the current best block height.
	BlockCount(ctx context.Context) (int64, error)

	// ConfirmationDepth returns the confirmation depth of the given
	// transaction, or 0 if the transaction is unknown to the wallet.
	ConfirmationDepth(ctx context.Context, txid string) (int64, error)

	// SignAndBroadcast has the node build, sign, and broadcast the
	// described transaction, returning the new txid. Failures carry the
	// node's policy or transport error; callers do not retry.
	SignAndBroadcast(ctx context.Context, req *SignRequest) (string,
		error)
}
