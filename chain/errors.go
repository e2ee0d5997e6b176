// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// ErrRPCResponse is the base error for all failures reported by the
	// node itself, as opposed to transport failures reaching it.
	ErrRPCResponse = errors.New("node rejected request")

	// ErrFeeBelowRelayMinimum is returned when the node rejects a
	// transaction because its fee does not meet the relay fee policy.
	ErrFeeBelowRelayMinimum = errors.New("fee below node relay minimum")

	// ErrInsufficientWalletFunds is returned when the wallet cannot fund
	// or sign a transaction due to missing spendable value.
	ErrInsufficientWalletFunds = errors.New("wallet has insufficient " +
		"funds")

	// ErrWalletLocked is returned when the wallet is locked and cannot
	// sign.
	ErrWalletLocked = errors.New("wallet is locked")

	// ErrIncompleteSignatures is returned when the node produced an
	// incomplete signature set for a transaction it was asked to sign.
	ErrIncompleteSignatures = errors.New("node failed to produce a " +
		"complete signature set")
)

// MapRPCErr maps a node error to a stable sentinel where the failure mode is
// well known, preserving the node's code and message either way. Transport
// errors pass through unchanged.
func MapRPCErr(err error) error {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}

	msg := strings.ToLower(rpcErr.Message)

	switch {
	case rpcErr.Code == -26 && strings.Contains(msg, "min relay fee"):
		return fmt.Errorf("%w: %v", ErrFeeBelowRelayMinimum, rpcErr)

	case rpcErr.Code == -4, rpcErr.Code == -6,
		strings.Contains(msg, "insufficient funds"):

		return fmt.Errorf("%w: %v", ErrInsufficientWalletFunds, rpcErr)

	case rpcErr.Code == -13,
		strings.Contains(msg, "wallet passphrase"),
		strings.Contains(msg, "wallet locked"):

		return fmt.Errorf("%w: %v", ErrWalletLocked, rpcErr)

	default:
		return fmt.Errorf("%w: %v", ErrRPCResponse, rpcErr)
	}
}
