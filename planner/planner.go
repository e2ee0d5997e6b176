// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/dgbsuite/dgbplanner/chain"
)

// DefaultMinConfirmations is the confirmation depth funding outputs must have
// when the caller does not override it.
const DefaultMinConfirmations int32 = 1

// Config tunes a Planner. The zero value selects the defaults.
type Config struct {
	// DustLimit is the minimum value of an intermediate change output.
	// Zero selects DefaultDustLimit.
	DustLimit btcutil.Amount

	// MinConfirmations is the default confirmation depth funding outputs
	// must have. Zero selects DefaultMinConfirmations.
	MinConfirmations int32
}

// Planner builds transaction plans against a wallet node. It reads spendable
// outputs and derives change addresses through the node but never signs or
// broadcasts; plans are handed to a Coordinator for that.
type Planner struct {
	node      chain.WalletRPC
	dustLimit btcutil.Amount
	minConfs  int32
}

// New creates a Planner over the given wallet node. cfg may be nil for
// defaults.
func New(node chain.WalletRPC, cfg *Config) *Planner {
	p := &Planner{
		node:      node,
		dustLimit: DefaultDustLimit,
		minConfs:  DefaultMinConfirmations,
	}
	if cfg != nil {
		if cfg.DustLimit > 0 {
			p.dustLimit = cfg.DustLimit
		}
		if cfg.MinConfirmations > 0 {
			p.minConfs = cfg.MinConfirmations
		}
	}

	return p
}

// minConfirmations resolves a per-request confirmation override against the
// planner default.
func (p *Planner) minConfirmations(override int32) int32 {
	if override > 0 {
		return override
	}

	return p.minConfs
}
