// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

const (
	// EnvMinFeeRate is the environment variable that, when set to a
	// sat/vb value, acts as an operator-level fee floor.
	EnvMinFeeRate = "DGBPLANNER_MIN_FEE_RATE_SATVB"

	// EnvFallbackFeeRate is the environment variable that, when set to a
	// sat/vb value, overrides the built-in fallback rate used when the
	// node has no estimate.
	EnvFallbackFeeRate = "DGBPLANNER_FALLBACK_FEE_RATE_SATVB"

	// DefaultConfTarget is the confirmation horizon used for node fee
	// estimates when the caller does not specify one.
	DefaultConfTarget int64 = 6

	// DefaultEstimateMode is the node estimation mode used when the
	// caller does not specify one.
	DefaultEstimateMode = "CONSERVATIVE"
)

// DefaultFallbackFeeRate is the rate used when the caller supplies no rate,
// no floor applies, and the node has no estimate. Deliberately high: an
// overpaid fee confirms, an underpaid one strands the chain.
var DefaultFallbackFeeRate = dgbunit.NewSatPerVByte(10_000)

// Fee rate source tags reported in a FeeSelection.
const (
	// FeeSourceUser marks a caller-supplied explicit rate.
	FeeSourceUser = "user"

	// FeeSourceEstimateCoinKVB marks a node estimate interpreted as
	// coin/kvB and converted.
	FeeSourceEstimateCoinKVB = "estimatesmartfee[dgb/kvb]"

	// FeeSourceEstimateSatVB marks a node estimate taken as sat/vb.
	FeeSourceEstimateSatVB = "estimatesmartfee[sat/vb]"

	// FeeSourceFallback marks the fallback chain.
	FeeSourceFallback = "fallback"
)

// Floor component labels reported in a FeeSelection.
const (
	FloorEnv            = "env"
	FloorOverride       = "floor_override"
	FloorMempoolMin     = "mempoolminfee"
	FloorRelayFee       = "relayfee"
	FloorIncrementalFee = "incrementalfee"
)

// FloorComponent is one named fee floor candidate.
type FloorComponent struct {
	// Label identifies where the floor came from.
	Label string

	// Rate is the floor value.
	Rate dgbunit.SatPerVByte
}

// FeeRequest describes one fee-rate selection. The zero value asks for a
// node estimate at the default horizon with no floors beyond node policy.
type FeeRequest struct {
	// UserRate is an explicit caller rate. When set it wins over any
	// node estimate, though floors still apply.
	UserRate *dgbunit.SatPerVByte

	// ConfTarget is the estimate confirmation horizon. Zero selects
	// DefaultConfTarget.
	ConfTarget int64

	// EstimateMode is the node estimation mode. Empty selects
	// DefaultEstimateMode.
	EstimateMode string

	// FloorRate is a caller-supplied fee floor.
	FloorRate *dgbunit.SatPerVByte

	// FallbackRate overrides the built-in fallback used when no other
	// rate is available.
	FallbackRate *dgbunit.SatPerVByte

	// MaxFee caps the absolute fee when TxVSize is known. Zero means no
	// cap.
	MaxFee btcutil.Amount

	// TxVSize is the virtual size of the transaction the fee is for, or
	// zero when unknown. Without it no absolute fee is computed.
	TxVSize int64
}

// FeeSelection is the outcome of a fee-rate selection: the chosen rate, a tag
// naming where it came from, and the floor components that ended up binding.
type FeeSelection struct {
	// Rate is the selected fee rate after flooring.
	Rate dgbunit.SatPerVByte

	// Source tags the origin of the pre-floor rate.
	Source string

	// Floors lists the floor candidates equal to the applied floor.
	// Empty when no floor raised the rate.
	Floors []FloorComponent

	// Fee is the absolute fee for TxVSize, or zero when the size was
	// unknown.
	Fee btcutil.Amount

	// VSize echoes the request's TxVSize.
	VSize int64
}

// envFeeRate reads a sat/vb rate from the environment, returning nil when the
// variable is unset or unparsable. A bad value is logged and ignored rather
// than failing the selection.
func envFeeRate(name string) *dgbunit.SatPerVByte {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		log.Warnf("Ignoring %s=%q: not a positive number", name, raw)
		return nil
	}

	rate := dgbunit.NewSatPerVByte(value)

	return &rate
}

// SelectFeeRate picks a fee rate for one transaction. An explicit caller rate
// wins over a node estimate, which wins over the fallback chain; the result
// is then clamped up to the highest applicable floor. Node estimates below
// 1.0 are treated as coin/kvB and converted, matching how DigiByte Core
// reports estimatesmartfee.
//
// When req.TxVSize is set the absolute fee is computed and checked against
// req.MaxFee; a cap violation returns ErrFeeCapExceeded and is never resolved
// by silently lowering the rate.
func SelectFeeRate(ctx context.Context, node chain.WalletRPC,
	req *FeeRequest) (*FeeSelection, error) {

	if req == nil {
		req = &FeeRequest{}
	}

	candidates := floorCandidates(ctx, node, req)

	rate, source := pickRate(ctx, node, req)

	// Clamp up to the highest floor. All candidates equal to the applied
	// floor are reported, so the caller can see every policy that bound.
	var applied []FloorComponent
	floor := maxFloor(candidates)
	if floor != nil && rate.LessThan(floor.Rate) {
		log.Debugf("Raising fee rate %v to floor %v (%s)", rate,
			floor.Rate, floor.Label)
		rate = floor.Rate
	}
	if floor != nil && rate.Equal(floor.Rate) {
		for _, c := range candidates {
			if c.Rate.Equal(floor.Rate) {
				applied = append(applied, c)
			}
		}
	}

	sel := &FeeSelection{
		Rate:   rate,
		Source: source,
		Floors: applied,
	}

	if req.TxVSize > 0 {
		sel.VSize = req.TxVSize
		sel.Fee = rate.FeeForVSize(req.TxVSize)

		if req.MaxFee > 0 && sel.Fee > req.MaxFee {
			return nil, fmt.Errorf("%w: %v at %v for %d vbytes, "+
				"cap %v", ErrFeeCapExceeded, sel.Fee, rate,
				req.TxVSize, req.MaxFee)
		}
	}

	log.Debugf("Selected fee rate %v (source=%s, floors=%d)", sel.Rate,
		sel.Source, len(sel.Floors))

	return sel, nil
}

// floorCandidates collects every applicable fee floor: the environment
// override, the caller floor, and the node's mempool and relay policy. Policy
// read failures degrade to fewer floors rather than failing the selection.
func floorCandidates(ctx context.Context, node chain.WalletRPC,
	req *FeeRequest) []FloorComponent {

	var candidates []FloorComponent

	if env := envFeeRate(EnvMinFeeRate); env != nil {
		candidates = append(candidates, FloorComponent{
			Label: FloorEnv,
			Rate:  *env,
		})
	}

	if req.FloorRate != nil && !req.FloorRate.IsZero() {
		candidates = append(candidates, FloorComponent{
			Label: FloorOverride,
			Rate:  *req.FloorRate,
		})
	}

	mempool, err := node.MempoolPolicy(ctx)
	switch {
	case err != nil:
		log.Debugf("Mempool policy unavailable: %v", err)

	case mempool != nil && mempool.MinFeeRate > 0:
		candidates = append(candidates, FloorComponent{
			Label: FloorMempoolMin,
			Rate: dgbunit.SatPerVByteFromCoinPerKVB(
				mempool.MinFeeRate,
			),
		})
	}

	network, err := node.NetworkPolicy(ctx)
	switch {
	case err != nil:
		log.Debugf("Network policy unavailable: %v", err)

	case network != nil:
		if network.RelayFeeRate > 0 {
			candidates = append(candidates, FloorComponent{
				Label: FloorRelayFee,
				Rate: dgbunit.SatPerVByteFromCoinPerKVB(
					network.RelayFeeRate,
				),
			})
		}
		if network.IncrementalFeeRate > 0 {
			candidates = append(candidates, FloorComponent{
				Label: FloorIncrementalFee,
				Rate: dgbunit.SatPerVByteFromCoinPerKVB(
					network.IncrementalFeeRate,
				),
			})
		}
	}

	return candidates
}

// maxFloor returns the highest floor candidate, or nil when there are none.
func maxFloor(candidates []FloorComponent) *FloorComponent {
	var best *FloorComponent
	for i := range candidates {
		c := &candidates[i]
		if best == nil || c.Rate.GreaterThan(best.Rate) {
			best = c
		}
	}

	return best
}

// pickRate selects the pre-floor rate: the caller's explicit rate, then a
// node estimate, then the fallback chain.
func pickRate(ctx context.Context, node chain.WalletRPC,
	req *FeeRequest) (dgbunit.SatPerVByte, string) {

	if req.UserRate != nil {
		return *req.UserRate, FeeSourceUser
	}

	confTarget := req.ConfTarget
	if confTarget <= 0 {
		confTarget = DefaultConfTarget
	}
	mode := req.EstimateMode
	if mode == "" {
		mode = DefaultEstimateMode
	}

	est, err := node.EstimateFeeRate(ctx, confTarget, mode)
	switch {
	case err != nil:
		log.Infof("Fee estimate unavailable: %v", err)

	case est != nil && est.FeeRate > 0:
		// Estimates below 1.0 cannot plausibly be sat/vb on a live
		// network; they are the coin/kvB form the node natively
		// reports.
		if est.FeeRate < 1.0 {
			return dgbunit.SatPerVByteFromCoinPerKVB(est.FeeRate),
				FeeSourceEstimateCoinKVB
		}

		return dgbunit.NewSatPerVByte(est.FeeRate),
			FeeSourceEstimateSatVB
	}

	// Fallback chain: caller floor, environment fallback, caller
	// fallback, built-in default.
	if req.FloorRate != nil && !req.FloorRate.IsZero() {
		return *req.FloorRate, FeeSourceFallback
	}
	if env := envFeeRate(EnvFallbackFeeRate); env != nil {
		return *env, FeeSourceFallback
	}
	if req.FallbackRate != nil && !req.FallbackRate.IsZero() {
		return *req.FallbackRate, FeeSourceFallback
	}

	return DefaultFallbackFeeRate, FeeSourceFallback
}
