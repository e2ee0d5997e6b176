// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dgbunit

const (
	// baseTxSize is the fixed overhead of a transaction: version,
	// input/output counts, and locktime.
	baseTxSize = 10

	// p2pkhInputSize is the serialized size of an input spending a
	// pay-to-pubkey-hash output: outpoint, script length, signature
	// script, and sequence.
	p2pkhInputSize = 148

	// p2pkhOutputSize is the serialized size of a pay-to-pubkey-hash
	// output: value, script length, and script.
	p2pkhOutputSize = 34

	// dataOutputOverhead is the serialized overhead of an unspendable
	// data output beyond its payload: value, script length, OP_RETURN,
	// and a push opcode.
	dataOutputOverhead = 11
)

// EstimateVSize returns a conservative virtual-size estimate for a
// transaction with the given pay-to-pubkey-hash input and output counts plus
// auxBytes of data-output payload. The estimate leans high; an overestimated
// fee confirms, an underestimated one strands.
func EstimateVSize(numInputs, numOutputs int, auxBytes int64) int64 {
	size := int64(baseTxSize)
	size += int64(numInputs) * p2pkhInputSize
	size += int64(numOutputs) * p2pkhOutputSize
	if auxBytes > 0 {
		size += dataOutputOverhead + auxBytes
	}

	return size
}
