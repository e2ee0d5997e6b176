package planner

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/dgbsuite/dgbplanner/chain"
)

// planThreeSteps builds a valid three-step sequence against the given node.
func planThreeSteps(t *testing.T, node *mockNode) *PatternPlanSequence {
	t.Helper()

	node.unspent = []chain.Unspent{
		spendable("a", 0, coins(4, 0)),
		spendable("b", 0, coins(3, 0)),
	}

	seq, err := New(node, nil).PlanPattern(
		context.Background(), &PatternRequest{
			Destination: "dest",
			Amounts: []btcutil.Amount{
				coins(1, 0), coins(2, 0), coins(3, 0),
			},
			Fee: coins(0, 10_000_000),
		},
	)
	require.NoError(t, err)

	return seq
}

// TestBroadcastChained checks sequential broadcast: one node call per step,
// each later step spending the previous txid's change output position.
func TestBroadcastChained(t *testing.T) {
	t.Parallel()

	node := &mockNode{}
	seq := planThreeSteps(t, node)

	obs := &recordingObserver{}
	coord := NewCoordinator(node, &CoordinatorConfig{
		Observer: obs,
		Clock:    &mockClock{},
	})

	txids, err := coord.Broadcast(context.Background(), seq, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"tx-0001", "tx-0002", "tx-0003"}, txids)
	require.Len(t, node.broadcasts, 3)

	// Step two spends tx-0001's output 1: the change slot directly after
	// the single value output.
	second := node.broadcasts[1]
	require.Len(t, second.Inputs, 1)
	require.Equal(t, chain.TxInput{TxID: "tx-0001", Vout: 1},
		second.Inputs[0])

	// Step three spends tx-0002's change the same way.
	require.Equal(t, chain.TxInput{TxID: "tx-0002", Vout: 1},
		node.broadcasts[2].Inputs[0])

	// Outputs arrive value first, change second, as exact amounts.
	require.Equal(t, coins(1, 0), node.broadcasts[0].Outputs[0].Amount)
	require.Equal(t, coins(5, 90_000_000),
		node.broadcasts[0].Outputs[1].Amount)

	// The lifecycle was reported for every step.
	require.Contains(t, obs.states, "1:broadcast")
	require.Contains(t, obs.states, "3:done")
}

// TestBroadcastConfirmationGating checks the poll loop: depths 0, 0, 1 for
// the first step mean three polls and two interval ticks before step two is
// released.
func TestBroadcastConfirmationGating(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		confs: map[string][]int64{
			"tx-0001": {0, 0, 1},
			"tx-0002": {1},
		},
	}
	seq := planThreeSteps(t, node)

	clk := &mockClock{}
	obs := &recordingObserver{}
	coord := NewCoordinator(node, &CoordinatorConfig{
		MinConfsBetweenSteps: 1,
		Observer:             obs,
		Clock:                clk,
	})

	txids, err := coord.Broadcast(context.Background(), seq, nil)
	require.NoError(t, err)
	require.Len(t, txids, 3)

	// tx-0001 took three polls, tx-0002 one: four total, and only the
	// unconfirmed polls tick the clock.
	require.Equal(t, 4, node.confPolls)
	require.Equal(t, []time.Duration{
		DefaultPollInterval, DefaultPollInterval,
	}, clk.ticks)

	// Progress was reported for the two unconfirmed polls.
	require.Equal(t, []string{
		"1:tx-0001:0/1", "1:tx-0001:0/1",
	}, obs.progress)

	require.Contains(t, obs.states, "1:confirmation_wait")
	require.Contains(t, obs.states, "1:confirmed")
}

// TestBroadcastConfirmationTimeout checks that the wait budget aborts the
// chain with the completed txids intact.
func TestBroadcastConfirmationTimeout(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		confs: map[string][]int64{"tx-0001": {0}},
	}
	seq := planThreeSteps(t, node)

	clk := &mockClock{}
	obs := &recordingObserver{}
	coord := NewCoordinator(node, &CoordinatorConfig{
		MinConfsBetweenSteps: 1,
		WaitBetweenTxs:       5 * time.Second,
		MaxWaitPerStep:       10 * time.Second,
		Observer:             obs,
		Clock:                clk,
	})

	txids, err := coord.Broadcast(context.Background(), seq, nil)
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	// Step one broadcast and stands; nothing after it was sent.
	require.Equal(t, []string{"tx-0001"}, txids)
	require.Len(t, node.broadcasts, 1)
	require.Contains(t, obs.states, "1:confirmation_timeout")
}

// TestBroadcastFailureAborts checks that a node rejection stops the chain
// and surfaces the node error with the completed txids.
func TestBroadcastFailureAborts(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		broadcastErrs: map[int]error{1: chain.ErrFeeBelowRelayMinimum},
	}
	seq := planThreeSteps(t, node)

	obs := &recordingObserver{}
	coord := NewCoordinator(node, &CoordinatorConfig{
		Observer: obs,
		Clock:    &mockClock{},
	})

	txids, err := coord.Broadcast(context.Background(), seq, nil)
	require.ErrorIs(t, err, ErrBroadcast)
	require.ErrorIs(t, err, chain.ErrFeeBelowRelayMinimum)
	require.Equal(t, []string{"tx-0001"}, txids)
	require.Contains(t, obs.states, "2:build_failed")
}

// TestBroadcastAuxPayloads checks per-step payload attachment and the count
// mismatch rejection.
func TestBroadcastAuxPayloads(t *testing.T) {
	t.Parallel()

	node := &mockNode{}
	seq := planThreeSteps(t, node)

	coord := NewCoordinator(node, &CoordinatorConfig{Clock: &mockClock{}})

	_, err := coord.Broadcast(context.Background(), seq, [][]byte{{0x01}})
	require.ErrorIs(t, err, ErrAuxPayloadCount)

	payloads := [][]byte{{0xde, 0xad}, nil, {0xbe, 0xef}}
	_, err = coord.Broadcast(context.Background(), seq, payloads)
	require.NoError(t, err)

	require.Equal(t, [][]byte{{0xde, 0xad}},
		node.broadcasts[0].AuxPayloads)
	require.Empty(t, node.broadcasts[1].AuxPayloads)
	require.Equal(t, [][]byte{{0xbe, 0xef}},
		node.broadcasts[2].AuxPayloads)
}

// TestBroadcastSingleTx checks fan-out mode: one transaction carrying one
// output per planned step plus change.
func TestBroadcastSingleTx(t *testing.T) {
	t.Parallel()

	node := &mockNode{}
	seq := planThreeSteps(t, node)

	coord := NewCoordinator(node, &CoordinatorConfig{Clock: &mockClock{}})

	txid, err := coord.BroadcastSingleTx(context.Background(), seq, nil)
	require.NoError(t, err)
	require.Equal(t, "tx-0001", txid)
	require.Len(t, node.broadcasts, 1)

	req := node.broadcasts[0]

	// Both funding outputs, all three amounts, and one change output.
	require.Len(t, req.Inputs, 2)
	require.Len(t, req.Outputs, 4)
	require.Equal(t, coins(1, 0), req.Outputs[0].Amount)
	require.Equal(t, coins(2, 0), req.Outputs[1].Amount)
	require.Equal(t, coins(3, 0), req.Outputs[2].Amount)

	// Change is the full funding minus amounts and one shared fee:
	// 7.0 - 6.0 - 0.1 = 0.9.
	require.Equal(t, coins(0, 90_000_000), req.Outputs[3].Amount)
}

// TestBroadcastSingleTxUniformity checks the fan-out consistency rules.
func TestBroadcastSingleTxUniformity(t *testing.T) {
	t.Parallel()

	node := &mockNode{}
	seq := planThreeSteps(t, node)
	coord := NewCoordinator(node, &CoordinatorConfig{Clock: &mockClock{}})
	ctx := context.Background()

	mixedDest := planThreeSteps(t, &mockNode{})
	mixedDest.Steps[1].Outputs[0].Address = "elsewhere"
	_, err := coord.BroadcastSingleTx(ctx, mixedDest, nil)
	require.ErrorIs(t, err, ErrMixedDestinations)

	mixedFee := planThreeSteps(t, &mockNode{})
	mixedFee.Steps[2].Fee++
	_, err = coord.BroadcastSingleTx(ctx, mixedFee, nil)
	require.ErrorIs(t, err, ErrMixedFees)

	// At most one step may carry a payload.
	_, err = coord.BroadcastSingleTx(ctx, seq, [][]byte{
		{0x01}, {0x02}, nil,
	})
	require.ErrorIs(t, err, ErrMultipleAuxPayloads)

	// A hand-built step without value outputs is rejected, not indexed.
	noOutputs := planThreeSteps(t, &mockNode{})
	noOutputs.Steps[1].Outputs = nil
	_, err = coord.BroadcastSingleTx(ctx, noOutputs, nil)
	require.ErrorIs(t, err, ErrEmptyStepOutputs)
}

// TestBroadcastChainBlockGate checks target-block gating: the coordinator
// polls the height until the drift window opens, and refuses a window that
// has already passed.
func TestBroadcastChainBlockGate(t *testing.T) {
	t.Parallel()

	node := &mockNode{heights: []int64{95, 97, 99}}
	seq := planThreeSteps(t, node)

	plan := &PlannedChain{
		Destination:        "dest",
		Transactions:       seq.Steps,
		BlockTarget:        fn.Some(int64(100)),
		EnforceBlockTarget: true,
	}

	clk := &mockClock{}
	obs := &recordingObserver{}
	coord := NewCoordinator(node, &CoordinatorConfig{
		MaxDriftBlocks: 1,
		Observer:       obs,
		Clock:          clk,
	})

	txids, err := coord.BroadcastChain(context.Background(), plan, nil)
	require.NoError(t, err)
	require.Len(t, txids, 3)

	// Heights 95 and 97 are outside target-drift 99, so two block polls
	// waited before height 99 released the broadcast.
	require.Equal(t, []string{"100@95", "100@97"}, obs.blocks)
	require.Equal(t, []time.Duration{
		DefaultBlockPollInterval, DefaultBlockPollInterval,
	}, clk.ticks)
}

// TestBroadcastChainMissedTarget checks that a chain already past the drift
// window refuses to broadcast.
func TestBroadcastChainMissedTarget(t *testing.T) {
	t.Parallel()

	node := &mockNode{heights: []int64{102}}
	seq := planThreeSteps(t, node)

	plan := &PlannedChain{
		Destination:        "dest",
		Transactions:       seq.Steps,
		BlockTarget:        fn.Some(int64(100)),
		EnforceBlockTarget: true,
	}

	coord := NewCoordinator(node, &CoordinatorConfig{
		MaxDriftBlocks: 1,
		Clock:          &mockClock{},
	})

	_, err := coord.BroadcastChain(context.Background(), plan, nil)
	require.ErrorIs(t, err, ErrBlockTargetMissed)

	// Nothing was sent.
	require.Empty(t, node.broadcasts)
}

// TestBroadcastUnenforcedTarget checks that an advisory target does not gate
// the broadcast.
func TestBroadcastUnenforcedTarget(t *testing.T) {
	t.Parallel()

	node := &mockNode{heights: []int64{50}}
	seq := planThreeSteps(t, node)

	plan := &PlannedChain{
		Destination:        "dest",
		Transactions:       seq.Steps,
		BlockTarget:        fn.Some(int64(100)),
		EnforceBlockTarget: false,
	}

	coord := NewCoordinator(node, &CoordinatorConfig{
		MaxDriftBlocks: 1,
		Clock:          &mockClock{},
	})

	txids, err := coord.BroadcastChain(context.Background(), plan, nil)
	require.NoError(t, err)
	require.Len(t, txids, 3)
}
