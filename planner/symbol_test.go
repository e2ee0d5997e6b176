package planner

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/dialect"
)

// feeAmount is a helper for frame fee overrides.
func feeAmount(v btcutil.Amount) *btcutil.Amount {
	return &v
}

// TestPlanSymbol checks the single-transaction symbol form: exact input
// cardinality, receiver output, and even change distribution.
func TestPlanSymbol(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(0, 40_000_000)),
			spendable("b", 0, coins(0, 30_000_000)),
			spendable("c", 0, coins(0, 20_000_000)),
		},
	}
	p := New(node, nil)

	sym := &dialect.Symbol{
		Name:    "RELAY",
		Value:   coins(0, 51_780_000), // 0.5178
		Fee:     coins(0, 10_000),     // 0.0001
		Inputs:  2,
		Outputs: 3,
	}

	plan, err := p.PlanSymbol(context.Background(), sym, &SymbolPlanRequest{
		Receiver: "rcv",
	})
	require.NoError(t, err)

	// The two largest outputs fund the plan: 0.4 + 0.3 = 0.7.
	require.Len(t, plan.Inputs, 2)
	require.Equal(t, coins(0, 70_000_000), plan.InputTotal())

	// 0.7 - 0.5178 - 0.0001 leaves 0.1821 split across two branches of
	// 0.09105 each.
	require.Equal(t, coins(0, 18_210_000), plan.ChangeAmount)
	require.Len(t, plan.Outputs, 3)
	require.Equal(t, "rcv", plan.Outputs[0].Address)
	require.Equal(t, coins(0, 51_780_000), plan.Outputs[0].Amount)
	require.Equal(t, coins(0, 9_105_000), plan.Outputs[1].Amount)
	require.Equal(t, coins(0, 9_105_000), plan.Outputs[2].Amount)

	// Inputs equal outputs plus fee to the satoshi.
	var outTotal btcutil.Amount
	for _, out := range plan.Outputs {
		outTotal += out.Amount
	}
	require.Equal(t, plan.InputTotal(), outTotal+plan.Fee)

	// No scheduling was requested and the symbol has no delta.
	require.True(t, plan.BlockTarget.IsNone())
	require.False(t, plan.EnforceBlockTarget)
}

// TestPlanSymbolChangeRemainder checks that an uneven change pool gives the
// remainder to the last branch.
func TestPlanSymbolChangeRemainder(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, 1_000_003),
		},
	}
	p := New(node, nil)

	sym := &dialect.Symbol{
		Name:    "SPLIT",
		Value:   900_000,
		Fee:     0,
		Inputs:  1,
		Outputs: 3,
	}

	plan, err := p.PlanSymbol(context.Background(), sym,
		&SymbolPlanRequest{Receiver: "rcv"})
	require.NoError(t, err)

	// 100003 sats across two branches: 50001 and 50002.
	require.Equal(t, btcutil.Amount(50_001), plan.Outputs[1].Amount)
	require.Equal(t, btcutil.Amount(50_002), plan.Outputs[2].Amount)
}

// TestPlanSymbolSingleOutputFold checks that a single-output symbol folds
// leftover change into the receiver output to keep the output count exact.
func TestPlanSymbolSingleOutputFold(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(1, 0)),
		},
	}
	p := New(node, nil)

	sym := &dialect.Symbol{
		Name:    "ACK",
		Value:   coins(0, 90_000_000),
		Fee:     coins(0, 10_000),
		Inputs:  1,
		Outputs: 1,
	}

	plan, err := p.PlanSymbol(context.Background(), sym,
		&SymbolPlanRequest{Receiver: "rcv"})
	require.NoError(t, err)

	require.Len(t, plan.Outputs, 1)
	require.Equal(t, coins(0, 99_990_000), plan.Outputs[0].Amount)
	require.Zero(t, plan.ChangeAmount)
}

// TestPlanSymbolChangeErrors checks the change-branch failure modes.
func TestPlanSymbolChangeErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Funding exactly covers value plus fee: no pool for the required
	// branches.
	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(1, 10_000)),
		},
	}
	p := New(node, nil)

	sym := &dialect.Symbol{
		Name:    "TIGHT",
		Value:   coins(1, 0),
		Fee:     10_000,
		Inputs:  1,
		Outputs: 2,
	}

	_, err := p.PlanSymbol(ctx, sym, &SymbolPlanRequest{Receiver: "rcv"})
	require.ErrorIs(t, err, ErrChangePoolEmpty)

	// A pool that spreads below dust per branch is rejected.
	node = &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(1, 25_000)),
		},
	}
	p = New(node, nil)

	sym.Outputs = 3 // 15000 sats over two branches is 7500 each.
	_, err = p.PlanSymbol(ctx, sym, &SymbolPlanRequest{Receiver: "rcv"})
	require.ErrorIs(t, err, ErrDustChange)
}

// TestPlanSymbolBlockTargets checks scheduling: explicit targets are
// validated and enforced, symbol deltas derive advisory targets.
func TestPlanSymbolBlockTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sym := &dialect.Symbol{
		Name:   "SCHED",
		Value:  coins(0, 50_000_000),
		Fee:    10_000,
		Inputs: 1, Outputs: 1,
		Delta: 12,
	}

	// A symbol delta derives target = height + delta, advisory only.
	node := &mockNode{
		heights: []int64{1000},
		unspent: []chain.Unspent{spendable("a", 0, coins(1, 0))},
	}
	p := New(node, nil)

	plan, err := p.PlanSymbol(ctx, sym, &SymbolPlanRequest{Receiver: "rcv"})
	require.NoError(t, err)
	require.Equal(t, int64(1012), plan.BlockTarget.UnwrapOr(0))
	require.False(t, plan.EnforceBlockTarget)

	// An explicit target wins over the delta and is enforced.
	node = &mockNode{
		heights: []int64{1000},
		unspent: []chain.Unspent{spendable("a", 0, coins(1, 0))},
	}
	p = New(node, nil)

	plan, err = p.PlanSymbol(ctx, sym, &SymbolPlanRequest{
		Receiver:    "rcv",
		BlockTarget: fn.Some(int64(1100)),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1100), plan.BlockTarget.UnwrapOr(0))
	require.True(t, plan.EnforceBlockTarget)

	// A target at or below the current height is rejected.
	node = &mockNode{
		heights: []int64{1000},
		unspent: []chain.Unspent{spendable("a", 0, coins(1, 0))},
	}
	p = New(node, nil)

	_, err = p.PlanSymbol(ctx, sym, &SymbolPlanRequest{
		Receiver:    "rcv",
		BlockTarget: fn.Some(int64(1000)),
	})
	require.ErrorIs(t, err, ErrBlockTargetTooLow)
}

// chainedSymbol returns a three-frame symbol for chained planning tests.
func chainedSymbol() *dialect.Symbol {
	return &dialect.Symbol{
		Name:   "BURST",
		Value:  coins(3, 0),
		Fee:    10_000,
		Inputs: 2, Outputs: 1,
		Frames: []*dialect.Frame{
			{Value: coins(1, 50_000_000)},
			{
				Value: coins(1, 0),
				Fee:   feeAmount(30_000),
				ScriptPlane: &dialect.ScriptPlane{
					ScriptType: "p2tr",
					BranchID:   -1,
				},
			},
			{Value: coins(0, 50_000_000)},
		},
	}
}

// TestPlanSymbolChain checks the chained frame form end to end.
func TestPlanSymbolChain(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(2, 0)),
			spendable("b", 0, coins(1, 50_000_000)),
			spendable("c", 0, coins(0, 20_000_000)),
		},
	}
	p := New(node, nil)

	plan, err := p.PlanSymbolChain(
		context.Background(), chainedSymbol(),
		&SymbolPlanRequest{Receiver: "rcv"},
	)
	require.NoError(t, err)
	require.Equal(t, "rcv", plan.Destination)
	require.Len(t, plan.Transactions, 3)
	require.Len(t, plan.InitialUTXOs, 2)

	// Frame one spends the two selected outputs: 2.0 + 1.5 = 3.5, pays
	// 1.5 at the symbol fee, leaving 1.9999.
	first := plan.Transactions[0]
	require.Len(t, first.Inputs, 2)
	require.Equal(t, btcutil.Amount(10_000), first.Fee)
	require.Equal(t, coins(1, 99_990_000), first.Change.Amount)
	require.Nil(t, first.ScriptPlane)

	// Frame two carries its fee and plane overrides: 1.9999 - 1.0 -
	// 0.0003 leaves 0.9996.
	second := plan.Transactions[1]
	require.Len(t, second.Inputs, 1)
	require.IsType(t, &PriorChangeInput{}, second.Inputs[0])
	require.Equal(t, btcutil.Amount(30_000), second.Fee)
	require.NotNil(t, second.ScriptPlane)
	require.Equal(t, coins(0, 99_960_000), second.Change.Amount)

	// Frame three: 0.9996 - 0.5 - 0.0001 leaves 0.4995 as final change.
	third := plan.Transactions[2]
	require.Equal(t, coins(0, 49_950_000), third.Change.Amount)

	require.NoError(t, plan.PatternSequence().Validate())
}

// TestPlanSymbolChainValidation checks the chained request rejections.
func TestPlanSymbolChainValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(4, 0)),
			spendable("b", 0, coins(4, 0)),
		},
	}
	p := New(node, nil)

	// A symbol without frames has no chained form.
	flat := &dialect.Symbol{
		Name: "FLAT", Value: coins(1, 0), Fee: 10_000,
		Inputs: 1, Outputs: 1,
	}
	_, err := p.PlanSymbolChain(ctx, flat, nil)
	require.ErrorIs(t, err, ErrNoFrames)

	// A later frame demanding multiple inputs cannot be satisfied by a
	// single change output.
	sym := chainedSymbol()
	sym.Frames[1].Inputs = 2
	_, err = p.PlanSymbolChain(ctx, sym, &SymbolPlanRequest{
		Receiver: "rcv",
	})
	require.ErrorIs(t, err, ErrLateFrameInputs)
}

// TestPlanSymbolChainMaxFrames checks chain truncation.
func TestPlanSymbolChainMaxFrames(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{
			spendable("a", 0, coins(2, 0)),
			spendable("b", 0, coins(1, 0)),
		},
	}
	p := New(node, nil)

	plan, err := p.PlanSymbolChain(
		context.Background(), chainedSymbol(),
		&SymbolPlanRequest{Receiver: "rcv", MaxFrames: 2},
	)
	require.NoError(t, err)
	require.Len(t, plan.Transactions, 2)
}

// TestPlanSymbolDerivedReceiver checks that an empty receiver derives a
// wallet address, making the plan a self-spend.
func TestPlanSymbolDerivedReceiver(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		unspent: []chain.Unspent{spendable("a", 0, coins(1, 0))},
	}
	p := New(node, nil)

	sym := &dialect.Symbol{
		Name: "SELF", Value: coins(0, 50_000_000), Fee: 10_000,
		Inputs: 1, Outputs: 1,
	}

	plan, err := p.PlanSymbol(context.Background(), sym, nil)
	require.NoError(t, err)
	require.Equal(t, "change-1", plan.Outputs[0].Address)
}
