package planner

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

// TestSelectFeeRateUser checks that an explicit caller rate wins over node
// estimates but still honors floors.
func TestSelectFeeRateUser(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 50, Blocks: 6},
	}

	rate := dgbunit.NewSatPerVByte(25)
	sel, err := SelectFeeRate(context.Background(), node, &FeeRequest{
		UserRate: &rate,
	})
	require.NoError(t, err)
	require.Equal(t, FeeSourceUser, sel.Source)
	require.True(t, sel.Rate.Equal(rate))
	require.Empty(t, sel.Floors)
}

// TestSelectFeeRateEstimateUnits checks the unit heuristic on node estimates:
// values below 1.0 are coin/kvB, values at or above are sat/vb.
func TestSelectFeeRateEstimateUnits(t *testing.T) {
	t.Parallel()

	// 0.0002 coin/kvB converts to 20 sat/vb.
	node := &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 0.0002, Blocks: 6},
	}

	sel, err := SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)
	require.Equal(t, FeeSourceEstimateCoinKVB, sel.Source)
	require.True(t, sel.Rate.Equal(dgbunit.NewSatPerVByte(20)))

	// 12 is taken as sat/vb directly.
	node = &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 12, Blocks: 6},
	}

	sel, err = SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)
	require.Equal(t, FeeSourceEstimateSatVB, sel.Source)
	require.True(t, sel.Rate.Equal(dgbunit.NewSatPerVByte(12)))
}

// TestSelectFeeRateFloors checks that policy floors raise a low rate and that
// every binding floor is reported.
func TestSelectFeeRateFloors(t *testing.T) {
	t.Parallel()

	// Node policy floors: mempoolminfee 0.0001 coin/kvB = 10 sat/vb,
	// relayfee 0.00001 coin/kvB = 1 sat/vb.
	node := &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 2, Blocks: 6},
		mempool:  &chain.MempoolPolicy{MinFeeRate: 0.0001},
		network:  &chain.NetworkPolicy{RelayFeeRate: 0.00001},
	}

	sel, err := SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)

	// The 2 sat/vb estimate is below the 10 sat/vb mempool floor.
	require.True(t, sel.Rate.Equal(dgbunit.NewSatPerVByte(10)))
	require.Len(t, sel.Floors, 1)
	require.Equal(t, FloorMempoolMin, sel.Floors[0].Label)

	// A rate already above every floor is untouched and reports no
	// binding floor.
	rate := dgbunit.NewSatPerVByte(50)
	sel, err = SelectFeeRate(context.Background(), node, &FeeRequest{
		UserRate: &rate,
	})
	require.NoError(t, err)
	require.True(t, sel.Rate.Equal(rate))
	require.Empty(t, sel.Floors)
}

// TestSelectFeeRateEnvFloor checks the environment-level floor override.
func TestSelectFeeRateEnvFloor(t *testing.T) {
	t.Setenv(EnvMinFeeRate, "30")

	node := &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 5, Blocks: 6},
	}

	sel, err := SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)
	require.True(t, sel.Rate.Equal(dgbunit.NewSatPerVByte(30)))
	require.Len(t, sel.Floors, 1)
	require.Equal(t, FloorEnv, sel.Floors[0].Label)

	// A garbage value is ignored rather than failing the selection.
	t.Setenv(EnvMinFeeRate, "not-a-number")

	sel, err = SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)
	require.True(t, sel.Rate.Equal(dgbunit.NewSatPerVByte(5)))
}

// TestSelectFeeRateFallback checks the fallback chain when the node has no
// estimate.
func TestSelectFeeRateFallback(t *testing.T) {
	t.Parallel()

	// No estimate at all: the built-in default applies.
	node := &mockNode{}

	sel, err := SelectFeeRate(context.Background(), node, nil)
	require.NoError(t, err)
	require.Equal(t, FeeSourceFallback, sel.Source)
	require.True(t, sel.Rate.Equal(DefaultFallbackFeeRate))

	// A caller floor doubles as the fallback rate.
	floor := dgbunit.NewSatPerVByte(7)
	sel, err = SelectFeeRate(context.Background(), node, &FeeRequest{
		FloorRate: &floor,
	})
	require.NoError(t, err)
	require.Equal(t, FeeSourceFallback, sel.Source)
	require.True(t, sel.Rate.Equal(floor))

	// A dedicated fallback rate is used when no floor is set.
	fallback := dgbunit.NewSatPerVByte(42)
	sel, err = SelectFeeRate(context.Background(), node, &FeeRequest{
		FallbackRate: &fallback,
	})
	require.NoError(t, err)
	require.True(t, sel.Rate.Equal(fallback))
}

// TestSelectFeeRateAbsoluteFee checks absolute fee computation and the fee
// cap.
func TestSelectFeeRateAbsoluteFee(t *testing.T) {
	t.Parallel()

	node := &mockNode{
		estimate: &chain.FeeEstimate{FeeRate: 10, Blocks: 6},
	}

	sel, err := SelectFeeRate(context.Background(), node, &FeeRequest{
		TxVSize: 250,
	})
	require.NoError(t, err)
	require.Equal(t, int64(250), sel.VSize)
	require.Equal(t, btcutil.Amount(2_500), sel.Fee)

	// The same selection under a lower cap is rejected, never silently
	// lowered.
	_, err = SelectFeeRate(context.Background(), node, &FeeRequest{
		TxVSize: 250,
		MaxFee:  2_000,
	})
	require.ErrorIs(t, err, ErrFeeCapExceeded)
}
