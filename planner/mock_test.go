package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/dgbsuite/dgbplanner/chain"
)

// mockNode is an in-memory WalletRPC double. Broadcast transactions consume
// their funding outputs from the unspent set, so chained plans see a wallet
// that evolves the way a real one would.
type mockNode struct {
	unspent []chain.Unspent

	estimate    *chain.FeeEstimate
	estimateErr error
	mempool     *chain.MempoolPolicy
	network     *chain.NetworkPolicy

	// heights is a queue of getblockcount answers; the last entry
	// repeats.
	heights []int64

	// confs queues per-txid confirmation depths; the last entry repeats.
	confs map[string][]int64

	// broadcasts records every sign request, in order.
	broadcasts []*chain.SignRequest

	// broadcastErrs fails the n-th broadcast (zero based) with the given
	// error.
	broadcastErrs map[int]error

	changeCounter int
	listCalls     int
	lastMinConfs  int32
	confPolls     int
}

var _ chain.WalletRPC = (*mockNode)(nil)

func (m *mockNode) ListSpendable(_ context.Context, minConfs int32) (
	[]chain.Unspent, error) {

	m.listCalls++
	m.lastMinConfs = minConfs

	out := make([]chain.Unspent, len(m.unspent))
	copy(out, m.unspent)

	return out, nil
}

func (m *mockNode) NewChangeAddress(context.Context) (string, error) {
	m.changeCounter++
	return fmt.Sprintf("change-%d", m.changeCounter), nil
}

func (m *mockNode) EstimateFeeRate(context.Context, int64, string) (
	*chain.FeeEstimate, error) {

	if m.estimateErr != nil {
		return nil, m.estimateErr
	}

	return m.estimate, nil
}

func (m *mockNode) MempoolPolicy(context.Context) (*chain.MempoolPolicy,
	error) {

	return m.mempool, nil
}

func (m *mockNode) NetworkPolicy(context.Context) (*chain.NetworkPolicy,
	error) {

	return m.network, nil
}

func (m *mockNode) BlockCount(context.Context) (int64, error) {
	if len(m.heights) == 0 {
		return 0, nil
	}

	height := m.heights[0]
	if len(m.heights) > 1 {
		m.heights = m.heights[1:]
	}

	return height, nil
}

func (m *mockNode) ConfirmationDepth(_ context.Context, txid string) (int64,
	error) {

	m.confPolls++

	queue, ok := m.confs[txid]
	if !ok || len(queue) == 0 {
		return 0, nil
	}

	depth := queue[0]
	if len(queue) > 1 {
		m.confs[txid] = queue[1:]
	}

	return depth, nil
}

func (m *mockNode) SignAndBroadcast(_ context.Context,
	req *chain.SignRequest) (string, error) {

	if err, ok := m.broadcastErrs[len(m.broadcasts)]; ok {
		return "", err
	}

	m.broadcasts = append(m.broadcasts, req)
	txid := fmt.Sprintf("tx-%04d", len(m.broadcasts))

	// Spend the consumed outputs so follow-up selections cannot reuse
	// them.
	for _, input := range req.Inputs {
		for i, u := range m.unspent {
			if u.TxID == input.TxID && u.Vout == input.Vout {
				m.unspent[i].Spendable = false
			}
		}
	}

	return txid, nil
}

// spendable is a shorthand for a confirmed spendable output.
func spendable(txid string, vout uint32, amount btcutil.Amount) chain.Unspent {
	return chain.Unspent{
		TxID:          txid,
		Vout:          vout,
		Address:       "addr-" + txid,
		Amount:        amount,
		Confirmations: 6,
		Spendable:     true,
	}
}

// coins converts a decimal coin value expressed in satoshi-exact integers,
// e.g. coins(1, 50_000_000) is 1.5 coins.
func coins(whole, frac int64) btcutil.Amount {
	return btcutil.Amount(whole*100_000_000 + frac)
}

// mockClock satisfies clock.Clock with instant ticks, recording every
// requested duration.
type mockClock struct {
	now   time.Time
	ticks []time.Duration
}

func (c *mockClock) Now() time.Time {
	return c.now
}

func (c *mockClock) TickAfter(d time.Duration) <-chan time.Time {
	c.ticks = append(c.ticks, d)

	ch := make(chan time.Time, 1)
	ch <- c.now

	return ch
}

// recordingObserver captures every notification for assertions.
type recordingObserver struct {
	states   []string
	progress []string
	blocks   []string
}

func (o *recordingObserver) StepStateChanged(step int, state StepState,
	txid string) {

	o.states = append(o.states, fmt.Sprintf("%d:%s", step+1, state))
}

func (o *recordingObserver) ConfirmationProgress(step int, txid string,
	depth, required int64) {

	o.progress = append(o.progress, fmt.Sprintf("%d:%s:%d/%d", step+1,
		txid, depth, required))
}

func (o *recordingObserver) WaitingForBlock(target, current int64) {
	o.blocks = append(o.blocks, fmt.Sprintf("%d@%d", target, current))
}
