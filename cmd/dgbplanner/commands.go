// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/dialect"
	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
	"github.com/dgbsuite/dgbplanner/planner"
)

// connect builds the planner and coordinator against the configured node.
func connect(cfg *config, d *dialect.Dialect, coordCfg *planner.CoordinatorConfig) (
	*planner.Planner, *planner.Coordinator, *chain.RPCClient, error) {

	rpcCfg, err := cfg.rpcConfig(d)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := chain.NewRPCClient(rpcCfg)
	if err != nil {
		return nil, nil, nil, err
	}

	p := planner.New(client, &planner.Config{
		MinConfirmations: cfg.minConfirmations(d),
	})

	if coordCfg == nil {
		coordCfg = &planner.CoordinatorConfig{}
	}
	if coordCfg.MaxDriftBlocks == 0 && d != nil {
		coordCfg.MaxDriftBlocks = d.Automation.MaxDriftBlocks
	}
	coordCfg.Observer = &logObserver{}

	return p, planner.NewCoordinator(client, coordCfg), client, nil
}

// logObserver reports broadcast progress through the command logger.
type logObserver struct{}

func (o *logObserver) StepStateChanged(step int, state planner.StepState,
	txid string) {

	if txid != "" {
		log.Infof("Step %d: %s (%s)", step+1, state, txid)
		return
	}

	log.Infof("Step %d: %s", step+1, state)
}

func (o *logObserver) ConfirmationProgress(step int, txid string, depth,
	required int64) {

	log.Infof("Step %d: %s at %d of %d confirmations", step+1, txid,
		depth, required)
}

func (o *logObserver) WaitingForBlock(target, current int64) {
	log.Infof("Waiting for block %d, height is %d", target, current)
}

// printJSON writes the plan inspection document to stdout.
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(out))

	return nil
}

// parseAmounts parses decimal coin amounts.
func parseAmounts(raw []string) ([]btcutil.Amount, error) {
	amounts := make([]btcutil.Amount, 0, len(raw))
	for _, s := range raw {
		amount, err := dgbunit.ParseCoin(s)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", s, err)
		}
		amounts = append(amounts, amount)
	}

	return amounts, nil
}

// parseUTXOs parses pinned funding outputs in txid:vout:amount form.
func parseUTXOs(raw []string) ([]planner.UTXO, error) {
	utxos := make([]planner.UTXO, 0, len(raw))
	for _, s := range raw {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("utxo %q: want "+
				"txid:vout:amount", s)
		}

		vout, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("utxo %q: bad vout: %w", s, err)
		}

		amount, err := dgbunit.ParseCoin(parts[2])
		if err != nil {
			return nil, fmt.Errorf("utxo %q: %w", s, err)
		}

		utxos = append(utxos, planner.UTXO{
			TxID:   parts[0],
			Vout:   uint32(vout),
			Amount: amount,
		})
	}

	return utxos, nil
}

// parsePayloads hex-decodes per-step auxiliary payloads. An empty string
// means no payload for that step.
func parsePayloads(raw []string) ([][]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			payloads = append(payloads, nil)
			continue
		}

		data, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("payload %q: %w", s, err)
		}
		payloads = append(payloads, data)
	}

	return payloads, nil
}

// scriptPlaneOptions groups the optional script-plane tag flags.
type scriptPlaneOptions struct {
	ScriptType  string `long:"script-type" description:"Script plane type tag, e.g. p2tr"`
	TaprootMode string `long:"taproot-mode" description:"Taproot spend mode tag"`
	BranchID    int    `long:"branch-id" default:"-1" description:"Script branch selector"`
}

func (o *scriptPlaneOptions) plane() *dialect.ScriptPlane {
	if o.ScriptType == "" {
		return nil
	}

	return &dialect.ScriptPlane{
		ScriptType:  o.ScriptType,
		TaprootMode: o.TaprootMode,
		BranchID:    o.BranchID,
	}
}

// patternCommand plans an explicit pattern and optionally broadcasts it.
type patternCommand struct {
	cfg *config

	Destination string   `long:"dest" required:"true" description:"Destination address every step pays"`
	Amounts     []string `long:"amount" required:"true" description:"Per-step amount, repeatable, in chain order"`
	Fee         string   `long:"fee" default:"0.0001" description:"Flat fee per step"`
	UTXOs       []string `long:"utxo" description:"Pin funding to txid:vout:amount, repeatable"`
	Payloads    []string `long:"payload" description:"Hex aux payload per step, repeatable, empty to skip a step"`

	Broadcast bool          `long:"broadcast" description:"Broadcast the plan instead of only printing it"`
	SingleTx  bool          `long:"single-tx" description:"Collapse the plan into one fan-out transaction"`
	Wait      time.Duration `long:"wait" description:"Pause between broadcasts, and poll interval when gating"`
	MinConfs  int64         `long:"minconfs-between" description:"Confirmations required before releasing the next step"`
	MaxWait   time.Duration `long:"max-wait" description:"Confirmation wait budget per step"`

	Plane scriptPlaneOptions `group:"Script plane"`
}

// Execute implements flags.Commander.
func (c *patternCommand) Execute(_ []string) error {
	ctx := context.Background()

	amounts, err := parseAmounts(c.Amounts)
	if err != nil {
		return err
	}

	fee, err := dgbunit.ParseCoin(c.Fee)
	if err != nil {
		return fmt.Errorf("fee %q: %w", c.Fee, err)
	}

	utxos, err := parseUTXOs(c.UTXOs)
	if err != nil {
		return err
	}

	payloads, err := parsePayloads(c.Payloads)
	if err != nil {
		return err
	}

	d, err := c.cfg.loadDialect()
	if err != nil {
		return err
	}

	p, coord, client, err := connect(c.cfg, d, &planner.CoordinatorConfig{
		WaitBetweenTxs:       c.Wait,
		MinConfsBetweenSteps: c.MinConfs,
		MaxWaitPerStep:       c.MaxWait,
	})
	if err != nil {
		return err
	}
	defer client.Shutdown()

	seq, err := p.PlanPattern(ctx, &planner.PatternRequest{
		Destination:  c.Destination,
		Amounts:      amounts,
		Fee:          fee,
		FundingUTXOs: utxos,
		ScriptPlane:  c.Plane.plane(),
	})
	if err != nil {
		return err
	}

	if !c.Broadcast {
		return printJSON(seq)
	}

	if c.SingleTx {
		txid, err := coord.BroadcastSingleTx(ctx, seq, payloads)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, txid)

		return nil
	}

	txids, err := coord.Broadcast(ctx, seq, payloads)
	for _, txid := range txids {
		fmt.Fprintln(os.Stdout, txid)
	}

	return err
}

// symbolCommand plans a dialect symbol and optionally broadcasts it.
type symbolCommand struct {
	cfg *config

	Name        string `long:"name" description:"Symbol name; empty selects the dialect's first symbol"`
	Receiver    string `long:"receiver" description:"Receiver address; empty derives a wallet address"`
	Chained     bool   `long:"chained" description:"Plan the symbol's chained frame form"`
	MaxFrames   int    `long:"max-frames" description:"Truncate a chained plan to this many frames"`
	BlockTarget int64  `long:"block-target" description:"Schedule broadcast for this block height"`
	Payload     string `long:"payload" description:"Hex aux payload"`

	Broadcast bool          `long:"broadcast" description:"Broadcast the plan instead of only printing it"`
	Wait      time.Duration `long:"wait" description:"Pause between broadcasts, and poll interval when gating"`
	MinConfs  int64         `long:"minconfs-between" description:"Confirmations required before releasing the next frame"`
	MaxWait   time.Duration `long:"max-wait" description:"Confirmation wait budget per frame"`
}

// Execute implements flags.Commander.
func (c *symbolCommand) Execute(_ []string) error {
	ctx := context.Background()

	if c.cfg.Dialect == "" {
		return fmt.Errorf("the symbol command requires --dialect")
	}

	d, err := c.cfg.loadDialect()
	if err != nil {
		return err
	}

	sym, err := d.Symbol(c.Name)
	if err != nil {
		return err
	}

	var payload []byte
	if c.Payload != "" {
		payload, err = hex.DecodeString(c.Payload)
		if err != nil {
			return fmt.Errorf("payload %q: %w", c.Payload, err)
		}
	}

	p, coord, client, err := connect(c.cfg, d, &planner.CoordinatorConfig{
		WaitBetweenTxs:       c.Wait,
		MinConfsBetweenSteps: c.MinConfs,
		MaxWaitPerStep:       c.MaxWait,
	})
	if err != nil {
		return err
	}
	defer client.Shutdown()

	req := &planner.SymbolPlanRequest{
		Receiver:  c.Receiver,
		MaxFrames: c.MaxFrames,
	}
	if c.BlockTarget > 0 {
		req.BlockTarget = fn.Some(c.BlockTarget)
	}

	if c.Chained || (sym.Chained() && c.MaxFrames != 0) {
		plan, err := p.PlanSymbolChain(ctx, sym, req)
		if err != nil {
			return err
		}

		if !c.Broadcast {
			return printJSON(plan)
		}

		var payloads [][]byte
		if payload != nil {
			// The payload rides on the first frame.
			payloads = make([][]byte, len(plan.Transactions))
			payloads[0] = payload
		}

		txids, err := coord.BroadcastChain(ctx, plan, payloads)
		for _, txid := range txids {
			fmt.Fprintln(os.Stdout, txid)
		}

		return err
	}

	plan, err := p.PlanSymbol(ctx, sym, req)
	if err != nil {
		return err
	}

	if !c.Broadcast {
		return printJSON(plan)
	}

	txid, err := coord.BroadcastSymbol(ctx, plan, payload)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, txid)

	return nil
}

// feeCommand reports the fee rate the planner would select.
type feeCommand struct {
	cfg *config

	Rate       string `long:"rate" description:"Explicit rate in sat/vb, bypassing the node estimate"`
	ConfTarget int64  `long:"conf-target" description:"Estimate confirmation horizon"`
	Mode       string `long:"mode" description:"Estimate mode {CONSERVATIVE, ECONOMICAL}"`
	Floor      string `long:"floor" description:"Fee floor in sat/vb"`
	VSize      int64  `long:"vsize" description:"Transaction virtual size, enables absolute fee output"`
	Inputs     int    `long:"inputs" description:"Estimate vsize from this input count when --vsize is absent"`
	Outputs    int    `long:"outputs" description:"Estimate vsize from this output count when --vsize is absent"`
	AuxBytes   int64  `long:"aux-bytes" description:"Data payload bytes for the vsize estimate"`
	MaxFee     string `long:"max-fee" description:"Absolute fee cap in coins, requires a vsize"`
}

// Execute implements flags.Commander.
func (c *feeCommand) Execute(_ []string) error {
	ctx := context.Background()

	vsize := c.VSize
	if vsize == 0 && c.Inputs > 0 {
		vsize = dgbunit.EstimateVSize(c.Inputs, c.Outputs, c.AuxBytes)
	}

	req := &planner.FeeRequest{
		ConfTarget:   c.ConfTarget,
		EstimateMode: c.Mode,
		TxVSize:      vsize,
	}

	if c.Rate != "" {
		value, err := strconv.ParseFloat(c.Rate, 64)
		if err != nil {
			return fmt.Errorf("rate %q: %w", c.Rate, err)
		}
		rate := dgbunit.NewSatPerVByte(value)
		req.UserRate = &rate
	}
	if c.Floor != "" {
		value, err := strconv.ParseFloat(c.Floor, 64)
		if err != nil {
			return fmt.Errorf("floor %q: %w", c.Floor, err)
		}
		floor := dgbunit.NewSatPerVByte(value)
		req.FloorRate = &floor
	}
	if c.MaxFee != "" {
		maxFee, err := dgbunit.ParseCoin(c.MaxFee)
		if err != nil {
			return fmt.Errorf("max-fee %q: %w", c.MaxFee, err)
		}
		req.MaxFee = maxFee
	}

	d, err := c.cfg.loadDialect()
	if err != nil {
		return err
	}

	_, _, client, err := connect(c.cfg, d, nil)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	sel, err := planner.SelectFeeRate(ctx, client, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "rate: %s\nsource: %s\n", sel.Rate, sel.Source)
	for _, floor := range sel.Floors {
		fmt.Fprintf(os.Stdout, "floor: %s = %s\n", floor.Label,
			floor.Rate)
	}
	if sel.VSize > 0 {
		fmt.Fprintf(os.Stdout, "fee: %s for %d vbytes\n",
			dgbunit.FormatCoin(sel.Fee), sel.VSize)
	}

	return nil
}
