// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dialect loads the declarative YAML dialect that drives symbol
// planning. A dialect names a set of symbols, each described by a value, a
// fee, input/output cardinalities, optional block scheduling offsets, and
// optionally a list of frames that turn the symbol into a chained multi
// transaction message.
//
// The package performs structural validation only. Whether a symbol can
// actually be funded is decided by the planner at plan time.
package dialect

import (
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"gopkg.in/yaml.v3"

	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

var (
	// ErrInvalidDialect is returned when a dialect document is
	// structurally invalid.
	ErrInvalidDialect = errors.New("invalid dialect")

	// ErrSymbolNotFound is returned when a symbol name is not defined by
	// the dialect.
	ErrSymbolNotFound = errors.New("symbol not found in dialect")
)

// Default automation metadata values applied when the dialect omits them.
const (
	DefaultEndpoint          = "http://127.0.0.1:14022"
	DefaultMinConfirmations  = 1
	DefaultMaxDriftBlocks    = 1
	DefaultRebroadcastMisses = 2
)

// Automation carries the dialect-level operational metadata: how to reach the
// node and how strictly scheduled broadcasts track their target block.
type Automation struct {
	// Endpoint is the node JSON-RPC endpoint.
	Endpoint string

	// Wallet is the wallet the node should load for all calls. Empty
	// means the node's default wallet.
	Wallet string

	// MinConfirmations is the minimum confirmation depth a funding output
	// must have to be spendable by plans built from this dialect.
	MinConfirmations int32

	// MaxDriftBlocks is the tolerated distance from a scheduled target
	// block before a gated broadcast is considered missed.
	MaxDriftBlocks int64

	// RebroadcastMisses is the number of missed schedule windows after
	// which operators are expected to re-plan rather than re-send. It is
	// parsed and defaulted for operators and downstream tooling; the
	// broadcast coordinator does not read it.
	RebroadcastMisses int
}

// Frame describes a single frame within a chained symbol. Unset optional
// fields inherit the symbol-level values at planning time.
type Frame struct {
	// Value is the amount this frame pays to the destination.
	Value btcutil.Amount

	// Fee is the per-frame fee override, or nil to use the symbol fee.
	Fee *btcutil.Amount

	// Inputs is the required input cardinality, or 0 if unset. Only the
	// first frame of a chain may require more than one input.
	Inputs int

	// Outputs is the output cardinality, or 0 if unset.
	Outputs int

	// Delta is the per-frame block offset override, or nil if unset.
	Delta *int64

	// Sigma is the per-frame timing jitter override, or nil if unset.
	Sigma *int64

	// ScriptPlane is the per-frame script-plane override, or nil to use
	// the symbol-level plane.
	ScriptPlane *ScriptPlane
}

// Symbol is a single dialect entry: the declarative description of one
// on-chain message shape.
type Symbol struct {
	// Name identifies the symbol within the dialect.
	Name string

	// Value is the amount paid to the destination.
	Value btcutil.Amount

	// Fee is the flat fee charged per generated transaction.
	Fee btcutil.Amount

	// Inputs is the required input cardinality.
	Inputs int

	// Outputs is the output cardinality. Values above one distribute
	// leftover change across Outputs-1 branches.
	Outputs int

	// Delta is the block offset used to compute an optional target
	// height at plan time, relative to the then-current tip.
	Delta int64

	// Sigma is the timing jitter budget in blocks. The planner records
	// it but does not interpret it.
	Sigma int64

	// ScriptPlane is the opaque script-plane tag attached to every
	// transaction planned from this symbol, unless a frame overrides it.
	ScriptPlane *ScriptPlane

	// Frames is the chained representation of the symbol, or nil if the
	// symbol is single-transaction only.
	Frames []*Frame
}

// Chained reports whether the symbol defines a chained multi-frame form.
func (s *Symbol) Chained() bool {
	return len(s.Frames) > 0
}

// FrameFee returns the effective fee for the given frame, falling back to
// the symbol fee when the frame has no override.
func (s *Symbol) FrameFee(f *Frame) btcutil.Amount {
	if f.Fee != nil {
		return *f.Fee
	}

	return s.Fee
}

// FramePlane returns the effective script plane for the given frame, falling
// back to the symbol plane when the frame has no override.
func (s *Symbol) FramePlane(f *Frame) *ScriptPlane {
	if f.ScriptPlane != nil {
		return f.ScriptPlane
	}

	return s.ScriptPlane
}

// Dialect is a parsed, validated dialect document.
type Dialect struct {
	// Name is the dialect name.
	Name string

	// Version is the dialect version string.
	Version string

	// Symbols holds the dialect symbols in document order.
	Symbols []*Symbol

	// Automation is the operational metadata block.
	Automation Automation

	index map[string]*Symbol
}

// Symbol returns the named symbol, or the first symbol in document order if
// name is empty.
func (d *Dialect) Symbol(name string) (*Symbol, error) {
	if name == "" {
		return d.Symbols[0], nil
	}

	sym, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (dialect %s)", ErrSymbolNotFound,
			name, d.Name)
	}

	return sym, nil
}

// Load reads and parses a dialect document from disk.
func Load(path string) (*Dialect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDialect, err)
	}

	return Parse(data)
}

// Parse parses and validates a dialect document.
func Parse(data []byte) (*Dialect, error) {
	var raw rawDialect
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDialect, err)
	}

	name := raw.Name
	if name == "" {
		name = "unknown"
	}
	version := raw.Version
	if version == "" {
		version = "0.0.0"
	}

	if len(raw.Symbols) == 0 {
		return nil, fmt.Errorf("%w: dialect %s must define a "+
			"non-empty symbols list", ErrInvalidDialect, name)
	}

	d := &Dialect{
		Name:       name,
		Version:    version,
		Automation: raw.Automation.toAutomation(),
		index:      make(map[string]*Symbol, len(raw.Symbols)),
	}

	for _, entry := range raw.Symbols {
		sym, err := entry.toSymbol()
		if err != nil {
			return nil, err
		}

		d.Symbols = append(d.Symbols, sym)
		d.index[sym.Name] = sym
	}

	return d, nil
}

// coinValue parses a YAML scalar as an exact coin amount. The raw scalar
// text is handed to dgbunit.ParseCoin, so a value like 0.5178 never takes a
// detour through a binary float.
type coinValue btcutil.Amount

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *coinValue) UnmarshalYAML(node *yaml.Node) error {
	amount, err := dgbunit.ParseCoin(node.Value)
	if err != nil {
		return err
	}

	*c = coinValue(amount)

	return nil
}

type rawDialect struct {
	Name       string        `yaml:"name"`
	Version    string        `yaml:"version"`
	Automation rawAutomation `yaml:"automation"`
	Symbols    []rawSymbol   `yaml:"symbols"`
}

type rawAutomation struct {
	RPC struct {
		Endpoint         string `yaml:"endpoint"`
		Wallet           string `yaml:"wallet"`
		MinConfirmations *int32 `yaml:"min_confirmations"`
	} `yaml:"rpc"`
	Scheduling struct {
		MaxDriftBlocks    *int64 `yaml:"max_drift_blocks"`
		RebroadcastMisses *int   `yaml:"rebroadcast_misses"`
	} `yaml:"scheduling"`
}

func (r rawAutomation) toAutomation() Automation {
	a := Automation{
		Endpoint:          r.RPC.Endpoint,
		Wallet:            r.RPC.Wallet,
		MinConfirmations:  DefaultMinConfirmations,
		MaxDriftBlocks:    DefaultMaxDriftBlocks,
		RebroadcastMisses: DefaultRebroadcastMisses,
	}

	if a.Endpoint == "" {
		a.Endpoint = DefaultEndpoint
	}
	if r.RPC.MinConfirmations != nil {
		a.MinConfirmations = *r.RPC.MinConfirmations
	}
	if r.Scheduling.MaxDriftBlocks != nil {
		a.MaxDriftBlocks = *r.Scheduling.MaxDriftBlocks
	}
	if r.Scheduling.RebroadcastMisses != nil {
		a.RebroadcastMisses = *r.Scheduling.RebroadcastMisses
	}

	return a
}

type rawSymbol struct {
	Name  string    `yaml:"name"`
	Match *rawMatch `yaml:"match"`
}

type rawMatch struct {
	Value       *coinValue      `yaml:"value"`
	Fee         *coinValue      `yaml:"fee"`
	M           *int            `yaml:"m"`
	N           *int            `yaml:"n"`
	Delta       *int64          `yaml:"delta"`
	Sigma       *int64          `yaml:"sigma"`
	ScriptPlane *rawScriptPlane `yaml:"script_plane"`
	Frames      []rawFrame      `yaml:"frames"`
}

type rawFrame struct {
	Value       *coinValue      `yaml:"value"`
	Fee         *coinValue      `yaml:"fee"`
	M           *int            `yaml:"m"`
	N           *int            `yaml:"n"`
	Delta       *int64          `yaml:"delta"`
	Sigma       *int64          `yaml:"sigma"`
	ScriptPlane *rawScriptPlane `yaml:"script_plane"`
}

func (r rawSymbol) toSymbol() (*Symbol, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("%w: symbol missing name",
			ErrInvalidDialect)
	}
	if r.Match == nil {
		return nil, fmt.Errorf("%w: symbol %s missing match section",
			ErrInvalidDialect, r.Name)
	}

	m := r.Match
	if m.Value == nil || m.Fee == nil || m.M == nil || m.N == nil {
		return nil, fmt.Errorf("%w: symbol %s match must define "+
			"value, fee, m, and n", ErrInvalidDialect, r.Name)
	}

	sym := &Symbol{
		Name:    r.Name,
		Value:   btcutil.Amount(*m.Value),
		Fee:     btcutil.Amount(*m.Fee),
		Inputs:  *m.M,
		Outputs: *m.N,
	}
	if m.Delta != nil {
		sym.Delta = *m.Delta
	}
	if m.Sigma != nil {
		sym.Sigma = *m.Sigma
	}

	if m.ScriptPlane != nil {
		plane, err := m.ScriptPlane.toScriptPlane()
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", r.Name, err)
		}
		sym.ScriptPlane = plane
	}

	if m.Frames != nil {
		if len(m.Frames) == 0 {
			return nil, fmt.Errorf("%w: symbol %s frames must be "+
				"a non-empty list", ErrInvalidDialect, r.Name)
		}

		for idx, rf := range m.Frames {
			frame, err := rf.toFrame()
			if err != nil {
				return nil, fmt.Errorf("frame #%d for symbol "+
					"%s: %w", idx+1, r.Name, err)
			}
			sym.Frames = append(sym.Frames, frame)
		}
	}

	return sym, nil
}

func (r rawFrame) toFrame() (*Frame, error) {
	if r.Value == nil {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidDialect)
	}

	frame := &Frame{
		Value: btcutil.Amount(*r.Value),
		Delta: r.Delta,
		Sigma: r.Sigma,
	}
	if r.Fee != nil {
		fee := btcutil.Amount(*r.Fee)
		frame.Fee = &fee
	}
	if r.M != nil {
		frame.Inputs = *r.M
	}
	if r.N != nil {
		frame.Outputs = *r.N
	}

	if r.ScriptPlane != nil {
		plane, err := r.ScriptPlane.toScriptPlane()
		if err != nil {
			return nil, err
		}
		frame.ScriptPlane = plane
	}

	return frame, nil
}
