// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// dgbplanner plans and broadcasts message-carrying transaction chains
// against a DigiByte Core compatible node, driven by a YAML dialect
// document.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"

	"github.com/dgbsuite/dgbplanner/chain"
	"github.com/dgbsuite/dgbplanner/dialect"
	"github.com/dgbsuite/dgbplanner/planner"
)

var (
	backend = btclog.NewBackend(os.Stderr)

	log = backend.Logger("DGBP")
)

// setLogLevel applies one debug level across all subsystems.
func setLogLevel(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	for _, subsystem := range []string{"DGBP", "CHAN", "PLNR"} {
		logger := backend.Logger(subsystem)
		logger.SetLevel(lvl)

		switch subsystem {
		case "DGBP":
			log = logger
		case "CHAN":
			chain.UseLogger(logger)
		case "PLNR":
			planner.UseLogger(logger)
		}
	}

	return nil
}

// config holds the global options shared by all commands.
type config struct {
	Dialect    string `long:"dialect" description:"Path to the dialect YAML document"`
	DebugLevel string `long:"debuglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical}"`

	RPCConnect string `long:"rpcconnect" description:"Node JSON-RPC endpoint URL, overriding the dialect"`
	RPCUser    string `long:"rpcuser" description:"RPC username"`
	RPCPass    string `long:"rpcpass" description:"RPC password"`
	RPCWallet  string `long:"rpcwallet" description:"Wallet name, overriding the dialect"`
	RPCCert    string `long:"rpccert" description:"Path to the node TLS certificate"`

	MinConf int32 `long:"minconf" description:"Minimum confirmations for funding outputs, overriding the dialect"`
}

// loadDialect loads the configured dialect document, or nil when no path was
// given.
func (c *config) loadDialect() (*dialect.Dialect, error) {
	if c.Dialect == "" {
		return nil, nil
	}

	return dialect.Load(c.Dialect)
}

// rpcConfig resolves the node connection options, preferring explicit flags
// over dialect automation metadata.
func (c *config) rpcConfig(d *dialect.Dialect) (*chain.RPCClientConfig, error) {
	endpoint := c.RPCConnect
	wallet := c.RPCWallet
	if d != nil {
		if endpoint == "" {
			endpoint = d.Automation.Endpoint
		}
		if wallet == "" {
			wallet = d.Automation.Wallet
		}
	}
	if endpoint == "" {
		endpoint = dialect.DefaultEndpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	cfg := &chain.RPCClientConfig{
		Host:       parsed.Host,
		User:       c.RPCUser,
		Pass:       c.RPCPass,
		Wallet:     wallet,
		DisableTLS: parsed.Scheme != "https",
	}

	if c.RPCCert != "" {
		certs, err := os.ReadFile(c.RPCCert)
		if err != nil {
			return nil, fmt.Errorf("read rpc cert: %w", err)
		}
		cfg.Certificates = certs
	}

	return cfg, nil
}

// minConfirmations resolves the funding depth from flags and dialect.
func (c *config) minConfirmations(d *dialect.Dialect) int32 {
	if c.MinConf > 0 {
		return c.MinConf
	}
	if d != nil {
		return d.Automation.MinConfirmations
	}

	return planner.DefaultMinConfirmations
}

func main() {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.Default)

	_, err := parser.AddCommand("pattern", "Plan an explicit pattern",
		"Plan and optionally broadcast a chained pattern of payments "+
			"to one destination.", &patternCommand{cfg: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, err = parser.AddCommand("symbol", "Plan a dialect symbol",
		"Plan and optionally broadcast the single-transaction or "+
			"chained form of a dialect symbol.",
		&symbolCommand{cfg: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, err = parser.AddCommand("fee", "Select a fee rate",
		"Query the node and report the fee rate the planner would "+
			"use.", &feeCommand{cfg: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := setLogLevel(cfg.DebugLevel); err != nil {
			return err
		}

		return cmd.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		// flags.Default already prints parse failures and help
		// output; command errors are ours to report.
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			if flagErr.Type == flags.ErrHelp {
				os.Exit(0)
			}

			os.Exit(1)
		}

		log.Errorf("%v", err)
		os.Exit(1)
	}
}
