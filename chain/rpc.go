// Copyright (c) 2025 The dgbsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/dgbsuite/dgbplanner/pkg/dgbunit"
)

// RPCClientConfig defines the options used to reach a DigiByte Core
// compatible node over JSON-RPC.
type RPCClientConfig struct {
	// Host is the host:port of the node's RPC listener.
	Host string

	// User is the RPC username.
	User string

	// Pass is the RPC password.
	Pass string

	// Wallet selects the wallet all calls operate on. The selection is
	// fixed for the lifetime of the client; there is no way to switch
	// wallets on a live client. Empty selects the node's default wallet.
	Wallet string

	// DisableTLS disables TLS for the connection.
	DisableTLS bool

	// Certificates holds the PEM-encoded node certificate chain when TLS
	// is enabled.
	Certificates []byte
}

// validate checks the required config options are set.
func (c *RPCClientConfig) validate() error {
	if c == nil {
		return errors.New("missing rpc config")
	}

	if c.Host == "" {
		return errors.New("missing rpc host")
	}

	// If disableTLS is false, the remote RPC certificate must be
	// provided in the certs slice.
	if !c.DisableTLS && c.Certificates == nil {
		return errors.New("must provide certs when TLS is enabled")
	}

	return nil
}

// RPCClient implements WalletRPC against a DigiByte Core compatible node
// using JSON-RPC over HTTP POST. All calls go through RawRequest so the
// client stays compatible with nodes whose RPC surface predates or diverges
// from btcd's typed client methods.
type RPCClient struct {
	client *rpcclient.Client
	cfg    *RPCClientConfig
}

// A compile-time check to ensure that RPCClient satisfies the WalletRPC
// interface.
var _ WalletRPC = (*RPCClient)(nil)

// NewRPCClient creates a client connected to the node described by the
// config.
func NewRPCClient(cfg *RPCClientConfig) (*RPCClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	host := cfg.Host
	if cfg.Wallet != "" {
		// Multi-wallet nodes route calls by URL path. Binding the
		// wallet into the host here is what makes wallet selection
		// immutable per client.
		host += "/wallet/" + cfg.Wallet
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		DisableTLS:   cfg.DisableTLS,
		Certificates: cfg.Certificates,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &RPCClient{client: client, cfg: cfg}, nil
}

// Shutdown tears down the underlying RPC connection.
func (c *RPCClient) Shutdown() {
	c.client.Shutdown()
}

// call performs a raw JSON-RPC request with the given parameters.
func (c *RPCClient) call(ctx context.Context, method string,
	params ...interface{}) (json.RawMessage, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawParams := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		marshaled, err := json.Marshal(param)
		if err != nil {
			return nil, fmt.Errorf("marshal %s param: %w", method,
				err)
		}

		rawParams = append(rawParams, marshaled)
	}

	resp, err := c.client.RawRequest(method, rawParams)
	if err != nil {
		return nil, MapRPCErr(err)
	}

	return resp, nil
}

// rawUnspent mirrors a listunspent entry. The amount is decoded as a
// json.Number so the node's decimal text reaches ParseCoin without passing
// through a binary float.
type rawUnspent struct {
	TxID          string      `json:"txid"`
	Vout          uint32      `json:"vout"`
	Address       string      `json:"address"`
	Amount        json.Number `json:"amount"`
	Confirmations int64       `json:"confirmations"`
	Spendable     *bool       `json:"spendable"`
}

// ListSpendable returns the wallet's unspent outputs with at least minConfs
// confirmations.
func (c *RPCClient) ListSpendable(ctx context.Context, minConfs int32) (
	[]Unspent, error) {

	resp, err := c.call(ctx, "listunspent", minConfs)
	if err != nil {
		return nil, err
	}

	var raw []rawUnspent
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode listunspent: %w", err)
	}

	unspent := make([]Unspent, 0, len(raw))
	for _, entry := range raw {
		amount, err := dgbunit.ParseCoin(entry.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("listunspent %s:%d: %w",
				entry.TxID, entry.Vout, err)
		}

		// Nodes omit the spendable flag for watch-only-free wallets;
		// absence means spendable.
		spendable := entry.Spendable == nil || *entry.Spendable

		unspent = append(unspent, Unspent{
			TxID:          entry.TxID,
			Vout:          entry.Vout,
			Address:       entry.Address,
			Amount:        amount,
			Confirmations: entry.Confirmations,
			Spendable:     spendable,
		})
	}

	log.Tracef("listunspent(%d) returned %d outputs", minConfs,
		len(unspent))

	return unspent, nil
}

// NewChangeAddress derives a fresh change address from the wallet.
func (c *RPCClient) NewChangeAddress(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "getrawchangeaddress")
	if err != nil {
		return "", err
	}

	var addr string
	if err := json.Unmarshal(resp, &addr); err != nil {
		return "", fmt.Errorf("decode getrawchangeaddress: %w", err)
	}

	return addr, nil
}

// EstimateFeeRate asks the node for a fee estimate. A nil estimate with a
// nil error means the node has no estimate available for the target.
func (c *RPCClient) EstimateFeeRate(ctx context.Context, confTarget int64,
	mode string) (*FeeEstimate, error) {

	resp, err := c.call(ctx, "estimatesmartfee", confTarget, mode)
	if err != nil {
		return nil, err
	}

	var result struct {
		FeeRate *float64 `json:"feerate"`
		Blocks  int64    `json:"blocks"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode estimatesmartfee: %w", err)
	}

	if result.FeeRate == nil {
		return nil, nil
	}

	return &FeeEstimate{
		FeeRate: *result.FeeRate,
		Blocks:  result.Blocks,
	}, nil
}

// MempoolPolicy returns the node's mempool fee floor.
func (c *RPCClient) MempoolPolicy(ctx context.Context) (*MempoolPolicy,
	error) {

	resp, err := c.call(ctx, "getmempoolinfo")
	if err != nil {
		return nil, err
	}

	var result struct {
		MempoolMinFee *float64 `json:"mempoolminfee"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode getmempoolinfo: %w", err)
	}

	if result.MempoolMinFee == nil {
		return nil, nil
	}

	return &MempoolPolicy{MinFeeRate: *result.MempoolMinFee}, nil
}

// NetworkPolicy returns the node's relay fee policy.
func (c *RPCClient) NetworkPolicy(ctx context.Context) (*NetworkPolicy,
	error) {

	resp, err := c.call(ctx, "getnetworkinfo")
	if err != nil {
		return nil, err
	}

	var result struct {
		RelayFee       *float64 `json:"relayfee"`
		IncrementalFee *float64 `json:"incrementalfee"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode getnetworkinfo: %w", err)
	}

	if result.RelayFee == nil && result.IncrementalFee == nil {
		return nil, nil
	}

	policy := &NetworkPolicy{}
	if result.RelayFee != nil {
		policy.RelayFeeRate = *result.RelayFee
	}
	if result.IncrementalFee != nil {
		policy.IncrementalFeeRate = *result.IncrementalFee
	}

	return policy, nil
}

// BlockCount returns the current best block height.
func (c *RPCClient) BlockCount(ctx context.Context) (int64, error) {
	resp, err := c.call(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}

	var height int64
	if err := json.Unmarshal(resp, &height); err != nil {
		return 0, fmt.Errorf("decode getblockcount: %w", err)
	}

	return height, nil
}

// ConfirmationDepth returns the confirmation depth of the given transaction,
// or 0 if the wallet does not know the transaction.
func (c *RPCClient) ConfirmationDepth(ctx context.Context, txid string) (
	int64, error) {

	resp, err := c.call(ctx, "gettransaction", txid)
	if err != nil {
		// An unknown txid is not an error for depth queries; it is
		// simply unconfirmed as far as this wallet can tell.
		if errors.Is(err, ErrRPCResponse) {
			log.Debugf("gettransaction %s: %v", txid, err)
			return 0, nil
		}

		return 0, err
	}

	var result struct {
		Confirmations int64 `json:"confirmations"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("decode gettransaction: %w", err)
	}

	if result.Confirmations < 0 {
		// Conflicted transactions report negative depth.
		return 0, nil
	}

	return result.Confirmations, nil
}

// SignAndBroadcast has the node build, sign, and broadcast the described
// transaction.
func (c *RPCClient) SignAndBroadcast(ctx context.Context,
	req *SignRequest) (string, error) {

	if len(req.Inputs) == 0 {
		return "", errors.New("sign request has no inputs")
	}
	if len(req.Outputs) == 0 {
		return "", errors.New("sign request has no outputs")
	}

	inputs := make([]map[string]interface{}, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		inputs = append(inputs, map[string]interface{}{
			"txid": input.TxID,
			"vout": input.Vout,
		})
	}

	// Outputs are an ordered list of single-key objects. Amounts are
	// emitted as raw fixed-8 decimal literals, never as float64.
	outputs := make([]map[string]json.RawMessage, 0,
		len(req.Outputs)+len(req.AuxPayloads))
	for _, output := range req.Outputs {
		amount := json.RawMessage(dgbunit.FormatCoin(output.Amount))
		outputs = append(outputs, map[string]json.RawMessage{
			output.Address: amount,
		})
	}

	for _, payload := range req.AuxPayloads {
		data, err := json.Marshal(hex.EncodeToString(payload))
		if err != nil {
			return "", fmt.Errorf("marshal aux payload: %w", err)
		}

		outputs = append(outputs, map[string]json.RawMessage{
			"data": data,
		})
	}

	if req.ScriptPlane != nil {
		log.Debugf("Sign request carries script plane %s",
			req.ScriptPlane.ScriptType)
	}

	resp, err := c.call(ctx, "createrawtransaction", inputs, outputs)
	if err != nil {
		return "", err
	}

	var rawHex string
	if err := json.Unmarshal(resp, &rawHex); err != nil {
		return "", fmt.Errorf("decode createrawtransaction: %w", err)
	}

	resp, err = c.call(ctx, "signrawtransactionwithwallet", rawHex)
	if err != nil {
		return "", err
	}

	var signed struct {
		Hex      string `json:"hex"`
		Complete bool   `json:"complete"`
	}
	if err := json.Unmarshal(resp, &signed); err != nil {
		return "", fmt.Errorf("decode signrawtransactionwithwallet: "+
			"%w", err)
	}

	if !signed.Complete {
		return "", ErrIncompleteSignatures
	}

	resp, err = c.call(ctx, "sendrawtransaction", signed.Hex)
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(resp, &txid); err != nil {
		return "", fmt.Errorf("decode sendrawtransaction: %w", err)
	}

	log.Debugf("Broadcast tx %s paying %d outputs, fee hint %s", txid,
		len(req.Outputs), dgbunit.FormatCoin(req.FeeHint))

	return txid, nil
}
