package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"keystore/go-backend/internal/solana"
)

const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

const maxResponseBytes int64 = 8 << 20

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object returned by the node, kept verbatim.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Client struct {
	endpoint   string
	commitment string
	httpClient *http.Client
	nextID     atomic.Uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithCommitment(commitment string) Option {
	return func(c *Client) {
		if strings.TrimSpace(commitment) != "" {
			c.commitment = commitment
		}
	}
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimSpace(endpoint),
		commitment: CommitmentConfirmed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
		}
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w", method, decoded.Error)
	}
	if out == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) commitmentConfig() map[string]any {
	return map[string]any{"commitment": c.commitment}
}

type contextValue[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

// LatestBlockhash is a recent blockhash and the last block height at which it is valid.
type LatestBlockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (LatestBlockhash, error) {
	var res contextValue[struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}]
	if err := c.call(ctx, "getLatestBlockhash", []any{c.commitmentConfig()}, &res); err != nil {
		return LatestBlockhash{}, err
	}
	hash, err := solana.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return LatestBlockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return LatestBlockhash{Blockhash: hash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

// SendTransaction submits a signed wire transaction with preflight simulation.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	var sig string
	params := []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": c.commitment,
		},
	}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(sig)
}

// SignatureStatus is the node's view of a submitted transaction.
// Err is non-empty when the transaction failed on chain.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus string
	Err                string
}

// GetSignatureStatus returns nil when the node has no record of the signature yet.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var res contextValue[[]*struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *uint64         `json:"confirmations"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	}]
	params := []any{[]string{sig.String()}, map[string]any{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}
	st := res.Value[0]
	out := &SignatureStatus{
		Slot:               st.Slot,
		Confirmations:      st.Confirmations,
		ConfirmationStatus: st.ConfirmationStatus,
	}
	if errText := strings.TrimSpace(string(st.Err)); errText != "" && errText != "null" {
		out.Err = errText
	}
	return out, nil
}

func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getBlockHeight", []any{c.commitmentConfig()}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var res contextValue[uint64]
	if err := c.call(ctx, "getBalance", []any{account.String(), c.commitmentConfig()}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// AccountInfo carries the raw data and owner of an account.
type AccountInfo struct {
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
}

// GetAccountInfo returns nil, nil when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*AccountInfo, error) {
	var res contextValue[*struct {
		Lamports uint64   `json:"lamports"`
		Owner    string   `json:"owner"`
		Data     []string `json:"data"`
	}]
	params := []any{account.String(), map[string]any{"encoding": "base64", "commitment": c.commitment}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, nil
	}
	if len(res.Value.Data) == 0 {
		return nil, errors.New("getAccountInfo: missing data field")
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo: decode data: %w", err)
	}
	owner, err := solana.PublicKeyFromBase58(res.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}
	return &AccountInfo{Lamports: res.Value.Lamports, Owner: owner, Data: data}, nil
}
