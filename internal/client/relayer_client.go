package client

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
	"time"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/pkg/models"
)

const maxRelayerResponse = 1 << 20

// RelayError is a non-2xx answer from the relay. It unwraps to the
// sentinel matching the status so callers can use errors.Is. Signature is
// set when the relay submitted the transaction but could not confirm it.
type RelayError struct {
	Status       int
	Message      string
	Signature    string
	Confirmation string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relayer returned %d: %s", e.Status, e.Message)
}

func (e *RelayError) Unwrap() error {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return contracts.ErrRateLimitExceeded
	case e.Status >= 400 && e.Status < 500:
		return contracts.ErrValidation
	default:
		return contracts.ErrSubmissionFailed
	}
}

type RelayerClient struct {
	baseURL string
	http    *http.Client
}

type RelayerOption func(*RelayerClient)

func WithRelayerHTTPClient(hc *http.Client) RelayerOption {
	return func(c *RelayerClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewRelayerClient(baseURL string, opts ...RelayerOption) *RelayerClient {
	c := &RelayerClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Relay submits tx through the relay, charging it to identity. The relay
// replaces fee payer and blockhash, so tx is sent unsigned. When the relay
// submitted but could not confirm, the signature is returned with the error.
func (c *RelayerClient) Relay(ctx context.Context, tx *solana.Transaction, identity solana.PublicKey) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("encode transaction: %w", err)
	}
	body, err := json.Marshal(models.RelayRequest{
		Transaction: base64.StdEncoding.EncodeToString(raw),
		Identity:    identity.String(),
	})
	if err != nil {
		return solana.Signature{}, err
	}
	var out models.RelayResponse
	if err := c.do(ctx, http.MethodPost, "/relay", body, &out); err != nil {
		var relayErr *RelayError
		if errors.As(err, &relayErr) && relayErr.Signature != "" {
			if sig, parseErr := solana.SignatureFromBase58(relayErr.Signature); parseErr == nil {
				return sig, err
			}
		}
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(out.Signature)
}

// Healthy reports whether the relay answers /health with status ok.
func (c *RelayerClient) Healthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == models.HealthStatusOK
}

func (c *RelayerClient) Health(ctx context.Context) (models.HealthResponse, error) {
	var out models.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *RelayerClient) Balance(ctx context.Context) (models.BalanceResponse, error) {
	var out models.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/balance", nil, &out)
	return out, err
}

func (c *RelayerClient) Stats(ctx context.Context) (models.StatsResponse, error) {
	var out models.StatsResponse
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *RelayerClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayer %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayerResponse))
	if err != nil {
		return fmt.Errorf("relayer %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e models.ErrorResponse
		if json.Unmarshal(payload, &e) != nil || strings.TrimSpace(e.Error) == "" {
			e.Error = strings.TrimSpace(string(payload))
		}
		return &RelayError{Status: resp.StatusCode, Message: e.Error, Signature: e.Signature, Confirmation: e.Confirmation}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("relayer %s %s: decode response: %w", method, path, err)
	}
	return nil
}
