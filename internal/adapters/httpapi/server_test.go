package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/confirm"
	"keystore/go-backend/internal/platform/ratelimiter"
	"keystore/go-backend/internal/relay"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeService struct {
	relayErr     error
	submitted    bool
	confirmation *confirm.Result
	balanceErr   error
	got          []relay.Request
}

func (f *fakeService) Relay(_ context.Context, req relay.Request) (relay.Result, error) {
	f.got = append(f.got, req)
	res := relay.Result{Signature: solana.Signature{1, 2, 3}, Confirmation: f.confirmation}
	if f.relayErr != nil {
		if f.submitted {
			return res, f.relayErr
		}
		return relay.Result{}, f.relayErr
	}
	return res, nil
}

func (f *fakeService) Health() models.HealthResponse {
	return models.HealthResponse{Status: models.HealthStatusOK, Relayer: "relayer-address", Network: "devnet"}
}

func (f *fakeService) Balance(context.Context) (models.BalanceResponse, error) {
	if f.balanceErr != nil {
		return models.BalanceResponse{}, f.balanceErr
	}
	return models.BalanceResponse{Balance: 1.5, Lamports: 1_500_000_000}, nil
}

func (f *fakeService) Stats(context.Context) (models.StatsResponse, error) {
	return models.StatsResponse{Relayer: "relayer-address", TransactionsRelayed: 4, TotalFeesSpent: 0.00002}, nil
}

func newTestServer(t *testing.T, svc *fakeService, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := Options{
		Service: svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func relayBody(tx, identity string) string {
	raw, _ := json.Marshal(models.RelayRequest{Transaction: tx, Identity: identity})
	return string(raw)
}

func TestReadEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeService{}, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	health := decode[models.HealthResponse](t, rec)
	if health.Status != "ok" || health.Relayer != "relayer-address" || health.Network != "devnet" {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = do(t, h, http.MethodGet, "/balance", "")
	if got := decode[map[string]any](t, rec); got["balance"] != 1.5 || got["lamports"] != float64(1_500_000_000) {
		t.Fatalf("unexpected balance body %v", got)
	}

	rec = do(t, h, http.MethodGet, "/stats", "")
	body := decode[map[string]any](t, rec)
	for _, field := range []string{"relayer", "balance", "lamports", "transactionsRelayed", "totalFeesSpent", "uptimeMs", "uptimeHours"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("stats missing %q: %v", field, body)
		}
	}
}

func TestBalanceFailureIs500(t *testing.T) {
	h := newTestServer(t, &fakeService{balanceErr: errors.New("rpc down")}, nil)
	rec := do(t, h, http.MethodGet, "/balance", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decode[models.ErrorResponse](t, rec); !strings.Contains(got.Error, "rpc down") {
		t.Fatalf("unexpected error body %+v", got)
	}
}

func TestRelayStatusMapping(t *testing.T) {
	tx := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	cases := []struct {
		name       string
		body       string
		relayErr   error
		wantStatus int
		wantError  string
		wantCalls  int
	}{
		{name: "success", body: relayBody(tx, "id"), wantStatus: http.StatusOK, wantCalls: 1},
		{name: "missing identity", body: relayBody(tx, "  "), wantStatus: http.StatusBadRequest, wantError: "missing transaction or identity"},
		{name: "missing transaction", body: relayBody("", "id"), wantStatus: http.StatusBadRequest, wantError: "missing transaction or identity"},
		{name: "bad json", body: "{", wantStatus: http.StatusBadRequest, wantError: "invalid JSON"},
		{name: "bad base64", body: relayBody("!!!", "id"), wantStatus: http.StatusInternalServerError, wantError: "base64"},
		{
			name:       "rate limited",
			body:       relayBody(tx, "id"),
			relayErr:   fmt.Errorf("%w: 10 requests per minute", contracts.ErrRateLimitExceeded),
			wantStatus: http.StatusTooManyRequests,
			wantError:  "rate limit exceeded",
			wantCalls:  1,
		},
		{
			name:       "validation",
			body:       relayBody(tx, "id"),
			relayErr:   contracts.ErrNoInstructions,
			wantStatus: http.StatusInternalServerError,
			wantError:  "no instructions",
			wantCalls:  1,
		},
		{
			name:       "submission",
			body:       relayBody(tx, "id"),
			relayErr:   contracts.Submissionf(errors.New("Blockhash not found"), "send transaction"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Blockhash not found",
			wantCalls:  1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{relayErr: tc.relayErr}
			h := newTestServer(t, svc, nil)
			rec := do(t, h, http.MethodPost, "/relay", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if len(svc.got) != tc.wantCalls {
				t.Fatalf("service called %d times, want %d", len(svc.got), tc.wantCalls)
			}
			if tc.wantError != "" {
				if got := decode[models.ErrorResponse](t, rec); !strings.Contains(got.Error, tc.wantError) {
					t.Fatalf("error %q does not mention %q", got.Error, tc.wantError)
				}
				return
			}
			resp := decode[models.RelayResponse](t, rec)
			if resp.Status != "success" || resp.Signature != (solana.Signature{1, 2, 3}).String() {
				t.Fatalf("unexpected response %+v", resp)
			}
			if string(svc.got[0].Transaction) != "\x01\x02\x03" || svc.got[0].Identity != "id" {
				t.Fatalf("unexpected relay request %+v", svc.got[0])
			}
		})
	}
}

func TestRelayReportsConfirmation(t *testing.T) {
	svc := &fakeService{confirmation: &confirm.Result{Outcome: confirm.Confirmed}}
	h := newTestServer(t, svc, nil)
	rec := do(t, h, http.MethodPost, "/relay", relayBody("AQID", "id"))
	if got := decode[models.RelayResponse](t, rec); got.Confirmation != "confirmed" {
		t.Fatalf("unexpected confirmation %+v", got)
	}
}

func TestRelayUnconfirmedErrorKeepsSignature(t *testing.T) {
	for _, outcome := range []confirm.Outcome{confirm.Expired, confirm.Timeout} {
		t.Run(outcome.String(), func(t *testing.T) {
			svc := &fakeService{
				relayErr:     fmt.Errorf("transaction %s: %w", solana.Signature{1, 2, 3}, confirm.Result{Outcome: outcome}.Err()),
				submitted:    true,
				confirmation: &confirm.Result{Outcome: outcome},
			}
			rec := do(t, newTestServer(t, svc, nil), http.MethodPost, "/relay", relayBody("AQID", "id"))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			got := decode[models.ErrorResponse](t, rec)
			if got.Signature != (solana.Signature{1, 2, 3}).String() || got.Confirmation != outcome.String() || got.Error == "" {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}

	rec := do(t, newTestServer(t, &fakeService{relayErr: contracts.ErrNoInstructions}, nil), http.MethodPost, "/relay", relayBody("AQID", "id"))
	if strings.Contains(rec.Body.String(), "signature") {
		t.Fatalf("local rejection must not carry a signature: %s", rec.Body.String())
	}
}

func TestRelayBodyCap(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(t, svc, nil)
	huge := relayBody(strings.Repeat("A", maxRequestBody), "id")
	rec := do(t, h, http.MethodPost, "/relay", huge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(svc.got) != 0 {
		t.Fatal("oversized body reached the service")
	}
}

func TestPerIPLimiter(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(t, svc, func(o *Options) {
		o.IPLimiter = ratelimiter.NewMapLimiter(0.001, 2, time.Minute)
	})
	body := relayBody("AQID", "id")
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/relay", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/relay", body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if len(svc.got) != 2 {
		t.Fatalf("limited request reached the service")
	}
}

func TestMethodsAndCORS(t *testing.T) {
	h := newTestServer(t, &fakeService{}, func(o *Options) {
		o.AllowedOrigins = []string{"https://wallet.example"}
	})
	if rec := do(t, h, http.MethodGet, "/relay", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /relay: expected 405, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/relay", nil)
	req.Header.Set("Origin", "https://wallet.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://wallet.example" {
		t.Fatalf("preflight allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin for foreign origin: %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "keystore_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := newTestServer(t, &fakeService{}, func(o *Options) { o.Gatherer = reg })
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "keystore_test_total 1") {
		t.Fatalf("unexpected metrics response %d: %s", rec.Code, rec.Body.String())
	}

	h = newTestServer(t, &fakeService{}, nil)
	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be unmounted without a gatherer, got %d", rec.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewServer(Options{
		Addr:    "127.0.0.1:0",
		Service: &fakeService{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestClientKey(t *testing.T) {
	cases := map[string]string{
		"203.0.113.7:5555": "ip:203.0.113.7",
		"[::1]:80":         "ip:::1",
		"garbage":          "ip:garbage",
		"":                 "ip:unknown",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := clientKey(req); got != want {
			t.Fatalf("clientKey(%q) = %q, want %q", remote, got, want)
		}
	}
}
