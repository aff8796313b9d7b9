package relayserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"keystore/go-backend/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/mr-tron/base58"
)

func fakeRPC(t *testing.T, lamports uint64) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "getBalance":
			resp["result"] = map[string]any{"context": map[string]any{"slot": 1}, "value": lamports}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(t *testing.T, rpcURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RPCURL = rpcURL
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{2}, ed25519.SeedSize))
	cfg.Key.PrivateKey = base58.Encode(key)
	return cfg
}

func TestBuildWithoutRedisFallsBackAndServes(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	cfg := testConfig(t, fakeRPC(t, 50_000_000))

	r, err := Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer r.Close()

	out := logs.String()
	if !strings.Contains(out, "using local counters") || !strings.Contains(out, `"error_category":"storage"`) {
		t.Fatalf("missing storage fallback warning: %s", out)
	}
	if !strings.Contains(out, "relay balance below reserve") {
		t.Fatalf("missing low balance warning: %s", out)
	}

	rec := httptest.NewRecorder()
	r.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), r.Service.Address().String()) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"lamports":50000000`) {
		t.Fatalf("unexpected balance response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "keystore_relay_balance_lamports") {
		t.Fatalf("relay metrics not exported: %s", rec.Body.String())
	}
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	cfg := testConfig(t, fakeRPC(t, 5_000_000_000))
	cfg.RedisURL = "redis://" + mr.Addr()

	r, err := Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(logs.String(), "using local counters") {
		t.Fatalf("unexpected fallback with a reachable redis: %s", logs.String())
	}
	if strings.Contains(logs.String(), "below reserve") {
		t.Fatalf("unexpected low balance warning: %s", logs.String())
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildUnreachableRedisIsNotFatal(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	cfg := testConfig(t, fakeRPC(t, 5_000_000_000))
	cfg.RedisURL = "redis://127.0.0.1:1"

	r, err := Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer r.Close()
	if !strings.Contains(logs.String(), "ping redis") {
		t.Fatalf("expected ping failure in warning: %s", logs.String())
	}
}

func TestBuildRequiresKey(t *testing.T) {
	cfg := config.Default()
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without relayer key")
	}
}
