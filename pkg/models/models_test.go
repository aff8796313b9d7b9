package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRelayRequestNormalize(t *testing.T) {
	cases := []struct {
		in   RelayRequest
		ok   bool
		want RelayRequest
	}{
		{RelayRequest{Transaction: " AQID ", Identity: " abc "}, true, RelayRequest{Transaction: "AQID", Identity: "abc"}},
		{RelayRequest{Transaction: "AQID"}, false, RelayRequest{Transaction: "AQID"}},
		{RelayRequest{Identity: "abc", Transaction: "  "}, false, RelayRequest{Identity: "abc"}},
	}
	for _, tc := range cases {
		got, ok := tc.in.Normalize()
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%+v) = %+v, %v", tc.in, got, ok)
		}
	}
}

func TestStatsResponseFieldNames(t *testing.T) {
	raw, err := json.Marshal(StatsResponse{Relayer: "r", Lamports: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"relayer", "balance", "lamports", "transactionsRelayed", "totalFeesSpent", "uptimeMs", "uptimeHours"} {
		if !strings.Contains(string(raw), `"`+field+`"`) {
			t.Fatalf("missing field %q in %s", field, raw)
		}
	}
}

func TestRelayResponseOmitsConfirmationByDefault(t *testing.T) {
	raw, _ := json.Marshal(RelayResponse{Signature: "s", Status: RelayStatusSuccess})
	if string(raw) != `{"signature":"s","status":"success"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestLamportsToSOL(t *testing.T) {
	if got := LamportsToSOL(2_500_000_000); got != 2.5 {
		t.Fatalf("unexpected conversion %v", got)
	}
}
