package models

import "strings"

const LamportsPerSOL = 1_000_000_000

const (
	HealthStatusOK     = "ok"
	RelayStatusSuccess = "success"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Relayer string `json:"relayer"`
	Network string `json:"network"`
}

type BalanceResponse struct {
	Balance  float64 `json:"balance"`
	Lamports uint64  `json:"lamports"`
}

type StatsResponse struct {
	Relayer             string  `json:"relayer"`
	Balance             float64 `json:"balance"`
	Lamports            uint64  `json:"lamports"`
	TransactionsRelayed uint64  `json:"transactionsRelayed"`
	TotalFeesSpent      float64 `json:"totalFeesSpent"`
	UptimeMs            int64   `json:"uptimeMs"`
	UptimeHours         float64 `json:"uptimeHours"`
}

// RelayRequest carries a base64 wire transaction whose fee payer slot the
// relay overwrites, and the identity the request is charged to.
type RelayRequest struct {
	Transaction string `json:"transaction"`
	Identity    string `json:"identity"`
}

// Normalize trims both fields and reports whether either is missing.
func (r RelayRequest) Normalize() (RelayRequest, bool) {
	r.Transaction = strings.TrimSpace(r.Transaction)
	r.Identity = strings.TrimSpace(r.Identity)
	return r, r.Transaction != "" && r.Identity != ""
}

type RelayResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	// Confirmation is set only when the relay waits for the outcome.
	Confirmation string `json:"confirmation,omitempty"`
}

// ErrorResponse carries the signature when the transaction was already
// submitted, so a confirmation timeout or expiry can still be looked up.
type ErrorResponse struct {
	Error        string `json:"error"`
	Signature    string `json:"signature,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}
