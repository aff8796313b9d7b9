// Package confirm polls for the outcome of a submitted transaction.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/internal/solana/rpc"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 30
)

type Outcome int

const (
	Pending Outcome = iota
	Confirmed
	Failed
	Expired
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Expired:
		return "expired"
	case Timeout:
		return "timeout"
	default:
		return "pending"
	}
}

type Result struct {
	Outcome  Outcome
	Reason   string
	Attempts int
}

// Err maps a non-confirmed outcome to its error sentinel.
func (r Result) Err() error {
	switch r.Outcome {
	case Confirmed:
		return nil
	case Failed:
		return contracts.Submissionf(nil, "transaction failed on chain: %s", r.Reason)
	case Expired:
		return fmt.Errorf("%w after %d polls", contracts.ErrExpired, r.Attempts)
	case Timeout:
		return fmt.Errorf("%w after %d polls", contracts.ErrTimeout, r.Attempts)
	default:
		return fmt.Errorf("confirmation still pending")
	}
}

// Chain is the subset of the RPC client the poller reads.
type Chain interface {
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatus, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

type Poller struct {
	Chain       Chain
	Interval    time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

func (p *Poller) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Confirm polls until the transaction is confirmed, fails, outlives
// expiryHeight or the attempt budget runs out. Only context cancellation is
// returned as an error. Nothing is ever resubmitted.
func (p *Poller) Confirm(ctx context.Context, sig solana.Signature, expiryHeight uint64) (Result, error) {
	maxAttempts := p.maxAttempts()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if res, done := p.poll(ctx, sig, expiryHeight, attempt); done {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Pending, Attempts: attempt}, err
		}
		if attempt == maxAttempts {
			break
		}
		timer.Reset(p.interval())
		select {
		case <-ctx.Done():
			return Result{Outcome: Pending, Attempts: attempt}, ctx.Err()
		case <-timer.C:
		}
	}
	return Result{Outcome: Timeout, Attempts: maxAttempts}, nil
}

func (p *Poller) poll(ctx context.Context, sig solana.Signature, expiryHeight uint64, attempt int) (Result, bool) {
	status, err := p.Chain.GetSignatureStatus(ctx, sig)
	if err != nil {
		p.logger().Warn("signature status query failed", "operation", "confirm.poll", "attempt", attempt, "error", err.Error())
		return Result{}, false
	}
	if status != nil {
		if status.Err != "" {
			return Result{Outcome: Failed, Reason: status.Err, Attempts: attempt}, true
		}
		switch status.ConfirmationStatus {
		case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
			return Result{Outcome: Confirmed, Attempts: attempt}, true
		}
	}
	height, err := p.Chain.GetBlockHeight(ctx)
	if err != nil {
		p.logger().Warn("block height query failed", "operation", "confirm.poll", "attempt", attempt, "error", err.Error())
		return Result{}, false
	}
	if height > expiryHeight {
		return Result{Outcome: Expired, Reason: fmt.Sprintf("block height %d exceeds %d", height, expiryHeight), Attempts: attempt}, true
	}
	return Result{}, false
}
