// Package relay sponsors fees for keystore transactions: it re-signs a
// caller's transaction as fee payer and submits it under abuse controls.
package relay

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/confirm"
	"keystore/go-backend/internal/keystore/execute"
	"keystore/go-backend/internal/platform/ratelimiter"
	"keystore/go-backend/internal/solana"
	"keystore/go-backend/internal/solana/rpc"
	"keystore/go-backend/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// FeePerSignature is the flat per-signature fee used for spend estimates.
const FeePerSignature = 5000

const (
	componentName = "relay"
	tracerName    = "keystore/go-backend/internal/relay"
)

// Chain is the RPC surface the relay needs.
type Chain interface {
	confirm.Chain
	GetLatestBlockhash(ctx context.Context) (rpc.LatestBlockhash, error)
	SendTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

type Limiter interface {
	Admit(ctx context.Context, id string) (*ratelimiter.Reservation, error)
}

type Options struct {
	Chain   Chain
	Key     ed25519.PrivateKey
	Limiter Limiter
	Network string
	Logger  *slog.Logger
	// Registerer receives the relay metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Poller, when set, makes Relay wait for the confirmation outcome.
	Poller *confirm.Poller
	Now    func() time.Time
}

type Request struct {
	Transaction []byte
	Identity    string
}

type Result struct {
	Signature solana.Signature
	// Confirmation is nil unless the service waits for confirmation.
	Confirmation *confirm.Result
}

type Service struct {
	chain   Chain
	key     ed25519.PrivateKey
	payer   solana.PublicKey
	limiter Limiter
	network string
	logger  *slog.Logger
	poller  *confirm.Poller
	now     func() time.Time
	tracer  trace.Tracer
	metrics *metrics

	startedAt time.Time
	balances  singleflight.Group

	// submitMu serializes rebuild, signing and submission under the relay
	// key; the counters below change only while it is held.
	submitMu     sync.Mutex
	relayed      uint64
	feesLamports uint64
}

func New(opts Options) (*Service, error) {
	if opts.Chain == nil {
		return nil, errors.New("relay chain client is required")
	}
	if len(opts.Key) != ed25519.PrivateKeySize {
		return nil, errors.New("relay signing key is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("relay rate limiter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Poller != nil && opts.Poller.Chain == nil {
		opts.Poller.Chain = opts.Chain
	}
	return &Service{
		chain:     opts.Chain,
		key:       opts.Key,
		payer:     solana.PublicKeyFromEd25519(opts.Key.Public().(ed25519.PublicKey)),
		limiter:   opts.Limiter,
		network:   strings.TrimSpace(opts.Network),
		logger:    logger,
		poller:    opts.Poller,
		now:       now,
		tracer:    otel.Tracer(tracerName),
		metrics:   newMetrics(opts.Registerer),
		startedAt: now(),
	}, nil
}

// Address is the relay's fee payer.
func (s *Service) Address() solana.PublicKey {
	return s.payer
}

// Relay validates req, charges it to the claimed identity and submits it
// with the relay as fee payer. Local rejections happen before any signing
// or network call.
func (s *Service) Relay(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "relay.Relay", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	res, outcome, err := s.relay(ctx, req)
	s.metrics.observe(outcome)
	span.SetAttributes(attribute.String("relay.outcome", outcome))
	if !res.Signature.IsZero() {
		span.SetAttributes(attribute.String("relay.signature", res.Signature.String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.ErrorCategory(err))
		s.recordError(err, "relay", "identity", req.Identity, "outcome", outcome)
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (s *Service) relay(ctx context.Context, req Request) (Result, string, error) {
	identity, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Identity))
	if err != nil {
		return Result{}, outcomeRejected, err
	}
	tx, err := solana.ParseTransaction(req.Transaction)
	if err != nil {
		return Result{}, outcomeRejected, err
	}
	if len(tx.Message.Instructions) == 0 {
		return Result{}, outcomeRejected, contracts.ErrNoInstructions
	}
	if len(req.Transaction) > solana.MaxTransactionSize {
		return Result{}, outcomeRejected, fmt.Errorf("%w: %d bytes, max %d", contracts.ErrTooLarge, len(req.Transaction), solana.MaxTransactionSize)
	}

	instructions := tx.Message.Decompile()
	if err := execute.CheckSponsorable(instructions, s.payer); err != nil {
		return Result{}, outcomeRejected, err
	}

	reservation, err := s.limiter.Admit(ctx, identity.String())
	if err != nil {
		if errors.Is(err, contracts.ErrRateLimitExceeded) {
			return Result{}, outcomeLimited, err
		}
		return Result{}, outcomeFailed, err
	}

	sig, expiry, err := s.submit(ctx, instructions)
	if err != nil {
		reservation.Release(context.WithoutCancel(ctx))
		if contracts.ErrorCategory(err) == contracts.ErrorCategoryValidation {
			return Result{}, outcomeRejected, err
		}
		return Result{}, outcomeFailed, err
	}
	s.logInfo("relay", "transaction relayed", "identity", identity.String(), "signature", sig.String())

	res := Result{Signature: sig}
	if s.poller == nil {
		return res, outcomeSuccess, nil
	}
	confirmation, err := s.poller.Confirm(ctx, sig, expiry)
	if err != nil {
		return res, outcomeUnconfirm, err
	}
	res.Confirmation = &confirmation
	if err := confirmation.Err(); err != nil {
		return res, outcomeUnconfirm, fmt.Errorf("transaction %s: %w", sig, err)
	}
	return res, outcomeSuccess, nil
}

// submit rebuilds the instructions around the relay key and a fresh
// blockhash, signs and sends them. It returns the blockhash expiry height
// for confirmation.
func (s *Service) submit(ctx context.Context, instructions []solana.Instruction) (solana.Signature, uint64, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	latest, err := s.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, 0, contracts.Submissionf(err, "fetch blockhash")
	}
	out, err := solana.NewTransaction(instructions, s.payer, latest.Blockhash)
	if err != nil {
		return solana.Signature{}, 0, contracts.Validationf("rebuild transaction: %v", err)
	}
	if err := execute.CheckSize(out); err != nil {
		return solana.Signature{}, 0, err
	}
	if err := out.Sign(s.key); err != nil {
		return solana.Signature{}, 0, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := out.MarshalBinary()
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("encode transaction: %w", err)
	}

	start := s.now()
	sig, err := s.chain.SendTransaction(ctx, raw)
	if err != nil {
		return solana.Signature{}, 0, contracts.Submissionf(err, "send transaction")
	}
	if sig.IsZero() {
		sig = out.Signature()
	}
	s.metrics.latency.Observe(s.now().Sub(start).Seconds())

	fee := uint64(len(out.Signatures)) * FeePerSignature
	s.relayed++
	s.feesLamports += fee
	s.metrics.feesSpent.Add(float64(fee))
	return sig, latest.LastValidBlockHeight, nil
}

func (s *Service) Health() models.HealthResponse {
	return models.HealthResponse{
		Status:  models.HealthStatusOK,
		Relayer: s.payer.String(),
		Network: s.network,
	}
}

// Balance reads the fee payer balance. Concurrent callers share one RPC call.
func (s *Service) Balance(ctx context.Context) (models.BalanceResponse, error) {
	v, err, _ := s.balances.Do("balance", func() (any, error) {
		return s.chain.GetBalance(ctx, s.payer)
	})
	if err != nil {
		return models.BalanceResponse{}, fmt.Errorf("read relay balance: %w", err)
	}
	lamports := v.(uint64)
	s.metrics.balance.Set(float64(lamports))
	return models.BalanceResponse{Balance: models.LamportsToSOL(lamports), Lamports: lamports}, nil
}

// SufficientBalance reports whether the fee payer holds at least minLamports.
func (s *Service) SufficientBalance(ctx context.Context, minLamports uint64) (bool, uint64, error) {
	bal, err := s.Balance(ctx)
	if err != nil {
		return false, 0, err
	}
	return bal.Lamports >= minLamports, bal.Lamports, nil
}

func (s *Service) Stats(ctx context.Context) (models.StatsResponse, error) {
	bal, err := s.Balance(ctx)
	if err != nil {
		return models.StatsResponse{}, err
	}
	s.submitMu.Lock()
	relayed, fees := s.relayed, s.feesLamports
	s.submitMu.Unlock()

	uptime := s.now().Sub(s.startedAt)
	return models.StatsResponse{
		Relayer:             s.payer.String(),
		Balance:             bal.Balance,
		Lamports:            bal.Lamports,
		TransactionsRelayed: relayed,
		TotalFeesSpent:      models.LamportsToSOL(fees),
		UptimeMs:            uptime.Milliseconds(),
		UptimeHours:         uptime.Hours(),
	}, nil
}

func (s *Service) logInfo(operation, message string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", operation,
	}
	s.logger.Info(message, append(base, attrs...)...)
}

func (s *Service) recordError(err error, operation string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", operation,
		"error_category", contracts.ErrorCategory(err),
		"error", err.Error(),
	}
	level := slog.LevelError
	if contracts.ErrorCategory(err) != contracts.ErrorCategorySubmission {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "relay request failed", append(base, attrs...)...)
}
