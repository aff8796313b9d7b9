// Package relayserver wires configuration into a ready-to-run relay.
package relayserver

import (
	"context"
	"errors"
	"log/slog"

	"keystore/go-backend/internal/adapters/httpapi"
	"keystore/go-backend/internal/config"
	"keystore/go-backend/internal/contracts"
	"keystore/go-backend/internal/keystore/confirm"
	"keystore/go-backend/internal/platform/ratelimiter"
	"keystore/go-backend/internal/relay"
	"keystore/go-backend/internal/solana/rpc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Relay struct {
	Server  *httpapi.Server
	Service *relay.Service
	closers []func() error
}

// Close releases connections opened by Build.
func (r *Relay) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build composes the relay service and its HTTP surface from cfg. A
// missing or unreachable Redis is not fatal: the relay falls back to
// in-process counters and says so.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key, err := config.LoadRelayerKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	out := &Relay{}

	store, closeStore := buildStore(ctx, cfg.RedisURL, logger)
	if closeStore != nil {
		out.closers = append(out.closers, closeStore)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	chain := rpc.New(cfg.RPCURL)
	opts := relay.Options{
		Chain:      chain,
		Key:        key,
		Limiter:    ratelimiter.NewWindowLimiter(store, cfg.MaxPerMinute, cfg.MaxPerHour),
		Network:    cfg.Network,
		Logger:     logger,
		Registerer: registry,
	}
	if cfg.ShouldAwaitConfirmation() {
		opts.Poller = &confirm.Poller{
			Chain:       chain,
			Interval:    cfg.ConfirmInterval,
			MaxAttempts: cfg.ConfirmAttempts,
			Logger:      logger,
		}
	}
	svc, err := relay.New(opts)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Service = svc

	srv, err := httpapi.NewServer(httpapi.Options{
		Addr:           cfg.ListenAddr(),
		Service:        svc,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		IPLimiter:      ratelimiter.NewMapLimiter(cfg.IPRequestsPerSecond, cfg.IPBurst, 0),
		Gatherer:       registry,
		Logger:         logger,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Server = srv

	checkBalance(ctx, svc, cfg.MinBalanceLamports, logger)
	logger.Info("relay configured",
		"component", "relayserver",
		"relayer", svc.Address().String(),
		"network", cfg.Network,
		"rpc_url", cfg.RPCURL,
		"await_confirmation", cfg.ShouldAwaitConfirmation(),
	)
	return out, nil
}

func buildStore(ctx context.Context, redisURL string, logger *slog.Logger) (ratelimiter.Store, func() error) {
	local := ratelimiter.NewMemoryStore()
	if redisURL == "" {
		logger.Warn("rate limit storage unavailable, using local counters",
			"component", "relayserver",
			"error_category", contracts.ErrorCategoryStorage,
			"reason", "REDIS_URL not set",
		)
		return local, nil
	}
	remote, err := ratelimiter.DialRedis(ctx, redisURL)
	if err != nil {
		logger.Warn("rate limit storage unavailable, using local counters",
			"component", "relayserver",
			"error_category", contracts.ErrorCategoryStorage,
			"error", err.Error(),
		)
		return local, nil
	}
	return ratelimiter.NewFallbackStore(remote, local, logger), remote.Close
}

func checkBalance(ctx context.Context, svc *relay.Service, minLamports uint64, logger *slog.Logger) {
	if minLamports == 0 {
		return
	}
	ok, lamports, err := svc.SufficientBalance(ctx, minLamports)
	switch {
	case err != nil:
		logger.Warn("relay balance unavailable", "component", "relayserver", "error", err.Error())
	case !ok:
		logger.Warn("relay balance below reserve",
			"component", "relayserver",
			"lamports", lamports,
			"min_lamports", minLamports,
		)
	}
}
