// Package metrics exposes prometheus collectors for the bot.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Rejection reasons
const (
	ReasonQuota    = "quota"
	ReasonCooldown = "cooldown"
	ReasonEmpty    = "empty"
)

// Invocation outcomes
const (
	OutcomeOK                  = "ok"
	OutcomeNonZeroExit         = "nonzero_exit"
	OutcomeTimeout             = "timeout"
	OutcomeScriptMissing       = "script_missing"
	OutcomeInterpreterNotFound = "interpreter_not_found"
	OutcomeError               = "error"
)

var (
	QuestionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nightshade_questions_accepted_total",
			Help: "Questions that passed quota and cooldown checks",
		},
	)

	QuestionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightshade_questions_rejected_total",
			Help: "Questions rejected before reaching the backend",
		},
		[]string{"reason"},
	)

	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightshade_backend_invocations_total",
			Help: "AI backend invocations by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nightshade_backend_invocation_duration_seconds",
			Help:    "Wall-clock time of AI backend invocations",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
	)

	GuildLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightshade_guild_locks",
			Help: "Guild serialization locks created",
		},
	)

	TrackedCooldowns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nightshade_tracked_cooldowns",
			Help: "(guild, user) pairs with a recorded last ask time",
		},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
