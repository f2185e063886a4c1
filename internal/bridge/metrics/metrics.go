// Package metrics exposes Prometheus counters for the ACP runtime and the
// Jira client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// Prompt outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var (
	// PromptsTotal counts answered prompts by outcome
	PromptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_prompts_total",
			Help: "Total number of prompts answered by the ACP runtime",
		},
		[]string{"outcome"},
	)

	// PromptDuration tracks time from send to reply
	PromptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acpbridge_prompt_duration_seconds",
			Help:    "Prompt turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// MessageChunks counts agent_message_chunk updates folded into replies
	MessageChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acpbridge_message_chunks_total",
			Help: "Total number of agent message chunks accumulated",
		},
	)

	// RuntimesActive is the number of runtimes with a live agent
	RuntimesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "acpbridge_runtimes_active",
			Help: "Number of ACP runtimes with a running agent",
		},
	)

	// SetupFailures counts runtimes that never became ready
	SetupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "acpbridge_runtime_setup_failures_total",
			Help: "Total number of failed agent spawns or handshakes",
		},
	)

	// JiraRequests counts Jira REST calls by endpoint and status code
	JiraRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acpbridge_jira_requests_total",
			Help: "Total number of Jira REST requests",
		},
		[]string{"endpoint", "status"},
	)
)

// RecordPrompt records one answered prompt.
func RecordPrompt(outcome string, d time.Duration, chunks int) {
	PromptsTotal.WithLabelValues(outcome).Inc()
	PromptDuration.WithLabelValues(outcome).Observe(d.Seconds())
	MessageChunks.Add(float64(chunks))
}

// RuntimeStarted marks a runtime as ready.
func RuntimeStarted() {
	RuntimesActive.Inc()
}

// RuntimeStopped marks a ready runtime as reaped.
func RuntimeStopped() {
	RuntimesActive.Dec()
}

// RecordSetupFailure counts a failed spawn or handshake.
func RecordSetupFailure() {
	SetupFailures.Inc()
}

// RecordJiraRequest counts a completed Jira call.
func RecordJiraRequest(endpoint string, status int) {
	JiraRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server starting", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
