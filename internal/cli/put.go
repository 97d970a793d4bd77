package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/config"
	"github.com/erfanmomeniii/conveyor/sqs"
)

// putStats accumulates outcomes reported by producer workers.
type putStats struct {
	mu        sync.Mutex
	delivered int
	failed    int
	bytes     uint64
	failures  map[string]int
}

func (s *putStats) record(e conveyor.Entry, o conveyor.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.OK() {
		s.delivered++
		s.bytes += uint64(e.Size())
		return
	}
	s.failed++
	s.failures[o.Failure.Code]++
}

// redrive resubmits the entries the submitter gave up on and moves the
// delivered ones from the failure counts to the delivered counts.
func (s *putStats) redrive(ctx context.Context, dlq *conveyor.InMemoryDLQ, submitter *conveyor.Submitter, limits conveyor.Limits) error {
	failed, err := dlq.Receive(ctx, 0)
	if err != nil || len(failed) == 0 {
		return err
	}
	outcomes, err := conveyor.Redrive(ctx, dlq, submitter, limits, len(failed))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range outcomes {
		if !o.OK() {
			continue
		}
		s.failed--
		s.delivered++
		s.bytes += uint64(failed[i].Entry.Size())
		code := failed[i].Failure.Code
		if s.failures[code]--; s.failures[code] == 0 {
			delete(s.failures, code)
		}
	}
	return err
}

// contentDedupID derives a FIFO deduplication id from the payload, so a
// line sent twice within the deduplication window is delivered once.
func contentDedupID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func newPutCommand(a *app) *cobra.Command {
	var key, metricsAddr string
	var attrs []string
	var redrive bool

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Send each line of stdin as one entry to the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			attributes, err := parseAttributes(attrs)
			if err != nil {
				return err
			}

			backend, closeBackend, err := a.deps.NewBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeBackend(); err != nil {
					a.logger.Warn("failed to close backend", "error", err)
				}
			}()
			if timeout := a.cfg.Retry.CallTimeout.Duration(); timeout > 0 {
				backend = conveyor.ResilientBackend(backend, timeout)
			}
			limits := a.cfg.Limits()
			health := conveyor.NewHealthCheck(0, 0)
			middleware := []conveyor.Middleware{
				conveyor.RecoveryMiddleware(nil),
				conveyor.LoggingMiddleware(a.logger),
				conveyor.HealthCheckMiddleware(health),
			}
			if rps := a.cfg.Producer.RateLimit; rps > 0 {
				limiter := conveyor.NewEntryLimiter(rps, limits.MaxEntries)
				middleware = append(middleware, conveyor.RateLimitMiddleware(limiter, false))
			}
			backend = conveyor.Chain(middleware...)(backend)

			metrics, err := a.handler()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				stop := serveMetrics(a, metricsAddr, health)
				defer stop()
			}

			dlq := conveyor.NewInMemoryDLQ(0)
			submitter := conveyor.NewSubmitter(backend, append(a.cfg.SubmitOptions(),
				conveyor.WithSubmitLogger(a.logger),
				conveyor.WithSubmitMetrics(metrics),
				conveyor.WithValidators(a.cfg.Validators()...),
				conveyor.WithDeadLetter(dlq),
			)...)

			stats := &putStats{failures: map[string]int{}}
			producer := conveyor.NewProducer(submitter, limits, append(a.cfg.ProducerOptions(),
				conveyor.WithProducerLogger(a.logger),
				conveyor.WithOutcomeHandler(stats.record),
			)...)

			fifo := a.cfg.Backend == config.BackendSQS && sqs.IsFIFO(a.cfg.Target)
			start := time.Now()
			lines := 0
			reader := bufio.NewReader(cmd.InOrStdin())
			var readErr error
			for {
				line, err := reader.ReadBytes('\n')
				payload := bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
				if len(payload) > 0 {
					lines++
					entry := conveyor.Entry{Payload: payload, Key: key, Attributes: attributes}
					if fifo {
						entry.DedupID = contentDedupID(payload)
					}
					if perr := producer.Put(ctx, entry); perr != nil {
						_ = producer.Close(ctx)
						return perr
					}
				}
				if err != nil {
					if !errors.Is(err, io.EOF) {
						readErr = err
					}
					break
				}
			}
			if err := producer.Close(ctx); err != nil {
				return err
			}

			if redrive {
				if err := stats.redrive(ctx, dlq, submitter, limits); err != nil {
					return err
				}
			}

			if rep := health.Report(); rep.Status != conveyor.HealthStatusHealthy {
				a.logger.Warn("backend unhealthy at exit",
					"status", rep.Status,
					"unhealthy_rounds", rep.Streak,
					"failure_ratio", rep.LastTrouble.FailureRatio(),
					"last_error", rep.LastTrouble.Err,
				)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent %s of %s entries (%s) to %s %s in %s\n",
				humanize.Comma(int64(stats.delivered)),
				humanize.Comma(int64(lines)),
				humanize.Bytes(stats.bytes),
				a.cfg.Backend, a.cfg.Target,
				time.Since(start).Round(time.Millisecond),
			)
			for code, n := range stats.failures {
				fmt.Fprintf(out, "  %s failed with %s\n", humanize.Comma(int64(n)), code)
			}

			if readErr != nil {
				return fmt.Errorf("reading stdin: %w", readErr)
			}
			if stats.failed > 0 {
				return fmt.Errorf("%d of %d entries failed", stats.failed, lines)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "distribution key for every entry; generated when empty on keyed backends")
	cmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "attribute name=value added to every entry (repeatable)")
	cmd.Flags().BoolVar(&redrive, "redrive", false, "resubmit dead-lettered entries once after the input is drained")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running")
	return cmd
}

func parseAttributes(attrs []string) (map[string]string, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected name=value", kv)
		}
		m[k] = v
	}
	return m, nil
}

func serveMetrics(a *app, addr string, health *conveyor.HealthCheck) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.deps.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !health.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, health.Status())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
