// Package server receives repository_dispatch webhooks and feeds them to a
// single release worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/nickromney-org/release-propagator/internal/event"
	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/logging"
	"github.com/nickromney-org/release-propagator/pkg/types"
)

const (
	defaultMaxBody      = 1 << 20
	defaultWriteTimeout = 30 * time.Second
	shutdownTimeout     = 30 * time.Second
)

// Options configure the listener
type Options struct {
	Addr        string
	Path        string
	MetricsPath string
	Secret      string
	ReadTimeout time.Duration
	QueueSize   int
	MaxBody     int64
}

type job struct {
	delivery string
	event    types.ReleaseEvent
}

// Server accepts release webhooks and runs them one at a time
type Server struct {
	opts    Options
	runner  Runner
	log     *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	queue   chan job
	done    chan struct{}
}

// New creates a server. log may be nil.
func New(opts Options, runner Runner, log *logging.Logger) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		opts:   opts,
		runner: runner,
		log:    log.WithComponent("server"),
		queue:  make(chan job, opts.QueueSize),
		done:   make(chan struct{}),
	}
	s.metrics = NewMetrics(nil, func() float64 { return float64(len(s.queue)) })
	return s
}

// Handler returns the HTTP routes: the webhook, metrics and a health check
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleWebhook)
	if s.opts.MetricsPath != "" {
		mux.Handle(s.opts.MetricsPath, s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": len(s.queue)})
	})
	return mux
}

// Start launches the worker. Stop must be called to release it.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.worker(ctx)
}

// Stop refuses new events and waits for queued ones to finish
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadTimeout,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
	}

	// Runs in flight at shutdown are allowed to finish.
	s.Start(context.WithoutCancel(ctx))

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Str("path", s.opts.Path).Msg("Listening for release webhooks")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.Stop()
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Stop()
	return err
}

func (s *Server) enqueue(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- j:
		return true
	default:
		return false
	}
}

func (s *Server) worker(ctx context.Context) {
	defer close(s.done)
	for j := range s.queue {
		log := s.log.With().Str("delivery", j.delivery).Logger()
		start := time.Now()
		result, err := s.runner.Run(ctx, j.event)

		outcome := "failed"
		if result != nil {
			outcome = string(result.Status())
		}
		s.metrics.run(outcome, time.Since(start).Seconds())

		if err != nil {
			log.Error().Err(err).Str("version", j.event.Version).Str("kind", string(failure.KindOf(err))).Msg("Release run failed")
			continue
		}
		log.Info().Str("version", j.event.Version).Str("latest", result.LatestTag).Msg("Release run complete")
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", delivery)
	log := s.log.With().Str("delivery", delivery).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBody)
	payload, err := gh.ValidatePayload(r, []byte(s.opts.Secret))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected webhook")
		s.metrics.webhook(resultInvalidSignature)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload or signature"})
		return
	}

	eventType := gh.WebHookType(r)
	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		log.Debug().Err(err).Str("event", eventType).Msg("Unparseable webhook")
		s.metrics.webhook(resultBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	var dispatch *gh.RepositoryDispatchEvent
	switch e := parsed.(type) {
	case *gh.PingEvent:
		s.metrics.webhook(resultPing)
		writeJSON(w, http.StatusOK, map[string]any{"status": "pong"})
		return
	case *gh.RepositoryDispatchEvent:
		dispatch = e
	default:
		s.ignore(w, eventType)
		return
	}

	if dispatch.GetAction() != event.ReleaseAction {
		s.ignore(w, eventType+"/"+dispatch.GetAction())
		return
	}

	ev, err := event.FromDispatch(dispatch.GetAction(), dispatch.ClientPayload)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected release event")
		s.metrics.webhook(resultInvalidVersion)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}

	if !s.enqueue(job{delivery: delivery, event: ev}) {
		log.Warn().Str("version", ev.Version).Msg("Queue full, rejecting release event")
		s.metrics.webhook(resultQueueFull)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "release queue is full"})
		return
	}

	log.Info().Str("version", ev.Version).Str("repository", dispatch.GetRepo().GetFullName()).Msg("Queued release event")
	s.metrics.webhook(resultQueued)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "version": ev.Version, "delivery": delivery})
}

func (s *Server) ignore(w http.ResponseWriter, what string) {
	s.log.Debug().Str("event", what).Msg("Ignoring webhook")
	s.metrics.webhook(resultIgnored)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ignored", "event": what})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
