package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/discovery"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the discovery HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		s := &server{
			engine:       env.Engine,
			metrics:      env.Metrics.Handler(),
			defaultCount: cfg.Discovery.DefaultCandidates,
			timeout:      time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		}
		if cfg.Discovery.PersistSelections {
			s.selections = env.Backend
		}

		return startServer(ctx, buildRouter(s, cfg.Server.CORSAllowedOrigins), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// discoverer is the engine surface the HTTP layer needs.
type discoverer interface {
	Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error)
	CachedResult(requestID string) (*discovery.Result, bool)
}

type server struct {
	engine discoverer
	// selections is nil unless selection persistence is enabled.
	selections   discovery.SelectionStore
	metrics      http.Handler
	defaultCount int
	timeout      time.Duration
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

func buildRouter(s *server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/discover", s.handleDiscover)
	r.Get("/discover/{request_id}/cache", s.handleCached)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discovery.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CandidatesNeeded == 0 {
		req.CandidatesNeeded = s.defaultCount
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.engine.Discover(ctx, req)
	if err != nil {
		status, body := errorResponse(err)
		writeJSON(w, status, body)
		return
	}

	// Cached results are shared; answer with a copy carrying this request's id.
	out := *res
	out.RequestID = req.ID

	if s.selections != nil {
		if err := s.selections.SaveSelection(ctx, &out); err != nil {
			zap.L().Warn("serve: save selection failed",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleCached(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	res, ok := s.engine.CachedResult(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no cached result for request "+id)
		return
	}
	out := *res
	out.RequestID = id
	writeJSON(w, http.StatusOK, &out)
}

// errorResponse maps discovery errors onto HTTP statuses.
func errorResponse(err error) (int, map[string]string) {
	var ire *discovery.InvalidRequestError
	if errors.As(err, &ire) {
		return http.StatusBadRequest, map[string]string{"error": ire.Error(), "field": ire.Field}
	}
	var de *discovery.DiscoveryError
	if errors.As(err, &de) {
		body := map[string]string{"error": de.Error(), "request_id": de.RequestID, "stage": string(de.Stage)}
		if de.Timeout() {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("serve: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
