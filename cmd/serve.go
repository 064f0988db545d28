package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/monitoring"
	"github.com/sells-group/matchguard/internal/pipeline"
	"github.com/sells-group/matchguard/internal/store"
)

// maxRequestBytes caps the body of a validate request.
const maxRequestBytes = 32 << 20

var (
	servePort     int
	serveRegistry string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, serveRegistry, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Store != nil && cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := buildMux(env, cfg.Server.AllowedOrigins)
		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveRegistry, "registry", "", "entity registry file or URL (default: notion.entity_db)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort returns the flag port when set, otherwise the config port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// validateRequest is the body of POST /v1/validate.
type validateRequest struct {
	Documents []model.Document `json:"documents"`
	statsInput
}

// buildMux wires the API routes. A nil env serves only /health; every other
// route answers 503.
func buildMux(env *pipelineEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if env != nil && env.Store != nil {
			if err := env.Store.Ping(r.Context()); err != nil {
				status["status"] = "degraded"
				status["store"] = err.Error()
			}
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Route("/v1", func(api chi.Router) {
		api.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if env == nil {
					writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
					return
				}
				next.ServeHTTP(w, r)
			})
		})

		api.Post("/validate", func(w http.ResponseWriter, r *http.Request) {
			if env.Registry == nil {
				writeError(w, http.StatusServiceUnavailable, "no entity registry loaded")
				return
			}
			var req validateRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(req.Documents) == 0 {
				writeError(w, http.StatusBadRequest, "documents are required")
				return
			}

			run, err := env.Pipeline.Run(r.Context(), pipeline.Input{
				Documents:     req.Documents,
				Registry:      env.Registry,
				Observations:  req.Observations,
				Distributions: req.Distributions,
				Records:       req.Records,
				InputSizeGB:   req.InputSizeGB,
			})
			if err != nil {
				zap.L().Error("api: persist run", zap.String("run_id", run.ID), zap.Error(err))
				w.Header().Set("X-Persist-Error", "true")
			}
			writeJSON(w, http.StatusOK, run)
		})

		api.Group(func(ro chi.Router) {
			ro.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if env.Store == nil {
						writeError(w, http.StatusServiceUnavailable, "no store configured")
						return
					}
					next.ServeHTTP(w, r)
				})
			})

			ro.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				filter := store.RunFilter{
					Status: model.ValidationStatus(q.Get("status")),
					Limit:  queryInt(q.Get("limit")),
					Offset: queryInt(q.Get("offset")),
				}
				if since := q.Get("since"); since != "" {
					d, err := time.ParseDuration(since)
					if err != nil {
						writeError(w, http.StatusBadRequest, "invalid since duration")
						return
					}
					filter.Since = time.Now().Add(-d)
				}
				runs, err := env.Store.ListRuns(r.Context(), filter)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, runs)
			})

			ro.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
				run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, run)
			})

			ro.Get("/runs/{id}/review", func(w http.ResponseWriter, r *http.Request) {
				items, err := env.Store.ListReview(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, items)
			})

			ro.Get("/runs/{id}/quality", func(w http.ResponseWriter, r *http.Request) {
				q, err := env.Store.GetQuality(r.Context(), chi.URLParam(r, "id"))
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, q)
			})

			ro.Get("/investigations", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				invs, err := env.Store.ListInvestigations(r.Context(), store.InvestigationFilter{
					RunID:  q.Get("run_id"),
					Status: q.Get("status"),
					Limit:  queryInt(q.Get("limit")),
				})
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, invs)
			})

			ro.Get("/health/runs", func(w http.ResponseWriter, r *http.Request) {
				snap, err := monitoring.NewCollector(env.Store).Collect(r.Context(), cfg.Monitoring.LookbackWindowHours)
				if err != nil {
					writeStoreError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"snapshot": snap,
					"alerts":   monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap),
				})
			})
		})

		api.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if env.Metrics == nil {
				writeError(w, http.StatusNotFound, "metrics disabled")
				return
			}
			var rm metricdata.ResourceMetrics
			if err := env.Metrics.Collect(r.Context(), &rm); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, rm.ScopeMetrics)
		})
	})

	return r
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("api: store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store error")
}
