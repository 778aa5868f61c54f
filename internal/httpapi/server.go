package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ramad/internal/lifecycle"
	"ramad/internal/supervisor"
	"ramad/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.ModelSummary
	ModelStatus(name string) (types.ModelStatusResponse, error)
	SubmitArtifact(ctx context.Context, name string, payload io.Reader) (types.UploadResponse, error)
	Route(ctx context.Context, name string, req lifecycle.ForwardRequest, w http.ResponseWriter) error
	Ready() bool
}

// Options carries collaborators the mux needs beyond the Service.
type Options struct {
	// SupervisorURL, when set, enables the GET /supervisor passthrough to
	// the process supervisor's own status UI.
	SupervisorURL string
}

// validModelName keeps model names usable as directory names and
// supervisor group prefixes.
var validModelName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/model", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Route("/model/{name}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			st, err := svc.ModelStatus(name)
			if err != nil {
				if lifecycle.IsNotFound(err) {
					writeJSONError(w, http.StatusNotFound, err.Error())
					return
				}
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, st)
		})
		r.Post("/", handleInference(svc))
		r.Put("/", handleUpload(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("waiting for an active slot"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Supervisor UI passthrough, not part of the core logic.
	if opts.SupervisorURL != "" {
		if proxy := supervisorProxy(opts.SupervisorURL); proxy != nil {
			r.Handle("/supervisor", proxy)
			r.Handle("/supervisor/*", proxy)
		}
	}

	return r
}

// handleInference forwards POST /model/{name} to the active worker, or
// holds the connection while the request is queued across a switch.
func handleInference(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			} else {
				writeJSONError(w, http.StatusBadRequest, "read request body: "+err.Error())
			}
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			z := zlog.Info().Str("path", r.URL.Path).Str("model", name)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("route start")
		}

		// Join server base context with request context so shutdown
		// cancels held requests too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		req := lifecycle.ForwardRequest{Body: body, ContentType: r.Header.Get("Content-Type")}
		if err := svc.Route(joinedCtx, name, req, w); err != nil {
			// Client disconnect or shutdown: nothing left to write.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := routeErrorStatus(err)
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
				if rid := middleware.GetReqID(r.Context()); rid != "" {
					z = z.Str("request_id", rid)
				}
				z.Err(err).Msg("route end")
			}
			return
		}
		if lvl >= LevelInfo {
			z := zlog.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("route end")
		}
	}
}

// routeErrorStatus maps well-known lifecycle errors to HTTP status codes.
func routeErrorStatus(err error) int {
	switch {
	case lifecycle.IsNotFound(err):
		return http.StatusNotFound
	case lifecycle.IsQueueFull(err):
		IncrementBackpressure("queue_full")
		return http.StatusTooManyRequests
	case lifecycle.IsQueueTimeout(err):
		return http.StatusGatewayTimeout
	case lifecycle.IsUpstreamUnavailable(err):
		return http.StatusServiceUnavailable
	case supervisor.IsGatewayError(err):
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// handleUpload accepts a new artifact for PUT /model/{name} and returns as
// soon as promotion has been kicked off in the background.
func handleUpload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !validModelName.MatchString(name) {
			writeJSONError(w, http.StatusBadRequest, "invalid model name")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxArtifactBytes)
		resp, err := svc.SubmitArtifact(r.Context(), name, r.Body)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			zlog.Info().Str("request_id", rid).Str("model", name).
				Str("version", resp.Version).Bool("no_op", resp.NoOp).Msg("artifact accepted")
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// supervisorProxy builds a passthrough to the supervisor's own HTTP UI.
func supervisorProxy(raw string) http.Handler {
	target, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, "/supervisor")
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		proxy.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
