package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type RouterOptions struct {
	FunctionName    string
	FunctionVersion string
	// InvocationTimeout bounds each invocation, like a serverless platform
	// deadline. Zero means no deadline.
	InvocationTimeout time.Duration
	Gatherer          prometheus.Gatherer
	Logger            zerolog.Logger
}

// NewRouter exposes h over HTTP. Any method on / or /forward reaches the
// handler and is answered 200.
func NewRouter(h *Handler, o RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(o.Logger))

	serve := invoke(h, o)
	r.HandleFunc("/", serve)
	r.HandleFunc("/forward", serve)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if o.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func invoke(h *Handler, o RouterOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			o.Logger.Debug().Err(err).Msg("read body failed")
			body = nil
		}
		exec := ExecutionContext{
			FunctionName:    o.FunctionName,
			FunctionVersion: o.FunctionVersion,
			ActivationID:    uuid.NewString(),
			RequestID:       middleware.GetReqID(r.Context()),
		}
		// A dropped client connection must not abort a forward in flight.
		ctx := context.WithoutCancel(r.Context())
		if o.InvocationTimeout > 0 {
			exec.Deadline = time.Now().Add(o.InvocationTimeout)
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, exec.Deadline)
			defer cancel()
		}

		res := h.Handle(ctx, Invocation{
			Method:  r.Method,
			Headers: r.Header,
			Body:    body,
			Exec:    exec,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.StatusCode)
		_ = json.NewEncoder(w).Encode(res)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}
