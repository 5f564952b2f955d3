package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"church-assistant/internal/usecase"
)

const maxBodyBytes = 64 << 10

// NewRouter wires the chat routes for the standalone HTTP server.
func NewRouter(uc ChatUseCase, logger *slog.Logger) (http.Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	chat := func(w http.ResponseWriter, req *http.Request) {
		correlationID := requestCorrelation(req)
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			write(w, errorReply(correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}))
			return
		}
		// RealIP has already folded X-Forwarded-For into RemoteAddr.
		write(w, serveChat(req.Context(), uc, body, clientAddr(req), correlationID))
	}
	r.Post("/chat", chat)
	r.Options("/chat", func(w http.ResponseWriter, req *http.Request) {
		write(w, preflight(requestCorrelation(req)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		write(w, methodNotAllowed(requestCorrelation(req)))
	})

	return r, nil
}

// cors adds the CORS headers to every response, including errors from
// routes outside /chat.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, req)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.InfoContext(req.Context(), "http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(req.Context()),
			)
		})
	}
}

func requestCorrelation(req *http.Request) string {
	if id := req.Header.Get(correlationHeader); id != "" {
		return id
	}
	return correlationOr(middleware.GetReqID(req.Context()))
}

// clientAddr strips the port RemoteAddr carries when RealIP found no proxy
// header.
func clientAddr(req *http.Request) string {
	addr := req.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func write(w http.ResponseWriter, r reply) {
	for k, v := range r.headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(r.status)
	if len(r.body) > 0 {
		_, _ = w.Write(r.body)
	}
}
