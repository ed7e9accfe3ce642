// Package server exposes a jsrt.Host over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mgomes/units/jsrt"
	"github.com/mgomes/units/units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr string
	Host *jsrt.Host
	// Gatherer backs GET /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves evaluation requests against one host.
type Server struct {
	addr     string
	host     *jsrt.Host
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a Server and builds its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Host == nil {
		return nil, errors.New("server: host is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		addr:     cfg.Addr,
		host:     cfg.Host,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/eval", s.handleEval)
	r.Get("/units", s.handleUnits)
	r.Get("/ws", s.handleWebSocket)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening.", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("Server shutting down.")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, failure("request body too large", "BadRequest"))
		return
	}
	source, ok := sourceFrom(body)
	if !ok {
		writeJSON(w, http.StatusBadRequest, failure(`request body must be {"source": "..."}`, "BadRequest"))
		return
	}

	result, err := s.host.Eval(r.Context(), source)
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, envelope(result, err))
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	reg := s.host.Registry()
	out := `{}`
	out, _ = sjson.Set(out, "registered", nonNil(reg.Registered()))
	out, _ = sjson.Set(out, "loaded", nonNil(reg.Loaded()))
	writeJSON(w, http.StatusOK, []byte(out))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed.", "error", err)
		return
	}
	defer conn.Close()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read failed.", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		source, ok := sourceFrom(msg)
		if !ok {
			source = string(msg)
		}
		result, evalErr := s.host.Eval(r.Context(), source)
		if err := conn.WriteMessage(websocket.TextMessage, envelope(result, evalErr)); err != nil {
			s.logger.Debug("WebSocket write failed.", "error", err)
			return
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func sourceFrom(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	source := gjson.GetBytes(body, "source")
	if source.Type != gjson.String {
		return "", false
	}
	return source.String(), true
}

// envelope renders the JSON reply for one evaluation.
func envelope(result *jsrt.Result, err error) []byte {
	var logs []string
	if result != nil {
		logs = result.Logs
	}

	out := `{}`
	if err != nil {
		out, _ = sjson.Set(out, "ok", false)
		out, _ = sjson.Set(out, "error", err.Error())
		out, _ = sjson.Set(out, "kind", kindOf(err))
	} else {
		out, _ = sjson.Set(out, "ok", true)
		var value any
		if result != nil {
			value = result.Value
		}
		updated, setErr := sjson.Set(out, "result", value)
		if setErr != nil {
			updated, _ = sjson.Set(out, "result", fmt.Sprint(value))
		}
		out = updated
	}
	out, _ = sjson.Set(out, "logs", nonNil(logs))
	return []byte(out)
}

func failure(message, kind string) []byte {
	out := `{"ok":false}`
	out, _ = sjson.Set(out, "error", message)
	out, _ = sjson.Set(out, "kind", kind)
	out, _ = sjson.Set(out, "logs", []string{})
	return []byte(out)
}

func kindOf(err error) string {
	kind := units.Kind(err)
	if kind != "error" {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "Interrupted"
	}
	var scriptErr *jsrt.ScriptError
	if errors.As(err, &scriptErr) {
		return "ScriptError"
	}
	return kind
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
