package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/cascade/internal/metrics"
	"github.com/jpalmerr/cascade/internal/stream"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// maxValueBytes is the largest value accepted from a client.
	maxValueBytes = 1 << 20

	// OriginHeader lets REST clients name themselves as the writer.
	OriginHeader = "X-Cascade-Origin"
)

// Source is the context store the server reads from and writes to.
type Source interface {
	// Get returns the current record for key.
	Get(key string) (stream.Record, bool)

	// All returns the current record of every key, sorted by key.
	All() []stream.Record

	// Update writes value to key on behalf of origin and returns the record.
	Update(origin, key string, value json.RawMessage) stream.Record
}

// Server handles HTTP requests for the Cascade bridge.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	source     Source
	stream     stream.Stream
	port       int
	gatherer   prometheus.Gatherer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - src: the context store behind the API
//   - st: stream carrying every write made to src
//   - port: TCP port to listen on
//   - gatherer: metrics exposed at /metrics (may be nil to disable)
//   - m: collectors for connected clients (may be nil)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(src Source, st stream.Stream, port int, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		source:   src,
		stream:   st,
		port:     port,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger,
	}
}

// Handler returns the router serving every bridge endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/context", s.handleList)
		r.Get("/context/{key}", s.handleGet)
		r.Put("/context/{key}", s.handlePut)
		r.Get("/sse", s.handleSSE)
	})
	r.Get("/ws", s.handleWebSocket)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Handler(),
		// request contexts derive from ctx so long-running streams end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

// handleList returns every current record as JSON.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.All())
}

// handleGet returns the current record for one key.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.keyParam(w, r)
	if !ok {
		return
	}

	rec, found := s.source.Get(key)
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("key %q has not been written", key))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handlePut writes the request body, which must be a JSON value, to one key.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := s.keyParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "value too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "body must be a JSON value")
		return
	}

	origin := r.Header.Get(OriginHeader)
	if origin == "" {
		origin = r.RemoteAddr
	}

	rec := s.source.Update(origin, key, json.RawMessage(body))
	s.logger.Debug("context updated", "key", key, "version", rec.ID, "origin", origin)
	s.writeJSON(w, http.StatusOK, rec)
}

// handleSSE streams records via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	keys, replay, err := streamParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	// subscribe before replay and before headers reach the client, so a write
	// made once the client sees the response is never missed
	ch := s.stream.Subscribe(keys...)
	defer s.stream.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	s.metrics.ClientConnected(metrics.TransportSSE)
	defer s.metrics.ClientDisconnected(metrics.TransportSSE)

	if replay {
		for _, rec := range s.snapshot(keys) {
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// keyParam returns the decoded {key} path parameter. Keys containing "/"
// arrive percent-encoded.
//
// chi routes on r.URL.RawPath when it is set, and the parameter is then still
// escaped. Otherwise it is already decoded and must not be unescaped again.
func (s *Server) keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid key")
			return "", false
		}
	}
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "invalid key")
		return "", false
	}
	return key, true
}

// snapshot returns the current records for keys, or every record when keys
// is empty.
func (s *Server) snapshot(keys []string) []stream.Record {
	if len(keys) == 0 {
		return s.source.All()
	}
	records := make([]stream.Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := s.source.Get(k); ok {
			records = append(records, rec)
		}
	}
	return records
}

// streamParams reads the key filter and replay flag of a streaming request.
func streamParams(r *http.Request) (keys []string, replay bool, err error) {
	q := r.URL.Query()
	for _, k := range q["key"] {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if v := q.Get("replay"); v != "" {
		replay, err = strconv.ParseBool(v)
		if err != nil {
			return nil, false, fmt.Errorf("invalid replay value %q", v)
		}
	}
	return keys, replay, nil
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
