// Package server exposes the external interfaces of the pipeline: SSE
// telemetry streams per broadcast channel and the inbound command
// endpoint. The dashboard and other ground tools are separate processes
// that consume these endpoints; nothing here renders anything.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/model-satellite/flightcore/internal/broadcast"
	"github.com/model-satellite/flightcore/internal/command"
)

const (
	shutdownTimeout = 5 * time.Second
	maxCommandBytes = 64
)

// Dispatcher applies a parsed operator command to the pipeline.
type Dispatcher interface {
	Dispatch(action command.Action)
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server serves the telemetry channels and command intake over HTTP.
type Server struct {
	addr       string
	hub        *broadcast.Hub
	dispatcher Dispatcher
	logger     *slog.Logger

	httpServer *http.Server
}

// New creates a server bound to addr, streaming from hub and forwarding
// commands to dispatcher.
func New(addr string, hub *broadcast.Hub, dispatcher Dispatcher, options ...func(*Server)) *Server {
	s := Server{
		addr:       addr,
		hub:        hub,
		dispatcher: dispatcher,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /telemetry/{channel}", s.handleTelemetry)
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return &s
}

// Run serves until ctx is cancelled, then shuts down with a bounded
// timeout so slow clients cannot hold up process exit.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("serving telemetry", slog.String("addr", s.addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// handleTelemetry streams one broadcast channel as server-sent events.
// Each record is one self-contained JSON message; absent sensor fields
// appear as explicit nulls.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.hub.Subscribe(channel)
	if err != nil {
		http.Error(w, "subscription unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("subscriber connected", slog.String("channel", channel))
	defer s.logger.Info("subscriber disconnected", slog.String("channel", channel))

	ctx := r.Context()
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			// Client went away or the hub shut down.
			return
		}

		data, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error(fmt.Sprintf("encoding record: %s", err))
			continue
		}

		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", rec.Packet, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleCommand accepts one text token per request. Unknown tokens are
// logged and ignored; the connection-level success is the only
// acknowledgment.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "reading command", http.StatusBadRequest)
		return
	}

	token := string(body)
	action, err := command.Parse(token)
	if err != nil {
		s.logger.Warn("ignoring malformed command", slog.String("token", token))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.logger.Info("command received", slog.String("action", action.String()))
	s.dispatcher.Dispatch(action)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
