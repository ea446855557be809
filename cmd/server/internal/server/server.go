package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/assistant"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/consumer"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/gateway"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/hub"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/protocol"
	"github.com/Frida7771/yahoo-finance-agent/cmd/server/internal/upstream"
)

// Server exposes the relay over HTTP: the quotes WebSocket, the status
// endpoint, and the chat seam.
type Server struct {
	hub      *hub.Hub
	reader   *upstream.Reader
	consumer *consumer.Consumer // nil when running without a queue
	agent    assistant.Agent    // nil when no agent is wired
	queueOK  bool
	logger   *zap.Logger
}

func New(
	h *hub.Hub,
	reader *upstream.Reader,
	cons *consumer.Consumer,
	agent assistant.Agent,
	queueOK bool,
	logger *zap.Logger,
) *Server {
	return &Server{
		hub:      h,
		reader:   reader,
		consumer: cons,
		agent:    agent,
		queueOK:  queueOK,
		logger:   logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(s.logger))

	r.Get("/ws/quotes", s.handleQuotes)
	r.Get("/realtime/status", s.handleStatus)
	r.Post("/chat", s.handleChat)

	return r
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := gateway.NewClient(conn, s.hub, s.logger)
	s.hub.Register(client)
	client.Start()

	// One informational frame when the feed cannot be reached at all;
	// the connection stays open (data may still arrive via the queue).
	if !s.reader.Configured() {
		client.SendJSON(protocol.ServerFrame{
			Type:    protocol.FrameError,
			Message: "upstream feed not configured: set UPSTREAM_KEY and UPSTREAM_SECRET",
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := protocol.Status{
		UpstreamConfigured: s.reader.Configured(),
		UpstreamConnected:  s.reader.Connected(),
		QueueAvailable:     s.queueOK,
		ConsumerRunning:    s.consumer != nil && s.consumer.Running(),
		ActiveConnections:  s.hub.ConnCount(),
		SubscribedSymbols:  s.hub.Symbols(),
	}
	writeJSON(w, http.StatusOK, status)
}

type chatRequest struct {
	Message string              `json:"message"`
	History []assistant.Message `json:"history,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "assistant not configured",
		})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	reply, err := s.agent.Chat(r.Context(), req.Message, req.History, nil)
	if err != nil {
		s.logger.Error("agent chat failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "agent error"})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
