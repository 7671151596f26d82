package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/malbeclabs/analyst/api/metrics"
	"github.com/malbeclabs/analyst/pkg/chat"
	"github.com/malbeclabs/analyst/pkg/dashboard"
)

const (
	APIName    = "Dashboard AI API"
	APIVersion = "1.0.0"

	defaultPreviewLimit = 10
	maxPreviewLimit     = 1000
	maxMessageBytes     = 64 * 1024
)

type Config struct {
	Logger    *slog.Logger
	Chat      *chat.Service
	Dashboard *dashboard.Service
	// AllowedOrigins are checked on WebSocket upgrades; empty allows any origin.
	AllowedOrigins []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chat == nil {
		return errors.New("chat service is required")
	}
	if cfg.Dashboard == nil {
		return errors.New("dashboard service is required")
	}
	return nil
}

type Handlers struct {
	log      *slog.Logger
	cfg      *Config
	upgrader websocket.Upgrader
}

func New(cfg *Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handlers{log: cfg.Logger, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type HistoryResponse struct {
	Messages []chat.Message `json:"messages"`
}

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{Message: APIName, Version: APIVersion})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	metrics.ChatMessagesTotal.WithLabelValues(string(chat.RoleUser)).Inc()
	msg := h.cfg.Chat.Send(r.Context(), req.Message)
	metrics.ChatMessagesTotal.WithLabelValues(string(chat.RoleAgent)).Inc()

	writeJSON(w, http.StatusOK, ChatResponse{Message: msg.Content, Timestamp: msg.Timestamp})
}

func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: h.cfg.Chat.History()})
}

func (h *Handlers) DashboardMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Dashboard.Data())
}

func (h *Handlers) DashboardPreview(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		http.Error(w, "skip must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultPreviewLimit)
	if err != nil || limit < 0 {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxPreviewLimit)
	writeJSON(w, http.StatusOK, h.cfg.Dashboard.Preview(skip, limit))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
