// Package httpapi is the HTTP surface of trade-relay: session and order
// commands, read-only market and trade queries, the /ws broadcast endpoint
// and /health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/hub"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/session"
	"github.com/rickgao/trade-relay/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sessions is the command side of the session registry.
type Sessions interface {
	RegisterSession(ctx context.Context, clientID, credential string) error
	UnregisterSession(clientID string)
	RouteOrder(ctx context.Context, clientID string, spec connection.OrderSpec) (model.Trade, error)
	RouteSubscribe(clientID string, symbols []string)
	RouteUnsubscribe(clientID string, symbols []string)
	Status(clientID string) (session.ClientStatus, bool)
	ListConnectedClients() []session.ClientStatus
	CloseTrade(ctx context.Context, tradeID string, exitPrice, payout, profit decimal.Decimal) (model.Trade, error)
}

// Server routes HTTP requests to the registry, the hub and the store.
type Server struct {
	sessions Sessions
	hub      *hub.Hub
	store    storage.Store
	logger   *zap.Logger

	validate *validator.Validate
	upgrader websocket.Upgrader
	router   *mux.Router

	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewServer builds the router.
func NewServer(sessions Sessions, h *hub.Hub, store storage.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		hub:      h,
		store:    store,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{clientID}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{clientID}", s.handleUnregister).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{clientID}/subscriptions", s.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{clientID}/subscriptions", s.handleUnsubscribe).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{clientID}/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	api.HandleFunc("/users/{clientID}/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades/{tradeID}/close", s.handleCloseTrade).Methods(http.MethodPost)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest{err}
	}
	if err := s.validate.Struct(v); err != nil {
		return errBadRequest{err}
	}
	return nil
}

type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return "invalid request: " + e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var bad errBadRequest
	var transport *connection.TransportError
	switch {
	case errors.As(err, &bad), errors.Is(err, connection.ErrInvalidOrder), errors.Is(err, storage.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyConnected), errors.Is(err, session.ErrNotConnected),
		errors.Is(err, storage.ErrTradeClosed):
		return http.StatusConflict
	case errors.Is(err, connection.ErrUnauthorized):
		return http.StatusForbidden
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
