package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rickgao/trade-relay/internal/connection"
	"github.com/rickgao/trade-relay/internal/model"
	"github.com/rickgao/trade-relay/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type registerRequest struct {
	ClientID string `json:"clientId" validate:"required,max=128"`
	Token    string `json:"token"` // Empty opens an anonymous, quotes-only session
}

type symbolsRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,dive,required"`
}

type closeTradeRequest struct {
	ExitPrice decimal.Decimal `json:"exitPrice"`
	Payout    decimal.Decimal `json:"payout"`
	Profit    decimal.Decimal `json:"profit"`
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{Status: "healthy", Components: make(map[string]any)}

	if markets, err := s.store.GetAllMarkets(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["store"] = map[string]string{"status": "unavailable", "error": err.Error()}
	} else {
		health.Components["store"] = map[string]any{"status": "ok", "markets": len(markets)}
	}

	stats := s.hub.Stats()
	health.Components["hub"] = map[string]any{
		"subscribers": stats.Subscribers,
		"published":   stats.Published,
		"dropped":     stats.Dropped,
	}

	sessions := s.sessions.ListConnectedClients()
	connected := 0
	for _, st := range sessions {
		if st.Connected {
			connected++
		}
	}
	health.Components["sessions"] = map[string]int{"registered": len(sessions), "connected": connected}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.ListConnectedClients())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sessions.RegisterSession(r.Context(), req.ClientID, req.Token); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	st, _ := s.sessions.Status(req.ClientID)
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sessions.Status(mux.Vars(r)["clientID"])
	if !ok {
		s.writeError(w, http.StatusNotFound, session.ErrNotConnected)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	s.sessions.UnregisterSession(mux.Vars(r)["clientID"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sessions.RouteSubscribe(mux.Vars(r)["clientID"], req.Symbols)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sessions.RouteUnsubscribe(mux.Vars(r)["clientID"], req.Symbols)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var spec connection.OrderSpec
	if err := s.decode(r, &spec); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	trade, err := s.sessions.RouteOrder(r.Context(), mux.Vars(r)["clientID"], spec)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.GetAllMarkets(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	var (
		trades []model.Trade
		err    error
	)
	switch r.URL.Query().Get("status") {
	case "":
		trades, err = s.store.GetTradesByUser(r.Context(), clientID)
	case string(model.TradeStatusOpen):
		trades, err = s.store.GetOpenTradesByUser(r.Context(), clientID)
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be empty or open"})
		return
	}
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	var req closeTradeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	tradeID := mux.Vars(r)["tradeID"]
	trade, err := s.sessions.CloseTrade(r.Context(), tradeID, req.ExitPrice, req.Payout, req.Profit)
	if err != nil {
		s.logger.Info("manual close rejected", zap.String("trade_id", tradeID), zap.Error(err))
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}
