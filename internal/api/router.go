// Package api serves the read and control HTTP surface: stored candles,
// backtest results, deployment state, and a stop endpoint that publishes
// a deployment stop request onto the bus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"trading-platformv1/internal/markethours"
	"trading-platformv1/internal/model"
)

// Store is the read surface the API serves from.
type Store interface {
	model.CandleStore
	model.BacktestStore
	model.DeploymentStore
	model.OrderStore
}

// Server holds the API dependencies.
type Server struct {
	store Store
	bus   model.Bus
	log   *slog.Logger
}

// NewServer creates the API server.
func NewServer(store Store, bus model.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, bus: bus, log: log}
}

// Router sets up HTTP routes for the API server.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/candles", s.handleCandles)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGetBacktest)
	mux.HandleFunc("GET /api/v1/deployments/{id}", s.handleGetDeployment)
	mux.HandleFunc("POST /api/v1/deployments/{id}/stop", s.handleStopDeployment)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"market_open":   markethours.IsMarketOpen(now),
		"market_status": markethours.StatusString(now),
	})
}

// handleCandles serves stored candles for one series:
// GET /api/v1/candles?source=X&symbol=Y&tf=1m&from=T1&to=T2
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, symbol := q.Get("source"), q.Get("symbol")
	if source == "" || symbol == "" {
		writeError(w, http.StatusBadRequest, "source and symbol are required")
		return
	}
	tf, err := model.ParseTimeframe(q.Get("tf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a unix timestamp")
		return
	}
	to, err := strconv.ParseInt(q.Get("to"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be a unix timestamp")
		return
	}

	candles := []model.Candle{}
	err = s.store.StreamCandles(r.Context(), source, symbol, tf, from, to, func(c model.Candle) error {
		candles = append(candles, c)
		return nil
	})
	if err != nil {
		s.log.Error("stream candles", "err", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	bt, err := s.store.GetBacktest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, s.log, "backtest", err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, s.log, "deployment", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, s.log, "order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleStopDeployment records the stop request on the row and
// publishes it for the hosting runtime, which performs the shutdown and
// the terminal transition. The row write comes first so the request is
// visible even if the runtime is down when it arrives.
func (s *Server) handleStopDeployment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.store.GetDeployment(r.Context(), id)
	if err != nil {
		writeLookupError(w, s.log, "deployment", err)
		return
	}
	if d.Status.Terminal() {
		writeError(w, http.StatusConflict, "deployment already "+string(d.Status))
		return
	}

	// Guarded running → stop_requested; re-requesting is a no-op. A
	// pending deployment has no runtime to stop and conflicts here.
	err = s.store.UpdateDeploymentStatus(r.Context(), id, model.DeploymentStopRequested, "", nil)
	if errors.Is(err, model.ErrTransactionConflict) {
		writeError(w, http.StatusConflict, "deployment is "+string(d.Status)+", not running")
		return
	}
	if err != nil {
		s.log.Error("mark stop_requested", "deployment_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	payload, err := json.Marshal(model.DeploymentEvent{
		ID:           uuid.NewString(),
		Type:         model.EventDeploymentStop,
		DeploymentID: id,
		Timestamp:    time.Now().Unix(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode event")
		return
	}

	pubCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.bus.Publish(pubCtx, model.ChannelDeploymentEvents, payload); err != nil {
		s.log.Error("publish stop", "deployment_id", id, "err", err)
		writeError(w, http.StatusBadGateway, "bus unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"deployment_id": id, "status": "stop_requested"})
}

func writeLookupError(w http.ResponseWriter, log *slog.Logger, kind string, err error) {
	if errors.Is(err, model.ErrRowNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	log.Error("lookup "+kind, "err", err)
	writeError(w, http.StatusInternalServerError, "storage error")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
