package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"arbsim/internal/bot"
	"arbsim/internal/exchange"
	"arbsim/internal/models"
)

// VenueResponse - сводка по одному симулятору
type VenueResponse struct {
	Name     string  `json:"name"`
	Leverage int     `json:"leverage"`
	FeeRate  float64 `json:"fee_rate"`
}

// BalanceResponse - балансы симулятора
type BalanceResponse struct {
	Venue         string             `json:"venue"`
	RealBalance   map[string]float64 `json:"real_balance"`
	LoanedBalance map[string]float64 `json:"loaned_balance"`
}

// PositionsResponse - открытые позиции симулятора
type PositionsResponse struct {
	Venue     string                      `json:"venue"`
	Positions map[string]*models.Position `json:"positions"`
}

// OrdersResponse - история ордеров симулятора
type OrdersResponse struct {
	Venue  string               `json:"venue"`
	Orders []models.OrderRecord `json:"orders"`
}

// PairsResponse - активные арбитражные пары
type PairsResponse struct {
	ActivePairs []string                                  `json:"active_pairs"`
	Tracked     map[string]map[string]bot.TrackedPosition `json:"tracked"`
}

// StatusHandler отдаёт состояние симуляции
//
// Endpoints:
// - GET /api/v1/venues - список симуляторов
// - GET /api/v1/venues/{name}/balance - балансы
// - GET /api/v1/venues/{name}/positions - открытые позиции
// - GET /api/v1/venues/{name}/orders - история ордеров
// - GET /api/v1/pairs - активные арбитражные пары
type StatusHandler struct {
	simulators map[string]*exchange.MarginSimulator
	detector   *bot.ArbitrageDetector
	tracker    *bot.PositionTracker
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(
	simulators map[string]*exchange.MarginSimulator,
	detector *bot.ArbitrageDetector,
	tracker *bot.PositionTracker,
) *StatusHandler {
	return &StatusHandler{
		simulators: simulators,
		detector:   detector,
		tracker:    tracker,
	}
}

// GetVenues возвращает список симуляторов
// GET /api/v1/venues
func (h *StatusHandler) GetVenues(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.simulators))
	for name := range h.simulators {
		names = append(names, name)
	}
	sort.Strings(names)

	response := make([]VenueResponse, 0, len(names))
	for _, name := range names {
		sim := h.simulators[name]
		response = append(response, VenueResponse{
			Name:     sim.Name(),
			Leverage: sim.Leverage(),
			FeeRate:  sim.FeeRate(),
		})
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

// GetBalance возвращает балансы симулятора
// GET /api/v1/venues/{name}/balance
func (h *StatusHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	sim, ok := h.venue(r)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "Unknown venue", "")
		return
	}

	snap := sim.GetBalance()
	h.respondWithJSON(w, http.StatusOK, BalanceResponse{
		Venue:         sim.Name(),
		RealBalance:   snap.RealBalance,
		LoanedBalance: snap.LoanedBalance,
	})
}

// GetPositions возвращает открытые позиции симулятора
// GET /api/v1/venues/{name}/positions
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	sim, ok := h.venue(r)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "Unknown venue", "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, PositionsResponse{
		Venue:     sim.Name(),
		Positions: sim.Positions(),
	})
}

// GetOrders возвращает историю ордеров симулятора
// GET /api/v1/venues/{name}/orders
func (h *StatusHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	sim, ok := h.venue(r)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "Unknown venue", "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, OrdersResponse{
		Venue:  sim.Name(),
		Orders: sim.Orders(),
	})
}

// GetPairs возвращает активные арбитражные пары и реестр позиций
// GET /api/v1/pairs
func (h *StatusHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, PairsResponse{
		ActivePairs: h.detector.ActivePairs(),
		Tracked:     h.tracker.Snapshot(),
	})
}

// venue извлекает симулятор по {name} из пути
func (h *StatusHandler) venue(r *http.Request) (*exchange.MarginSimulator, bool) {
	name := strings.ToLower(mux.Vars(r)["name"])
	sim, ok := h.simulators[name]
	return sim, ok
}

// respondWithJSON отправляет JSON ответ
func (h *StatusHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *StatusHandler) respondWithError(w http.ResponseWriter, code int, message string, details string) {
	h.respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
