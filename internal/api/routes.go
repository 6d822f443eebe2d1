package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbsim/internal/api/handlers"
	"arbsim/internal/api/middleware"
	"arbsim/internal/bot"
	"arbsim/internal/exchange"
	"arbsim/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Simulators map[string]*exchange.MarginSimulator
	Detector   *bot.ArbitrageDetector
	Tracker    *bot.PositionTracker
	Hub        *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /venues/
//	│   ├── GET / - список симуляторов
//	│   ├── GET /{name}/balance - балансы
//	│   ├── GET /{name}/positions - открытые позиции
//	│   └── GET /{name}/orders - история ордеров
//	└── /pairs/
//	    └── GET / - активные арбитражные пары
//
// /ws/stream - WebSocket для real-time событий сделок
// /metrics   - Prometheus метрики
// /health    - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	statusHandler := handlers.NewStatusHandler(deps.Simulators, deps.Detector, deps.Tracker)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/venues", statusHandler.GetVenues).Methods("GET")
	api.HandleFunc("/venues/{name}/balance", statusHandler.GetBalance).Methods("GET")
	api.HandleFunc("/venues/{name}/positions", statusHandler.GetPositions).Methods("GET")
	api.HandleFunc("/venues/{name}/orders", statusHandler.GetOrders).Methods("GET")
	api.HandleFunc("/pairs", statusHandler.GetPairs).Methods("GET")

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
