package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/auto-fib/internal/exchange"
	"github.com/auto-fib/internal/indicator/autofib"
	"github.com/auto-fib/internal/services"
	"github.com/auto-fib/pkg/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// AnalysisCache is the shared latest-analysis store
type AnalysisCache interface {
	GetAnalysis(ctx context.Context, symbol string) (*models.Analysis, error)
	GetSignals(ctx context.Context) (map[string]models.Signal, error)
}

// AnalysisJournal is the durable analysis history
type AnalysisJournal interface {
	RecentAnalyses(ctx context.Context, symbol string, limit int) ([]*models.Analysis, error)
}

// FibonacciHandler serves on-demand analyses, cached results and stateless calculations
type FibonacciHandler struct {
	analyzer *services.Analyzer
	cache    AnalysisCache
	journal  AnalysisJournal
	base     autofib.Config
	logger   *logrus.Entry
}

// NewFibonacciHandler creates a handler; base seeds the engine of stateless calculations
func NewFibonacciHandler(analyzer *services.Analyzer, base autofib.Config, logger *logrus.Logger) *FibonacciHandler {
	return &FibonacciHandler{
		analyzer: analyzer,
		base:     base,
		logger:   logger.WithField("component", "fibonacci-api"),
	}
}

// WithCache enables the redis fallback of the latest and signals routes
func (h *FibonacciHandler) WithCache(c AnalysisCache) *FibonacciHandler {
	h.cache = c
	return h
}

// WithJournal enables the history route
func (h *FibonacciHandler) WithJournal(j AnalysisJournal) *FibonacciHandler {
	h.journal = j
	return h
}

// RegisterRoutes registers the fibonacci routes
func (h *FibonacciHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/signals", h.GetSignals).Methods("GET")

	fib := api.PathPrefix("/fibonacci").Subrouter()
	fib.HandleFunc("/calculate", h.Calculate).Methods("POST")
	fib.HandleFunc("/{symbol}", h.Analyze).Methods("GET")
	fib.HandleFunc("/{symbol}/latest", h.GetLatest).Methods("GET")
	fib.HandleFunc("/{symbol}/history", h.GetHistory).Methods("GET")
}

// Analyze handles GET /api/v1/fibonacci/{symbol}?interval=5m&limit=100
func (h *FibonacciHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	req := models.BarRequest{
		Symbol:   mux.Vars(r)["symbol"],
		Interval: r.URL.Query().Get("interval"),
	}

	if req.Interval != "" && !models.IsValidInterval(req.Interval) {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":           "invalid interval",
			"valid_intervals": models.ValidIntervals,
		})
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = limit
	}

	analysis, err := h.analyzer.AnalyzeRequest(r.Context(), req)
	if err != nil {
		h.writeError(w, statusOf(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, analysis)
}

// GetLatest handles GET /api/v1/fibonacci/{symbol}/latest
func (h *FibonacciHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	if analysis, ok := h.analyzer.Latest(symbol); ok {
		h.writeJSON(w, http.StatusOK, analysis)
		return
	}

	if h.cache != nil {
		analysis, err := h.cache.GetAnalysis(r.Context(), symbol)
		if err != nil {
			h.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to read cached analysis")
		} else if analysis != nil {
			h.writeJSON(w, http.StatusOK, analysis)
			return
		}
	}

	h.writeError(w, http.StatusNotFound, "no analysis for "+symbol)
}

// GetHistory handles GET /api/v1/fibonacci/{symbol}/history?limit=50
func (h *FibonacciHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "analysis journal is disabled")
		return
	}

	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	analyses, err := h.journal.RecentAnalyses(r.Context(), symbol, limit)
	if err != nil {
		h.logger.WithError(err).WithField("symbol", symbol).Error("Failed to read analysis history")
		h.writeError(w, http.StatusInternalServerError, "failed to read analysis history")
		return
	}
	if analyses == nil {
		analyses = []*models.Analysis{}
	}

	h.writeJSON(w, http.StatusOK, models.HistoryResponse{
		Symbol:   symbol,
		Analyses: analyses,
		Count:    len(analyses),
	})
}

// GetSignals handles GET /api/v1/signals
func (h *FibonacciHandler) GetSignals(w http.ResponseWriter, r *http.Request) {
	signals := make(map[string]models.Signal)

	if h.cache != nil {
		cached, err := h.cache.GetSignals(r.Context())
		if err != nil {
			h.logger.WithError(err).Warn("Failed to read cached signals")
		}
		for symbol, signal := range cached {
			signals[symbol] = signal
		}
	}
	for symbol, signal := range h.analyzer.Signals() {
		signals[symbol] = signal
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

// Calculate handles POST /api/v1/fibonacci/calculate with a fresh engine per request
func (h *FibonacciHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req models.CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := h.base
	if req.Lookback != nil {
		cfg.Lookback = *req.Lookback
	}
	if req.Offset != nil {
		cfg.Offset = *req.Offset
	}
	if len(req.Levels) > 0 {
		cfg.Levels = req.Levels
	}
	if err := cfg.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []autofib.Option
	if req.GoldenZone != nil {
		opts = append(opts, autofib.WithGoldenZone(req.GoldenZone.Low, req.GoldenZone.High))
	}
	engine := autofib.New(cfg, opts...)
	result, err := engine.Calculate(req.Bars)
	if err != nil {
		h.writeError(w, statusOf(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, models.CalculateResponse{
		Signal: engine.Signal(),
		Result: result,
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrSymbolRequired):
		return http.StatusBadRequest
	case errors.Is(err, autofib.ErrInsufficientData), errors.Is(err, autofib.ErrInvalidPriceData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrDataTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// Helper methods for HTTP responses
func (h *FibonacciHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *FibonacciHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, models.ErrorResponse{Error: message, Code: status})
}
