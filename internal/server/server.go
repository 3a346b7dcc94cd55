// Package server exposes the HTTP surface: the delivery action link endpoint,
// the Telegram webhook and the operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/engine"
	"github.com/fuddi-app/dispatch/internal/notify"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type ActionApplier interface {
	Apply(ctx context.Context, rawToken, requestedAction string) (engine.Result, error)
}

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

type HistoryStore interface {
	GetHistory(ctx context.Context, orderID string) ([]repository.HistoryEntry, error)
}

type Server struct {
	engine           ActionApplier
	updates          UpdateHandler
	history          HistoryStore
	dashboardBaseURL string
	log              *zap.Logger
	server           *http.Server
}

func New(eng ActionApplier, updates UpdateHandler, history HistoryStore, dashboardBaseURL string, log *zap.Logger) *Server {
	return &Server{
		engine:           eng,
		updates:          updates,
		history:          history,
		dashboardBaseURL: dashboardBaseURL,
		log:              log,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", zap.String("port", port))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		s.log.Info("http server shutdown completed")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/deliveryOrderAction", s.handleDeliveryOrderAction).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/telegram/webhook", s.handleTelegramWebhook).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/history", s.handleOrderHistory).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// handleDeliveryOrderAction is the WhatsApp leg of dispatch: riders without
// Telegram tap a link that lands here. A valid token applies the action and
// redirects to the delivery dashboard; every failure is a JSON error so the
// link stays safe to re-tap.
func (s *Server) handleDeliveryOrderAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	query := r.URL.Query()
	rawToken := query.Get("token")
	action := query.Get("action")
	if rawToken == "" || action == "" {
		respondError(w, http.StatusBadRequest, "missing token or action")
		return
	}

	res, err := s.engine.Apply(r.Context(), rawToken, action)
	if err != nil {
		s.log.Warn("link action rejected",
			zap.String("action", action),
			zap.Error(err))
		respondError(w, actionStatusCode(err), err.Error())
		return
	}

	redirect := fmt.Sprintf("%s/delivery/dashboard?action=%s&orderId=%s",
		s.dashboardBaseURL, url.QueryEscape(action), notify.ShortID(res.OrderID))
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleTelegramWebhook always answers 200: Telegram retries non-2xx
// deliveries, and a retried callback would just be rejected as stale.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.log.Warn("telegram webhook decode failed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	s.updates.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing order id")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), orderID)
	if err != nil {
		s.log.Error("load order history failed", zap.String("order_id", orderID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load order history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actionStatusCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrStaleOrder):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInternal):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
