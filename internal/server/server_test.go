package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/engine"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type fakeEngine struct {
	orderID string
	err     error

	gotToken  string
	gotAction string
}

func (f *fakeEngine) Apply(_ context.Context, rawToken, requestedAction string) (engine.Result, error) {
	f.gotToken = rawToken
	f.gotAction = requestedAction
	if f.err != nil {
		return engine.Result{}, f.err
	}
	return engine.Result{OrderID: f.orderID}, nil
}

type fakeUpdates struct {
	updates []tgbotapi.Update
}

func (f *fakeUpdates) HandleUpdate(_ context.Context, update tgbotapi.Update) {
	f.updates = append(f.updates, update)
}

type fakeHistory struct {
	entries []repository.HistoryEntry
	err     error
}

func (f *fakeHistory) GetHistory(_ context.Context, _ string) ([]repository.HistoryEntry, error) {
	return f.entries, f.err
}

func newTestServer(eng ActionApplier) (*Server, *fakeUpdates) {
	updates := &fakeUpdates{}
	return New(eng, updates, &fakeHistory{}, "https://fuddi.shop", zap.NewNop()), updates
}

func TestDeliveryOrderAction_RedirectsOnSuccess(t *testing.T) {
	eng := &fakeEngine{orderID: "a1b2c3d4e5f6"}
	s, _ := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/deliveryOrderAction?token=tok123&action=delivered", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Equal(t, "https://fuddi.shop/delivery/dashboard?action=delivered&orderId=A1B2C3D4", loc)
	assert.Equal(t, "tok123", eng.gotToken)
	assert.Equal(t, "delivered", eng.gotAction)
}

func TestDeliveryOrderAction_MissingParams(t *testing.T) {
	s, _ := newTestServer(&fakeEngine{})

	for _, target := range []string{
		"/deliveryOrderAction",
		"/deliveryOrderAction?token=tok",
		"/deliveryOrderAction?action=confirm",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body["error"], "missing")
	}
}

func TestDeliveryOrderAction_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid token", engine.ErrInvalidToken, http.StatusBadRequest},
		{"expired token", engine.ErrTokenExpired, http.StatusBadRequest},
		{"order not found", engine.ErrOrderNotFound, http.StatusBadRequest},
		{"stale order", engine.ErrStaleOrder, http.StatusConflict},
		{"internal", engine.ErrInternal, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeEngine{err: tc.err})

			req := httptest.NewRequest(http.MethodGet, "/deliveryOrderAction?token=t&action=confirm", nil)
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDeliveryOrderAction_Preflight(t *testing.T) {
	eng := &fakeEngine{orderID: "x"}
	s, _ := newTestServer(eng)

	req := httptest.NewRequest(http.MethodOptions, "/deliveryOrderAction", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, eng.gotAction, "preflight never reaches the engine")
}

func TestTelegramWebhook_AlwaysOK(t *testing.T) {
	s, updates := newTestServer(&fakeEngine{})

	payload := `{"update_id":1,"callback_query":{"id":"cb","data":"order_confirm|tok"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, updates.updates, 1)
	assert.Equal(t, "order_confirm|tok", updates.updates[0].CallbackQuery.Data)

	// Garbage bodies are acknowledged too so Telegram does not retry them.
	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{nope"))
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, updates.updates, 1)
}

func TestOrderHistory(t *testing.T) {
	changed := time.Date(2025, 7, 15, 19, 30, 0, 0, time.UTC)
	history := &fakeHistory{entries: []repository.HistoryEntry{
		{OrderID: "O1", Status: repository.StatusPreparing, ChangedAt: changed},
		{OrderID: "O1", Status: repository.StatusOnWay, ChangedAt: changed.Add(10 * time.Minute)},
	}}
	s := New(&fakeEngine{}, &fakeUpdates{}, history, "https://fuddi.shop", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/orders/O1/history", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []repository.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, repository.StatusOnWay, entries[1].Status)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(&fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
