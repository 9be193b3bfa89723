package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/backend/internal/logging"
	"poscore/backend/internal/metrics"
	"poscore/backend/internal/service"
	"poscore/backend/internal/store/memory"
)

// newTestAPI builds the full stack over a seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	repo := memory.NewSeeded()
	logger := logging.Discard()
	m := metrics.New()

	svc, err := service.New(repo, service.Options{
		DefaultStoreID: memory.SeedStoreID,
		BaseCurrency:   "DOP",
		Logger:         logger,
		Metrics:        m,
	})
	require.NoError(t, err)

	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	api := New(svc, auth, Options{AllowedOrigin: "*", Logger: logger, Metrics: m})
	return api, api.Handler()
}

type call struct {
	method string
	path   string
	token  string
	shift  string
	body   any
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.9:4000"
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.shift != "" {
		req.Header.Set(shiftHeader, c.shift)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func login(t *testing.T, h http.Handler, username string, password string, register string) string {
	t.Helper()
	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
		"username": username, "password": password, "register_id": register,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	_, h := newTestAPI(t)
	rec, body := do(t, h, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestLoginFailsWithWrongPassword(t *testing.T) {
	_, h := newTestAPI(t)
	rec, _ := do(t, h, call{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
		"username": "admin", "password": "nope",
	}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	_, h := newTestAPI(t)
	rec, _ := do(t, h, call{method: http.MethodGet, path: "/api/v1/shifts/active"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cashierToken := login(t, h, "cashier", "cashier123", "R1")
	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/v1/inventory/adjustments", token: cashierToken, body: map[string]any{
		"item_id": "ITEM-PAN", "new_quantity": "10", "reason": "count",
	}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaleFlowOverHTTP(t *testing.T) {
	_, h := newTestAPI(t)
	token := login(t, h, "cashier", "cashier123", "R1")

	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/v1/shifts", token: token, body: map[string]any{
		"counts": []map[string]any{{"currency": "DOP", "lines": []map[string]any{{"denomination": "100", "quantity": 3}}}},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	shiftID := body["shift"].(map[string]any)["id"].(string)

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sales", token: token, shift: shiftID, body: map[string]any{
		"lines":    []map[string]any{{"item_id": "ITEM-ACEITE", "quantity": "1"}},
		"payments": []map[string]any{{"method": "card", "amount": "247.80", "reference": "AUTH-9"}},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := body["sale"].(map[string]any)
	assert.Equal(t, "247.8", sale["total"])
	saleID := sale["id"].(string)
	lineID := sale["lines"].([]any)[0].(map[string]any)["id"].(string)

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/sales/" + saleID, token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saleID, body["sale"].(map[string]any)["id"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sales/" + saleID + "/returns", token: token, body: map[string]any{
		"lines": []map[string]any{{"sale_line_id": lineID, "quantity": "2"}},
	}})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "over_return", body["code"])
	assert.Equal(t, "1", body["fields"].(map[string]any)["remaining"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/shifts/" + shiftID + "/close", token: token, body: map[string]any{
		"counts": []map[string]any{{"currency": "DOP", "lines": []map[string]any{{"denomination": "100", "quantity": 3}}}},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := body["shift"].(map[string]any)["meta"].(map[string]any)["reconciliation"].(map[string]any)
	assert.Equal(t, "0", rows["DOP"].(map[string]any)["variance"])
}

func TestErrorKindsMapToStatus(t *testing.T) {
	_, h := newTestAPI(t)
	token := login(t, h, "cashier", "cashier123", "R1")

	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/v1/sales", token: token, body: map[string]any{
		"lines":    []map[string]any{{"item_id": "ITEM-PAN", "quantity": "1"}},
		"payments": []map[string]any{{"method": "card", "amount": "10"}},
	}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_active_shift", body["code"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sales", token: token, body: map[string]any{
		"lines":    []map[string]any{{"item_id": "ITEM-ARROZ", "quantity": "1"}},
		"payments": []map[string]any{{"method": "card", "amount": "10"}},
	}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payment_shortfall", body["code"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/sales/missing", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "entity_not_found", body["code"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sales", token: token, body: map[string]any{
		"lines":    []map[string]any{},
		"payments": []map[string]any{{"method": "card", "amount": "10"}},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["code"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/v1/sales", token: token, body: map[string]any{
		"unexpected": true,
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAdjustsAndReadsMovements(t *testing.T) {
	_, h := newTestAPI(t)
	token := login(t, h, "admin", "admin123", "")

	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/v1/inventory/adjustments", token: token, body: map[string]any{
		"item_id": "ITEM-PAN", "new_quantity": "150", "reason": "cycle count",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "adjustment_out", body["movement"].(map[string]any)["kind"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/inventory/ITEM-PAN/movements", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["movements"], 1)

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/inventory/ITEM-PAN", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "150", body["position"].(map[string]any)["quantity"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/audit-logs?limit=5", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["audit_logs"])
}

func TestSequencePreviewAndAllocate(t *testing.T) {
	_, h := newTestAPI(t)
	token := login(t, h, "admin", "admin123", "")

	rec, body := do(t, h, call{method: http.MethodGet, path: "/api/v1/sequences/B02/next", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "B0200000001", body["number"].(map[string]any)["formatted"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sequences/B02/allocate", token: token})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "B0200000001", body["number"].(map[string]any)["formatted"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/v1/sequences/B02/next", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "B0200000002", body["number"].(map[string]any)["formatted"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/v1/sequences/B15/allocate", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "sequence_not_found", body["code"])
}
