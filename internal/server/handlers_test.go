package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NgigiN/qris-gateway/internal/allocator"
	"github.com/NgigiN/qris-gateway/internal/config"
	"github.com/NgigiN/qris-gateway/internal/feed"
	"github.com/NgigiN/qris-gateway/internal/lifecycle"
	"github.com/NgigiN/qris-gateway/internal/payment"
	"github.com/NgigiN/qris-gateway/internal/qris"
	"github.com/NgigiN/qris-gateway/internal/qrimage"
	"github.com/NgigiN/qris-gateway/internal/storage"
)

var t0 = time.Date(2025, 9, 17, 18, 0, 0, 0, time.UTC)

func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func staticPayload() string {
	body := tlv("00", "01") + tlv("01", "11") +
		tlv("26", tlv("00", "ID.CO.QRIS.WWW")) +
		tlv("52", "5499") + tlv("53", "360") + tlv("58", "ID") +
		tlv("59", "TOKO MAJU") + tlv("60", "JAKARTA") + "6304"
	return body + qris.Checksum(body)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type apiFixture struct {
	handler http.Handler
	store   *storage.Store
	clock   *testClock
}

func newAPIFixture(t *testing.T, cfg config.Config) apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: t0}
	store := storage.NewStore()
	alloc := allocator.New(feed.NewStatic(), store, logger)
	svc := payment.NewService(cfg, alloc, store, qrimage.New(), logger, payment.WithClock(clock.Now))
	ctrl := lifecycle.New(store, logger, lifecycle.WithClock(clock.Now))

	api := NewAPIHandlers(logger, HandlerDependencies{
		Payments:  svc,
		Lifecycle: ctrl,
		Records:   store,
	})
	handler := NewRouter(logger, RouterDependencies{
		Health: GatewayHealth{Config: cfg, Store: store},
		API:    api,
	})
	return apiFixture{handler: handler, store: store, clock: clock}
}

func configured() config.Config {
	return config.Config{
		Gateway: config.GatewayConfig{StaticPayload: staticPayload()},
		Feed:    config.FeedConfig{MerchantID: "OK1", APIKey: "key"},
	}
}

type response struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (fx apiFixture) do(t *testing.T, method, path, body string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	var out response
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, out
}

func decodeTransaction(t *testing.T, raw json.RawMessage) transactionResponse {
	t.Helper()
	var tx transactionResponse
	if err := json.Unmarshal(raw, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	return tx
}

func TestCreateEndpoint(t *testing.T) {
	fx := newAPIFixture(t, configured())

	code, resp := fx.do(t, http.MethodPost, "/api/qris/create", `{"amount":10000}`)
	if code != http.StatusCreated || !resp.Status {
		t.Fatalf("unexpected response %d %+v", code, resp)
	}
	tx := decodeTransaction(t, resp.Data)
	if tx.FinalAmount != 10000 || tx.WasAdjusted || tx.Status != "pending" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if !strings.Contains(tx.Payload, "5405100005802ID") {
		t.Fatalf("payload missing amount field: %s", tx.Payload)
	}
	if !strings.HasPrefix(tx.Image, "data:image/png;base64,") {
		t.Fatalf("missing image data url")
	}

	code, resp = fx.do(t, http.MethodPost, "/api/qris/create", `{"amount":10000}`)
	if code != http.StatusCreated {
		t.Fatalf("second create: %d %+v", code, resp)
	}
	second := decodeTransaction(t, resp.Data)
	if second.FinalAmount != 10001 || !second.WasAdjusted || second.Adjustment != 1 {
		t.Fatalf("expected adjusted amount 10001, got %+v", second)
	}
	if !strings.Contains(resp.Message, "adjusted") {
		t.Fatalf("message should mention the adjustment: %s", resp.Message)
	}
}

func TestCreateEndpointErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		body string
		code int
	}{
		{"zero amount", configured(), `{"amount":0}`, http.StatusBadRequest},
		{"negative amount", configured(), `{"amount":-5}`, http.StatusBadRequest},
		{"missing amount", configured(), `{}`, http.StatusBadRequest},
		{"not json", configured(), `amount=5`, http.StatusBadRequest},
		{"fractional amount", configured(), `{"amount":10.5}`, http.StatusBadRequest},
		{"amount too large", configured(), `{"amount":9223372036854775807}`, http.StatusBadRequest},
		{"missing config", config.Config{}, `{"amount":1000}`, http.StatusInternalServerError},
		{"malformed template", config.Config{
			Gateway: config.GatewayConfig{StaticPayload: "000201010212ABCDEF"},
			Feed:    config.FeedConfig{MerchantID: "OK1", APIKey: "key"},
		}, `{"amount":1000}`, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newAPIFixture(t, tc.cfg)
			code, resp := fx.do(t, http.MethodPost, "/api/qris/create", tc.body)
			if code != tc.code || resp.Status {
				t.Fatalf("expected %d with status=false, got %d %+v", tc.code, code, resp)
			}
			if fx.store.Size() != 0 {
				t.Fatalf("no record should remain, have %d", fx.store.Size())
			}
		})
	}
}

func TestCancelAndStatusEndpoints(t *testing.T) {
	fx := newAPIFixture(t, configured())
	_, resp := fx.do(t, http.MethodPost, "/api/qris/create", `{"amount":25000}`)
	id := decodeTransaction(t, resp.Data).ID

	code, resp := fx.do(t, http.MethodPost, "/api/qris/cancel/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("cancel: %d %+v", code, resp)
	}
	if tx := decodeTransaction(t, resp.Data); tx.Status != "cancelled" || tx.CancelledAt == "" {
		t.Fatalf("unexpected cancelled record: %+v", tx)
	}

	code, resp = fx.do(t, http.MethodPost, "/api/qris/cancel/"+id, "")
	if code != http.StatusBadRequest || !strings.Contains(resp.Message, "cancelled") {
		t.Fatalf("second cancel should name current status: %d %+v", code, resp)
	}

	code, resp = fx.do(t, http.MethodGet, "/api/qris/status/"+id, "")
	if code != http.StatusOK || decodeTransaction(t, resp.Data).Status != "cancelled" {
		t.Fatalf("status: %d %+v", code, resp)
	}

	code, _ = fx.do(t, http.MethodGet, "/api/qris/status/QRIS-UNKNOWN", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	code, _ = fx.do(t, http.MethodPost, "/api/qris/cancel/QRIS-UNKNOWN", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestStatusEndpointLazyExpiry(t *testing.T) {
	fx := newAPIFixture(t, configured())
	_, resp := fx.do(t, http.MethodPost, "/api/qris/create", `{"amount":5000}`)
	id := decodeTransaction(t, resp.Data).ID

	fx.clock.now = t0.Add(storage.TTL + time.Second)
	code, resp := fx.do(t, http.MethodGet, "/api/qris/status/"+id, "")
	if code != http.StatusOK || decodeTransaction(t, resp.Data).Status != "expired" {
		t.Fatalf("expected expired, got %d %+v", code, resp)
	}

	code, resp = fx.do(t, http.MethodPost, "/api/qris/cancel/"+id, "")
	if code != http.StatusBadRequest || !strings.Contains(resp.Message, "expired") {
		t.Fatalf("cancel of expired record: %d %+v", code, resp)
	}
	if tx, _ := fx.store.Get(id); tx.Status != storage.StatusPending {
		t.Fatalf("lazy expiry must not persist, stored %s", tx.Status)
	}
}

func TestConfirmAndNotifyEndpoints(t *testing.T) {
	fx := newAPIFixture(t, configured())
	_, resp := fx.do(t, http.MethodPost, "/api/qris/create", `{"amount":7000}`)
	id := decodeTransaction(t, resp.Data).ID

	code, resp := fx.do(t, http.MethodPost, "/api/qris/notify", `{"transactionId":"`+id+`"}`)
	if code != http.StatusOK || !strings.Contains(resp.Message, "skipped") {
		t.Fatalf("notify without notifier should be skipped: %d %+v", code, resp)
	}
	code, _ = fx.do(t, http.MethodPost, "/api/qris/notify", `{}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty notify, got %d", code)
	}

	code, resp = fx.do(t, http.MethodPost, "/api/qris/confirm/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("confirm: %d %+v", code, resp)
	}
	if tx := decodeTransaction(t, resp.Data); tx.Status != "success" || tx.PaidAt == "" {
		t.Fatalf("unexpected confirmed record: %+v", tx)
	}
	code, _ = fx.do(t, http.MethodPost, "/api/qris/confirm/"+id, "")
	if code != http.StatusBadRequest {
		t.Fatalf("double confirm should fail, got %d", code)
	}
}

func TestDebugEndpoints(t *testing.T) {
	fx := newAPIFixture(t, configured())
	var ids []string
	for _, amount := range []int{1000, 2000, 3000} {
		_, resp := fx.do(t, http.MethodPost, "/api/qris/create", fmt.Sprintf(`{"amount":%d}`, amount))
		ids = append(ids, decodeTransaction(t, resp.Data).ID)
	}
	fx.do(t, http.MethodPost, "/api/qris/cancel/"+ids[0], "")

	code, resp := fx.do(t, http.MethodGet, "/api/qris/debug/transactions", "")
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	var list listResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.TotalTransactions != 3 || list.ScheduledRemovals != 1 {
		t.Fatalf("unexpected listing: %+v", list)
	}

	code, resp = fx.do(t, http.MethodPost, "/api/qris/debug/cleanup", "")
	if code != http.StatusOK {
		t.Fatalf("cleanup: %d", code)
	}
	var cleaned cleanupResponse
	if err := json.Unmarshal(resp.Data, &cleaned); err != nil {
		t.Fatalf("decode cleanup: %v", err)
	}
	if cleaned.CleanedCount != 1 || cleaned.RemainingTransactions != 2 {
		t.Fatalf("unexpected cleanup result: %+v", cleaned)
	}
}

func TestUnknownRoutes(t *testing.T) {
	fx := newAPIFixture(t, configured())

	code, resp := fx.do(t, http.MethodGet, "/api/qris/nope", "")
	if code != http.StatusNotFound || resp.Status || resp.Message != "API endpoint not found" {
		t.Fatalf("unexpected 404 response: %d %+v", code, resp)
	}
	code, _ = fx.do(t, http.MethodGet, "/api/qris/create", "")
	if code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestHealthz(t *testing.T) {
	fx := newAPIFixture(t, configured())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["gatewayConfigured"] != true {
		t.Fatalf("unexpected health report: %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), RouterDependencies{
		AllowedOrigins: []string{"https://shop.example"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/qris/create", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Fatalf("unexpected preflight: %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/qris/create", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rec.Code)
	}
}
