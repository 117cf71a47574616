package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/medicore-clinic/billing/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if _, ok := parseCloudTrace("garbage"); ok {
		t.Fatal("expected malformed header to be rejected")
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerRecordsClientInfo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var client requestctx.ClientInfo
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = requestctx.Client(r.Context())
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/orders", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "reception-desk/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if client.IP != "10.1.2.3" || client.UserAgent != "reception-desk/1.0" {
		t.Fatalf("unexpected client info %+v", client)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusCreated) {
		t.Fatalf("expected status 201 logged, got %v", got)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)
	logFn := ServiceLogger(zap.New(baseCore))

	logFn(context.Background(), "billing.order.created", map[string]any{"orderId": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logFn(ctx, "billing.persist.failed", map[string]any{"error": context.Canceled})

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d req=%d", baseLogs.Len(), reqLogs.Len())
	}
	if reqLogs.All()[0].Level != zap.ErrorLevel {
		t.Fatalf("expected failed event at error level")
	}
}
