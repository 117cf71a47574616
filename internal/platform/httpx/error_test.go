package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medicore-clinic/billing/internal/platform/requestctx"
)

func TestWriteErrorIncludesIdentifiers(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("not_found", "order\nmissing", http.StatusNotFound).
		WithDetails(map[string]any{"order_id": "ord_1"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "not_found" || body["message"] != "order missing" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id, got %#v", body["trace_id"])
	}
	if body["order_id"] != "ord_1" {
		t.Fatalf("expected details merged, got %#v", body)
	}
	if status, _ := body["status"].(float64); int(status) != http.StatusNotFound {
		t.Fatalf("expected status field 404, got %v", body["status"])
	}
}

func TestDetailsCannotOverrideEnvelopeFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("conflict", "dup", http.StatusConflict).
		WithDetails(map[string]any{"error": "spoofed"}))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "conflict" {
		t.Fatalf("expected envelope code to win, got %v", body["error"])
	}
}
