package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("order_not_found", "order not found", http.StatusNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "order_not_found" {
		t.Fatalf("error = %v", payload["error"])
	}
	if payload["message"] != "order not found" {
		t.Fatalf("message = %v", payload["message"])
	}
	if payload["status"] != float64(http.StatusNotFound) {
		t.Fatalf("status field = %v", payload["status"])
	}
}

func TestWriteErrorDefaultsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, Error{Code: "boom"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("zero status must default to 500, got %d", rec.Code)
	}
}

func TestWriteErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("invalid_order", "bad fields", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": []string{"items"}})
	WriteError(context.Background(), rec, err)

	var payload map[string]any
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if _, ok := payload["fields"]; !ok {
		t.Fatalf("details must be flattened into the envelope, got %v", payload)
	}
}

func TestNewErrorSanitises(t *testing.T) {
	err := NewError("code\nwith\rbreaks", "  line\nbroken message  ", http.StatusBadRequest)
	if strings.ContainsAny(err.Code, "\n\r") || strings.ContainsAny(err.Message, "\n\r") {
		t.Fatalf("line breaks must be stripped: %+v", err)
	}
	if err.Message != "line broken message" {
		t.Fatalf("message = %q", err.Message)
	}

	long := NewError(strings.Repeat("x", 100), strings.Repeat("y", 600), http.StatusBadRequest)
	if len(long.Code) != 64 || len(long.Message) != 512 {
		t.Fatalf("code/message must be truncated, got %d/%d", len(long.Code), len(long.Message))
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(context.Background(), rec, http.StatusCreated, map[string]string{"id": "ord_1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["id"] != "ord_1" {
		t.Fatalf("payload = %v", payload)
	}

	rec = httptest.NewRecorder()
	WriteJSON(context.Background(), rec, http.StatusNoContent, nil)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("nil payload must write no body, status %d body %q", rec.Code, rec.Body.String())
	}
}
