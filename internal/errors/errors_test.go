package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		"INVALID_INPUT":          http.StatusBadRequest,
		"NOT_FOUND":              http.StatusNotFound,
		"UNAUTHORIZED":           http.StatusUnauthorized,
		"METHOD_NOT_ALLOWED":     http.StatusMethodNotAllowed,
		"THROTTLED":              http.StatusTooManyRequests,
		"TIMEOUT":                http.StatusGatewayTimeout,
		"EXTERNAL_SERVICE_ERROR": http.StatusBadGateway,
		"SERVICE_UNAVAILABLE":    http.StatusServiceUnavailable,
		"CONFIG_INVALID":         http.StatusInternalServerError,
		"SOMETHING_ELSE":         http.StatusInternalServerError,
	}

	for code, want := range cases {
		if got := HTTPStatusFromCode(code); got != want {
			t.Errorf("HTTPStatusFromCode(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestHTTPStatusFromEnvelope(t *testing.T) {
	if got := HTTPStatusFromEnvelope(nil); got != http.StatusInternalServerError {
		t.Errorf("nil envelope: got %d, want 500", got)
	}

	envelope := NewThrottledError("backend throttling")
	if got := HTTPStatusFromEnvelope(envelope); got != http.StatusTooManyRequests {
		t.Errorf("THROTTLED envelope: got %d, want 429", got)
	}
}

func TestEnsureEnvelopePassesThroughEnvelopes(t *testing.T) {
	original := NewNotFoundError("no such item")

	ensured := EnsureEnvelope(original)
	if ensured != original {
		t.Error("existing envelope should be returned unchanged")
	}
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	ensured := EnsureEnvelope(errors.New("disk on fire"))

	if ensured.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", ensured.Code)
	}
	if ensured.Context["wrapped_error"] != "disk on fire" {
		t.Errorf("wrapped_error = %v, want original message", ensured.Context["wrapped_error"])
	}
}

func TestEnsureEnvelopeHandlesNil(t *testing.T) {
	ensured := EnsureEnvelope(nil)

	if ensured == nil {
		t.Fatal("nil error should still yield an envelope")
	}
	if ensured.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", ensured.Code)
	}
}

func TestResponseDetailsMergesDetailsAndContext(t *testing.T) {
	envelope := gferrors.NewErrorEnvelope("INVALID_INPUT", "bad field")
	envelope, err := envelope.WithContext(map[string]interface{}{
		"field":  "email",
		"shared": "from-context",
	})
	if err != nil {
		t.Fatalf("WithContext: %v", err)
	}
	envelope.Details = map[string]interface{}{"shared": "from-details"}

	details := ResponseDetails(envelope)
	if details["field"] != "email" {
		t.Errorf("field = %v, want email", details["field"])
	}
	if details["shared"] != "from-details" {
		t.Error("details should win over context for duplicate keys")
	}
}

func TestResponseDetailsEmpty(t *testing.T) {
	envelope := gferrors.NewErrorEnvelope("NOT_FOUND", "nothing here")
	if details := ResponseDetails(envelope); details != nil {
		t.Errorf("details = %v, want nil for an envelope without context", details)
	}
}

func TestRespondWithErrorWritesJSONEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/telemetry", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewServiceUnavailableError("telemetry source not initialized"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var body HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("error code = %q, want SERVICE_UNAVAILABLE", body.Error.Code)
	}
	if body.Error.Message != "telemetry source not initialized" {
		t.Errorf("message = %q", body.Error.Message)
	}
	if body.Error.RequestID == "" {
		t.Error("request_id should be populated even without middleware")
	}
}

func TestRespondWithErrorNormalizesPlainErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/journal", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var body HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", body.Error.Code)
	}
	if body.Error.Details["wrapped_error"] != "boom" {
		t.Errorf("wrapped_error = %v, want boom", body.Error.Details["wrapped_error"])
	}
}
