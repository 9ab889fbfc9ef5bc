package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLog(t *testing.T, status int, actor string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	s := &Server{logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	h := s.observabilityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/abc/accept", nil)
	if actor != "" {
		req.Header.Set("X-User-ID", actor)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode access log: %v (%s)", err, buf.String())
	}
	return entry
}

func TestAccessLogCarriesActor(t *testing.T) {
	entry := captureLog(t, http.StatusOK, "driver-9")
	if entry["actor_id"] != "driver-9" {
		t.Fatalf("want actor_id in access log, got %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Fatalf("want INFO for a 200, got %v", entry["level"])
	}
}

func TestAccessLogWarnsOnLedgerContention(t *testing.T) {
	entry := captureLog(t, http.StatusConflict, "driver-9")
	if entry["level"] != "WARN" {
		t.Fatalf("want WARN for a 409, got %v", entry["level"])
	}
}
