package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStatusClass(t *testing.T) {
	t.Parallel()

	tests := map[int]string{0: "error", 101: "1xx", 200: "2xx", 204: "2xx", 302: "3xx", 401: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := StatusClass(code); got != want {
			t.Fatalf("StatusClass(%d) = %q, want %q", code, got, want)
		}
	}
	if Result(nil) != ResultOK || Result(errors.New("x")) != ResultError {
		t.Fatal("Result() mapped incorrectly")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	TokenRefreshes.WithLabelValues(ResultOK).Inc()
	CachedSessions.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"hebsession_token_refreshes_total", "hebsession_cached_sessions 3"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %q", name)
		}
	}
}
