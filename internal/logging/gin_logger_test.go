package logging

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		err, ok := recovered.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler panic, got %v", recovered)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerMasksQueryAndTagsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/v1/oauth/callback", func(c *gin.Context) {
		if GetRequestID(c.Request.Context()) == "" {
			t.Error("request context should carry a request id")
		}
		c.Status(http.StatusNoContent)
	})
	engine.GET("/healthz", func(c *gin.Context) {
		SkipGinRequestLogging(c)
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?code=secret-code&state=s1&x=1", nil))
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if strings.Contains(entries[0].Message, "secret-code") || !strings.Contains(entries[0].Message, "x=1") {
		t.Fatalf("log line = %q", entries[0].Message)
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	t.Parallel()

	if got := MaskSensitiveQuery("a=1&b=2"); got != "a=1&b=2" {
		t.Fatalf("MaskSensitiveQuery() = %q", got)
	}
	if got := MaskSensitiveQuery("refresh_token=abc"); got != "refresh_token=%2A%2A%2A" {
		t.Fatalf("MaskSensitiveQuery() = %q", got)
	}
}

func TestLogFormatter(t *testing.T) {
	t.Parallel()

	entry := &log.Entry{
		Time:    time.Date(2026, 1, 5, 9, 12, 44, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "tenant: warm-up failed\n",
		Data:    log.Fields{"request_id": "3f9a1c2e", "user": "alice", "ignored": true},
		Buffer:  &bytes.Buffer{},
	}
	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "[2026-01-05 09:12:44] [3f9a1c2e] [warn ] tenant: warm-up failed user=alice\n"
	if string(out) != want {
		t.Fatalf("Format() = %q, want %q", out, want)
	}
}
