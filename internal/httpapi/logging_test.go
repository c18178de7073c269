package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("?log=1 should mean debug: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
	SetDefaultLogLevel("info")
	defer SetDefaultLogLevel("")
	if got := requestLogLevel(httptest.NewRequest("GET", "/x", nil)); got != LevelInfo {
		t.Fatalf("default level: %v", got)
	}
}

func TestLogJob_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	r := httptest.NewRequest(http.MethodPost, "/runsync", nil)
	logJob(r, LevelOff, time.Now(), 200, "j", nil)
	logJob(r, LevelError, time.Now(), 200, "j", nil)
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
	logJob(r, LevelError, time.Now(), 400, "", errors.New("bad"))
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"status":400`) {
		t.Fatalf("missing error line: %s", buf.String())
	}
	buf.Reset()
	logJob(r, LevelInfo, time.Now(), 200, "j9", nil)
	if !strings.Contains(buf.String(), `"job":"j9"`) {
		t.Fatalf("missing info line: %s", buf.String())
	}
}

func TestRunSync_LogsWithRequestLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	w := postJSON(NewMux(&mockService{}), "/runsync?log=debug", `{"id":"z","input":{"prompt":"hi"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "job start") || !strings.Contains(out, "job end") {
		t.Fatalf("log output: %s", out)
	}
	if !strings.Contains(out, "request_id") {
		t.Fatalf("request id missing: %s", out)
	}
}
