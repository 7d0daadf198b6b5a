package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/credentials/17":                 "/v1/credentials/:id",
		"/v1/modules/3/enrollments/alice":    "/v1/modules/:id/enrollments/alice",
		"/v1/vaults/vlt_01hzx/withdraw":      "/v1/vaults/:id/withdraw",
		"/v1/reward/balances/alice":          "/v1/reward/balances/alice",
		"/v1/events?after=10":                "/v1/events",
		"/v1/certification/applications/bob": "/v1/certification/applications/bob",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsAndPassesThrough(t *testing.T) {
	Init()
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/credentials/5", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestLogRequestWritesJSON(t *testing.T) {
	l := Logger()
	orig := l.Out
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	LogRequest(map[string]any{"method": "GET", "status": 200})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["method"] != "GET" || entry["msg"] != "http request" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts: %v", entry)
	}
}

func TestSetBuildInfoReplacesLabels(t *testing.T) {
	Init()
	SetBuildInfo("1.0.0", "abc")
	SetBuildInfo("1.1.0", "def")

	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected one build_info series, got %d", n)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("1.1.0", "def", runtime.Version())); v != 1 {
		t.Fatalf("build_info=%v, want 1", v)
	}
}
