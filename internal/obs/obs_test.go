package obs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), "line %q", sc.Text())
		out = append(out, line)
	}
	return out
}

func findEvent(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["msg"] == msg {
			return l
		}
	}
	return nil
}

func TestAccessLog_CarriesUserAndRedactsShareToken(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(SetOutputForTests(&buf))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WithUserID(r.Context(), "user-uuid-1")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("gone"))
	})
	h := RequestContextMiddleware(AccessLogMiddleware("http", inner))

	req := httptest.NewRequest(http.MethodGet, "/n/0b7c9d6e-3f7a-4c55-9d3a-2f1e8b6a9c10", nil)
	req.Header.Set("X-Request-Id", "req-from-client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-from-client", rec.Header().Get("X-Request-Id"))
	access := findEvent(logLines(t, &buf), "http_access")
	require.NotNil(t, access)
	require.Equal(t, "/n/[REDACTED]", access["path"])
	require.Equal(t, float64(http.StatusNotFound), access["status"])
	require.Equal(t, float64(4), access["resp_bytes"])
	require.Equal(t, "user-uuid-1", access["user_uuid"])
	require.Equal(t, "req-from-client", access["request_id"])
}

func TestRequestContext_UsesTraceIDWhenNoRequestID(t *testing.T) {
	var seen Correlation
	h := RequestContextMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4BF92F3577B34DA6A3CE929D0E0E4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seen.TraceID)
	require.Equal(t, seen.TraceID, seen.RequestID)
	require.Equal(t, seen.RequestID, rec.Header().Get("X-Request-Id"))
}

func testExtractTraceID_RejectsMalformed(t *rapid.T) {
	id := rapid.StringMatching(`[0-9a-f]{1,31}|[0-9a-f]{33,40}|[g-z]{32}`).Draw(t, "id")
	if got := extractTraceID("00-" + id + "-00f067aa0ba902b7-01"); got != "" {
		t.Fatalf("extractTraceID accepted %q", id)
	}
}

func TestExtractTraceID_RejectsMalformed(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testExtractTraceID_RejectsMalformed)
	require.Empty(t, extractTraceID("00-00000000000000000000000000000000-00f067aa0ba902b7-01"))
}

func TestWithUserID_WithoutRequestCorrelation(t *testing.T) {
	t.Parallel()
	ctx := WithUserID(context.Background(), "  u-2 ")
	require.Equal(t, "u-2", CorrelationFromContext(ctx).UserUUID)
	require.Equal(t, Correlation{}, CorrelationFromContext(context.Background()))
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(SetOutputForTests(&buf))

	SetLevel(slog.LevelInfo)
	Pkg("test").Debug("hidden")
	Pkg("test").Info("shown")

	lines := logLines(t, &buf)
	require.Nil(t, findEvent(lines, "hidden"))
	require.NotNil(t, findEvent(lines, "shown"))

	_, err := ParseLevel("verbose")
	require.Error(t, err)
	l, err := ParseLevel(" warn ")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, l)
}
