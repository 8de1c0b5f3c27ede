package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) entries(t *testing.T) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &e), "bad log line %q", line)
		out = append(out, e)
	}
	return out
}

func TestHTTPMiddlewareRequestID(t *testing.T) {
	var buf syncBuffer
	logger := NewWithWriter(Config{Level: "debug"}, &buf)

	h := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := Ctx(r.Context())
		l.Info().Msg("inside")
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(headerRequestID))

	entries := buf.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0][FieldRequestID], "handler logger request_id")
	assert.Equal(t, "warn", entries[1]["level"])
	assert.Equal(t, float64(404), entries[1][FieldStatus])
}

func TestHTTPMiddlewareHijack(t *testing.T) {
	var buf syncBuffer
	logger := NewWithWriter(Config{Level: "info"}, &buf)

	done := make(chan struct{})
	inner := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, rw, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err, "Hijack") {
			return
		}
		rw.WriteString("HTTP/1.1 101 Switching Protocols\r\n\r\n")
		rw.Flush()
		conn.Close()
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.Write([]byte("GET /ws HTTP/1.1\r\nHost: test\r\n\r\n"))
	status, _ := bufio.NewReader(conn).ReadString('\n')
	require.Contains(t, status, "101")
	<-done

	entries := buf.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "connection upgraded", entries[0]["message"])
}

func TestWithHandle(t *testing.T) {
	var buf bytes.Buffer
	reqCtx := WithLogger(context.Background(), NewWithWriter(Config{}, &buf).With().Str(FieldRequestID, "r1").Logger())

	ctx := WithHandle(context.Background(), reqCtx, "h1")
	l := Ctx(ctx)
	l.Info().Msg("x")

	var e map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &e))
	assert.Equal(t, "h1", e[FieldHandle])
	assert.Equal(t, "r1", e[FieldRequestID])
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, levelForStatus(200))
	assert.Equal(t, zerolog.WarnLevel, levelForStatus(409))
	assert.Equal(t, zerolog.ErrorLevel, levelForStatus(503))

	assert.Equal(t, zerolog.DebugLevel, levelForCode("/grpc.health.v1.Health/Check", codes.OK), "health checks should log at debug")
	assert.Equal(t, zerolog.InfoLevel, levelForCode("/x.Y/Z", codes.OK))
	assert.Equal(t, zerolog.ErrorLevel, levelForCode("/x.Y/Z", codes.Internal))
	assert.Equal(t, zerolog.WarnLevel, levelForCode("/x.Y/Z", codes.PermissionDenied))
}
