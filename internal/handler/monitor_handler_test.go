package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(_ context.Context, sessionID string) (*service.SessionSnapshot, error) {
	return &service.SessionSnapshot{ServerTime: time.Now()}, nil
}

// brokenPipe accepts the first write and fails every later one, like a
// proctor tab that was closed without the request context noticing.
type brokenPipe struct {
	mu     sync.Mutex
	header http.Header
	writes int
}

func (w *brokenPipe) Header() http.Header { return w.header }
func (w *brokenPipe) WriteHeader(int) {}
func (w *brokenPipe) Flush() {}

func (w *brokenPipe) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestMonitorSSEStopsOnWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := NewMonitorHandler(rdb, stubSnapshots{}, zerolog.Nop())
	h.interval = 10 * time.Millisecond

	w := &brokenPipe{header: http.Header{}}
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/admin/sessions/sess-1/monitor", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}

	done := make(chan struct{})
	go func() {
		h.MonitorSessionSSE(c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after the connection broke")
	}
}
