package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

type point struct {
	Distance float64 `json:"distance"`
}

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub[point]()
	id1, ch1 := h.Subscribe()
	id2, ch2 := h.Subscribe()
	assert.NotEqual(t, id1, id2)

	h.Publish(point{1.5})
	assert.Equal(t, point{1.5}, <-ch1)
	assert.Equal(t, point{1.5}, <-ch2)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, point{1.5}, latest)
	assert.Equal(t, HubStats{Subscribers: 2, Published: 1}, h.Stats())
}

func TestHub_LatestBeforePublish(t *testing.T) {
	h := NewHub[point]()
	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub[int]()
	_, ch := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint64(10), h.Stats().Dropped)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub[int]()
	id, ch := h.Subscribe()
	h.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Zero(t, h.Stats().Subscribers)

	// unknown IDs are ignored
	h.Unsubscribe("missing")
}

func TestHub_Close(t *testing.T) {
	h := NewHub[int]()
	_, ch := h.Subscribe()
	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// subscribing after close yields a closed channel
	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	h.Publish(1)
	_, has := h.Latest()
	assert.False(t, has)
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	h := NewHub[int]()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			id, _ := h.Subscribe()
			h.Unsubscribe(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(400), h.Stats().Published)
}

func TestHub_AdminLatest(t *testing.T) {
	h := NewHub[point]()
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/latest", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	h.Publish(point{2.25})
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got point
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, point{2.25}, got)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/latest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHub_AdminTail(t *testing.T) {
	h := NewHub[point]()
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), w: pw}
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)

	served := make(chan struct{})
	go func() {
		defer close(served)
		mux.ServeHTTP(rec, req)
		pw.Close()
	}()

	r := bufio.NewReader(pr)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	require.Eventually(t, func() bool { return h.Stats().Subscribers == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(point{3.5})

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.JSONEq(t, `{"distance":3.5}`, strings.TrimPrefix(strings.TrimSpace(line), "data: "))

	cancel()
	go io.Copy(io.Discard, pr)
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("tail handler did not exit on context cancellation")
	}
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

// streamRecorder tees the body into a pipe so the test can read the stream
// while the handler is still running.
type streamRecorder struct {
	*httptest.ResponseRecorder
	w io.Writer
}

func (s *streamRecorder) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *streamRecorder) Flush() {}
