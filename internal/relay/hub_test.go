package relay

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/video"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsFramesToViewers(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.Broadcast(video.Frame{Source: "cam", Seq: 1, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	kind, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, payload)
}

func TestHubDropsDisconnectedViewer(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	// The read pump notices the close and unregisters.
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

// All socket writes go through one pump per viewer, so frames broadcast from
// multiple goroutines arrive whole, never interleaved.
func TestHubConcurrentBroadcastsArriveIntact(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	payload := bytes.Repeat([]byte{0xFF, 0xD8, 0xAB, 0xD9}, 256)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				hub.Broadcast(video.Frame{Source: "cam", Data: payload})
			}
		}()
	}
	wg.Wait()

	// Slow viewers may skip frames, but every delivered message must be a
	// complete, unmangled frame.
	got := 0
	for {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		require.Equal(t, websocket.BinaryMessage, kind)
		require.Equal(t, payload, data)
		got++
	}
	assert.Greater(t, got, 0)
	assert.LessOrEqual(t, got, 100)
}

func TestHubRunConsumesTap(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	tap := video.NewTap()
	sub := tap.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.Run(ctx, sub)
		close(done)
	}()

	tap.Publish(video.Frame{Source: "cam", Seq: 9, Data: []byte("jpeg")})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), payload)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
