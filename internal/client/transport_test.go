package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go-social-chat/internal/event"
	"go-social-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger("error", false); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// 测试服务端收到的帧
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) add(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func newFrameServer(t *testing.T, sink *frameSink) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sink.add(frame)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// 多个goroutine同时Emit：UI线程发消息、打字计时器发stopTyping、重连
// goroutine重进房间都会并发写同一条连接，出站帧必须逐条完整到达
func TestTransport_ConcurrentEmitsArriveIntact(t *testing.T) {
	sink := &frameSink{}
	tr := NewTransport(newFrameServer(t, sink), time.Hour)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	const goroutines = 4
	const perGoroutine = 25
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(from uint) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				assert.NoError(t, tr.Emit(event.Typing, event.TypingPayload{From: from, To: 99}))
			}
		}(uint(g + 1))
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return sink.count() == goroutines*perGoroutine
	}, 2*time.Second, 10*time.Millisecond)

	for _, frame := range sink.all() {
		env, err := event.Decode(frame)
		require.NoError(t, err, "every frame must decode cleanly")
		assert.Equal(t, event.Typing, env.Event)
	}
}

// 断开的transport上Emit返回错误而不是写空连接
func TestTransport_EmitAfterCloseFails(t *testing.T) {
	sink := &frameSink{}
	tr := NewTransport(newFrameServer(t, sink), time.Hour)
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close())

	err := tr.Emit(event.Typing, event.TypingPayload{From: 1, To: 2})
	assert.ErrorIs(t, err, ErrTransportClosed)
}
