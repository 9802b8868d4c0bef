package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	cases := []struct {
		name    string
		pageURL string
		want    string
		wantErr bool
	}{
		{"secure page", "https://example.com/hit?assignmentId=A1", "wss://example.com/work-socket", false},
		{"insecure page", "http://example.com/hit", "ws://example.com/work-socket", false},
		{"host with port", "http://localhost:8080/hit?x=1", "ws://localhost:8080/work-socket", false},
		{"no host", "/relative/path", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Endpoint(tc.pageURL)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type recordingHandler struct {
	opened chan struct{}
	closed chan struct{}
	errs   chan error
	msgs   chan []byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened: make(chan struct{}, 1),
		closed: make(chan struct{}, 1),
		errs:   make(chan error, 1),
		msgs:   make(chan []byte, 8),
	}
}

func (h *recordingHandler) OnOpen()              { h.opened <- struct{}{} }
func (h *recordingHandler) OnMessage(f []byte)   { h.msgs <- f }
func (h *recordingHandler) OnError(err error)    { h.errs <- err }
func (h *recordingHandler) OnClose()             { h.closed <- struct{}{} }

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestConnLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, socketPath, r.URL.Path)

		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		_, frame, err := ws.ReadMessage()
		require.NoError(t, err)
		received <- frame

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"job-cancelled"}`)))
		require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	}))
	defer srv.Close()

	endpoint, err := Endpoint(srv.URL)
	require.NoError(t, err)

	handler := newRecordingHandler()
	conn := NewConn(endpoint, handler)
	conn.Open()

	waitFor(t, handler.opened, "open")
	conn.Send([]byte(`{"type":"ready-message"}`))

	sent := waitFor(t, received, "server receive")
	assert.JSONEq(t, `{"type":"ready-message"}`, string(sent))

	msg := waitFor(t, handler.msgs, "inbound frame")
	assert.JSONEq(t, `{"type":"job-cancelled"}`, string(msg))

	// Orderly server close yields OnClose with no error first.
	waitFor(t, handler.closed, "close")
	assert.Empty(t, handler.errs)
}

func TestSendWhileUnconnectedIsDropped(t *testing.T) {
	handler := newRecordingHandler()
	conn := NewConn("ws://example.invalid/work-socket", handler)

	// Must not panic or emit lifecycle callbacks.
	conn.Send([]byte(`{"request":"turn-in"}`))
	assert.Empty(t, handler.errs)
	assert.Empty(t, handler.closed)
}

func TestDialFailureReportsError(t *testing.T) {
	handler := newRecordingHandler()

	// A listener that is immediately closed guarantees a refused dial.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint, err := Endpoint(srv.URL)
	require.NoError(t, err)
	srv.Close()

	conn := NewConn(endpoint, handler)
	conn.Open()

	dialErr := waitFor(t, handler.errs, "dial error")
	assert.Error(t, dialErr)
	assert.Empty(t, handler.opened)
}

func TestCloseIsIdempotent(t *testing.T) {
	handler := newRecordingHandler()
	conn := NewConn("ws://example.invalid/work-socket", handler)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
