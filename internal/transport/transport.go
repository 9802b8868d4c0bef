package transport

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MB
	sendBufferSize = 64

	// socketPath is the work-socket endpoint on the serving host.
	socketPath = "/work-socket"
)

// Handler receives connection lifecycle callbacks. OnOpen fires at most
// once, OnMessage any number of times, OnError at most once, and OnClose at
// most once after which no further callbacks are delivered.
type Handler interface {
	OnOpen()
	OnMessage(frame []byte)
	OnError(err error)
	OnClose()
}

// Endpoint derives the work-socket address from the HIT page URL: the page
// scheme maps to the analogous socket scheme (https to wss, http to ws) and
// the host is preserved.
func Endpoint(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("page url %q has no host", pageURL)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host + socketPath, nil
}

// Conn manages the single WebSocket connection of one session. There is no
// reconnection: once the connection fails or closes, the session is over.
type Conn struct {
	endpoint string
	handler  Handler

	mu        sync.Mutex
	ws        *websocket.Conn
	send      chan []byte
	connected bool

	closeOnce sync.Once
}

// NewConn creates an unconnected transport for the given endpoint.
func NewConn(endpoint string, handler Handler) *Conn {
	return &Conn{
		endpoint: endpoint,
		handler:  handler,
	}
}

// Open dials the endpoint asynchronously. A dial failure is reported through
// OnError; success through OnOpen followed by the message pump.
func (c *Conn) Open() {
	go func() {
		ws, _, err := websocket.DefaultDialer.Dial(c.endpoint, nil)
		if err != nil {
			log.Error().Err(err).Str("endpoint", c.endpoint).Msg("dial failed")
			c.handler.OnError(fmt.Errorf("dial %s: %w", c.endpoint, err))
			return
		}

		send := make(chan []byte, sendBufferSize)

		c.mu.Lock()
		c.ws = ws
		c.send = send
		c.connected = true
		c.mu.Unlock()

		log.Info().Str("endpoint", c.endpoint).Msg("connected")
		c.handler.OnOpen()

		go c.readPump(ws)
		go c.writePump(ws, send)
	}()
}

// Send queues one frame for delivery. A send on a connection that is not
// open is dropped with a diagnostic; a late send must never take the
// session down.
func (c *Conn) Send(frame []byte) {
	c.mu.Lock()
	send := c.send
	connected := c.connected
	c.mu.Unlock()

	if !connected || send == nil {
		log.Warn().Msg("dropping send on unconnected socket")
		return
	}

	select {
	case send <- frame:
	default:
		log.Warn().Msg("dropping send, buffer full")
	}
}

// Close tears the connection down without firing lifecycle callbacks. Used
// when the session itself is ending.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.ws != nil {
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}

// finish marks the connection dead and delivers the terminal callbacks at
// most once. err is nil for an orderly close from the server.
func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		if c.ws != nil {
			c.ws.Close()
			c.ws = nil
		}
		c.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Msg("socket failed")
			c.handler.OnError(err)
		} else {
			log.Info().Msg("socket closed by server")
		}
		c.handler.OnClose()
	})
}

func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(nil)
			} else {
				c.finish(fmt.Errorf("read: %w", err))
			}
			return
		}
		c.handler.OnMessage(frame)
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-send:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.finish(fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.finish(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}
