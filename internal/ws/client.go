package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ClientConfig bounds a socket session.
type ClientConfig struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
	EventsPerSecond int
}

// Client is a gorilla websocket session. Outbound frames go through a
// buffered channel drained by writePump; the channel is never closed, done
// signals shutdown instead.
type Client struct {
	info    ConnInfo
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	cfg     ClientConfig
	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn, info ConnInfo, cfg ClientConfig) *Client {
	limit := rate.Inf
	burst := 0
	if cfg.EventsPerSecond > 0 {
		limit = rate.Limit(cfg.EventsPerSecond)
		burst = cfg.EventsPerSecond * 2
	}
	return &Client{
		info:    info,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Client) ID() string     { return c.info.ConnID }
func (c *Client) UserID() string { return c.info.UserID }
func (c *Client) Info() ConnInfo { return c.info }

func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Allow applies the inbound event rate limit.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// readPump feeds inbound frames to handle until the connection fails.
func (c *Client) readPump(handle func(frame []byte)) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(frame)
	}
}
