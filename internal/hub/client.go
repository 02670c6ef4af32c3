package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/internal/config"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

const sendBuffer = 256

// Client is one WebSocket connection.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	Logger  zerolog.Logger
	config  config.WebSocketConfig

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn. conn may be nil for connections that never touch a
// socket, such as in tests.
func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Session: domain.NewSession(id),
		Logger:  log.L().With().Str(log.FieldConnID, id).Logger(),
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// ReadPump reads frames until the socket fails or Close is called, passing
// each to handler in order.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.Session.UpdateActivity()
		handler(c, message)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// WritePump drains Send to the socket and pings on an interval. After Close
// it flushes what is queued, sends a close frame, and exits.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			if err := c.write(message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			for {
				select {
				case message := <-c.Send:
					if err := c.write(message); err != nil {
						return
					}
				default:
					c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
					c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(message)
	return w.Close()
}

// SendMessage encodes message as JSON and queues it.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.SendRaw(data)
	return nil
}

// SendRaw queues an encoded frame. A client that cannot keep up is closed
// rather than allowed to stall its rooms. It reports whether data was queued.
func (c *Client) SendRaw(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		c.Logger.Warn().Msg("send buffer full, closing slow client")
		c.Close()
		return false
	}
}

// Close stops both pumps. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the client is closing.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
