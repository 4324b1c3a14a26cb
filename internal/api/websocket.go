package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"snowfight/internal/config"
	"snowfight/internal/game"
	"snowfight/internal/observability"
	"snowfight/internal/protocol"
	"snowfight/internal/room"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	sendQueueSize = 64
	maxNickname   = 32
)

var (
	errClientClosed  = errors.New("api: client closed")
	errSendQueueFull = errors.New("api: send queue full")
)

// RoomRegistry is the part of room.Manager the transport needs
type RoomRegistry interface {
	GetOrCreate(ctx context.Context, id string) (*room.Room, error)
	Get(id string) (*room.Room, bool)
	List() []*room.Room
}

// Client is one player's websocket. It implements room.Conn: Send only
// queues, and the write pump owns the socket's write side.
type Client struct {
	id    string
	ip    string
	conn  *websocket.Conn
	codec protocol.Codec
	log   *zap.SugaredLogger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	limiter *rate.Limiter
}

func newClient(conn *websocket.Conn, ip string, codec protocol.Codec, perSec float64, log *zap.SugaredLogger) *Client {
	id := uuid.NewString()
	burst := max(1, int(perSec*2))
	return &Client{
		id:      id,
		ip:      ip,
		conn:    conn,
		codec:   codec,
		log:     log.With("conn", id, "ip", ip),
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

// ID returns the connection id, which doubles as the player id
func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close asks the write pump to say goodbye and drop the socket
func (c *Client) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// writePump drains the send queue and keeps the connection alive with pings.
// Queued frames are flushed before the close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msgType, frame); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
		drain:
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(msgType, frame); err != nil {
						return
					}
				default:
					break drain
				}
			}
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readPump decodes inbound messages and forwards them to the room until the
// socket fails or the client floods.
func (c *Client) readPump(r *room.Room, maxBytes int64) {
	c.conn.SetReadLimit(maxBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debugw("websocket read failed", "error", err)
			}
			return
		}
		observability.IncrementWSMessagesIn()

		if !c.limiter.Allow() {
			c.log.Warnw("⚠️ Closing flooding connection")
			observability.RecordConnectionRejected(observability.RejectFlood)
			c.closeWith(websocket.ClosePolicyViolation, "too many messages")
			return
		}

		env, err := c.codec.Decode(data)
		if err != nil {
			c.log.Debugw("undecodable message", "error", err)
			continue
		}
		cmd, err := protocol.ParseCommand(env)
		if err != nil {
			c.log.Debugw("ignored message", "event", env.Event, "error", err)
			continue
		}

		switch cmd.Event {
		case protocol.EventInputs:
			r.SetInputs(c.id, game.Inputs(cmd.Inputs))
		case protocol.EventSnowball:
			r.Fire(c.id, cmd.Angle)
		case protocol.EventPing:
			frame, err := c.codec.Encode(protocol.Envelope{Event: protocol.EventPong})
			if err == nil {
				err = c.Send(frame)
			}
			if err != nil {
				c.log.Debugw("pong not sent", "error", err)
			}
		}
	}
}

// WebSocketHub upgrades player connections and hands them to rooms
type WebSocketHub struct {
	rooms     RoomRegistry
	codec     protocol.Codec
	limits    config.ResourceLimits
	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader
	log       *zap.SugaredLogger

	active atomic.Int64
}

// NewWebSocketHub creates a hub. Nothing runs until a client connects.
func NewWebSocketHub(rooms RoomRegistry, codec protocol.Codec, limits config.ResourceLimits, origins []string, log *zap.SugaredLogger) *WebSocketHub {
	if limits.MaxMessageBytes <= 0 {
		limits.MaxMessageBytes = config.DefaultLimits().MaxMessageBytes
	}
	if limits.WSMessagesPerSec <= 0 {
		limits.WSMessagesPerSec = config.DefaultLimits().WSMessagesPerSec
	}
	if limits.MaxWSPerIP <= 0 {
		limits.MaxWSPerIP = config.DefaultLimits().MaxWSPerIP
	}
	h := &WebSocketHub{
		rooms:     rooms,
		codec:     codec,
		limits:    limits,
		wsLimiter: NewWebSocketRateLimiter(limits.MaxWSPerIP),
		log:       log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin(origins),
	}
	return h
}

// ClientCount returns the number of live player sockets
func (h *WebSocketHub) ClientCount() int {
	return int(h.active.Load())
}

func (h *WebSocketHub) checkOrigin(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin) {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		h.log.Warnw("⚠️ WebSocket connection rejected", "origin", origin)
		observability.RecordConnectionRejected(observability.RejectInvalid)
		return false
	}
}

// HandleWebSocket serves GET /ws?roomId=&nickname=&santaColor=
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("roomId")
	if roomID == "" {
		observability.RecordConnectionRejected(observability.RejectInvalid)
		writeError(w, "roomId is required", http.StatusBadRequest)
		return
	}
	nickname := truncate(q.Get("nickname"), maxNickname)
	santaColor := truncate(q.Get("santaColor"), maxNickname)

	ip := GetClientIP(r)
	if !h.wsLimiter.Allow(ip) {
		h.log.Warnw("⚠️ WebSocket connection rejected: per-IP limit reached",
			"ip", ip, "open", h.wsLimiter.GetConnectionCount(ip))
		observability.RecordConnectionRejected(observability.RejectWSLimit)
		writeError(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}
	defer h.wsLimiter.Release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.log.Debugw("websocket upgrade failed", "ip", ip, "error", err)
		return
	}

	c := newClient(conn, ip, h.codec, h.limits.WSMessagesPerSec, h.log)
	go c.writePump()

	observability.UpdateWSConnections(int(h.active.Add(1)))
	defer func() {
		observability.UpdateWSConnections(int(h.active.Add(-1)))
	}()

	rm, err := h.rooms.GetOrCreate(r.Context(), roomID)
	if err != nil {
		reason := observability.RejectInvalid
		if errors.Is(err, room.ErrTooManyRooms) {
			reason = observability.RejectNoRoom
		}
		observability.RecordConnectionRejected(reason)
		h.log.Warnw("⚠️ Room unavailable", "room", roomID, "error", err)
		c.closeWith(websocket.CloseTryAgainLater, "room unavailable")
		return
	}

	if err := rm.Join(r.Context(), c, nickname, santaColor); err != nil {
		c.log.Infow("🚫 Join refused", "room", roomID, "error", err)
		text := "room closed"
		if errors.Is(err, room.ErrRoomFull) {
			text = "room full"
		}
		c.closeWith(websocket.CloseTryAgainLater, text)
		return
	}

	c.log.Infow("📱 Client connected", "room", roomID, "nickname", nickname, "total", h.ClientCount())
	c.readPump(rm, h.limits.MaxMessageBytes)
	rm.Leave(c.id)
	c.Close()
	c.log.Infow("📱 Client disconnected", "room", roomID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
