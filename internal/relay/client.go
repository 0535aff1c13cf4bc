package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/model"
	pkglog "healthpay-gateway/pkg/log"
)

// closeAuthFailure is the close code sent when the handshake token is
// missing, invalid, or expired.
const closeAuthFailure = 4001

const writeWait = 10 * time.Second

// Inbound message types accepted from clients.
const (
	msgJoinWallet   = "join:wallet"
	msgLeaveWallet  = "leave:wallet"
	msgJoinPayment  = "join:payment"
	msgLeavePayment = "leave:payment"
	msgJoinUser     = "join:user"
	msgLeaveUser    = "leave:user"
	msgPing         = "ping"
)

type inboundMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Client is one authenticated WebSocket connection.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	closed  bool
	userID  string
	rooms   map[string]struct{}
	limiter *rate.Limiter
}

// trySend queues payload without blocking. It reports false when the
// buffer is full or the channel is closed.
func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Relay owns the WebSocket endpoint: handshake auth, the per-connection
// pumps, and the room subscription protocol.
type Relay struct {
	cfg      *conf.Relay
	hub      *Hub
	tokens   *biz.TokenUseCase
	audit    biz.AuditLogger
	upgrader websocket.Upgrader
	log      *pkglog.LogHelper
}

// NewRelay creates the relay endpoint handler.
func NewRelay(c *conf.Relay, hub *Hub, tokens *biz.TokenUseCase, audit biz.AuditLogger, logger log.Logger) *Relay {
	return &Relay{
		cfg:    c,
		hub:    hub,
		tokens: tokens,
		audit:  audit,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: c.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			// Browser clients connect from app origins; upstream ingress
			// enforces the origin allowlist.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: pkglog.NewLogHelper(logger),
	}
}

// HandleWS upgrades the connection and runs its pumps. Authentication
// happens after the upgrade so the client receives a WebSocket close
// frame with a distinct code instead of a bare HTTP error.
func (rl *Relay) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.log.Relay("websocket upgrade failed", "error", err)
		return
	}

	claims, err := rl.authenticate(r)
	if err != nil {
		reason := "invalid token"
		if token, _ := handshakeToken(r); token == "" {
			reason = "missing token"
		}
		rl.audit.LogConnectionRejected(r.Context(), r.RemoteAddr, reason)
		msg := websocket.FormatCloseMessage(closeAuthFailure, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, rl.cfg.SendBuffer),
		userID: claims.UserID,
		rooms:  make(map[string]struct{}),
		// Inbound protocol messages are cheap but not free.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	rl.hub.Register(client)

	go rl.writePump(client)
	go rl.readPump(client)
}

func (rl *Relay) authenticate(r *http.Request) (*biz.Claims, error) {
	token, err := handshakeToken(r)
	if err != nil {
		return nil, err
	}
	return rl.tokens.Verify(r.Context(), token)
}

// handshakeToken reads the token from the query string or, for non-browser
// clients, the Authorization header.
func handshakeToken(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), nil
	}
	return "", biz.ErrTokenInvalid
}

// readPump consumes protocol messages until the connection dies.
func (rl *Relay) readPump(c *Client) {
	defer func() {
		rl.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(rl.cfg.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(rl.cfg.HeartbeatTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rl.log.Relay("unexpected close", "user_id", c.userID, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			rl.log.Relay("inbound message rate exceeded", "user_id", c.userID)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		rl.handleMessage(c, &msg)
	}
}

func (rl *Relay) handleMessage(c *Client, msg *inboundMessage) {
	switch msg.Type {
	case msgJoinWallet:
		rl.hub.Join(model.WalletRoom(msg.ID), c)
	case msgLeaveWallet:
		rl.hub.Leave(model.WalletRoom(msg.ID), c)
	case msgJoinPayment:
		rl.hub.Join(model.PaymentRoom(msg.ID), c)
	case msgLeavePayment:
		rl.hub.Leave(model.PaymentRoom(msg.ID), c)
	case msgJoinUser:
		// A connection may only subscribe to its own user feed.
		if msg.ID != c.userID {
			rl.log.Relay("rejected cross-user subscription", "user_id", c.userID, "requested", msg.ID)
			return
		}
		rl.hub.Join(model.UserRoom(c.userID), c)
	case msgLeaveUser:
		rl.hub.Leave(model.UserRoom(c.userID), c)
	case msgPing:
		c.trySend([]byte(`{"type":"pong"}`))
	}
}

// writePump drains the send channel and keeps the heartbeat going.
func (rl *Relay) writePump(c *Client) {
	ticker := time.NewTicker(rl.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown closes every connection, used on server stop.
func (rl *Relay) Shutdown(ctx context.Context) {
	rl.hub.mu.Lock()
	clients := make([]*Client, 0, len(rl.hub.clients))
	for c := range rl.hub.clients {
		clients = append(clients, c)
	}
	rl.hub.mu.Unlock()
	for _, c := range clients {
		rl.hub.Unregister(c)
	}
}
