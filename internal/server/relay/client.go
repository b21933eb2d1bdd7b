package relay

import (
	"context"

	"github.com/cloudzz-dev/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one websocket connection. ID and Username are set by join.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	ID       string
	Username string
	IP       string
}

func NewClient(hub *Hub, conn *websocket.Conn, ip string) *Client {
	return &Client{
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		IP:   ip,
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}

		wsMsg, err := protocol.DecodeEnvelope(msgBytes)
		if err != nil {
			c.Hub.Log.Debug("dropping frame", zap.String("ip", c.IP), zap.Error(err))
			continue
		}

		c.ProcessMessage(ctx, wsMsg)
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) ProcessMessage(ctx context.Context, msg protocol.WSMessage) {
	switch msg.Type {
	case protocol.TypeJoin:
		var payload protocol.JoinPayload
		if c.bind(msg, &payload) {
			c.Hub.join(c, payload.Username)
		}

	case protocol.TypeStartChat:
		var payload protocol.StartChatPayload
		if c.bind(msg, &payload) {
			c.Hub.startChat(ctx, c, payload.UserID)
		}

	case protocol.TypeSendMessage:
		var payload protocol.SendMessagePayload
		if c.bind(msg, &payload) {
			c.Hub.sendMessage(ctx, c, payload)
		}

	default:
		c.Hub.Log.Debug("unknown message type", zap.String("type", msg.Type))
	}
}

func (c *Client) bind(msg protocol.WSMessage, v interface{}) bool {
	if err := msg.Bind(v); err != nil {
		c.Hub.Log.Debug("bad payload", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return true
}
