package handlers

import (
	"context"
	"net/http"

	"github.com/cloudzz-dev/relaychat/internal/server/ratelimit"
	"github.com/cloudzz-dev/relaychat/internal/server/relay"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleWebSocket upgrades r and runs the connection until it closes or ctx is
// done. limiter may be nil.
func HandleWebSocket(ctx context.Context, hub *relay.Hub, limiter *ratelimit.RateLimiter, w http.ResponseWriter, r *http.Request) {
	clientIP := ratelimit.GetClientIP(r)

	if limiter != nil && !limiter.CanConnect(clientIP) {
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		hub.Log.Warn("rate limited connection", zap.String("ip", clientIP))
		return
	}

	if limiter != nil {
		limiter.AddConnection(clientIP)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if limiter != nil {
			limiter.RemoveConnection(clientIP)
		}
		hub.Log.Warn("upgrade failed", zap.String("ip", clientIP), zap.Error(err))
		return
	}

	client := relay.NewClient(hub, conn, clientIP)

	go func() {
		if limiter != nil {
			defer limiter.RemoveConnection(clientIP)
		}
		client.WritePump()
	}()

	go client.ReadPump(ctx)
}

// Routes wires the relay endpoints onto a new mux.
func Routes(ctx context.Context, hub *relay.Hub, limiter *ratelimit.RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(ctx, hub, limiter, w, r)
	})
	mux.HandleFunc("/health", HealthCheck)
	return mux
}
