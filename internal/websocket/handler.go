package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// MaxClients caps concurrent feed subscribers.
const MaxClients = 64

// HandleWebSocket subscribes the caller to the change feed. originPatterns
// lists the host patterns allowed besides the request host.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "feed")
	return func(w http.ResponseWriter, r *http.Request) {
		if hub.ClientCount() >= MaxClients {
			logger.Warn("feed full, refusing subscriber", "remote", r.RemoteAddr)
			http.Error(w, "too many feed subscribers", http.StatusServiceUnavailable)
			return
		}
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("feed upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		defer conn.CloseNow()

		logger.Debug("feed subscriber connected", "remote", r.RemoteAddr)
		NewClient(hub, conn).Run(r.Context())
		logger.Debug("feed subscriber gone", "remote", r.RemoteAddr)
	}
}
