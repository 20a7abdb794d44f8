package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"policypal/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth happens below; cross-origin pages hold no credential.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	Subprotocols: []string{"bearer"},
}

// WSHandler authenticates and upgrades inbound persistent connections. The
// bearer credential is taken from the subprotocol auth slot, the
// Authorization header, or the token query parameter, in that order; a bad
// credential ends the connection immediately, no retry.
func WSHandler(hub *Hub, verifier *auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.Request)
		if err != nil {
			logger.Warn("Websocket connect without credential")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("Websocket authentication failed", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID, err := auth.ExtractUserID(claims)
		if err != nil {
			logger.Warn("Websocket token carries no user id")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			logger.Error("Websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(uuid.New().String(), userID, conn, hub, logger)
		hub.Register(client)

		client.SendEvent(EventConnected, ConnectedPayload{
			Message: "Connected to notification service",
			UserID:  userID,
		})

		go client.ReadPump()
		go client.WritePump()
	}
}
