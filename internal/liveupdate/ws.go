package liveupdate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/opencrew/agent-mesh/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI and API are served from the same origin in every deployment
	// this system targets; a stricter allow-list belongs to the reverse
	// proxy in front of it, not this handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection at "/" and hands it to a new client.
// Authentication reuses the same session cookie the REST surface trusts.
func (h *Hub) ServeWS(signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie("session")
		if err != nil || cookie == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if _, err := auth.VerifySession(cookie, signingKey); err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		cl := newClient(h, conn)
		go cl.writePump()
		cl.readPump(c.Request.Context())
	}
}
