package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetTURNConfig returns the ICE servers classroom clients should use. The
// embedded TURN server answers STUN on the same port, so one host covers
// both. We hand out "turn:" (not "turns:") because the relay is UDP-only;
// media stays encrypted by DTLS-SRTP regardless.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	iceServers := []map[string]interface{}{
		{
			"urls": fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort),
		},
	}

	if h.turnServer != nil {
		creds := h.turnServer.GetCredentials()
		iceServers = append(iceServers, map[string]interface{}{
			"urls":       fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort),
			"username":   creds.Username,
			"credential": creds.Password,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"iceServers": iceServers,
	})
}
