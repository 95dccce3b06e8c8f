// Package wireapi exposes the fan-out server's HTTP surface: the wire
// upgrade endpoint, the authenticated broadcast and mint endpoints, and the
// liveness/stats views.
package wireapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/sign"
	"github.com/relaywire/server/internal/v1/wire"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	Registry        *wire.Registry
	Handler         *wire.Handler
	SigningKey      string
	BroadcastKey    string
	BaseURL         string
	ConnectionLimit int

	upgrader websocket.Upgrader
}

// NewServer builds a Server. The upgrader allows every origin: CORS is
// intentionally wide open because admission is gated by the signed URL, not
// by the requesting origin.
func NewServer(registry *wire.Registry, handler *wire.Handler, signingKey, broadcastKey, baseURL string, connectionLimit int) *Server {
	return &Server{
		Registry:        registry,
		Handler:         handler,
		SigningKey:      signingKey,
		BroadcastKey:    broadcastKey,
		BaseURL:         baseURL,
		ConnectionLimit: connectionLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade implements the "/" wire-upgrade endpoint. It halts on the first
// failure: a bad signature returns 401 before any capacity or registration
// work happens, and capacity is checked before the socket is ever upgraded.
func (s *Server) Upgrade(c *gin.Context) {
	room := c.Query("room")
	signature := c.Query("signature")

	if !sign.Verify(s.SigningKey, room, signature) {
		logging.Warn(c.Request.Context(), "rejected wire upgrade: invalid signature", zap.String("room", room))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	if s.Registry.AtCapacity(s.ConnectionLimit) {
		c.String(http.StatusServiceUnavailable, "Connection limit reached")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.String("room", room))
		return
	}

	s.Handler.Serve(c.Request.Context(), conn, room)
}

// broadcastRequest is the body of POST /broadcast.
type broadcastRequest struct {
	Message string `json:"message" binding:"required"`
	Room    string `json:"room" binding:"required"`
}

// Broadcast implements POST /broadcast. A body without a message and room
// gets 400; otherwise it always returns 200 once authorization passes:
// per-member delivery failures never surface here.
func (s *Server) Broadcast(c *gin.Context) {
	key := c.GetHeader("x-broadcast-key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.BroadcastKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid broadcast key"})
		return
	}

	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	s.Registry.BroadcastToRoom(c.Request.Context(), req.Room, req.Message)
	c.JSON(http.StatusOK, gin.H{"message": "Broadcasted"})
}

// signRequest is the body of POST /sign-wire.
type signRequest struct {
	Room string `json:"room" binding:"required"`
}

// SignWire implements POST /sign-wire. Minting requires presenting the
// signing key itself in the x-api-key header.
func (s *Server) SignWire(c *gin.Context) {
	apiKey := c.GetHeader("x-api-key")
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.SigningKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room name must contain only alphanumeric characters and hyphens"})
		return
	}

	url, err := sign.URL(s.BaseURL, s.SigningKey, req.Room)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room name must contain only alphanumeric characters and hyphens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"signed_url": url})
}

// Health implements GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "all good!"})
}

// Stats implements GET /stats: a thin JSON view over the registry's live
// counts, independent of the Prometheus registry.
func (s *Server) Stats(c *gin.Context) {
	connections, rooms := s.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{"connections": connections, "rooms": rooms})
}
