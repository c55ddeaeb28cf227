package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenggwsx/BridgeRelay/internal/auth"
	"github.com/fenggwsx/BridgeRelay/internal/protocol"
	"github.com/fenggwsx/BridgeRelay/internal/relay"
)

const (
	serverName    = "Bridge Server"
	serverVersion = "1.0.0"

	defaultEventLimit = 100
	ctxAdminSubject   = "admin_subject"
)

// well-known kinds always present in the status breakdown.
var reportedKinds = []string{"printer", "web", "mobile", protocol.DefaultClientType}

type broadcastRequest struct {
	Data            json.RawMessage `json:"data"`
	ExcludeID       string          `json:"excludeId"`
	ExcludeClientID string          `json:"excludeClientId"`
}

func (r broadcastRequest) exclude() string {
	if r.ExcludeID != "" {
		return r.ExcludeID
	}
	return r.ExcludeClientID
}

type connectionView struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Room      *string     `json:"room"`
	Metadata  interface{} `json:"metadata"`
	LastPing  int64       `json:"lastPing"`
	Connected bool        `json:"connected"`
}

type roomMemberView struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Metadata interface{} `json:"metadata"`
}

type roomView struct {
	ID          string           `json:"id"`
	ClientCount int              `json:"clientCount"`
	Clients     []roomMemberView `json:"clients"`
}

type eventView struct {
	ID         uint64 `json:"id"`
	Kind       string `json:"kind"`
	ClientID   string `json:"clientId"`
	ClientType string `json:"clientType,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	At         string `json:"at"`
}

func (a *App) mountControl(engine *gin.Engine) {
	engine.GET("/status", a.handleStatus)
	engine.GET("/connections", a.handleConnections)
	engine.GET("/rooms", a.handleRooms)
	engine.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	engine.GET("/events", a.handleEvents)

	operator := engine.Group("/", a.requireAdmin())
	operator.POST("/broadcast", a.handleBroadcast)
	operator.POST("/rooms/:roomId/broadcast", a.handleRoomBroadcast)

	api := engine.Group("/api")
	api.GET("/status", a.handleStatus)
	api.GET("/clients", a.handleConnections)
	api.GET("/rooms", a.handleRooms)
	apiOperator := api.Group("/", a.requireAdmin())
	apiOperator.POST("/broadcast", a.handleBroadcast)
	apiOperator.POST("/room/:roomId/broadcast", a.handleRoomBroadcast)
}

func (a *App) handleRoot(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		a.serveWS(c)
		return
	}
	if !a.cfg.SharedControl() {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}
	a.handleInfo(c)
}

func (a *App) handleInfo(c *gin.Context) {
	wsScheme, httpScheme := "ws", "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		wsScheme, httpScheme = "wss", "https"
	}
	host := c.Request.Host
	connections, rooms := a.registry.Counts()
	c.JSON(http.StatusOK, gin.H{
		"name":      serverName,
		"version":   serverVersion,
		"status":    "running",
		"websocket": wsScheme + "://" + host + "/ws",
		"api":       httpScheme + "://" + host + "/api",
		"stats": gin.H{
			"connectedClients": connections,
			"activeRooms":      rooms,
		},
	})
}

func (a *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *App) handleStatus(c *gin.Context) {
	connections, rooms := a.registry.Counts()
	kinds := a.registry.KindCounts()
	for _, kind := range reportedKinds {
		if _, ok := kinds[kind]; !ok {
			kinds[kind] = 0
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"timestamp": protocol.Timestamp(time.Now()),
		"stats": gin.H{
			"connectedClients": connections,
			"activeRooms":      rooms,
			"clientTypes":      kinds,
		},
	})
}

func (a *App) handleConnections(c *gin.Context) {
	conns := a.registry.All()
	out := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toConnectionView(conn))
	}
	c.JSON(http.StatusOK, out)
}

func (a *App) handleRooms(c *gin.Context) {
	rooms := a.registry.Rooms()
	out := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		view := roomView{ID: room.ID, ClientCount: len(room.Members), Clients: make([]roomMemberView, 0, len(room.Members))}
		for _, member := range room.Members {
			view.Clients = append(view.Clients, roomMemberView{ID: member.ID, Type: member.Kind, Metadata: member.Attributes})
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, out)
}

func (a *App) handleBroadcast(c *gin.Context) {
	req, ok := bindBroadcast(c)
	if !ok {
		return
	}
	sent := a.router.BroadcastAll(req.Data, req.exclude())
	a.log.Info("control broadcast", zap.Int("sent_to", sent), zap.String("operator", c.GetString(ctxAdminSubject)))
	c.JSON(http.StatusOK, gin.H{"success": true, "sentTo": sent})
}

func (a *App) handleRoomBroadcast(c *gin.Context) {
	req, ok := bindBroadcast(c)
	if !ok {
		return
	}
	room := c.Param("roomId")
	sent := a.router.BroadcastRoom(room, req.Data, req.exclude())
	a.log.Info("control room broadcast", zap.String("room", room), zap.Int("sent_to", sent), zap.String("operator", c.GetString(ctxAdminSubject)))
	c.JSON(http.StatusOK, gin.H{"success": true, "roomId": room, "sentTo": sent})
}

func (a *App) handleEvents(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	events, err := a.store.ListEvents(c.Request.Context(), limit)
	if err != nil {
		a.log.Error("list journal events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			ID:         e.ID,
			Kind:       e.Kind,
			ClientID:   e.ClientID,
			ClientType: e.ClientType,
			RoomID:     e.RoomID,
			At:         protocol.Timestamp(e.At),
		})
	}
	c.JSON(http.StatusOK, out)
}

// requireAdmin checks the bearer token when an admin secret is configured.
func (a *App) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.cfg.Admin.Secret == "" {
			c.Next()
			return
		}
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}
		claims, err := auth.ParseToken(a.cfg.Admin, token)
		if err != nil {
			a.log.Warn("rejected admin token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		c.Set(ctxAdminSubject, claims.Subject)
		c.Next()
	}
}

func bindBroadcast(c *gin.Context) (broadcastRequest, bool) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body"})
		return req, false
	}
	return req, true
}

func toConnectionView(conn relay.Connection) connectionView {
	view := connectionView{
		ID:        conn.ID,
		Type:      conn.Kind,
		Metadata:  conn.Attributes,
		LastPing:  conn.LastSeen.UnixMilli(),
		Connected: conn.Connected,
	}
	if conn.Room != "" {
		room := conn.Room
		view.Room = &room
	}
	return view
}
