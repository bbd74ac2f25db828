package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClassInfo is the slice of a live class the socket layer needs.
type ClassInfo struct {
	ID        uuid.UUID
	CourseID  uuid.UUID
	TeacherID uuid.UUID
	Title     string
}

// ClassResolver looks up a live class by its stream key.
type ClassResolver interface {
	ByStreamKey(ctx context.Context, streamKey string) (ClassInfo, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	UserID   uuid.UUID
	Role     string
	Name     string
	hub      *Hub
	registry *Registry
	resolver ClassResolver
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. An optional
// course_id query joins the course room so the client receives stream-started
// announcements for that course.
func ServeWs(hub *Hub, registry *Registry, resolver ClassResolver, logger *zap.Logger, jwtValidate func(token string) (userID, role, name string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, role, name, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var courseRoom string
		if courseIDStr := c.Query("course_id"); courseIDStr != "" {
			courseID, err := uuid.Parse(courseIDStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course_id"})
				return
			}
			courseRoom = CourseRoom(courseID)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			UserID:   userID,
			Role:     role,
			Name:     name,
			hub:      hub,
			registry: registry,
			resolver: resolver,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
		}
		if courseRoom != "" {
			hub.Join(courseRoom, client)
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Disconnect(c.ID)
		c.hub.LeaveAll(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

// sendError reports a failure to this connection only. Errors are never
// broadcast to the group.
func (c *Client) sendError(err error) {
	data, _ := json.Marshal(gin.H{"message": err.Error()})
	select {
	case c.send <- WSMessage{Event: "error", Data: data}:
	default:
	}
}

func (c *Client) dispatch(msg WSMessage) {
	switch msg.Event {
	case "start-stream":
		var payload struct {
			StreamKey string `json:"stream_key"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.StreamKey == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		info, err := c.resolver.ByStreamKey(ctx, payload.StreamKey)
		cancel()
		if err != nil {
			c.sendError(ErrStreamNotFound)
			return
		}
		if info.TeacherID != c.UserID {
			c.sendError(ErrNotHost)
			return
		}
		c.hub.Join(StreamRoom(payload.StreamKey), c)
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		err = c.registry.Start(ctx, payload.StreamKey, c.ID, c.UserID, info.CourseID, info.ID, c.Name)
		cancel()
		if err != nil {
			c.hub.Leave(StreamRoom(payload.StreamKey), c)
			c.sendError(err)
		}

	case "join-stream":
		var payload struct {
			StreamKey string `json:"stream_key"`
			Ticket    string `json:"ticket"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.StreamKey == "" {
			return
		}
		c.hub.Join(StreamRoom(payload.StreamKey), c)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.registry.Join(ctx, payload.StreamKey, c.ID, c.UserID, c.Name, payload.Ticket)
		cancel()
		if err != nil {
			c.hub.Leave(StreamRoom(payload.StreamKey), c)
			c.sendError(err)
		}

	case "offer", "answer":
		var payload struct {
			StreamKey string `json:"stream_key"`
			Target    string `json:"target"`
			SDP       struct {
				Type string `json:"type"`
				SDP  string `json:"sdp"`
			} `json:"sdp"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.SDP.SDP == "" {
			return
		}
		kind, sdpType := RelayOffer, webrtc.SDPTypeOffer
		if msg.Event == "answer" {
			kind, sdpType = RelayAnswer, webrtc.SDPTypeAnswer
		}
		sdp := webrtc.SessionDescription{Type: sdpType, SDP: payload.SDP.SDP}
		if err := c.registry.Relay(kind, payload.StreamKey, c.ID, payload.Target, sdp); err != nil {
			c.sendError(err)
		}

	case "ice-candidate":
		var payload struct {
			StreamKey string          `json:"stream_key"`
			Target    string          `json:"target"`
			Candidate json.RawMessage `json:"candidate"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || len(payload.Candidate) == 0 {
			return
		}
		var cand webrtc.ICECandidateInit
		if json.Unmarshal(payload.Candidate, &cand) != nil {
			return
		}
		if err := c.registry.Relay(RelayICECandidate, payload.StreamKey, c.ID, payload.Target, cand); err != nil {
			c.sendError(err)
		}

	case "chat-message":
		var payload struct {
			StreamKey string `json:"stream_key"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Message == "" {
			return
		}
		if err := c.registry.ChatMessage(payload.StreamKey, c.ID, payload.Message); err != nil {
			c.sendError(err)
		}

	case "leave-stream":
		// an empty payload means "leave whatever I'm in", resolved from the
		// connection's session binding
		var payload struct {
			StreamKey string `json:"stream_key"`
		}
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &payload)
		}
		if payload.StreamKey == "" {
			key, ok := c.registry.StreamKeyForConn(c.ID)
			if !ok {
				return
			}
			payload.StreamKey = key
		}
		c.registry.Leave(payload.StreamKey, c.UserID)
		c.hub.Leave(StreamRoom(payload.StreamKey), c)

	case "stop-stream":
		var payload struct {
			StreamKey string `json:"stream_key"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.StreamKey == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.registry.Stop(ctx, payload.StreamKey, c.ID)
		cancel()
		if err != nil {
			c.sendError(err)
		}

	default:
		// ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
