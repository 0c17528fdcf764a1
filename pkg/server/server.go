package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-go-golems/hive/pkg/client"
	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed static/index.html
var indexHTML string

const shutdownTimeout = 10 * time.Second

type chatRequest struct {
	Type           string `json:"type,omitempty"`
	Query          string `json:"query"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Broadcast      bool   `json:"broadcast,omitempty"`
}

// frame is what the server writes on a WebSocket.
type frame struct {
	Type           string `json:"type"`
	Response       string `json:"response,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Error          string `json:"error,omitempty"`
}

func responseFrame(typ string, r client.Response) frame {
	return frame{
		Type:           typ,
		Response:       r.Response,
		ConversationID: r.ConversationID,
		Provider:       r.Provider,
		Error:          r.Error,
	}
}

// Server exposes a Client over HTTP and WebSocket.
//
// Queries are processed one at a time, whatever connection they arrive on.
type Server struct {
	echo        *echo.Echo
	client      *client.Client
	hub         *Hub
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader

	chatMu sync.Mutex
}

func New(c *client.Client) *Server {
	hub := NewHub()
	s := &Server{
		echo:        echo.New(),
		client:      c,
		hub:         hub,
		broadcaster: NewBroadcaster(hub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/providers", s.handleProviders)
	s.echo.POST("/providers/:name", s.handleSetProvider)
	s.echo.GET("/servers", s.handleServers)
	s.echo.POST("/chat", s.handleChat)
	s.echo.GET("/ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := s.broadcaster.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		log.Info().Str("address", addr).Msg("Starting web server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = s.broadcaster.Close()
		return errors.Wrap(err, "web server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.hub.CloseAll()
	err := s.echo.Shutdown(shutdownCtx)
	if cerr := s.broadcaster.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// chat serializes query processing across every HTTP request and WebSocket.
func (s *Server) chat(ctx context.Context, session *conversation.Session, query string) client.Response {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	return s.client.ProcessQuery(ctx, session, query)
}

func (s *Server) broadcast(r client.Response, origin string) {
	b, err := json.Marshal(responseFrame("broadcast", r))
	if err != nil {
		log.Error().Err(err).Msg("Could not encode broadcast")
		return
	}
	if err := s.broadcaster.Publish(b, origin); err != nil {
		log.Error().Err(err).Msg("Could not publish broadcast")
	}
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, indexHTML)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": s.client.Providers().Names(),
	})
}

func (s *Server) handleProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": s.client.Providers().Names(),
		"current":   s.client.Providers().CurrentName(),
	})
}

func (s *Server) handleSetProvider(c echo.Context) error {
	msg, _ := s.client.Providers().Use(c.Param("name"))
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleServers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"servers": s.client.Servers(),
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No query provided"})
	}

	session := conversation.NewSessionFor(req.ConversationID)
	resp := s.chat(c.Request().Context(), session, req.Query)
	if req.Broadcast {
		s.broadcast(resp, "")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade WebSocket")
		return nil
	}

	conn := newConnection(ws)
	s.hub.register(conn)
	go s.writePump(conn)
	s.readPump(c.Request().Context(), conn)
	return nil
}

func (s *Server) readPump(ctx context.Context, conn *Connection) {
	defer s.hub.unregister(conn)

	conn.ws.SetReadLimit(maxFrameSize)
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		// a query can outlast the pong timeout, the deadline restarts on every read
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection", conn.ID).Msg("WebSocket read failed")
			}
			return
		}
		s.handleFrame(ctx, conn, data)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("connection", conn.ID).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(conn, frame{Type: "error", Error: "Invalid JSON message"})
		return
	}

	switch req.Type {
	case "ping":
		s.reply(conn, frame{Type: "pong"})
	case "", "chat":
		if req.Query == "" {
			s.reply(conn, frame{Type: "error", Error: "No query provided"})
			return
		}
		if req.ConversationID != 0 {
			conn.Session.Use(req.ConversationID)
		}
		resp := s.chat(ctx, conn.Session, req.Query)
		s.reply(conn, responseFrame("response", resp))
		if req.Broadcast {
			s.broadcast(resp, conn.ID)
		}
	default:
		s.reply(conn, frame{Type: "error", Error: "Unknown message type: " + req.Type})
	}
}

func (s *Server) reply(conn *Connection, f frame) {
	if err := s.hub.SendJSON(conn, f); err != nil {
		log.Warn().Err(err).Str("connection", conn.ID).Msg("Could not queue WebSocket reply")
	}
}
