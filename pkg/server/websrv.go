package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebServer carries TELNET over WebSocket alongside the TCP listener and
// serves health, session and metrics endpoints.
type WebServer struct {
	server   *Server
	httpSrv  *http.Server
	mux      *http.ServeMux
	handler  http.Handler
	rl       *rateLimiter
	upgrader websocket.Upgrader
	log      *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebServer creates a web server bound to s.
func NewWebServer(s *Server, cfg WebConfig) *WebServer {
	ws := &WebServer{
		server: s,
		mux:    http.NewServeMux(),
		rl:     newRateLimiter(cfg.RateLimit),
		log:    s.log.With("component", "web"),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufSize,
			WriteBufferSize: readBufSize,
			Subprotocols:    []string{"telnet"},
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.Origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.Origins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}

	ws.registerRoutes(cfg)
	return ws
}

// registerRoutes sets up all HTTP routes.
func (ws *WebServer) registerRoutes(cfg WebConfig) {
	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.HandleFunc("GET /sessions", ws.handleSessions)
	ws.mux.HandleFunc("GET /stats", ws.handleStats)
	ws.mux.Handle("GET /metrics", ws.server.Metrics.Handler())

	// CORS -> rate limit -> mux
	handler := http.Handler(ws.mux)
	if cfg.RateLimit > 0 {
		handler = rateLimitMiddleware(ws.rl, handler)
	}
	handler = corsMiddleware(cfg.Origins, handler)
	ws.handler = handler

	ws.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (ws *WebServer) Handler() http.Handler {
	return ws.handler
}

// Start listens until Stop is called.
func (ws *WebServer) Start() error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ws.rl.cleanup()
			case <-ws.done:
				return
			}
		}
	}()

	ws.log.Info("web server listening", "addr", ws.httpSrv.Addr)
	err := ws.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the web server. Open WebSocket sessions are
// closed by the server's connection manager.
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.done) })
	return ws.httpSrv.Shutdown(ctx)
}

// wsConn adapts a WebSocket to the descriptor transport. Each write is one
// binary frame of TELNET bytes.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsConn) Write(p []byte) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wc.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (wc *wsConn) Close() error {
	return wc.conn.Close()
}

// handleWebSocket upgrades the request and runs a TELNET session over it.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	addr := clientAddr(r)
	s := ws.server
	d := NewDescriptor(s.Conns.NextID(), &wsConn{conn: conn}, addr, TransportWebSocket, s.newCapabilities(addr), s.log)

	go s.serve(d, func(idle time.Duration) ([]byte, error) {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					d.log.Debug("websocket read error", "err", err)
				}
				return nil, err
			}
			if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
				return p, nil
			}
		}
	})
}

// clientAddr prefers X-Forwarded-For or X-Real-IP when behind a proxy.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": ws.server.Uptime().Seconds(),
		"sessions":       ws.server.Conns.Count(),
	})
}

// sessionInfo is the JSON view of an open session.
type sessionInfo struct {
	ID        int            `json:"id"`
	UUID      string         `json:"uuid"`
	Transport string         `json:"transport"`
	Addr      string         `json:"addr"`
	Connected time.Time      `json:"connected"`
	Caps      map[string]any `json:"capabilities"`
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	descs := ws.server.Conns.AllDescriptors()
	out := make([]sessionInfo, 0, len(descs))
	for _, d := range descs {
		caps := d.Snapshot()
		out = append(out, sessionInfo{
			ID:        d.ID,
			UUID:      d.UUID,
			Transport: d.Transport.String(),
			Addr:      d.Addr,
			Connected: d.ConnTime,
			Caps:      capsData(&caps),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connections": ws.server.ConnectionStats(),
		"memory":      MemoryStats(),
	})
}
