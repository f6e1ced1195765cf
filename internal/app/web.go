package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local network tool
	},
}

// clientBuffer is how many reports may queue for one websocket client
// before it is considered too slow and dropped.
const clientBuffer = 16

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// statusServer serves the node status, Prometheus metrics and a websocket
// stream of uploaded reports.
type statusServer struct {
	srv      *http.Server
	listener net.Listener
	snapshot func() NodeStatus
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newStatusServer(addr string, snapshot func() NodeStatus, metrics http.Handler, logger *zap.Logger) (*statusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &statusServer{
		listener: ln,
		snapshot: snapshot,
		log:      logger.Named("web"),
		clients:  make(map[*wsClient]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s, nil
}

// Addr returns the bound address.
func (s *statusServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *statusServer) Start() {
	go func() {
		s.log.Info("web server listening", zap.String("addr", s.Addr()))
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("web server stopped", zap.Error(err))
		}
	}()
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.log.Warn("json encode error", zap.Error(err))
	}
}

func (s *statusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	go s.writePump(c)

	// reads only detect the close; clients have nothing to say
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", zap.Error(err))
			}
			break
		}
	}
	s.drop(c)
}

func (s *statusServer) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// drop unregisters c and ends its write pump. Safe to call more than once.
func (s *statusServer) drop(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Broadcast queues payload for every client without blocking. Clients whose
// queue is full are disconnected.
func (s *statusServer) Broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.log.Debug("dropping slow websocket client")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func (s *statusServer) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
