// Package websocket provides a log sink component that streams events to
// WebSocket clients. New clients first receive the most recent events.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/output"
	"github.com/c360/semwire/pkg/buffer"
	"github.com/c360/semwire/pkg/worker"
)

// Component properties
const (
	PropAddr         = "addr" // listen address; empty serves only through Handler
	PropPath         = "path"
	PropBacklog      = "backlog"    // events replayed to new clients
	PropQueueSize    = "queue_size" // events waiting for broadcast
	PropWriteTimeout = "write_timeout"
)

// Sink broadcasts events as JSON text frames. Write queues; a single worker
// broadcasts so clients see events in order.
type Sink struct {
	name         string
	addr         string
	path         string
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	backlog *buffer.Ring[output.Entry]
	pool    *worker.Pool[output.Entry]
	dropped atomic.Int64

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client
	closed    bool

	logger   *component.Logger
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex // gorilla connections allow one concurrent writer
	closeOnce sync.Once
}

var (
	_ output.Sink           = (*Sink)(nil)
	_ component.Activator   = (*Sink)(nil)
	_ component.Deactivator = (*Sink)(nil)
)

// New creates a sink from the component properties.
func New(ctx *component.Context) (any, error) {
	props := ctx.Properties()
	s := &Sink{
		name:         ctx.Name(),
		addr:         config.GetString(props, PropAddr, ""),
		path:         config.GetString(props, PropPath, "/events"),
		writeTimeout: config.GetDuration(props, PropWriteTimeout, 5*time.Second),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
	}

	backlog, err := buffer.NewRing[output.Entry](config.GetInt(props, PropBacklog, 100))
	if err != nil {
		return nil, errors.Wrap(err, "Sink", "New", "create backlog")
	}
	s.backlog = backlog

	s.pool, err = worker.NewPool(1, config.GetInt(props, PropQueueSize, 1000), s.broadcast)
	if err != nil {
		return nil, errors.Wrap(err, "Sink", "New", "create broadcast pool")
	}
	return s, nil
}

// Activate starts broadcasting and, when an address is configured, the
// HTTP listener.
func (s *Sink) Activate(ctx *component.Context) error {
	s.logger = ctx.Logger()

	runCtx, cancel := context.WithCancel(context.Background())
	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "Sink", "Activate", "start broadcast pool")
	}
	s.cancel = cancel

	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		_ = s.pool.Stop(time.Second)
		cancel()
		return errors.WrapFatal(err, "Sink", "Activate", fmt.Sprintf("listen on %s", s.addr))
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server stopped", err)
		}
	}()
	s.logger.Info("WebSocket sink listening", "addr", ln.Addr().String(), "path", s.path)
	return nil
}

// Deactivate closes every client and stops the listener.
func (s *Sink) Deactivate(_ *component.Context) {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.server.Shutdown(ctx)
		cancel()
	}

	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]*client)
	s.closed = true
	s.clientsMu.Unlock()
	for _, c := range clients {
		s.closeClient(c)
	}

	if err := s.pool.Stop(5 * time.Second); err != nil && s.logger != nil {
		s.logger.Warn("Broadcast queue did not drain", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.backlog.Close()
}

// Addr returns the listen address, or "" when the sink has no listener.
func (s *Sink) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Path returns the WebSocket endpoint path.
func (s *Sink) Path() string { return s.path }

// Handler serves the WebSocket endpoint.
func (s *Sink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	return mux
}

// Write queues an event. Events are dropped when the queue is full.
func (s *Sink) Write(source, message string) {
	if err := s.pool.Submit(output.NewEntry(source, message)); err != nil {
		s.dropped.Add(1)
	}
}

// Dropped returns the number of events refused by a full or stopped queue.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Backlog returns the events new clients would receive.
func (s *Sink) Backlog() []output.Entry { return s.backlog.Snapshot() }

// Clients returns the number of connected clients.
func (s *Sink) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Sink) broadcast(_ context.Context, entry output.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// backlog and client set change together so a joining client sees
	// each event exactly once
	s.clientsMu.RLock()
	s.backlog.Write(entry)
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		if err := s.send(c, data); err != nil {
			s.removeClient(c)
		}
	}
	return nil
}

func (s *Sink) send(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Sink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	c := &client{conn: conn}

	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		s.closeClient(c)
		return
	}
	for _, entry := range s.backlog.Snapshot() {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if err := s.send(c, data); err != nil {
			s.clientsMu.Unlock()
			s.closeClient(c)
			return
		}
	}
	s.clients[conn] = c
	s.wg.Add(1)
	s.clientsMu.Unlock()

	go s.readLoop(c)
}

// readLoop discards client frames; it keeps control frames flowing and
// notices disconnects.
func (s *Sink) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Sink) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.conn)
	s.clientsMu.Unlock()
	s.closeClient(c)
}

func (s *Sink) closeClient(c *client) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "sink stopped"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// Register registers the websocket sink implementation.
func Register(impls *component.Registry) error {
	return impls.RegisterWithConfig(component.RegistrationConfig{
		Name:        "websocket",
		New:         New,
		Description: "Log sink streaming events to WebSocket clients",
		Version:     "1.0.0",
	})
}
