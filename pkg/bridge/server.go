// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge serves printer snapshots to remote displays over
// websockets and accepts text commands back.
//
// A display connects to the bridge endpoint, optionally with ?format=cbor
// for compact binary frames, and immediately receives the latest snapshot.
// Every subsequent Broadcast is fanned out to all connected displays.
// Command frames are handed to the configured CommandFunc and answered with
// a result or error frame on the same connection.
package bridge

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

const (
	sendQueueSize  = 16
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	commandTimeout = 15 * time.Second
)

// CommandFunc executes one command line and returns its human-readable
// result.
type CommandFunc func(ctx context.Context, line string) (string, error)

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithBasicAuth requires HTTP Basic credentials on the upgrade request
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// Server is an http.Handler that upgrades requests to websocket sessions.
type Server struct {
	log      logrus.FieldLogger
	exec     CommandFunc
	upgrader websocket.Upgrader

	username string
	password string

	nextID atomic.Int64

	mu      sync.RWMutex
	clients map[int64]*client
	last    *printer.Snapshot
	closed  bool
}

// New creates a bridge. exec may be nil, in which case commands are refused.
func New(exec CommandFunc, opts ...Option) *Server {
	s := &Server{
		log:     logrus.StandardLogger(),
		exec:    exec,
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clients returns the number of connected displays
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues snap for every connected display. Displays that are too
// slow to keep up miss intermediate snapshots.
func (s *Server) Broadcast(snap printer.Snapshot) {
	s.mu.Lock()
	s.last = &snap
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.sendSnapshot(snap)
	}
}

// Close disconnects every display and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = make(map[int64]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and runs the session until the display
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="bambustat"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     s.nextID.Add(1),
		conn:   conn,
		server: s,
		format: format,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c.id] = c
	last := s.last
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"client": c.id, "remote": r.RemoteAddr}).Info("display connected")

	go c.writePump()
	if last != nil {
		c.sendSnapshot(*last)
	}
	c.readPump()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.username == "" && s.password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.WithField("client", c.id).Info("display disconnected")
}

func (s *Server) execute(line string) (string, error) {
	if s.exec == nil {
		return "", printer.ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return s.exec(ctx, line)
}

// client is one connected display
type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	format Format
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) messageType() int {
	if c.format == FormatCBOR {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (c *client) send(frame []byte) {
	select {
	case c.sendCh <- frame:
	case <-c.done:
	default:
		c.server.log.WithField("client", c.id).Debug("dropping frame, send queue full")
	}
}

func (c *client) sendSnapshot(snap printer.Snapshot) {
	frame, err := EncodeSnapshot(c.format, snap)
	if err != nil {
		c.server.log.WithError(err).Error("failed to encode snapshot")
		return
	}
	c.send(frame)
}

func (c *client) sendText(frameType uint8, text string) {
	frame, err := EncodeText(c.format, frameType, text)
	if err != nil {
		c.server.log.WithError(err).Error("failed to encode frame")
		return
	}
	c.send(frame)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads command frames until the connection closes
func (c *client) readPump() {
	defer func() {
		c.server.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *client) handleMessage(data []byte) {
	line, err := DecodeCommand(c.format, data)
	if err != nil {
		c.sendText(FrameError, err.Error())
		return
	}

	c.server.log.WithFields(logrus.Fields{"client": c.id, "command": line}).Debug("display command")
	result, err := c.server.execute(line)
	if err != nil {
		c.sendText(FrameError, err.Error())
		return
	}
	c.sendText(FrameResult, result)
}

// writePump sends queued frames and keepalive pings
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.messageType(), frame); err != nil {
				c.server.log.WithError(err).WithField("client", c.id).Debug("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
