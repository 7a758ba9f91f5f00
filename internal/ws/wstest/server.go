// Package wstest provides an in-process WebSocket server for exercising
// clients against echo, peer-close, garbage-frame and handshake-failure
// behaviour.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Options controls how the server treats each connection
type Options struct {
	// OnConnect frames are written to every new connection before anything else
	OnConnect []string
	// CloseAfter closes the connection normally after echoing this many
	// messages; 0 echoes forever.
	CloseAfter int
	// Silent drops inbound messages instead of echoing them
	Silent bool
	// Logger records server-side events; zero value discards them
	Logger zerolog.Logger
}

// Server is a WebSocket endpoint with switchable failure modes
type Server struct {
	opts   Options
	server *httptest.Server

	mu      sync.Mutex
	reject  int // HTTP status returned instead of upgrading; 0 upgrades
	conns   map[*websocket.Conn]struct{}
	headers []http.Header

	connections atomic.Int64
	pings       atomic.Int64
	messages    atomic.Int64
}

// NewServer starts a server listening on a loopback port
func NewServer(opts Options) *Server {
	s := NewHandler(opts)
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	s.server = httptest.NewServer(mux)
	return s
}

// NewHandler returns an unstarted server to mount on an existing mux
func NewHandler(opts Options) *Server {
	return &Server{opts: opts, conns: make(map[*websocket.Conn]struct{})}
}

// URL returns the ws:// endpoint of a server created by NewServer
func (s *Server) URL() string {
	return strings.Replace(s.server.URL, "http://", "ws://", 1) + "/ws"
}

// Close drops every live connection and stops the listener
func (s *Server) Close() {
	s.DropAll()
	if s.server != nil {
		s.server.Close()
	}
}

// SetReject makes subsequent handshakes fail with status; 0 restores upgrades
func (s *Server) SetReject(status int) {
	s.mu.Lock()
	s.reject = status
	s.mu.Unlock()
}

// DropAll closes live connections without a close frame
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Connections is the number of completed handshakes
func (s *Server) Connections() int64 { return s.connections.Load() }

// Pings is the number of ping control frames received
func (s *Server) Pings() int64 { return s.pings.Load() }

// Messages is the number of data frames received
func (s *Server) Messages() int64 { return s.messages.Load() }

// Headers returns the request headers of every handshake so far
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

// Active is the number of currently open connections
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	if reject != 0 {
		w.WriteHeader(reject)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	s.connections.Add(1)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	conn.SetPingHandler(func(data string) error {
		s.pings.Add(1)
		writeMu.Lock()
		defer writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(messageType, data)
	}

	for _, frame := range s.opts.OnConnect {
		if err := write(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}

	echoed := 0
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.messages.Add(1)
		s.opts.Logger.Debug().Int("bytes", len(data)).Msg("Message received")

		if s.opts.Silent {
			continue
		}
		if err := write(messageType, data); err != nil {
			return
		}
		echoed++

		if s.opts.CloseAfter > 0 && echoed >= s.opts.CloseAfter {
			writeMu.Lock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			writeMu.Unlock()
			// let the close frame reach the peer before the socket goes away
			time.Sleep(50 * time.Millisecond)
			return
		}
	}
}
