package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
)

// Dispatcher executes one decoded Request and returns its Reply. The
// reactor implements this; Dispatch is expected to run the actual
// mutation on the reactor's own goroutine (by handing the request off
// through a channel) so handlers never race roster access.
type Dispatcher interface {
	Dispatch(Request) Reply
}

// Server accepts connections on a Unix stream socket and services
// exactly one request/response pair per connection, matching the
// protocol's no-pipelining rule.
type Server struct {
	path       string
	dispatcher Dispatcher
	logger     *slog.Logger
	listener   net.Listener
}

// NewServer binds the control socket at path, removing any stale socket
// file left behind by a previous run.
func NewServer(path string, d Dispatcher, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{path: path, dispatcher: d, logger: logger, listener: ln}, nil
}

// Listener exposes the bound net.Listener so the reactor can fold its
// Accept readiness into the event loop's select.
func (s *Server) Listener() net.Listener { return s.listener }

// Close shuts down the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

// Serve runs the accept loop, handling each connection synchronously in
// its own goroutine. It returns when the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	corrID := uuid.New().String()
	log := s.logger.With("correlation_id", corrID)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return
	}
	line := scanner.Bytes()

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(conn, log, Errorf("malformed request: %v", err))
		return
	}
	reply := s.dispatcher.Dispatch(req)
	s.reply(conn, log, reply)
}

func (s *Server) reply(conn net.Conn, log *slog.Logger, reply Reply) {
	b, err := json.Marshal(reply)
	if err != nil {
		log.Error("marshal reply failed", "error", err)
		return
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		log.Warn("write reply failed", "error", err)
	}
}
