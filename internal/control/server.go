// Package control lets the CLI talk to running daemons over a unix socket
// and keeps one instance of each daemon per state directory.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command types understood by every daemon. Handlers may accept more.
const (
	CommandStop    = "stop"
	CommandHealth  = "health"
	CommandStats   = "stats"
	CommandRefresh = "refresh"
)

// Command is one request sent to a daemon.
type Command struct {
	Type      string            `json:"type"`
	Args      map[string]string `json:"args,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Response is the daemon's answer.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Handler answers one command. Returning an error produces a failed response.
type Handler func(ctx context.Context, cmd Command) (map[string]any, error)

const readTimeout = 5 * time.Second

// Server accepts commands on a unix socket.
type Server struct {
	socketPath string
	handler    Handler
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	wg       sync.WaitGroup
	doneCh   chan struct{}
}

// NewServer prepares a server on socketPath. A stale socket left behind by a
// crashed daemon is removed.
func NewServer(socketPath string, log *slog.Logger, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		log:        log.With("component", "control", "socket", socketPath),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start listens and serves in the background until ctx is done or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("control server already running")
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	s.listener = l
	s.running = true
	s.log.Debug("control server listening")

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.doneCh:
		}
	}()
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(readTimeout)); err != nil {
		s.log.Warn("failed to set deadline", "error", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.reply(conn, Response{Message: "malformed command", Error: err.Error()})
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	data, err := s.handler(ctx, cmd)
	if err != nil {
		s.log.Debug("command failed", "type", cmd.Type, "error", err)
		s.reply(conn, Response{Message: fmt.Sprintf("command %q failed", cmd.Type), Error: err.Error()})
		return
	}
	s.reply(conn, Response{Success: true, Message: fmt.Sprintf("command %q completed", cmd.Type), Data: data})
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("failed to send response", "error", err)
	}
}

// Stop closes the socket and waits for in-flight commands.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.doneCh)
	err := s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := os.RemoveAll(s.socketPath); rmErr != nil {
		s.log.Warn("failed to remove socket file", "error", rmErr)
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing control socket: %w", err)
	}
	return nil
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) SocketPath() string { return s.socketPath }

// ErrUnknownCommand is returned by handlers for command types they do not
// serve.
var ErrUnknownCommand = errors.New("unknown command")

// DataOf converts v to a response payload through its JSON encoding, so
// handlers can return their existing stats structs.
func DataOf(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload must encode as a JSON object: %w", err)
	}
	return out, nil
}
