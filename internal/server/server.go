// Package server exposes the operation surface over a unix domain socket.
// The wire protocol is newline-delimited JSON: one Request per line in, one
// Response per line out, in order.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/swarmhq/claimd/internal/tool"
)

// Server accepts client connections on a unix socket and dispatches their
// requests through the operation surface.
type Server struct {
	surface  *tool.Surface
	sockPath string
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
}

// New creates a server for the given surface and socket path.
func New(surface *tool.Surface, sockPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		surface:  surface,
		sockPath: sockPath,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a previous run is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.sockPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.sockPath, 0600); err != nil {
		s.listener.Close()
		return fmt.Errorf("socket permissions: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the socket path the server is bound to.
func (s *Server) Addr() string { return s.sockPath }

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("server: accept: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var req tool.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.send(writer, tool.Response{
				Success: false,
				Error:   &tool.ErrorInfo{Kind: tool.KindValidationError, Message: "invalid request JSON: " + err.Error()},
			})
			continue
		}
		s.send(writer, s.surface.Dispatch(s.ctx, req))
	}
	if err := scanner.Err(); err != nil {
		log.Printf("server: read: %v", err)
	}
}

func (s *Server) send(writer *bufio.Writer, resp tool.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("server: marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := writer.Write(data); err != nil {
		log.Printf("server: write: %v", err)
		return
	}
	if err := writer.Flush(); err != nil {
		log.Printf("server: flush: %v", err)
	}
}
