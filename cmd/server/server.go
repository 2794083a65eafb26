package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aliyun/rdsai-cli/db"
)

// Server is a TCP front-end exposing one backend session over a
// newline-delimited protocol: one SQL statement per line in, one JSON
// response per line out.
type Server struct {
	listener   net.Listener
	service    *db.Service
	authConfig *AuthConfig
	logger     *slog.Logger

	// mu serializes statement execution: the backend session is single.
	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a server over an already-connected Service.
func NewServer(service *db.Service, authConfig *AuthConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:    service,
		authConfig: authConfig,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.logger.Info("listening", "addr", addr)

	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("accept failed", "error", err)
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

	s.logger.Info("client connected", "remote", conn.RemoteAddr())

	state := &ConnectionState{}
	reader := bufio.NewReader(conn)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		// One statement per line.
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}

		lower := strings.ToLower(query)
		if lower == "quit" || lower == "exit" {
			s.logger.Info("client disconnected", "remote", conn.RemoteAddr(), "subject", state.Subject())
			return
		}

		var response Response
		switch {
		case strings.HasPrefix(strings.ToUpper(query), "AUTH "):
			response = s.handleAuth(query, state)
			if state.IsAuthenticated() {
				s.logger.Info("client authenticated", "remote", conn.RemoteAddr(), "subject", state.Subject())
			}
		case s.requiresAuth(state):
			response = Response{Success: false, Error: "authentication required: AUTH JWT <token>"}
		default:
			response = s.executeQuery(query)
		}

		data, err := EncodeResponse(response)
		if err != nil {
			s.logger.Warn("encode failed", "error", err)
			continue
		}
		if _, err := conn.Write(data); err != nil {
			s.logger.Warn("write failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

// requiresAuth reports whether the connection must authenticate before
// executing statements, including re-auth after token expiry.
func (s *Server) requiresAuth(state *ConnectionState) bool {
	if s.authConfig == nil || !s.authConfig.Enabled {
		return false
	}
	if !state.IsAuthenticated() {
		return true
	}
	return !state.tokenExpiry.IsZero() && time.Now().After(state.tokenExpiry)
}

func (s *Server) executeQuery(query string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.service.ExecuteQuery(query)
	if err != nil {
		return Response{
			Success: false,
			Error:   err.Error(),
		}
	}
	if !result.Success {
		return Response{
			Success: false,
			Type:    "query",
			Error:   result.Error,
		}
	}

	if result.Columns != nil {
		qr := QueryResponse{
			QueryType: string(result.QueryType),
			Columns:   result.Columns,
			Rows:      result.Rows,
			RowCount:  result.RowCount(),
			TimeMs:    result.ExecutionTimeSec * 1000,
		}
		data, _ := json.Marshal(qr)
		return Response{
			Success: true,
			Type:    "query",
			Result:  data,
		}
	}

	er := ExecResponse{
		QueryType:    string(result.QueryType),
		AffectedRows: result.AffectedRows,
		TimeMs:       result.ExecutionTimeSec * 1000,
	}
	data, _ := json.Marshal(er)
	return Response{
		Success: true,
		Type:    "exec",
		Result:  data,
	}
}
