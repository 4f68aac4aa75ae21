// Package smtpstub runs a scripted SMTP server on a loopback port for tests.
package smtpstub

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Responder returns the raw reply for one command line (CRLF stripped).
// The reply is written in a single Write; a missing trailing CRLF is added.
type Responder func(cmd string) string

// Server accepts connections sequentially and answers each command with Responder.
type Server struct {
	ln      net.Listener
	banner  string
	respond Responder

	mu       sync.Mutex
	accepted int
	active   net.Conn
	commands []string
	wg       sync.WaitGroup
}

// Start listens on 127.0.0.1:0 and stops the server on test cleanup.
func Start(t testing.TB, banner string, respond Responder) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{ln: ln, banner: banner, respond: respond}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listener IP.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listener port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// PortString is Port formatted for command lines.
func (s *Server) PortString() string {
	return strconv.Itoa(s.Port())
}

// Commands returns every command line received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Accepted returns the number of connections accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops accepting, drops the active connection and waits for the server to exit.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	if s.active != nil {
		_ = s.active.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.active = conn
		s.mu.Unlock()
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if s.banner != "" {
		if _, err := conn.Write([]byte(s.banner)); err != nil {
			return
		}
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		reply := s.respond(cmd)
		if !strings.HasSuffix(reply, "\n") {
			reply += "\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}
