package mailtest

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// POP3Options configures a POP3 mock server.
type POP3Options struct {
	// Messages is the maildrop, numbered from 1 in order.
	Messages   []string
	RejectAuth bool
}

// POP3Server is a raw POP3 (RFC 1939) mock listening on implicit TLS.
type POP3Server struct {
	Addr string
	Host string
	Port int

	mu       sync.Mutex
	opts     POP3Options
	commands []string
	sessions int
}

// NewPOP3Server starts a POP3S mock. It is closed by t.Cleanup.
func NewPOP3Server(t testing.TB, opts POP3Options) *POP3Server {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", ServerTLSConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	host, port := SplitHostPort(t, ln.Addr().String())
	s := &POP3Server{Addr: ln.Addr().String(), Host: host, Port: port, opts: opts}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()

	return s
}

// AddMessage appends a message to the maildrop for later sessions.
func (s *POP3Server) AddMessage(raw string) {
	s.mu.Lock()
	s.opts.Messages = append(s.opts.Messages, raw)
	s.mu.Unlock()
}

// Commands returns every command verb received, across sessions.
func (s *POP3Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Sessions returns the number of accepted connections.
func (s *POP3Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *POP3Server) handle(conn net.Conn) {
	defer conn.Close()

	// The maildrop is fixed for the session.
	s.mu.Lock()
	s.sessions++
	messages := append([]string(nil), s.opts.Messages...)
	rejectAuth := s.opts.RejectAuth
	s.mu.Unlock()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	writeLine := func(line string) {
		fmt.Fprintf(rw, "%s\r\n", line)
		rw.Flush()
	}

	writeLine("+OK POP3 server ready")

	authed := false
	deleted := map[int]bool{}

	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToUpper(fields[0])

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		idx := 0
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &idx)
		}

		switch cmd {
		case "USER":
			writeLine("+OK")

		case "PASS":
			if rejectAuth {
				writeLine("-ERR auth failed")
				continue
			}
			authed = true
			writeLine("+OK Logged in")

		case "LIST":
			if !authed {
				writeLine("-ERR not authenticated")
				continue
			}
			writeLine("+OK")
			for i, m := range messages {
				if !deleted[i+1] {
					writeLine(fmt.Sprintf("%d %d", i+1, len(m)))
				}
			}
			writeLine(".")

		case "RETR":
			if !authed {
				writeLine("-ERR not authenticated")
				continue
			}
			if idx < 1 || idx > len(messages) || deleted[idx] {
				writeLine("-ERR no such message")
				continue
			}
			writeLine("+OK")
			for _, dataLine := range strings.Split(messages[idx-1], "\r\n") {
				if strings.HasPrefix(dataLine, ".") {
					writeLine("." + dataLine)
				} else {
					writeLine(dataLine)
				}
			}
			writeLine(".")

		case "DELE":
			if !authed {
				writeLine("-ERR not authenticated")
				continue
			}
			deleted[idx] = true
			writeLine("+OK")

		case "QUIT":
			writeLine("+OK Bye")
			return

		default:
			writeLine("-ERR unknown command")
		}
	}
}
