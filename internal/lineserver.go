/*
 * MailBiff - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package internal

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// LineServer is a scripted CRLF line server. Every accepted connection
// is handed to the handler, the connection is closed when it returns.
// Close waits for all handlers to finish.
type LineServer struct {
	Addr string
	Host string
	Port uint16

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions int
}

type Session struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// NewLineServer starts a server on localhost. If tlsConfig is non-nil,
// connections are encrypted from the start.
func NewLineServer(t *testing.T, tlsConfig *tls.Config, handler func(s *Session)) *LineServer {
	l, err := net.Listen("tcp", "localhost:0")
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	if tlsConfig != nil {
		l = tls.NewListener(l, tlsConfig)
	}

	host, portString, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portString)

	ls := &LineServer{
		Addr:     l.Addr().String(),
		Host:     host,
		Port:     uint16(port),
		listener: l,
	}

	t.Cleanup(ls.Close)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			ls.mu.Lock()
			ls.sessions++
			ls.mu.Unlock()

			ls.wg.Add(1)
			go func() {
				defer ls.wg.Done()
				defer conn.Close()
				handler(&Session{t: t, conn: conn, reader: bufio.NewReader(conn)})
			}()
		}
	}()

	return ls
}

// Sessions returns the number of accepted connections.
func (ls *LineServer) Sessions() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.sessions
}

func (ls *LineServer) Close() {
	_ = ls.listener.Close()
	ls.wg.Wait()
}

// WriteLine sends one line. Failures are ignored, scripts routinely write
// to clients that have already given up.
func (s *Session) WriteLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.conn, format+"\r\n", args...)
}

func (s *Session) ReadLine() (string, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// Expect reads one line and asserts its content.
func (s *Session) Expect(want string) bool {
	line, err := s.ReadLine()
	if !assert.NoError(s.t, err) {
		return false
	}

	return assert.Equal(s.t, want, line)
}

// ExpectPrefix reads one line, asserts its prefix and returns it.
func (s *Session) ExpectPrefix(prefix string) (string, bool) {
	line, err := s.ReadLine()
	if !assert.NoError(s.t, err) {
		return "", false
	}

	return line, assert.True(s.t, strings.HasPrefix(line, prefix), "%q does not start with %q", line, prefix)
}

// StartTLS upgrades the server side of the connection.
func (s *Session) StartTLS(cfg *tls.Config) bool {
	tc := tls.Server(s.conn, cfg)
	if err := tc.Handshake(); !assert.NoError(s.t, err) {
		return false
	}

	s.conn = tc
	s.reader = bufio.NewReader(tc)
	return true
}

// Drain reads until the client closes the connection.
func (s *Session) Drain() {
	for {
		if _, err := s.ReadLine(); err != nil {
			return
		}
	}
}
