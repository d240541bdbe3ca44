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

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
)

func Dial(ctx context.Context, cfg *Config) (*Conn, error) {
	c := &Conn{cfg: *cfg}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = DefaultTimeout
	}

	if c.cfg.MaxLineLength <= 0 {
		c.cfg.MaxLineLength = DefaultMaxLineLength
	}

	c.logger = c.cfg.Logger
	if c.logger == nil {
		c.logger = log.NewEntry(log.StandardLogger())
	}
	c.logger = c.logger.WithField("addr", c.cfg.HostPort)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.cfg.HostPort)
	if err != nil {
		if isTimeout(err) {
			return nil, account.WrapError(account.KindConnection, fmt.Sprintf("connection to %v timed out", c.cfg.HostPort), err)
		}
		return nil, account.WrapError(account.KindConnection, fmt.Sprintf("can not connect to %v", c.cfg.HostPort), err)
	}

	c.conn = raw
	c.reader = bufio.NewReader(raw)

	if c.cfg.Encrypted {
		if err := c.handshake(ctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}

	c.logger.WithField("encrypted", c.encrypted).Trace("transport_connected")
	return c, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Conn) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.cfg.TLSConfig != nil {
		cfg = c.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}

	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(c.cfg.HostPort); err == nil {
			cfg.ServerName = host
		}
	}

	if c.cfg.AllowSelfSigned {
		// #nosec G402
		cfg.InsecureSkipVerify = true
	}

	return cfg
}

func (c *Conn) handshake(ctx context.Context) error {
	c.mu.Lock()
	raw := c.conn
	c.mu.Unlock()

	tc := tls.Client(raw, c.tlsConfig())
	if err := tc.HandshakeContext(ctx); err != nil {
		if isTimeout(err) {
			return account.WrapError(account.KindTLS, "tls handshake timed out", err)
		}
		return account.WrapError(account.KindTLS, "tls handshake failed", err)
	}

	c.mu.Lock()
	c.conn = tc
	c.reader = bufio.NewReader(tc)
	c.encrypted = true
	c.mu.Unlock()
	return nil
}

// StartTLS upgrades a plaintext connection in place.
func (c *Conn) StartTLS(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return account.NewError(account.KindTransportIO, "not connected")
	}
	if c.encrypted {
		c.mu.Unlock()
		return account.NewError(account.KindTLS, "connection is already encrypted")
	}
	// Anything pipelined before the handshake was sent in the clear.
	if c.reader.Buffered() > 0 {
		c.mu.Unlock()
		c.Close()
		return account.NewError(account.KindTLS, "unexpected plaintext data before tls handshake")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return err
	}

	c.logger.Trace("transport_starttls_complete")
	return nil
}

func (c *Conn) current() (net.Conn, *bufio.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil
	}
	return c.conn, c.reader
}

// WriteLine appends CRLF and writes the line in a single call. A short
// write closes the connection.
func (c *Conn) WriteLine(line string) error {
	conn, _ := c.current()
	if conn == nil {
		return account.NewError(account.KindTransportIO, "not connected")
	}

	if strings.ContainsAny(line, "\r\n") {
		return account.NewError(account.KindProtocol, "refusing to send a line containing a line break")
	}

	c.trace("transport_write_line", line)

	data := []byte(line + "\r\n")
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	n, err := conn.Write(data)
	if err != nil {
		c.Close()
		return account.WrapError(account.KindTransportIO, "write failed", err)
	}

	if n != len(data) {
		c.Close()
		return account.NewError(account.KindTransportIO, fmt.Sprintf("can not write all data %v of %v", n, len(data)))
	}

	return nil
}

// ReadLine waits for one full line and strips the line terminator.
func (c *Conn) ReadLine() (string, error) {
	conn, reader := c.current()
	if conn == nil {
		return "", account.NewError(account.KindTransportIO, "not connected")
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	line, err := readLimited(reader, c.cfg.MaxLineLength)
	if err != nil {
		c.Close()
		if errors.Is(err, errLineTooLong) {
			return "", account.WrapError(account.KindProtocol, fmt.Sprintf("line exceeds %v bytes", c.cfg.MaxLineLength), err)
		}
		if isTimeout(err) {
			return "", account.WrapError(account.KindTransportIO, "read timed out", err)
		}
		return "", account.WrapError(account.KindTransportIO, "read failed", err)
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	c.trace("transport_read_line", line)
	return line, nil
}

var errLineTooLong = errors.New("line too long")

// readLimited reads up to and including the next '\n', failing once more
// than limit bytes have been seen.
func readLimited(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > limit {
			return "", errLineTooLong
		}
		buf = append(buf, chunk...)

		if err == nil {
			return string(buf), nil
		}

		if !errors.Is(err, bufio.ErrBufferFull) {
			return "", err
		}
	}
}

func (c *Conn) IsConnected() bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return false
	}

	if c.cfg.Encrypted {
		return c.encrypted
	}

	return true
}

func (c *Conn) IsEncrypted() bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted && !c.closed
}

// Close may be called any number of times, from any goroutine.
func (c *Conn) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.logger.Trace("transport_closed")
}

// CloseOnDone closes the connection once ctx is cancelled, unblocking any
// pending read. The returned function releases the watcher.
func (c *Conn) CloseOnDone(ctx context.Context) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.logger.Trace("transport_cancelled")
			c.Close()
		case <-stop:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (c *Conn) trace(event string, line string) {
	if !c.cfg.Debug {
		return
	}

	c.logger.WithField("line", redact(line)).Debug(event)
}

func redact(line string) string {
	if strings.Contains(line, "PASS") || strings.Contains(line, "LOGIN") {
		return "xxxxx"
	}

	return line
}
