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
	"crypto/tls"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds connects, handshakes and every single line read.
const DefaultTimeout = 10 * time.Second

// DefaultMaxLineLength bounds a single received line, terminator included.
// A SEARCH reply for a very large mailbox still fits.
const DefaultMaxLineLength = 1 << 20

type Config struct {
	HostPort string
	// Encrypted connects with TLS from the start.
	Encrypted bool
	// AllowSelfSigned disables certificate verification for this
	// connection only.
	AllowSelfSigned bool
	// TLSConfig is cloned before use, it may be nil.
	TLSConfig *tls.Config
	Timeout   time.Duration
	// MaxLineLength defaults to DefaultMaxLineLength.
	MaxLineLength int
	// Debug traces every line at debug level.
	Debug  bool
	Logger *log.Entry
}

type Conn struct {
	cfg    Config
	logger *log.Entry

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	encrypted bool
	closed    bool
}
