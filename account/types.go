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

package account

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

type Config struct {
	// Name is the display name of the account. The configuration layer
	// keeps it unique.
	Name     string
	Protocol Protocol
	Host     string
	Port     uint16
	User     string
	Password string
	// Mailbox is the IMAP folder to watch. Ignored for POP3.
	Mailbox         string
	AllowSelfSigned bool
	Debug           bool
}

var (
	errNoName    = errors.New("account name is required")
	errNoHost    = errors.New("account host is required")
	errNoMailbox = errors.New("imap accounts require a mailbox")
	errLineBreak = errors.New("line breaks are not allowed")
)

func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return errNoName
	}

	if !cfg.Protocol.IsValid() {
		return fmt.Errorf("%v: %w", cfg.Name, errInvalidProtocol)
	}

	if cfg.Host == "" {
		return fmt.Errorf("%v: %w", cfg.Name, errNoHost)
	}

	if cfg.Protocol.IsIMAP() && cfg.Mailbox == "" {
		return fmt.Errorf("%v: %w", cfg.Name, errNoMailbox)
	}

	// These end up inside protocol commands.
	for field, v := range map[string]string{"user": cfg.User, "password": cfg.Password, "mailbox": cfg.Mailbox} {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%v: %v: %w", cfg.Name, field, errLineBreak)
		}
	}

	return nil
}

// HostPort returns the dial address, falling back to the protocol's
// default port.
func (cfg *Config) HostPort() string {
	port := cfg.Port
	if port == 0 {
		port = cfg.Protocol.DefaultPort()
	}

	return net.JoinHostPort(cfg.Host, strconv.Itoa(int(port)))
}

// Unknown is the count of an account that was never polled successfully.
const Unknown = -1

type Status struct {
	Name      string
	Unread    int
	Read      int
	LastError string
}

func NewStatus(name string) Status {
	return Status{Name: name, Unread: Unknown, Read: Unknown}
}

// Known reports whether at least one poll has succeeded.
func (s *Status) Known() bool {
	return s.Unread != Unknown || s.Read != Unknown
}

// Result is the outcome of one poll. Exactly one of Err or the counts
// is meaningful.
type Result struct {
	Index  int
	Unread int
	Read   int
	Err    error
}
