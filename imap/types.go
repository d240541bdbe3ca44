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

package imap

import (
	"crypto/tls"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/transport"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateGreetingValidated
	StateTLSUpgraded
	StateLoggedIn
	StateMailboxSelected
	StateSearchCompleted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateGreetingValidated:
		return "greeting_validated"
	case StateTLSUpgraded:
		return "tls_upgraded"
	case StateLoggedIn:
		return "logged_in"
	case StateMailboxSelected:
		return "mailbox_selected"
	case StateSearchCompleted:
		return "search_completed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		panic("invalid_state")
	}
}

type Config struct {
	// TLSConfig is the base TLS configuration, it may be nil.
	TLSConfig *tls.Config
	Timeout   time.Duration
	Logger    *log.Entry
}

// Client polls a single IMAP account. Polls on one Client must not overlap.
type Client struct {
	tlsConfig *tls.Config
	timeout   time.Duration
	logger    *log.Entry

	state int32

	// tag is the number of the last tag sent. It survives across polls.
	tag int
}

type session struct {
	client *Client
	acc    *account.Config
	conn   *transport.Conn
	logger *log.Entry
	// release stops the cancellation watcher on conn.
	release func()

	starttls bool
}
