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

package pop3

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
	StateGreetingReceived
	StateCapabilitiesQueried
	StateTLSUpgraded
	StateAuthenticated
	StateCountsRetrieved
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateGreetingReceived:
		return "greeting_received"
	case StateCapabilitiesQueried:
		return "capabilities_queried"
	case StateTLSUpgraded:
		return "tls_upgraded"
	case StateAuthenticated:
		return "authenticated"
	case StateCountsRetrieved:
		return "counts_retrieved"
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

// Client polls a single POP3 account. Polls on one Client must not overlap.
type Client struct {
	tlsConfig *tls.Config
	timeout   time.Duration
	logger    *log.Entry

	state int32
}

type session struct {
	client *Client
	acc    *account.Config
	conn   *transport.Conn
	logger *log.Entry
	// release stops the cancellation watcher on conn.
	release func()

	apopChallenge string
	cramMD5       bool
	stls          bool
}
