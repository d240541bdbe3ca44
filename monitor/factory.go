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

package monitor

import (
	"crypto/tls"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/imap"
	"github.com/vs49688/mailbiff/pop3"
	"github.com/vs49688/mailbiff/transport"
	"github.com/vs49688/mailbiff/worker"
)

var errUnsupportedProtocol = errors.New("unsupported protocol")

// NewFactory returns a Factory dispatching on the account protocol. Every
// poller shares the base TLS configuration and timeout.
func NewFactory(tlsConfig *tls.Config, timeout time.Duration) Factory {
	return func(cfg *account.Config) (worker.Poller, error) {
		logger := log.WithField("protocol", cfg.Protocol)

		switch {
		case cfg.Protocol.IsIMAP():
			return imap.NewClient(&imap.Config{
				TLSConfig: tlsConfig,
				Timeout:   timeout,
				Logger:    logger,
			}), nil
		case cfg.Protocol == account.ProtocolPOP3 || cfg.Protocol == account.ProtocolPOP3S:
			return pop3.NewClient(&pop3.Config{
				TLSConfig: tlsConfig,
				Timeout:   timeout,
				Logger:    logger,
			}), nil
		default:
			return nil, errUnsupportedProtocol
		}
	}
}

// DefaultFactory uses the system roots and the default transport timeout.
var DefaultFactory = NewFactory(nil, transport.DefaultTimeout)
