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
	"strings"
)

type Protocol int

const (
	ProtocolPOP3 Protocol = iota
	ProtocolPOP3S
	ProtocolIMAP4
	ProtocolIMAP3
	ProtocolIMAPS
	protocolLast
)

var errInvalidProtocol = errors.New("invalid protocol")

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "pop3", "pop":
		return ProtocolPOP3, nil
	case "pop3s", "pops":
		return ProtocolPOP3S, nil
	case "imap4", "imap":
		return ProtocolIMAP4, nil
	case "imap3":
		return ProtocolIMAP3, nil
	case "imaps":
		return ProtocolIMAPS, nil
	default:
		return 0, errInvalidProtocol
	}
}

func (p Protocol) IsValid() bool {
	return p >= ProtocolPOP3 && p < protocolLast
}

func (p Protocol) IsIMAP() bool {
	return p == ProtocolIMAP4 || p == ProtocolIMAP3 || p == ProtocolIMAPS
}

// IsEncrypted reports whether the connection is encrypted from the start,
// as opposed to being upgraded in-band.
func (p Protocol) IsEncrypted() bool {
	return p == ProtocolPOP3S || p == ProtocolIMAPS
}

func (p Protocol) DefaultPort() uint16 {
	switch p {
	case ProtocolPOP3:
		return 110
	case ProtocolPOP3S:
		return 995
	case ProtocolIMAP4, ProtocolIMAP3:
		return 143
	case ProtocolIMAPS:
		return 993
	default:
		return 0
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolPOP3:
		return "pop3"
	case ProtocolPOP3S:
		return "pop3s"
	case ProtocolIMAP4:
		return "imap4"
	case ProtocolIMAP3:
		return "imap3"
	case ProtocolIMAPS:
		return "imaps"
	default:
		return "invalid"
	}
}
