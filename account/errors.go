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
)

type ErrorKind int

const (
	KindConnection ErrorKind = iota
	KindTLS
	KindProtocol
	KindAuthentication
	KindTransportIO
)

var (
	ErrConnection     = errors.New("connection error")
	ErrTLS            = errors.New("tls error")
	ErrProtocol       = errors.New("protocol error")
	ErrAuthentication = errors.New("authentication error")
	ErrTransportIO    = errors.New("transport error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindTLS:
		return ErrTLS
	case KindProtocol:
		return ErrProtocol
	case KindAuthentication:
		return ErrAuthentication
	case KindTransportIO:
		return ErrTransportIO
	default:
		panic("invalid error kind")
	}
}

func (k ErrorKind) String() string {
	return k.sentinel().Error()
}

// Error is a failed poll step. It matches its kind's sentinel via errors.Is.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Msg)
	}

	return fmt.Sprintf("%v: %v: %v", e.Kind, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Kind == kind
}
