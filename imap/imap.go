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
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/emersion/go-imap/utf7"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/transport"
)

const maxTag = 1000

func NewClient(cfg *Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Client{
		tlsConfig: cfg.TLSConfig,
		timeout:   cfg.Timeout,
		logger:    logger,
		state:     int32(StateDisconnected),
	}
}

func (c *Client) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(acc *account.Config, s State) {
	old := State(atomic.SwapInt32(&c.state, int32(s)))
	if old == s {
		return
	}

	c.logger.WithFields(log.Fields{
		"account": acc.Name,
		"from":    old,
		"to":      s,
	}).Trace("imap_state_change")
}

func (c *Client) nextTag() string {
	c.tag = (c.tag + 1) % maxTag
	return fmt.Sprintf("A%03d", c.tag)
}

// Poll logs in, selects the configured mailbox and counts unseen messages.
// Everything else in the mailbox is considered read.
func (c *Client) Poll(ctx context.Context, acc *account.Config) (int, int, error) {
	s := &session{
		client: c,
		acc:    acc,
		logger: c.logger.WithField("account", acc.Name),
	}

	unread, read, err := s.run(ctx)
	s.logout()

	if err != nil {
		c.setState(acc, StateFailed)
		s.logger.WithError(err).Trace("imap_poll_failed")
		return account.Unknown, account.Unknown, err
	}

	c.setState(acc, StateDone)
	return unread, read, nil
}

func (s *session) run(ctx context.Context) (int, int, error) {
	var err error

	s.client.setState(s.acc, StateConnecting)
	s.conn, err = transport.Dial(ctx, &transport.Config{
		HostPort:        s.acc.HostPort(),
		Encrypted:       s.acc.Protocol.IsEncrypted(),
		AllowSelfSigned: s.acc.AllowSelfSigned,
		TLSConfig:       s.client.tlsConfig,
		Timeout:         s.client.timeout,
		Debug:           s.acc.Debug,
		Logger:          s.logger,
	})
	if err != nil {
		return 0, 0, err
	}

	// Released by logout, so a stalled LOGOUT still honours ctx.
	s.release = s.conn.CloseOnDone(ctx)

	if err := s.greeting(); err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateGreetingValidated)

	if s.starttls && !s.conn.IsEncrypted() {
		if err := s.startTLS(ctx); err != nil {
			return 0, 0, err
		}
		s.client.setState(s.acc, StateTLSUpgraded)
	}

	if err := s.login(); err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateLoggedIn)

	total, err := s.selectMailbox()
	if err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateMailboxSelected)

	unread, err := s.searchUnseen()
	if err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateSearchCompleted)

	read := total - unread
	if read < 0 {
		read = 0
	}

	return unread, read, nil
}

func (s *session) greeting() error {
	line, err := s.conn.ReadLine()
	if err != nil {
		return err
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "*" || !strings.EqualFold(fields[1], "OK") {
		return account.NewError(account.KindProtocol, fmt.Sprintf("unexpected greeting %q", line))
	}

	isIMAP := false
	for _, f := range fields[2:] {
		if strings.Contains(strings.ToUpper(f), "IMAP") {
			isIMAP = true
		}

		if strings.Trim(f, "[]") == "STARTTLS" {
			s.starttls = true
		}
	}

	if !isIMAP {
		return account.NewError(account.KindProtocol, fmt.Sprintf("not an imap server: %q", line))
	}

	return nil
}

// execute sends a tagged command and reads until its completion, handing
// every untagged line to the callback. It returns the upper-cased status
// of the tagged line.
func (s *session) execute(cmd string, untagged func(fields []string)) (string, error) {
	tag := s.client.nextTag()
	if err := s.conn.WriteLine(tag + " " + cmd); err != nil {
		return "", err
	}

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return "", err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			return "", account.NewError(account.KindProtocol, "empty response line")
		}

		switch fields[0] {
		case "*":
			if untagged != nil {
				untagged(fields)
			}
		case tag:
			if len(fields) < 2 {
				return "", account.NewError(account.KindProtocol, fmt.Sprintf("malformed completion %q", line))
			}
			return strings.ToUpper(fields[1]), nil
		default:
			return "", account.NewError(account.KindProtocol, fmt.Sprintf("unexpected response %q, expected tag %v", line, tag))
		}
	}
}

func (s *session) startTLS(ctx context.Context) error {
	status, err := s.execute("STARTTLS", nil)
	if err != nil {
		return account.WrapError(account.KindTLS, "starttls failed", err)
	}

	if status != "OK" {
		return account.NewError(account.KindTLS, fmt.Sprintf("starttls rejected with %v", status))
	}

	return s.conn.StartTLS(ctx)
}

// quote renders an RFC 3501 quoted string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func (s *session) login() error {
	status, err := s.execute(fmt.Sprintf("LOGIN %v %v", quote(s.acc.User), quote(s.acc.Password)), nil)
	if err != nil {
		return err
	}

	if status != "OK" {
		return account.NewError(account.KindAuthentication, fmt.Sprintf("login rejected with %v", status))
	}

	return nil
}

func (s *session) selectMailbox() (int, error) {
	name, err := utf7.Encoding.NewEncoder().String(s.acc.Mailbox)
	if err != nil {
		return 0, account.WrapError(account.KindProtocol, "invalid mailbox name", err)
	}

	total := -1
	status, err := s.execute("SELECT "+quote(name), func(fields []string) {
		if len(fields) >= 3 && strings.EqualFold(fields[2], "EXISTS") {
			if n, err := strconv.Atoi(fields[1]); err == nil && n >= 0 {
				total = n
			}
		}
	})
	if err != nil {
		return 0, err
	}

	if status != "OK" {
		return 0, account.NewError(account.KindProtocol, fmt.Sprintf("select %v failed with %v", s.acc.Mailbox, status))
	}

	if total < 0 {
		return 0, account.NewError(account.KindProtocol, "select response did not contain EXISTS")
	}

	return total, nil
}

func (s *session) searchUnseen() (int, error) {
	unread := 0
	status, err := s.execute("SEARCH UNSEEN", func(fields []string) {
		if len(fields) >= 2 && strings.EqualFold(fields[1], "SEARCH") {
			unread += len(fields) - 2
		}
	})
	if err != nil {
		return 0, err
	}

	if status != "OK" {
		return 0, account.NewError(account.KindProtocol, fmt.Sprintf("search failed with %v", status))
	}

	return unread, nil
}

// logout ends the session. LOGOUT is only attempted on a live connection,
// the socket is closed regardless.
func (s *session) logout() {
	if s.conn == nil {
		return
	}

	if s.conn.IsConnected() {
		if err := s.drainLogout(); err != nil {
			s.logger.WithError(err).Trace("imap_logout_failed")
		}
	}

	s.conn.Close()
	s.release()
	s.client.setState(s.acc, StateDisconnected)
}

func (s *session) drainLogout() error {
	tag := s.client.nextTag()
	if err := s.conn.WriteLine(tag + " LOGOUT"); err != nil {
		return err
	}

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == tag {
			return nil
		}

		if fields[0] == "*" && len(fields) >= 2 && strings.EqualFold(fields[1], "BYE") {
			return nil
		}
	}
}
