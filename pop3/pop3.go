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
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/emersion/go-sasl"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/auth"
	"github.com/vs49688/mailbiff/transport"
)

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
	}).Trace("pop3_state_change")
}

// Poll runs one full session against the account and returns the number of
// messages in the maildrop as unread. POP3 has no notion of seen messages,
// so read is always zero.
func (c *Client) Poll(ctx context.Context, acc *account.Config) (int, int, error) {
	s := &session{
		client: c,
		acc:    acc,
		logger: c.logger.WithField("account", acc.Name),
	}

	unread, read, err := s.run(ctx)
	s.quit()

	if err != nil {
		c.setState(acc, StateFailed)
		s.logger.WithError(err).Trace("pop3_poll_failed")
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

	// Released by quit, so a stalled QUIT still honours ctx.
	s.release = s.conn.CloseOnDone(ctx)

	if err := s.greeting(); err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateGreetingReceived)

	if !s.conn.IsEncrypted() {
		if err := s.capabilities(); err != nil {
			return 0, 0, err
		}
		s.client.setState(s.acc, StateCapabilitiesQueried)

		if s.stls {
			if err := s.startTLS(ctx); err != nil {
				return 0, 0, err
			}
			s.client.setState(s.acc, StateTLSUpgraded)
		}
	}

	if err := s.authenticate(); err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateAuthenticated)

	unread, err := s.stat()
	if err != nil {
		return 0, 0, err
	}
	s.client.setState(s.acc, StateCountsRetrieved)

	return unread, 0, nil
}

// response validates a single status line, returning the text after the
// status indicator.
func response(line string) (string, error) {
	switch {
	case strings.HasPrefix(line, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	case strings.HasPrefix(line, "-ERR"):
		return "", account.NewError(account.KindProtocol, fmt.Sprintf("server replied %q", line))
	default:
		return "", account.NewError(account.KindProtocol, fmt.Sprintf("malformed response %q", line))
	}
}

func (s *session) readResponse() (string, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return "", err
	}

	return response(line)
}

func (s *session) command(line string) (string, error) {
	if err := s.conn.WriteLine(line); err != nil {
		return "", err
	}

	return s.readResponse()
}

func (s *session) greeting() error {
	line, err := s.conn.ReadLine()
	if err != nil {
		return err
	}

	if _, err := response(line); err != nil {
		return err
	}

	if challenge, ok := auth.APOPChallenge(line); ok {
		s.apopChallenge = challenge
		s.logger.Trace("pop3_apop_eligible")
	}

	return nil
}

func (s *session) capabilities() error {
	if _, err := s.command("CAPA"); err != nil {
		if account.IsKind(err, account.KindProtocol) {
			s.logger.WithError(err).Info("pop3_capa_unsupported")
			return nil
		}
		return err
	}

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return err
		}

		if line == "." {
			break
		}

		fields := strings.Fields(strings.ToUpper(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "STLS":
			s.stls = true
		case "SASL":
			for _, mech := range fields[1:] {
				if mech == auth.CRAMMD5 {
					s.cramMD5 = true
				}
			}
		}
	}

	s.logger.WithFields(log.Fields{
		"stls":     s.stls,
		"cram_md5": s.cramMD5,
	}).Trace("pop3_capabilities")
	return nil
}

func (s *session) startTLS(ctx context.Context) error {
	if _, err := s.command("STLS"); err != nil {
		if account.IsKind(err, account.KindProtocol) {
			return account.WrapError(account.KindTLS, "stls rejected", err)
		}
		return account.WrapError(account.KindTLS, "stls failed", err)
	}

	return s.conn.StartTLS(ctx)
}

type method struct {
	name    string
	enabled bool
	fn      func() error
}

func (s *session) authenticate() error {
	methods := []method{
		{name: "cram-md5", enabled: s.cramMD5, fn: s.authCRAMMD5},
		{name: "apop", enabled: s.apopChallenge != "" && !s.acc.Protocol.IsEncrypted(), fn: s.authAPOP},
		{name: "plain", enabled: true, fn: s.authPlain},
	}

	var tried []string
	for _, m := range methods {
		if !m.enabled {
			continue
		}

		tried = append(tried, m.name)
		err := m.fn()
		if err == nil {
			s.logger.WithField("method", m.name).Trace("pop3_authenticated")
			return nil
		}

		// Only a rejection moves on to the next method. A dead transport
		// ends the session.
		if !account.IsKind(err, account.KindProtocol) {
			return err
		}

		s.logger.WithFields(log.Fields{
			"method": m.name,
			"error":  err,
		}).Info("pop3_auth_rejected")
	}

	return account.NewError(account.KindAuthentication, fmt.Sprintf("all methods rejected (%v)", strings.Join(tried, ", ")))
}

func (s *session) authCRAMMD5() error {
	return s.authSASL(auth.NewCRAMMD5Client(s.acc.User, s.acc.Password))
}

// authSASL drives an RFC 5034 AUTH exchange for the given mechanism.
func (s *session) authSASL(client sasl.Client) error {
	mech, ir, err := client.Start()
	if err != nil {
		return account.WrapError(account.KindProtocol, "sasl start failed", err)
	}

	cmd := "AUTH " + mech
	if len(ir) > 0 {
		cmd += " " + base64.StdEncoding.EncodeToString(ir)
	}

	if err := s.conn.WriteLine(cmd); err != nil {
		return err
	}

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return err
		}

		if !strings.HasPrefix(line, "+ ") && line != "+" {
			_, err := response(line)
			return err
		}

		challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(line, "+")))
		if err != nil {
			return s.cancelSASL(account.WrapError(account.KindProtocol, "invalid sasl challenge", err))
		}

		resp, err := client.Next(challenge)
		if err != nil {
			return s.cancelSASL(account.WrapError(account.KindProtocol, "sasl exchange failed", err))
		}

		if err := s.conn.WriteLine(base64.StdEncoding.EncodeToString(resp)); err != nil {
			return err
		}
	}
}

func (s *session) cancelSASL(cause error) error {
	if _, err := s.command("*"); err != nil && !account.IsKind(err, account.KindProtocol) {
		return err
	}

	return cause
}

func (s *session) authAPOP() error {
	_, err := s.command(fmt.Sprintf("APOP %v %v", s.acc.User, auth.APOPDigest(s.apopChallenge, s.acc.Password)))
	return err
}

func (s *session) authPlain() error {
	if _, err := s.command("USER " + s.acc.User); err != nil {
		return err
	}

	_, err := s.command("PASS " + s.acc.Password)
	return err
}

func (s *session) stat() (int, error) {
	text, err := s.command("STAT")
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, account.NewError(account.KindProtocol, fmt.Sprintf("malformed stat response %q", text))
	}

	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return 0, account.NewError(account.KindProtocol, fmt.Sprintf("malformed stat count %q", fields[0]))
	}

	return count, nil
}

// quit ends the session. QUIT is only attempted on a live connection, the
// socket is closed regardless. Cancelling ctx still aborts a stalled QUIT.
func (s *session) quit() {
	if s.conn == nil {
		return
	}

	if s.conn.IsConnected() {
		if _, err := s.command("QUIT"); err != nil {
			s.logger.WithError(err).Trace("pop3_quit_failed")
		}
	}

	s.conn.Close()
	s.release()
	s.client.setState(s.acc, StateDisconnected)
}
