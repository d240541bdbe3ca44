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
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/internal"
)

func newTestClient() *Client {
	return NewClient(&Config{Timeout: 2 * time.Second})
}

func memoryAccount(t *testing.T, addr string) *account.Config {
	host, port := internal.SplitHostPort(t, addr)
	return &account.Config{
		Name:            "acct2",
		Protocol:        account.ProtocolIMAP4,
		Host:            host,
		Port:            port,
		User:            "username",
		Password:        "password",
		Mailbox:         "INBOX",
		AllowSelfSigned: true,
	}
}

func scriptedAccount(srv *internal.LineServer) *account.Config {
	return &account.Config{
		Name:            "acct2",
		Protocol:        account.ProtocolIMAP4,
		Host:            srv.Host,
		Port:            srv.Port,
		User:            "tim",
		Password:        "secret",
		Mailbox:         "INBOX",
		AllowSelfSigned: true,
	}
}

func TestPollMemoryServer(t *testing.T) {
	_, addr, mailbox := internal.BuildTestIMAPServer(t)
	internal.AddTestMessage(mailbox)
	internal.AddTestMessage(mailbox, goimap.SeenFlag)
	internal.AddTestMessage(mailbox, goimap.FlaggedFlag)

	c := newTestClient()
	unread, read, err := c.Poll(context.Background(), memoryAccount(t, addr))
	assert.NoError(t, err)
	assert.Equal(t, 2, unread)
	assert.Equal(t, 1, read)
	assert.Equal(t, StateDone, c.State())

	// The tag counter carries over to the next poll.
	tag := c.tag
	_, _, err = c.Poll(context.Background(), memoryAccount(t, addr))
	assert.NoError(t, err)
	assert.Equal(t, (tag+4)%maxTag, c.tag)
}

func TestPollMemoryServerEmpty(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	unread, read, err := newTestClient().Poll(context.Background(), memoryAccount(t, addr))
	assert.NoError(t, err)
	assert.Equal(t, 0, unread)
	assert.Equal(t, 0, read)
}

func TestPollMemoryServerSTARTTLS(t *testing.T) {
	srv, addr, mailbox := internal.BuildTestIMAPServer(t)
	srv.TLSConfig = internal.NewSelfSignedTLSConfig(t)
	internal.AddTestMessage(mailbox)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.TraceLevel)

	c := NewClient(&Config{Timeout: 2 * time.Second, Logger: log.NewEntry(logger)})
	unread, read, err := c.Poll(context.Background(), memoryAccount(t, addr))
	assert.NoError(t, err)
	assert.Equal(t, 1, unread)
	assert.Equal(t, 0, read)

	upgraded := false
	for _, e := range hook.AllEntries() {
		if e.Message == "imap_state_change" && e.Data["to"] == StateTLSUpgraded {
			upgraded = true
		}
	}
	assert.True(t, upgraded)
}

func TestPollMemoryServerBadPassword(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	acc := memoryAccount(t, addr)
	acc.Password = "wrong"

	c := newTestClient()
	unread, read, err := c.Poll(context.Background(), acc)
	assert.ErrorIs(t, err, account.ErrAuthentication)
	assert.Equal(t, account.Unknown, unread)
	assert.Equal(t, account.Unknown, read)
	assert.Equal(t, StateFailed, c.State())
}

func TestPollMemoryServerMissingMailbox(t *testing.T) {
	_, addr, _ := internal.BuildTestIMAPServer(t)

	acc := memoryAccount(t, addr)
	acc.Mailbox = "Nonexistent"

	_, _, err := newTestClient().Poll(context.Background(), acc)
	assert.ErrorIs(t, err, account.ErrProtocol)
}

func TestPollScripted(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK [CAPABILITY IMAP4rev1 AUTH=PLAIN] Dovecot ready.")

		if !s.Expect(`A001 LOGIN "tim" "secret"`) {
			return
		}
		s.WriteLine("A001 OK Logged in")

		if !s.Expect(`A002 SELECT "INBOX"`) {
			return
		}
		s.WriteLine(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
		s.WriteLine("* 10 EXISTS")
		s.WriteLine("* 0 RECENT")
		s.WriteLine("A002 OK [READ-WRITE] Select completed")

		if !s.Expect("A003 SEARCH UNSEEN") {
			return
		}
		s.WriteLine("* SEARCH 3 5 9")
		s.WriteLine("A003 OK Search completed")

		if !s.Expect("A004 LOGOUT") {
			return
		}
		s.WriteLine("* BYE Logging out")
		s.WriteLine("A004 OK Logout completed")
	})

	unread, read, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.NoError(t, err)
	assert.Equal(t, 3, unread)
	assert.Equal(t, 7, read)
}

func TestPollScriptedNoUnseen(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* ok imap4rev1 ready")

		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A001 OK")

		if _, ok := s.ExpectPrefix("A002 SELECT "); !ok {
			return
		}
		s.WriteLine("* 5 EXISTS")
		s.WriteLine("A002 OK")

		if !s.Expect("A003 SEARCH UNSEEN") {
			return
		}
		s.WriteLine("* SEARCH")
		s.WriteLine("A003 OK")

		s.Drain()
	})

	unread, read, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.NoError(t, err)
	assert.Equal(t, 0, unread)
	assert.Equal(t, 5, read)
}

func TestPollGreetingFailures(t *testing.T) {
	tests := []struct {
		name     string
		greeting string
	}{
		{"not_untagged", "A001 OK IMAP4rev1"},
		{"not_ok", "* BYE IMAP4rev1 too many connections"},
		{"not_imap", "* OK POP3 ready"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
				s.WriteLine(tt.greeting)
				s.Drain()
			})

			_, _, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
			assert.ErrorIs(t, err, account.ErrProtocol)
		})
	}
}

func TestPollTagMismatch(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK IMAP4rev1 ready")
		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A007 OK")
		s.Drain()
	})

	_, _, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.ErrorIs(t, err, account.ErrProtocol)
}

func TestPollMissingExists(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK IMAP4rev1 ready")
		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A001 OK")
		if _, ok := s.ExpectPrefix("A002 SELECT "); !ok {
			return
		}
		s.WriteLine("A002 OK")
		s.Drain()
	})

	_, _, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.ErrorIs(t, err, account.ErrProtocol)
}

func TestPollSTARTTLSRejected(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK [CAPABILITY IMAP4rev1 STARTTLS] ready")

		if !s.Expect("A001 STARTTLS") {
			return
		}
		s.WriteLine("A001 BAD not today")

		// Credentials must never follow a failed upgrade.
		if !s.Expect("A002 LOGOUT") {
			return
		}
		s.WriteLine("A002 OK")
	})

	_, _, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.ErrorIs(t, err, account.ErrTLS)
}

func TestPollSTARTTLSNoAcknowledgement(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK [CAPABILITY IMAP4rev1 STARTTLS] ready")
		s.Expect("A001 STARTTLS")
	})

	_, _, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.ErrorIs(t, err, account.ErrTLS)
}

func TestPollIMAPS(t *testing.T) {
	srv := internal.NewLineServer(t, internal.NewSelfSignedTLSConfig(t), func(s *internal.Session) {
		// STARTTLS is ignored on an encrypted connection.
		s.WriteLine("* OK [CAPABILITY IMAP4rev1 STARTTLS] ready")
		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A001 OK")
		if _, ok := s.ExpectPrefix("A002 SELECT "); !ok {
			return
		}
		s.WriteLine("* 2 EXISTS")
		s.WriteLine("A002 OK")
		if !s.Expect("A003 SEARCH UNSEEN") {
			return
		}
		s.WriteLine("* SEARCH 2")
		s.WriteLine("A003 OK")
		s.Drain()
	})

	acc := scriptedAccount(srv)
	acc.Protocol = account.ProtocolIMAPS

	unread, read, err := newTestClient().Poll(context.Background(), acc)
	assert.NoError(t, err)
	assert.Equal(t, 1, unread)
	assert.Equal(t, 1, read)
}

func TestPollReadClamped(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK IMAP4rev1 ready")
		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A001 OK")
		if _, ok := s.ExpectPrefix("A002 SELECT "); !ok {
			return
		}
		s.WriteLine("* 1 EXISTS")
		s.WriteLine("A002 OK")
		if !s.Expect("A003 SEARCH UNSEEN") {
			return
		}
		s.WriteLine("* SEARCH 1 2")
		s.WriteLine("A003 OK")
		s.Drain()
	})

	unread, read, err := newTestClient().Poll(context.Background(), scriptedAccount(srv))
	assert.NoError(t, err)
	assert.Equal(t, 2, unread)
	assert.Equal(t, 0, read)
}

func TestPollCancelledDuringLogout(t *testing.T) {
	logoutSent := make(chan struct{})
	release := make(chan struct{})
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK IMAP4rev1 ready")
		if _, ok := s.ExpectPrefix("A001 LOGIN "); !ok {
			return
		}
		s.WriteLine("A001 OK")
		if _, ok := s.ExpectPrefix("A002 SELECT "); !ok {
			return
		}
		s.WriteLine("A002 NO busy")

		if !s.Expect("A003 LOGOUT") {
			return
		}
		close(logoutSent)
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-logoutSent:
		case <-time.After(5 * time.Second):
		}
		cancel()
	}()

	c := NewClient(&Config{Timeout: 10 * time.Second})

	start := time.Now()
	_, _, err := c.Poll(ctx, scriptedAccount(srv))
	assert.ErrorIs(t, err, account.ErrProtocol)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateFailed, c.State())
}

func TestMailboxEncoding(t *testing.T) {
	srv := internal.NewLineServer(t, nil, func(s *internal.Session) {
		s.WriteLine("* OK IMAP4rev1 ready")
		if !s.Expect(`A001 LOGIN "t\"im" "se\\cret"`) {
			return
		}
		s.WriteLine("A001 OK")
		if !s.Expect(`A002 SELECT "Entw&APw-rfe"`) {
			return
		}
		s.WriteLine("A002 NO no such mailbox")
		s.Drain()
	})

	acc := scriptedAccount(srv)
	acc.User = `t"im`
	acc.Password = `se\cret`
	acc.Mailbox = "Entwürfe"

	_, _, err := newTestClient().Poll(context.Background(), acc)
	assert.ErrorIs(t, err, account.ErrProtocol)
}

func TestTagWrap(t *testing.T) {
	c := newTestClient()
	assert.Equal(t, "A001", c.nextTag())

	c.tag = 998
	assert.Equal(t, "A999", c.nextTag())
	assert.Equal(t, "A000", c.nextTag())
	assert.Equal(t, "A001", c.nextTag())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "mailbox_selected", StateMailboxSelected.String())
	assert.Panics(t, func() { _ = State(-1).String() })
}
