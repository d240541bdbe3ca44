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

package config

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/99designs/keyring"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/monitor"
)

func useTestKeyring(t *testing.T, items ...keyring.Item) *keyring.ArrayKeyring {
	ring := keyring.NewArrayKeyring(items)

	old := OpenKeyring
	OpenKeyring = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { OpenKeyring = old })

	return ring
}

func expectedAccounts() []account.Config {
	return []account.Config{
		{
			Name:            "acct1",
			Protocol:        account.ProtocolPOP3S,
			Host:            "pop.example.com",
			User:            "user1",
			Password:        "direct_password",
			AllowSelfSigned: true,
		},
		{
			Name:            "acct2",
			Protocol:        account.ProtocolIMAP4,
			Host:            "imap.example.com",
			Port:            1143,
			User:            "user2",
			Password:        "password",
			Mailbox:         "Lists/Go",
			AllowSelfSigned: true,
		},
		{
			Name:     "acct3",
			Protocol: account.ProtocolIMAPS,
			Host:     "imap.example.com",
			User:     "user3",
			Password: "ringpass",
			Mailbox:  "Archive",
		},
	}
}

func TestConfiguration_Resolve(t *testing.T) {
	for _, file := range []string{"config.toml", "config.yaml", "config.json"} {
		t.Run(file, func(t *testing.T) {
			useTestKeyring(t, keyring.Item{Key: "acct3", Data: []byte("ringpass")})

			cfg := DefaultConfig()
			cfg.ConfigPath = path.Join("testdata", file)

			err := cfg.Resolve()
			if !assert.NoError(t, err) {
				t.FailNow()
			}

			assert.Equal(t, 5*time.Minute, cfg.ResolvedPollInterval)
			assert.Equal(t, "debug", cfg.LogLevel)
			assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
			assert.Equal(t, expectedAccounts(), cfg.ResolvedAccounts)
			assert.Equal(t, map[string][]string{"testdata/testpass.txt": {"acct2"}}, cfg.PasswordFiles)
		})
	}
}

func TestConfiguration_ResolveErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConfigPath = "testdata/nonexistent.toml"
		assert.Error(t, cfg.Resolve())
	})

	t.Run("duplicate", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConfigPath = "testdata/duplicate.toml"
		assert.ErrorIs(t, cfg.Resolve(), errDuplicateName)
	})

	t.Run("no_accounts", func(t *testing.T) {
		p := path.Join(t.TempDir(), "empty.yaml")
		assert.NoError(t, os.WriteFile(p, []byte("poll_interval: 1m\n"), 0600))

		cfg := DefaultConfig()
		cfg.ConfigPath = p
		assert.ErrorIs(t, cfg.Resolve(), errNoAccounts)
	})

	t.Run("keyring_missing", func(t *testing.T) {
		useTestKeyring(t)

		cfg := DefaultConfig()
		cfg.ConfigPath = "testdata/config.toml"
		assert.ErrorIs(t, cfg.Resolve(), keyring.ErrKeyNotFound)
	})
}

func TestConfiguration_Reload(t *testing.T) {
	p := path.Join(t.TempDir(), "config.toml")
	write := func(body string) {
		assert.NoError(t, os.WriteFile(p, []byte(body), 0600))
	}

	write("[[accounts]]\nname = \"a\"\nurl = \"pop3://u@host\"\npassword = \"x\"\n")

	cfg := DefaultConfig()
	cfg.ConfigPath = p
	if !assert.NoError(t, cfg.Resolve()) {
		t.FailNow()
	}
	assert.Len(t, cfg.ResolvedAccounts, 1)

	write("poll_interval = \"90\"\n[[accounts]]\nname = \"b\"\nurl = \"imap://u@host\"\npassword = \"y\"\n" +
		"[[accounts]]\nname = \"c\"\nurl = \"pop3://u@host\"\npassword = \"z\"\n")

	next, err := cfg.Reload()
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	assert.Equal(t, 90*time.Second, next.ResolvedPollInterval)
	assert.Len(t, next.ResolvedAccounts, 2)
	assert.Equal(t, "b", next.ResolvedAccounts[0].Name)
	assert.Equal(t, DefaultMailbox, next.ResolvedAccounts[0].Mailbox)

	// The original is untouched.
	assert.Len(t, cfg.ResolvedAccounts, 1)
}

func getTestAccountConfig() AccountConfig {
	return AccountConfig{
		Name:     "acct",
		URL:      "imaps://user@imap.hostname.com:1234/INBOX",
		Password: "password",
	}
}

func TestAccountConfig_Resolve(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		cfg := getTestAccountConfig()

		acc, err := cfg.Resolve()
		assert.NoError(t, err)
		assert.Equal(t, account.Config{
			Name:            "acct",
			Protocol:        account.ProtocolIMAPS,
			Host:            "imap.hostname.com",
			Port:            1234,
			User:            "user",
			Password:        "password",
			Mailbox:         "INBOX",
			AllowSelfSigned: true,
		}, acc)
	})

	t.Run("overrides", func(t *testing.T) {
		cfg := getTestAccountConfig()
		cfg.Host = "other.hostname.com"
		cfg.Port = 993
		cfg.Username = "someone"
		cfg.Mailbox = "Junk"
		cfg.Debug = true
		allow := false
		cfg.AllowSelfSigned = &allow

		acc, err := cfg.Resolve()
		assert.NoError(t, err)
		assert.Equal(t, "other.hostname.com", acc.Host)
		assert.Equal(t, uint16(993), acc.Port)
		assert.Equal(t, "someone", acc.User)
		assert.Equal(t, "Junk", acc.Mailbox)
		assert.False(t, acc.AllowSelfSigned)
		assert.True(t, acc.Debug)
	})

	t.Run("plain_protocols", func(t *testing.T) {
		cfg := AccountConfig{Name: "acct", Protocol: "pop3", Host: "pop.example.com", Password: "p"}

		acc, err := cfg.Resolve()
		assert.NoError(t, err)
		assert.Equal(t, account.ProtocolPOP3, acc.Protocol)
		assert.False(t, acc.AllowSelfSigned)
		assert.Equal(t, "", acc.Mailbox)
		assert.Equal(t, "pop.example.com:110", acc.HostPort())

		cfg = AccountConfig{Name: "acct", URL: "imap://user@imap.example.com", Password: "p"}
		acc, err = cfg.Resolve()
		assert.NoError(t, err)
		assert.Equal(t, account.ProtocolIMAP4, acc.Protocol)
		assert.Equal(t, DefaultMailbox, acc.Mailbox)
	})

	t.Run("invalid_scheme", func(t *testing.T) {
		cfg := getTestAccountConfig()
		cfg.URL = "smtp://user@mail.example.com"

		_, err := cfg.Resolve()
		assert.ErrorIs(t, err, errInvalidScheme)
	})

	t.Run("invalid_protocol", func(t *testing.T) {
		cfg := AccountConfig{Name: "acct", Protocol: "nntp", Host: "news.example.com", Password: "p"}

		_, err := cfg.Resolve()
		assert.Error(t, err)
	})

	t.Run("missing_host", func(t *testing.T) {
		cfg := AccountConfig{Name: "acct", Protocol: "pop3s", Password: "p"}

		_, err := cfg.Resolve()
		assert.Error(t, err)
	})

	t.Run("passwords", func(t *testing.T) {
		t.Run("password_file", func(t *testing.T) {
			cfg := getTestAccountConfig()
			cfg.Password = ""
			cfg.PasswordFile = "testdata/testpass.txt"

			acc, err := cfg.Resolve()
			assert.NoError(t, err)
			assert.Equal(t, "password", acc.Password)
		})

		t.Run("systemd_credential", func(t *testing.T) {
			t.Setenv("CREDENTIALS_DIRECTORY", "testdata")

			cfg := getTestAccountConfig()
			cfg.Password = ""
			cfg.SystemdCredential = "testpass.txt"

			acc, err := cfg.Resolve()
			assert.NoError(t, err)
			assert.Equal(t, "password", acc.Password)
		})

		t.Run("systemd_credential_invalid", func(t *testing.T) {
			cwd, err := os.Getwd()
			if !assert.NoError(t, err) {
				t.FailNow()
			}

			t.Setenv("CREDENTIALS_DIRECTORY", path.Join(cwd, "testdata"))

			cfg := getTestAccountConfig()
			cfg.Password = ""
			cfg.SystemdCredential = "../testpass.txt"

			_, err = cfg.Resolve()
			assert.ErrorIs(t, err, errInvalidCredName)
		})

		t.Run("systemd_credential_unset", func(t *testing.T) {
			t.Setenv("CREDENTIALS_DIRECTORY", "")

			cfg := getTestAccountConfig()
			cfg.Password = ""
			cfg.SystemdCredential = "testpass.txt"

			_, err := cfg.Resolve()
			assert.ErrorIs(t, err, errNoCredentialDir)
		})

		t.Run("keyring", func(t *testing.T) {
			useTestKeyring(t, keyring.Item{Key: "acct", Data: []byte("from_keyring")})

			cfg := getTestAccountConfig()
			cfg.Password = ""
			cfg.Keyring = true

			acc, err := cfg.Resolve()
			assert.NoError(t, err)
			assert.Equal(t, "from_keyring", acc.Password)
		})

		t.Run("none", func(t *testing.T) {
			cfg := getTestAccountConfig()
			cfg.Password = ""

			_, err := cfg.Resolve()
			assert.ErrorIs(t, err, errNoPassword)
		})
	})
}

func TestKeyringRoundTrip(t *testing.T) {
	ring := useTestKeyring(t)

	assert.NoError(t, SetKeyringPassword("acct", "hunter2"))

	item, err := ring.Get("acct")
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", string(item.Data))

	pw, err := GetKeyringPassword("acct")
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}

func TestParseInterval(t *testing.T) {
	d, err := parseInterval("")
	assert.NoError(t, err)
	assert.Equal(t, monitor.DefaultPollInterval, d)

	d, err = parseInterval("360")
	assert.NoError(t, err)
	assert.Equal(t, 6*time.Minute, d)

	d, err = parseInterval("1m30s")
	assert.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseInterval("-5s")
	assert.Error(t, err)

	_, err = parseInterval("soon")
	assert.Error(t, err)
}

func TestApplyLogging(t *testing.T) {
	logger := log.New()

	cfg := DefaultConfig()
	cfg.LogLevel = "trace"
	cfg.LogFormat = "json"
	cfg.ApplyLogging(logger)

	assert.Equal(t, log.TraceLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	// A reload back to text replaces the json formatter.
	next := DefaultConfig()
	next.LogLevel = "warn"
	next.ApplyLogging(logger)

	assert.Equal(t, log.WarnLevel, logger.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, logger.Formatter)
}

func TestNewMonitor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolvedPollInterval = time.Minute
	cfg.ResolvedAccounts = expectedAccounts()

	m, err := cfg.NewMonitor(nil)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	defer m.Close()

	assert.Equal(t, time.Minute, m.PollInterval())
	assert.Len(t, m.Statuses(), 3)
	assert.Equal(t, "acct3", m.Statuses()[2].Name)
}
