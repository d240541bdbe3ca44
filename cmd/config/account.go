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
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vs49688/mailbiff/account"
)

// parseURL fills in the protocol, host, port, user and mailbox from an
// account URL such as imaps://user@imap.example.com:993/INBOX.
func (cfg *AccountConfig) parseURL(acc *account.Config) error {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return err
	}

	switch strings.ToLower(u.Scheme) {
	case "pop3", "pop3s", "imap", "imaps":
	default:
		return errInvalidScheme
	}

	if acc.Protocol, err = account.ParseProtocol(u.Scheme); err != nil {
		return err
	}

	acc.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
		acc.Port = uint16(port)
	}

	if u.User != nil {
		acc.User = u.User.Username()
	}

	if mailbox := strings.TrimPrefix(u.Path, "/"); mailbox != "" {
		acc.Mailbox = mailbox
	}

	return nil
}

// Resolve converts the entry into an account configuration. Explicit
// fields take precedence over the URL.
func (cfg *AccountConfig) Resolve() (account.Config, error) {
	acc := account.Config{Name: cfg.Name}

	if cfg.URL != "" {
		if err := cfg.parseURL(&acc); err != nil {
			return account.Config{}, fmt.Errorf("%v: %w", cfg.Name, err)
		}
	} else {
		p, err := account.ParseProtocol(cfg.Protocol)
		if err != nil {
			return account.Config{}, fmt.Errorf("%v: %w", cfg.Name, err)
		}
		acc.Protocol = p
	}

	if cfg.Host != "" {
		acc.Host = cfg.Host
	}

	if cfg.Port != 0 {
		acc.Port = cfg.Port
	}

	if cfg.Username != "" {
		acc.User = cfg.Username
	}

	if cfg.Mailbox != "" {
		acc.Mailbox = cfg.Mailbox
	}

	if acc.Protocol.IsIMAP() && acc.Mailbox == "" {
		acc.Mailbox = DefaultMailbox
	}

	if cfg.AllowSelfSigned != nil {
		acc.AllowSelfSigned = *cfg.AllowSelfSigned
	} else {
		acc.AllowSelfSigned = acc.Protocol.IsEncrypted()
	}

	acc.Debug = cfg.Debug

	password, err := cfg.resolvePassword()
	if err != nil {
		return account.Config{}, fmt.Errorf("%v: %w", cfg.Name, err)
	}
	acc.Password = password

	if err := acc.Validate(); err != nil {
		return account.Config{}, err
	}

	return acc, nil
}

func (cfg *AccountConfig) resolvePassword() (string, error) {
	switch {
	case cfg.Password != "":
		return cfg.Password, nil
	case cfg.PasswordFile != "":
		return ReadPasswordFile(cfg.PasswordFile)
	case cfg.SystemdCredential != "":
		return readSystemdCredential(cfg.SystemdCredential)
	case cfg.Keyring:
		return GetKeyringPassword(cfg.Name)
	default:
		return "", errNoPassword
	}
}

// ReadPasswordFile reads a password, ignoring surrounding whitespace.
func ReadPasswordFile(path string) (string, error) {
	pass, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(pass)), nil
}

func readSystemdCredential(name string) (string, error) {
	dir := os.Getenv("CREDENTIALS_DIRECTORY")
	if dir == "" {
		return "", errNoCredentialDir
	}

	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", errInvalidCredName, name)
	}

	return ReadPasswordFile(filepath.Join(dir, name))
}
