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
	"errors"
	"time"

	"github.com/vs49688/mailbiff/account"
)

var (
	errInvalidScheme   = errors.New("invalid uri scheme")
	errNoAccounts      = errors.New("no accounts configured")
	errNoPassword      = errors.New("at least one of \"password\", \"password_file\", \"systemd_credential\" or \"keyring\" is required")
	errNoCredentialDir = errors.New("CREDENTIALS_DIRECTORY is not set")
	errInvalidCredName = errors.New("invalid systemd credential name")
	errDuplicateName   = errors.New("duplicate account name")
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultMailbox   = "INBOX"
)

type AccountConfig struct {
	Name              string `json:"name" toml:"name" yaml:"name"`
	URL               string `json:"url" toml:"url" yaml:"url"`
	Protocol          string `json:"protocol" toml:"protocol" yaml:"protocol"`
	Host              string `json:"host" toml:"host" yaml:"host"`
	Port              uint16 `json:"port" toml:"port" yaml:"port"`
	Username          string `json:"username" toml:"username" yaml:"username"`
	Password          string `json:"password" toml:"password" yaml:"password"`
	PasswordFile      string `json:"password_file" toml:"password_file" yaml:"password_file"`
	SystemdCredential string `json:"systemd_credential" toml:"systemd_credential" yaml:"systemd_credential"`
	Keyring           bool   `json:"keyring" toml:"keyring" yaml:"keyring"`
	Mailbox           string `json:"mailbox" toml:"mailbox" yaml:"mailbox"`
	// AllowSelfSigned defaults to true for POP3S and IMAPS.
	AllowSelfSigned *bool `json:"allow_self_signed" toml:"allow_self_signed" yaml:"allow_self_signed"`
	Debug           bool  `json:"debug" toml:"debug" yaml:"debug"`
}

type Configuration struct {
	ConfigPath string `json:"-" toml:"-" yaml:"-"`

	// PollInterval is a Go duration, or a plain number of seconds.
	PollInterval string          `json:"poll_interval" toml:"poll_interval" yaml:"poll_interval"`
	LogLevel     string          `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFormat    string          `json:"log_format" toml:"log_format" yaml:"log_format"`
	Accounts     []AccountConfig `json:"accounts" toml:"accounts" yaml:"accounts"`

	ResolvedPollInterval time.Duration    `json:"-" toml:"-" yaml:"-"`
	ResolvedAccounts     []account.Config `json:"-" toml:"-" yaml:"-"`
	// PasswordFiles maps each password file to the accounts reading it.
	PasswordFiles map[string][]string `json:"-" toml:"-" yaml:"-"`
}
