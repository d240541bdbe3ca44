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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/monitor"
)

func DefaultConfig() Configuration {
	return Configuration{
		ConfigPath: "config.toml",
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
	}
}

func (cfg *Configuration) Parameters() []cli.Flag {
	def := DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to configuration file (.toml, .yaml, .json), or '-' to read json from stdin",
			EnvVars:     []string{"MAILBIFF_CONFIG"},
			Value:       def.ConfigPath,
			Destination: &cfg.ConfigPath,
		},
	}
}

func (cfg *Configuration) decode(raw []byte) error {
	switch strings.ToLower(filepath.Ext(cfg.ConfigPath)) {
	case ".toml":
		_, err := toml.Decode(string(raw), cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, cfg)
	default:
		return json.Unmarshal(raw, cfg)
	}
}

// Resolve reads the configuration file and resolves every account,
// including its password.
func (cfg *Configuration) Resolve() error {
	var err error
	var raw []byte

	if cfg.ConfigPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(cfg.ConfigPath)
	}

	if err != nil {
		return err
	}

	if err := cfg.decode(raw); err != nil {
		return fmt.Errorf("%v: %w", cfg.ConfigPath, err)
	}

	if cfg.ResolvedPollInterval, err = parseInterval(cfg.PollInterval); err != nil {
		return err
	}

	if len(cfg.Accounts) == 0 {
		return errNoAccounts
	}

	names := make(map[string]struct{}, len(cfg.Accounts))
	cfg.ResolvedAccounts = make([]account.Config, 0, len(cfg.Accounts))
	cfg.PasswordFiles = map[string][]string{}
	for i := range cfg.Accounts {
		acc, err := cfg.Accounts[i].Resolve()
		if err != nil {
			return err
		}

		if _, ok := names[acc.Name]; ok {
			return fmt.Errorf("%v: %w", acc.Name, errDuplicateName)
		}
		names[acc.Name] = struct{}{}

		if pf := cfg.Accounts[i].PasswordFile; pf != "" && cfg.Accounts[i].Password == "" {
			cfg.PasswordFiles[pf] = append(cfg.PasswordFiles[pf], acc.Name)
		}

		cfg.ResolvedAccounts = append(cfg.ResolvedAccounts, acc)
	}

	return nil
}

// Reload resolves a fresh copy of the configuration from the same file.
func (cfg *Configuration) Reload() (*Configuration, error) {
	next := DefaultConfig()
	next.ConfigPath = cfg.ConfigPath

	if err := next.Resolve(); err != nil {
		return nil, err
	}

	return &next, nil
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return monitor.DefaultPollInterval, nil
	}

	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval: %w", err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval: %v", s)
	}

	return d, nil
}

func (cfg *Configuration) ApplyLogging(logger *log.Logger) {
	logLevel, err := log.ParseLevel(cfg.LogLevel)
	if err == nil {
		logger.SetLevel(logLevel)
	}

	// Applied again on reload, so text must be restored explicitly.
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{})
	}
}

// NewMonitor builds a monitor with every resolved account registered. The
// monitor is not started.
func (cfg *Configuration) NewMonitor(updates chan<- monitor.Update) (*monitor.Monitor, error) {
	m, err := monitor.New(&monitor.Config{
		PollInterval: cfg.ResolvedPollInterval,
		Factory:      monitor.DefaultFactory,
		Updates:      updates,
	})
	if err != nil {
		return nil, err
	}

	for _, acc := range cfg.ResolvedAccounts {
		if _, err := m.RegisterAccount(acc); err != nil {
			m.Close()
			return nil, err
		}
	}

	return m, nil
}
