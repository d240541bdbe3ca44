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

package setpassword

import (
	"bufio"
	"errors"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailbiff/cmd/config"
)

var errEmptyPassword = errors.New("empty password")

type Config struct {
	Account  string
	Password string
}

func (cfg *Config) Parameters() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "account",
			Aliases:     []string{"a"},
			Usage:       "account name, as used in the configuration file",
			EnvVars:     []string{"MAILBIFF_ACCOUNT"},
			Required:    true,
			Destination: &cfg.Account,
		},
		&cli.StringFlag{
			Name:        "password",
			Usage:       "password to store, read from stdin if omitted",
			EnvVars:     []string{"MAILBIFF_PASSWORD"},
			Destination: &cfg.Password,
		},
	}
}

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &Config{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:   "set-password",
		Usage:  "Store an account password in the system keyring",
		Flags:  cfg.Parameters(),
		Action: func(context *cli.Context) error { return setPassword(context, cfg) },
	})
	return app
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errEmptyPassword
	}

	return password, nil
}

func setPassword(ctx *cli.Context, cfg *Config) error {
	password := cfg.Password
	if password == "" {
		var err error
		if password, err = readPassword(ctx.App.Reader); err != nil {
			return err
		}
	}

	if err := config.SetKeyringPassword(cfg.Account, password); err != nil {
		return err
	}

	log.WithField("account", cfg.Account).Info("password_stored")
	log.Info()
	log.Infof("You may now use it via:\n")
	log.Infof("  keyring = true (under the account named %q)\n", cfg.Account)

	return nil
}
