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

package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailbiff/cmd/config"
	"github.com/vs49688/mailbiff/monitor"
)

const DefaultTimeout = 60 * time.Second

var errTimeout = errors.New("timed out waiting for accounts")

func RegisterCommand(app *cli.App) *cli.App {
	cfg := config.DefaultConfig()
	timeout := DefaultTimeout

	flags := append(cfg.Parameters(), &cli.DurationFlag{
		Name:        "timeout",
		Aliases:     []string{"t"},
		Usage:       "give up on accounts that have not answered after this long",
		EnvVars:     []string{"MAILBIFF_CHECK_TIMEOUT"},
		Value:       DefaultTimeout,
		Destination: &timeout,
	})

	app.Commands = append(app.Commands, &cli.Command{
		Name:                   "check",
		Usage:                  "Poll every account once and print the summary",
		Flags:                  flags,
		UseShortOptionHandling: true,
		Before: func(context *cli.Context) error {
			return cfg.Resolve()
		},
		Action: func(context *cli.Context) error {
			return check(context, &cfg, timeout)
		},
	})
	return app
}

// pollOnce triggers a single cycle and waits until every account has
// either reported counts or failed. It returns the failure message of each
// failed account.
func pollOnce(ctx context.Context, m *monitor.Monitor, updates <-chan monitor.Update, count int) (map[string]string, error) {
	done := make(map[int]struct{}, count)
	failures := map[string]string{}

	m.Trigger()

	for len(done) < count {
		select {
		case u := <-updates:
			switch u := u.(type) {
			case *monitor.StateUpdate:
				for i := range u.Accounts {
					if u.Accounts[i].Known() {
						done[i] = struct{}{}
					}
				}
			case *monitor.ErrorUpdate:
				done[u.Index] = struct{}{}
				failures[u.Account] = u.Message
			}
		case <-ctx.Done():
			return failures, ctx.Err()
		}
	}

	return failures, nil
}

func report(w io.Writer, m *monitor.Monitor, failures map[string]string) {
	_, _ = fmt.Fprintln(w, m.Summary())
	_, _ = fmt.Fprintf(w, "state: %v\n", m.State())

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(w, "error: %v: %v\n", name, failures[name])
	}
}

func check(ctx *cli.Context, cfg *config.Configuration, timeout time.Duration) error {
	cfg.ApplyLogging(log.StandardLogger())

	updates := make(chan monitor.Update, 2*len(cfg.ResolvedAccounts))
	m, err := cfg.NewMonitor(updates)
	if err != nil {
		return err
	}
	defer m.Close()

	pollCtx, cancel := context.WithTimeout(ctx.Context, timeout)
	defer cancel()

	failures, err := pollOnce(pollCtx, m, updates, len(cfg.ResolvedAccounts))
	report(ctx.App.Writer, m, failures)

	if errors.Is(err, context.DeadlineExceeded) {
		return cli.Exit(fmt.Errorf("%w after %v", errTimeout, timeout), 2)
	} else if err != nil {
		return err
	}

	if len(failures) > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d accounts failed", len(failures), len(cfg.ResolvedAccounts)), 1)
	}

	return nil
}
