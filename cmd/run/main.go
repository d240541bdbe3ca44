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

package run

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailbiff/cmd/config"
	"github.com/vs49688/mailbiff/monitor"
)

const reloadDelay = 500 * time.Millisecond

func RegisterCommand(app *cli.App) *cli.App {
	cfg := config.DefaultConfig()
	watch := false

	flags := append(cfg.Parameters(), &cli.BoolFlag{
		Name:        "watch",
		Aliases:     []string{"w"},
		Usage:       "reload when the configuration or a password file changes",
		EnvVars:     []string{"MAILBIFF_WATCH"},
		Destination: &watch,
	})

	app.Commands = append(app.Commands, &cli.Command{
		Name:                   "run",
		Usage:                  "Monitor all configured accounts",
		Flags:                  flags,
		UseShortOptionHandling: true,
		Before: func(context *cli.Context) error {
			return cfg.Resolve()
		},
		Action: func(context *cli.Context) error {
			return run(context, &cfg, watch)
		},
	})
	return app
}

func start(cfg *config.Configuration, updates chan<- monitor.Update) (*monitor.Monitor, error) {
	m, err := cfg.NewMonitor(updates)
	if err != nil {
		return nil, err
	}

	m.Start()
	return m, nil
}

func run(_ *cli.Context, cfg *config.Configuration, watch bool) error {
	cfg.ApplyLogging(log.StandardLogger())

	log.WithFields(log.Fields{
		"config":        cfg.ConfigPath,
		"poll_interval": cfg.ResolvedPollInterval,
		"accounts":      len(cfg.ResolvedAccounts),
		"log_level":     cfg.LogLevel,
		"log_format":    cfg.LogFormat,
		"watch":         watch,
	}).Info("starting")

	updates := make(chan monitor.Update, 16)

	m, err := start(cfg, updates)
	if err != nil {
		return err
	}
	defer func() { m.Close() }()

	var w *configWatcher
	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	if watch {
		if w, err = newConfigWatcher(cfg); err != nil {
			return err
		}
		defer w.Close()

		events, watchErrors = w.watcher.Events, w.watcher.Errors
	}

	reload := func() {
		next, err := cfg.Reload()
		if err != nil {
			log.WithError(err).Error("config_reload_failed")
			return
		}

		m.Close()

		nm, err := start(next, updates)
		if err != nil {
			log.WithError(err).Error("config_apply_failed")
			if nm, err = start(cfg, updates); err != nil {
				log.WithError(err).Fatal("config_restore_failed")
			}
		} else {
			cfg = next
			next.ApplyLogging(log.StandardLogger())
		}
		m = nm

		if w != nil {
			if err := w.Update(cfg); err != nil {
				log.WithError(err).Warn("watch_update_failed")
			}
		}

		log.WithFields(log.Fields{
			"poll_interval": cfg.ResolvedPollInterval,
			"accounts":      len(cfg.ResolvedAccounts),
		}).Info("config_reloaded")
	}

	sigchan := make(chan os.Signal, 10)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigchan)

	var settle <-chan time.Time
	sigcount := 0
	for {
		select {
		case sig := <-sigchan:
			log.WithFields(log.Fields{"signal": sig, "count": sigcount}).Trace("caught_signal")

			if sig == syscall.SIGHUP {
				log.WithFields(log.Fields{"signal": sig}).Info("received_reload")
				reload()
				continue
			}

			sigcount += 1
			if sigcount > 1 {
				log.WithFields(log.Fields{"signal": sig}).Warn("received_interrupt_force_exit")
				os.Exit(1)
			}
			log.WithFields(log.Fields{"signal": sig}).Info("received_interrupt")

			m.Halt()
		case u := <-updates:
			logUpdate(u)
		case ev := <-events:
			if w.Observe(ev) {
				settle = time.After(reloadDelay)
			}
		case err := <-watchErrors:
			log.WithError(err).Warn("watch_error")
		case <-settle:
			settle = nil
			if w.Flush(m) {
				reload()
			}
		case <-m.Done():
			log.Info("monitor_terminated")
			return nil
		}
	}
}

func logUpdate(u monitor.Update) {
	switch u := u.(type) {
	case *monitor.StateUpdate:
		log.WithFields(log.Fields{
			"state":   u.State,
			"summary": u.Summary,
		}).Info("mail_state")
	case *monitor.ErrorUpdate:
		log.WithFields(log.Fields{
			"index":   u.Index,
			"account": u.Account,
			"error":   u.Message,
			"state":   u.State,
		}).Warn("mail_error")
	}
}
