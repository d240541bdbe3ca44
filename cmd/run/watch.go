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
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/cmd/config"
)

type passwordUpdater interface {
	UpdatePassword(name string, password string) bool
}

// configWatcher watches the directories holding the configuration and
// password files. Directories are watched rather than files so that
// editors replacing a file by rename are still seen.
type configWatcher struct {
	watcher       *fsnotify.Watcher
	dirs          map[string]struct{}
	configPath    string
	passwordFiles map[string][]string

	configChanged bool
	pending       map[string]struct{}
}

func newConfigWatcher(cfg *config.Configuration) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &configWatcher{
		watcher: watcher,
		dirs:    map[string]struct{}{},
		pending: map[string]struct{}{},
	}

	if err := w.Update(cfg); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return w, nil
}

func (w *configWatcher) Close() error {
	return w.watcher.Close()
}

func (w *configWatcher) add(path string) error {
	dir := filepath.Dir(path)
	if _, ok := w.dirs[dir]; ok {
		return nil
	}

	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.dirs[dir] = struct{}{}
	log.WithField("dir", dir).Trace("watch_added")
	return nil
}

// Update switches the watcher to a new configuration.
func (w *configWatcher) Update(cfg *config.Configuration) error {
	w.configPath = ""
	if cfg.ConfigPath != "-" {
		w.configPath = filepath.Clean(cfg.ConfigPath)
		if err := w.add(w.configPath); err != nil {
			return err
		}
	}

	w.passwordFiles = make(map[string][]string, len(cfg.PasswordFiles))
	for path, names := range cfg.PasswordFiles {
		path = filepath.Clean(path)
		w.passwordFiles[path] = append(w.passwordFiles[path], names...)
		if err := w.add(path); err != nil {
			return err
		}
	}

	return nil
}

// Observe records an event and reports whether it concerns a watched file.
func (w *configWatcher) Observe(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}

	name := filepath.Clean(ev.Name)
	if w.configPath != "" && name == w.configPath {
		w.configChanged = true
		log.WithFields(log.Fields{"file": name, "op": ev.Op}).Debug("watch_config_changed")
		return true
	}

	if _, ok := w.passwordFiles[name]; ok {
		w.pending[name] = struct{}{}
		log.WithFields(log.Fields{"file": name, "op": ev.Op}).Debug("watch_password_changed")
		return true
	}

	return false
}

// Flush applies the changes seen since the last flush. It returns true if
// the configuration itself changed and a full reload is needed. Password
// file changes are otherwise pushed to their accounts.
func (w *configWatcher) Flush(m passwordUpdater) bool {
	pending := w.pending
	w.pending = map[string]struct{}{}

	if w.configChanged {
		w.configChanged = false
		return true
	}

	for path := range pending {
		password, err := config.ReadPasswordFile(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("password_reload_failed")
			continue
		}

		for _, name := range w.passwordFiles[path] {
			if m.UpdatePassword(name, password) {
				log.WithField("account", name).Info("password_updated")
			}
		}
	}

	return false
}
