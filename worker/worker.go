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

package worker

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
)

// New starts a worker for the account at index. Results are delivered on
// results until the worker is closed.
func New(index int, cfg *account.Config, poller Poller, results chan<- account.Result) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		index:   index,
		poller:  poller,
		results: results,
		cfg:     *cfg,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		hasQuit: make(chan struct{}),
	}

	go w.run()
	return w
}

func (w *Worker) Index() int {
	return w.index
}

func (w *Worker) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Name
}

func (w *Worker) isShutdown() bool {
	return atomic.LoadInt32(&w.shutdown) != 0
}

// Trigger requests a poll. At most one request is kept pending, so a
// trigger during a running poll schedules exactly one more. It returns
// false if the request was dropped.
func (w *Worker) Trigger() bool {
	if w.isShutdown() {
		return false
	}

	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		w.log().Trace("worker_trigger_coalesced")
		return false
	}
}

// UpdatePassword replaces the password used from the next poll on.
func (w *Worker) UpdatePassword(password string) {
	w.mu.Lock()
	w.cfg.Password = password
	w.mu.Unlock()

	w.log().Trace("worker_password_updated")
}

func (w *Worker) config() account.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Close cancels any poll in progress and waits up to timeout for the
// goroutine to exit. A goroutine stuck past the timeout is abandoned and
// false is returned.
func (w *Worker) Close(timeout time.Duration) bool {
	atomic.StoreInt32(&w.shutdown, 1)
	w.cancel()

	select {
	case <-w.hasQuit:
		w.log().Trace("worker_closed")
		return true
	case <-time.After(timeout):
		w.log().WithField("timeout", timeout).Warn("worker_forced_termination")
		return false
	}
}

func (w *Worker) log() *log.Entry {
	return log.WithFields(log.Fields{
		"index":   w.index,
		"account": w.Name(),
	})
}

func (w *Worker) run() {
	defer close(w.hasQuit)
	w.log().Trace("worker_proc_enter")

	for {
		select {
		case <-w.ctx.Done():
			w.log().Trace("worker_proc_exit")
			return
		case <-w.trigger:
		}

		cfg := w.config()

		start := time.Now()
		unread, read, err := w.poller.Poll(w.ctx, &cfg)
		if w.ctx.Err() != nil {
			w.log().Trace("worker_poll_abandoned")
			return
		}

		w.log().WithFields(log.Fields{
			"unread":   unread,
			"read":     read,
			"error":    err,
			"duration": time.Since(start),
		}).Trace("worker_poll_complete")

		res := account.Result{Index: w.index, Unread: unread, Read: read, Err: err}
		if err != nil {
			res.Unread, res.Read = account.Unknown, account.Unknown
		}

		select {
		case w.results <- res:
		case <-w.ctx.Done():
			w.log().Trace("worker_result_dropped")
			return
		}
	}
}
