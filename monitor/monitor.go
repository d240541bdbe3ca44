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

package monitor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/worker"
)

var (
	errNoFactory = errors.New("no poller factory configured")
	errClosed    = errors.New("monitor is closed")
)

func New(cfg *Config) (*Monitor, error) {
	if cfg.Factory == nil {
		return nil, errNoFactory
	}

	m := &Monitor{
		factory:        cfg.Factory,
		tick:           cfg.Tick,
		joinTimeout:    cfg.JoinTimeout,
		updates:        cfg.Updates,
		results:        make(chan account.Result),
		running:        1,
		wantQuit:       make(chan struct{}),
		hasQuit:        make(chan struct{}),
		stopDispatch:   make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}

	if m.tick <= 0 {
		m.tick = DefaultTick
	}

	if m.joinTimeout <= 0 {
		m.joinTimeout = DefaultJoinTimeout
	}

	m.UpdatePollInterval(cfg.PollInterval)

	go m.dispatch()
	return m, nil
}

func (m *Monitor) isRunning() bool {
	return atomic.LoadInt32(&m.running) != 0
}

// RegisterAccount starts a worker for the account and returns its index.
// Indices are never reused.
func (m *Monitor) RegisterAccount(cfg account.Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return -1, err
	}

	poller, err := m.factory(&cfg)
	if err != nil {
		return -1, fmt.Errorf("%v: %w", cfg.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning() {
		return -1, errClosed
	}

	index := len(m.workers)
	m.statuses = append(m.statuses, account.NewStatus(cfg.Name))
	m.workers = append(m.workers, worker.New(index, &cfg, poller, m.results))

	log.WithFields(log.Fields{
		"index":    index,
		"account":  cfg.Name,
		"protocol": cfg.Protocol,
		"host":     cfg.HostPort(),
	}).Info("monitor_account_registered")

	return index, nil
}

// Trigger asks every worker to poll now.
func (m *Monitor) Trigger() {
	m.mu.Lock()
	workers := append([]*worker.Worker(nil), m.workers...)
	m.mu.Unlock()

	log.WithField("accounts", len(workers)).Trace("monitor_poll_cycle")
	for _, w := range workers {
		w.Trigger()
	}
}

// UpdatePollInterval changes the interval used from the next sleep on.
func (m *Monitor) UpdatePollInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	atomic.StoreInt64(&m.pollInterval, int64(interval))
}

func (m *Monitor) PollInterval() time.Duration {
	return time.Duration(atomic.LoadInt64(&m.pollInterval))
}

// UpdatePassword hands a new password to the named account's worker. It
// returns false if no such account is registered.
func (m *Monitor) UpdatePassword(name string, password string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, st := range m.statuses {
		if st.Name == name {
			m.workers[i].UpdatePassword(password)
			return true
		}
	}

	return false
}

// Start runs the monitor loop in the background.
func (m *Monitor) Start() {
	go m.Run()
}

// Run polls all accounts every poll interval until halted, then shuts the
// workers down.
func (m *Monitor) Run() {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return
	}
	defer close(m.hasQuit)

	log.Trace("monitor_proc_enter")
	for m.isRunning() {
		m.Trigger()
		m.sleep()
	}

	m.shutdown()
	log.Trace("monitor_proc_exit")
}

// sleep waits for one poll interval in tick sized steps, returning early
// once the monitor is halted.
func (m *Monitor) sleep() {
	interval := m.PollInterval()
	for elapsed := time.Duration(0); elapsed < interval && m.isRunning(); elapsed += m.tick {
		select {
		case <-time.After(m.tick):
		case <-m.wantQuit:
			return
		}
	}
}

// Done is closed once the monitor has shut down.
func (m *Monitor) Done() <-chan struct{} {
	return m.hasQuit
}

// Halt requests the loop to stop. It does not wait.
func (m *Monitor) Halt() {
	m.haltOnce.Do(func() {
		m.mu.Lock()
		atomic.StoreInt32(&m.running, 0)
		m.mu.Unlock()

		close(m.wantQuit)
		log.Trace("monitor_halt_requested")
	})
}

// Close halts the monitor and waits for the shutdown to complete.
func (m *Monitor) Close() {
	m.Halt()

	if atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		m.shutdown()
		close(m.hasQuit)
	}

	<-m.hasQuit
}

func (m *Monitor) shutdown() {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		workers := append([]*worker.Worker(nil), m.workers...)
		m.mu.Unlock()

		closeAndWait(m.joinTimeout, workers...)

		close(m.stopDispatch)
		<-m.dispatcherDone
	})
}

// closeAndWait closes all workers in parallel, so the total wait stays
// bounded by a single timeout.
func closeAndWait(timeout time.Duration, workers ...*worker.Worker) {
	ch := make(chan bool, len(workers))
	for _, w := range workers {
		go func(w *worker.Worker) { ch <- w.Close(timeout) }(w)
	}

	forced := 0
	for range workers {
		if !<-ch {
			forced++
		}
	}

	if forced > 0 {
		log.WithField("count", forced).Warn("monitor_workers_abandoned")
	}
}

func (m *Monitor) dispatch() {
	defer close(m.dispatcherDone)

	for {
		select {
		case res := <-m.results:
			if res.Err != nil {
				m.handleError(res.Index, res.Err)
			} else {
				m.handleResult(res.Index, res.Unread, res.Read)
			}
		case <-m.stopDispatch:
			return
		}
	}
}

func (m *Monitor) handleResult(index int, unread int, read int) {
	m.mu.Lock()
	if index < 0 || index >= len(m.statuses) {
		m.mu.Unlock()
		log.WithField("index", index).Error("monitor_unknown_account")
		return
	}

	st := &m.statuses[index]
	st.LastError = ""

	if st.Unread == unread && st.Read == read {
		m.mu.Unlock()
		return
	}

	st.Unread, st.Read = unread, read
	u := &StateUpdate{Accounts: m.snapshotLocked()}
	m.mu.Unlock()

	u.State = aggregate(u.Accounts)
	u.Summary = summarize(u.Accounts)

	log.WithFields(log.Fields{
		"index":   index,
		"account": u.Accounts[index].Name,
		"unread":  unread,
		"read":    read,
		"state":   u.State,
	}).Info("monitor_counts_changed")

	m.emit(u)
}

func (m *Monitor) handleError(index int, err error) {
	m.mu.Lock()
	if index < 0 || index >= len(m.statuses) {
		m.mu.Unlock()
		log.WithField("index", index).Error("monitor_unknown_account")
		return
	}

	st := &m.statuses[index]
	st.LastError = err.Error()
	u := &ErrorUpdate{
		Index:   index,
		Account: st.Name,
		Message: st.LastError,
		State:   StateStopped,
	}
	m.mu.Unlock()

	log.WithError(err).WithFields(log.Fields{
		"index":   index,
		"account": u.Account,
	}).Warn("monitor_poll_failed")

	m.emit(u)
}

func (m *Monitor) emit(u Update) {
	if m.updates == nil {
		return
	}

	select {
	case m.updates <- u:
	case <-m.stopDispatch:
	}
}

func (m *Monitor) snapshotLocked() []account.Status {
	return append([]account.Status(nil), m.statuses...)
}

// Statuses returns a copy of the status table, in registration order.
func (m *Monitor) Statuses() []account.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) State() State {
	return aggregate(m.Statuses())
}

func (m *Monitor) Summary() string {
	return summarize(m.Statuses())
}

func aggregate(statuses []account.Status) State {
	state := StateNoMail
	for _, st := range statuses {
		if st.Unread > 0 {
			return StateNewMail
		}

		if st.Read > 0 {
			state = StateOldMail
		}
	}

	return state
}

// SummaryLine formats one account as "<name> <unread>/<read>".
func SummaryLine(st *account.Status) string {
	return fmt.Sprintf("%-6s %2d/%2d", st.Name, st.Unread, st.Read)
}

func summarize(statuses []account.Status) string {
	lines := make([]string, 0, len(statuses))
	for i := range statuses {
		lines = append(lines, SummaryLine(&statuses[i]))
	}

	return strings.Join(lines, "\n")
}
