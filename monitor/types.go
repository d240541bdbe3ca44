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
	"sync"
	"time"

	"github.com/vs49688/mailbiff/account"
	"github.com/vs49688/mailbiff/worker"
)

const (
	DefaultPollInterval = 360 * time.Second
	DefaultTick         = time.Second
	DefaultJoinTimeout  = time.Second
)

// State is the aggregated classification of all accounts.
type State int

const (
	StateNoMail State = iota
	StateOldMail
	StateNewMail
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNoMail:
		return "no_mail"
	case StateOldMail:
		return "old_mail"
	case StateNewMail:
		return "new_mail"
	case StateStopped:
		return "stopped"
	default:
		panic("invalid_state")
	}
}

// Factory creates the poller for an account.
type Factory func(cfg *account.Config) (worker.Poller, error)

type Config struct {
	PollInterval time.Duration
	// Tick is the granularity of the sleep between cycles.
	Tick time.Duration
	// JoinTimeout bounds the wait for each worker on shutdown.
	JoinTimeout time.Duration
	Factory     Factory
	// Updates receives *StateUpdate and *ErrorUpdate values. It may be nil.
	Updates chan<- Update
}

type Update interface {
	update()
}

// StateUpdate is emitted whenever any account's counts change.
type StateUpdate struct {
	Accounts []account.Status
	State    State
	Summary  string
}

// ErrorUpdate is emitted for every failed poll.
type ErrorUpdate struct {
	Index   int
	Account string
	Message string
	State   State
}

func (*StateUpdate) update() {}
func (*ErrorUpdate) update() {}

type Monitor struct {
	factory      Factory
	tick         time.Duration
	joinTimeout  time.Duration
	pollInterval int64
	updates      chan<- Update

	mu       sync.Mutex
	workers  []*worker.Worker
	statuses []account.Status

	results chan account.Result

	running  int32
	started  int32
	haltOnce sync.Once
	wantQuit chan struct{}
	hasQuit  chan struct{}

	shutdownOnce   sync.Once
	stopDispatch   chan struct{}
	dispatcherDone chan struct{}
}
