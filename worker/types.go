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
	"sync"

	"github.com/vs49688/mailbiff/account"
)

//go:generate mockgen -destination=mocks/mock_poller.go -package=mock_worker . Poller

// Poller runs one complete poll of an account. Implementations must honour
// ctx cancellation on every blocking step.
type Poller interface {
	Poll(ctx context.Context, cfg *account.Config) (unread int, read int, err error)
}

// Worker owns the goroutine polling a single account.
type Worker struct {
	index   int
	poller  Poller
	results chan<- account.Result

	mu  sync.Mutex
	cfg account.Config

	trigger  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown int32
	hasQuit  chan struct{}
}
