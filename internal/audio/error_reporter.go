/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// errorReporter moves stream failures off the real-time context and
// delivers the first one to the stream's ErrorFunc.
type errorReporter struct {
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	fired     atomic.Bool
}

func newErrorReporter() *errorReporter {
	return &errorReporter{
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// report is safe to call from a render callback: it never blocks or allocates
func (r *errorReporter) report(err error) {
	if r.fired.Load() {
		return
	}
	select {
	case r.errs <- err:
	default:
	}
}

// watch runs until the reporter is stopped or an error has been delivered.
// probe, when set, is polled every interval for failures the render path
// cannot see itself.
func (r *errorReporter) watch(stream StreamInterface, onError ErrorFunc, interval time.Duration, probe func() error) {
	var tick <-chan time.Time
	if probe != nil && interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.done:
			return
		case err := <-r.errs:
			r.deliver(stream, onError, err)
			return
		case <-tick:
			if err := probe(); err != nil {
				r.deliver(stream, onError, err)
				return
			}
		}
	}
}

func (r *errorReporter) deliver(stream StreamInterface, onError ErrorFunc, err error) {
	select {
	case <-r.done:
		return
	default:
	}
	if r.fired.CompareAndSwap(false, true) && onError != nil {
		onError(stream, err)
	}
}

func (r *errorReporter) stop() {
	r.closeOnce.Do(func() { close(r.done) })
}
