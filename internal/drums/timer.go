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

package drums

import "time"

// Timer is a scheduled one-shot callback
type Timer interface {
	// Stop prevents the callback from running if it has not started yet
	Stop() bool
}

// TimerService schedules closures on a non-real-time goroutine. Closures
// inspect engine state when they run, not when they are scheduled.
type TimerService interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealTimerService schedules with the runtime timer
type RealTimerService struct{}

// AfterFunc runs f on its own goroutine after d
func (RealTimerService) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
