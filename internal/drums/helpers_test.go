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

import (
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
)

// monoSample builds a mono sample from raw values
func monoSample(data ...float32) *samples.Sample {
	return &samples.Sample{Data: data, Channels: 1, Frames: len(data), SampleRate: kit.DefaultSampleRate, Format: "wav"}
}

// centeredKit is the default kit with every voice at unity gain and centre pan
func centeredKit() kit.Kit {
	k := kit.DefaultKit()
	k.FramesPerBuffer = 4
	for i := range k.Voices {
		k.Voices[i].Gain = 1
		k.Voices[i].Pan = 0
	}
	return k
}

// fakeTimerService fires timers only when the test advances its clock
type fakeTimerService struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	svc     *fakeTimerService
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *fakeTimerService) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{svc: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs due callbacks on the caller's goroutine
func (s *fakeTimerService) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending counts timers that are neither stopped nor fired
func (s *fakeTimerService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// Scheduled counts every timer ever scheduled
func (s *fakeTimerService) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// stateRecorder collects state notifications
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listener(state State, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
