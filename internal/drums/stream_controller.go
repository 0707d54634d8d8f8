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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/sirupsen/logrus"
)

// DefaultFallbackDelay is how long a device change waits for the
// platform's own stream error before forcing a restart
const DefaultFallbackDelay = 500 * time.Millisecond

// State is the lifecycle state of the output stream
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateRecovering
	// StateFailed means a reopen failed; no stream exists until an
	// explicit restart or the next device change succeeds
	StateFailed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateListener is notified after every state change, outside the controller lock
type StateListener func(state State, outputReset bool)

// ControllerConfig configures a StreamController
type ControllerConfig struct {
	Stream        audio.StreamConfig
	FallbackDelay time.Duration
	Timers        TimerService
	OnStateChange StateListener
}

// StreamController owns the output stream: it opens it, recovers it after
// platform errors and device changes, and tears it down. All methods run
// on control goroutines; the render path never takes its lock.
type StreamController struct {
	mu      sync.Mutex
	backend audio.AudioBackend
	mixer   *Mixer
	cfg     ControllerConfig

	state              State
	stream             audio.StreamInterface
	backendReady       bool
	devicesInitialized bool
	pending            Timer
	generation         uint64
	events             []State

	// set when the engine closed the stream on its own after a stream error
	outputReset atomic.Bool
}

// NewStreamController creates a controller in StateUninitialized
func NewStreamController(backend audio.AudioBackend, mixer *Mixer, cfg ControllerConfig) *StreamController {
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = DefaultFallbackDelay
	}
	if cfg.Timers == nil {
		cfg.Timers = RealTimerService{}
	}
	return &StreamController{
		backend: backend,
		mixer:   mixer,
		cfg:     cfg,
	}
}

// State returns the current lifecycle state
func (c *StreamController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OutputReset reports whether the engine closed the stream after a stream error
func (c *StreamController) OutputReset() bool {
	return c.outputReset.Load()
}

// ClearOutputReset acknowledges an output reset
func (c *StreamController) ClearOutputReset() {
	c.outputReset.Store(false)
}

// Setup establishes the stream. It is a no-op while a stream is active
// and reopens after a teardown or a failed recovery.
func (c *StreamController) Setup() error {
	c.mu.Lock()
	defer c.unlock()

	if c.state == StateActive {
		return nil
	}
	c.cancelPendingLocked()

	c.closeStreamLocked()
	c.mixer.Reset()
	if err := c.reopenLocked(); err != nil {
		if c.state != StateUninitialized && c.state != StateTornDown {
			c.setStateLocked(StateFailed)
		}
		return err
	}
	c.outputReset.Store(false)
	c.setStateLocked(StateActive)

	logrus.WithFields(logrus.Fields{
		"function":          "Setup",
		"sample_rate":       c.cfg.Stream.SampleRate,
		"frames_per_buffer": c.cfg.Stream.FramesPerBuffer,
	}).Info("🥁 Audio stream started")
	return nil
}

// Teardown stops and releases the stream. It is safe in any state and
// invalidates any pending device-change fallback.
func (c *StreamController) Teardown() error {
	c.mu.Lock()
	defer c.unlock()

	c.cancelPendingLocked()
	wasSetUp := c.state != StateUninitialized && c.state != StateTornDown
	if wasSetUp {
		c.closeStreamLocked()
		c.mixer.Reset()
		c.outputReset.Store(false)
		c.setStateLocked(StateTornDown)
	}

	var err error
	if c.backendReady {
		c.backendReady = false
		if termErr := c.backend.Terminate(); termErr != nil {
			err = fmt.Errorf("failed to terminate audio backend: %w", termErr)
		}
	}

	if wasSetUp {
		logrus.WithField("function", "Teardown").Info("🛑 Audio stream torn down")
	}
	return err
}

// Restart force-closes and reopens the stream
func (c *StreamController) Restart() error {
	c.mu.Lock()
	defer c.unlock()

	if c.state == StateUninitialized || c.state == StateTornDown {
		return ErrNotSetup
	}

	c.cancelPendingLocked()
	return c.restartLocked("restart requested")
}

// OnDevicesAdded handles a device-added notification. The first
// notification after registration is the enumeration snapshot.
func (c *StreamController) OnDevicesAdded(devices []audio.DeviceInfo) {
	c.mu.Lock()
	defer c.unlock()

	if !c.devicesInitialized {
		c.devicesInitialized = true
		logrus.WithFields(logrus.Fields{
			"function": "OnDevicesAdded",
			"devices":  len(devices),
		}).Debug("Initial device enumeration")
		return
	}
	c.deviceChangedLocked("added", devices)
}

// OnDevicesChanged handles a change reported by a source that only sends
// diffs, such as a host device daemon. It is always a change and never
// consumes the enumeration snapshot.
func (c *StreamController) OnDevicesChanged(added, removed []audio.DeviceInfo) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	c.mu.Lock()
	defer c.unlock()

	kind := "added"
	switch {
	case len(added) > 0 && len(removed) > 0:
		kind = "changed"
	case len(removed) > 0:
		kind = "removed"
	}
	c.deviceChangedLocked(kind, append(append([]audio.DeviceInfo(nil), removed...), added...))
}

// OnDevicesRemoved handles a device-removed notification
func (c *StreamController) OnDevicesRemoved(devices []audio.DeviceInfo) {
	c.mu.Lock()
	defer c.unlock()

	c.devicesInitialized = true
	c.deviceChangedLocked("removed", devices)
}

func (c *StreamController) deviceChangedLocked(kind string, devices []audio.DeviceInfo) {
	if c.state == StateUninitialized || c.state == StateTornDown {
		return
	}

	fields := logrus.Fields{
		"function": "deviceChanged",
		"change":   kind,
		"devices":  len(devices),
	}

	// The stream error path already recovered from this change
	if c.outputReset.CompareAndSwap(true, false) && c.state != StateFailed {
		logrus.WithFields(fields).Debug("Device change already handled by stream error")
		return
	}

	if c.pending != nil {
		return
	}

	gen := c.generation
	c.pending = c.cfg.Timers.AfterFunc(c.cfg.FallbackDelay, func() {
		c.fallback(gen)
	})
	logrus.WithFields(fields).Info("🔌 Output device changed, waiting for stream error")
}

// fallback runs on a timer goroutine after a device change
func (c *StreamController) fallback(gen uint64) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.generation {
		return
	}
	c.pending = nil

	if c.state == StateUninitialized || c.state == StateTornDown {
		return
	}
	if c.outputReset.Load() {
		return
	}

	_ = c.restartLocked("device change fallback")
}

// handleStreamError is the backend's ErrorFunc. It runs on a non-real-time goroutine.
func (c *StreamController) handleStreamError(stream audio.StreamInterface, streamErr error) {
	c.mu.Lock()
	defer c.unlock()

	if stream != c.stream || c.state != StateActive {
		logrus.WithFields(logrus.Fields{
			"function": "handleStreamError",
			"error":    streamErr.Error(),
		}).Debug("Ignoring error from a stale stream")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleStreamError",
		"error":    streamErr.Error(),
	}).Warn("⚠️ Audio stream failed, reopening")

	c.setStateLocked(StateRecovering)
	c.closeStreamLocked()
	c.mixer.Reset()
	c.outputReset.Store(true)

	if err := c.reopenLocked(); err != nil {
		c.failLocked(err)
		return
	}
	c.setStateLocked(StateActive)
}

func (c *StreamController) restartLocked(reason string) error {
	c.setStateLocked(StateRecovering)
	c.closeStreamLocked()
	c.mixer.Reset()

	if err := c.reopenLocked(); err != nil {
		c.failLocked(err)
		return err
	}
	c.setStateLocked(StateActive)

	logrus.WithFields(logrus.Fields{
		"function": "restart",
		"reason":   reason,
	}).Info("🔄 Audio stream restarted")
	return nil
}

func (c *StreamController) failLocked(err error) {
	c.setStateLocked(StateFailed)
	logrus.WithFields(logrus.Fields{
		"function": "reopen",
		"error":    err.Error(),
	}).Error("❌ Failed to reopen audio stream")
}

// reopenLocked refreshes the backend's device table, when it keeps one,
// and opens a new stream on the current default device
func (c *StreamController) reopenLocked() error {
	if r, ok := c.backend.(audio.Reinitializer); ok && c.backendReady {
		if err := r.Reinitialize(); err != nil {
			if !errors.Is(err, audio.ErrStreamsOpen) {
				c.backendReady = false
				return fmt.Errorf("failed to reinitialize audio backend: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "reopen",
				"error":    err.Error(),
			}).Warn("⚠️ Reopening without refreshing devices")
		}
	}
	if !c.backendReady {
		if err := c.backend.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}
		c.backendReady = true
	}
	return c.openLocked()
}

func (c *StreamController) openLocked() error {
	stream, err := c.backend.OpenOutputStream(c.cfg.Stream, c.mixer.Render, c.handleStreamError)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close() // Ignore errors during cleanup
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	c.stream = stream
	return nil
}

// closeStreamLocked stops before closing so no render is in flight once the stream is released
func (c *StreamController) closeStreamLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeStream",
			"error":    err.Error(),
		}).Debug("Stream stop failed")
	}
	if err := c.stream.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeStream",
			"error":    err.Error(),
		}).Debug("Stream close failed")
	}
	c.stream = nil
}

func (c *StreamController) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.generation++
}

func (c *StreamController) setStateLocked(s State) {
	if s == c.state {
		return
	}
	c.state = s
	c.events = append(c.events, s)
}

// unlock releases the lock and then notifies the listener of queued state changes
func (c *StreamController) unlock() {
	events := c.events
	c.events = nil
	c.mu.Unlock()

	if c.cfg.OnStateChange == nil {
		return
	}
	reset := c.outputReset.Load()
	for _, s := range events {
		c.cfg.OnStateChange(s, reset)
	}
}
