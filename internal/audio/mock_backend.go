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
	"fmt"
	"sync"
	"time"
)

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            []*MockStream
	streamCounter      int
	initError          error
	terminateError     error
	openError          error
	openFailures       int
	simulateRealTiming bool
	capturePlayback    bool
	playbackAudioData  [][]float32
	devices            []DeviceInfo
	devicesError       error
	reinitError        error
	reinitCount        int
}

// NewMockAudioBackend creates a new mock audio backend. Streams only render
// when pumped unless real timing is enabled.
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		playbackAudioData: make([][]float32, 0),
	}
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetTerminateError configures the backend to return an error on Terminate()
func (m *MockAudioBackend) SetTerminateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = err
}

// SetOpenError configures every subsequent stream open to fail (nil clears it)
func (m *MockAudioBackend) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
	m.openFailures = 0
}

// FailNextOpens makes the next n stream opens fail with err
func (m *MockAudioBackend) FailNextOpens(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openError = err
	m.openFailures = n
}

// SetSimulateRealTiming makes started streams render on a ticker at the buffer period
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetCapturePlayback records a copy of every rendered buffer
func (m *MockAudioBackend) SetCapturePlayback(capture bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturePlayback = capture
}

// GetPlaybackAudioData returns all audio data that was "played back"
func (m *MockAudioBackend) GetPlaybackAudioData() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.playbackAudioData))
	copy(result, m.playbackAudioData)
	return result
}

// SetDevices replaces the simulated device list
func (m *MockAudioBackend) SetDevices(devices []DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append([]DeviceInfo(nil), devices...)
}

// SetDevicesError makes Devices() fail
func (m *MockAudioBackend) SetDevicesError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesError = err
}

// Devices returns the simulated device list
func (m *MockAudioBackend) Devices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.devicesError != nil {
		return nil, m.devicesError
	}
	return append([]DeviceInfo(nil), m.devices...), nil
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem, closing any open streams
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		err := m.terminateError
		m.mu.Unlock()
		return err
	}
	streams := append([]*MockStream(nil), m.streams...)
	m.mu.Unlock()

	// Stop/Close outside the backend lock; streams take their own locks
	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// SetReinitializeError makes Reinitialize fail and leave the backend uninitialized
func (m *MockAudioBackend) SetReinitializeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reinitError = err
}

// Reinitialize simulates refreshing the platform device table
func (m *MockAudioBackend) Reinitialize() error {
	// IsOpen takes the stream lock, which Pump holds while recording playback
	for _, stream := range m.Streams() {
		if stream.IsOpen() {
			return ErrStreamsOpen
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	m.reinitCount++
	if m.reinitError != nil {
		m.initialized = false
		return m.reinitError
	}
	return nil
}

// ReinitializeCount returns how many times Reinitialize was attempted
func (m *MockAudioBackend) ReinitializeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reinitCount
}

// IsInitialized reports whether Initialize has succeeded
func (m *MockAudioBackend) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// OpenOutputStream creates a mock output stream
func (m *MockAudioBackend) OpenOutputStream(cfg StreamConfig, render RenderFunc, onError ErrorFunc) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if m.openError != nil {
		err := m.openError
		if m.openFailures > 0 {
			m.openFailures--
			if m.openFailures == 0 {
				m.openError = nil
			}
		}
		return nil, err
	}

	stream := &MockStream{
		id:                 fmt.Sprintf("output_%d", m.streamCounter),
		backend:            m,
		cfg:                cfg,
		render:             render,
		onError:            onError,
		buffer:             make([]float32, cfg.FramesPerBuffer*cfg.Channels),
		isOpen:             true,
		simulateRealTiming: m.simulateRealTiming,
	}
	m.streamCounter++

	m.streams = append(m.streams, stream)
	return stream, nil
}

// OpenCount returns how many streams have been opened successfully
func (m *MockAudioBackend) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Streams returns every stream opened so far, oldest first
func (m *MockAudioBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// LastStream returns the most recently opened stream, or nil
func (m *MockAudioBackend) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// OpenStreams counts streams that are opened and not yet closed
func (m *MockAudioBackend) OpenStreams() int {
	n := 0
	for _, s := range m.Streams() {
		if s.IsOpen() {
			n++
		}
	}
	return n
}

func (m *MockAudioBackend) recordPlayback(data []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.capturePlayback {
		return
	}
	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)
	m.playbackAudioData = append(m.playbackAudioData, dataCopy)
}

// MockStream implements StreamInterface for testing. Its mutex is held
// for the whole of a render, so Stop and Close wait for an in-flight Pump.
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	backend            *MockAudioBackend
	cfg                StreamConfig
	render             RenderFunc
	onError            ErrorFunc
	buffer             []float32
	isOpen             bool
	isActive           bool
	errorFired         bool
	simulateRealTiming bool
	stopChannel        chan struct{}
	startError         error
	stopError          error
	closeError         error
	renders            int
	starts             int
	stops              int
	closes             int
}

// ID returns the backend-assigned stream identifier
func (m *MockStream) ID() string { return m.id }

// Config returns the configuration the stream was opened with
func (m *MockStream) Config() StreamConfig { return m.cfg }

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetStopError configures the stream to return an error on Stop()
func (m *MockStream) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopError = err
}

// SetCloseError configures the stream to return an error on Close()
func (m *MockStream) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}
	if !m.isOpen {
		return ErrStreamClosed
	}
	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true
	m.starts++

	if m.simulateRealTiming {
		m.stopChannel = make(chan struct{})
		go m.simulatePlayback(m.stopChannel)
	}
	return nil
}

// Stop stops the mock stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopError != nil {
		return m.stopError
	}
	if !m.isActive {
		return nil
	}

	m.isActive = false
	m.stops++

	m.signalStop()
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeError != nil {
		return m.closeError
	}
	if !m.isOpen {
		return nil // Already closed
	}

	m.isOpen = false
	m.isActive = false
	m.closes++
	m.signalStop()
	return nil
}

// IsActive returns true if the mock stream is started
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

// IsOpen returns true until Close succeeds
func (m *MockStream) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isOpen
}

// Pump drives up to n render cycles, as the platform would once per buffer
// period. It stops early if the stream is not active and returns the number
// of cycles rendered.
func (m *MockStream) Pump(n int) int {
	rendered := 0
	for range n {
		m.mu.Lock()
		if !m.isActive {
			m.mu.Unlock()
			break
		}
		m.render(m.buffer)
		m.renders++
		m.mu.Unlock()

		m.backend.recordPlayback(m.buffer)
		rendered++
	}
	return rendered
}

// LastBuffer returns a copy of the most recently rendered buffer
func (m *MockStream) LastBuffer() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// InjectError simulates the platform reporting an asynchronous stream failure.
// Like a real device loss the stream stops rendering first, then the error
// callback runs on the caller's goroutine. Only the first injection per
// stream is delivered; it returns whether the callback ran.
func (m *MockStream) InjectError(err error) bool {
	m.mu.Lock()
	if !m.isOpen || m.errorFired {
		m.mu.Unlock()
		return false
	}
	m.errorFired = true
	m.isActive = false
	onError := m.onError
	m.mu.Unlock()

	if onError != nil {
		onError(m, err)
	}
	return true
}

// Renders returns how many render cycles the stream has run
func (m *MockStream) Renders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renders
}

// Counts returns how many times Start, Stop and Close took effect
func (m *MockStream) Counts() (starts, stops, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops, m.closes
}

// signalStop ends the background playback goroutine, if any. Callers hold m.mu.
func (m *MockStream) signalStop() {
	if m.stopChannel != nil {
		close(m.stopChannel)
		m.stopChannel = nil
	}
}

// simulatePlayback renders one buffer per period until stopped
func (m *MockStream) simulatePlayback(stop <-chan struct{}) {
	period := time.Duration(float64(m.cfg.FramesPerBuffer) / m.cfg.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.Pump(1) == 0 {
				return
			}
		}
	}
}
