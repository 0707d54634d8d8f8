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
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	// consecutive underflowing callbacks before the stream is reported dead
	defaultUnderrunLimit = 32

	// how long a started stream may go without a callback
	defaultStallTimeout = 750 * time.Millisecond

	watchdogInterval = 100 * time.Millisecond
)

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	mu            sync.Mutex
	initialized   bool
	openStreams   int
	underrunLimit int
	stallTimeout  time.Duration
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{
		underrunLimit: defaultUnderrunLimit,
		stallTimeout:  defaultStallTimeout,
	}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	// Pa_Terminate closes any streams left open
	err := portaudio.Terminate()
	p.initialized = false
	p.openStreams = 0
	return err
}

// Reinitialize terminates and re-initializes PortAudio so the device table
// and default output device reflect the current hardware
func (p *PortAudioBackend) Reinitialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if p.openStreams > 0 {
		return fmt.Errorf("%w: %d", ErrStreamsOpen, p.openStreams)
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	if err := portaudio.Initialize(); err != nil {
		p.initialized = false
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

func (p *PortAudioBackend) streamClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openStreams > 0 {
		p.openStreams--
	}
}

// OpenOutputStream opens a callback stream on the default output device
func (p *PortAudioBackend) OpenOutputStream(cfg StreamConfig, render RenderFunc, onError ErrorFunc) (StreamInterface, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &PortAudioStream{
		backend:       p,
		render:        render,
		reporter:      newErrorReporter(),
		underrunLimit: int64(p.underrunLimit),
		stallTimeout:  p.stallTimeout,
	}

	stream, err := portaudio.OpenDefaultStream(
		0,            // input channels (none for output stream)
		cfg.Channels, // output channels
		cfg.SampleRate,
		cfg.FramesPerBuffer,
		s.processAudio,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	s.stream = stream

	p.mu.Lock()
	p.openStreams++
	p.mu.Unlock()

	go s.reporter.watch(s, onError, watchdogInterval, s.checkStall)
	return s, nil
}

// Devices lists output-capable devices. PortAudio snapshots the device
// list at Initialize; Reinitialize refreshes it.
func (p *PortAudioBackend) Devices() ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		info := DeviceInfo{
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		result = append(result, info)
	}
	return result, nil
}

// PortAudioStream implements StreamInterface using a PortAudio callback stream
type PortAudioStream struct {
	backend       *PortAudioBackend
	stream        *portaudio.Stream
	closed        atomic.Bool
	render        RenderFunc
	reporter      *errorReporter
	active        atomic.Bool
	callbacks     atomic.Int64
	underruns     atomic.Int64
	underrunLimit int64
	startedAt     atomic.Int64

	// watchdog state, touched only by the reporter goroutine
	lastCount    int64
	lastProgress time.Time
	stallTimeout time.Duration
}

// processAudio runs on PortAudio's callback thread
func (p *PortAudioStream) processAudio(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	p.callbacks.Add(1)
	if flags&portaudio.OutputUnderflow != 0 {
		if p.underruns.Add(1) >= p.underrunLimit {
			p.reporter.report(ErrUnderrun)
		}
	} else {
		p.underruns.Store(0)
	}
	p.render(out)
}

// checkStall reports ErrDisconnected when a started stream stops receiving callbacks
func (p *PortAudioStream) checkStall() error {
	now := time.Now()
	if !p.active.Load() {
		p.lastProgress = now
		return nil
	}

	count := p.callbacks.Load()
	if count != p.lastCount {
		p.lastCount = count
		p.lastProgress = now
		return nil
	}

	since := p.lastProgress
	if started := time.Unix(0, p.startedAt.Load()); started.After(since) {
		since = started
	}
	if now.Sub(since) > p.stallTimeout {
		return ErrDisconnected
	}
	return nil
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.startedAt.Store(time.Now().UnixNano())
	p.underruns.Store(0)
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.active.Store(true)
	return nil
}

// Stop stops the audio stream; Pa_StopStream waits for the callback to return
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.active.Store(false)
	return p.stream.Stop()
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.reporter.stop()
	p.active.Store(false)
	if p.closed.CompareAndSwap(false, true) && p.backend != nil {
		defer p.backend.streamClosed()
	}
	return p.stream.Close()
}

// IsActive returns true if the stream has been started and not stopped
func (p *PortAudioStream) IsActive() bool {
	return p.active.Load()
}
