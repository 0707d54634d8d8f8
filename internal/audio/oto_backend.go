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
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoErrorPollInterval = 100 * time.Millisecond

// OtoBackend implements AudioBackend on top of an oto context. oto allows a
// single context per process, so the context outlives Terminate and every
// stream must use the rate and channel count it was created with.
type OtoBackend struct {
	mu          sync.Mutex
	ctx         *oto.Context
	sampleRate  int
	channels    int
	initialized bool
}

// NewOtoBackend creates an oto backend for a fixed output format
func NewOtoBackend(sampleRate, channels int) *OtoBackend {
	return &OtoBackend{
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Initialize creates (or resumes) the oto context
func (o *OtoBackend) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	if o.ctx != nil {
		if err := o.ctx.Resume(); err != nil {
			return fmt.Errorf("failed to resume oto context: %w", err)
		}
		o.initialized = true
		return nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   o.sampleRate,
		ChannelCount: o.channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize oto: %w", err)
	}
	<-ready

	o.ctx = ctx
	o.initialized = true
	return nil
}

// Terminate suspends the oto context
func (o *OtoBackend) Terminate() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil
	}
	o.initialized = false
	return o.ctx.Suspend()
}

// OpenOutputStream creates a player that pulls audio from render
func (o *OtoBackend) OpenOutputStream(cfg StreamConfig, render RenderFunc, onError ErrorFunc) (StreamInterface, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil, ErrNotInitialized
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if int(cfg.SampleRate) != o.sampleRate || cfg.Channels != o.channels {
		return nil, fmt.Errorf("%w: oto context is %d Hz/%d ch, stream wants %v Hz/%d ch",
			ErrInvalidConfig, o.sampleRate, o.channels, cfg.SampleRate, cfg.Channels)
	}

	s := &OtoStream{
		render:   render,
		reporter: newErrorReporter(),
		channels: cfg.Channels,
		floatBuf: make([]float32, cfg.FramesPerBuffer*cfg.Channels),
	}
	s.player = o.ctx.NewPlayer(s)
	s.player.SetBufferSize(cfg.FramesPerBuffer * cfg.Channels * 4)

	go s.reporter.watch(s, onError, otoErrorPollInterval, s.checkPlayer)
	return s, nil
}

// OtoStream implements StreamInterface with an oto player reading from the render func
type OtoStream struct {
	player   *oto.Player
	render   RenderFunc
	reporter *errorReporter
	channels int

	// mu is held for one render at a time; Stop takes it to wait out an in-flight Read
	mu       sync.Mutex
	stopped  bool
	floatBuf []float32
	active   atomic.Bool
}

// Read is called by oto's mixing goroutine
func (s *OtoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := len(p) / 4
	samples -= samples % s.channels
	if s.stopped || samples == 0 {
		clear(p)
		return len(p), nil
	}

	// oto may ask for more than one buffer period; render it period by period
	chunk := len(s.floatBuf)
	for off := 0; off < samples; off += chunk {
		buf := s.floatBuf[:min(chunk, samples-off)]
		s.render(buf)
		for i, v := range buf {
			binary.LittleEndian.PutUint32(p[4*(off+i):], math.Float32bits(v))
		}
	}
	clear(p[4*samples:])
	return len(p), nil
}

func (s *OtoStream) checkPlayer() error {
	if err := s.player.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Start starts playback
func (s *OtoStream) Start() error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	s.player.Play()
	s.active.Store(true)
	return nil
}

// Stop pauses playback and waits for an in-flight Read to finish
func (s *OtoStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.active.Store(false)
	s.player.Pause()
	return nil
}

// Close releases the player
func (s *OtoStream) Close() error {
	s.reporter.stop()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.active.Store(false)
	return s.player.Close()
}

// IsActive returns true while the player is started
func (s *OtoStream) IsActive() bool {
	return s.active.Load()
}
