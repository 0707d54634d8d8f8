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
	"fmt"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
)

// Config configures a Player
type Config struct {
	Kit           kit.Kit
	FallbackDelay time.Duration
	Timers        TimerService
	OnStateChange StateListener
}

// Player is the controller-facing drum engine. It is constructed once and
// passed to every control surface; all methods are safe for concurrent use
// from control goroutines.
type Player struct {
	mixer      *Mixer
	controller *StreamController
}

// NewPlayer builds the voices from bank and kit defaults. No stream is
// opened until SetupAudioStream.
func NewPlayer(backend audio.AudioBackend, bank *samples.Bank, cfg Config) *Player {
	mixer := NewMixer(bank, cfg.Kit)

	controller := NewStreamController(backend, mixer, ControllerConfig{
		Stream: audio.StreamConfig{
			SampleRate:      float64(cfg.Kit.SampleRate),
			Channels:        OutputChannels,
			FramesPerBuffer: cfg.Kit.FramesPerBuffer,
		},
		FallbackDelay: cfg.FallbackDelay,
		Timers:        cfg.Timers,
		OnStateChange: cfg.OnStateChange,
	})

	return &Player{mixer: mixer, controller: controller}
}

// SetupAudioStream establishes the output stream if it is not already active
func (p *Player) SetupAudioStream() error {
	return p.controller.Setup()
}

// TeardownAudioStream releases the output stream; safe to call at any time
func (p *Player) TeardownAudioStream() error {
	return p.controller.Teardown()
}

// RestartStream force-closes and reopens the output stream
func (p *Player) RestartStream() error {
	return p.controller.Restart()
}

// Trigger starts a voice from its first frame on the next render cycle
func (p *Player) Trigger(id kit.VoiceID) error {
	v, err := p.voice(id)
	if err != nil {
		return err
	}
	v.Trigger()
	return nil
}

// SetGain sets a voice's linear gain (nominally 0.0 to 2.0)
func (p *Player) SetGain(id kit.VoiceID, gain float32) error {
	v, err := p.voice(id)
	if err != nil {
		return err
	}
	if err := v.SetGain(gain); err != nil {
		return fmt.Errorf("gain for %s: %w", id, err)
	}
	return nil
}

// SetPan sets a voice's pan position; values outside [-1, 1] are clamped
func (p *Player) SetPan(id kit.VoiceID, pan float32) error {
	v, err := p.voice(id)
	if err != nil {
		return err
	}
	if err := v.SetPan(pan); err != nil {
		return fmt.Errorf("pan for %s: %w", id, err)
	}
	return nil
}

// GetGain returns a voice's linear gain
func (p *Player) GetGain(id kit.VoiceID) (float32, error) {
	v, err := p.voice(id)
	if err != nil {
		return 0, err
	}
	return v.Gain(), nil
}

// GetPan returns a voice's pan position
func (p *Player) GetPan(id kit.VoiceID) (float32, error) {
	v, err := p.voice(id)
	if err != nil {
		return 0, err
	}
	return v.Pan(), nil
}

// IsPlaying reports whether a voice is currently sounding
func (p *Player) IsPlaying(id kit.VoiceID) bool {
	v, err := p.voice(id)
	if err != nil {
		return false
	}
	return v.IsPlaying()
}

// GetOutputReset reports whether the engine closed the stream on its own after a stream error
func (p *Player) GetOutputReset() bool {
	return p.controller.OutputReset()
}

// ClearOutputReset acknowledges an output reset
func (p *Player) ClearOutputReset() {
	p.controller.ClearOutputReset()
}

// OnDevicesAdded forwards device-added notifications to the stream controller
func (p *Player) OnDevicesAdded(devices []audio.DeviceInfo) {
	p.controller.OnDevicesAdded(devices)
}

// OnDevicesChanged forwards a diff from a broadcast source such as a host
// device daemon. Unlike OnDevicesAdded it is never taken as the snapshot.
func (p *Player) OnDevicesChanged(added, removed []audio.DeviceInfo) {
	p.controller.OnDevicesChanged(added, removed)
}

// OnDevicesRemoved forwards device-removed notifications to the stream controller
func (p *Player) OnDevicesRemoved(devices []audio.DeviceInfo) {
	p.controller.OnDevicesRemoved(devices)
}

// State returns the stream lifecycle state
func (p *Player) State() State {
	return p.controller.State()
}

func (p *Player) voice(id kit.VoiceID) (*Voice, error) {
	v, err := p.mixer.Voice(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVoice, id)
	}
	return v, nil
}
