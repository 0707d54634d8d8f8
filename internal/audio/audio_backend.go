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

import "fmt"

// AudioBackend provides an abstraction layer over the platform audio subsystem.
// This enables dependency injection and makes the engine testable without hardware.
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// OpenOutputStream opens a callback-driven playback stream. render is
	// invoked on the platform's real-time context once per buffer period.
	// onError is invoked at most once per stream, on a non-real-time
	// goroutine, when the platform reports that the stream is no longer usable.
	OpenOutputStream(cfg StreamConfig, render RenderFunc, onError ErrorFunc) (StreamInterface, error)
}

// Reinitializer is implemented by backends that freeze their device table
// and default device at Initialize. Reinitialize rebuilds both; it fails
// with ErrStreamsOpen while any stream is still open.
type Reinitializer interface {
	Reinitialize() error
}

// StreamInterface abstracts audio stream operations
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream. Stop returns only after any in-flight render
	// invocation has finished; no render call begins after it returns.
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// IsActive returns true if the stream is currently started
	IsActive() bool
}

// RenderFunc fills out with interleaved float32 frames. It runs on the
// real-time context and must not block, allocate or log.
type RenderFunc func(out []float32)

// ErrorFunc receives asynchronous stream failures
type ErrorFunc func(stream StreamInterface, err error)

// StreamConfig holds parameters for stream creation
type StreamConfig struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
}

// Validate checks that the configuration can describe a playback stream
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: %d channels", ErrInvalidConfig, c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("%w: %d frames per buffer", ErrInvalidConfig, c.FramesPerBuffer)
	}
	return nil
}

// DeviceInfo describes one output-capable device
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Key identifies a device across enumerations
func (d DeviceInfo) Key() string {
	return d.HostAPI + "/" + d.Name
}

// DeviceLister enumerates the currently available output devices
type DeviceLister interface {
	Devices() ([]DeviceInfo, error)
}
