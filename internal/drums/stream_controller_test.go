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
	"testing"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFallbackDelay = 500 * time.Millisecond

type controllerFixture struct {
	controller *StreamController
	backend    *audio.MockAudioBackend
	timers     *fakeTimerService
	states     *stateRecorder
	mixer      *Mixer
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		backend: audio.NewMockAudioBackend(),
		timers:  &fakeTimerService{},
		states:  &stateRecorder{},
	}
	f.mixer = newTestMixer(t, map[kit.VoiceID]*samples.Sample{
		kit.BassDrum: monoSample(0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5),
	})
	f.controller = NewStreamController(f.backend, f.mixer, ControllerConfig{
		Stream:        audio.StreamConfig{SampleRate: 48000, Channels: OutputChannels, FramesPerBuffer: 4},
		FallbackDelay: testFallbackDelay,
		Timers:        f.timers,
		OnStateChange: f.states.listener,
	})
	return f
}

// setUp runs Setup and delivers the initial device snapshot
func (f *controllerFixture) setUp(t *testing.T) *audio.MockStream {
	t.Helper()
	require.NoError(t, f.controller.Setup())
	f.controller.OnDevicesAdded([]audio.DeviceInfo{{Name: "Built-in Output", HostAPI: "Core Audio"}})
	stream := f.backend.LastStream()
	require.NotNil(t, stream)
	return stream
}

var headset = []audio.DeviceInfo{{Name: "USB Headset", HostAPI: "Core Audio", MaxOutputChannels: 2}}

func TestStreamControllerSetup(t *testing.T) {
	t.Run("opens_and_starts", func(t *testing.T) {
		f := newControllerFixture(t)
		stream := f.setUp(t)

		assert.Equal(t, StateActive, f.controller.State())
		assert.True(t, stream.IsActive())
		assert.Equal(t, audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 4}, stream.Config())
		assert.False(t, f.controller.OutputReset())

		f.mixer.voices[kit.BassDrum].Trigger()
		assert.Equal(t, 1, stream.Pump(1))
		assert.InDelta(t, 0.25, stream.LastBuffer()[0], 1e-6, "stream renders through the mixer")
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		require.NoError(t, f.controller.Setup())
		assert.Equal(t, 1, f.backend.OpenCount())
	})

	t.Run("initialize_error", func(t *testing.T) {
		f := newControllerFixture(t)
		f.backend.SetInitError(errors.New("no audio subsystem"))
		assert.Error(t, f.controller.Setup())
		assert.Equal(t, StateUninitialized, f.controller.State())
	})

	t.Run("open_error_then_retry", func(t *testing.T) {
		f := newControllerFixture(t)
		f.backend.FailNextOpens(1, errors.New("device busy"))
		assert.Error(t, f.controller.Setup())
		assert.Equal(t, StateUninitialized, f.controller.State())

		require.NoError(t, f.controller.Setup())
		assert.Equal(t, StateActive, f.controller.State())
	})
}

func TestStreamControllerTeardown(t *testing.T) {
	t.Run("before_setup", func(t *testing.T) {
		f := newControllerFixture(t)
		require.NoError(t, f.controller.Teardown())
		assert.Equal(t, StateUninitialized, f.controller.State())
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newControllerFixture(t)
		stream := f.setUp(t)

		require.NoError(t, f.controller.Teardown())
		require.NoError(t, f.controller.Teardown())

		assert.Equal(t, StateTornDown, f.controller.State())
		assert.False(t, stream.IsOpen())
		assert.Equal(t, 0, stream.Pump(1), "no render after teardown")
		assert.False(t, f.backend.IsInitialized())

		_, stops, closes := stream.Counts()
		assert.Equal(t, 1, stops)
		assert.Equal(t, 1, closes)
	})

	t.Run("setup_after_teardown", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		require.NoError(t, f.controller.Teardown())
		require.NoError(t, f.controller.Setup())

		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.Equal(t, 1, f.backend.OpenStreams())
	})

	t.Run("silences_voices", func(t *testing.T) {
		f := newControllerFixture(t)
		stream := f.setUp(t)
		f.mixer.voices[kit.BassDrum].Trigger()
		stream.Pump(1)
		require.True(t, f.mixer.voices[kit.BassDrum].IsPlaying())

		require.NoError(t, f.controller.Teardown())
		assert.False(t, f.mixer.voices[kit.BassDrum].IsPlaying())
	})
}

func TestStreamControllerRestart(t *testing.T) {
	t.Run("before_setup", func(t *testing.T) {
		f := newControllerFixture(t)
		assert.ErrorIs(t, f.controller.Restart(), ErrNotSetup)
	})

	t.Run("after_teardown", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		require.NoError(t, f.controller.Teardown())
		assert.ErrorIs(t, f.controller.Restart(), ErrNotSetup)
	})

	t.Run("reopens", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		require.NoError(t, f.controller.Restart())
		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.False(t, old.IsOpen())
		assert.True(t, f.backend.LastStream().IsActive())
		assert.False(t, f.controller.OutputReset(), "caller restarts are not output resets")
	})

	t.Run("reopen_failure", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		f.backend.FailNextOpens(1, errors.New("device busy"))

		assert.Error(t, f.controller.Restart())
		assert.Equal(t, StateFailed, f.controller.State())
		assert.Equal(t, 0, f.backend.OpenStreams())

		require.NoError(t, f.controller.Restart())
		assert.Equal(t, StateActive, f.controller.State())
	})
}

func TestStreamControllerStreamError(t *testing.T) {
	t.Run("reopens_and_flags", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		require.True(t, old.InjectError(audio.ErrDisconnected))

		assert.Equal(t, StateActive, f.controller.State())
		assert.True(t, f.controller.OutputReset())
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.False(t, old.IsOpen())
		assert.Equal(t, 1, f.backend.OpenStreams())
		assert.Equal(t, []State{StateActive, StateRecovering, StateActive}, f.states.snapshot())

		f.controller.ClearOutputReset()
		assert.False(t, f.controller.OutputReset())
	})

	t.Run("stale_stream_ignored", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		require.NoError(t, f.controller.Restart())

		f.controller.handleStreamError(old, audio.ErrDisconnected)
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.False(t, f.controller.OutputReset())
	})

	t.Run("after_teardown_ignored", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		require.NoError(t, f.controller.Teardown())

		f.controller.handleStreamError(old, audio.ErrUnderrun)
		assert.Equal(t, StateTornDown, f.controller.State())
		assert.Equal(t, 1, f.backend.OpenCount())
	})

	t.Run("reopen_failure_is_not_retried", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		f.backend.FailNextOpens(1, errors.New("device gone"))

		old.InjectError(audio.ErrDisconnected)
		assert.Equal(t, StateFailed, f.controller.State())
		assert.True(t, f.controller.OutputReset())
		assert.Equal(t, 0, f.backend.OpenStreams())

		f.timers.Advance(time.Minute)
		assert.Equal(t, 1, f.backend.OpenCount(), "no automatic retry")
	})
}

func TestStreamControllerDeviceChanges(t *testing.T) {
	t.Run("initial_enumeration_ignored", func(t *testing.T) {
		f := newControllerFixture(t)
		require.NoError(t, f.controller.Setup())

		f.controller.OnDevicesAdded(append(headset, audio.DeviceInfo{Name: "HDMI"}, audio.DeviceInfo{Name: "Speakers"}))
		assert.Equal(t, 0, f.timers.Scheduled())

		f.timers.Advance(time.Minute)
		assert.Equal(t, 1, f.backend.OpenCount())
	})

	t.Run("fallback_after_delay", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		f.controller.OnDevicesAdded(headset)
		assert.Equal(t, 1, f.timers.Pending())

		f.timers.Advance(testFallbackDelay - time.Millisecond)
		assert.Equal(t, 1, f.backend.OpenCount(), "no restart before the delay")
		assert.True(t, old.IsOpen())

		f.timers.Advance(time.Millisecond)
		assert.Equal(t, 2, f.backend.OpenCount(), "exactly one restart after the delay")
		assert.False(t, old.IsOpen())
		assert.Equal(t, StateActive, f.controller.State())

		f.timers.Advance(time.Minute)
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.False(t, f.controller.OutputReset())
	})

	t.Run("removal_counts_as_change", func(t *testing.T) {
		f := newControllerFixture(t)
		require.NoError(t, f.controller.Setup())

		// removals are changes even before any enumeration snapshot
		f.controller.OnDevicesRemoved(headset)
		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, 2, f.backend.OpenCount())
	})

	t.Run("single_pending_fallback", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)

		f.controller.OnDevicesRemoved(headset)
		f.controller.OnDevicesAdded(headset)
		f.controller.OnDevicesRemoved(headset)
		assert.Equal(t, 1, f.timers.Scheduled())

		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, 2, f.backend.OpenCount())
	})

	t.Run("error_before_change", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		old.InjectError(audio.ErrDisconnected)
		require.True(t, f.controller.OutputReset())

		f.controller.OnDevicesRemoved(headset)
		assert.False(t, f.controller.OutputReset(), "change consumes the flag")
		assert.Equal(t, 0, f.timers.Scheduled())

		f.timers.Advance(time.Minute)
		assert.Equal(t, 2, f.backend.OpenCount(), "exactly one reopen")
	})

	t.Run("error_within_window", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		f.controller.OnDevicesRemoved(headset)
		f.timers.Advance(testFallbackDelay / 2)
		old.InjectError(audio.ErrDisconnected)
		assert.Equal(t, 2, f.backend.OpenCount())

		// the fallback sees the flag at fire time and does nothing
		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, 2, f.backend.OpenCount(), "exactly one reopen")
		assert.True(t, f.controller.OutputReset())
		assert.Equal(t, StateActive, f.controller.State())
	})

	t.Run("ignored_before_setup", func(t *testing.T) {
		f := newControllerFixture(t)
		f.controller.OnDevicesAdded(nil)
		f.controller.OnDevicesRemoved(headset)
		assert.Equal(t, 0, f.timers.Scheduled())
	})

	t.Run("change_retries_failed_stream", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		f.backend.FailNextOpens(1, errors.New("device gone"))
		old.InjectError(audio.ErrDisconnected)
		require.Equal(t, StateFailed, f.controller.State())

		f.controller.OnDevicesAdded(headset)
		assert.Equal(t, 1, f.timers.Pending())

		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 2, f.backend.OpenCount())
	})

	t.Run("setup_from_failed_cancels_fallback", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		f.backend.FailNextOpens(1, errors.New("device gone"))
		old.InjectError(audio.ErrDisconnected)
		require.Equal(t, StateFailed, f.controller.State())

		f.controller.OnDevicesRemoved(headset)
		require.Equal(t, 1, f.timers.Pending())

		require.NoError(t, f.controller.Setup())
		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.Equal(t, 0, f.timers.Pending())

		f.timers.Advance(time.Second)
		assert.Equal(t, 2, f.backend.OpenCount(), "no second recovery after setup")
		assert.True(t, f.backend.LastStream().IsActive())
	})

	t.Run("broadcast_before_snapshot", func(t *testing.T) {
		f := newControllerFixture(t)
		require.NoError(t, f.controller.Setup())

		// a diff broadcast is a change and leaves the snapshot for the monitor
		f.controller.OnDevicesChanged(headset, nil)
		assert.Equal(t, 1, f.timers.Pending())
		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, 2, f.backend.OpenCount())

		f.controller.OnDevicesAdded(append(headset, audio.DeviceInfo{Name: "Speakers"}))
		assert.Equal(t, 1, f.timers.Scheduled(), "monitor snapshot is not a change")
		f.timers.Advance(time.Minute)
		assert.Equal(t, 2, f.backend.OpenCount())
	})

	t.Run("empty_broadcast_ignored", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		f.controller.OnDevicesChanged(nil, nil)
		assert.Equal(t, 0, f.timers.Scheduled())
	})
}

func TestStreamControllerReinitializesBackend(t *testing.T) {
	t.Run("initial_setup_does_not_reinitialize", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		assert.Equal(t, 0, f.backend.ReinitializeCount())
	})

	t.Run("stream_error", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)

		old.InjectError(audio.ErrDisconnected)
		assert.Equal(t, 1, f.backend.ReinitializeCount(), "device table refreshed after the old stream closed")
		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 1, f.backend.OpenStreams())
	})

	t.Run("restart_and_fallback", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)

		require.NoError(t, f.controller.Restart())
		assert.Equal(t, 1, f.backend.ReinitializeCount())

		f.controller.OnDevicesRemoved(headset)
		f.timers.Advance(testFallbackDelay)
		assert.Equal(t, 2, f.backend.ReinitializeCount())
		assert.Equal(t, 3, f.backend.OpenCount())
	})

	t.Run("failure_then_restart_initializes", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		f.backend.SetReinitializeError(errors.New("device table unavailable"))

		old.InjectError(audio.ErrDisconnected)
		assert.Equal(t, StateFailed, f.controller.State())
		assert.False(t, f.backend.IsInitialized())
		assert.Equal(t, 1, f.backend.OpenCount())

		f.backend.SetReinitializeError(nil)
		require.NoError(t, f.controller.Restart())
		assert.Equal(t, StateActive, f.controller.State())
		assert.True(t, f.backend.IsInitialized())
		assert.Equal(t, 1, f.backend.ReinitializeCount(), "an uninitialized backend is initialized, not reinitialized")

		require.NoError(t, f.controller.Teardown())
		assert.False(t, f.backend.IsInitialized())
	})

	t.Run("stuck_stream_still_reopens", func(t *testing.T) {
		f := newControllerFixture(t)
		old := f.setUp(t)
		old.SetCloseError(errors.New("close failed"))

		old.InjectError(audio.ErrDisconnected)
		assert.Equal(t, StateActive, f.controller.State())
		assert.Equal(t, 2, f.backend.OpenCount())
		assert.Equal(t, 0, f.backend.ReinitializeCount())
	})
}

func TestStreamControllerTeardownDuringRecovery(t *testing.T) {
	t.Run("pending_fallback_cancelled", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)

		f.controller.OnDevicesRemoved(headset)
		require.Equal(t, 1, f.timers.Pending())

		require.NoError(t, f.controller.Teardown())
		assert.Equal(t, 0, f.timers.Pending())

		f.timers.Advance(time.Minute)
		assert.Equal(t, StateTornDown, f.controller.State())
		assert.Equal(t, 1, f.backend.OpenCount())
		assert.Equal(t, 0, f.backend.OpenStreams())
	})

	t.Run("fallback_already_running", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		f.controller.OnDevicesRemoved(headset)

		// a callback that lost the race with Stop still runs with its old generation
		f.controller.mu.Lock()
		gen := f.controller.generation
		f.controller.mu.Unlock()

		require.NoError(t, f.controller.Teardown())
		f.controller.fallback(gen)

		assert.Equal(t, StateTornDown, f.controller.State())
		assert.Equal(t, 1, f.backend.OpenCount())
		assert.Equal(t, 0, f.backend.OpenStreams())
	})

	t.Run("fallback_superseded_by_restart", func(t *testing.T) {
		f := newControllerFixture(t)
		f.setUp(t)
		f.controller.OnDevicesRemoved(headset)

		require.NoError(t, f.controller.Restart())
		f.timers.Advance(time.Minute)
		assert.Equal(t, 2, f.backend.OpenCount())
	})
}

func TestStreamControllerListenerOutsideLock(t *testing.T) {
	backend := audio.NewMockAudioBackend()
	var controller *StreamController
	var seen []State
	controller = NewStreamController(backend, newTestMixer(t, nil), ControllerConfig{
		Stream: audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 4},
		Timers: &fakeTimerService{},
		OnStateChange: func(state State, _ bool) {
			// re-entering the controller must not deadlock
			seen = append(seen, controller.State())
		},
	})

	require.NoError(t, controller.Setup())
	require.NoError(t, controller.Teardown())
	assert.Equal(t, []State{StateActive, StateTornDown}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "torn_down", StateTornDown.String())
	assert.Equal(t, "state(42)", State(42).String())
}
