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

package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/chzyer/readline"
	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/loqalabs/loqa-drumpad-go/internal/drums"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

type recordingTarget struct {
	triggers   []kit.VoiceID
	gains      map[kit.VoiceID]float32
	pans       map[kit.VoiceID]float32
	restarts   int
	restartErr error
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{
		gains: make(map[kit.VoiceID]float32),
		pans:  make(map[kit.VoiceID]float32),
	}
}

func (r *recordingTarget) Trigger(id kit.VoiceID) error {
	r.triggers = append(r.triggers, id)
	return nil
}

func (r *recordingTarget) SetGain(id kit.VoiceID, gain float32) error {
	r.gains[id] = gain
	return nil
}

func (r *recordingTarget) SetPan(id kit.VoiceID, pan float32) error {
	r.pans[id] = pan
	return nil
}

func (r *recordingTarget) RestartStream() error {
	r.restarts++
	return r.restartErr
}

// scriptedReader replays lines, then ends with the given error
type scriptedReader struct {
	lines []string
	end   error
}

func (s *scriptedReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", s.end
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestConsole_Execute(t *testing.T) {
	t.Run("trigger", func(t *testing.T) {
		target := newRecordingTarget()
		console := NewConsole(target, nil, io.Discard)

		if _, err := console.Execute("kick"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if _, err := console.Execute("  snare   crash "); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}

		want := []kit.VoiceID{kit.BassDrum, kit.SnareDrum, kit.CrashCymbal}
		if len(target.triggers) != len(want) {
			t.Fatalf("triggers = %v, want %v", target.triggers, want)
		}
		for i := range want {
			if target.triggers[i] != want[i] {
				t.Errorf("triggers[%d] = %s, want %s", i, target.triggers[i], want[i])
			}
		}
	})

	t.Run("unknown_voice_triggers_nothing", func(t *testing.T) {
		target := newRecordingTarget()
		console := NewConsole(target, nil, io.Discard)

		_, err := console.Execute("kick cowbell")
		if !errors.Is(err, kit.ErrUnknownVoice) {
			t.Errorf("Execute() error = %v, want ErrUnknownVoice", err)
		}
		if len(target.triggers) != 0 {
			t.Errorf("triggers = %v, want none", target.triggers)
		}
	})

	t.Run("gain_and_pan", func(t *testing.T) {
		target := newRecordingTarget()
		console := NewConsole(target, nil, io.Discard)

		reply, err := console.Execute("gain snare 150")
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if target.gains[kit.SnareDrum] != 1.5 {
			t.Errorf("snare gain = %v, want 1.5", target.gains[kit.SnareDrum])
		}
		if reply != "snare gain 1.50" {
			t.Errorf("reply = %q", reply)
		}

		if _, err := console.Execute("PAN ride 0"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if target.pans[kit.RideCymbal] != -1 {
			t.Errorf("ride pan = %v, want -1", target.pans[kit.RideCymbal])
		}
	})

	t.Run("parameter_errors", func(t *testing.T) {
		target := newRecordingTarget()
		console := NewConsole(target, nil, io.Discard)

		tests := []struct {
			line    string
			wantErr error
		}{
			{"gain snare 201", drums.ErrInvalidValue},
			{"pan snare -1", drums.ErrInvalidValue},
			{"gain snare loud", drums.ErrInvalidValue},
			{"gain cowbell 100", kit.ErrUnknownVoice},
		}
		for _, tt := range tests {
			if _, err := console.Execute(tt.line); !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
		}

		if _, err := console.Execute("gain snare"); err == nil {
			t.Error("Execute() with missing value should fail")
		}
		if len(target.gains) != 0 || len(target.pans) != 0 {
			t.Error("rejected commands must not change parameters")
		}
	})

	t.Run("restart", func(t *testing.T) {
		target := newRecordingTarget()
		console := NewConsole(target, nil, io.Discard)

		if _, err := console.Execute("restart"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		target.restartErr = drums.ErrNotSetup
		if _, err := console.Execute("restart"); !errors.Is(err, drums.ErrNotSetup) {
			t.Errorf("Execute() error = %v, want ErrNotSetup", err)
		}
		if target.restarts != 2 {
			t.Errorf("restarts = %d, want 2", target.restarts)
		}
	})

	t.Run("status_help_quit", func(t *testing.T) {
		console := NewConsole(newRecordingTarget(), func() string { return "state=active" }, io.Discard)

		if reply, _ := console.Execute("status"); reply != "state=active" {
			t.Errorf("status reply = %q", reply)
		}
		if reply, _ := console.Execute("help"); !strings.Contains(reply, "restart") {
			t.Errorf("help reply = %q", reply)
		}
		if _, err := console.Execute("quit"); !errors.Is(err, errQuit) {
			t.Errorf("quit error = %v, want errQuit", err)
		}
		if reply, err := console.Execute("   "); reply != "" || err != nil {
			t.Errorf("blank line = (%q, %v)", reply, err)
		}

		noStatus := NewConsole(newRecordingTarget(), nil, io.Discard)
		if reply, _ := noStatus.Execute("status"); reply != "status unavailable" {
			t.Errorf("status reply = %q", reply)
		}
	})
}

func TestConsole_Run(t *testing.T) {
	t.Run("stops_on_quit", func(t *testing.T) {
		target := newRecordingTarget()
		var out bytes.Buffer
		console := NewConsole(target, nil, &out)

		reader := &scriptedReader{lines: []string{"kick", "cowbell", "quit", "snare"}, end: io.EOF}
		if err := console.Run(reader); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if len(target.triggers) != 1 {
			t.Errorf("triggers = %v, want only the kick", target.triggers)
		}
		if !strings.Contains(out.String(), "error:") {
			t.Errorf("expected the bad voice to be reported, got %q", out.String())
		}
	})

	t.Run("stops_on_eof_and_interrupt", func(t *testing.T) {
		for _, end := range []error{io.EOF, readline.ErrInterrupt} {
			console := NewConsole(newRecordingTarget(), nil, io.Discard)
			if err := console.Run(&scriptedReader{end: end}); err != nil {
				t.Errorf("Run() with %v = %v, want nil", end, err)
			}
		}
	})

	t.Run("returns_read_errors", func(t *testing.T) {
		console := NewConsole(newRecordingTarget(), nil, io.Discard)
		readErr := errors.New("terminal gone")
		if err := console.Run(&scriptedReader{end: readErr}); !errors.Is(err, readErr) {
			t.Errorf("Run() error = %v, want %v", err, readErr)
		}
	})
}

func TestConsole_DrivesPlayer(t *testing.T) {
	player := drums.NewPlayer(audio.NewMockAudioBackend(), nil, drums.Config{Kit: kit.DefaultKit()})
	console := NewConsole(player, nil, io.Discard)

	if _, err := console.Execute("gain hihat 50"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	gain, err := player.GetGain(kit.HiHatClosed)
	if err != nil {
		t.Fatalf("GetGain() error = %v", err)
	}
	if gain != 0.5 {
		t.Errorf("hihat gain = %v, want 0.5", gain)
	}

	if _, err := console.Execute("restart"); !errors.Is(err, drums.ErrNotSetup) {
		t.Errorf("restart before setup = %v, want ErrNotSetup", err)
	}
}
