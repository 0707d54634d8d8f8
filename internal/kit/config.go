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

package kit

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSampleRate      = 48000
	DefaultFramesPerBuffer = 192
)

// VoiceSettings describes the asset and initial mixer settings of one voice
type VoiceSettings struct {
	File string
	Gain float32
	Pan  float32
}

// Kit is a fully resolved kit description
type Kit struct {
	SampleRate      int
	FramesPerBuffer int
	Voices          [NumVoices]VoiceSettings
}

// voiceFile mirrors one entry of the "voices" map in a kit file
type voiceFile struct {
	File string   `yaml:"file"`
	Gain *float32 `yaml:"gain"`
	Pan  *float32 `yaml:"pan"`
}

// kitFile is the on-disk YAML layout
type kitFile struct {
	SampleRate      int                  `yaml:"sample_rate"`
	FramesPerBuffer int                  `yaml:"frames_per_buffer"`
	Voices          map[string]voiceFile `yaml:"voices"`
}

// DefaultKit returns the stock eight-piece kit
func DefaultKit() Kit {
	k := Kit{
		SampleRate:      DefaultSampleRate,
		FramesPerBuffer: DefaultFramesPerBuffer,
	}
	k.Voices[BassDrum] = VoiceSettings{File: "KickDrum.wav", Gain: 1.0, Pan: 0.0}
	k.Voices[SnareDrum] = VoiceSettings{File: "SnareDrum.wav", Gain: 1.0, Pan: -0.75}
	k.Voices[MidTom] = VoiceSettings{File: "MidTom.wav", Gain: 1.0, Pan: -0.75}
	k.Voices[LowTom] = VoiceSettings{File: "LowTom.wav", Gain: 1.0, Pan: 0.75}
	k.Voices[HiHatOpen] = VoiceSettings{File: "HiHat_Open.wav", Gain: 1.0, Pan: -0.75}
	k.Voices[HiHatClosed] = VoiceSettings{File: "HiHat_Closed.wav", Gain: 1.0, Pan: -0.75}
	k.Voices[RideCymbal] = VoiceSettings{File: "RideCymbal.wav", Gain: 1.0, Pan: 1.0}
	k.Voices[CrashCymbal] = VoiceSettings{File: "CrashCymbal.wav", Gain: 1.0, Pan: -0.75}
	return k
}

// LoadConfig reads a YAML kit file and merges it over DefaultKit
func LoadConfig(path string) (Kit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Kit{}, fmt.Errorf("failed to read kit file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML kit data and merges it over DefaultKit.
// Voices missing from the document keep their defaults.
func ParseConfig(data []byte) (Kit, error) {
	var f kitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Kit{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	k := DefaultKit()
	if f.SampleRate < 0 || f.FramesPerBuffer < 0 {
		return Kit{}, fmt.Errorf("%w: negative stream parameters", ErrInvalidConfig)
	}
	if f.SampleRate > 0 {
		k.SampleRate = f.SampleRate
	}
	if f.FramesPerBuffer > 0 {
		k.FramesPerBuffer = f.FramesPerBuffer
	}

	for name, vf := range f.Voices {
		id, err := ParseVoice(name)
		if err != nil {
			return Kit{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		vs := &k.Voices[id]
		if vf.File != "" {
			vs.File = vf.File
		}
		if vf.Gain != nil {
			if !finite(*vf.Gain) {
				return Kit{}, fmt.Errorf("%w: %s gain is not finite", ErrInvalidConfig, id)
			}
			vs.Gain = *vf.Gain
		}
		if vf.Pan != nil {
			if !finite(*vf.Pan) || *vf.Pan < -1 || *vf.Pan > 1 {
				return Kit{}, fmt.Errorf("%w: %s pan %v outside [-1, 1]", ErrInvalidConfig, id, *vf.Pan)
			}
			vs.Pan = *vf.Pan
		}
	}

	return k, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
