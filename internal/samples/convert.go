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

package samples

// toPlayable reduces a decoded sample to one or two channels and converts
// it to targetRate. It returns s unchanged when nothing needs doing.
func toPlayable(s *Sample, targetRate int) *Sample {
	if s.Channels > 2 {
		s = downmixMono(s)
	}
	if targetRate > 0 && s.SampleRate > 0 && s.SampleRate != targetRate {
		s = resampleLinear(s, targetRate)
	}
	return s
}

// downmixMono averages all channels into one
func downmixMono(s *Sample) *Sample {
	out := make([]float32, s.Frames)
	inv := 1 / float32(s.Channels)
	for f := range s.Frames {
		sum := float32(0)
		base := f * s.Channels
		for c := range s.Channels {
			sum += s.Data[base+c]
		}
		out[f] = sum * inv
	}
	return &Sample{
		Data:       out,
		Channels:   1,
		Frames:     s.Frames,
		SampleRate: s.SampleRate,
		Format:     s.Format,
	}
}

// resampleLinear converts the sample rate with linear interpolation between
// neighbouring frames. Drum one-shots are short, so this is done once at load.
func resampleLinear(s *Sample, targetRate int) *Sample {
	ratio := float64(s.SampleRate) / float64(targetRate)
	frames := int(float64(s.Frames)/ratio + 0.5)
	if frames < 1 {
		frames = 1
	}

	ch := s.Channels
	out := make([]float32, frames*ch)
	last := s.Frames - 1
	for f := range frames {
		pos := float64(f) * ratio
		i := int(pos)
		if i >= last {
			copy(out[f*ch:(f+1)*ch], s.Data[last*ch:(last+1)*ch])
			continue
		}
		frac := float32(pos - float64(i))
		for c := range ch {
			a := s.Data[i*ch+c]
			b := s.Data[(i+1)*ch+c]
			out[f*ch+c] = a + (b-a)*frac
		}
	}

	return &Sample{
		Data:       out,
		Channels:   ch,
		Frames:     frames,
		SampleRate: targetRate,
		Format:     s.Format,
	}
}
