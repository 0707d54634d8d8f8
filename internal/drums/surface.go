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

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

// TriggerSink receives pad hits from a control surface
type TriggerSink interface {
	Trigger(id kit.VoiceID) error
}

// ParameterSink receives gain and pan changes from a control surface
type ParameterSink interface {
	SetGain(id kit.VoiceID, gain float32) error
	SetPan(id kit.VoiceID, pan float32) error
}

// Surface is everything a control surface needs from the engine
type Surface interface {
	TriggerSink
	ParameterSink
}

var _ Surface = (*Player)(nil)

// SliderMax is the top position of gain and pan sliders
const SliderMax = 200

// GainFromSlider maps a slider position in [0, SliderMax] to a gain in [0, 2]
func GainFromSlider(pos int) (float32, error) {
	if pos < 0 || pos > SliderMax {
		return 0, fmt.Errorf("%w: slider position %d", ErrInvalidValue, pos)
	}
	return float32(pos) / 100, nil
}

// PanFromSlider maps a slider position in [0, SliderMax] to a pan in [-1, 1]
func PanFromSlider(pos int) (float32, error) {
	if pos < 0 || pos > SliderMax {
		return 0, fmt.Errorf("%w: slider position %d", ErrInvalidValue, pos)
	}
	return float32(pos-100) / 100, nil
}

// SliderFromGain is the inverse of GainFromSlider, clamped to the slider range
func SliderFromGain(gain float32) int {
	return clampSlider(int(gain*100 + 0.5))
}

// SliderFromPan is the inverse of PanFromSlider
func SliderFromPan(pan float32) int {
	return clampSlider(int((pan+1)*100 + 0.5))
}

func clampSlider(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos > SliderMax {
		return SliderMax
	}
	return pos
}
