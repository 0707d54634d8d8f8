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

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/sirupsen/logrus"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

// Loader reads the kit's assets from a filesystem and decodes them for a
// stream running at TargetRate.
type Loader struct {
	fsys       fs.FS
	kit        kit.Kit
	targetRate int
}

// NewLoader creates a loader. targetRate <= 0 keeps each asset's own rate.
func NewLoader(fsys fs.FS, k kit.Kit, targetRate int) *Loader {
	return &Loader{
		fsys:       fsys,
		kit:        k,
		targetRate: targetRate,
	}
}

// Load decodes the asset configured for one voice
func (l *Loader) Load(id kit.VoiceID) (*Sample, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("load %s: %w", id, kit.ErrUnknownVoice)
	}

	name := l.kit.Voices[id].File
	if name == "" {
		return nil, fmt.Errorf("load %s: %w: no file configured", id, ErrAssetNotFound)
	}

	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w: %s", id, ErrAssetNotFound, name)
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	s, err := Decode(name, data)
	if err != nil {
		return nil, fmt.Errorf("load %s (%s): %w", id, name, err)
	}

	return toPlayable(s, l.targetRate), nil
}

// LoadKit loads every voice. Failures are isolated: the failed voice is
// left out of the bank, reported once in the returned map, and the rest
// of the kit still loads.
func (l *Loader) LoadKit() (*Bank, map[kit.VoiceID]error) {
	loaded := make(map[kit.VoiceID]*Sample, kit.NumVoices)
	failures := make(map[kit.VoiceID]error)

	for _, id := range kit.AllVoices() {
		s, err := l.Load(id)
		if err != nil {
			failures[id] = err
			logrus.WithFields(logrus.Fields{
				"function": "LoadKit",
				"voice":    id.String(),
				"error":    err.Error(),
			}).Warn("⚠️ Voice will stay silent")
			continue
		}
		loaded[id] = s
		logrus.WithFields(logrus.Fields{
			"function":    "LoadKit",
			"voice":       id.String(),
			"format":      s.Format,
			"frames":      s.Frames,
			"channels":    s.Channels,
			"sample_rate": s.SampleRate,
		}).Debug("Loaded sample")
	}

	return NewBank(loaded), failures
}
