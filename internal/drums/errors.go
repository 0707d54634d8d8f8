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

import "errors"

var (
	// ErrInvalidVoice is returned for voice ids outside the kit
	ErrInvalidVoice = errors.New("invalid voice")

	// ErrNotSetup is returned by operations that need an established stream lifecycle
	ErrNotSetup = errors.New("audio stream not set up")

	// ErrInvalidValue is returned for NaN or infinite gain and pan values
	ErrInvalidValue = errors.New("invalid parameter value")
)
