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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/loqalabs/loqa-drumpad-go/internal/drums"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/sirupsen/logrus"
)

const consolePrompt = "drums> "

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  <voice> [<voice>...]     trigger one or more voices (kick, snare, hihat, ...)
  gain <voice> <0-200>     set voice gain (100 = unity)
  pan <voice> <0-200>      set voice pan (0 = left, 100 = center, 200 = right)
  restart                  force the output stream to reopen
  status                   show stream status
  help                     show this help
  quit                     exit`

// consoleTarget is what the console drives: the local engine or a remote pad
type consoleTarget interface {
	drums.Surface
	RestartStream() error
}

// lineReader is satisfied by *readline.Instance
type lineReader interface {
	Readline() (string, error)
}

// Console is an interactive pad for the terminal
type Console struct {
	target consoleTarget
	status func() string
	out    io.Writer
}

func NewConsole(target consoleTarget, status func() string, out io.Writer) *Console {
	return &Console{target: target, status: status, out: out}
}

// Run reads commands until quit, EOF or interrupt
func (c *Console) Run(r lineReader) error {
	for {
		line, err := r.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}

		reply, err := c.Execute(line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		if reply != "" {
			_, _ = fmt.Fprintln(c.out, reply)
		}
	}
}

// Execute runs one console command and returns the text to show
func (c *Console) Execute(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return "", errQuit
	case "help", "?":
		return consoleHelp, nil
	case "restart":
		if err := c.target.RestartStream(); err != nil {
			return "", err
		}
		return "🔄 stream restarted", nil
	case "status":
		if c.status == nil {
			return "status unavailable", nil
		}
		return c.status(), nil
	case "gain", "pan":
		return c.setParameter(fields)
	default:
		return "", c.trigger(fields)
	}
}

func (c *Console) trigger(names []string) error {
	voices := make([]kit.VoiceID, 0, len(names))
	for _, name := range names {
		voice, err := kit.ParseVoice(name)
		if err != nil {
			return err
		}
		voices = append(voices, voice)
	}
	for _, voice := range voices {
		if err := c.target.Trigger(voice); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) setParameter(fields []string) (string, error) {
	if len(fields) != 3 {
		return "", fmt.Errorf("usage: %s <voice> <0-%d>", fields[0], drums.SliderMax)
	}

	voice, err := kit.ParseVoice(fields[1])
	if err != nil {
		return "", err
	}
	pos, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a slider position", drums.ErrInvalidValue, fields[2])
	}

	if strings.EqualFold(fields[0], "gain") {
		gain, err := drums.GainFromSlider(pos)
		if err != nil {
			return "", err
		}
		if err := c.target.SetGain(voice, gain); err != nil {
			return "", err
		}
		logrus.WithFields(logrus.Fields{"voice": voice.String(), "gain": gain}).Debug("Gain changed from console")
		return fmt.Sprintf("%s gain %.2f", voice, gain), nil
	}

	pan, err := drums.PanFromSlider(pos)
	if err != nil {
		return "", err
	}
	if err := c.target.SetPan(voice, pan); err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"voice": voice.String(), "pan": pan}).Debug("Pan changed from console")
	return fmt.Sprintf("%s pan %+.2f", voice, pan), nil
}
