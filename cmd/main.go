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
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/loqalabs/loqa-drumpad-go/internal/drums"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	natsclient "github.com/loqalabs/loqa-drumpad-go/internal/nats"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
	"github.com/loqalabs/loqa-drumpad-go/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const heartbeatInterval = 2 * time.Second

type options struct {
	kitPath       string
	samplesDir    string
	backend       string
	sampleRate    int
	frames        int
	fallbackDelay time.Duration
	devicePoll    time.Duration
	natsURL       string
	padID         string
	remote        bool
	console       bool
	logLevel      string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("drumpad", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.kitPath, "kit", "", "Kit YAML file (default: built-in eight-piece kit)")
	fs.StringVar(&opts.samplesDir, "samples", "samples", "Directory holding the kit's sample files")
	fs.StringVar(&opts.backend, "backend", "portaudio", "Audio backend: portaudio, oto or mock")
	fs.IntVar(&opts.sampleRate, "rate", 0, "Output sample rate override")
	fs.IntVar(&opts.frames, "frames", 0, "Frames per buffer override")
	fs.DurationVar(&opts.fallbackDelay, "fallback-delay", drums.DefaultFallbackDelay, "Delay before a device change forces a stream restart")
	fs.DurationVar(&opts.devicePoll, "device-poll", audio.DefaultDevicePollInterval, "Output device poll interval")
	fs.StringVar(&opts.natsURL, "nats", "", "NATS server URL (empty disables remote control)")
	fs.StringVar(&opts.padID, "id", "drumpad-001", "Pad ID used in NATS subjects")
	fs.BoolVar(&opts.remote, "remote", false, "Drive a remote pad over NATS instead of playing locally")
	fs.BoolVar(&opts.console, "console", true, "Read commands from the terminal")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.sampleRate < 0 || opts.frames < 0 {
		return nil, errors.New("-rate and -frames must not be negative")
	}
	if opts.remote && opts.natsURL == "" {
		return nil, errors.New("-remote requires -nats")
	}
	if opts.padID == "" {
		return nil, errors.New("-id must not be empty")
	}
	return opts, nil
}

// loadKit resolves the kit file and applies command-line overrides
func loadKit(opts *options) (kit.Kit, error) {
	k := kit.DefaultKit()
	if opts.kitPath != "" {
		var err error
		if k, err = kit.LoadConfig(opts.kitPath); err != nil {
			return kit.Kit{}, err
		}
	}
	if opts.sampleRate > 0 {
		k.SampleRate = opts.sampleRate
	}
	if opts.frames > 0 {
		k.FramesPerBuffer = opts.frames
	}
	return k, nil
}

func newBackend(name string, k kit.Kit) (audio.AudioBackend, error) {
	switch name {
	case "portaudio":
		return audio.NewPortAudioBackend(), nil
	case "oto":
		return audio.NewOtoBackend(k.SampleRate, drums.OutputChannels), nil
	case "mock":
		backend := audio.NewMockAudioBackend()
		backend.SetSimulateRealTiming(true)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// stateLogger logs stream state transitions
func stateLogger(state drums.State, outputReset bool) {
	entry := logrus.WithFields(logrus.Fields{
		"state":        state.String(),
		"output_reset": outputReset,
	})
	switch state {
	case drums.StateFailed:
		entry.Error("❌ Audio stream failed")
	case drums.StateRecovering:
		entry.Warn("⚠️ Audio stream recovering")
	default:
		entry.Info("🔊 Audio stream state changed")
	}
}

func fanOut(listeners ...drums.StateListener) drums.StateListener {
	return func(state drums.State, outputReset bool) {
		for _, l := range listeners {
			l(state, outputReset)
		}
	}
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		logrus.WithField("level", opts.logLevel).Warn("⚠️ Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.remote {
		err = runRemote(ctx, stop, opts)
	} else {
		err = runLocal(ctx, stop, opts)
	}
	if err != nil {
		logrus.WithError(err).Error("❌ Drum pad exited with error")
		stop()
		os.Exit(1)
	}
	logrus.Info("👋 Drum pad stopped")
}

func runLocal(ctx context.Context, stop context.CancelFunc, opts *options) error {
	k, err := loadKit(opts)
	if err != nil {
		return fmt.Errorf("failed to load kit: %w", err)
	}

	bank, failures := samples.NewLoader(os.DirFS(opts.samplesDir), k, k.SampleRate).LoadKit()
	logrus.WithFields(logrus.Fields{
		"loaded": bank.Loaded(),
		"failed": len(failures),
	}).Info("🥁 Kit loaded")

	backend, err := newBackend(opts.backend, k)
	if err != nil {
		return err
	}

	listeners := []drums.StateListener{stateLogger}
	var subscriber *natsclient.ControlSubscriber
	if opts.natsURL != "" {
		conn, err := natsclient.Connect(opts.natsURL)
		if err != nil {
			return err
		}
		subscriber = natsclient.NewControlSubscriber(conn, opts.padID)
		defer subscriber.Close()
		listeners = append(listeners, subscriber.OnStateChange)
	}

	player := drums.NewPlayer(backend, bank, drums.Config{
		Kit:           k,
		FallbackDelay: opts.fallbackDelay,
		OnStateChange: fanOut(listeners...),
	})

	if err := player.SetupAudioStream(); err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer func() {
		if err := player.TeardownAudioStream(); err != nil {
			logrus.WithError(err).Warn("⚠️ Audio teardown failed")
		}
	}()

	if subscriber != nil {
		if err := subscriber.Start(player); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if lister, ok := backend.(audio.DeviceLister); ok {
		monitor := audio.NewDeviceMonitor(lister, player, opts.devicePoll)
		g.Go(func() error { return monitor.Run(gctx) })
	}

	status := func() string {
		return fmt.Sprintf("state=%s output_reset=%t", player.State(), player.GetOutputReset())
	}
	runConsole(gctx, g, stop, opts, NewConsole(player, status, os.Stdout))

	return g.Wait()
}

func runRemote(ctx context.Context, stop context.CancelFunc, opts *options) error {
	conn, err := natsclient.Connect(opts.natsURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := transport.NewClient(natsclient.NewFramePublisher(conn, opts.padID))
	logrus.WithFields(logrus.Fields{
		"pad_id":     opts.padID,
		"session_id": client.GetSessionID(),
	}).Info("🎛️ Driving remote pad")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := client.SendHeartbeat(); err != nil {
					logrus.WithError(err).Debug("Heartbeat failed")
				}
			}
		}
	})

	status := func() string {
		return fmt.Sprintf("remote pad=%s session=%s", opts.padID, client.GetSessionID())
	}
	runConsole(gctx, g, stop, opts, NewConsole(client, status, os.Stdout))

	return g.Wait()
}

// runConsole starts the interactive console, or just waits for a signal
// when the console is disabled. Leaving the console stops the process.
func runConsole(ctx context.Context, g *errgroup.Group, stop context.CancelFunc, opts *options, console *Console) {
	if !opts.console {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		return
	}

	rl, err := readline.New(consolePrompt)
	if err != nil {
		g.Go(func() error { return fmt.Errorf("failed to start console: %w", err) })
		return
	}

	g.Go(func() error {
		<-ctx.Done()
		return rl.Close()
	})
	g.Go(func() error {
		defer stop()
		return console.Run(rl)
	})
}
