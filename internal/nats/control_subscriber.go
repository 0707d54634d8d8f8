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

package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/audio"
	"github.com/loqalabs/loqa-drumpad-go/internal/drums"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/transport"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second

	// DevicesSubject carries host device-change broadcasts
	DevicesSubject = "drums.devices"
)

// ControlSubject is where JSON control messages for a pad arrive
func ControlSubject(padID string) string { return fmt.Sprintf("drums.%s.control", padID) }

// FramesSubject is where binary control frames for a pad arrive
func FramesSubject(padID string) string { return fmt.Sprintf("drums.%s.frames", padID) }

// StatusSubject is where a pad publishes its stream status
func StatusSubject(padID string) string { return fmt.Sprintf("drums.%s.status", padID) }

// ControlMessage is a JSON control command
type ControlMessage struct {
	Action string  `json:"action"`          // trigger, gain, pan, restart, clear_reset, status
	Voice  string  `json:"voice,omitempty"` // voice name or alias
	Value  float64 `json:"value,omitempty"` // gain or pan value
}

// DeviceMessage describes one output device in a device-change broadcast
type DeviceMessage struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api,omitempty"`
	MaxOutputChannels int     `json:"max_output_channels,omitempty"`
	DefaultSampleRate float64 `json:"default_sample_rate,omitempty"`
}

// DeviceChangeMessage is a host device-change broadcast
type DeviceChangeMessage struct {
	Added   []DeviceMessage `json:"added,omitempty"`
	Removed []DeviceMessage `json:"removed,omitempty"`
}

// StatusMessage reports the stream state of a pad
type StatusMessage struct {
	PadID       string `json:"pad_id"`
	State       string `json:"state"`
	OutputReset bool   `json:"output_reset"`
	Timestamp   int64  `json:"timestamp"`
}

// DrumNATSConnection interface for dependency injection
type DrumNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// DrumNATSConnectionAdapter adapts *nats.Conn to DrumNATSConnection interface
type DrumNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewDrumNATSConnectionAdapter(conn *nats.Conn) *DrumNATSConnectionAdapter {
	return &DrumNATSConnectionAdapter{conn: conn}
}

func (r *DrumNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return r.conn.Subscribe(subject, cb)
}

func (r *DrumNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return r.conn.Publish(subject, data)
}

func (r *DrumNATSConnectionAdapter) Close() {
	r.conn.Close()
}

// Connect dials NATS, retrying a few times before giving up
func Connect(natsURL string) (DrumNATSConnection, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(natsURL, nats.Name("loqa-drumpad"))
		if err == nil {
			break
		}
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"attempt":  i + 1,
			"error":    err.Error(),
		}).Warn("⚠️ Failed to connect to NATS")
		if i < connectAttempts-1 {
			time.Sleep(connectRetryDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	logrus.WithField("url", natsURL).Info("✅ Connected to NATS")
	return NewDrumNATSConnectionAdapter(nc), nil
}

// Engine is the part of the drum engine the subscriber drives
type Engine interface {
	transport.Engine
	OnDevicesChanged(added, removed []audio.DeviceInfo)
	GetOutputReset() bool
	ClearOutputReset()
	State() drums.State
}

// ControlSubscriber applies remote control traffic to an Engine and
// publishes the engine's stream status
type ControlSubscriber struct {
	natsConn   DrumNATSConnection
	padID      string
	engine     atomic.Pointer[engineRef]
	dispatcher atomic.Pointer[transport.Dispatcher]
	sequence   atomic.Uint32
}

type engineRef struct{ Engine }

// NewControlSubscriber creates a subscriber over an existing connection.
// Status can be published immediately; control traffic is handled after Start.
func NewControlSubscriber(natsConn DrumNATSConnection, padID string) *ControlSubscriber {
	return &ControlSubscriber{
		natsConn: natsConn,
		padID:    padID,
	}
}

// Start subscribes to the pad's control, frame and device subjects
func (cs *ControlSubscriber) Start(engine Engine) error {
	cs.engine.Store(&engineRef{engine})
	cs.dispatcher.Store(transport.NewDispatcher(engine))

	subscriptions := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{ControlSubject(cs.padID), cs.handleControlMessage},
		{FramesSubject(cs.padID), cs.handleFrameMessage},
		{DevicesSubject, cs.handleDeviceMessage},
	}

	for _, s := range subscriptions {
		if _, err := cs.natsConn.Subscribe(s.subject, s.handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"pad_id":   cs.padID,
	}).Info("🎧 Subscribed to drum control topics")
	return nil
}

func (cs *ControlSubscriber) currentEngine() Engine {
	if ref := cs.engine.Load(); ref != nil {
		return ref.Engine
	}
	return nil
}

// handleControlMessage processes JSON control commands
func (cs *ControlSubscriber) handleControlMessage(msg *nats.Msg) {
	engine := cs.currentEngine()
	if engine == nil {
		return
	}

	var ctrl ControlMessage
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleControlMessage",
			"error":    err.Error(),
		}).Warn("❌ Failed to unmarshal control message")
		return
	}

	if err := cs.applyControl(engine, ctrl, msg.Reply); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleControlMessage",
			"action":   ctrl.Action,
			"voice":    ctrl.Voice,
			"error":    err.Error(),
		}).Warn("⚠️ Control message rejected")
	}
}

func (cs *ControlSubscriber) applyControl(engine Engine, ctrl ControlMessage, reply string) error {
	switch ctrl.Action {
	case "trigger", "gain", "pan":
		voice, err := kit.ParseVoice(ctrl.Voice)
		if err != nil {
			return err
		}
		switch ctrl.Action {
		case "trigger":
			return engine.Trigger(voice)
		case "gain":
			return engine.SetGain(voice, float32(ctrl.Value))
		default:
			return engine.SetPan(voice, float32(ctrl.Value))
		}
	case "restart":
		return engine.RestartStream()
	case "clear_reset":
		engine.ClearOutputReset()
		return nil
	case "status":
		subject := reply
		if subject == "" {
			subject = StatusSubject(cs.padID)
		}
		return cs.publishStatus(subject, engine.State(), engine.GetOutputReset())
	default:
		return fmt.Errorf("unknown action %q", ctrl.Action)
	}
}

// handleFrameMessage processes binary control frames. A heartbeat with a
// reply subject is answered with a status frame.
func (cs *ControlSubscriber) handleFrameMessage(msg *nats.Msg) {
	engine := cs.currentEngine()
	dispatcher := cs.dispatcher.Load()
	if engine == nil || dispatcher == nil {
		return
	}

	frame, err := transport.DeserializeFrame(msg.Data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFrameMessage",
			"error":    err.Error(),
		}).Warn("❌ Dropping malformed frame")
		return
	}

	if err := dispatcher.Dispatch(frame); err != nil {
		entry := logrus.WithFields(logrus.Fields{
			"function": "handleFrameMessage",
			"type":     frame.Type.String(),
			"sequence": frame.Sequence,
			"error":    err.Error(),
		})
		if errors.Is(err, transport.ErrStaleFrame) {
			entry.Debug("Dropping stale frame")
		} else {
			entry.Warn("⚠️ Frame rejected")
		}
		return
	}

	if frame.Type == transport.FrameTypeHeartbeat && msg.Reply != "" {
		status := transport.NewFrame(
			transport.FrameTypeStatus,
			frame.SessionID,
			cs.sequence.Add(1),
			uint64(time.Now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
			transport.EncodeStatus(uint8(engine.State()), engine.GetOutputReset()), //nolint:gosec // G115: small enum
		)
		data, err := status.Serialize()
		if err == nil {
			err = cs.natsConn.Publish(msg.Reply, data)
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleFrameMessage",
				"error":    err.Error(),
			}).Warn("⚠️ Failed to answer heartbeat")
		}
	}
}

// handleDeviceMessage forwards host device-change broadcasts to the engine
func (cs *ControlSubscriber) handleDeviceMessage(msg *nats.Msg) {
	engine := cs.currentEngine()
	if engine == nil {
		return
	}

	var change DeviceChangeMessage
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDeviceMessage",
			"error":    err.Error(),
		}).Warn("❌ Failed to unmarshal device change message")
		return
	}

	if len(change.Added) == 0 && len(change.Removed) == 0 {
		return
	}
	// broadcasts are diffs; the enumeration snapshot comes from the local monitor
	engine.OnDevicesChanged(toDeviceInfos(change.Added), toDeviceInfos(change.Removed))
}

// OnStateChange publishes the stream status; it has the drums.StateListener signature
func (cs *ControlSubscriber) OnStateChange(state drums.State, outputReset bool) {
	if err := cs.publishStatus(StatusSubject(cs.padID), state, outputReset); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnStateChange",
			"error":    err.Error(),
		}).Warn("⚠️ Failed to publish status")
	}
}

func (cs *ControlSubscriber) publishStatus(subject string, state drums.State, outputReset bool) error {
	data, err := json.Marshal(StatusMessage{
		PadID:       cs.padID,
		State:       state.String(),
		OutputReset: outputReset,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return cs.natsConn.Publish(subject, data)
}

// Close closes the NATS connection
func (cs *ControlSubscriber) Close() {
	if cs.natsConn != nil {
		cs.natsConn.Close()
		logrus.Info("🔌 NATS connection closed")
	}
}

// FramePublisher publishes frames to a pad's frame subject; it lets a
// transport.Client drive a remote engine
type FramePublisher struct {
	natsConn DrumNATSConnection
	subject  string
}

// NewFramePublisher creates a publisher for the pad with the given id
func NewFramePublisher(natsConn DrumNATSConnection, padID string) *FramePublisher {
	return &FramePublisher{natsConn: natsConn, subject: FramesSubject(padID)}
}

// PublishFrame sends one serialized frame
func (p *FramePublisher) PublishFrame(data []byte) error {
	return p.natsConn.Publish(p.subject, data)
}

func toDeviceInfos(msgs []DeviceMessage) []audio.DeviceInfo {
	out := make([]audio.DeviceInfo, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, audio.DeviceInfo{
			Name:              m.Name,
			HostAPI:           m.HostAPI,
			MaxOutputChannels: m.MaxOutputChannels,
			DefaultSampleRate: m.DefaultSampleRate,
		})
	}
	return out
}
