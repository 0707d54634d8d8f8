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

package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

// FramePublisher delivers serialized frames to a remote engine
type FramePublisher interface {
	PublishFrame(data []byte) error
}

// Client drives a remote engine by sending control frames. It implements
// Engine, so a control surface can use it in place of a local Player.
type Client struct {
	publisher FramePublisher
	sessionID string

	mutex    sync.Mutex
	sequence uint32
	now      func() time.Time
}

// NewClient creates a client with a fresh session
func NewClient(publisher FramePublisher) *Client {
	return &Client{
		publisher: publisher,
		sessionID: generateSessionID(),
		now:       time.Now,
	}
}

// Trigger sends a trigger frame
func (c *Client) Trigger(id kit.VoiceID) error {
	return c.SendFrame(FrameTypeTrigger, EncodeTrigger(id))
}

// SetGain sends a gain frame
func (c *Client) SetGain(id kit.VoiceID, gain float32) error {
	return c.SendFrame(FrameTypeGain, EncodeParameter(id, gain))
}

// SetPan sends a pan frame
func (c *Client) SetPan(id kit.VoiceID, pan float32) error {
	return c.SendFrame(FrameTypePan, EncodeParameter(id, pan))
}

// RestartStream asks the remote engine to restart its output stream
func (c *Client) RestartStream() error {
	return c.SendFrame(FrameTypeRestart, nil)
}

// SendHeartbeat sends an empty heartbeat frame
func (c *Client) SendHeartbeat() error {
	return c.SendFrame(FrameTypeHeartbeat, nil)
}

// SendFrame stamps, serializes and publishes one frame
func (c *Client) SendFrame(frameType FrameType, data []byte) error {
	c.mutex.Lock()
	c.sequence++
	seq := c.sequence
	c.mutex.Unlock()

	frame := NewFrame(
		frameType,
		c.getSessionIDHash(),
		seq,
		uint64(c.now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)

	frameData, err := frame.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	if err := c.publisher.PublishFrame(frameData); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", frameType, err)
	}
	return nil
}

// GetSessionID returns the client's session identifier
func (c *Client) GetSessionID() string {
	return c.sessionID
}

// getSessionIDHash returns a hash of the session ID for frame headers
func (c *Client) getSessionIDHash() uint32 {
	hash := uint32(0)
	for _, b := range []byte(c.sessionID) {
		hash = hash*31 + uint32(b)
	}
	return hash
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	now := time.Now()
	random := rand.Int63n(1000000) //nolint:gosec // G404: Non-cryptographic random OK for session ID
	return fmt.Sprintf("drumpad-%d-%d-%d", now.Unix(), now.Nanosecond(), random)
}
