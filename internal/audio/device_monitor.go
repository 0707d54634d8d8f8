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

package audio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DeviceListener receives output-device topology changes.
type DeviceListener interface {
	OnDevicesAdded(devices []DeviceInfo)
	OnDevicesRemoved(devices []DeviceInfo)
}

// DeviceMonitor polls a DeviceLister and reports differences between
// successive snapshots. The first successful poll reports the full device
// list through OnDevicesAdded, the way platform notifiers announce the
// devices present at registration.
type DeviceMonitor struct {
	mu       sync.Mutex
	lister   DeviceLister
	listener DeviceListener
	interval time.Duration
	known    map[string]DeviceInfo
	primed   bool
}

// DefaultDevicePollInterval is used when NewDeviceMonitor is given a non-positive interval
const DefaultDevicePollInterval = time.Second

// NewDeviceMonitor creates a monitor. Nothing is polled until Poll or Run is called.
func NewDeviceMonitor(lister DeviceLister, listener DeviceListener, interval time.Duration) *DeviceMonitor {
	if interval <= 0 {
		interval = DefaultDevicePollInterval
	}
	return &DeviceMonitor{
		lister:   lister,
		listener: listener,
		interval: interval,
		known:    make(map[string]DeviceInfo),
	}
}

// Poll takes one snapshot and notifies the listener of any change.
// Listener callbacks run on the caller's goroutine after the monitor's
// lock is released.
func (m *DeviceMonitor) Poll() error {
	devices, err := m.lister.Devices()
	if err != nil {
		return err
	}

	current := make(map[string]DeviceInfo, len(devices))
	for _, d := range devices {
		current[d.Key()] = d
	}

	m.mu.Lock()
	var added, removed []DeviceInfo
	for key, d := range current {
		if _, ok := m.known[key]; !ok {
			added = append(added, d)
		}
	}
	for key, d := range m.known {
		if _, ok := current[key]; !ok {
			removed = append(removed, d)
		}
	}
	first := !m.primed
	m.primed = true
	m.known = current
	m.mu.Unlock()

	sortDevices(added)
	sortDevices(removed)

	// The initial snapshot is always announced, even when empty
	if first || len(added) > 0 {
		m.listener.OnDevicesAdded(added)
	}
	if len(removed) > 0 {
		m.listener.OnDevicesRemoved(removed)
	}
	return nil
}

// Run polls until ctx is cancelled. Poll errors are logged and polling continues.
func (m *DeviceMonitor) Run(ctx context.Context) error {
	if err := m.Poll(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeviceMonitor.Run",
			"error":    err.Error(),
		}).Warn("Device enumeration failed")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Poll(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "DeviceMonitor.Run",
					"error":    err.Error(),
				}).Debug("Device poll failed")
			}
		}
	}
}

func sortDevices(devices []DeviceInfo) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Key() < devices[j].Key()
	})
}
