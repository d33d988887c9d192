// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity tracks whether the remote is reachable and tells
// subscribers when that changes.
package connectivity

import (
	"sync"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

// Monitor holds the current online state. Subscribers hear transitions
// only; setting the same state twice is silent.
type Monitor struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]func(bool)
	nextID    int
}

var _ cartsync.Connectivity = (*Monitor)(nil)

func NewMonitor(initial bool) *Monitor {
	return &Monitor{connected: initial, subs: make(map[int]func(bool))}
}

func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Set records the current state and reports whether it changed.
func (m *Monitor) Set(connected bool) bool {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return false
	}
	m.connected = connected
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
	return true
}

func (m *Monitor) Subscribe(fn func(connected bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
