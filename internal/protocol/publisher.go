// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetLogger("protocol")
		log = &l
	})
	return log
}

// Publisher delivers orchestrator events to interested consumers. Publish
// must never block pipeline progress: implementations drop events they
// cannot accept immediately.
type Publisher interface {
	Publish(event Event)
}

// ChannelPublisher buffers events on a channel consumed by the API layer's
// broadcaster. When the buffer is full the event is dropped and logged;
// the pipeline never waits on slow consumers.
type ChannelPublisher struct {
	events chan Event

	closeOnce sync.Once
}

// NewChannelPublisher creates a publisher with the given buffer size.
func NewChannelPublisher(bufferSize int) *ChannelPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelPublisher{
		events: make(chan Event, bufferSize),
	}
}

// Publish enqueues the event, dropping it if the buffer is full.
func (p *ChannelPublisher) Publish(event Event) {
	select {
	case p.events <- event:
	default:
		meta := event.GetMetadata()
		getLog().Warn().
			Str("project_id", meta.ProjectID).
			Str("task_id", meta.TaskID).
			Msg("Event buffer full, dropping event")
	}
}

// Events returns the receive side for the broadcaster.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.events
}

// Close closes the event channel. Publish must not be called after Close.
func (p *ChannelPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.events)
	})
}

// NopPublisher discards every event. Used in tests and CLI commands that
// run pipeline operations without an API layer attached.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
