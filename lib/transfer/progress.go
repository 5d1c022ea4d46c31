/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transfer

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/willisback/xsshend/lib/defaults"
)

// Status is the lifecycle state of one (target, file) transfer. It only
// moves forward: Pending, Connecting, Transferring, then Completed or
// Failed. An explicit retry resets to Pending.
type Status int

const (
	// StatusPending means the transfer is queued behind the concurrency
	// cap.
	StatusPending Status = iota
	// StatusConnecting means the worker is opening its session.
	StatusConnecting
	// StatusTransferring means bytes are moving.
	StatusTransferring
	// StatusCompleted means the upload finished.
	StatusCompleted
	// StatusFailed means the transfer gave up; the event carries the
	// reason.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConnecting:
		return "connecting"
	case StatusTransferring:
		return "transferring"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is one progress update for one target. Events are immutable
// snapshots.
type Event struct {
	// Target is the fully qualified catalog name.
	Target string
	// Alias is the connection string of the target.
	Alias string
	// File is the display name of the file being moved.
	File string
	// Bytes is the cumulative byte count for the current file.
	Bytes int64
	// Total is the size of the current file, zero when unknown.
	Total int64
	// Status is the lifecycle state this event announces.
	Status Status
	// Err carries the failure reason on StatusFailed.
	Err error
}

// maxQueuedEvents bounds a subscriber's backlog; beyond it non-terminal
// events are dropped. Terminal events are always queued.
const maxQueuedEvents = 256

// Subscription is one reader of the bus. Non-terminal events may be
// dropped when the reader lags; terminal events are held until observed.
type Subscription struct {
	events chan Event

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// Events is the stream to read from. The channel closes after the
// subscription is closed and the backlog has drained.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) publish(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if event.Status.Terminal() || len(s.queue) < maxQueuedEvents {
		s.queue = append(s.queue, event)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump forwards queued events to the reader. Only the pump blocks on a
// slow reader; publishers never do.
func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, event := range queue {
			s.events <- event
		}
		if closed {
			// One final sweep: events queued while draining.
			s.mu.Lock()
			queue = s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, event := range queue {
				s.events <- event
			}
			return
		}

		select {
		case <-s.wake:
		case <-s.done:
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
		}
	}
}

// Bus fans progress events out to any number of subscribers. There is one
// writer per target; writers never block.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new reader.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan Event, 64),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.pump()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.publish(event)
	}
}

// Close detaches every subscriber; their streams end after the buffered
// terminal events are observed. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
	for sub := range subs {
		close(sub.done)
	}
}

// emitter is a per-target writing end of the bus: it coalesces byte-count
// updates (Transferring events with a non-zero count) to at most one per
// interval. Pending, Connecting, zero-byte Transferring and terminal events
// always pass.
type emitter struct {
	bus    *Bus
	clock  clockwork.Clock
	target string
	alias  string

	mu   sync.Mutex
	last time.Time
}

func newEmitter(bus *Bus, clock clockwork.Clock, target, alias string) *emitter {
	return &emitter{bus: bus, clock: clock, target: target, alias: alias}
}

func (e *emitter) emit(event Event) {
	event.Target = e.target
	event.Alias = e.alias
	if !event.Status.Terminal() {
		e.mu.Lock()
		now := e.clock.Now()
		if !e.last.IsZero() && now.Sub(e.last) < defaults.ProgressInterval && event.Status == StatusTransferring && event.Bytes > 0 {
			e.mu.Unlock()
			return
		}
		e.last = now
		e.mu.Unlock()
	}
	e.bus.Publish(event)
}

// Progress is the per-target snapshot assembled by the Tracker.
type Progress struct {
	// TargetName is the fully qualified catalog name.
	TargetName string
	// Alias is the connection string.
	Alias string
	// CurrentFile is the file being moved.
	CurrentFile string
	// BytesTransferred counts bytes of the current file.
	BytesTransferred int64
	// TotalBytes is the size of the current file, zero when unknown.
	TotalBytes int64
	// Speed is the observed rate in bytes per second.
	Speed float64
	// ETA estimates the time to completion; valid when HasETA is set.
	ETA    time.Duration
	HasETA bool
	// Status is the last observed lifecycle state.
	Status Status
	// LastError is the failure reason, when failed.
	LastError string
}

type trackerEntry struct {
	progress Progress
	started  time.Time
}

// Tracker folds the event stream into per-target snapshots for display.
// Snapshots are immutable copies; only Observe mutates state.
type Tracker struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*trackerEntry
}

// NewTracker returns an empty tracker.
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock, entries: make(map[string]*trackerEntry)}
}

// Observe folds one event into the tracked state.
func (t *Tracker) Observe(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[event.Target]
	if !ok {
		entry = &trackerEntry{}
		t.entries[event.Target] = entry
	}
	p := &entry.progress
	p.TargetName = event.Target
	if event.Alias != "" {
		p.Alias = event.Alias
	}
	if event.File != "" {
		p.CurrentFile = event.File
	}
	if event.Total > 0 {
		p.TotalBytes = event.Total
	}
	p.Status = event.Status

	switch event.Status {
	case StatusPending:
		p.BytesTransferred = 0
		p.Speed = 0
		p.HasETA = false
		p.LastError = ""
		entry.started = time.Time{}
	case StatusTransferring:
		if entry.started.IsZero() {
			entry.started = t.clock.Now()
		}
		p.BytesTransferred = event.Bytes
		elapsed := t.clock.Now().Sub(entry.started)
		if elapsed > 0 && event.Bytes > 0 {
			p.Speed = float64(event.Bytes) / elapsed.Seconds()
			if p.TotalBytes > event.Bytes && p.Speed > 0 {
				remaining := float64(p.TotalBytes-event.Bytes) / p.Speed
				p.ETA = time.Duration(remaining * float64(time.Second))
				p.HasETA = true
			}
		}
	case StatusCompleted:
		if event.Bytes > 0 {
			p.BytesTransferred = event.Bytes
		} else if p.TotalBytes > 0 {
			p.BytesTransferred = p.TotalBytes
		}
		p.HasETA = false
	case StatusFailed:
		p.HasETA = false
		if event.Err != nil {
			p.LastError = event.Err.Error()
		}
	}
}

// Snapshot returns the tracked state sorted by target name.
func (t *Tracker) Snapshot() []Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Progress, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry.progress)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetName < out[j].TargetName })
	return out
}
