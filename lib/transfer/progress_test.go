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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestStatusLifecycle(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusConnecting.Terminal())
	require.False(t, StatusTransferring.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.Equal(t, "transferring", StatusTransferring.String())
}

func TestBusDeliversInOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe()
	bus.Publish(Event{Target: "a", Status: StatusPending})
	bus.Publish(Event{Target: "a", Status: StatusConnecting})
	bus.Publish(Event{Target: "a", Status: StatusCompleted})
	bus.Close()

	var got []Status
	for event := range sub.Events() {
		got = append(got, event.Status)
	}
	require.Equal(t, []Status{StatusPending, StatusConnecting, StatusCompleted}, got)
}

func TestBusNeverBlocksWriterAndKeepsTerminals(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe()

	// A reader that never drains: flood well past every buffer with
	// non-terminal noise, then the terminals. Publish must return.
	for i := 0; i < 10*maxQueuedEvents; i++ {
		bus.Publish(Event{Target: "t", Bytes: int64(i), Status: StatusTransferring})
	}
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Target: fmt.Sprintf("t%d", i), Status: StatusCompleted})
	}
	bus.Close()

	terminals := 0
	for event := range sub.Events() {
		if event.Status.Terminal() {
			terminals++
		}
	}
	// Intermediate events may be dropped, terminal ones never are.
	require.Equal(t, 5, terminals)
}

func TestBusLateSubscriberAfterClose(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	bus.Close()
	sub := bus.Subscribe()
	_, ok := <-sub.Events()
	require.False(t, ok)
}

func TestEmitterCoalesces(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	bus := NewBus()
	sub := bus.Subscribe()
	em := newEmitter(bus, clock, "target", "user@host")

	// A burst of byte updates within the interval collapses to the first
	// one; terminal events always pass.
	em.emit(Event{Status: StatusTransferring, Bytes: 1})
	em.emit(Event{Status: StatusTransferring, Bytes: 2})
	em.emit(Event{Status: StatusTransferring, Bytes: 3})
	clock.Advance(100 * time.Millisecond)
	em.emit(Event{Status: StatusTransferring, Bytes: 4})
	em.emit(Event{Status: StatusCompleted, Bytes: 5})
	bus.Close()

	var got []int64
	for event := range sub.Events() {
		got = append(got, event.Bytes)
	}
	require.Equal(t, []int64{1, 4, 5}, got)
}

func TestTrackerSnapshots(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tracker := NewTracker(clock)

	tracker.Observe(Event{Target: "b", Alias: "u@b", File: "f", Total: 100, Status: StatusPending})
	tracker.Observe(Event{Target: "a", Alias: "u@a", File: "f", Total: 100, Status: StatusPending})
	tracker.Observe(Event{Target: "a", Status: StatusConnecting})
	tracker.Observe(Event{Target: "a", Bytes: 0, Status: StatusTransferring})
	clock.Advance(2 * time.Second)
	tracker.Observe(Event{Target: "a", Bytes: 50, Status: StatusTransferring})

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	// Sorted by target name.
	require.Equal(t, "a", snap[0].TargetName)
	require.Equal(t, int64(50), snap[0].BytesTransferred)
	require.Equal(t, int64(100), snap[0].TotalBytes)
	require.InDelta(t, 25.0, snap[0].Speed, 0.1)
	require.True(t, snap[0].HasETA)
	require.InDelta(t, 2.0, snap[0].ETA.Seconds(), 0.1)
	require.Equal(t, StatusPending, snap[1].Status)

	tracker.Observe(Event{Target: "a", Bytes: 100, Status: StatusCompleted})
	tracker.Observe(Event{Target: "b", Status: StatusFailed, Err: errors.New("dns failure")})
	snap = tracker.Snapshot()
	require.Equal(t, StatusCompleted, snap[0].Status)
	require.False(t, snap[0].HasETA)
	require.Equal(t, StatusFailed, snap[1].Status)
	require.Equal(t, "dns failure", snap[1].LastError)
}
