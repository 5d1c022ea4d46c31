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
	"context"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/sshutils"
)

// startTransfer asks a worker to move one file for one catalog target.
// Workers are keyed by alias, so the target travels with the message.
type startTransfer struct {
	target      string
	localPath   string
	remoteDir   string
	displayName string
	totalBytes  int64
}

// Result is what a worker reports back for one transfer.
type Result struct {
	// Target is the fully qualified catalog name.
	Target string
	// Alias is the connection string.
	Alias string
	// File is the display name of the moved file.
	File string
	// Bytes is how much was written on success.
	Bytes int64
	// Err is the failure reason, nil on success.
	Err error
}

// worker is the long-lived per-alias executor. It owns one lazily-opened
// session, processes its inbox strictly in order, and reports one result
// and exactly one terminal progress event per transfer message.
type worker struct {
	alias   string
	user    string
	session sshutils.Session

	inbox   chan startTransfer
	results chan<- Result
	bus     *Bus
	sem     chan struct{}
	clock   clockwork.Clock
	log     log.FieldLogger

	// ctx is cancelled by pool shutdown; in-flight uploads observe it on
	// the next write.
	ctx context.Context

	connected bool
}

func (w *worker) run() {
	defer w.closeSession()
	for {
		select {
		case msg, ok := <-w.inbox:
			if !ok {
				return
			}
			w.handle(msg)
		case <-w.ctx.Done():
			// Drain what was already queued so the pool still collects
			// exactly one result per dispatched message.
			for {
				select {
				case msg, ok := <-w.inbox:
					if !ok {
						return
					}
					w.fail(msg, w.emitter(msg), w.cancelled())
				default:
					return
				}
			}
		}
	}
}

// emitter builds the writing end of the bus for one message's target.
func (w *worker) emitter(msg startTransfer) *emitter {
	return newEmitter(w.bus, w.clock, msg.target, w.alias)
}

// cancelled wraps the run context error as the typed cancellation kind.
func (w *worker) cancelled() error {
	return &sshutils.PoolCancelledError{Err: w.ctx.Err()}
}

// handle processes one transfer message, converting panics into a failed
// result so the worker keeps serving its inbox.
func (w *worker) handle(msg startTransfer) {
	em := w.emitter(msg)
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("Worker panic recovered: %v.", r)
			w.fail(msg, em, trace.BadParameter("internal error: %v", r))
		}
	}()

	// Wait for a transfer slot; queued targets stay in Pending.
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		w.fail(msg, em, w.cancelled())
		return
	}
	defer func() { <-w.sem }()

	em.emit(Event{File: msg.displayName, Total: msg.totalBytes, Status: StatusConnecting})

	if err := w.connect(); err != nil {
		w.fail(msg, em, err)
		return
	}

	// The destination is expanded per target: the login and remote home
	// differ across a heterogeneous fleet.
	remoteDir := sshutils.ExpandPath(msg.remoteDir, w.user, w.session.RemoteHome())

	em.emit(Event{File: msg.displayName, Total: msg.totalBytes, Status: StatusTransferring})
	written, err := w.session.Upload(w.ctx, msg.localPath, remoteDir, func(bytes int64) {
		em.emit(Event{
			File:   msg.displayName,
			Bytes:  bytes,
			Total:  msg.totalBytes,
			Status: StatusTransferring,
		})
	})
	if err != nil {
		// A broken transfer leaves the transport in an unknown state;
		// drop it so the next message reopens a fresh one.
		w.closeSession()
		if w.ctx.Err() != nil {
			err = w.cancelled()
		}
		w.fail(msg, em, err)
		return
	}

	em.emit(Event{
		File:   msg.displayName,
		Bytes:  written,
		Total:  msg.totalBytes,
		Status: StatusCompleted,
	})
	w.results <- Result{
		Target: msg.target,
		Alias:  w.alias,
		File:   msg.displayName,
		Bytes:  written,
	}
}

// connect opens the session, retrying transient failures with a fixed
// backoff.
func (w *worker) connect() error {
	if w.connected {
		return nil
	}
	var err error
	for attempt := 1; attempt <= defaults.ConnectRetries; attempt++ {
		err = w.session.Connect(w.ctx)
		if err == nil {
			w.connected = true
			w.log.Debugf("Session opened on attempt %v.", attempt)
			return nil
		}
		if w.ctx.Err() != nil {
			return w.cancelled()
		}
		w.log.Debugf("Connect attempt %v failed: %v.", attempt, err)
		if attempt < defaults.ConnectRetries {
			select {
			case <-w.clock.After(defaults.ConnectRetryBackoff):
			case <-w.ctx.Done():
				return w.cancelled()
			}
		}
	}
	return trace.Wrap(err, "connection failed after %v attempts", defaults.ConnectRetries)
}

// fail emits the terminal failure event and the matching result.
func (w *worker) fail(msg startTransfer, em *emitter, err error) {
	em.emit(Event{File: msg.displayName, Total: msg.totalBytes, Status: StatusFailed, Err: err})
	w.results <- Result{
		Target: msg.target,
		Alias:  w.alias,
		File:   msg.displayName,
		Err:    err,
	}
}

func (w *worker) closeSession() {
	if w.connected {
		if err := w.session.Disconnect(); err != nil {
			w.log.Debugf("Disconnect: %v.", err)
		}
		w.connected = false
	}
}
