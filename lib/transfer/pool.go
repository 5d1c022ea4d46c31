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

// Package transfer implements the fan-out upload engine: one long-lived
// worker per target, a shared result channel, and a progress bus the
// front end observes.
package transfer

import (
	"context"
	"os"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/sshutils"
)

// PoolConfig describes one broadcast fleet.
type PoolConfig struct {
	// Selection is the ordered list of targets.
	Selection []catalog.Target
	// Auth builds authentication methods for every session.
	Auth *sshutils.AuthResolver
	// Dial overrides session construction, used in tests.
	Dial sshutils.DialFunc
	// Bus receives progress events. A new bus is created when unset.
	Bus *Bus
	// Clock drives retry backoff and coalescing.
	Clock clockwork.Clock
	// MaxActive caps simultaneously active transfers.
	MaxActive int
	// Log optionally overrides the logger.
	Log log.FieldLogger
}

// CheckAndSetDefaults fills unset fields.
func (c *PoolConfig) CheckAndSetDefaults() error {
	if len(c.Selection) == 0 {
		return trace.BadParameter("empty selection")
	}
	if c.Dial == nil {
		if c.Auth == nil {
			return trace.BadParameter("missing auth resolver")
		}
		c.Dial = sshutils.NewSession
	}
	if c.Bus == nil {
		c.Bus = NewBus()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxActive == 0 {
		c.MaxActive = defaults.MaxActiveTransfers
	}
	if c.MaxActive < 0 {
		return trace.BadParameter("transfer cap must be positive")
	}
	if c.Log == nil {
		c.Log = log.WithField(trace.Component, xsshend.ComponentTransfer)
	}
	return nil
}

// UploadResult aggregates one broadcast.
type UploadResult struct {
	// Succeeded lists the targets that completed.
	Succeeded []string
	// FailedTargets lists the targets that did not, with reasons.
	FailedTargets map[string]error
	// Bytes totals the bytes written across successful targets.
	Bytes int64
}

// Pool owns the worker fleet for a broadcast operation. One worker runs
// per distinct alias; messages to the same alias queue FIFO.
type Pool struct {
	cfg PoolConfig

	ctx    context.Context
	cancel context.CancelFunc

	// workers is keyed by alias; dispatch maps each selection entry to
	// its worker. emitters is keyed by target name for the pool-side
	// Pending and dispatch-failure events.
	workers  map[string]*worker
	emitters map[string]*emitter
	results  chan Result
	sem      chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool builds and starts one worker per distinct alias of the
// selection. Sessions are opened lazily by the first transfer.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]*worker),
		emitters: make(map[string]*emitter),
		results:  make(chan Result, len(cfg.Selection)),
		sem:      make(chan struct{}, cfg.MaxActive),
	}

	for _, target := range cfg.Selection {
		alias := target.Entry.Alias
		p.emitters[target.Name] = newEmitter(cfg.Bus, cfg.Clock, target.Name, alias)
		if _, ok := p.workers[alias]; ok {
			continue
		}
		user, hostport, err := target.Parse()
		if err != nil {
			cancel()
			return nil, trace.Wrap(err)
		}
		session, err := cfg.Dial(sshutils.SessionConfig{
			User:     user,
			HostPort: hostport,
			Auth:     cfg.Auth,
		})
		if err != nil {
			cancel()
			return nil, trace.Wrap(err)
		}
		w := &worker{
			alias:   alias,
			user:    user,
			session: session,
			inbox:   make(chan startTransfer, 16),
			results: p.results,
			bus:     cfg.Bus,
			sem:     p.sem,
			clock:   cfg.Clock,
			ctx:     ctx,
			log:     cfg.Log.WithField("alias", alias),
		}
		p.workers[alias] = w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
	cfg.Log.Debugf("Pool initialized with %v workers for %v targets.",
		len(p.workers), len(cfg.Selection))
	return p, nil
}

// Bus returns the progress bus readers subscribe to.
func (p *Pool) Bus() *Bus { return p.cfg.Bus }

// UploadFile broadcasts one local file to every target of the selection
// and blocks until every target reported. The broadcast succeeds when at
// least one target completed; the result enumerates the targets that did
// not.
func (p *Pool) UploadFile(localPath, destDir, displayName string) (*UploadResult, error) {
	if p.ctx.Err() != nil {
		return nil, trace.Wrap(p.ctx.Err(), "pool is stopped")
	}

	var totalBytes int64
	if fi, err := os.Stat(localPath); err == nil {
		totalBytes = fi.Size()
	}

	// Every target starts out Pending; workers take over from there.
	result := &UploadResult{FailedTargets: make(map[string]error)}
	dispatched := 0
	for _, target := range p.cfg.Selection {
		w := p.workers[target.Entry.Alias]
		em := p.emitters[target.Name]
		em.emit(Event{File: displayName, Total: totalBytes, Status: StatusPending})
		select {
		case w.inbox <- startTransfer{
			target:      target.Name,
			localPath:   localPath,
			remoteDir:   destDir,
			displayName: displayName,
			totalBytes:  totalBytes,
		}:
			dispatched++
		case <-p.ctx.Done():
			err := &sshutils.PoolCancelledError{Err: p.ctx.Err()}
			em.emit(Event{File: displayName, Status: StatusFailed, Err: err})
			result.FailedTargets[target.Name] = err
		}
	}
	for i := 0; i < dispatched; i++ {
		r := <-p.results
		if r.Err != nil {
			result.FailedTargets[r.Target] = r.Err
		} else {
			result.Succeeded = append(result.Succeeded, r.Target)
			result.Bytes += r.Bytes
		}
	}

	if len(result.Succeeded) == 0 {
		return result, trace.Errorf("upload of %v failed on all %v targets",
			displayName, len(p.cfg.Selection))
	}
	p.cfg.Log.Debugf("Broadcast of %v finished: %v/%v targets succeeded.",
		displayName, len(result.Succeeded), len(p.cfg.Selection))
	return result, nil
}

// Stop shuts the fleet down: in-flight transfers fail as cancelled,
// workers close their sessions and exit, leftover results are drained.
// Stop is safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		for _, w := range p.workers {
			close(w.inbox)
		}
		p.wg.Wait()
		for {
			select {
			case <-p.results:
			default:
				p.cfg.Bus.Close()
				return
			}
		}
	})
}
