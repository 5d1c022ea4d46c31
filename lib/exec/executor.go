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

// Package exec runs one shell command across a selection of targets,
// sequentially or in bounded parallel, and renders the per-host results.
package exec

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/catalog"
	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/sshutils"
)

// Result is the outcome of one command on one host. It is produced once
// and never mutated.
type Result struct {
	// Host is the fully qualified catalog name.
	Host string
	// ExitCode is the remote status; meaningless when TimedOut is set.
	ExitCode int
	// Stdout and Stderr are the captured streams, possibly partial on
	// timeout.
	Stdout string
	Stderr string
	// Duration is the wall time of the whole attempt.
	Duration time.Duration
	// Success means the command ran and exited zero.
	Success bool
	// TimedOut means the per-host deadline fired; there is no exit code.
	TimedOut bool
	// Err is set when the host could not be reached or the command could
	// not run at all.
	Err error
}

// Config describes one fan-out execution.
type Config struct {
	// Command is the shell command to run.
	Command string
	// Hosts is the selection.
	Hosts []catalog.Target
	// Parallel runs up to MaxConcurrent sessions at once instead of one
	// after another.
	Parallel bool
	// Timeout bounds each host's command.
	Timeout time.Duration
	// MaxConcurrent caps in-flight sessions in parallel mode.
	MaxConcurrent int
	// Auth builds authentication methods for every session.
	Auth *sshutils.AuthResolver
	// Dial overrides session construction, used in tests.
	Dial sshutils.DialFunc
	// OnResult, when set, observes each result as it completes.
	OnResult func(Result)
	// Log optionally overrides the logger.
	Log log.FieldLogger
}

// CheckAndSetDefaults fills unset fields.
func (c *Config) CheckAndSetDefaults() error {
	if c.Command == "" {
		return trace.BadParameter("missing command")
	}
	if len(c.Hosts) == 0 {
		return trace.BadParameter("empty selection")
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.CommandTimeout
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = defaults.MaxConcurrentCommands
	}
	if c.Dial == nil {
		if c.Auth == nil {
			return trace.BadParameter("missing auth resolver")
		}
		c.Dial = sshutils.NewSession
	}
	if c.Log == nil {
		c.Log = log.WithField(trace.Component, xsshend.ComponentExec)
	}
	return nil
}

// Executor fans one command out across the selection.
type Executor struct {
	cfg Config
}

// NewExecutor validates the configuration.
func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Executor{cfg: cfg}, nil
}

// Run executes the command on every host and returns one result per host.
// Per-host failures never abort the sweep. In sequential mode results
// arrive in selection order; in parallel mode in completion order.
func (e *Executor) Run(ctx context.Context) ([]Result, error) {
	if e.cfg.Parallel {
		return e.runParallel(ctx)
	}
	return e.runSequential(ctx)
}

func (e *Executor) runSequential(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(e.cfg.Hosts))
	for _, host := range e.cfg.Hosts {
		if err := ctx.Err(); err != nil {
			return results, trace.Wrap(err)
		}
		result := e.runOnHost(ctx, host)
		if e.cfg.OnResult != nil {
			e.cfg.OnResult(result)
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Executor) runParallel(ctx context.Context) ([]Result, error) {
	var mu sync.Mutex
	results := make([]Result, 0, len(e.cfg.Hosts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.MaxConcurrent)
	for _, host := range e.cfg.Hosts {
		host := host
		group.Go(func() error {
			result := e.runOnHost(groupCtx, host)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			if e.cfg.OnResult != nil {
				e.cfg.OnResult(result)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, trace.Wrap(err)
	}
	return results, nil
}

// runOnHost opens a session, runs the command once and closes the session.
// Every failure mode folds into the host's result record.
func (e *Executor) runOnHost(ctx context.Context, host catalog.Target) Result {
	start := time.Now()
	result := Result{Host: host.Name}

	fail := func(err error) Result {
		result.Duration = time.Since(start)
		result.Err = err
		return result
	}

	user, hostport, err := host.Parse()
	if err != nil {
		return fail(trace.Wrap(err))
	}
	session, err := e.cfg.Dial(sshutils.SessionConfig{
		User:     user,
		HostPort: hostport,
		Auth:     e.cfg.Auth,
	})
	if err != nil {
		return fail(trace.Wrap(err))
	}
	defer session.Disconnect()

	if err := session.Connect(ctx); err != nil {
		e.cfg.Log.Debugf("Connect to %v failed: %v.", host.Name, err)
		return fail(err)
	}

	output, err := session.RunCommand(ctx, e.cfg.Command, e.cfg.Timeout)
	result.Duration = time.Since(start)
	if err != nil {
		var timeoutErr *sshutils.CommandTimeoutError
		if errors.As(err, &timeoutErr) {
			result.TimedOut = true
			result.Stdout = string(timeoutErr.Stdout)
			result.Stderr = string(timeoutErr.Stderr)
			return result
		}
		result.Err = err
		return result
	}

	result.ExitCode = output.ExitCode
	result.Stdout = string(output.Stdout)
	result.Stderr = string(output.Stderr)
	result.Success = output.ExitCode == 0
	return result
}
