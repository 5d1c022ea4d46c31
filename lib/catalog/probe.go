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

package catalog

import (
	"context"
	"net"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/utils"
)

// ProbeConfig tunes the reachability sweep.
type ProbeConfig struct {
	// Timeout bounds a single TCP connect.
	Timeout time.Duration
	// Concurrency caps simultaneous probes.
	Concurrency int
	// Dial overrides the dialer, used in tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// CheckAndSetDefaults fills unset fields.
func (c *ProbeConfig) CheckAndSetDefaults() error {
	if c.Timeout < 0 {
		return trace.BadParameter("probe timeout must not be negative")
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.ProbeTimeout
	}
	if c.Concurrency < 0 {
		return trace.BadParameter("probe concurrency must not be negative")
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaults.ProbeConcurrency
	}
	if c.Dial == nil {
		c.Dial = (&net.Dialer{}).DialContext
	}
	return nil
}

// Probe attempts one bounded TCP connect per target and returns the subset
// that accepted, preserving input order. Results are advisory: a transient
// drop may hide a live host, and they must not be reused beyond the current
// run.
func Probe(ctx context.Context, targets []Target, cfg ProbeConfig) ([]Target, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	logger := log.WithField(trace.Component, xsshend.ComponentCatalog)

	online := make([]bool, len(targets))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Concurrency)
	for i, target := range targets {
		i, target := i, target
		group.Go(func() error {
			_, hostport, err := target.Parse()
			if err != nil {
				logger.WithError(err).Debugf("Skipping unparseable alias for %v.", target.Name)
				return nil
			}
			dialCtx, cancel := context.WithTimeout(groupCtx, cfg.Timeout)
			defer cancel()
			conn, err := cfg.Dial(dialCtx, "tcp", utils.EnsurePort(hostport, defaults.SSHPort))
			if err != nil {
				logger.Debugf("Host %v is unreachable: %v.", target.Name, err)
				return nil
			}
			conn.Close()
			online[i] = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	out := make([]Target, 0, len(targets))
	for i, ok := range online {
		if ok {
			out = append(out, targets[i])
		}
	}
	logger.Debugf("Reachability sweep: %v/%v hosts online.", len(out), len(targets))
	return out, nil
}
