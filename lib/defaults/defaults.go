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

// Package defaults holds the tunables shared by the transfer, exec and
// catalog packages.
package defaults

import (
	"os"
	"time"
)

const (
	// ConnectTimeout bounds DNS resolution, TCP connect and the SSH
	// handshake for a single target.
	ConnectTimeout = 10 * time.Second

	// ConnectRetries is how many times a worker attempts to open its
	// session before reporting the target as failed.
	ConnectRetries = 2

	// ConnectRetryBackoff is the pause between connection attempts.
	ConnectRetryBackoff = time.Second

	// CommandTimeout bounds a single remote command when the caller does
	// not override it.
	CommandTimeout = 30 * time.Second

	// ProbeTimeout bounds a single reachability TCP connect.
	ProbeTimeout = 3 * time.Second

	// ProbeConcurrency caps simultaneous reachability probes so a large
	// catalog cannot exhaust file descriptors.
	ProbeConcurrency = 32

	// MaxActiveTransfers caps simultaneously active uploads across the
	// whole pool. Targets beyond the cap queue in Pending.
	MaxActiveTransfers = 10

	// MaxConcurrentCommands caps in-flight sessions in parallel command
	// mode.
	MaxConcurrentCommands = 10

	// ProgressInterval is the minimum spacing between byte-count progress
	// events for one target. Status changes are not delayed.
	ProgressInterval = 50 * time.Millisecond

	// SSHPort is appended to catalog aliases that carry no explicit port.
	SSHPort = "22"

	// RemoteDirMode is the mode used when creating remote parent
	// directories before an upload.
	RemoteDirMode os.FileMode = 0o755

	// DestinationDir is the remote directory used when no destination is
	// given.
	DestinationDir = "/tmp/"

	// CommandOutputLimit bounds the stdout and stderr buffers captured
	// from a remote command.
	CommandOutputLimit = 1 << 20
)
