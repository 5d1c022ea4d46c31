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

// Package xsshend contains constants shared across the xsshend tool and
// libraries.
package xsshend

const (
	// Version is the semantic version of the tool.
	Version = "0.5.1"

	// ComponentCatalog is the log component for host catalog operations.
	ComponentCatalog = "catalog"

	// ComponentKeys is the log component for SSH key discovery.
	ComponentKeys = "keys"

	// ComponentSession is the log component for single-target SSH sessions.
	ComponentSession = "session"

	// ComponentTransfer is the log component for the transfer pool and its
	// workers.
	ComponentTransfer = "transfer"

	// ComponentExec is the log component for remote command execution.
	ComponentExec = "exec"

	// ComponentCLI is the log component for the command line front end.
	ComponentCLI = "cli"
)

const (
	// CatalogFileName is the name of the host catalog document inside the
	// user's SSH directory.
	CatalogFileName = "hosts.json"

	// SSHDirName is the per-user SSH directory under the home directory.
	SSHDirName = ".ssh"

	// AgentSocketEnv is the environment variable carrying the path of the
	// SSH agent socket.
	AgentSocketEnv = "SSH_AUTH_SOCK"
)
